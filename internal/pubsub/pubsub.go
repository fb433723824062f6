// Package pubsub is the narrow publish/subscribe capability the chat core
// depends on. The delivery gateway publishes through it and every websocket
// session subscribes through it, so the protocol logic never touches a
// concrete transport.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrClosed is returned when using a subscription after Close.
var ErrClosed = errors.New("pubsub: subscription closed")

// Envelope is what travels on a channel.
type Envelope struct {
	Channel   string          `json:"channel"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope marshals payload into an envelope for channel.
func NewEnvelope(channel, event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Envelope{
		Channel:   channel,
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Subscription receives envelopes for a changing set of channels. Events is
// closed after Close.
type Subscription interface {
	Events() <-chan Envelope
	Add(ctx context.Context, channels ...string) error
	Remove(ctx context.Context, channels ...string) error
	Close() error
}

type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
}

type Broker interface {
	Publisher
	Subscriber
	Close() error
}

// sink owns the events channel of a subscription and makes sends safe
// against a concurrent close. Slow consumers lose events rather than block
// the transport.
type sink struct {
	mu     sync.RWMutex
	events chan Envelope
	closed bool
}

func newSink(buffer int) *sink {
	return &sink{events: make(chan Envelope, buffer)}
}

func (s *sink) deliver(env Envelope) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- env:
		return true
	default:
		return false
	}
}

func (s *sink) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.events)
	return true
}

func (s *sink) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

const defaultBuffer = 256
