package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroker publishes envelopes as JSON on Redis channels named exactly
// like the chat/user channels.
type RedisBroker struct {
	client redis.UniversalClient
	log    *zap.Logger
}

func NewRedisBroker(client redis.UniversalClient, log *zap.Logger) *RedisBroker {
	return &RedisBroker{client: client, log: log}
}

func (b *RedisBroker) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, env.Channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", env.Channel, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, channels...)
	if len(channels) > 0 {
		// Wait for the subscribe confirmation so nothing published right
		// after Subscribe returns is missed.
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return nil, fmt.Errorf("redis subscribe: %w", err)
		}
	}
	s := &redisSubscription{ps: ps, sink: newSink(defaultBuffer), log: b.log}
	go s.pump()
	return s, nil
}

func (b *RedisBroker) Close() error { return nil }

type redisSubscription struct {
	ps   *redis.PubSub
	sink *sink
	log  *zap.Logger
}

func (s *redisSubscription) pump() {
	defer s.sink.close()
	for msg := range s.ps.Channel() {
		var env Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			s.log.Warn("dropping malformed envelope", zap.String("channel", msg.Channel), zap.Error(err))
			continue
		}
		if env.Channel == "" {
			env.Channel = msg.Channel
		}
		if !s.sink.deliver(env) {
			s.log.Warn("subscriber too slow, event dropped", zap.String("channel", msg.Channel))
		}
	}
}

func (s *redisSubscription) Events() <-chan Envelope { return s.sink.events }

func (s *redisSubscription) Add(ctx context.Context, channels ...string) error {
	if s.sink.isClosed() {
		return ErrClosed
	}
	return s.ps.Subscribe(ctx, channels...)
}

func (s *redisSubscription) Remove(ctx context.Context, channels ...string) error {
	if s.sink.isClosed() {
		return ErrClosed
	}
	return s.ps.Unsubscribe(ctx, channels...)
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}
