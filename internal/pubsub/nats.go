package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSBroker uses channel names as NATS subjects.
type NATSBroker struct {
	conn *nats.Conn
	log  *zap.Logger
}

func ConnectNATS(url string, log *zap.Logger) (*NATSBroker, error) {
	conn, err := nats.Connect(url,
		nats.Name("bisoncoders-chat"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSBroker{conn: conn, log: log}, nil
}

func (b *NATSBroker) Publish(_ context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(env.Channel, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", env.Channel, err)
	}
	return nil
}

func (b *NATSBroker) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	s := &natsSubscription{
		conn: b.conn,
		log:  b.log,
		sink: newSink(defaultBuffer),
		subs: make(map[string]*nats.Subscription),
	}
	if err := s.Add(ctx, channels...); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (b *NATSBroker) Close() error {
	return b.conn.Drain()
}

type natsSubscription struct {
	conn *nats.Conn
	log  *zap.Logger
	sink *sink

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

func (s *natsSubscription) Events() <-chan Envelope { return s.sink.events }

func (s *natsSubscription) handle(m *nats.Msg) {
	var env Envelope
	if err := json.Unmarshal(m.Data, &env); err != nil {
		s.log.Warn("dropping malformed envelope", zap.String("subject", m.Subject), zap.Error(err))
		return
	}
	s.sink.deliver(env)
}

func (s *natsSubscription) Add(_ context.Context, channels ...string) error {
	if s.sink.isClosed() {
		return ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range channels {
		if _, ok := s.subs[ch]; ok {
			continue
		}
		sub, err := s.conn.Subscribe(ch, s.handle)
		if err != nil {
			return fmt.Errorf("nats subscribe %s: %w", ch, err)
		}
		s.subs[ch] = sub
	}
	return nil
}

func (s *natsSubscription) Remove(_ context.Context, channels ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range channels {
		if sub, ok := s.subs[ch]; ok {
			_ = sub.Unsubscribe()
			delete(s.subs, ch)
		}
	}
	return nil
}

func (s *natsSubscription) Close() error {
	s.mu.Lock()
	for ch, sub := range s.subs {
		_ = sub.Unsubscribe()
		delete(s.subs, ch)
	}
	s.mu.Unlock()
	s.sink.close()
	return nil
}
