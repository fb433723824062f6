package pubsub

import (
	"context"
	"sync"
)

// MemoryBroker is an in-process broker. It backs single-node deployments
// (PUBSUB_DRIVER=memory) and tests.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySubscription]struct{}
	buffer int
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		subs:   make(map[string]map[*memorySubscription]struct{}),
		buffer: defaultBuffer,
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	targets := make([]*memorySubscription, 0, len(b.subs[env.Channel]))
	for s := range b.subs[env.Channel] {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		s.sink.deliver(env)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	s := &memorySubscription{broker: b, sink: newSink(b.buffer), channels: make(map[string]struct{})}
	if err := s.Add(ctx, channels...); err != nil {
		return nil, err
	}
	return s, nil
}

func (b *MemoryBroker) Close() error { return nil }

// Subscribers reports how many subscriptions listen on channel.
func (b *MemoryBroker) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

type memorySubscription struct {
	broker   *MemoryBroker
	sink     *sink
	mu       sync.Mutex
	channels map[string]struct{}
}

func (s *memorySubscription) Events() <-chan Envelope { return s.sink.events }

func (s *memorySubscription) Add(_ context.Context, channels ...string) error {
	if s.sink.isClosed() {
		return ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	for _, ch := range channels {
		if s.broker.subs[ch] == nil {
			s.broker.subs[ch] = make(map[*memorySubscription]struct{})
		}
		s.broker.subs[ch][s] = struct{}{}
		s.channels[ch] = struct{}{}
	}
	return nil
}

func (s *memorySubscription) Remove(_ context.Context, channels ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	for _, ch := range channels {
		s.broker.unsubscribeLocked(ch, s)
		delete(s.channels, ch)
	}
	return nil
}

func (s *memorySubscription) Close() error {
	s.mu.Lock()
	s.broker.mu.Lock()
	for ch := range s.channels {
		s.broker.unsubscribeLocked(ch, s)
	}
	s.channels = map[string]struct{}{}
	s.broker.mu.Unlock()
	s.mu.Unlock()
	s.sink.close()
	return nil
}

func (b *MemoryBroker) unsubscribeLocked(channel string, s *memorySubscription) {
	set := b.subs[channel]
	if set == nil {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(b.subs, channel)
	}
}
