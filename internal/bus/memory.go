package bus

import (
	"context"
	"sync"
)

// Memory is an in-process Bus used by tests and the replay driver (which
// runs with publishing disabled but still needs a concrete Bus to wire
// into the shard for compile-time symmetry with production).
type Memory struct {
	mu   sync.RWMutex
	subs map[string][]*memorySub
}

type memorySub struct {
	subject string
	handler func([]byte)
	bus     *Memory
}

func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subs[s.subject]
	for i, sub := range subs {
		if sub == s {
			s.bus.subs[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

// NewMemory constructs an empty in-process bus.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string][]*memorySub)}
}

func (m *Memory) Publish(ctx context.Context, subject string, payload []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	m.mu.RLock()
	subs := append([]*memorySub(nil), m.subs[subject]...)
	m.mu.RUnlock()
	for _, s := range subs {
		s.handler(payload)
	}
	return nil
}

func (m *Memory) Subscribe(subject string, handler func([]byte)) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := &memorySub{subject: subject, handler: handler, bus: m}
	m.subs[subject] = append(m.subs[subject], sub)
	return sub, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = make(map[string][]*memorySub)
	return nil
}
