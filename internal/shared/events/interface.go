package events

import (
	"context"
	"sync"
)

// EventBus publishes domain events to downstream consumers
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	Close()
	Health() error
}

// MemoryBus keeps published events in memory. It backs the service when
// KurrentDB is not configured and lets tests assert on what was published.
type MemoryBus struct {
	mu     sync.RWMutex
	events []Event
	err    error
}

// NewMemoryBus creates an empty in-memory bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.events = append(b.events, event)
	return nil
}

// FailWith makes every subsequent Publish return err. Pass nil to recover.
func (b *MemoryBus) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// Events returns a copy of everything published so far
func (b *MemoryBus) Events() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// OfType returns published events with the given type
func (b *MemoryBus) OfType(eventType string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, e := range b.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (b *MemoryBus) Close() {}

func (b *MemoryBus) Health() error { return nil }

var (
	_ EventBus = (*Bus)(nil)
	_ EventBus = (*MemoryBus)(nil)
)
