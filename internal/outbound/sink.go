package outbound

import (
	"context"
	"sync"

	"FundLedger/internal/event"
)

// Sink delivers one event to a downstream transport.
type Sink interface {
	Name() string
	Publish(ctx context.Context, evt event.BatchEvent) error
	Close() error
}

// NopSink discards events. Used when events.backend is "none".
type NopSink struct{}

func (NopSink) Name() string { return "none" }

func (NopSink) Publish(ctx context.Context, evt event.BatchEvent) error { return nil }

func (NopSink) Close() error { return nil }

// MemorySink keeps published events in memory for tests and local runs.
type MemorySink struct {
	mu     sync.Mutex
	events []event.BatchEvent
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Name() string { return "memory" }

func (s *MemorySink) Publish(ctx context.Context, evt event.BatchEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *MemorySink) Close() error { return nil }

// Events returns a copy of everything published so far.
func (s *MemorySink) Events() []event.BatchEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.BatchEvent, len(s.events))
	copy(out, s.events)
	return out
}
