// Package events publishes strike lifecycle events to downstream consumers.
package events

import (
	"context"
	"sync"
	"time"
)

// Event types. Each is also the default topic suffix.
const (
	TypeStrikeCompleted = "strike.completed"
	TypeOrderExecuted   = "order.executed"
	TypeOrderFailed     = "order.failed"
	TypeLateSettlement  = "settlement.late"
	TypeOrderRequeued   = "order.requeued"
)

// Event is one published message. Key orders events per fund.
type Event struct {
	Type       string
	Key        string
	OccurredAt time.Time
	Payload    interface{}
}

// Publisher delivers events. Publish failures never affect fund state.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// Noop discards events.
type Noop struct{}

// Publish drops events.
func (Noop) Publish(context.Context, ...Event) error {
	return nil
}

// Close is a no-op.
func (Noop) Close() error {
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish appends events.
func (r *Recorder) Publish(_ context.Context, events ...Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

// Close is a no-op.
func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType filters recorded events.
func (r *Recorder) OfType(typ string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
