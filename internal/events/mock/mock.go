// Package mock provides a recording [events.Publisher].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/callintake/internal/events"
)

var _ events.Publisher = (*Publisher)(nil)

// Publisher records published events. Err, when set, is returned by Publish
// after recording.
type Publisher struct {
	mu     sync.Mutex
	Err    error
	events []events.Event
	closed bool
}

// Publish records e.
func (p *Publisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.Err
}

// Close marks the publisher closed.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Events returns a snapshot of every recorded event.
func (p *Publisher) Events() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Event, len(p.events))
	copy(out, p.events)
	return out
}

// OfType returns the recorded events with the given type.
func (p *Publisher) OfType(typ string) []events.Event {
	var out []events.Event
	for _, e := range p.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// Closed reports whether Close was called.
func (p *Publisher) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
