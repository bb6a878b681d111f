// Package events publishes call lifecycle notifications to downstream
// consumers. Publishing is best-effort: callers log a failed Publish and move
// on.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Event types.
const (
	TypeCallStarted        = "call.started"
	TypeUtteranceProcessed = "utterance.processed"
	TypeCallFinalized      = "call.finalized"
)

// Event is one lifecycle notification.
type Event struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	At        time.Time      `json:"at"`
	Data      map[string]any `json:"data,omitempty"`
}

// New returns an Event stamped with the current time.
func New(typ, sessionID string, data map[string]any) Event {
	return Event{Type: typ, SessionID: sessionID, At: time.Now().UTC(), Data: data}
}

// Marshal encodes e as JSON.
func (e Event) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("events: marshal %s: %w", e.Type, err)
	}
	return b, nil
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

var _ Publisher = (*LogPublisher)(nil)

// LogPublisher writes events to a structured logger. It is the default when
// no broker is configured.
type LogPublisher struct {
	log *slog.Logger
}

// NewLogPublisher returns a LogPublisher. A nil logger means slog.Default.
func NewLogPublisher(log *slog.Logger) *LogPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &LogPublisher{log: log}
}

// Publish implements [Publisher].
func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	p.log.InfoContext(ctx, "event", "type", e.Type, "session_id", e.SessionID, "data", e.Data)
	return nil
}

// Close implements [Publisher].
func (p *LogPublisher) Close() error { return nil }
