package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/streadway/amqp"

	"github.com/MrWong99/callintake/internal/events"
)

type fakeChannel struct {
	published []amqp.Publishing
	keys      []string
	err       error
	closed    bool
}

func (f *fakeChannel) Publish(_, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestDial_RequiresURLAndQueue(t *testing.T) {
	t.Parallel()

	if _, err := Dial("", "q"); err == nil {
		t.Error("Dial without url: err = nil, want error")
	}
	if _, err := Dial("amqp://localhost", ""); err == nil {
		t.Error("Dial without queue: err = nil, want error")
	}
}

func TestPublish(t *testing.T) {
	t.Parallel()

	fc := &fakeChannel{}
	p := &Publisher{ch: fc, queue: "call-events"}

	e := events.New(events.TypeUtteranceProcessed, "s-1", map[string]any{"text": "алло"})
	if err := p.Publish(context.Background(), e); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(fc.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(fc.published))
	}
	if fc.keys[0] != "call-events" {
		t.Errorf("routing key = %q, want %q", fc.keys[0], "call-events")
	}
	msg := fc.published[0]
	if msg.DeliveryMode != amqp.Persistent {
		t.Errorf("DeliveryMode = %d, want persistent", msg.DeliveryMode)
	}
	if msg.CorrelationId != "s-1" {
		t.Errorf("CorrelationId = %q, want %q", msg.CorrelationId, "s-1")
	}
	var back events.Event
	if err := json.Unmarshal(msg.Body, &back); err != nil {
		t.Fatalf("body: %v", err)
	}
	if back.Type != events.TypeUtteranceProcessed {
		t.Errorf("Type = %q, want %q", back.Type, events.TypeUtteranceProcessed)
	}

	if err := p.Close(); err != nil || !fc.closed {
		t.Errorf("Close: err=%v closed=%v", err, fc.closed)
	}
}

func TestPublish_Errors(t *testing.T) {
	t.Parallel()

	boom := errors.New("channel closed")
	p := &Publisher{ch: &fakeChannel{err: boom}, queue: "q"}
	if err := p.Publish(context.Background(), events.New(events.TypeCallStarted, "s", nil)); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapping %v", err, boom)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Publish(ctx, events.New(events.TypeCallStarted, "s", nil)); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
