package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/MrWong99/callintake/internal/events"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestNew_Validates(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Topic: "calls"}); err == nil {
		t.Error("New without brokers: err = nil, want error")
	}
	if _, err := New(Config{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Error("New without topic: err = nil, want error")
	}
	p, err := New(Config{Brokers: []string{"localhost:9092"}, Topic: "calls"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = p.Close()
}

func TestPublish_KeysBySession(t *testing.T) {
	t.Parallel()

	fw := &fakeWriter{}
	p := &Publisher{w: fw, topic: "calls"}

	if err := p.Publish(context.Background(), events.New(events.TypeCallStarted, "sess-9", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("wrote %d messages, want 1", len(fw.msgs))
	}
	m := fw.msgs[0]
	if string(m.Key) != "sess-9" {
		t.Errorf("Key = %q, want %q", m.Key, "sess-9")
	}
	if len(m.Headers) != 1 || string(m.Headers[0].Value) != events.TypeCallStarted {
		t.Errorf("Headers = %+v, want eventType=%s", m.Headers, events.TypeCallStarted)
	}

	if err := p.Close(); err != nil || !fw.closed {
		t.Errorf("Close: err=%v closed=%v", err, fw.closed)
	}
}

func TestPublish_WrapsWriteError(t *testing.T) {
	t.Parallel()

	boom := errors.New("broker down")
	p := &Publisher{w: &fakeWriter{err: boom}, topic: "calls"}
	if err := p.Publish(context.Background(), events.New(events.TypeCallFinalized, "s", nil)); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapping %v", err, boom)
	}
}
