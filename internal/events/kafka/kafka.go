// Package kafka publishes call events to a Kafka topic, keyed by session id
// so every event of one call lands on the same partition.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/MrWong99/callintake/internal/events"
)

var _ events.Publisher = (*Publisher)(nil)

// Config holds the broker settings.
type Config struct {
	Brokers []string
	Topic   string
	// WriteTimeout bounds one write. Defaults to 10s.
	WriteTimeout time.Duration
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes events with a [kafkago.Writer].
type Publisher struct {
	w     writer
	topic string
}

// New returns a Publisher for cfg.
func New(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("events/kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("events/kafka: topic is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	dialer := &kafkago.Dialer{Timeout: 10 * time.Second, DualStack: true}
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafkago.RequireOne,
		Transport:    &kafkago.Transport{Dial: dialer.DialFunc},
	}
	return &Publisher{w: w, topic: cfg.Topic}, nil
}

// Publish implements [events.Publisher].
func (p *Publisher) Publish(ctx context.Context, e events.Event) error {
	payload, err := e.Marshal()
	if err != nil {
		return err
	}
	msg := kafkago.Message{
		Key:   []byte(e.SessionID),
		Value: payload,
		Headers: []kafkago.Header{
			{Key: "eventType", Value: []byte(e.Type)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events/kafka: write to %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes pending writes and closes the writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}
