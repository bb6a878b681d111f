// Package amqp publishes call events to a durable RabbitMQ queue.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/streadway/amqp"

	"github.com/MrWong99/callintake/internal/events"
)

var _ events.Publisher = (*Publisher)(nil)

type channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends each event as one persistent JSON message on the default
// exchange, routed to Queue.
type Publisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    channel
	queue string
}

// Dial connects to url and declares queue as durable.
func Dial(url, queue string) (*Publisher, error) {
	if url == "" || queue == "" {
		return nil, errors.New("events/amqp: url and queue are required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events/amqp: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events/amqp: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("events/amqp: declare queue %s: %w", queue, err)
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

// Publish implements [events.Publisher]. The amqp channel is not safe for
// concurrent publishing, so calls are serialised.
func (p *Publisher) Publish(ctx context.Context, e events.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := e.Marshal()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.Publish("", p.queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Type:          e.Type,
		CorrelationId: e.SessionID,
		Timestamp:     e.At,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("events/amqp: publish %s: %w", e.Type, err)
	}
	return nil
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.Close()
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
	}
	return err
}
