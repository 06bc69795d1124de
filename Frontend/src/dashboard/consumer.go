package main

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/ahinestrog/openlibrary/client"
)

// EventConsumer listens on the domain events exchange and refreshes the
// snapshot whenever the library changes, so the dashboard reflects a
// borrow or inventory edit without waiting for the next periodic tick.
type EventConsumer struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	queue  string
	holder *client.SnapshotHolder
}

func NewEventConsumer(url, exchange string, holder *client.SnapshotHolder) (*EventConsumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	// Exclusive auto-delete queue: each dashboard instance gets its own.
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	if err := ch.QueueBind(q.Name, "library.#", exchange, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &EventConsumer{conn: conn, ch: ch, queue: q.Name, holder: holder}, nil
}

func (c *EventConsumer) Run(ctx context.Context) {
	deliveries, err := c.ch.Consume(c.queue, "", true, true, false, false, nil)
	if err != nil {
		log.Warn().Err(err).Msg("event consume failed, relying on periodic refresh")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				log.Warn().Msg("event channel closed, relying on periodic refresh")
				return
			}
			log.Debug().Str("key", d.RoutingKey).Msg("library event, refreshing snapshot")
			refreshCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			if _, _, err := c.holder.Refresh(refreshCtx); err != nil {
				log.Warn().Err(err).Msg("event-driven refresh failed")
			}
			cancel()
		}
	}
}

func (c *EventConsumer) Close() {
	if c == nil {
		return
	}
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
