package main

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Routing keys for the domain events this service publishes.
const (
	EvBookCreated      = "library.book.created"
	EvBookUpdated      = "library.book.updated"
	EvBookDeleted      = "library.book.deleted"
	EvShelfBookCreated = "library.shelfbook.created"
	EvShelfBookUpdated = "library.shelfbook.updated"
	EvShelfBookDeleted = "library.shelfbook.deleted"
	EvBorrowCreated    = "library.borrow.created"
	EvBorrowReturned   = "library.borrow.returned"
)

type Rabbit struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewRabbit(url, exchange string) (*Rabbit, error) {
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
	return &Rabbit{conn: conn, ch: ch, exchange: exchange}, nil
}

func (r *Rabbit) Close() {
	if r == nil {
		return
	}
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		_ = r.conn.Close()
	}
}

// PublishJSON is fire-and-forget; a lost event only delays a dashboard
// refresh, it never loses data.
func (r *Rabbit) PublishJSON(ctx context.Context, routingKey string, v any) {
	if r == nil {
		return
	}
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("rk", routingKey).Msg("event marshal failed")
		return
	}
	err = r.ch.PublishWithContext(ctx, r.exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		log.Warn().Err(err).Str("rk", routingKey).Msg("event publish failed")
	}
}
