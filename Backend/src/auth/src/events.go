package main

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// EventPublisher mirrors the library service's rabbit wiring. A nil
// publisher is valid and drops everything, so the service runs fine
// without a broker.
type EventPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewEventPublisher(url, exchange string) (*EventPublisher, error) {
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
	return &EventPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *EventPublisher) Publish(ctx context.Context, routingKey string, payload any) {
	if p == nil || p.ch == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Warn().Err(err).Str("key", routingKey).Msg("event marshal failed")
		return
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		log.Warn().Err(err).Str("key", routingKey).Msg("event publish failed")
	}
}

func (p *EventPublisher) Close() {
	if p == nil {
		return
	}
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
