package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends JSON payloads to a single queue. A fresh channel per
// publish keeps it safe for concurrent use.
type Publisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewPublisher(conn *amqp.Connection, queueName string) *Publisher {
	return &Publisher{
		conn:      conn,
		queueName: queueName,
	}
}

func (p *Publisher) Publish(ctx context.Context, payload any) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal queue payload failed: %w", err)
	}

	if err := ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	); err != nil {
		return fmt.Errorf("publish to %s failed: %w", p.queueName, err)
	}
	return nil
}
