package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// New dials the broker and declares the given durable queues so that
// publishers and consumers can assume they exist.
func New(ctx context.Context, url string, queues ...string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq failed: %w", err)
	}

	declareCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	done := make(chan error, 1)
	go func() {
		for _, queue := range queues {
			if _, err := ch.QueueDeclare(
				queue,
				true,
				false,
				false,
				false,
				nil,
			); err != nil {
				done <- fmt.Errorf("declare queue %s failed: %w", queue, err)
				return
			}
		}
		done <- nil
	}()

	select {
	case <-declareCtx.Done():
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq queue declare timeout: %w", declareCtx.Err())
	case err := <-done:
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return conn, nil
	}
}
