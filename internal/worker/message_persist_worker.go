// Package worker hosts the RabbitMQ consumers: one persists chat messages,
// one runs material ingestion. Both requeue a failed delivery once and drop
// it on the second failure so a poison message cannot wedge the queue.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/dnaforca/backend/internal/app"
	"github.com/dnaforca/backend/internal/model"
	"github.com/dnaforca/backend/internal/repository"
)

type MessagePersistWorker struct {
	conn      *amqp.Connection
	repo      *repository.ChatMessageRepository
	queueName string
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMessagePersistWorker(conn *amqp.Connection, repo *repository.ChatMessageRepository, queueName string, logger *zap.Logger) *MessagePersistWorker {
	return &MessagePersistWorker{
		conn:      conn,
		repo:      repo,
		queueName: queueName,
		logger:    logger,
	}
}

func (w *MessagePersistWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				w.handle(d)
			}
		}
	}()

	return nil
}

func (w *MessagePersistWorker) handle(d amqp.Delivery) {
	var job app.ChatMessageJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		w.logger.Warn("decode chat message job failed", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	if job.Role != model.RoleMessageUser && job.Role != model.RoleMessageAssistant {
		w.logger.Warn("chat message job has unknown role",
			zap.String("role", job.Role),
			zap.Uint("session_id", job.SessionID))
		_ = d.Nack(false, false)
		return
	}

	msg := &model.ChatMessage{
		SessionID: job.SessionID,
		UserID:    job.UserID,
		Role:      job.Role,
		Content:   job.Content,
		Sources:   job.Sources,
	}
	if err := w.repo.Create(msg); err != nil {
		w.logger.Error("persist chat message failed",
			zap.Uint("session_id", job.SessionID),
			zap.Bool("redelivered", d.Redelivered),
			zap.Error(err))
		_ = d.Nack(false, !d.Redelivered)
		return
	}

	_ = d.Ack(false)
}

func (w *MessagePersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
