package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/dnaforca/backend/internal/app"
	"github.com/dnaforca/backend/internal/ingest"
)

// IngestWorker consumes ingest jobs and runs the extraction, chunking and
// embedding pipeline for one material per delivery.
type IngestWorker struct {
	conn      *amqp.Connection
	pipeline  *ingest.Pipeline
	queueName string
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(conn *amqp.Connection, pipeline *ingest.Pipeline, queueName string, logger *zap.Logger) *IngestWorker {
	return &IngestWorker{
		conn:      conn,
		pipeline:  pipeline,
		queueName: queueName,
		logger:    logger,
	}
}

func (w *IngestWorker) Start(ctx context.Context) error {
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

	// One ingest at a time: embedding batches are the bottleneck and
	// parallel jobs would just contend on the vector store.
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
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
				w.handle(workerCtx, d)
			}
		}
	}()

	return nil
}

func (w *IngestWorker) handle(ctx context.Context, d amqp.Delivery) {
	var job app.IngestJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		w.logger.Warn("decode ingest job failed", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	if job.MaterialID == 0 {
		w.logger.Warn("ingest job without material id")
		_ = d.Nack(false, false)
		return
	}

	if err := w.pipeline.Process(ctx, job.MaterialID); err != nil {
		w.logger.Error("ingest material failed",
			zap.Uint("material_id", job.MaterialID),
			zap.Bool("redelivered", d.Redelivered),
			zap.Error(err))
		_ = d.Nack(false, !d.Redelivered)
		return
	}

	_ = d.Ack(false)
}

func (w *IngestWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
