package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"intellixdoc/internal/logger"
	"intellixdoc/internal/platform/rabbitmq"
)

// IngestWorker consumes ingestion jobs from RabbitMQ. Prefetch equals the
// number of consumers, so each consumer holds at most one unacked job.
type IngestWorker struct {
	conn         *amqp.Connection
	handler      Handler
	queueName    string
	concurrency  int
	requeueDelay time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(conn *amqp.Connection, handler Handler, queueName string, concurrency int, requeueDelay time.Duration) *IngestWorker {
	if concurrency <= 0 {
		concurrency = 1
	}
	if requeueDelay <= 0 {
		requeueDelay = 5 * time.Second
	}
	return &IngestWorker{
		conn:         conn,
		handler:      handler,
		queueName:    queueName,
		concurrency:  concurrency,
		requeueDelay: requeueDelay,
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

	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}
	if err := ch.Qos(w.concurrency, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker prefetch failed: %w", err)
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

	var consumers sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			w.consume(workerCtx, deliveries)
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		consumers.Wait()
		_ = ch.Close()
	}()

	logger.Info("worker: consuming %s with %d consumers", w.queueName, w.concurrency)
	return nil
}

func (w *IngestWorker) consume(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				logger.Warn("worker: delivery channel for %s closed", w.queueName)
				return
			}
			w.deliver(ctx, d)
		}
	}
}

func (w *IngestWorker) deliver(ctx context.Context, d amqp.Delivery) {
	job, err := rabbitmq.DecodeIngestJob(d.Body)
	if err != nil {
		logger.Warn("worker: dropping malformed ingest job: %v", err)
		_ = d.Nack(false, false)
		return
	}

	if err := w.handler.Handle(ctx, job.DocumentID); err != nil {
		if ctx.Err() == nil {
			logger.Debug("worker: requeue document %s in %s: %v", job.DocumentID, w.requeueDelay, err)
			_ = sleep(ctx, w.requeueDelay)
		}
		_ = d.Nack(false, true)
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
