package worker

import (
	"context"
	"sync"
	"time"

	"intellixdoc/internal/logger"
)

const defaultQueueBuffer = 256

// LocalQueue runs jobs on in-process goroutines. Jobs still buffered when
// the process stops are lost; ResumePending on the next start picks them
// up again from their stored status.
type LocalQueue struct {
	handler      Handler
	workers      int
	requeueDelay time.Duration

	jobs chan string
	done chan struct{}

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewLocalQueue(handler Handler, workers int, requeueDelay time.Duration) *LocalQueue {
	if workers <= 0 {
		workers = 1
	}
	if requeueDelay <= 0 {
		requeueDelay = 5 * time.Second
	}
	return &LocalQueue{
		handler:      handler,
		workers:      workers,
		requeueDelay: requeueDelay,
		jobs:         make(chan string, defaultQueueBuffer),
		done:         make(chan struct{}),
	}
}

func (q *LocalQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true

	workerCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.loop(workerCtx)
		}()
	}
	logger.Info("worker: local ingestion queue started with %d workers", q.workers)
}

func (q *LocalQueue) Enqueue(ctx context.Context, documentID string) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.jobs <- documentID:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *LocalQueue) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.jobs:
			if err := q.handler.Handle(ctx, id); err != nil && ctx.Err() == nil {
				logger.Debug("worker: requeue document %s in %s: %v", id, q.requeueDelay, err)
				q.requeueLater(id)
			}
		}
	}
}

func (q *LocalQueue) requeueLater(id string) {
	time.AfterFunc(q.requeueDelay, func() {
		if err := q.Enqueue(context.Background(), id); err != nil {
			logger.Warn("worker: requeue document %s dropped: %v", id, err)
		}
	})
}

// Close stops accepting jobs and waits for running ones to return.
func (q *LocalQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Unlock()
	q.wg.Wait()
}
