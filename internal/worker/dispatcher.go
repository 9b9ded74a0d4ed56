// Package worker runs ingestion jobs: it takes document ids from a queue,
// holds a per-document lease while the pipeline runs and retries failures
// that may be transient.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"intellixdoc/internal/ingest"
	"intellixdoc/internal/logger"
)

var (
	// ErrLeaseHeld means another worker is ingesting the same document.
	ErrLeaseHeld   = errors.New("document lease is held by another worker")
	ErrQueueClosed = errors.New("ingestion queue is closed")
)

// Scheduler accepts ingestion jobs. Enqueue returns once the job is
// accepted, not when it has run.
type Scheduler interface {
	Enqueue(ctx context.Context, documentID string) error
}

// Runner executes one ingestion attempt and records its outcome.
type Runner interface {
	Run(ctx context.Context, documentID string) (ingest.Result, error)
}

// Handler processes a job. A non-nil error asks the queue to deliver the
// job again later.
type Handler interface {
	Handle(ctx context.Context, documentID string) error
}

type DispatcherOptions struct {
	MaxAttempts  int
	RetryBackoff time.Duration
	LeaseTTL     time.Duration
}

type Dispatcher struct {
	runner Runner
	locker Locker
	opts   DispatcherOptions
}

func NewDispatcher(runner Runner, locker Locker, opts DispatcherOptions) *Dispatcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 10 * time.Minute
	}
	if locker == nil {
		locker = NewMemoryLocker()
	}
	return &Dispatcher{runner: runner, locker: locker, opts: opts}
}

// Handle runs the pipeline for documentID under its lease. Terminal
// failures are already recorded on the document and return nil.
func (d *Dispatcher) Handle(ctx context.Context, documentID string) error {
	release, ok, err := d.locker.Acquire(ctx, LeaseKey(documentID), d.opts.LeaseTTL)
	if err != nil {
		return fmt.Errorf("acquire lease for %s: %w", documentID, err)
	}
	if !ok {
		logger.Debug("worker: document %s is leased elsewhere, deferring", documentID)
		return ErrLeaseHeld
	}
	defer release()

	for attempt := 1; ; attempt++ {
		_, err := d.runner.Run(ctx, documentID)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ingest.ErrDocumentGone):
			logger.Info("worker: document %s was deleted, dropping job", documentID)
			return nil
		case errors.Is(err, ingest.ErrNotPending):
			logger.Info("worker: document %s needs no ingestion, dropping job: %v", documentID, err)
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case !ingest.Retryable(err):
			logger.Warn("worker: document %s failed: %v", documentID, err)
			return nil
		case attempt >= d.opts.MaxAttempts:
			logger.Error("worker: document %s failed after %d attempts: %v", documentID, attempt, err)
			return nil
		}

		wait := d.opts.RetryBackoff << (attempt - 1)
		logger.Warn("worker: document %s attempt %d failed, retrying in %s: %v", documentID, attempt, wait, err)
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// LeaseKey names the lease guarding a document. Anything that mutates the
// document outside a pipeline run takes the same lease.
func LeaseKey(documentID string) string {
	return "ingest:lease:" + documentID
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
