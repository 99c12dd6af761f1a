// Package worker runs blocking jobs (model inference) off the request
// goroutines with bounded concurrency.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"chat-stt-gateway/internal/observability/metrics"
)

var (
	// ErrNotScheduled means the caller gave up before a slot was free. The
	// job never ran.
	ErrNotScheduled = errors.New("job not scheduled")
	// ErrJobPanicked wraps a recovered panic from the job.
	ErrJobPanicked = errors.New("job panicked")
)

// Pool bounds how many jobs run at once.
type Pool struct {
	sem     *semaphore.Weighted
	size    int
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewPool creates a pool with size slots (minimum 1).
func NewPool(size int, logger zerolog.Logger, m *metrics.Metrics) *Pool {
	if size < 1 {
		size = 1
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Pool{
		sem:     semaphore.NewWeighted(int64(size)),
		size:    size,
		logger:  logger.With().Str("component", "worker_pool").Logger(),
		metrics: m,
	}
}

// Size returns the number of slots.
func (p *Pool) Size() int { return p.size }

// Submit waits for a free slot and runs job on its own goroutine.
//
// If ctx ends before a slot is acquired, Submit returns ErrNotScheduled and
// job is never called. Once started, job always runs to completion even if
// the caller stops waiting; its result is then discarded.
func Submit[T any](ctx context.Context, p *Pool, job func() (T, error)) (T, error) {
	var zero T

	p.metrics.WorkerQueued.Inc()
	err := p.sem.Acquire(ctx, 1)
	p.metrics.WorkerQueued.Dec()
	if err != nil {
		return zero, fmt.Errorf("%w: %w", ErrNotScheduled, err)
	}

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)

	p.metrics.WorkerInFlight.Inc()
	go func() {
		defer p.sem.Release(1)
		defer p.metrics.WorkerInFlight.Dec()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error().
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("Job panicked")
				done <- result{err: fmt.Errorf("%w: %v", ErrJobPanicked, r)}
			}
		}()

		v, err := job()
		done <- result{val: v, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		p.logger.Debug().Err(ctx.Err()).Msg("Caller left before job finished")
		return zero, ctx.Err()
	}
}
