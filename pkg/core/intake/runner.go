package intake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Runner executes background tasks with bounded concurrency. Each task gets
// its own context rooted in context.Background, so a task outlives the
// request that scheduled it.
type Runner struct {
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	timeout time.Duration
	logger  *zap.Logger
}

func NewRunner(workers int, timeout time.Duration, logger *zap.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		sem:     semaphore.NewWeighted(int64(workers)),
		timeout: timeout,
		logger:  logger,
	}
}

// Go schedules fn. Errors and panics are logged; callers persist failures
// inside fn.
func (r *Runner) Go(name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.sem.Acquire(context.Background(), 1); err != nil {
			r.logger.Error("runner acquire failed", zap.String("task", name), zap.Error(err))
			return
		}
		defer r.sem.Release(1)

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := r.run(ctx, fn); err != nil {
			r.logger.Error("background task failed", zap.String("task", name), zap.Error(err))
		}
	}()
}

func (r *Runner) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}

// Wait blocks until every scheduled task has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}
