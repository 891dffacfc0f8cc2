package bot

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Dispatcher runs submitted tasks on their own goroutines, at most limit at a
// time, each under its own timeout.
type Dispatcher struct {
	name    string
	sem     *semaphore.Weighted
	timeout time.Duration
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func NewDispatcher(name string, limit int64, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if limit <= 0 {
		limit = 1
	}
	return &Dispatcher{
		name:    name,
		sem:     semaphore.NewWeighted(limit),
		timeout: timeout,
		logger:  logger.With("component", "dispatcher", "pool", name),
	}
}

// Submit never blocks the caller. The task waits for a free slot; if ctx
// ends first the task is dropped and onDrop, if set, is called.
func (d *Dispatcher) Submit(ctx context.Context, task func(ctx context.Context), onDrop func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.sem.Acquire(ctx, 1); err != nil {
			d.logger.Warn("task_dropped", "error", err)
			if onDrop != nil {
				onDrop()
			}
			return
		}
		defer d.sem.Release(1)
		d.run(ctx, task)
	}()
}

func (d *Dispatcher) run(ctx context.Context, task func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("task_panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	task(ctx)
}

// Wait blocks until every submitted task has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
