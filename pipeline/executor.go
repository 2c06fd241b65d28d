package pipeline

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Executor caps the number of simultaneously executing work items. It is a
// counting permit pool: Do blocks until a permit is free, runs fn, and
// releases the permit on every exit path. Submissions above the ceiling
// wait rather than erroring; no fairness is guaranteed.
type Executor struct {
	sem   *semaphore.Weighted
	limit int
}

// NewExecutor creates a permit pool with the given ceiling. Bounds are
// validated at job-submission time, not here.
func NewExecutor(limit int) *Executor {
	return &Executor{
		sem:   semaphore.NewWeighted(int64(limit)),
		limit: limit,
	}
}

// Limit returns the configured ceiling.
func (e *Executor) Limit() int { return e.limit }

// Do acquires a permit, runs fn and releases the permit. A context
// cancelled while waiting returns ctx.Err() without holding a permit.
func (e *Executor) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.sem.Release(1)
	return fn(ctx)
}
