// Package workerpool runs independent units of work with bounded parallelism.
package workerpool

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent is used when Config.MaxConcurrent is not positive.
const DefaultMaxConcurrent = 5

// Config configures a Pool.
type Config struct {
	MaxConcurrent int // Maximum items in flight (default: 5)
}

// Pool limits how many work items execute at once.
type Pool struct {
	sem           *semaphore.Weighted
	maxConcurrent int
	logger        *zap.Logger
}

// New creates a pool. If logger is nil, a no-op logger is used.
func New(cfg Config, logger *zap.Logger) *Pool {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		sem:           semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		maxConcurrent: cfg.MaxConcurrent,
		logger:        logger.Named("worker-pool"),
	}
}

// MaxConcurrent reports the pool's parallelism bound.
func (p *Pool) MaxConcurrent() int {
	return p.maxConcurrent
}

// Item is a unit of work.
type Item[T any] struct {
	ID      string                               // For logging/tracking
	Execute func(ctx context.Context) (T, error) // The work to be executed
}

// Result is the outcome of one Item.
type Result[T any] struct {
	ID     string
	Result T
	Err    error
}

// Process executes all items with bounded parallelism and returns results in
// submission order. A failing or panicking item does not stop the others.
// Items that never acquire a slot because ctx ended report ctx.Err().
func Process[T any](
	ctx context.Context,
	pool *Pool,
	items []Item[T],
	onProgress func(completed, total int),
) []Result[T] {
	if len(items) == 0 {
		return nil
	}

	results := make([]Result[T], len(items))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)

	done := func() {
		mu.Lock()
		completed++
		n := completed
		mu.Unlock()
		if onProgress != nil {
			onProgress(n, len(items))
		}
	}

	for i, item := range items {
		results[i].ID = item.ID

		if err := pool.sem.Acquire(ctx, 1); err != nil {
			results[i].Err = err
			done()
			continue
		}

		wg.Add(1)
		go func(i int, item Item[T]) {
			defer wg.Done()
			defer pool.sem.Release(1)
			defer done()
			defer func() {
				if r := recover(); r != nil {
					pool.logger.Error("Work item panicked",
						zap.String("id", item.ID),
						zap.Any("panic", r))
					results[i].Err = fmt.Errorf("work item %s panicked: %v", item.ID, r)
				}
			}()

			results[i].Result, results[i].Err = item.Execute(ctx)
		}(i, item)
	}

	wg.Wait()

	return results
}
