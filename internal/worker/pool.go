// Package worker provides a bounded worker pool for running many harvests
// concurrently, plus helpers for reading lookup keys in bulk.
package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/revharvest/revharvest/internal/store"
)

// Result is the outcome of one harvest launched through the pool. Session
// carries the final session row when the harvest ran; Err is set when the
// session could not be started or finished with a failure.
type Result struct {
	Key     string
	Session *store.Session
	Err     error
}

// Pool runs harvest jobs with a fixed number of workers.
type Pool struct {
	size   int
	logger *slog.Logger
}

func NewPool(size int, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		size:   size,
		logger: logger,
	}
}

// Run applies fn to every key and returns one Result per key, in input order.
// At most size jobs run at once. When ctx is canceled, keys that have not been
// picked up yet are reported with ctx's error instead of being dropped.
func (p *Pool) Run(ctx context.Context, keys []string, fn func(context.Context, string) (*store.Session, error)) []Result {
	p.logger.Debug("starting worker pool", "workers", p.size, "keys", len(keys))

	results := make([]Result, len(keys))
	jobs := make(chan int)
	var wg sync.WaitGroup

	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if err := ctx.Err(); err != nil {
					results[idx] = Result{Key: keys[idx], Err: err}
					continue
				}
				sess, err := fn(ctx, keys[idx])
				results[idx] = Result{Key: keys[idx], Session: sess, Err: err}
			}
		}()
	}

	// Workers drain the channel even after cancellation, so these sends
	// cannot block forever.
	for i := range keys {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}
