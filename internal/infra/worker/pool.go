// File: internal/infra/worker/pool.go
package worker

import (
	"context"
	"runtime"
	"sync"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
)

// Pool bounds per-item fan-out inside one worker pass.
type Pool struct {
	n int
}

func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{n: workers}
}

func (p *Pool) Size() int { return p.n }

// Each runs fn for every item with at most p.Size() running at once.
// A failing or panicking item never affects the others; every failure is
// returned in no particular order. Items not started before ctx is done are
// reported with ctx.Err().
func Each[T any](ctx context.Context, p *Pool, items []T, fn func(ctx context.Context, item T) error) []error {
	if p == nil {
		p = NewPool(1)
	}
	var (
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	wp := pool.New().WithMaxGoroutines(p.n)
	for _, item := range items {
		wp.Go(func() {
			if err := ctx.Err(); err != nil {
				record(err)
				return
			}
			var (
				c   panics.Catcher
				err error
			)
			c.Try(func() { err = fn(ctx, item) })
			if r := c.Recovered(); r != nil {
				err = r.AsError()
			}
			if err != nil {
				record(err)
			}
		})
	}
	wp.Wait()
	return errs
}
