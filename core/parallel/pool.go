package parallel

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	causalErrors "github.com/YuminosukeSato/causalgo/pkg/errors"
)

// Pool runs index-addressed tasks on a bounded number of goroutines.
// Results must be written by index so that scheduling never changes outputs.
type Pool struct {
	nJobs int
}

// NewPool creates a pool with nJobs workers. nJobs <= 0 uses runtime.NumCPU().
func NewPool(nJobs int) *Pool {
	if nJobs <= 0 {
		nJobs = runtime.NumCPU()
	}
	return &Pool{nJobs: nJobs}
}

// NJobs returns the number of workers.
func (p *Pool) NJobs() int {
	return p.nJobs
}

// Run executes fn(ctx, i) for i in [0, n). The first error cancels the
// context passed to the remaining tasks and is returned. A panic inside fn
// is recovered into a PanicError labelled with name and the task index.
func (p *Pool) Run(ctx context.Context, n int, name string, fn func(ctx context.Context, i int) error) error {
	if n == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.nJobs)

	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() (err error) {
			defer causalErrors.Recover(&err, taskName(name, i))
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func taskName(name string, i int) string {
	return fmt.Sprintf("%s task %d", name, i)
}
