package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	causalErrors "github.com/YuminosukeSato/causalgo/pkg/errors"
)

func TestParallelize(t *testing.T) {
	for _, tc := range []struct {
		name     string
		items    int
		nWorkers int
	}{
		{"more items than workers", 1000, 4},
		{"fewer items than workers", 3, 16},
		{"default workers", 257, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			out := make([]int, tc.items)
			Parallelize(tc.items, tc.nWorkers, func(start, end int) {
				for i := start; i < end; i++ {
					out[i] = i * i
				}
			})
			for i, v := range out {
				require.Equal(t, i*i, v)
			}
		})
	}

	t.Run("below threshold runs once", func(t *testing.T) {
		var calls int32
		ParallelizeWithThreshold(10, 100, 4, func(start, end int) {
			atomic.AddInt32(&calls, 1)
			assert.Equal(t, 0, start)
			assert.Equal(t, 10, end)
		})
		assert.Equal(t, int32(1), calls)
	})
}

func TestPool(t *testing.T) {
	t.Run("index addressed results", func(t *testing.T) {
		pool := NewPool(3)
		out := make([]int, 20)
		err := pool.Run(context.Background(), len(out), "square", func(_ context.Context, i int) error {
			out[i] = i * i
			return nil
		})
		require.NoError(t, err)
		for i, v := range out {
			assert.Equal(t, i*i, v)
		}
	})

	t.Run("first error is returned", func(t *testing.T) {
		boom := errors.New("fold failed")
		err := NewPool(2).Run(context.Background(), 10, "fit", func(_ context.Context, i int) error {
			if i == 4 {
				return boom
			}
			return nil
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("panic becomes PanicError", func(t *testing.T) {
		err := NewPool(1).Run(context.Background(), 2, "ml_l", func(_ context.Context, i int) error {
			if i == 1 {
				panic("bad learner")
			}
			return nil
		})
		var panicErr *causalErrors.PanicError
		require.ErrorAs(t, err, &panicErr)
		assert.Equal(t, "ml_l task 1", panicErr.Operation)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		var ran int32
		err := NewPool(2).Run(ctx, 5, "fit", func(_ context.Context, i int) error {
			atomic.AddInt32(&ran, 1)
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, int32(0), ran)
	})

	t.Run("default size", func(t *testing.T) {
		assert.Greater(t, NewPool(0).NJobs(), 0)
	})
}
