// Package demo drives internal/scheduler through a configurable
// fan-out/fan-in workload, used by the scheduler-demo CLI (see
// internal/cli) to exercise the scheduler end to end.
package demo

import (
	"context"
	"fmt"

	"github.com/ChuLiYu/lazyscheduler/internal/scheduler"
)

type nodeResult struct {
	sum   int64
	count int64
}

// RunFanOutFanIn builds a width-ary tree of depth levels of cooperative
// requests, each leaf contributing 1 to the running sum, and returns the
// total and the number of leaves visited.
func RunFanOutFanIn(width, depth int) (int64, int64, error) {
	ctx := context.Background()
	root := scheduler.NewRequest(ctx, func(ctx context.Context) (nodeResult, error) {
		return fanOut(ctx, width, depth)
	})
	root.Submit()
	res, err := root.Wait(ctx)
	if err != nil {
		return 0, 0, err
	}
	return res.sum, res.count, nil
}

// fanOut runs inside a request's workload. At depth 0 it is a leaf; above
// that, it spawns width children, submits them as a batch through a Pool,
// and sums their results once the pool drains (the fan-in half).
func fanOut(ctx context.Context, width, depth int) (nodeResult, error) {
	if depth <= 0 {
		return nodeResult{sum: 1, count: 1}, nil
	}

	pool := scheduler.NewPool()
	children := make([]*scheduler.Request[nodeResult], width)
	for i := 0; i < width; i++ {
		child := scheduler.NewRequest(ctx, func(ctx context.Context) (nodeResult, error) {
			return fanOut(ctx, width, depth-1)
		})
		if err := scheduler.Add(pool, child); err != nil {
			return nodeResult{}, fmt.Errorf("adding child to pool: %w", err)
		}
		children[i] = child
	}

	if err := pool.Submit(); err != nil {
		return nodeResult{}, fmt.Errorf("submitting child pool: %w", err)
	}
	pool.Wait(ctx)

	var total nodeResult
	for _, c := range children {
		r, err := c.Result()
		if err != nil {
			return nodeResult{}, err
		}
		total.sum += r.sum
		total.count += r.count
	}
	return total, nil
}
