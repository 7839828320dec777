package scheduler

import (
	"log/slog"
	"sync/atomic"
)

var globalPool atomic.Pointer[WorkerPool]

func init() {
	// The scheduler is usable out of the box in debug (synchronous) mode,
	// matching the teacher's preference for zero-config defaults that a
	// real deployment then overrides (see internal/cli's config loading).
	globalPool.Store(newPool(0, nil, slog.Default()))
}

// ResetWorkerPool reconstructs the process-wide worker pool with the given
// worker count (0 selects debug/synchronous mode), per spec.md §6. Per
// spec.md §5 ("Shared state"), this invalidates any requests already
// in-flight against the previous pool: they keep running against their old
// pool's workers, but NewRequest calls made after this point bind to the
// new one.
func ResetWorkerPool(workers int) *WorkerPool {
	p := newPool(workers, nil, slog.Default())
	if old := globalPool.Swap(p); old != nil {
		old.Shutdown()
	}
	return p
}

// ResetWorkerPoolWithMetrics is the Collector-aware variant used by the
// demo binary; the plain ResetWorkerPool above keeps the common case
// dependency-free.
func ResetWorkerPoolWithMetrics(workers int, metrics Collector, log *slog.Logger) *WorkerPool {
	p := newPool(workers, metrics, log)
	if old := globalPool.Swap(p); old != nil {
		old.Shutdown()
	}
	return p
}

func currentPool() *WorkerPool {
	return globalPool.Load()
}
