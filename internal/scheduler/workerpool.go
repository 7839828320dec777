package scheduler

import (
	"container/heap"
	"log/slog"
	"sync"
	"time"
)

// Collector is the subset of metrics the scheduler can optionally report
// into. A nil Collector (the default) means the core package stays
// dependency-light, per spec.md §6: "no files, environment variables, or
// network endpoints are part of the core contract." internal/metrics
// implements this interface for the demo binary.
type Collector interface {
	RequestSubmitted()
	RequestStarted()
	RequestFinished()
	RequestCancelled()
	RequestFailed()
	QueueDepth(workerID int, depth int)
	ObserveRunLatency(seconds float64)
}

// WorkerPool owns a fixed set of workers and the priority runqueues they
// drain (spec.md §4.A). It is process-wide and singleton in normal use
// (see ResetWorkerPool), but nothing here prevents constructing an
// additional one directly for isolated tests.
type WorkerPool struct {
	workers   []*workerThread
	debug     bool
	metrics   Collector
	log       *slog.Logger
	closeOnce sync.Once
}

// newPool builds a pool with n workers; n == 0 selects debug (synchronous)
// mode, per spec.md §4.A.
func newPool(n int, metrics Collector, log *slog.Logger) *WorkerPool {
	if log == nil {
		log = slog.Default()
	}
	p := &WorkerPool{debug: n == 0, metrics: metrics, log: log}
	if p.debug {
		return p
	}
	p.workers = make([]*workerThread, n)
	for i := range p.workers {
		w := &workerThread{id: i, pool: p}
		w.cond = sync.NewCond(&w.mu)
		p.workers[i] = w
		go w.loop()
	}
	return p
}

// IsDebug reports whether this pool runs requests synchronously in the
// caller (worker count 0).
func (p *WorkerPool) IsDebug() bool { return p.debug }

// WorkerCount returns the number of live workers (0 in debug mode).
func (p *WorkerPool) WorkerCount() int { return len(p.workers) }

func (p *WorkerPool) newRequestState(parent *requestState) *requestState {
	return newRequestState(p, parent)
}

// assign binds r to its least-loaded worker exactly once (spec.md §4.A
// submit()) and places it on that worker's runqueue.
func (p *WorkerPool) assign(r *requestState) {
	w := p.leastLoaded()
	r.mu.Lock()
	r.worker = w
	r.mu.Unlock()
	w.enqueue(r)
}

func (p *WorkerPool) leastLoaded() *workerThread {
	best := p.workers[0]
	bestLen := best.queueLen()
	for _, w := range p.workers[1:] {
		if l := w.queueLen(); l < bestLen {
			best, bestLen = w, l
		}
	}
	return best
}

// Shutdown stops every worker's dispatch loop once its runqueue drains. It
// is not required for correctness in short-lived programs or tests; it
// exists so long-running hosts (the demo binary) can exit cleanly.
func (p *WorkerPool) Shutdown() {
	if p.debug {
		return
	}
	p.closeOnce.Do(func() {
		for _, w := range p.workers {
			w.requestShutdown()
		}
	})
}

// workerThread is one long-lived goroutine running the dispatch loop
// described in spec.md §4.A: pop the highest-priority runnable request and
// resume its coroutine (here, its goroutine) until it yields or finishes.
type workerThread struct {
	id   int
	pool *WorkerPool

	mu           sync.Mutex
	cond         *sync.Cond
	heap         requestHeap
	shuttingDown bool
}

func (w *workerThread) queueLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.heap)
}

func (w *workerThread) requestShutdown() {
	w.mu.Lock()
	w.shuttingDown = true
	w.mu.Unlock()
	w.cond.Broadcast()
}

// enqueue places r on this worker's runqueue, unless it is already queued
// (spec.md §3 invariant: a request belongs to at most one runqueue at a
// time).
func (w *workerThread) enqueue(r *requestState) {
	w.mu.Lock()
	r.mu.Lock()
	already := r.enqueued
	r.enqueued = true
	r.mu.Unlock()
	if already {
		w.mu.Unlock()
		return
	}
	heap.Push(&w.heap, r)
	if w.pool.metrics != nil {
		w.pool.metrics.QueueDepth(w.id, len(w.heap))
	}
	w.mu.Unlock()
	w.cond.Signal()
}

func (w *workerThread) loop() {
	for {
		w.mu.Lock()
		for len(w.heap) == 0 && !w.shuttingDown {
			w.cond.Wait()
		}
		if len(w.heap) == 0 && w.shuttingDown {
			w.mu.Unlock()
			return
		}
		req := heap.Pop(&w.heap).(*requestState)
		req.mu.Lock()
		req.enqueued = false
		req.mu.Unlock()
		if w.pool.metrics != nil {
			w.pool.metrics.QueueDepth(w.id, len(w.heap))
		}
		w.mu.Unlock()

		w.dispatch(req)
	}
}

// dispatch gives req one turn: if this is its first turn, it is handed a
// fresh goroutine; otherwise it is resumed from wherever it last parked.
// Either way, dispatch blocks until req parks again or finishes, at which
// point the loop is free to pop the next runnable request.
func (w *workerThread) dispatch(req *requestState) {
	req.mu.Lock()
	first := !req.goroutineStarted
	req.goroutineStarted = true
	req.mu.Unlock()

	if first {
		req.mu.Lock()
		req.dispatchedAt = time.Now()
		req.mu.Unlock()
		if w.pool.metrics != nil {
			w.pool.metrics.RequestStarted()
		}
		go runRequestLifecycle(req)
	} else {
		req.resumeCh <- struct{}{}
	}
	<-req.parkedCh
}
