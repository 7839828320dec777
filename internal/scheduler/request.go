package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// requestState is the generic-free bookkeeping core of a request: priority,
// parent/child/waiter relationships, lifecycle flags, and the completion
// signals. Request[T] wraps one of these and adds a typed workload/result.
//
// Every mutation of a relationship or flag field happens under mu, held for
// the shortest interval that correctness allows (spec.md §5, "Locking
// discipline").
type requestState struct {
	mu sync.Mutex

	pool   *WorkerPool
	parent *requestState

	priority Priority
	children []*requestState
	childSeq int

	started           bool
	cancelled         bool
	uncancellable     bool
	finished          bool
	executionComplete bool
	cleaned           bool

	pendingWaiters []*requestState
	blockingOn     *requestState

	failure error

	// run executes the typed workload and stashes its result; set once by
	// the Request[T] constructor. It returns the workload's error verbatim
	// (including ErrCancelled, absorbed by execute()).
	run func(ctx context.Context) error

	describe func() string

	// goroutineStarted is true once this request has been handed a
	// goroutine of its own, either by a worker's dispatch loop or by the
	// foreign-thread inline-run optimization. A commandeered request also
	// has it set, although it runs as a plain nested call on its host's
	// goroutine, so that a worker resuming it sends on the host's aliased
	// channels instead of spawning a new goroutine.
	goroutineStarted bool

	// resumeCh/parkedCh are the parking channels a dispatched request's
	// goroutine suspends on (spec.md §9, "stackful coroutines" translated
	// per SPEC_FULL.md §4 choice (b)). A commandeered request aliases these
	// to its host's, so a later wait() on it wakes the host's goroutine
	// rather than a channel pair nobody is reading.
	resumeCh chan struct{}
	parkedCh chan struct{}

	// worker is the worker this request is permanently bound to once
	// submitted (spec.md §3 invariant: "assigned worker ... never
	// changes"). A commandeered request takes its host's worker. nil for a
	// request run via the foreign-thread inline path (and for one
	// commandeered by such a request).
	worker *workerThread

	// enqueued and heapIndex back the worker's runqueue (container/heap).
	enqueued  bool
	heapIndex int

	// finishedSignal/cancelledSignal/failedSignal carry the context execute()
	// was running under when they fired (current request set to r itself;
	// see notifyFinished), so a NotifyFinished/NotifyCancelled/NotifyFailed
	// callback can call r.Wait(ctx) on itself without it being mistaken for
	// a foreign-thread wait (spec.md §8 scenario 3's "wait on itself from
	// its own finished callback returns normally").
	finishedSignal          signalT[context.Context]
	cancelledSignal         signalT[context.Context]
	failedSignal            signalT[failurePayload]
	executionCompleteSignal signal

	// finishedEvent is closed exactly once, when execute() completes, for
	// foreign-thread waiters and for debug-mode blocking waits.
	finishedEvent chan struct{}

	// dispatchedAt marks when this request was first handed a goroutine;
	// zero if it was only ever commandeered. Used to report run latency.
	dispatchedAt time.Time
}

func newRequestState(pool *WorkerPool, parent *requestState) *requestState {
	r := &requestState{
		pool:          pool,
		parent:        parent,
		resumeCh:      make(chan struct{}),
		parkedCh:      make(chan struct{}),
		finishedEvent: make(chan struct{}),
		heapIndex:     -1,
	}
	if parent == nil {
		r.priority = nextRootPriority()
		return r
	}

	parent.mu.Lock()
	r.priority = parent.priority.child(parent.childSeq)
	parent.childSeq++
	r.cancelled = parent.cancelled // spec.md §3 invariant 4: inherit at construction
	parent.children = append(parent.children, r)
	parent.mu.Unlock()

	return r
}

func (r *requestState) cancelledFlag() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

func (r *requestState) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := "request"
	if r.describe != nil {
		name = r.describe()
	}
	status := "pending"
	switch {
	case r.cancelled && r.executionComplete:
		status = "cancelled"
	case r.failure != nil:
		status = "failed"
	case r.executionComplete:
		status = "succeeded"
	case r.started:
		status = "running"
	}
	return fmt.Sprintf("%s%s[%s]", name, r.priority.String(), status)
}

// submit is idempotent: only the first call has any effect (spec.md §4.B).
func (r *requestState) submit() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	debug := r.pool.debug
	r.mu.Unlock()

	if r.pool.metrics != nil {
		r.pool.metrics.RequestSubmitted()
	}

	if debug {
		r.runDebugSync()
		return
	}
	r.pool.assign(r)
}

func (r *requestState) runDebugSync() {
	r.mu.Lock()
	r.dispatchedAt = time.Now()
	r.mu.Unlock()
	ctx := withCurrentRequest(context.Background(), r)
	r.execute(ctx)
}

// cancel implements spec.md §4.B cancel(): self becomes cancelled iff it is
// not uncancellable, its parent (if any) is cancelled, and every pending
// waiter is already cancelled. On success, children captured at that instant
// are detached and recursively cancelled.
func (r *requestState) cancel() bool {
	r.mu.Lock()
	if r.uncancellable {
		r.mu.Unlock()
		return false
	}
	parent := r.parent
	r.mu.Unlock()

	if parent != nil && !parent.cancelledFlag() {
		return false
	}

	r.mu.Lock()
	waiters := append([]*requestState(nil), r.pendingWaiters...)
	r.mu.Unlock()
	for _, w := range waiters {
		if !w.cancelledFlag() {
			return false
		}
	}

	r.mu.Lock()
	if r.uncancellable {
		r.mu.Unlock()
		return false
	}
	r.cancelled = true
	children := r.children
	r.children = nil
	r.mu.Unlock()

	for _, c := range children {
		c.cancel()
	}
	return true
}

// failurePayload is the failedSignal's carried value: the error together
// with the context execute() was running under when it fired, so a
// NotifyFailed callback gets the same self-identifying context a
// NotifyFinished/NotifyCancelled callback does.
type failurePayload struct {
	ctx context.Context
	err error
}

// notifyFinished registers fn to run when this request finishes
// successfully. fn receives a context that identifies this request as
// current (the same way a worker gives a workload's own context), so a
// callback may call r.Wait/r.Block on this very request without it being
// treated as a foreign-thread wait: spec.md §8 scenario 3 requires that
// waiting on oneself from within one's own finished callback returns
// normally instead of deadlocking or raising circular-wait.
func (r *requestState) notifyFinished(fn func(context.Context)) {
	r.subscribeTerminal(&r.finishedSignal, fn)
}

func (r *requestState) notifyCancelled(fn func(context.Context)) {
	r.subscribeTerminal(&r.cancelledSignal, fn)
}

func (r *requestState) notifyFailed(fn func(context.Context, error)) {
	wrapped := func(p failurePayload) {
		defer r.recoverCallbackPanic(p.ctx)
		fn(p.ctx, p.err)
	}
	r.failedSignal.subscribe(wrapped)
}

// subscribeTerminal wraps fn so a panicking completion callback is captured
// as the request's new failure and routed through the failed signal exactly
// once, per spec.md §4.B execution step 2.
func (r *requestState) subscribeTerminal(sig *signalT[context.Context], fn func(context.Context)) {
	wrapped := func(ctx context.Context) {
		defer r.recoverCallbackPanic(ctx)
		fn(ctx)
	}
	sig.subscribe(wrapped)
}

func (r *requestState) recoverCallbackPanic(ctx context.Context) {
	if rec := recover(); rec != nil {
		err := panicToError(rec)
		r.mu.Lock()
		alreadyFailed := r.failure != nil
		r.failure = err
		r.mu.Unlock()
		if !alreadyFailed {
			r.failedSignal.fire(failurePayload{ctx: ctx, err: err})
		}
	}
}

// execute runs the "Execution" procedure of spec.md §4.B: invoke the
// workload (unless already cancelled), fire exactly one terminal signal,
// clean bookkeeping on success, then fire execution-complete and release
// any foreign-thread waiter.
func (r *requestState) execute(ctx context.Context) {
	r.mu.Lock()
	alreadyCancelled := r.cancelled
	r.mu.Unlock()

	var workErr error
	if !alreadyCancelled {
		workErr = r.runWorkload(ctx)
	}

	r.mu.Lock()
	r.finished = true
	if workErr != nil && !errors.Is(workErr, ErrCancelled) {
		r.failure = workErr
	}
	// The cancelled flag is read here, after the workload has returned,
	// not the alreadyCancelled snapshot taken before it ran: cancel() may
	// have raced in while the workload was running and unaware of it
	// (spec.md §4.B, "fire exactly one of cancelled, failed, finished
	// signals, in that priority" — cancelled wins regardless of how the
	// workload itself returned).
	becameCancelled := r.cancelled || errors.Is(workErr, ErrCancelled)
	failure := r.failure
	r.mu.Unlock()

	switch {
	case becameCancelled:
		if r.pool.metrics != nil {
			r.pool.metrics.RequestCancelled()
		}
		r.cancelledSignal.fire(ctx)
	case failure != nil:
		if r.pool.metrics != nil {
			r.pool.metrics.RequestFailed()
		}
		r.failedSignal.fire(failurePayload{ctx: ctx, err: failure})
	default:
		if r.pool.metrics != nil {
			r.pool.metrics.RequestFinished()
		}
		r.finishedSignal.fire(ctx)
		r.cleanupBookkeeping()
	}

	r.mu.Lock()
	r.executionComplete = true
	dispatchedAt := r.dispatchedAt
	r.mu.Unlock()
	r.executionCompleteSignal.fire()

	if r.pool.metrics != nil && !dispatchedAt.IsZero() {
		r.pool.metrics.ObserveRunLatency(time.Since(dispatchedAt).Seconds())
	}

	close(r.finishedEvent)
}

// runWorkload invokes run(), absorbing a panic as a workload failure the
// same way an uncaught exception would be captured in the original.
func (r *requestState) runWorkload(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = panicToError(rec)
		}
	}()
	return r.run(ctx)
}

// cleanupBookkeeping drops child references on a successful completion
// (spec.md §4.B execution step 3); the result value itself lives in
// Request[T] and survives until Clean().
func (r *requestState) cleanupBookkeeping() {
	r.mu.Lock()
	r.children = nil
	r.mu.Unlock()
}

func (r *requestState) clean() {
	r.mu.Lock()
	r.cleaned = true
	r.parent = nil
	r.children = nil
	r.pendingWaiters = nil
	r.blockingOn = nil
	r.mu.Unlock()

	r.finishedSignal.reset()
	r.cancelledSignal.reset()
	r.failedSignal.reset()
	r.executionCompleteSignal.reset()
}

// finalStatus translates a completed request's terminal state into the
// value/error pair Wait() returns, per spec.md §4.B's foreign-thread path.
func (r *requestState) finalStatus() error {
	r.mu.Lock()
	cancelled := r.cancelled
	failure := r.failure
	r.mu.Unlock()
	if cancelled {
		return ErrInvalidRequest
	}
	if failure != nil {
		return failure
	}
	return nil
}

// wakeRequest re-admits a suspended waiter to its next turn. A request
// bound to a worker (including one sharing channels with a commandeering
// host) is re-enqueued on that worker's runqueue so priority order among
// other runnable work is respected; a request driven by the foreign-thread
// inline path has no competing work, so it is resumed immediately.
func wakeRequest(r *requestState) {
	r.mu.Lock()
	w := r.worker
	r.mu.Unlock()

	if w == nil {
		r.resumeCh <- struct{}{}
		return
	}
	w.enqueue(r)
}

// suspendCurrent parks the goroutine that is actually driving ctx's call
// stack (the host, see context.go) and blocks until something calls
// wakeRequest on the appropriate identity.
func suspendCurrent(ctx context.Context) {
	host := hostFrom(ctx)
	host.parkedCh <- struct{}{}
	<-host.resumeCh
}

// waitOnRequest implements spec.md §4.B wait(): the behaviour differs by
// whether ctx carries a current request (a worker-thread caller) or not (a
// foreign thread), and by whether the owning pool is in debug mode.
func waitOnRequest(ctx context.Context, target *requestState, timeout time.Duration, hasTimeout bool) error {
	if target.pool.debug {
		return waitDebug(ctx, target, timeout, hasTimeout)
	}

	current := currentRequestFrom(ctx)
	if current == nil {
		return waitForeign(target, timeout, hasTimeout)
	}
	if hasTimeout {
		panic("scheduler: Wait called with a timeout from inside a request; timeouts are only valid from a foreign thread")
	}
	return waitFromRequest(ctx, current, target)
}

func waitDebug(ctx context.Context, target *requestState, timeout time.Duration, hasTimeout bool) error {
	current := currentRequestFrom(ctx)
	if current != nil {
		if cur := current.cancelledFlag(); cur {
			return ErrCancelled
		}
		if current == target {
			if current.finishedFlag() {
				return nil
			}
			return ErrCircularWait
		}
	}

	target.mu.Lock()
	if target.cancelled {
		target.mu.Unlock()
		return ErrInvalidRequest
	}
	started := target.started
	complete := target.executionComplete
	target.mu.Unlock()

	if !started {
		target.mu.Lock()
		target.started = true
		target.mu.Unlock()
		target.runDebugSync()
	} else if !complete {
		if !hasTimeout {
			<-target.finishedEvent
		} else {
			select {
			case <-target.finishedEvent:
			case <-time.After(timeout):
				return ErrTimeout
			}
		}
	}
	return target.finalStatus()
}

func (r *requestState) finishedFlag() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// waitForeign is the non-debug, non-worker caller path.
func waitForeign(target *requestState, timeout time.Duration, hasTimeout bool) error {
	target.mu.Lock()
	target.uncancellable = true
	started := target.started
	target.mu.Unlock()

	if !started && !hasTimeout {
		target.mu.Lock()
		target.started = true
		target.mu.Unlock()
		runInlineForeign(target)
		return target.finalStatus()
	}

	target.submit()

	if !hasTimeout {
		<-target.finishedEvent
	} else {
		select {
		case <-target.finishedEvent:
		case <-time.After(timeout):
			return ErrTimeout
		}
	}
	return target.finalStatus()
}

// waitFromRequest is the non-debug, worker-thread caller path: c is the
// currently running request (possibly itself commandeered), target is what
// it is waiting on.
func waitFromRequest(ctx context.Context, c, target *requestState) error {
	if c.cancelledFlag() {
		return ErrCancelled
	}

	if c == target {
		if target.finishedFlag() {
			return nil
		}
		return ErrCircularWait
	}

	target.mu.Lock()
	if target.cancelled {
		target.mu.Unlock()
		return ErrInvalidRequest
	}
	if target.failure != nil {
		// target was already started and already failed: rethrow it to
		// this waiter without touching the pending-waiter bookkeeping
		// below, which exists to protect a target that is still running.
		err := target.failure
		target.mu.Unlock()
		return err
	}

	switch {
	case !target.started:
		target.started = true
		target.goroutineStarted = true
		// Record c as a pending waiter for the duration of the
		// commandeered run, symmetrically with the suspend branch below:
		// target.cancel() requires every pending waiter to already be
		// cancelled before it succeeds, and c is synchronously driving
		// target's execution right now, so target must not be cancellable
		// out from under it.
		target.pendingWaiters = append(target.pendingWaiters, c)
		host := hostFrom(ctx)
		target.worker = host.worker
		target.resumeCh = host.resumeCh
		target.parkedCh = host.parkedCh
		target.mu.Unlock()

		c.mu.Lock()
		c.blockingOn = target
		c.mu.Unlock()

		childCtx := withCommandeered(ctx, target)
		target.execute(childCtx)

		c.mu.Lock()
		c.blockingOn = nil
		c.mu.Unlock()

	case !target.executionComplete:
		target.pendingWaiters = append(target.pendingWaiters, c)
		c.mu.Lock()
		c.blockingOn = target
		c.mu.Unlock()
		target.mu.Unlock()

		target.executionCompleteSignal.subscribe(func() { wakeRequest(c) })
		suspendCurrent(ctx)

		c.mu.Lock()
		c.blockingOn = nil
		c.mu.Unlock()

	default:
		target.mu.Unlock()
	}

	if c.cancelledFlag() {
		return ErrCancelled
	}

	return target.finalStatus()
}

// runRequestLifecycle drives a request's entire execution on a fresh
// goroutine of its own, signalling parkedCh once more after execute()
// returns so whatever is pumping this request's turns (a worker's dispatch
// loop or the foreign-thread inline driver) learns it is finally done.
func runRequestLifecycle(r *requestState) {
	ctx := withCurrentRequest(context.Background(), r)
	r.execute(ctx)
	r.parkedCh <- struct{}{}
}

// runInlineForeign drives r to completion without handing it to a worker's
// runqueue: the calling foreign goroutine acts as a dedicated, uncontended
// driver for exactly this request's turns, which is the Go analogue of
// spec.md §4.B's "run the workload directly on the caller thread"
// optimization.
func runInlineForeign(r *requestState) {
	r.mu.Lock()
	r.goroutineStarted = true
	r.mu.Unlock()

	go runRequestLifecycle(r)

	for {
		<-r.parkedCh
		if r.executionCompleteFlag() {
			return
		}
		// r is suspended waiting on something else; wakeRequest will send
		// directly on r.resumeCh once that something completes, since
		// r.worker is nil here and nothing else contends for this turn.
	}
}

func (r *requestState) executionCompleteFlag() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.executionComplete
}
