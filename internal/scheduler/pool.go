package scheduler

import (
	"context"
	"sync"
	"time"
)

// poolMember is the type-erased surface a Pool needs from a Request[T] for
// any T. Result() is deliberately excluded so the interface itself stays
// non-generic.
type poolMember interface {
	submitPoolMember()
	cancelPoolMember() bool
	blockPoolMember(ctx context.Context, timeout time.Duration, hasTimeout bool) error
	notifyFinishedPoolMember(func(context.Context))
	notifyCancelledPoolMember(func(context.Context))
	notifyFailedPoolMember(func(context.Context, error))
	stateHandle() *requestState
}

// Pool batches a static set of requests and waits for all of them while
// keeping memory bounded: a request moves from active to finishing as soon
// as its workload returns, and out of finishing once its completion
// callbacks have fully run, so Pool never holds more than the in-flight-plus
// in-callback set it actually needs.
type Pool struct {
	mu        sync.Mutex
	active    map[*requestState]poolMember
	finishing map[*requestState]poolMember
	started   bool
}

// NewPool constructs an empty, not-yet-started request pool.
func NewPool() *Pool {
	return &Pool{
		active:    make(map[*requestState]poolMember),
		finishing: make(map[*requestState]poolMember),
	}
}

// Add registers r with the pool. It fails with ErrPoolAlreadyStarted once
// Submit has been called.
func Add[T any](p *Pool, r *Request[T]) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrPoolAlreadyStarted
	}
	st := r.stateHandle()
	p.active[st] = r
	p.mu.Unlock()

	r.notifyFinishedPoolMember(func(context.Context) { p.reap(st) })
	r.notifyCancelledPoolMember(func(context.Context) { p.reap(st) })
	r.notifyFailedPoolMember(func(context.Context, error) { p.reap(st) })
	return nil
}

func (p *Pool) reap(st *requestState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.active[st]; ok {
		delete(p.active, st)
		p.finishing[st] = r
	}
}

// Submit submits every request currently in the pool and forbids further
// Add calls.
func (p *Pool) Submit() error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrPoolAlreadyStarted
	}
	p.started = true
	snapshot := make([]poolMember, 0, len(p.active))
	for _, r := range p.active {
		snapshot = append(snapshot, r)
	}
	p.mu.Unlock()

	for _, r := range snapshot {
		r.submitPoolMember()
	}
	return nil
}

// Wait blocks until every request added to the pool has reached
// execution-complete, i.e. its completion callbacks have all fired. It
// drains finishing before blocking on another active request each time
// around, so the active+finishing set never grows beyond what is genuinely
// still outstanding.
func (p *Pool) Wait(ctx context.Context) {
	for {
		p.mu.Lock()
		empty := len(p.active) == 0
		p.mu.Unlock()
		if empty {
			break
		}

		p.drainFinishing(ctx)

		p.mu.Lock()
		var next poolMember
		for _, r := range p.active {
			next = r
			break
		}
		p.mu.Unlock()
		if next != nil {
			_ = next.blockPoolMember(ctx, 0, false)
		}
	}
	p.drainFinishing(ctx)
}

func (p *Pool) drainFinishing(ctx context.Context) {
	for {
		p.mu.Lock()
		var key *requestState
		var r poolMember
		for k, v := range p.finishing {
			key, r = k, v
			break
		}
		p.mu.Unlock()
		if r == nil {
			return
		}
		_ = r.blockPoolMember(ctx, 0, false)
		p.mu.Lock()
		delete(p.finishing, key)
		p.mu.Unlock()
	}
}

// Cancel cancels every request currently in active. Requests already
// reaping into finishing are left alone: their completion callbacks run to
// completion untouched.
func (p *Pool) Cancel() {
	p.mu.Lock()
	snapshot := make([]poolMember, 0, len(p.active))
	for _, r := range p.active {
		snapshot = append(snapshot, r)
	}
	p.mu.Unlock()

	for _, r := range snapshot {
		r.cancelPoolMember()
	}
}

// Clean releases the pool's own references to its tracked requests; it does
// not clean the individual requests themselves.
func (p *Pool) Clean() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = make(map[*requestState]poolMember)
	p.finishing = make(map[*requestState]poolMember)
}

// Len returns the number of requests the pool is still tracking (active
// plus finishing).
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active) + len(p.finishing)
}
