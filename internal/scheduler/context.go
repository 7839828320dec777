package scheduler

import "context"

// currentRequestKey is the context.Context key used to carry the identity
// of the request that is presently executing. A context built from
// context.Background() (no value set) represents a foreign thread: code
// running outside any request's workload.
//
// This replaces the original implementation's trick of inspecting the
// active coroutine for an owning-request marker. Go has no portable way to
// ask "what is running on this goroutine", but every suspension point in
// this package already takes a context.Context, so the running request's
// identity is threaded through explicitly instead of discovered by
// introspection. Nested "commandeered" execution (see request.go) composes
// naturally: each nested execute() call builds its own child context
// carrying its own identity, so a deeply nested direct-execution chain
// never needs an explicit stack of owning requests the way a greenlet-based
// implementation would.
type currentRequestKey struct{}

// hostRequestKey carries the identity of the request whose goroutine and
// parking/resume channels are actually driving the present call stack. It
// equals the current request except while running "commandeered" (see
// request.go's handling of wait() on a not-yet-started target): a
// commandeered request becomes the current request for bookkeeping and
// cancellation purposes, but any suspension point it hits still has to park
// its *host's* goroutine, since the commandeered request was never given a
// coroutine of its own.
type hostRequestKey struct{}

// withCurrentRequest starts a fresh top-level context for a request that
// has just been handed its own goroutine by a worker (or by the
// foreign-thread inline-run path): the request is both the current request
// and the host driving the suspension channels.
func withCurrentRequest(parent context.Context, r *requestState) context.Context {
	ctx := context.WithValue(parent, currentRequestKey{}, r)
	return context.WithValue(ctx, hostRequestKey{}, r)
}

// withCommandeered builds the context for running a not-yet-started target
// in-place on the caller's coroutine: the target becomes current, but the
// host (and therefore the channels any nested suspension parks on) stays
// whatever it already was.
func withCommandeered(parent context.Context, target *requestState) context.Context {
	return context.WithValue(parent, currentRequestKey{}, target)
}

func currentRequestFrom(ctx context.Context) *requestState {
	if ctx == nil {
		return nil
	}
	r, _ := ctx.Value(currentRequestKey{}).(*requestState)
	return r
}

func hostFrom(ctx context.Context) *requestState {
	if ctx == nil {
		return nil
	}
	r, _ := ctx.Value(hostRequestKey{}).(*requestState)
	return r
}

// CurrentRequestCancelled reports whether the request currently executing
// on ctx has been cancelled. It returns false for a foreign-thread context
// (one with no running request).
func CurrentRequestCancelled(ctx context.Context) bool {
	r := currentRequestFrom(ctx)
	if r == nil {
		return false
	}
	return r.cancelledFlag()
}

// RaiseIfCancelled returns ErrCancelled if the request currently executing
// on ctx has been cancelled, and nil otherwise (including when ctx carries
// no running request). Workload functions call this at natural checkpoints
// and propagate the error upward so a cancelled request unwinds instead of
// continuing to do useless work.
func RaiseIfCancelled(ctx context.Context) error {
	if CurrentRequestCancelled(ctx) {
		return ErrCancelled
	}
	return nil
}
