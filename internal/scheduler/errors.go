package scheduler

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by request lifecycle operations. Callers should
// use errors.Is against these rather than comparing strings.
var (
	// ErrCancelled is returned by Wait/Block/Lock.Acquire/RaiseIfCancelled
	// when the calling request has been cancelled, and by Result for a
	// request that completed cancelled.
	ErrCancelled = errors.New("scheduler: request cancelled")

	// ErrInvalidRequest is returned when waiting on a request that has been
	// cancelled, whether before or during its execution.
	ErrInvalidRequest = errors.New("scheduler: request is invalid (cancelled)")

	// ErrCircularWait is returned when a request waits on itself before it
	// has finished.
	ErrCircularWait = errors.New("scheduler: circular wait on self")

	// ErrTimeout is returned by a foreign-thread Wait/Block call whose
	// deadline elapsed before the target request finished.
	ErrTimeout = errors.New("scheduler: wait timed out")

	// ErrPoolAlreadyStarted is returned by Add and Pool.Submit once the
	// pool has already begun submitting its batch.
	ErrPoolAlreadyStarted = errors.New("scheduler: request pool already started")

	// ErrCleaned is returned by Result when the request has already been
	// cleaned and its bookkeeping discarded.
	ErrCleaned = errors.New("scheduler: request already cleaned")

	// ErrNotComplete is returned by Result when the workload has not yet
	// finished executing.
	ErrNotComplete = errors.New("scheduler: request has not finished executing")
)

// panicToError turns a recovered completion-callback panic into a plain
// error so it can be carried through the same failure slot as a workload
// error.
func panicToError(rec any) error {
	if err, ok := rec.(error); ok {
		return err
	}
	return fmt.Errorf("scheduler: completion callback panicked: %v", rec)
}
