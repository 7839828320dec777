package scheduler

import "context"

// Condition is a single-consumer, multi-producer condition variable built
// from two Locks (spec.md §4.D). Because Lock is not reentrant, acquiring
// the waiter lock twice is the suspension mechanism: the first acquisition
// always succeeds (nothing else holds it), the second blocks until a
// producer's Notify releases it.
type Condition struct {
	ownership *Lock
	waiter    *Lock
}

// NewCondition builds a Condition. Callers acquire its ownership lock
// before touching whatever shared state the condition guards.
func NewCondition() *Condition {
	return &Condition{ownership: NewLock(), waiter: NewLock()}
}

// Acquire takes the ownership lock.
func (c *Condition) Acquire(ctx context.Context) error {
	_, err := c.ownership.Acquire(ctx, true)
	return err
}

// Release releases the ownership lock.
func (c *Condition) Release() { c.ownership.Release() }

// WithLock runs fn while holding the ownership lock (spec.md §6's "scoped
// acquisition").
func (c *Condition) WithLock(ctx context.Context, fn func() error) error {
	return c.ownership.WithLock(ctx, fn)
}

// Wait must be called while holding the ownership lock. It releases
// ownership, blocks until a producer calls Notify, then reacquires
// ownership before returning. There is no spurious-wakeup loop to write at
// the call site: Wait only returns once a Notify has actually run (or the
// waiter lock's own Acquire fails, e.g. because the calling request was
// cancelled).
func (c *Condition) Wait(ctx context.Context) error {
	if _, err := c.waiter.Acquire(ctx, true); err != nil {
		return err
	}
	c.ownership.Release()

	_, waitErr := c.waiter.Acquire(ctx, true)

	if _, err := c.ownership.Acquire(ctx, true); err != nil {
		return err
	}

	if c.waiter.Locked() {
		c.waiter.Release()
	}
	return waitErr
}

// Notify wakes the single consumer blocked in Wait, if any. The caller must
// hold the ownership lock.
func (c *Condition) Notify() {
	if c.waiter.Locked() {
		c.waiter.Release()
	}
}
