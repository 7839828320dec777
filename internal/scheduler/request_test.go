package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withWorkers(t *testing.T, n int) {
	t.Helper()
	pool := ResetWorkerPool(n)
	t.Cleanup(pool.Shutdown)
}

func TestRequest_SubmitWaitSuccess(t *testing.T) {
	withWorkers(t, 2)

	r := NewRequest(context.Background(), func(ctx context.Context) (int, error) {
		return 42, nil
	})
	r.Submit()

	val, err := r.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, val)
}

func TestRequest_SubmitIsIdempotent(t *testing.T) {
	withWorkers(t, 1)

	var calls int32
	r := NewRequest(context.Background(), func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 1, nil
	})
	r.Submit()
	r.Submit()
	r.Submit()

	_, err := r.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRequest_WorkloadFailure(t *testing.T) {
	withWorkers(t, 2)

	boom := errors.New("workload boom")
	r := NewRequest(context.Background(), func(ctx context.Context) (int, error) {
		return 0, boom
	})
	r.Submit()

	_, err := r.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRequest_FanOutFanInSum(t *testing.T) {
	withWorkers(t, 4)

	root := NewRequest(context.Background(), func(ctx context.Context) (int, error) {
		pool := NewPool()
		children := make([]*Request[int], 100)
		for i := 0; i < 100; i++ {
			n := i
			c := NewRequest(ctx, func(ctx context.Context) (int, error) {
				return n, nil
			})
			require.NoError(t, Add(pool, c))
			children[i] = c
		}
		require.NoError(t, pool.Submit())
		pool.Wait(ctx)

		sum := 0
		for _, c := range children {
			v, err := c.Result()
			if err != nil {
				return 0, err
			}
			sum += v
		}
		return sum, nil
	})
	root.Submit()

	sum, err := root.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4950, sum)
}

func TestRequest_CancelBeforeSubmit(t *testing.T) {
	withWorkers(t, 1)

	r := NewRequest(context.Background(), func(ctx context.Context) (int, error) {
		return 1, nil
	})
	ok := r.Cancel()
	assert.True(t, ok)

	_, err := r.Wait(context.Background())
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRequest_CancelNotifyNeverFiresBeforeSubmission(t *testing.T) {
	withWorkers(t, 1)

	var notified bool
	r := NewRequest(context.Background(), func(ctx context.Context) (int, error) {
		return 1, nil
	})
	r.NotifyCancelled(func(ctx context.Context) { notified = true })
	r.Cancel()

	// A request cancelled before Submit/Wait is ever called never runs
	// execute(), so its cancelled callback never fires.
	assert.False(t, notified)
}

func TestRequest_ChildInheritsParentCancellation(t *testing.T) {
	withWorkers(t, 1)

	parent := NewRequest(context.Background(), func(ctx context.Context) (int, error) { return 0, nil })
	ok := parent.Cancel()
	require.True(t, ok)

	ctx := withCurrentRequest(context.Background(), parent.state)
	child := NewRequest(ctx, func(ctx context.Context) (int, error) { return 1, nil })

	assert.True(t, child.state.cancelledFlag(), "a child constructed under a cancelled parent inherits cancelled at construction")
}

func TestRequest_SelfWaitBeforeFinishIsCircular(t *testing.T) {
	withWorkers(t, 0)

	var self *Request[int]
	self = NewRequest(context.Background(), func(ctx context.Context) (int, error) {
		// By the time this runs in debug mode the request is marked
		// finished only after runWorkload returns, so waiting on a
		// not-yet-finished self from inside itself is circular.
		_, err := self.Wait(ctx)
		assert.ErrorIs(t, err, ErrCircularWait)
		return 7, nil
	})
	self.Submit()

	val, err := self.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, val)
}

func TestRequest_SelfWaitFromFinishedCallbackReturnsNormally(t *testing.T) {
	withWorkers(t, 2)

	var self *Request[int]
	self = NewRequest(context.Background(), func(ctx context.Context) (int, error) {
		return 5, nil
	})
	waitErrCh := make(chan error, 1)
	self.NotifyFinished(func(ctx context.Context) {
		_, err := self.Wait(ctx)
		waitErrCh <- err
	})
	self.Submit()

	val, err := self.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, val)

	select {
	case err := <-waitErrCh:
		assert.NoError(t, err, "waiting on self from within its own finished callback must return normally")
	case <-time.After(2 * time.Second):
		t.Fatal("self-wait from finished callback deadlocked")
	}
}

func TestRequest_SelfWaitFromFinishedCallbackReturnsNormally_DebugMode(t *testing.T) {
	withWorkers(t, 0)

	var self *Request[int]
	self = NewRequest(context.Background(), func(ctx context.Context) (int, error) {
		return 5, nil
	})
	waitErrCh := make(chan error, 1)
	self.NotifyFinished(func(ctx context.Context) {
		_, err := self.Wait(ctx)
		waitErrCh <- err
	})
	self.Submit()

	val, err := self.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, val)

	select {
	case err := <-waitErrCh:
		assert.NoError(t, err, "waiting on self from within its own finished callback must return normally")
	case <-time.After(2 * time.Second):
		t.Fatal("self-wait from finished callback deadlocked")
	}
}

func TestRequest_ForeignWaitTimeout(t *testing.T) {
	withWorkers(t, 1)

	release := make(chan struct{})
	r := NewRequest(context.Background(), func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})
	r.Submit()

	_, err := r.Wait(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	close(release)
	_, _ = r.Wait(context.Background())
}

func TestRequest_ResultBeforeCompleteIsNotComplete(t *testing.T) {
	withWorkers(t, 1)

	release := make(chan struct{})
	r := NewRequest(context.Background(), func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})
	r.Submit()

	_, err := r.Result()
	assert.ErrorIs(t, err, ErrNotComplete)

	close(release)
	_, _ = r.Wait(context.Background())
	v, err := r.Result()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestRequest_CleanDiscardsResultAccessButKeepsValue(t *testing.T) {
	withWorkers(t, 1)

	r := NewRequest(context.Background(), func(ctx context.Context) (int, error) {
		return 9, nil
	})
	r.Submit()
	_, err := r.Wait(context.Background())
	require.NoError(t, err)

	v, err := r.Result()
	require.NoError(t, err)
	assert.Equal(t, 9, v)

	r.Clean()
	_, err = r.Result()
	assert.ErrorIs(t, err, ErrCleaned)
}

func TestRequest_WorkerAffinityNeverChanges(t *testing.T) {
	pool := ResetWorkerPool(4)
	t.Cleanup(pool.Shutdown)

	child := NewRequest(context.Background(), func(ctx context.Context) (int, error) {
		time.Sleep(5 * time.Millisecond)
		return 1, nil
	})
	child.Submit()

	_, err := child.Wait(context.Background())
	require.NoError(t, err)

	child.state.mu.Lock()
	w1 := child.state.worker
	child.state.mu.Unlock()
	require.NotNil(t, w1, "a dispatched request is bound to a worker")

	// For a submitted request, assign() (workerpool.go) sets worker, and it
	// runs exactly once per request. A second Submit is a no-op because
	// submit is idempotent, so the binding from the first call must survive.
	child.Submit()
	child.state.mu.Lock()
	w2 := child.state.worker
	child.state.mu.Unlock()
	assert.Same(t, w1, w2)
}

func TestRequest_PanicInWorkloadBecomesFailure(t *testing.T) {
	withWorkers(t, 1)

	r := NewRequest(context.Background(), func(ctx context.Context) (int, error) {
		panic("kaboom")
	})
	r.Submit()

	_, err := r.Wait(context.Background())
	require.Error(t, err)
}

func TestRaiseIfCancelled(t *testing.T) {
	withWorkers(t, 1)

	r := NewRequest(context.Background(), func(ctx context.Context) (int, error) {
		return 0, RaiseIfCancelled(ctx)
	})
	r.Submit()

	_, err := r.Wait(context.Background())
	assert.NoError(t, err, "a request that never gets cancelled sees RaiseIfCancelled return nil")
}

func TestRaiseIfCancelled_ForeignThread(t *testing.T) {
	assert.NoError(t, RaiseIfCancelled(context.Background()))
	assert.False(t, CurrentRequestCancelled(context.Background()))
}
