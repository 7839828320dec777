package scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCondition_WaitBlocksUntilNotify(t *testing.T) {
	withWorkers(t, 2)

	c := NewCondition()
	ready := make(chan struct{})
	woke := make(chan struct{})

	consumer := NewRequest(context.Background(), func(ctx context.Context) (int, error) {
		if err := c.Acquire(ctx); err != nil {
			return 0, err
		}
		close(ready)
		err := c.Wait(ctx)
		close(woke)
		c.Release()
		return 0, err
	})
	consumer.Submit()

	<-ready
	producer := NewRequest(context.Background(), func(ctx context.Context) (int, error) {
		if err := c.Acquire(ctx); err != nil {
			return 0, err
		}
		c.Notify()
		c.Release()
		return 0, nil
	})
	producer.Submit()
	_, err := producer.Wait(context.Background())
	require.NoError(t, err)

	<-woke
	_, err = consumer.Wait(context.Background())
	require.NoError(t, err)
}

func TestCondition_ProducerConsumerNoLostWakeups(t *testing.T) {
	withWorkers(t, 4)

	c := NewCondition()
	var mu sync.Mutex
	var received []int
	const count = 20

	consumer := NewRequest(context.Background(), func(ctx context.Context) (int, error) {
		if err := c.Acquire(ctx); err != nil {
			return 0, err
		}
		defer c.Release()
		for {
			mu.Lock()
			n := len(received)
			mu.Unlock()
			if n >= count {
				return n, nil
			}
			if err := c.Wait(ctx); err != nil {
				return 0, err
			}
		}
	})
	consumer.Submit()

	pool := NewPool()
	for i := 0; i < count; i++ {
		id := i
		p := NewRequest(context.Background(), func(ctx context.Context) (int, error) {
			if err := c.Acquire(ctx); err != nil {
				return 0, err
			}
			mu.Lock()
			received = append(received, id)
			mu.Unlock()
			c.Notify()
			c.Release()
			return 0, nil
		})
		require.NoError(t, Add(pool, p))
	}
	require.NoError(t, pool.Submit())
	pool.Wait(context.Background())

	total, err := consumer.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, count, total)
}

func TestCondition_NotifyWithNoWaiterIsNoOp(t *testing.T) {
	withWorkers(t, 1)

	c := NewCondition()
	r := NewRequest(context.Background(), func(ctx context.Context) (int, error) {
		if err := c.Acquire(ctx); err != nil {
			return 0, err
		}
		c.Notify()
		c.Release()
		return 1, nil
	})
	r.Submit()

	val, err := r.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, val)
}
