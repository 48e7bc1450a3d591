package shell

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueOrder(t *testing.T) {
	q := NewQueue[int]()
	for i := range 5 {
		q.Publish(i)
	}
	require.Equal(t, 5, q.Len())

	for i := range 5 {
		v, err := q.Consume(t.Context())
		require.NoError(t, err)
		require.Equal(t, i, v)
	}
	_, ok := q.TryConsume()
	require.False(t, ok)
}

func TestQueueConsumeWaits(t *testing.T) {
	q := NewQueue[string]()
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Publish("hello")
	}()

	v, err := q.Consume(t.Context())
	require.NoError(t, err)
	require.Equal(t, "hello", v)
}

func TestQueueConsumeCanceled(t *testing.T) {
	q := NewQueue[string]()
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Consume(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueConcurrentPublishers(t *testing.T) {
	q := NewQueue[int]()
	var wg sync.WaitGroup
	for p := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				q.Publish(p*1000 + i)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 400, q.Len())

	// Per publisher, items come out in the order they went in.
	last := map[int]int{}
	for range 400 {
		v, ok := q.TryConsume()
		require.True(t, ok)
		p, i := v/1000, v%1000
		if prev, seen := last[p]; seen {
			require.Greater(t, i, prev)
		}
		last[p] = i
	}
}
