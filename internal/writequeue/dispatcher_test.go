package writequeue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakewriter/deltaingest/internal/model"
	"github.com/lakewriter/deltaingest/pkg/errors"
)

func TestDispatcherCoalescesSameTableRequests(t *testing.T) {
	q := New(100)
	var mu sync.Mutex
	var batches []*Batch
	d := NewDispatcher(q, 20*time.Millisecond, 1000, func(b *Batch) {
		mu.Lock()
		batches = append(batches, b)
		mu.Unlock()
	})
	d.Start()
	defer d.Shutdown(context.Background())

	var reqs []*Request
	for i := 0; i < 20; i++ {
		r := NewRequest("users", model.Record{}, time.Second)
		reqs = append(reqs, r)
		require.NoError(t, q.Enqueue(r))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Len(t, batches[0].Requests, 20)
	mu.Unlock()
	assert.EqualValues(t, 1, q.Metrics().Coalesced)
}

func TestDispatcherSkipsCancelledRequests(t *testing.T) {
	q := New(10)
	var mu sync.Mutex
	var batches []*Batch
	d := NewDispatcher(q, 10*time.Millisecond, 1000, func(b *Batch) {
		mu.Lock()
		batches = append(batches, b)
		mu.Unlock()
	})
	d.Start()
	defer d.Shutdown(context.Background())

	keep := NewRequest("t", model.Record{}, time.Second)
	drop := NewRequest("t", model.Record{}, time.Second)
	require.NoError(t, q.Enqueue(keep))
	require.NoError(t, q.Enqueue(drop))
	drop.Cancel()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Len(t, batches[0].Requests, 1)
	assert.Same(t, keep, batches[0].Requests[0])
	mu.Unlock()

	res := <-drop.Future()
	assert.Error(t, res.Err)
}

func TestDispatcherResolvesExpiredRequestsWithTimeout(t *testing.T) {
	q := New(10)
	var mu sync.Mutex
	var batches []*Batch
	d := NewDispatcher(q, 10*time.Millisecond, 1000, func(b *Batch) {
		mu.Lock()
		batches = append(batches, b)
		mu.Unlock()
	})

	keep := NewRequest("t", model.Record{}, time.Hour)
	expired := NewRequest("t", model.Record{}, -time.Second)
	require.NoError(t, q.Enqueue(keep))
	require.NoError(t, q.Enqueue(expired))

	d.Start()
	defer d.Shutdown(context.Background())

	res := <-expired.Future()
	require.Error(t, res.Err)
	code, _ := errors.Classify(res.Err)
	assert.Equal(t, errors.CodeTimeout, code)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Len(t, batches[0].Requests, 1)
	assert.Same(t, keep, batches[0].Requests[0])
	mu.Unlock()
}

func TestShutdownResolvesRemainingAsCancelledOnDeadline(t *testing.T) {
	q := New(10)
	d := NewDispatcher(q, time.Hour, 1000, func(b *Batch) {
		time.Sleep(50 * time.Millisecond) // simulate slow commit path
	})
	d.Start()

	r := NewRequest("t", model.Record{}, time.Second)
	require.NoError(t, q.Enqueue(r))

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	d.Shutdown(ctx)

	res := <-r.Future()
	assert.Error(t, res.Err)
}
