package writequeue

import (
	"sync"

	"github.com/lakewriter/deltaingest/pkg/errors"
)

// Metrics tracks queue throughput and backpressure, exposed through the
// engine's metrics snapshot.
type Metrics struct {
	Enqueued  int64
	Dequeued  int64
	Rejected  int64 // QueueFull
	Coalesced int64 // incremented once per table batch, per dispatch cycle, that consolidated more than one request
}

// Queue is the bounded, multi-producer/single-consumer buffer of pending
// write requests. Enqueue never blocks: at capacity it rejects
// immediately with QueueFull.
type Queue struct {
	mu       sync.Mutex
	items    []*Request
	capacity int

	metricsMu sync.Mutex
	metrics   Metrics
}

// New returns an empty Queue bounded at capacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{capacity: capacity}
}

// Enqueue appends req to the queue, or fails immediately with QueueFull if
// the queue is at capacity.
func (q *Queue) Enqueue(req *Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		q.metricsMu.Lock()
		q.metrics.Rejected++
		q.metricsMu.Unlock()
		return errors.QueueFull("write queue is at capacity")
	}

	q.items = append(q.items, req)
	q.metricsMu.Lock()
	q.metrics.Enqueued++
	q.metricsMu.Unlock()
	return nil
}

// Depth returns the current queue length.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// CalculateOptimalBatchSize picks a drain size from the queue's current
// depth: double the base when deeply backlogged, halve it when nearly
// idle.
func CalculateOptimalBatchSize(depth, maxBatchSize int) int {
	base := maxBatchSize
	switch {
	case depth > 1000:
		doubled := 2 * base
		if doubled > 10000 {
			return 10000
		}
		return doubled
	case depth > 100:
		return base
	default:
		half := base / 2
		if half < 10 {
			return 10
		}
		return half
	}
}

// drain atomically removes up to n requests from the front of the queue.
// "Atomic" here means the whole slice mutation happens under q.mu, so a
// dispatcher that observes the queue as drained cannot race with a
// producer's concurrent Enqueue.
func (q *Queue) drain(n int) []*Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	if n > len(q.items) {
		n = len(q.items)
	}
	out := q.items[:n]
	q.items = q.items[n:]

	q.metricsMu.Lock()
	q.metrics.Dequeued += int64(len(out))
	q.metricsMu.Unlock()
	return out
}

// drainAll removes and returns every remaining request, used only during
// shutdown once the normal dispatch loop has stopped.
func (q *Queue) drainAll() []*Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Metrics returns a snapshot of the queue's counters.
func (q *Queue) Metrics() Metrics {
	q.metricsMu.Lock()
	defer q.metricsMu.Unlock()
	return q.metrics
}

func (q *Queue) recordCoalesce() {
	q.metricsMu.Lock()
	q.metrics.Coalesced++
	q.metricsMu.Unlock()
}
