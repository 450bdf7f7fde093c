package writequeue

import (
	"context"
	"sync"
	"time"

	"github.com/lakewriter/deltaingest/internal/model"
	"github.com/lakewriter/deltaingest/pkg/errors"
)

// Batch is the Write Queue's output unit: every request drained for a
// single table in one dispatch cycle, consolidated into one group. The
// commit coordinator owns it from this point on. Records and Requests stay
// index-aligned, and both preserve enqueue order so the Parquet row order
// matches the order the requests were enqueued.
type Batch struct {
	Table    string
	Records  []model.Record
	Requests []*Request
}

// Dispatcher is the queue's single background consumer.
// On every cycle it drains up to CalculateOptimalBatchSize requests,
// partitions them by table, consolidates same-table groups into one Batch
// each, and hands each Batch to OnBatch.
type Dispatcher struct {
	queue        *Queue
	interval     time.Duration
	maxBatchSize int
	onBatch      func(*Batch)

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewDispatcher returns a Dispatcher that is not yet running; call Start.
func NewDispatcher(queue *Queue, interval time.Duration, maxBatchSize int, onBatch func(*Batch)) *Dispatcher {
	return &Dispatcher{
		queue:        queue,
		interval:     interval,
		maxBatchSize: maxBatchSize,
		onBatch:      onBatch,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start launches the dispatcher's background goroutine.
func (d *Dispatcher) Start() {
	go d.run()
}

func (d *Dispatcher) run() {
	defer close(d.doneCh)

	pollEvery := d.interval / 5
	if pollEvery <= 0 {
		pollEvery = time.Millisecond
	}
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	lastDispatch := time.Now()
	for {
		select {
		case <-ticker.C:
			if time.Since(lastDispatch) >= d.interval || d.queue.Depth() > d.maxBatchSize {
				d.cycle()
				lastDispatch = time.Now()
			}
		case <-d.stopCh:
			return
		}
	}
}

// cycle drains one chunk of requests and dispatches a Batch per table.
func (d *Dispatcher) cycle() {
	n := CalculateOptimalBatchSize(d.queue.Depth(), d.maxBatchSize)
	drained := d.queue.drain(n)
	if len(drained) == 0 {
		return
	}

	now := time.Now()
	groups := make(map[string]*Batch)
	var order []string
	for _, req := range drained {
		if req.IsCancelled() {
			// Already resolved by Cancel(); just drop it from the batch.
			continue
		}
		if now.After(req.Deadline) {
			req.Resolve(Result{Err: errors.WriteTimeout("write deadline elapsed before dispatch")})
			continue
		}
		b, ok := groups[req.Table]
		if !ok {
			b = &Batch{Table: req.Table}
			groups[req.Table] = b
			order = append(order, req.Table)
		}
		b.Records = append(b.Records, req.Record)
		b.Requests = append(b.Requests, req)
	}

	for _, table := range order {
		b := groups[table]
		if len(b.Requests) > 1 {
			d.queue.recordCoalesce()
		}
		d.onBatch(b)
	}
}

// Shutdown drains whatever remains in the queue, dispatching any non-empty
// per-table groups immediately (ignoring the normal cadence), until either
// the queue is empty or ctx's deadline elapses. Anything left unresolved
// when ctx expires is resolved with Cancelled.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.stopOnce.Do(func() { close(d.stopCh) })
	<-d.doneCh

	for {
		if ctx.Err() != nil {
			break
		}
		drained := d.queue.drain(d.maxBatchSize)
		if len(drained) == 0 {
			break
		}
		groups := make(map[string]*Batch)
		var order []string
		for _, req := range drained {
			if req.IsCancelled() {
				continue
			}
			b, ok := groups[req.Table]
			if !ok {
				b = &Batch{Table: req.Table}
				groups[req.Table] = b
				order = append(order, req.Table)
			}
			b.Records = append(b.Records, req.Record)
			b.Requests = append(b.Requests, req)
		}
		for _, table := range order {
			d.onBatch(groups[table])
		}
	}

	if ctx.Err() != nil {
		for _, req := range d.queue.drainAll() {
			req.Resolve(Result{Err: errors.Cancelled("write queue shutdown deadline elapsed")})
		}
	}
}
