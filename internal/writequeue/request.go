// Package writequeue implements the write queue: a bounded,
// multi-producer/single-consumer buffer of per-table write requests, with a
// background dispatcher that drains and coalesces them into per-table
// batches on a fixed cadence, fanned out to many independent
// completion handles plus table-partitioned batch formation.
package writequeue

import (
	"sync"
	"time"

	"github.com/lakewriter/deltaingest/internal/model"
	"github.com/lakewriter/deltaingest/pkg/errors"
)

// Result is what a Request's completion handle eventually resolves to:
// either a committed version, or a categorized error. A handle is
// resolved exactly once.
type Result struct {
	Version int64
	Err     error
}

// Request is one caller's enqueued record, owned by the Write Queue until
// grouped into a batch, at which point ownership transfers to the commit
// coordinator.
type Request struct {
	Table      string
	Record     model.Record
	EnqueuedAt time.Time
	Deadline   time.Time

	mu        sync.Mutex
	resolved  bool
	cancelled bool
	done      chan Result
}

// NewRequest builds a Request for table with the given per-request
// deadline.
func NewRequest(table string, rec model.Record, timeout time.Duration) *Request {
	now := time.Now()
	return &Request{
		Table:      table,
		Record:     rec,
		EnqueuedAt: now,
		Deadline:   now.Add(timeout),
		done:       make(chan Result, 1),
	}
}

// Future returns the channel the caller should receive on (directly, or via
// a context-aware select against the request's own Deadline) to observe the
// Request's outcome.
func (r *Request) Future() <-chan Result {
	return r.done
}

// Cancel marks the request cancelled if it has not yet been resolved,
// dropping it from whatever batch it would otherwise have joined.
// Returns false if the request was already resolved
// (cancel arrived too late to have any effect).
func (r *Request) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved {
		return false
	}
	r.cancelled = true
	r.resolve(Result{Err: errors.Cancelled("request cancelled before dispatch")})
	return true
}

// IsCancelled reports whether Cancel already ran. The dispatcher checks
// this right before drain groups a request into a batch, so a
// caller-initiated cancellation that races with drain is always honored
// exactly.
func (r *Request) IsCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// Resolve delivers res to the request's completion handle exactly once.
// Calling it a second time (e.g. a commit failure path racing a prior
// cancellation) is a no-op.
func (r *Request) Resolve(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved {
		return
	}
	r.resolve(res)
}

// resolve must be called with mu held.
func (r *Request) resolve(res Result) {
	r.resolved = true
	r.done <- res
}
