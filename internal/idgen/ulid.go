// Package idgen generates unique identifiers for data files and internal
// batch/transaction tracking.
package idgen

import (
	"sync"

	"github.com/oklog/ulid/v2"
)

var entropyMu sync.Mutex

// New returns a new lexicographically-sortable ULID. Generation is
// serialized with a mutex: ulid.Make() reads from a shared,
// non-thread-safe monotonic entropy source.
func New() ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.Make()
}

// NewString returns a new ULID rendered as a string, for callers that only
// need the textual identifier (file names, txn IDs).
func NewString() string {
	return New().String()
}
