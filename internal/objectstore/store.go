// Package objectstore defines the object-store contract the write path
// depends on and its backend implementations. Every backend
// reports errors through pkg/errors' writeengine taxonomy so the commit
// coordinator can classify retryable vs. terminal failures without knowing
// which backend produced them.
package objectstore

import (
	"context"
	"io"
)

// ObjectInfo describes one key returned by ListPrefix.
type ObjectInfo struct {
	Key  string
	Size int64
}

// PutOptions controls Put's write semantics.
type PutOptions struct {
	// IfAbsent requests put-if-absent semantics: Put must fail with a
	// Conflict-classified error if the key already exists, rather than
	// overwrite it. This is the correctness-critical mode for log-entry
	// commits.
	IfAbsent bool
	// ContentType is advisory; backends that don't track it may ignore it.
	ContentType string
}

// Store is the object-store contract consumed by the write path.
// Implementations must be safe for concurrent use by multiple goroutines.
type Store interface {
	// ListPrefix lists every key under prefix along with its size.
	ListPrefix(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// Get returns the full contents of uri.
	Get(ctx context.Context, uri string) ([]byte, error)
	// Put writes bytes to uri. With opts.IfAbsent set, Put must not
	// overwrite an existing object; see PutOptions.IfAbsent.
	Put(ctx context.Context, uri string, body io.Reader, size int64, opts PutOptions) error
	// Exists reports whether uri is present.
	Exists(ctx context.Context, uri string) (bool, error)
}
