package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/lakewriter/deltaingest/pkg/errors"
)

// Local is a filesystem-backed Store rooted at a base directory. Writes are
// atomic: the body goes to a unique temp name and is fsynced, then an
// overwriting Put os.Rename's it into place. Put-if-absent is exact here:
// os.Link of the temp file fails atomically if the target already exists,
// unlike the best-effort probe the S3A backend has to fall back to.
type Local struct {
	root string
}

// NewLocal returns a Local store rooted at root. root is created if absent.
func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.New(errors.CodePermanentIO, "failed to create storage root", err).AddContext("root", root)
	}
	return &Local{root: root}, nil
}

// resolve maps uri to a filesystem path. A path already under root is used
// as is; any other path, absolute or relative, is taken relative to root.
func (l *Local) resolve(uri string) string {
	trimmed := strings.TrimPrefix(uri, "file://")
	root := filepath.Clean(l.root)
	if filepath.IsAbs(trimmed) && (trimmed == root || strings.HasPrefix(trimmed, root+string(filepath.Separator))) {
		return trimmed
	}
	return filepath.Join(root, trimmed)
}

func (l *Local) ListPrefix(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	dir := l.resolve(prefix)
	var out []ObjectInfo

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(l.root, path)
		if relErr != nil {
			rel = path
		}
		out = append(out, ObjectInfo{Key: rel, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, errors.TransientIO("failed to list prefix", err).AddContext("prefix", prefix)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (l *Local) Get(ctx context.Context, uri string) ([]byte, error) {
	data, err := os.ReadFile(l.resolve(uri))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.CommonNotFound, "object not found", err).AddContext("uri", uri)
		}
		return nil, errors.TransientIO("failed to read object", err).AddContext("uri", uri)
	}
	return data, nil
}

func (l *Local) Put(ctx context.Context, uri string, body io.Reader, size int64, opts PutOptions) error {
	path := l.resolve(uri)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(errors.CodePermanentIO, "failed to create parent directory", err).AddContext("uri", uri)
	}

	if opts.IfAbsent {
		return l.putIfAbsent(path, body)
	}
	return l.putOverwrite(path, body)
}

// tmpSeq distinguishes temp names within the process; pid alone is not
// enough once two goroutines race a put to the same target path.
var tmpSeq atomic.Int64

func tmpName(path string) string {
	return fmt.Sprintf("%s.tmp-%d-%d", path, os.Getpid(), tmpSeq.Add(1))
}

// putIfAbsent writes the full body to a uniquely-named temp file, then
// os.Link's it into place: Link fails atomically with EEXIST if the target
// already exists, so there is no probe-then-write race window the way a
// Stat-then-Create sequence would have.
func (l *Local) putIfAbsent(path string, body io.Reader) error {
	tmp := tmpName(path)
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.TransientIO("failed to create temp file", err).AddContext("path", path)
	}
	defer os.Remove(tmp)

	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return errors.TransientIO("failed to write temp file", err).AddContext("path", path)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.TransientIO("failed to sync temp file", err).AddContext("path", path)
	}
	if err := f.Close(); err != nil {
		return errors.TransientIO("failed to close temp file", err).AddContext("path", path)
	}

	if err := os.Link(tmp, path); err != nil {
		if os.IsExist(err) {
			return errors.ConcurrentCommit(fmt.Sprintf("object already exists at %s", path))
		}
		return errors.TransientIO("failed to link temp file into place", err).AddContext("path", path)
	}
	return nil
}

func (l *Local) putOverwrite(path string, body io.Reader) error {
	tmp := tmpName(path)
	f, err := os.Create(tmp)
	if err != nil {
		return errors.TransientIO("failed to create temp file", err).AddContext("path", path)
	}
	defer os.Remove(tmp)

	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return errors.TransientIO("failed to write temp file", err).AddContext("path", path)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.TransientIO("failed to sync temp file", err).AddContext("path", path)
	}
	if err := f.Close(); err != nil {
		return errors.TransientIO("failed to close temp file", err).AddContext("path", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.TransientIO("failed to rename temp file into place", err).AddContext("path", path)
	}
	return nil
}

func (l *Local) Exists(ctx context.Context, uri string) (bool, error) {
	_, err := os.Stat(l.resolve(uri))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.TransientIO("failed to stat object", err).AddContext("uri", uri)
}
