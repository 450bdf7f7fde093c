package deltalog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lakewriter/deltaingest/internal/deltapath"
	"github.com/lakewriter/deltaingest/internal/objectstore"
	"github.com/lakewriter/deltaingest/pkg/errors"
)

var (
	CodeCorruptEntry = errors.MustNewCode("deltalog.corrupt_entry")
)

// Log is a handle onto a single table's _delta_log directory in object
// storage. It has no in-memory state beyond its coordinates: every read
// goes to the store, so a Log is cheap to construct per-commit-attempt and
// safe to share across goroutines.
type Log struct {
	store       objectstore.Store
	storageType deltapath.StorageType
	basePath    string
	table       string
}

// Open returns a Log handle for table, resolved against the configured
// storage backend.
func Open(store objectstore.Store, storageType deltapath.StorageType, basePath, table string) *Log {
	return &Log{store: store, storageType: storageType, basePath: basePath, table: table}
}

// LogDir returns the table's _delta_log directory URI.
func (l *Log) LogDir() (string, error) {
	return deltapath.DeltaLogDir(l.storageType, l.basePath, l.table)
}

// LatestVersion probes the log directory for the highest committed version
// by listing entry file names. Returns ok=false if the table has never
// been committed.
func (l *Log) LatestVersion(ctx context.Context) (version int64, ok bool, err error) {
	dir, err := l.LogDir()
	if err != nil {
		return 0, false, err
	}
	objs, err := l.store.ListPrefix(ctx, dir)
	if err != nil {
		return 0, false, err
	}

	found := false
	var max int64
	for _, o := range objs {
		name := o.Key
		if idx := strings.LastIndex(name, "/"); idx >= 0 {
			name = name[idx+1:]
		}
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		numPart := strings.TrimSuffix(name, ".json")
		v, convErr := strconv.ParseInt(numPart, 10, 64)
		if convErr != nil {
			continue
		}
		if !found || v > max {
			max = v
			found = true
		}
	}
	return max, found, nil
}

// ReadVersion reads and parses the newline-delimited action records of one
// log entry.
func (l *Log) ReadVersion(ctx context.Context, version int64) ([]Action, error) {
	path, err := deltapath.LogEntryPath(l.storageType, l.basePath, l.table, version)
	if err != nil {
		return nil, err
	}
	data, err := l.store.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	return parseEntries(data, version)
}

func parseEntries(data []byte, version int64) ([]Action, error) {
	var actions []Action
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var a Action
		if err := json.Unmarshal(line, &a); err != nil {
			return nil, errors.New(CodeCorruptEntry, fmt.Sprintf("failed to parse log entry at version %d", version), err)
		}
		actions = append(actions, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.New(CodeCorruptEntry, fmt.Sprintf("failed to scan log entry at version %d", version), err)
	}
	return actions, nil
}

// Append attempts to write actions as the log entry at version, using the
// store's put-if-absent semantics. A pre-existing entry at that version
// surfaces as ConcurrentCommit; the commit coordinator is responsible for
// re-probing and retrying.
func (l *Log) Append(ctx context.Context, version int64, actions []Action) error {
	path, err := deltapath.LogEntryPath(l.storageType, l.basePath, l.table, version)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	for _, a := range sortActions(actions) {
		line, err := json.Marshal(a)
		if err != nil {
			return errors.New(errors.CodeInternal, "failed to marshal log action", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	body := buf.Bytes()
	return l.store.Put(ctx, path, bytes.NewReader(body), int64(len(body)), objectstore.PutOptions{
		IfAbsent:    true,
		ContentType: "application/json",
	})
}

// Snapshot is a reconstruction of a table's state at Version: its latest
// metaData action and the full set of active data files. Append-only
// semantics (no remove actions exist in this engine's scope) mean the
// active file set is simply every add action ever committed at or below
// Version.
type Snapshot struct {
	Version  int64
	Exists   bool
	MetaData *MetaDataAction
	Protocol *ProtocolAction
	Files    []AddAction
}

// ReadSnapshot reconstructs the table's state as of its latest committed
// version by replaying every log entry from version 0 forward, via
// ReadSnapshotFrom; checkpoint files are not read. Used by the Commit
// Coordinator.
func (l *Log) ReadSnapshot(ctx context.Context) (*Snapshot, error) {
	latest, ok, err := l.LatestVersion(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Snapshot{Exists: false}, nil
	}
	return l.ReadSnapshotFrom(ctx, 0, nil, latest)
}

// ReadSnapshotFrom replays versions [fromVersion, toVersion] on top of a
// base snapshot (nil means "start empty"). ReadSnapshot calls it with
// fromVersion 0 and a nil base.
func (l *Log) ReadSnapshotFrom(ctx context.Context, fromVersion int64, base *Snapshot, toVersion int64) (*Snapshot, error) {
	snap := &Snapshot{Exists: true, Version: toVersion}
	if base != nil {
		snap.MetaData = base.MetaData
		snap.Protocol = base.Protocol
		snap.Files = append(snap.Files, base.Files...)
	}

	for v := fromVersion; v <= toVersion; v++ {
		actions, err := l.ReadVersion(ctx, v)
		if err != nil {
			return nil, err
		}
		for _, a := range actions {
			switch {
			case a.Protocol != nil:
				snap.Protocol = a.Protocol
			case a.MetaData != nil:
				snap.MetaData = a.MetaData
			case a.Add != nil:
				snap.Files = append(snap.Files, *a.Add)
			}
		}
	}
	return snap, nil
}

// sortActions orders actions so protocol precedes metaData precedes add
// precedes commitInfo, matching the order real Delta writers emit a
// transaction's actions in.
func sortActions(actions []Action) []Action {
	rank := func(a Action) int {
		switch {
		case a.Protocol != nil:
			return 0
		case a.MetaData != nil:
			return 1
		case a.Add != nil:
			return 2
		default:
			return 3
		}
	}
	sorted := make([]Action, len(actions))
	copy(sorted, actions)
	sort.SliceStable(sorted, func(i, j int) bool { return rank(sorted[i]) < rank(sorted[j]) })
	return sorted
}
