// Package commit implements the commit coordinator: the component that
// turns a drained writequeue.Batch into a committed Delta transaction log
// entry, retrying conflicts and transient I/O errors under a bounded
// backoff, and resolving every request handle in the batch on both the
// success and failure paths.
package commit

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lakewriter/deltaingest/internal/batch"
	"github.com/lakewriter/deltaingest/internal/checkpoint"
	"github.com/lakewriter/deltaingest/internal/deltalog"
	"github.com/lakewriter/deltaingest/internal/deltapath"
	"github.com/lakewriter/deltaingest/internal/deltaschema"
	"github.com/lakewriter/deltaingest/internal/idgen"
	"github.com/lakewriter/deltaingest/internal/metacache"
	"github.com/lakewriter/deltaingest/internal/model"
	"github.com/lakewriter/deltaingest/internal/objectstore"
	"github.com/lakewriter/deltaingest/internal/parquetio"
	"github.com/lakewriter/deltaingest/internal/registry"
	"github.com/lakewriter/deltaingest/internal/writequeue"
	"github.com/lakewriter/deltaingest/pkg/errors"
)

// Config controls the coordinator's retry behavior.
type Config struct {
	MaxRetries int
	// RetryBaseDelay is the starting exponential-backoff delay.
	RetryBaseDelay time.Duration
	// SchemaCacheTTL bounds how long a translated Delta schema is reused
	// before re-deriving it from the registry's record schema. A
	// re-registration busts the entry immediately regardless of TTL.
	SchemaCacheTTL time.Duration
}

// DefaultConfig returns the documented commit-retry defaults.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, RetryBaseDelay: 50 * time.Millisecond, SchemaCacheTTL: 5 * time.Minute}
}

// Stats counts commit outcomes across the coordinator's lifetime, exposed
// through the engine's metrics snapshot.
type Stats struct {
	Commits   int64
	Conflicts int64
	Retries   int64
}

// Coordinator drives the per-table commit protocol. One Coordinator is
// shared by every commitpool worker; per-table serialization comes from
// tableLocks, not from pinning a Coordinator to a worker.
type Coordinator struct {
	cfg         Config
	store       objectstore.Store
	storageType deltapath.StorageType
	basePath    string

	registry     *registry.Registry
	cache        *metacache.Cache
	assembler    *batch.Assembler
	writer       *parquetio.Writer
	checkpointer *checkpoint.Checkpointer

	// schemas is the translated-schema tier: table name to the Delta
	// schema last derived from that table's registered record schema.
	// It outlives the snapshot-metadata cache because translation only
	// changes when the registration does.
	schemaMu sync.Mutex
	schemas  map[string]schemaCacheEntry

	statsMu sync.Mutex
	stats   Stats

	locks *tableLocks
	log   zerolog.Logger
}

type schemaCacheEntry struct {
	src      *model.RecordSchema
	ts       *deltaschema.TableSchema
	loadedAt time.Time
}

// New returns a ready Coordinator.
func New(
	cfg Config,
	store objectstore.Store,
	storageType deltapath.StorageType,
	basePath string,
	reg *registry.Registry,
	cache *metacache.Cache,
	assembler *batch.Assembler,
	writer *parquetio.Writer,
	checkpointer *checkpoint.Checkpointer,
	log zerolog.Logger,
) *Coordinator {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 50 * time.Millisecond
	}
	if cfg.SchemaCacheTTL <= 0 {
		cfg.SchemaCacheTTL = 5 * time.Minute
	}
	return &Coordinator{
		cfg:          cfg,
		store:        store,
		storageType:  storageType,
		basePath:     basePath,
		registry:     reg,
		cache:        cache,
		assembler:    assembler,
		writer:       writer,
		checkpointer: checkpointer,
		schemas:      make(map[string]schemaCacheEntry),
		locks:        newTableLocks(),
		log:          log,
	}
}

// Stats returns a snapshot of the coordinator's commit counters.
func (cc *Coordinator) Stats() Stats {
	cc.statsMu.Lock()
	defer cc.statsMu.Unlock()
	return cc.stats
}

// commitTask adapts one writequeue.Batch to the commitpool.Task interface.
type commitTask struct {
	coordinator *Coordinator
	batch       *writequeue.Batch
}

func (t *commitTask) GetID() string { return t.batch.Table }

func (t *commitTask) Execute(ctx context.Context) error {
	return t.coordinator.commitBatch(ctx, t.batch)
}

// Task wraps batch as a commitpool.Task ready for Pool.Submit.
func (cc *Coordinator) Task(b *writequeue.Batch) *commitTask {
	return &commitTask{coordinator: cc, batch: b}
}

// commitBatch runs the full commit protocol for one batch, guaranteeing
// every request handle is resolved exactly once regardless of outcome.
func (cc *Coordinator) commitBatch(ctx context.Context, b *writequeue.Batch) error {
	unlock := cc.locks.lock(b.Table)
	defer unlock()

	entity, err := cc.registry.Get(b.Table)
	if err != nil {
		cc.failBatch(b, err)
		return err
	}

	ts, err := cc.resolveSchema(ctx, b.Table, entity)
	if err != nil {
		cc.failBatch(b, err)
		return err
	}

	valid := cc.isolateInvalidRecords(b, ts)
	if len(valid.Requests) == 0 {
		return nil
	}

	groups, err := groupByPartition(entity, valid.Records)
	if err != nil {
		cc.failBatch(valid, err)
		return err
	}

	var lastErr error
	delay := cc.cfg.RetryBaseDelay
	for attempt := 0; attempt <= cc.cfg.MaxRetries; attempt++ {
		version, snap, err := cc.commitOnce(ctx, ts, entity, groups)
		if err == nil {
			cc.statsMu.Lock()
			cc.stats.Commits++
			cc.statsMu.Unlock()
			cc.cache.Invalidate(b.Table)
			cc.checkpointer.AfterCommit(ctx, cc.store, cc.storageType, cc.basePath, b.Table, version, snap)
			cc.resolveBatch(valid, writequeue.Result{Version: version})
			return nil
		}

		lastErr = err
		code, retryable := errors.Classify(err)
		cc.statsMu.Lock()
		if code == errors.CodeConcurrentCommit {
			cc.stats.Conflicts++
		}
		if retryable {
			cc.stats.Retries++
		}
		cc.statsMu.Unlock()
		if !retryable {
			cc.log.Error().Err(err).Str("table", b.Table).Str("code", code.String()).Msg("commit failed, not retryable")
			cc.failBatch(valid, err)
			return err
		}
		if attempt == cc.cfg.MaxRetries {
			break
		}

		cc.log.Warn().Err(err).Str("table", b.Table).Int("attempt", attempt+1).Msg("commit attempt failed, retrying")
		jitter := time.Duration(rand.Int63n(int64(delay) + 1))
		select {
		case <-time.After(delay + jitter):
		case <-ctx.Done():
			cc.failBatch(valid, errors.Cancelled("context cancelled during commit retry backoff"))
			return ctx.Err()
		}
		delay *= 2
	}

	cc.log.Error().Str("table", b.Table).Int("max_retries", cc.cfg.MaxRetries).Str("last_attempt", errors.FormatForLog(lastErr)).Msg("commit retries exhausted")
	cc.failBatch(valid, errors.New(errors.CodeInternal, "commit retries exhausted", lastErr).AddContext("table", b.Table))
	return lastErr
}

// isolateInvalidRecords runs ValidateRecord over every record in b,
// resolving the request handle for each invalid record individually with
// ValidationFailure and returning a new Batch containing only the records
// that passed: one malformed record never fails its batch siblings. The
// returned Batch's Records/Requests stay index-aligned and preserve b's
// relative order.
func (cc *Coordinator) isolateInvalidRecords(b *writequeue.Batch, ts *deltaschema.TableSchema) *writequeue.Batch {
	valid := &writequeue.Batch{Table: b.Table}
	for i, rec := range b.Records {
		if err := batch.ValidateRecord(ts, rec); err != nil {
			cc.log.Warn().Err(err).Str("table", b.Table).Msg("record failed validation, isolating from batch")
			b.Requests[i].Resolve(writequeue.Result{Err: err})
			continue
		}
		valid.Records = append(valid.Records, rec)
		valid.Requests = append(valid.Requests, b.Requests[i])
	}
	return valid
}

// resolveSchema resolves the table's Delta schema, consulting the
// Metadata Cache before re-translating the registry's record schema and
// re-probing the object store for the table's current snapshot version.
// The fresh base_version used for the actual commit
// attempt is always re-probed in commitOnce, never taken from this cache:
// the cache exists to avoid repeated Translate/ReadSnapshot calls for the
// read-mostly metadata path, not to gate conflict detection.
func (cc *Coordinator) resolveSchema(ctx context.Context, table string, entity *registry.EntityMetadata) (*deltaschema.TableSchema, error) {
	cached, err := cc.cache.GetOrLoad(ctx, table, "registry", "schema_resolution", func(ctx context.Context, t string) (metacache.CachedTableMetadata, error) {
		return cc.loadMetadata(ctx, t, entity)
	})
	if err != nil {
		return nil, err
	}
	return &deltaschema.TableSchema{
		Name:             entity.TableName,
		Schema:           cached.Schema,
		PartitionColumns: entity.PartitionColumns,
		PrimaryKeyColumn: entity.PrimaryKeyColumn,
	}, nil
}

// translateCached returns the Delta schema for entity's record schema,
// re-translating only when the cached entry has expired or the entity has
// been re-registered (the registry swaps in a fresh record schema on every
// Register, so pointer identity is the staleness signal).
func (cc *Coordinator) translateCached(entity *registry.EntityMetadata) (*deltaschema.TableSchema, error) {
	cc.schemaMu.Lock()
	e, ok := cc.schemas[entity.TableName]
	if ok && e.src == entity.Schema && time.Since(e.loadedAt) < cc.cfg.SchemaCacheTTL {
		cc.schemaMu.Unlock()
		return e.ts, nil
	}
	cc.schemaMu.Unlock()

	ts, err := deltaschema.Translate(entity.Schema, entity.PrimaryKeyColumn, entity.PartitionColumns)
	if err != nil {
		return nil, err
	}

	cc.schemaMu.Lock()
	cc.schemas[entity.TableName] = schemaCacheEntry{src: entity.Schema, ts: ts, loadedAt: time.Now()}
	cc.schemaMu.Unlock()
	return ts, nil
}

func (cc *Coordinator) loadMetadata(ctx context.Context, table string, entity *registry.EntityMetadata) (metacache.CachedTableMetadata, error) {
	ts, err := cc.translateCached(entity)
	if err != nil {
		return metacache.CachedTableMetadata{}, err
	}

	log := deltalog.Open(cc.store, cc.storageType, cc.basePath, table)
	version, exists, err := log.LatestVersion(ctx)
	if err != nil {
		return metacache.CachedTableMetadata{}, err
	}

	handle := ""
	if exists {
		handle, err = deltapath.LogEntryPath(cc.storageType, cc.basePath, table, version)
		if err != nil {
			return metacache.CachedTableMetadata{}, err
		}
	}

	return metacache.CachedTableMetadata{
		Schema:          ts.Schema,
		SnapshotVersion: version,
		FileHandle:      handle,
		LoadedAt:        time.Now(),
	}, nil
}

// commitOnce runs a single commit attempt: probe base_version, assemble and
// write data files, build the action list, and attempt the put-if-absent
// log append. Returns the committed version and the resulting snapshot on
// success.
func (cc *Coordinator) commitOnce(ctx context.Context, ts *deltaschema.TableSchema, entity *registry.EntityMetadata, groups []partitionGroup) (int64, *deltalog.Snapshot, error) {
	log := deltalog.Open(cc.store, cc.storageType, cc.basePath, ts.Name)

	baseVersion, exists, err := log.LatestVersion(ctx)
	if err != nil {
		return 0, nil, err
	}

	schemaString, err := deltaschema.SchemaString(ts)
	if err != nil {
		return 0, nil, err
	}

	var actions []deltalog.Action
	isFirstWrite := !exists
	if isFirstWrite {
		actions = append(actions, deltalog.Action{
			Protocol: &deltalog.ProtocolAction{MinReaderVersion: 1, MinWriterVersion: 2},
		})
		actions = append(actions, deltalog.Action{
			MetaData: &deltalog.MetaDataAction{
				ID:               uuid.New().String(),
				Format:           deltalog.FormatSpec{Provider: "parquet"},
				SchemaString:     schemaString,
				PartitionColumns: entity.PartitionColumns,
				CreatedTime:      time.Now().UnixMilli(),
			},
		})
	} else {
		// A write that lands on a schema that has evolved since the
		// table's last metaData action must itself carry an updated
		// metaData action, not just add actions.
		priorSnap, err := log.ReadSnapshot(ctx)
		if err != nil {
			return 0, nil, err
		}
		if priorSnap.MetaData == nil || priorSnap.MetaData.SchemaString != schemaString {
			id := uuid.New().String()
			createdTime := time.Now().UnixMilli()
			if priorSnap.MetaData != nil {
				id = priorSnap.MetaData.ID
				createdTime = priorSnap.MetaData.CreatedTime
			}
			actions = append(actions, deltalog.Action{
				MetaData: &deltalog.MetaDataAction{
					ID:               id,
					Format:           deltalog.FormatSpec{Provider: "parquet"},
					SchemaString:     schemaString,
					PartitionColumns: entity.PartitionColumns,
					CreatedTime:      createdTime,
				},
			})
		}
	}

	statsColumns := []string{}
	if entity.PrimaryKeyColumn != "" {
		statsColumns = append(statsColumns, entity.PrimaryKeyColumn)
	}

	addActions, err := cc.writeGroups(ctx, ts, groups, statsColumns)
	if err != nil {
		return 0, nil, err
	}
	actions = append(actions, addActions...)

	op := deltalog.OperationWrite
	if isFirstWrite {
		op = deltalog.OperationCreateTable
	}
	actions = append(actions, deltalog.Action{
		CommitInfo: &deltalog.CommitInfoAction{
			Timestamp:     time.Now().UnixMilli(),
			EngineInfo:    deltalog.EngineInfo,
			Operation:     op,
			TxnID:         idgen.NewString(),
			IsBlindAppend: true,
		},
	})

	nextVersion := int64(0)
	if exists {
		nextVersion = baseVersion + 1
	}

	if err := log.Append(ctx, nextVersion, actions); err != nil {
		return 0, nil, err
	}

	// Callers see a 1-indexed commit count: the first commit, log entry
	// 00000000000000000000.json, resolves the caller's future with
	// version=1. The log's own file naming stays 0-indexed.
	reportedVersion := nextVersion + 1

	snap, err := log.ReadSnapshot(ctx)
	if err != nil {
		// The commit itself already succeeded; a failure reconstructing the
		// snapshot only degrades the Checkpointer's input, so surface an
		// empty-files snapshot rather than turning a successful commit into
		// a retried failure.
		cc.log.Warn().Err(err).Str("table", ts.Name).Msg("commit succeeded but snapshot reconstruction failed")
		return reportedVersion, &deltalog.Snapshot{Version: nextVersion, Exists: true}, nil
	}
	return reportedVersion, snap, nil
}

func (cc *Coordinator) writeGroups(ctx context.Context, ts *deltaschema.TableSchema, groups []partitionGroup, statsColumns []string) ([]deltalog.Action, error) {
	var actions []deltalog.Action
	for counter, g := range groups {
		rec, err := cc.assembler.Assemble(ts, g.records)
		if err != nil {
			return nil, err
		}

		dataDir, err := deltapath.DataDir(cc.storageType, cc.basePath, ts.Name, g.values)
		if err != nil {
			rec.Release()
			return nil, err
		}

		status, err := cc.writer.Write(ctx, cc.store, dataDir, rec, counter, statsColumns)
		rec.Release()
		if err != nil {
			return nil, err
		}

		statsJSON, err := encodeStats(status)
		if err != nil {
			return nil, err
		}

		partitionValues := make(map[string]string, len(g.values))
		for _, v := range g.values {
			partitionValues[v.Column] = v.Value
		}

		actions = append(actions, deltalog.Action{
			Add: &deltalog.AddAction{
				Path:             status.RelativePath,
				PartitionValues:  partitionValues,
				Size:             status.SizeBytes,
				ModificationTime: time.Now().UnixMilli(),
				DataChange:       true,
				Stats:            statsJSON,
			},
		})
	}
	return actions, nil
}

func encodeStats(status *parquetio.DataFileStatus) (string, error) {
	if len(status.MinMaxStats) == 0 && len(status.NullCounts) == 0 {
		return "", nil
	}
	minValues := make(map[string]string, len(status.MinMaxStats))
	maxValues := make(map[string]string, len(status.MinMaxStats))
	for col, mm := range status.MinMaxStats {
		minValues[col] = mm.Min
		maxValues[col] = mm.Max
	}
	payload := deltalog.StatsPayload{
		NumRecords: status.RowCount,
		MinValues:  minValues,
		MaxValues:  maxValues,
		NullCount:  status.NullCounts,
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return "", errors.New(errors.CodeInternal, "failed to marshal data file stats", err)
	}
	return string(out), nil
}

// failBatch resolves every request in b with err: no handle is ever left
// unresolved.
func (cc *Coordinator) failBatch(b *writequeue.Batch, err error) {
	cc.resolveBatch(b, writequeue.Result{Err: err})
}

func (cc *Coordinator) resolveBatch(b *writequeue.Batch, res writequeue.Result) {
	for _, req := range b.Requests {
		req.Resolve(res)
	}
}
