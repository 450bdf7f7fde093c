// Package engine wires together the write queue, commit coordinator, commit
// worker pool, entity registry, metadata cache and checkpointer into the
// operations exposed at the process boundary: Write, RegisterEntity and
// Metrics. Every dependency is constructed up front; callers operate
// against the single finished graph.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/lakewriter/deltaingest/internal/batch"
	"github.com/lakewriter/deltaingest/internal/checkpoint"
	"github.com/lakewriter/deltaingest/internal/commit"
	"github.com/lakewriter/deltaingest/internal/commitpool"
	"github.com/lakewriter/deltaingest/internal/config"
	"github.com/lakewriter/deltaingest/internal/deltapath"
	"github.com/lakewriter/deltaingest/internal/metacache"
	"github.com/lakewriter/deltaingest/internal/model"
	"github.com/lakewriter/deltaingest/internal/objectstore"
	"github.com/lakewriter/deltaingest/internal/parquetio"
	"github.com/lakewriter/deltaingest/internal/registry"
	"github.com/lakewriter/deltaingest/internal/writequeue"
	"github.com/lakewriter/deltaingest/pkg/errors"
)

// Engine is the assembled write-path: every request presented to Write
// flows through the Write Queue, gets coalesced into a per-table batch by
// the Dispatcher, and is handed to the Commit Coordinator via the commit
// worker pool.
type Engine struct {
	cfg         *config.Config
	storageType deltapath.StorageType

	registry     *registry.Registry
	queue        *writequeue.Queue
	dispatcher   *writequeue.Dispatcher
	pool         *commitpool.Pool
	coordinator  *commit.Coordinator
	checkpointer *checkpoint.Checkpointer

	log zerolog.Logger
}

// New constructs every component named in cfg and wires the Dispatcher's
// onBatch callback to submit commit work through the pool, but does not
// start any background goroutine; call Start for that.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	storageType := deltapath.StorageType(cfg.Storage.Type)
	factory, err := objectstore.NewFactory(storageType, cfg.Storage.BasePath, objectstore.S3AConfig{
		Endpoint:        cfg.Storage.S3.Endpoint,
		Bucket:          cfg.Storage.S3.Bucket,
		AccessKeyID:     cfg.Storage.S3.AccessKeyID,
		SecretAccessKey: cfg.Storage.S3.SecretAccessKey,
		Region:          cfg.Storage.S3.Region,
		UseTLS:          cfg.Storage.S3.UseTLS,
		PathStyle:       cfg.Storage.S3.PathStyle,
		PoolSize:        cfg.Storage.S3.ConnectionPoolSize,
	})
	if err != nil {
		return nil, err
	}
	store, err := factory.Get(storageType)
	if err != nil {
		return nil, err
	}

	reg, err := registry.Open(ctx, cfg.Registry.SQLitePath, log)
	if err != nil {
		return nil, err
	}

	cache := metacache.New(cfg.CacheTTL(), cfg.Cache.MaxEntries)
	assembler := batch.NewAssembler()
	writer := parquetio.New(parquetio.Config{
		BlockBytes:  cfg.Parquet.BlockBytes,
		Compression: cfg.Parquet.CompressionCodec,
	})
	cpr := checkpoint.New(cfg.Parquet.CheckpointInterval, log)

	coordinator := commit.New(
		commit.Config{
			MaxRetries:     cfg.Commit.MaxRetries,
			RetryBaseDelay: 50 * time.Millisecond,
			SchemaCacheTTL: cfg.SchemaCacheTTL(),
		},
		store, storageType, cfg.Storage.BasePath,
		reg, cache, assembler, writer, cpr, log,
	)

	pool := commitpool.New(cfg.Commit.CommitWorkers, log)
	q := writequeue.New(cfg.WriteQueue.Capacity)

	e := &Engine{
		cfg:          cfg,
		storageType:  storageType,
		registry:     reg,
		queue:        q,
		pool:         pool,
		coordinator:  coordinator,
		checkpointer: cpr,
		log:          log,
	}
	e.dispatcher = writequeue.NewDispatcher(q, cfg.BatchTimeout(), cfg.WriteQueue.MaxBatchSize, e.onBatch)
	return e, nil
}

// onBatch submits a drained batch to the commit pool. A full pool is the one
// place a batch can fail before it ever reaches the Commit Coordinator, so
// every request is resolved with QueueFull right here rather than silently
// dropped.
func (e *Engine) onBatch(b *writequeue.Batch) {
	if err := e.pool.Submit(e.coordinator.Task(b)); err != nil {
		for _, req := range b.Requests {
			req.Resolve(writequeue.Result{Err: errors.QueueFull("commit pool is at capacity")})
		}
	}
}

// Start launches the commit pool and the dispatcher's background goroutine.
func (e *Engine) Start() error {
	if err := e.pool.Start(); err != nil {
		return err
	}
	e.dispatcher.Start()
	return nil
}

// Shutdown drains the write queue with a finite deadline, then stops the
// commit pool.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.dispatcher.Shutdown(ctx)
	if err := e.pool.Stop(); err != nil {
		return err
	}
	return e.registry.Close()
}

// Write enqueues one record for table and returns a channel that resolves to
// the committed version or a categorized error.
func (e *Engine) Write(table string, rec model.Record) (<-chan writequeue.Result, error) {
	req := writequeue.NewRequest(table, rec, e.cfg.WriteTimeout())
	if err := e.queue.Enqueue(req); err != nil {
		return nil, err
	}
	return req.Future(), nil
}

// RegisterEntity registers or updates table's schema in the entity
// registry.
func (e *Engine) RegisterEntity(ctx context.Context, table string, schema *model.RecordSchema, primaryKeyColumn string, partitionColumns []string, policy registry.EvolutionPolicy) error {
	return e.registry.Register(ctx, table, schema, primaryKeyColumn, partitionColumns, policy)
}

// Metrics is the aggregated counter snapshot for the whole write path.
type Metrics struct {
	Queue      writequeue.Metrics
	Commit     commit.Stats
	CommitPool commitpool.Stats
	Checkpoint checkpoint.Stats
}

// Metrics returns a point-in-time snapshot of every counter the write path
// tracks.
func (e *Engine) Metrics() Metrics {
	return Metrics{
		Queue:      e.queue.Metrics(),
		Commit:     e.coordinator.Stats(),
		CommitPool: e.pool.Stats(),
		Checkpoint: e.checkpointer.Stats(),
	}
}
