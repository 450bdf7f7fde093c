package checkpoint

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/lakewriter/deltaingest/internal/deltalog"
	"github.com/lakewriter/deltaingest/internal/deltapath"
	"github.com/lakewriter/deltaingest/internal/objectstore"
)

// Checkpointer evaluates the checkpoint-interval cadence after every
// commit and materializes a checkpoint when the table has reached a
// boundary.
type Checkpointer struct {
	interval int
	dedup    *dedupSet
	log      zerolog.Logger
}

// New returns a Checkpointer that checkpoints every interval-th committed
// version (checkpoint_interval, default 10).
func New(interval int, log zerolog.Logger) *Checkpointer {
	if interval <= 0 {
		interval = 10
	}
	return &Checkpointer{interval: interval, dedup: newDedupSet(), log: log}
}

// AfterCommit is invoked by the Commit Coordinator once a commit at version
// succeeds. If version is a checkpoint boundary, it materializes a
// checkpoint using snap (the already-reconstructed post-commit snapshot),
// deduplicating against any other in-flight attempt for the same (table,
// version). Checkpoint failures are logged and counted, never returned:
// the commit has already succeeded.
func (c *Checkpointer) AfterCommit(ctx context.Context, store objectstore.Store, storageType deltapath.StorageType, basePath, table string, version int64, snap *deltalog.Snapshot) {
	if version%int64(c.interval) != 0 {
		return
	}
	if !c.dedup.claim(table, version) {
		return
	}

	err := Materialize(ctx, store, storageType, basePath, table, version, snap)
	c.dedup.release(table, version, err)
	if err != nil {
		c.log.Error().Err(err).Str("table", table).Int64("version", version).Msg("checkpoint materialization failed")
		return
	}
	c.log.Info().Str("table", table).Int64("version", version).Msg("checkpoint materialized")
}

// Stats returns a snapshot of checkpoint attempt counters, exposed through
// the engine's metrics() surface.
func (c *Checkpointer) Stats() Stats {
	return c.dedup.snapshot()
}
