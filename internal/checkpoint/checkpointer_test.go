package checkpoint

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakewriter/deltaingest/internal/deltalog"
	"github.com/lakewriter/deltaingest/internal/deltapath"
	"github.com/lakewriter/deltaingest/internal/objectstore"
)

func testSnapshot() *deltalog.Snapshot {
	return &deltalog.Snapshot{
		Exists:   true,
		Protocol: &deltalog.ProtocolAction{MinReaderVersion: 1, MinWriterVersion: 2},
		MetaData: &deltalog.MetaDataAction{ID: "t1", SchemaString: `{"type":"struct"}`},
		Files: []deltalog.AddAction{
			{Path: "a.parquet", Size: 100, DataChange: true},
			{Path: "b.parquet", Size: 200, DataChange: true},
		},
	}
}

func TestAfterCommitSkipsNonBoundaryVersion(t *testing.T) {
	store, err := objectstore.NewLocal(t.TempDir())
	require.NoError(t, err)

	c := New(10, zerolog.Nop())
	c.AfterCommit(context.Background(), store, deltapath.StorageLocal, "/base", "orders", 5, testSnapshot())

	assert.EqualValues(t, 0, c.Stats().Attempted)
}

func TestAfterCommitMaterializesAtBoundary(t *testing.T) {
	store, err := objectstore.NewLocal(t.TempDir())
	require.NoError(t, err)

	c := New(10, zerolog.Nop())
	c.AfterCommit(context.Background(), store, deltapath.StorageLocal, "/base", "orders", 10, testSnapshot())

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Attempted)
	assert.EqualValues(t, 1, stats.Completed)

	path, err := deltapath.CheckpointPath(deltapath.StorageLocal, "/base", "orders", 10)
	require.NoError(t, err)
	exists, err := store.Exists(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestAfterCommitDedupesConcurrentAttempts(t *testing.T) {
	store, err := objectstore.NewLocal(t.TempDir())
	require.NoError(t, err)

	c := New(10, zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.AfterCommit(context.Background(), store, deltapath.StorageLocal, "/base", "orders", 20, testSnapshot())
		}()
	}
	wg.Wait()

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Attempted)
	assert.Greater(t, stats.Deduped, int64(0))
}
