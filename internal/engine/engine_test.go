package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakewriter/deltaingest/internal/config"
	"github.com/lakewriter/deltaingest/internal/deltalog"
	"github.com/lakewriter/deltaingest/internal/deltapath"
	"github.com/lakewriter/deltaingest/internal/model"
	"github.com/lakewriter/deltaingest/internal/objectstore"
	"github.com/lakewriter/deltaingest/internal/registry"
	"github.com/lakewriter/deltaingest/internal/writequeue"
	"github.com/lakewriter/deltaingest/pkg/errors"
)

func usersSchema() *model.RecordSchema {
	return &model.RecordSchema{
		Name: "users",
		Fields: []model.RecordField{
			{Name: "user_id", Type: model.FieldType{Primitive: model.PrimitiveString}, Nullable: false},
			{Name: "email", Type: model.FieldType{Primitive: model.PrimitiveString}, Nullable: true},
			{Name: "country", Type: model.FieldType{Primitive: model.PrimitiveString}, Nullable: false},
		},
	}
}

func userRecord(id, email, country string) model.Record {
	return model.Record{
		Schema: usersSchema(),
		Values: []model.Value{model.NewStr(id), model.NewStr(email), model.NewStr(country)},
	}
}

// startTestEngine brings up a full engine against a LOCAL store rooted in a
// temp dir, with a fast dispatcher cadence so tests complete quickly.
func startTestEngine(t *testing.T, mutate func(*config.Config)) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Storage.Type = "LOCAL"
	cfg.Storage.BasePath = filepath.Join(dir, "warehouse")
	cfg.Registry.SQLitePath = filepath.Join(dir, "registry.db")
	cfg.WriteQueue.BatchTimeoutMS = 10
	if mutate != nil {
		mutate(cfg)
	}

	e, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, e.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	return e, cfg.Storage.BasePath
}

func awaitWrite(t *testing.T, e *Engine, table string, rec model.Record) writequeue.Result {
	t.Helper()
	future, err := e.Write(table, rec)
	require.NoError(t, err)
	select {
	case res := <-future:
		return res
	case <-time.After(10 * time.Second):
		t.Fatal("write did not resolve")
		return writequeue.Result{}
	}
}

func openLog(t *testing.T, basePath, table string) *deltalog.Log {
	t.Helper()
	store, err := objectstore.NewLocal(basePath)
	require.NoError(t, err)
	return deltalog.Open(store, deltapath.StorageLocal, basePath, table)
}

func TestEngineSingleAppend(t *testing.T) {
	e, basePath := startTestEngine(t, nil)

	require.NoError(t, e.RegisterEntity(context.Background(), "users", usersSchema(), "user_id", nil, registry.BackwardCompatible))

	res := awaitWrite(t, e, "users", userRecord("u1", "u1@x", "US"))
	require.NoError(t, res.Err)
	assert.EqualValues(t, 1, res.Version)

	log := openLog(t, basePath, "users")
	actions, err := log.ReadVersion(context.Background(), 0)
	require.NoError(t, err)

	var protocols, metadatas, adds, commitInfos int
	for _, a := range actions {
		switch {
		case a.Protocol != nil:
			protocols++
		case a.MetaData != nil:
			metadatas++
		case a.Add != nil:
			adds++
		case a.CommitInfo != nil:
			commitInfos++
		}
	}
	assert.Equal(t, 1, protocols)
	assert.Equal(t, 1, metadatas)
	assert.Equal(t, 1, adds)
	assert.Equal(t, 1, commitInfos)

	latest, ok, err := log.LatestVersion(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 0, latest) // only one log entry on disk
}

func TestEngineCoalescesConcurrentWrites(t *testing.T) {
	e, basePath := startTestEngine(t, func(cfg *config.Config) {
		cfg.WriteQueue.BatchTimeoutMS = 200
	})

	require.NoError(t, e.RegisterEntity(context.Background(), "users", usersSchema(), "user_id", nil, registry.BackwardCompatible))

	const n = 20
	futures := make([]<-chan writequeue.Result, n)
	for i := 0; i < n; i++ {
		f, err := e.Write("users", userRecord("u"+string(rune('a'+i)), "x@x", "US"))
		require.NoError(t, err)
		futures[i] = f
	}

	versions := make(map[int64]int)
	for _, f := range futures {
		select {
		case res := <-f:
			require.NoError(t, res.Err)
			versions[res.Version]++
		case <-time.After(10 * time.Second):
			t.Fatal("write did not resolve")
		}
	}
	require.Len(t, versions, 1) // every caller landed in the same commit
	assert.Equal(t, n, versions[1])

	log := openLog(t, basePath, "users")
	latest, ok, err := log.LatestVersion(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 0, latest)
}

func TestEngineSequentialWritesAdvanceVersion(t *testing.T) {
	e, _ := startTestEngine(t, nil)

	require.NoError(t, e.RegisterEntity(context.Background(), "users", usersSchema(), "user_id", nil, registry.BackwardCompatible))

	for i := 1; i <= 3; i++ {
		res := awaitWrite(t, e, "users", userRecord("u1", "u1@x", "US"))
		require.NoError(t, res.Err)
		assert.EqualValues(t, i, res.Version)
	}
}

func TestEngineCheckpointCadence(t *testing.T) {
	e, basePath := startTestEngine(t, func(cfg *config.Config) {
		cfg.Parquet.CheckpointInterval = 2
	})

	require.NoError(t, e.RegisterEntity(context.Background(), "users", usersSchema(), "user_id", nil, registry.BackwardCompatible))

	for i := 0; i < 4; i++ {
		res := awaitWrite(t, e, "users", userRecord("u1", "u1@x", "US"))
		require.NoError(t, res.Err)
	}

	store, err := objectstore.NewLocal(basePath)
	require.NoError(t, err)
	for _, v := range []int64{2, 4} {
		p, err := deltapath.CheckpointPath(deltapath.StorageLocal, basePath, "users", v)
		require.NoError(t, err)
		exists, err := store.Exists(context.Background(), p)
		require.NoError(t, err)
		assert.True(t, exists, "expected checkpoint at version %d", v)
	}

	m := e.Metrics()
	assert.EqualValues(t, 2, m.Checkpoint.Completed)
	assert.EqualValues(t, 0, m.Checkpoint.Failed)
}

func TestEngineWriteToUnregisteredTableFails(t *testing.T) {
	e, _ := startTestEngine(t, nil)

	res := awaitWrite(t, e, "ghost", userRecord("u1", "u1@x", "US"))
	require.Error(t, res.Err)
	code, _ := errors.Classify(res.Err)
	assert.Equal(t, errors.CodeUnknownTable, code)
}

func TestEngineQueueFullRejectsAtEnqueue(t *testing.T) {
	e, _ := startTestEngine(t, func(cfg *config.Config) {
		cfg.WriteQueue.Capacity = 1
		cfg.WriteQueue.BatchTimeoutMS = 5000 // keep the dispatcher out of the way
	})

	require.NoError(t, e.RegisterEntity(context.Background(), "users", usersSchema(), "user_id", nil, registry.BackwardCompatible))

	_, err := e.Write("users", userRecord("u1", "u1@x", "US"))
	require.NoError(t, err)

	_, err = e.Write("users", userRecord("u2", "u2@x", "US"))
	require.Error(t, err)
	code, _ := errors.Classify(err)
	assert.Equal(t, errors.CodeQueueFull, code)
}

func TestEngineMetricsCountQueueTraffic(t *testing.T) {
	e, _ := startTestEngine(t, nil)

	require.NoError(t, e.RegisterEntity(context.Background(), "users", usersSchema(), "user_id", nil, registry.BackwardCompatible))

	res := awaitWrite(t, e, "users", userRecord("u1", "u1@x", "US"))
	require.NoError(t, res.Err)

	m := e.Metrics()
	assert.GreaterOrEqual(t, m.Queue.Enqueued, int64(1))
	assert.GreaterOrEqual(t, m.CommitPool.TasksCompleted, int64(1))
	assert.GreaterOrEqual(t, m.Commit.Commits, int64(1))
	assert.Zero(t, m.Commit.Conflicts)
}
