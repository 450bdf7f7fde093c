package parquetio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakewriter/deltaingest/internal/batch"
	"github.com/lakewriter/deltaingest/internal/deltaschema"
	"github.com/lakewriter/deltaingest/internal/model"
	"github.com/lakewriter/deltaingest/internal/objectstore"
)

func ordersBatch(t *testing.T) (*deltaschema.TableSchema, []model.Record) {
	t.Helper()
	rs := &model.RecordSchema{
		Name: "orders",
		Fields: []model.RecordField{
			{Name: "id", Type: model.FieldType{Primitive: model.PrimitiveInt64}},
			{Name: "amount", Type: model.FieldType{Primitive: model.PrimitiveFloat64}, Nullable: true},
		},
	}
	ts, err := deltaschema.Translate(rs, "id", nil)
	require.NoError(t, err)

	records := []model.Record{
		{Schema: rs, Values: []model.Value{model.NewI64(1), model.NewF64(9.5)}},
		{Schema: rs, Values: []model.Value{model.NewI64(2), model.NewF64(3.25)}},
		{Schema: rs, Values: []model.Value{model.NewI64(3), model.NewNull()}},
	}
	return ts, records
}

func TestWriteProducesDataFileStatusWithStats(t *testing.T) {
	ts, records := ordersBatch(t)
	rec, err := batch.NewAssembler().Assemble(ts, records)
	require.NoError(t, err)
	defer rec.Release()

	store, err := objectstore.NewLocal(t.TempDir())
	require.NoError(t, err)

	w := New(DefaultConfig())
	status, err := w.Write(context.Background(), store, "orders", rec, 0, []string{"id"})
	require.NoError(t, err)

	assert.Equal(t, int64(3), status.RowCount)
	assert.Greater(t, status.SizeBytes, int64(0))
	assert.Contains(t, status.RelativePath, "orders/")
	assert.Contains(t, status.RelativePath, ".snappy.parquet")

	mm, ok := status.MinMaxStats["id"]
	require.True(t, ok)
	assert.Equal(t, "1", mm.Min)
	assert.Equal(t, "3", mm.Max)
	assert.Equal(t, int64(0), status.NullCounts["id"])

	exists, err := store.Exists(context.Background(), status.RelativePath)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestWriteComputesNullCountForNullableColumn(t *testing.T) {
	ts, records := ordersBatch(t)
	rec, err := batch.NewAssembler().Assemble(ts, records)
	require.NoError(t, err)
	defer rec.Release()

	store, err := objectstore.NewLocal(t.TempDir())
	require.NoError(t, err)

	w := New(DefaultConfig())
	status, err := w.Write(context.Background(), store, "orders", rec, 0, []string{"id", "amount"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), status.NullCounts["amount"])
}

func TestWriteRejectsUnknownCompressionCodec(t *testing.T) {
	ts, records := ordersBatch(t)
	rec, err := batch.NewAssembler().Assemble(ts, records)
	require.NoError(t, err)
	defer rec.Release()

	store, err := objectstore.NewLocal(t.TempDir())
	require.NoError(t, err)

	w := New(Config{BlockBytes: DefaultConfig().BlockBytes, Compression: "made-up-codec"})
	_, err = w.Write(context.Background(), store, "orders", rec, 0, nil)
	assert.Error(t, err)
}

func TestWriteCountersProduceDistinctFiles(t *testing.T) {
	ts, records := ordersBatch(t)
	rec, err := batch.NewAssembler().Assemble(ts, records)
	require.NoError(t, err)
	defer rec.Release()

	store, err := objectstore.NewLocal(t.TempDir())
	require.NoError(t, err)

	w := New(DefaultConfig())
	first, err := w.Write(context.Background(), store, "orders", rec, 0, nil)
	require.NoError(t, err)
	second, err := w.Write(context.Background(), store, "orders", rec, 1, nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.RelativePath, second.RelativePath)
}
