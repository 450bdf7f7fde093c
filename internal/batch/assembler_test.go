package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakewriter/deltaingest/internal/deltaschema"
	"github.com/lakewriter/deltaingest/internal/model"
)

func ordersSchema(t *testing.T) *deltaschema.TableSchema {
	t.Helper()
	rs := &model.RecordSchema{
		Name: "orders",
		Fields: []model.RecordField{
			{Name: "id", Type: model.FieldType{Primitive: model.PrimitiveInt64}},
			{Name: "amount", Type: model.FieldType{Primitive: model.PrimitiveFloat64}, Nullable: true},
			{Name: "tags", Type: model.FieldType{Primitive: model.PrimitiveArray, Element: &model.FieldType{Primitive: model.PrimitiveString}}, Nullable: true},
		},
	}
	ts, err := deltaschema.Translate(rs, "id", nil)
	require.NoError(t, err)
	return ts
}

func TestAssembleBuildsColumnsInSchemaOrder(t *testing.T) {
	ts := ordersSchema(t)
	records := []model.Record{
		{Schema: &model.RecordSchema{Name: "orders", Fields: []model.RecordField{
			{Name: "amount", Type: model.FieldType{Primitive: model.PrimitiveFloat64}},
			{Name: "id", Type: model.FieldType{Primitive: model.PrimitiveInt64}},
		}}, Values: []model.Value{model.NewF64(9.5), model.NewI64(1)}},
	}

	rec, err := NewAssembler().Assemble(ts, records)
	require.NoError(t, err)
	defer rec.Release()

	assert.Equal(t, int64(1), rec.NumRows())
	assert.Equal(t, "id", rec.Schema().Field(0).Name)
	assert.Equal(t, "amount", rec.Schema().Field(1).Name)
}

func TestAssembleRejectsMissingRequiredField(t *testing.T) {
	ts := ordersSchema(t)
	records := []model.Record{
		{Schema: &model.RecordSchema{Name: "orders"}, Values: nil},
	}

	_, err := NewAssembler().Assemble(ts, records)
	assert.Error(t, err)
}

func TestAssembleAllowsNullForNullableField(t *testing.T) {
	ts := ordersSchema(t)
	rs := &model.RecordSchema{Fields: []model.RecordField{{Name: "id", Type: model.FieldType{Primitive: model.PrimitiveInt64}}}}
	records := []model.Record{{Schema: rs, Values: []model.Value{model.NewI64(42)}}}

	rec, err := NewAssembler().Assemble(ts, records)
	require.NoError(t, err)
	defer rec.Release()
	assert.Equal(t, int64(1), rec.NumRows())
}

func TestAssembleCoercesNumericKind(t *testing.T) {
	ts := ordersSchema(t)
	rs := &model.RecordSchema{Fields: []model.RecordField{
		{Name: "id", Type: model.FieldType{Primitive: model.PrimitiveInt32}},
	}}
	records := []model.Record{{Schema: rs, Values: []model.Value{model.NewI32(7)}}}

	rec, err := NewAssembler().Assemble(ts, records)
	require.NoError(t, err)
	defer rec.Release()
	assert.Equal(t, int64(1), rec.NumRows())
}

func TestAssembleArrayColumn(t *testing.T) {
	ts := ordersSchema(t)
	rs := &model.RecordSchema{Fields: []model.RecordField{
		{Name: "id", Type: model.FieldType{Primitive: model.PrimitiveInt64}},
		{Name: "tags", Type: model.FieldType{Primitive: model.PrimitiveArray, Element: &model.FieldType{Primitive: model.PrimitiveString}}},
	}}
	records := []model.Record{{Schema: rs, Values: []model.Value{
		model.NewI64(1),
		model.NewArray([]model.Value{model.NewStr("a"), model.NewStr("b")}),
	}}}

	rec, err := NewAssembler().Assemble(ts, records)
	require.NoError(t, err)
	defer rec.Release()
	assert.Equal(t, int64(1), rec.NumRows())
}
