package batch

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/lakewriter/deltaingest/internal/deltaschema"
	"github.com/lakewriter/deltaingest/internal/model"
	"github.com/lakewriter/deltaingest/pkg/errors"
)

// Assembler builds arrow.Record batches from enqueued records against a
// table's resolved Delta schema, generalized from
// [][]interface{} rows to model.Record and from a fixed primitive set to
// the LIST/MAP types the Schema Translator can also produce.
type Assembler struct {
	pool memory.Allocator
}

// NewAssembler returns an Assembler using the Go heap allocator.
func NewAssembler() *Assembler {
	return &Assembler{pool: memory.NewGoAllocator()}
}

// Assemble converts records into a single arrow.Record whose row order
// matches records' order, with columns laid out in
// ts.Schema field order regardless of the order fields appear in each
// input record.
func (a *Assembler) Assemble(ts *deltaschema.TableSchema, records []model.Record) (arrow.Record, error) {
	arrowSchema, err := ToArrowSchema(ts)
	if err != nil {
		return nil, err
	}

	fields := ts.Schema.Fields()
	columns := make([]arrow.Array, len(fields))
	for i, field := range fields {
		col, err := a.buildColumn(records, field.Name, arrowSchema.Field(i).Type, field.Required)
		if err != nil {
			return nil, err.AddContext("field", field.Name)
		}
		columns[i] = col
	}

	return array.NewRecord(arrowSchema, columns, int64(len(records))), nil
}

func (a *Assembler) buildColumn(records []model.Record, fieldName string, dt arrow.DataType, required bool) (arrow.Array, *errors.Error) {
	builder := array.NewBuilder(a.pool, dt)
	defer builder.Release()

	for rowIdx, rec := range records {
		val, ok := rec.Get(fieldName)
		if !ok {
			if required {
				return nil, errors.ValidationFailure(fmt.Sprintf("row %d missing required field %q", rowIdx, fieldName))
			}
			val = model.NewNull()
		}
		if err := appendValue(builder, dt, val, required); err != nil {
			return nil, err.AddContext("row", rowIdx)
		}
	}

	return builder.NewArray(), nil
}

// appendValue appends a single value to builder, dispatching on the Arrow
// destination type. A null Value is rejected outright for a required
// column rather than silently coerced.
func appendValue(builder array.Builder, dt arrow.DataType, v model.Value, required bool) *errors.Error {
	if v.IsNull() {
		if required {
			return errors.ValidationFailure("null value for required field")
		}
		builder.AppendNull()
		return nil
	}

	switch b := builder.(type) {
	case *array.BooleanBuilder:
		val, err := coerceBool(v)
		if err != nil {
			return err
		}
		b.Append(val)
	case *array.Int32Builder:
		val, err := coerceInt32(v)
		if err != nil {
			return err
		}
		b.Append(val)
	case *array.Int64Builder:
		val, err := coerceInt64(v)
		if err != nil {
			return err
		}
		b.Append(val)
	case *array.Float32Builder:
		val, err := coerceFloat32(v)
		if err != nil {
			return err
		}
		b.Append(val)
	case *array.Float64Builder:
		val, err := coerceFloat64(v)
		if err != nil {
			return err
		}
		b.Append(val)
	case *array.StringBuilder:
		val, err := coerceString(v)
		if err != nil {
			return err
		}
		b.Append(val)
	case *array.BinaryBuilder:
		val, err := coerceBytes(v)
		if err != nil {
			return err
		}
		b.Append(val)
	case *array.ListBuilder:
		return appendList(b, v)
	case *array.MapBuilder:
		return appendMap(b, v)
	default:
		return errors.New(errors.CodeInternal, fmt.Sprintf("unsupported arrow builder type %T", builder), nil)
	}
	return nil
}

func appendList(b *array.ListBuilder, v model.Value) *errors.Error {
	if v.Kind() != model.KindArray {
		return typeMismatch("array", v)
	}
	b.Append(true)
	elemBuilder := b.ValueBuilder()
	elemType := b.Type().(*arrow.ListType).Elem()
	for _, elem := range v.Array() {
		if err := appendValue(elemBuilder, elemType, elem, false); err != nil {
			return err
		}
	}
	return nil
}

func appendMap(b *array.MapBuilder, v model.Value) *errors.Error {
	if v.Kind() != model.KindMap {
		return typeMismatch("map", v)
	}
	b.Append(true)
	keyBuilder := b.KeyBuilder()
	itemBuilder := b.ItemBuilder()
	mapType := b.Type().(*arrow.MapType)
	for _, entry := range v.MapEntries() {
		if err := appendValue(keyBuilder, mapType.KeyType(), model.NewStr(entry.Key), true); err != nil {
			return err
		}
		if err := appendValue(itemBuilder, mapType.ItemType(), entry.Value, false); err != nil {
			return err
		}
	}
	return nil
}
