// Package batch converts a write batch's records into a columnar Arrow
// record ready for the Parquet writer: per-column builder construction,
// null bitmaps, and value coercion against the table's resolved schema.
package batch

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/iceberg-go"

	"github.com/lakewriter/deltaingest/internal/deltaschema"
	"github.com/lakewriter/deltaingest/pkg/errors"
)

// ToArrowSchema converts a Delta TableSchema's internal iceberg.Schema into
// the arrow.Schema the Parquet Writer serializes against. Only the types
// the Schema Translator can ever produce are handled (primitives, LIST,
// MAP); nested records are already down-projected to STRING by
// deltaschema.Translate before a TableSchema exists.
func ToArrowSchema(ts *deltaschema.TableSchema) (*arrow.Schema, error) {
	fields := make([]arrow.Field, 0, len(ts.Schema.Fields()))
	for _, f := range ts.Schema.Fields() {
		arrowField, err := convertField(f)
		if err != nil {
			return nil, err
		}
		fields = append(fields, arrowField)
	}
	return arrow.NewSchema(fields, nil), nil
}

func convertField(field iceberg.NestedField) (arrow.Field, error) {
	arrowType, err := convertType(field.Type)
	if err != nil {
		return arrow.Field{}, errors.New(errors.CodeIncompatibleSchema, fmt.Sprintf("failed to convert field %q", field.Name), err)
	}
	return arrow.Field{
		Name:     field.Name,
		Type:     arrowType,
		Nullable: !field.Required,
		Metadata: arrow.MetadataFrom(map[string]string{
			"iceberg_id":       fmt.Sprintf("%d", field.ID),
			"iceberg_required": fmt.Sprintf("%t", field.Required),
		}),
	}, nil
}

func convertType(t iceberg.Type) (arrow.DataType, error) {
	switch t {
	case iceberg.PrimitiveTypes.Bool:
		return arrow.FixedWidthTypes.Boolean, nil
	case iceberg.PrimitiveTypes.Int32:
		return arrow.PrimitiveTypes.Int32, nil
	case iceberg.PrimitiveTypes.Int64:
		return arrow.PrimitiveTypes.Int64, nil
	case iceberg.PrimitiveTypes.Float32:
		return arrow.PrimitiveTypes.Float32, nil
	case iceberg.PrimitiveTypes.Float64:
		return arrow.PrimitiveTypes.Float64, nil
	case iceberg.PrimitiveTypes.String:
		return arrow.BinaryTypes.String, nil
	case iceberg.PrimitiveTypes.Binary:
		return arrow.BinaryTypes.Binary, nil
	}

	switch typed := t.(type) {
	case *iceberg.ListType:
		elem, err := convertType(typed.Element)
		if err != nil {
			return nil, err
		}
		return arrow.ListOf(elem), nil
	case *iceberg.MapType:
		key, err := convertType(typed.KeyType)
		if err != nil {
			return nil, err
		}
		val, err := convertType(typed.ValueType)
		if err != nil {
			return nil, err
		}
		return arrow.MapOf(key, val), nil
	default:
		return nil, fmt.Errorf("unsupported iceberg type: %T", t)
	}
}
