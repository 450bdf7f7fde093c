// Package deltaschema translates a self-describing record schema into a
// Delta table schema, and checks additive compatibility across evolutions.
//
// The in-memory TableSchema is represented with apache/iceberg-go's type
// system (iceberg.Schema, NestedField, the primitive/list/map types) rather
// than a bespoke struct: it already expresses exactly the type lattice Delta
// needs (primitives, ARRAY, MAP, nested STRUCT). The evolution check
// compares field types by their encoded Delta JSON (typeEqual). The
// Delta-specific piece is confined to this package's JSON encoder
// (schema_string.go), which renders the iceberg.Schema into Delta's own
// schemaString wire format at the log-action boundary.
package deltaschema

import (
	"fmt"

	"github.com/apache/iceberg-go"

	"github.com/lakewriter/deltaingest/internal/model"
	"github.com/lakewriter/deltaingest/pkg/errors"
)

// TableSchema is the Delta schema resolved for one table: an ordered field
// list plus the informational partition/primary-key designations.
type TableSchema struct {
	Name             string
	Schema           *iceberg.Schema
	PartitionColumns []string
	PrimaryKeyColumn string
}

// Translate converts a record schema into a Delta TableSchema.
func Translate(rs *model.RecordSchema, primaryKeyColumn string, partitionColumns []string) (*TableSchema, error) {
	if err := detectCycle(rs, map[*model.RecordSchema]bool{}); err != nil {
		return nil, err
	}

	nextID := 1
	fields := make([]iceberg.NestedField, 0, len(rs.Fields))
	for _, f := range rs.Fields {
		t, err := mapFieldType(f.Type, &nextID)
		if err != nil {
			return nil, err
		}
		fields = append(fields, iceberg.NestedField{
			ID:       nextID,
			Name:     f.Name,
			Type:     t,
			Required: !f.Nullable,
		})
		nextID++
	}

	if err := validatePartitionColumns(fields, partitionColumns); err != nil {
		return nil, err
	}

	return &TableSchema{
		Name:             rs.Name,
		Schema:           iceberg.NewSchema(0, fields...),
		PartitionColumns: partitionColumns,
		PrimaryKeyColumn: primaryKeyColumn,
	}, nil
}

// mapFieldType maps one record field type to its Delta type, recursing into
// array/map element types and down-projecting nested records to STRING.
func mapFieldType(ft model.FieldType, nextID *int) (iceberg.Type, error) {
	switch ft.Primitive {
	case model.PrimitiveString, model.PrimitiveEnum, model.PrimitiveRecord:
		return iceberg.PrimitiveTypes.String, nil
	case model.PrimitiveInt32:
		return iceberg.PrimitiveTypes.Int32, nil
	case model.PrimitiveInt64:
		return iceberg.PrimitiveTypes.Int64, nil
	case model.PrimitiveFloat32:
		return iceberg.PrimitiveTypes.Float32, nil
	case model.PrimitiveFloat64:
		return iceberg.PrimitiveTypes.Float64, nil
	case model.PrimitiveBool:
		return iceberg.PrimitiveTypes.Bool, nil
	case model.PrimitiveBinary:
		return iceberg.PrimitiveTypes.Binary, nil
	case model.PrimitiveArray:
		if ft.Element == nil {
			return nil, errors.IncompatibleSchema("array field missing element type")
		}
		*nextID++
		elemID := *nextID
		elemType, err := mapFieldType(*ft.Element, nextID)
		if err != nil {
			return nil, err
		}
		return &iceberg.ListType{
			ElementID:       elemID,
			Element:         elemType,
			ElementRequired: !ft.ElementNullable,
		}, nil
	case model.PrimitiveMap:
		if ft.Value == nil {
			return nil, errors.IncompatibleSchema("map field missing value type")
		}
		*nextID++
		keyID := *nextID
		*nextID++
		valID := *nextID
		valType, err := mapFieldType(*ft.Value, nextID)
		if err != nil {
			return nil, err
		}
		return &iceberg.MapType{
			KeyID:         keyID,
			KeyType:       iceberg.PrimitiveTypes.String,
			ValueID:       valID,
			ValueType:     valType,
			ValueRequired: !ft.ValueNullable,
		}, nil
	default:
		return nil, errors.IncompatibleSchema(fmt.Sprintf("unsupported field primitive %q", ft.Primitive))
	}
}

// detectCycle walks the declared nested-record graph looking for
// self-referential types, which fail with an IncompatibleSchema-coded
// error; the taxonomy has no separate UnsupportedSchema code.
// Down-projection to STRING happens regardless of this check; the check
// exists purely to reject schemas no upstream producer could have emitted
// validly in the first place.
func detectCycle(rs *model.RecordSchema, stack map[*model.RecordSchema]bool) error {
	if stack[rs] {
		return errors.New(errors.CodeIncompatibleSchema, fmt.Sprintf("cyclic record schema %q", rs.Name), nil)
	}
	stack[rs] = true
	defer delete(stack, rs)

	for _, f := range rs.Fields {
		if err := detectCycleInType(f.Type, stack); err != nil {
			return err
		}
	}
	return nil
}

func detectCycleInType(ft model.FieldType, stack map[*model.RecordSchema]bool) error {
	switch ft.Primitive {
	case model.PrimitiveRecord:
		if ft.Nested != nil {
			return detectCycle(ft.Nested, stack)
		}
	case model.PrimitiveArray:
		if ft.Element != nil {
			return detectCycleInType(*ft.Element, stack)
		}
	case model.PrimitiveMap:
		if ft.Value != nil {
			return detectCycleInType(*ft.Value, stack)
		}
	}
	return nil
}

// validatePartitionColumns requires partition columns to be a subset of
// field names, each of primitive (non-array/map/record) type.
func validatePartitionColumns(fields []iceberg.NestedField, partitionColumns []string) error {
	byName := make(map[string]iceberg.NestedField, len(fields))
	for _, f := range fields {
		byName[f.Name] = f
	}
	seen := make(map[string]bool, len(partitionColumns))
	for _, name := range partitionColumns {
		if seen[name] {
			return errors.ValidationFailure(fmt.Sprintf("duplicate partition column %q", name))
		}
		seen[name] = true
		field, ok := byName[name]
		if !ok {
			return errors.ValidationFailure(fmt.Sprintf("partition column %q not present in schema", name))
		}
		switch field.Type.(type) {
		case *iceberg.ListType, *iceberg.MapType, *iceberg.StructType:
			return errors.ValidationFailure(fmt.Sprintf("partition column %q must be primitive", name))
		}
	}
	return nil
}
