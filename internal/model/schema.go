package model

import "fmt"

// FieldType is the type system a record field is declared against, before
// translation to a Delta TableSchema. It is deliberately richer than Delta's
// own primitive set (it allows nesting) because the Schema Translator is the
// component responsible for down-projecting nested records to strings.
type FieldType struct {
	Primitive Primitive
	// Element is set when Primitive == PrimitiveArray.
	Element *FieldType
	// ElementNullable applies when Primitive == PrimitiveArray.
	ElementNullable bool
	// Value is set when Primitive == PrimitiveMap (keys are always string).
	Value *FieldType
	// ValueNullable applies when Primitive == PrimitiveMap.
	ValueNullable bool
	// Nested is set when Primitive == PrimitiveRecord: the record's own
	// field list, used only for cycle detection and documentation; the
	// write path always down-projects this to a JSON string column.
	Nested *RecordSchema
}

type Primitive int

const (
	PrimitiveString Primitive = iota
	PrimitiveInt32
	PrimitiveInt64
	PrimitiveFloat32
	PrimitiveFloat64
	PrimitiveBool
	PrimitiveBinary
	PrimitiveEnum
	PrimitiveArray
	PrimitiveMap
	PrimitiveRecord
)

func (p Primitive) String() string {
	switch p {
	case PrimitiveString:
		return "string"
	case PrimitiveInt32:
		return "int32"
	case PrimitiveInt64:
		return "int64"
	case PrimitiveFloat32:
		return "float32"
	case PrimitiveFloat64:
		return "float64"
	case PrimitiveBool:
		return "bool"
	case PrimitiveBinary:
		return "binary"
	case PrimitiveEnum:
		return "enum"
	case PrimitiveArray:
		return "array"
	case PrimitiveMap:
		return "map"
	case PrimitiveRecord:
		return "record"
	default:
		return "unknown"
	}
}

// RecordField is one declared field of a RecordSchema: name, type, and
// whether a null value is permitted (the source's nullable-union).
type RecordField struct {
	Name     string
	Type     FieldType
	Nullable bool
}

// RecordSchema is the self-describing schema tagging every Record: an
// ordered field list plus a name.
type RecordSchema struct {
	Name   string
	Fields []RecordField
}

// FieldByName returns the field with the given name and whether it exists,
// preserving declared order for callers that need an ordinal afterward.
func (s *RecordSchema) FieldByName(name string) (RecordField, int, bool) {
	for i, f := range s.Fields {
		if f.Name == name {
			return f, i, true
		}
	}
	return RecordField{}, -1, false
}

// Record pairs an ordered set of field values with the schema describing
// them. Values are positional and must be supplied in schema field order;
// FieldByName on the schema resolves ordinals for callers that only have
// names (e.g. a wire decoder).
type Record struct {
	Schema *RecordSchema
	Values []Value
}

// Get returns the value bound to the named field, or (Value{}, false) if the
// schema declares no such field.
func (r Record) Get(name string) (Value, bool) {
	_, idx, ok := r.Schema.FieldByName(name)
	if !ok || idx >= len(r.Values) {
		return Value{}, false
	}
	return r.Values[idx], true
}

// ParsePrimitive resolves the wire/config name of a primitive type (as used
// by a schema-declaration file's "type" field) back to its Primitive value.
// Nested types (array, map, record) are recognized by name but still need
// their Element/Value/Nested fields filled in by the caller.
func ParsePrimitive(name string) (Primitive, error) {
	switch name {
	case "string":
		return PrimitiveString, nil
	case "int32":
		return PrimitiveInt32, nil
	case "int64":
		return PrimitiveInt64, nil
	case "float32":
		return PrimitiveFloat32, nil
	case "float64":
		return PrimitiveFloat64, nil
	case "bool":
		return PrimitiveBool, nil
	case "binary":
		return PrimitiveBinary, nil
	case "enum":
		return PrimitiveEnum, nil
	case "array":
		return PrimitiveArray, nil
	case "map":
		return PrimitiveMap, nil
	case "record":
		return PrimitiveRecord, nil
	default:
		return 0, fmt.Errorf("unknown primitive type %q", name)
	}
}
