package deltaschema

import (
	"encoding/json"
	"fmt"

	"github.com/apache/iceberg-go"

	"github.com/lakewriter/deltaingest/pkg/errors"
)

// deltaField mirrors one entry of Delta's schemaString "fields" array.
type deltaField struct {
	Name     string          `json:"name"`
	Type     json.RawMessage `json:"type"`
	Nullable bool            `json:"nullable"`
	Metadata map[string]any  `json:"metadata"`
}

type deltaStruct struct {
	Type   string       `json:"type"`
	Fields []deltaField `json:"fields"`
}

type deltaArray struct {
	Type         string          `json:"type"`
	ElementType  json.RawMessage `json:"elementType"`
	ContainsNull bool            `json:"containsNull"`
}

type deltaMap struct {
	Type              string          `json:"type"`
	KeyType           json.RawMessage `json:"keyType"`
	ValueType         json.RawMessage `json:"valueType"`
	ValueContainsNull bool            `json:"valueContainsNull"`
}

// SchemaString renders a TableSchema as Delta's schemaString JSON, the form
// carried inside the metaData log action.
func SchemaString(ts *TableSchema) (string, error) {
	fields := make([]deltaField, 0, len(ts.Schema.Fields()))
	for _, f := range ts.Schema.Fields() {
		typeJSON, err := encodeType(f.Type)
		if err != nil {
			return "", err
		}
		fields = append(fields, deltaField{
			Name:     f.Name,
			Type:     typeJSON,
			Nullable: !f.Required,
			Metadata: map[string]any{},
		})
	}

	out, err := json.Marshal(deltaStruct{Type: "struct", Fields: fields})
	if err != nil {
		return "", errors.New(errors.CommonInternal, "failed to marshal schema string", err)
	}
	return string(out), nil
}

// encodeType renders a single iceberg.Type as the Delta JSON type
// representation: a bare quoted string for primitives, a nested object for
// array/map. Delta has no first-class nested-struct field type on the write
// path (nested records are down-projected to STRING at translation time), so
// a *iceberg.StructType reaching here indicates an internal bug, not a
// reachable schema.
func encodeType(t iceberg.Type) (json.RawMessage, error) {
	switch v := t.(type) {
	case *iceberg.ListType:
		elemType, err := encodeType(v.Element)
		if err != nil {
			return nil, err
		}
		return json.Marshal(deltaArray{
			Type:         "array",
			ElementType:  elemType,
			ContainsNull: !v.ElementRequired,
		})
	case *iceberg.MapType:
		keyType, err := encodeType(v.KeyType)
		if err != nil {
			return nil, err
		}
		valType, err := encodeType(v.ValueType)
		if err != nil {
			return nil, err
		}
		return json.Marshal(deltaMap{
			Type:              "map",
			KeyType:           keyType,
			ValueType:         valType,
			ValueContainsNull: !v.ValueRequired,
		})
	default:
		name, err := primitiveName(t)
		if err != nil {
			return nil, err
		}
		return json.Marshal(name)
	}
}

func primitiveName(t iceberg.Type) (string, error) {
	switch t {
	case iceberg.PrimitiveTypes.String:
		return "string", nil
	case iceberg.PrimitiveTypes.Int32:
		return "integer", nil
	case iceberg.PrimitiveTypes.Int64:
		return "long", nil
	case iceberg.PrimitiveTypes.Float32:
		return "float", nil
	case iceberg.PrimitiveTypes.Float64:
		return "double", nil
	case iceberg.PrimitiveTypes.Bool:
		return "boolean", nil
	case iceberg.PrimitiveTypes.Binary:
		return "binary", nil
	default:
		return "", errors.IncompatibleSchema(fmt.Sprintf("type %s has no Delta wire representation", t))
	}
}
