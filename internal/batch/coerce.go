package batch

import (
	"encoding/json"
	"fmt"

	"github.com/lakewriter/deltaingest/internal/model"
	"github.com/lakewriter/deltaingest/pkg/errors"
)

// The coercion rules below accept a value for a numeric target column only
// when the source Kind is the column's own Kind or a strictly narrower Kind
// being widened into it; only information-preserving coercions are
// accepted, every other mismatch is a ValidationFailure. int32->int64 and
// float32->float64 are the only two
// widenings in play here; crossing between the integer and floating-point
// families is rejected outright since neither direction is lossless in
// general (a float value may carry a fraction an int column cannot hold; a
// large int64/int32 magnitude may not be exactly representable in
// float32/float64).

func coerceBool(v model.Value) (bool, *errors.Error) {
	if v.Kind() == model.KindBool {
		return v.Bool(), nil
	}
	return false, typeMismatch("bool", v)
}

func coerceInt32(v model.Value) (int32, *errors.Error) {
	if v.Kind() == model.KindI32 {
		return v.I32(), nil
	}
	return 0, typeMismatch("int32", v)
}

func coerceInt64(v model.Value) (int64, *errors.Error) {
	switch v.Kind() {
	case model.KindI64:
		return v.I64(), nil
	case model.KindI32:
		return int64(v.I32()), nil
	default:
		return 0, typeMismatch("int64", v)
	}
}

func coerceFloat32(v model.Value) (float32, *errors.Error) {
	if v.Kind() == model.KindF32 {
		return v.F32(), nil
	}
	return 0, typeMismatch("float32", v)
}

func coerceFloat64(v model.Value) (float64, *errors.Error) {
	switch v.Kind() {
	case model.KindF64:
		return v.F64(), nil
	case model.KindF32:
		return float64(v.F32()), nil
	default:
		return 0, typeMismatch("float64", v)
	}
}

// coerceString accepts a native string Kind directly; a KindRecord value is
// JSON-encoded, since schema translation down-projects nested records to
// a string column.
func coerceString(v model.Value) (string, *errors.Error) {
	switch v.Kind() {
	case model.KindStr:
		return v.Str(), nil
	case model.KindRecord:
		encoded, err := recordToJSON(v)
		if err != nil {
			return "", errors.New(errors.CodeInternal, "failed to JSON-encode nested record", err)
		}
		return encoded, nil
	default:
		return "", typeMismatch("string", v)
	}
}

func coerceBytes(v model.Value) ([]byte, *errors.Error) {
	if v.Kind() == model.KindBytes {
		return v.Bytes(), nil
	}
	return nil, typeMismatch("bytes", v)
}

// typeMismatch reports a per-record coercion failure as a
// ValidationFailure (per-request, terminal). IncompatibleSchema is
// reserved for schema-evolution rejection in the registry, not a single
// record's value not fitting the already-resolved column type.
func typeMismatch(want string, v model.Value) *errors.Error {
	return errors.ValidationFailure(fmt.Sprintf("expected %s, got %s", want, v.Kind())).
		AddContext("actual_kind", v.Kind().String())
}

// recordToJSON renders a KindRecord Value as a JSON object, recursing
// through nested arrays/maps/records via valueToJSONAny.
func recordToJSON(v model.Value) (string, error) {
	any, err := valueToJSONAny(v)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(any)
	if err != nil {
		return "", errors.New(errors.CodeInternal, "failed to marshal down-projected record", err)
	}
	return string(out), nil
}

func valueToJSONAny(v model.Value) (interface{}, error) {
	switch v.Kind() {
	case model.KindNull:
		return nil, nil
	case model.KindBool:
		return v.Bool(), nil
	case model.KindI32:
		return v.I32(), nil
	case model.KindI64:
		return v.I64(), nil
	case model.KindF32:
		return v.F32(), nil
	case model.KindF64:
		return v.F64(), nil
	case model.KindStr:
		return v.Str(), nil
	case model.KindBytes:
		return v.Bytes(), nil
	case model.KindArray:
		out := make([]interface{}, len(v.Array()))
		for i, elem := range v.Array() {
			converted, err := valueToJSONAny(elem)
			if err != nil {
				return nil, err
			}
			out[i] = converted
		}
		return out, nil
	case model.KindMap:
		out := make(map[string]interface{}, len(v.MapEntries()))
		for _, entry := range v.MapEntries() {
			converted, err := valueToJSONAny(entry.Value)
			if err != nil {
				return nil, err
			}
			out[entry.Key] = converted
		}
		return out, nil
	case model.KindRecord:
		out := make(map[string]interface{}, len(v.Fields()))
		for _, field := range v.Fields() {
			converted, err := valueToJSONAny(field.Value)
			if err != nil {
				return nil, err
			}
			out[field.Name] = converted
		}
		return out, nil
	default:
		return nil, errors.New(errors.CodeInternal, fmt.Sprintf("unhandled value kind %s", v.Kind()), nil)
	}
}
