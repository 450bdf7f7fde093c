package batch

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/lakewriter/deltaingest/internal/deltaschema"
	"github.com/lakewriter/deltaingest/internal/model"
	"github.com/lakewriter/deltaingest/pkg/errors"
)

// ValidateRecord checks one record against ts's resolved Delta schema
// without touching any arrow.Builder, so the Commit Coordinator can isolate
// a ValidationFailure to the single offending request rather than failing
// an entire batch. It applies
// the same missing-field and coercion rules buildColumn/appendValue use
// during assembly, so a record that passes ValidateRecord is guaranteed to
// assemble cleanly.
func ValidateRecord(ts *deltaschema.TableSchema, rec model.Record) error {
	arrowSchema, err := ToArrowSchema(ts)
	if err != nil {
		return err
	}
	for i, field := range ts.Schema.Fields() {
		val, ok := rec.Get(field.Name)
		if !ok {
			if field.Required {
				return errors.ValidationFailure(fmt.Sprintf("missing required field %q", field.Name))
			}
			continue
		}
		if err := validateValue(arrowSchema.Field(i).Type, val, field.Required); err != nil {
			return err.AddContext("field", field.Name)
		}
	}
	return nil
}

// validateValue mirrors appendValue's dispatch and coercion rules but only
// checks compatibility; it never allocates a builder. It always returns a
// *errors.Error (never a plain wrapped error) so ValidateRecord can annotate
// the failure with AddContext without losing the taxonomy Classify reads.
func validateValue(dt arrow.DataType, v model.Value, required bool) *errors.Error {
	if v.IsNull() {
		if required {
			return errors.ValidationFailure("null value for required field")
		}
		return nil
	}

	switch dt.ID() {
	case arrow.BOOL:
		_, err := coerceBool(v)
		return err
	case arrow.INT32:
		_, err := coerceInt32(v)
		return err
	case arrow.INT64:
		_, err := coerceInt64(v)
		return err
	case arrow.FLOAT32:
		_, err := coerceFloat32(v)
		return err
	case arrow.FLOAT64:
		_, err := coerceFloat64(v)
		return err
	case arrow.STRING:
		_, err := coerceString(v)
		return err
	case arrow.BINARY:
		_, err := coerceBytes(v)
		return err
	case arrow.LIST:
		if v.Kind() != model.KindArray {
			return typeMismatch("array", v)
		}
		elemType := dt.(*arrow.ListType).Elem()
		for _, elem := range v.Array() {
			if err := validateValue(elemType, elem, false); err != nil {
				return err
			}
		}
		return nil
	case arrow.MAP:
		if v.Kind() != model.KindMap {
			return typeMismatch("map", v)
		}
		mapType := dt.(*arrow.MapType)
		for _, entry := range v.MapEntries() {
			if err := validateValue(mapType.KeyType(), model.NewStr(entry.Key), true); err != nil {
				return err
			}
			if err := validateValue(mapType.ItemType(), entry.Value, false); err != nil {
				return err
			}
		}
		return nil
	default:
		return errors.New(errors.CodeInternal, fmt.Sprintf("unsupported arrow type %s", dt), nil)
	}
}
