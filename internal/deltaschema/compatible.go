package deltaschema

import (
	"fmt"

	"github.com/apache/iceberg-go"

	"github.com/lakewriter/deltaingest/pkg/errors"
)

// CheckAdditiveCompatible implements the evolution rule for
// EvolutionBackwardCompatible: no field removed, existing fields
// keep their type with nullability only widening, and any new field is
// nullable. Returns an IncompatibleSchema error naming the offending field
// on the first violation found, walking fields in the old schema's order so
// the error is deterministic.
func CheckAdditiveCompatible(oldSchema, newSchema *TableSchema) error {
	oldFields := oldSchema.Schema.Fields()
	newByName := make(map[string]iceberg.NestedField, len(newSchema.Schema.Fields()))
	for _, f := range newSchema.Schema.Fields() {
		newByName[f.Name] = f
	}

	for _, old := range oldFields {
		nf, ok := newByName[old.Name]
		if !ok {
			return errors.IncompatibleSchema(fmt.Sprintf("field %q removed", old.Name))
		}
		if !typeEqual(old.Type, nf.Type) {
			return errors.IncompatibleSchema(fmt.Sprintf("field %q changed type from %s to %s", old.Name, old.Type, nf.Type))
		}
		// Required (non-null) may only become non-required (nullable); the
		// reverse narrows the contract and is rejected.
		if old.Required && !nf.Required {
			continue // non-null -> nullable: widening, compatible
		}
		if old.Required != nf.Required && !old.Required {
			return errors.IncompatibleSchema(fmt.Sprintf("field %q narrowed from nullable to non-null", old.Name))
		}
	}

	oldNames := make(map[string]bool, len(oldFields))
	for _, f := range oldFields {
		oldNames[f.Name] = true
	}
	for _, nf := range newSchema.Schema.Fields() {
		if oldNames[nf.Name] {
			continue
		}
		if nf.Required {
			return errors.IncompatibleSchema(fmt.Sprintf("new field %q must be nullable", nf.Name))
		}
	}

	return nil
}

// typeEqual compares two Delta field types for identity. iceberg-go's
// primitive types are implemented as comparable value types and its
// list/map types carry nested Type values, so rendering both sides through
// the same schema_string encoder and comparing the result is a reliable,
// implementation-independent equality check.
func typeEqual(a, b iceberg.Type) bool {
	aJSON, errA := encodeType(a)
	bJSON, errB := encodeType(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aJSON) == string(bJSON)
}
