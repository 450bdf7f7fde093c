// Package registry implements the entity metadata registry: an in-memory,
// reader-shared/writer-exclusive mapping from table name to
// EntityMetadata, durably persisted via bun + sqlite so registrations
// survive a process restart. The mapping has no size limit.
package registry

import (
	"github.com/lakewriter/deltaingest/internal/model"
	"github.com/lakewriter/deltaingest/pkg/errors"
)

// EvolutionPolicy constrains how a table's schema may change across
// registrations.
type EvolutionPolicy string

const (
	BackwardCompatible EvolutionPolicy = "BACKWARD_COMPATIBLE"
	ForwardCompatible  EvolutionPolicy = "FORWARD_COMPATIBLE"
	Full               EvolutionPolicy = "FULL"
	None               EvolutionPolicy = "NONE"
)

// Valid reports whether p is one of the four recognized policy names.
func (p EvolutionPolicy) Valid() bool {
	switch p {
	case BackwardCompatible, ForwardCompatible, Full, None:
		return true
	}
	return false
}

// EntityMetadata is one table's registry entry: primary-key column,
// partition columns, evolution policy and record schema.
type EntityMetadata struct {
	TableName        string
	PrimaryKeyColumn string
	PartitionColumns []string
	EvolutionPolicy  EvolutionPolicy
	Schema           *model.RecordSchema
}

func (p EvolutionPolicy) checkSupported() error {
	switch p {
	case BackwardCompatible:
		return nil
	case ForwardCompatible, Full:
		// Non-goal: "no schema-breaking evolution (only backward-compatible
		// additive evolution)". These two policy names are accepted as
		// registry values (a table may declare them) but this engine has no
		// evolution checker for them; registering a second, differing
		// schema under either policy is rejected rather than silently
		// treated as backward-compatible.
		return errors.ValidationFailure("evolution policy is declared but not implemented by this engine").
			AddContext("evolution_policy", string(p))
	case None:
		return nil
	default:
		return errors.ValidationFailure("unknown evolution policy").AddContext("evolution_policy", string(p))
	}
}
