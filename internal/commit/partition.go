package commit

import (
	"fmt"

	"github.com/lakewriter/deltaingest/internal/deltapath"
	"github.com/lakewriter/deltaingest/internal/model"
	"github.com/lakewriter/deltaingest/internal/registry"
	"github.com/lakewriter/deltaingest/pkg/errors"
)

// partitionGroup is one distinct combination of partition-column values
// found within a WriteBatch, carrying the subset of records that share it.
// A batch's requests resolve uniformly (the whole batch succeeds or fails
// together), so groups only need to carry records, not request indices.
type partitionGroup struct {
	values  []deltapath.PartitionValue
	records []model.Record
}

// groupByPartition splits records into partitionGroup buckets keyed by the
// values of entity.PartitionColumns, preserving each bucket's internal
// order and the order buckets are first seen, so within a partition the
// Parquet row order matches enqueue order. A table with no declared partition
// columns yields exactly one group with an empty key. This engine treats
// partition_strategy as descriptive of how the upstream caller derived the
// partition column's value (date bucketing, hashing, ...); the grouping
// rule itself is always "equal declared-column values share a file",
// regardless of the configured strategy name.
func groupByPartition(entity *registry.EntityMetadata, records []model.Record) ([]partitionGroup, error) {
	if len(entity.PartitionColumns) == 0 {
		return []partitionGroup{{records: records}}, nil
	}

	order := make([]string, 0)
	groups := make(map[string]*partitionGroup)
	for _, rec := range records {
		values := make([]deltapath.PartitionValue, 0, len(entity.PartitionColumns))
		for _, col := range entity.PartitionColumns {
			val, ok := rec.Get(col)
			if !ok || val.IsNull() {
				return nil, errors.ValidationFailure(fmt.Sprintf("record missing value for partition column %q", col))
			}
			values = append(values, deltapath.PartitionValue{Column: col, Value: valueToPartitionString(val)})
		}
		key := partitionKey(values)
		g, ok := groups[key]
		if !ok {
			g = &partitionGroup{values: values}
			groups[key] = g
			order = append(order, key)
		}
		g.records = append(g.records, rec)
	}

	out := make([]partitionGroup, 0, len(order))
	for _, key := range order {
		out = append(out, *groups[key])
	}
	return out, nil
}

func partitionKey(values []deltapath.PartitionValue) string {
	key := ""
	for _, v := range values {
		key += v.Column + "=" + v.Value + "/"
	}
	return key
}

func valueToPartitionString(v model.Value) string {
	switch v.Kind() {
	case model.KindStr:
		return v.Str()
	case model.KindI32:
		return fmt.Sprintf("%d", v.I32())
	case model.KindI64:
		return fmt.Sprintf("%d", v.I64())
	case model.KindBool:
		return fmt.Sprintf("%t", v.Bool())
	case model.KindF32:
		return fmt.Sprintf("%g", v.F32())
	case model.KindF64:
		return fmt.Sprintf("%g", v.F64())
	default:
		return v.String()
	}
}
