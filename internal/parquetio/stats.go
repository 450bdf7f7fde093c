package parquetio

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// MinMax is the inclusive value range observed for one stats column,
// rendered as strings so DataFileStatus stays comparable/serializable
// regardless of the column's underlying Arrow type.
type MinMax struct {
	Min string
	Max string
}

// computeStats scans rec's stats columns once (already in memory as the
// batch the writer is about to serialize) and returns per-column min/max
// and null counts for each column named in statsColumns (the Commit
// Coordinator puts the primary-key column there). Columns of an unsupported type for min/max
// tracking (LIST,
// MAP) still get a null count, just no MinMax entry.
func computeStats(rec arrow.Record, statsColumns []string) (map[string]MinMax, map[string]int64, error) {
	minMax := make(map[string]MinMax, len(statsColumns))
	nullCounts := make(map[string]int64, len(statsColumns))

	schema := rec.Schema()
	for _, name := range statsColumns {
		idx := fieldIndex(schema, name)
		if idx < 0 {
			return nil, nil, fmt.Errorf("stats column %q not present in record schema", name)
		}
		col := rec.Column(idx)
		nullCounts[name] = int64(col.NullN())

		mm, ok, err := columnMinMax(col)
		if err != nil {
			return nil, nil, fmt.Errorf("stats column %q: %w", name, err)
		}
		if ok {
			minMax[name] = mm
		}
	}

	return minMax, nullCounts, nil
}

func fieldIndex(schema *arrow.Schema, name string) int {
	for i, f := range schema.Fields() {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// columnMinMax returns the min/max of col rendered as strings, scanning
// every non-null value. The second return is false for column types this
// engine does not track ranges for (LIST, MAP, BINARY).
func columnMinMax(col arrow.Array) (MinMax, bool, error) {
	switch typed := col.(type) {
	case *array.Int32:
		return minMaxInt(typed.Len(), typed.IsNull, func(i int) int64 { return int64(typed.Value(i)) })
	case *array.Int64:
		return minMaxInt(typed.Len(), typed.IsNull, func(i int) int64 { return typed.Value(i) })
	case *array.Float32:
		return minMaxFloat(typed.Len(), typed.IsNull, func(i int) float64 { return float64(typed.Value(i)) })
	case *array.Float64:
		return minMaxFloat(typed.Len(), typed.IsNull, func(i int) float64 { return typed.Value(i) })
	case *array.String:
		return minMaxString(typed.Len(), typed.IsNull, typed.Value)
	case *array.Boolean:
		return minMaxBool(typed)
	default:
		return MinMax{}, false, nil
	}
}

func minMaxInt(length int, isNull func(int) bool, value func(int) int64) (MinMax, bool, error) {
	var min, max int64
	found := false
	for i := 0; i < length; i++ {
		if isNull(i) {
			continue
		}
		v := value(i)
		if !found {
			min, max, found = v, v, true
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if !found {
		return MinMax{}, false, nil
	}
	return MinMax{Min: fmt.Sprintf("%d", min), Max: fmt.Sprintf("%d", max)}, true, nil
}

func minMaxFloat(length int, isNull func(int) bool, value func(int) float64) (MinMax, bool, error) {
	var min, max float64
	found := false
	for i := 0; i < length; i++ {
		if isNull(i) {
			continue
		}
		v := value(i)
		if !found {
			min, max, found = v, v, true
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if !found {
		return MinMax{}, false, nil
	}
	return MinMax{Min: fmt.Sprintf("%g", min), Max: fmt.Sprintf("%g", max)}, true, nil
}

func minMaxString(length int, isNull func(int) bool, value func(int) string) (MinMax, bool, error) {
	var min, max string
	found := false
	for i := 0; i < length; i++ {
		if isNull(i) {
			continue
		}
		v := value(i)
		if !found {
			min, max, found = v, v, true
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if !found {
		return MinMax{}, false, nil
	}
	return MinMax{Min: min, Max: max}, true, nil
}

func minMaxBool(col *array.Boolean) (MinMax, bool, error) {
	sawFalse, sawTrue := false, false
	for i := 0; i < col.Len(); i++ {
		if col.IsNull(i) {
			continue
		}
		if col.Value(i) {
			sawTrue = true
		} else {
			sawFalse = true
		}
	}
	if !sawFalse && !sawTrue {
		return MinMax{}, false, nil
	}
	min := !sawFalse
	return MinMax{Min: fmt.Sprintf("%t", min), Max: fmt.Sprintf("%t", sawTrue)}, true, nil
}
