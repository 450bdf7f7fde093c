package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/lakewriter/deltaingest/internal/deltalog"
	"github.com/lakewriter/deltaingest/internal/deltapath"
	"github.com/lakewriter/deltaingest/internal/objectstore"
	"github.com/lakewriter/deltaingest/pkg/errors"
)

var CodeWriteFailed = errors.MustNewCode("checkpoint.write_failed")

// checkpointSchema is deliberately flat rather than the nested
// protocol/metaData/add struct columns real Delta checkpoints use: one row
// per action, a "kind" discriminator column, and every other column
// nullable. This is the same down-projection tradeoff the write path makes
// for nested record fields (flatten to a simple representation), applied
// to the checkpoint's own storage format rather than to record data; a
// reader that needs the canonical nested layout would extend this schema.
var checkpointSchema = arrow.NewSchema([]arrow.Field{
	{Name: "kind", Type: arrow.BinaryTypes.String},
	{Name: "protocol_min_reader", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
	{Name: "protocol_min_writer", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
	{Name: "metadata_id", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "schema_string", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "partition_columns_json", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "created_time", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	{Name: "add_path", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "add_partition_values_json", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "add_size", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	{Name: "add_modification_time", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	{Name: "add_data_change", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
	{Name: "add_stats", Type: arrow.BinaryTypes.String, Nullable: true},
}, nil)

// Materialize serializes snap's protocol, metadata, and active file set as
// one row each into a checkpoint Parquet file at the table's checkpoint
// path for version, then uploads it via store.
func Materialize(ctx context.Context, store objectstore.Store, storageType deltapath.StorageType, basePath, table string, version int64, snap *deltalog.Snapshot) error {
	pool := memory.NewGoAllocator()
	builders := make([]array.Builder, len(checkpointSchema.Fields()))
	for i, f := range checkpointSchema.Fields() {
		builders[i] = array.NewBuilder(pool, f.Type)
	}
	defer func() {
		for _, b := range builders {
			b.Release()
		}
	}()

	appendRow := func(kind string, set func(name string, b array.Builder)) {
		for i, f := range checkpointSchema.Fields() {
			if f.Name == "kind" {
				builders[i].(*array.StringBuilder).Append(kind)
				continue
			}
			set(f.Name, builders[i])
		}
	}

	if snap.Protocol != nil {
		p := snap.Protocol
		appendRow("protocol", func(name string, b array.Builder) {
			switch name {
			case "protocol_min_reader":
				b.(*array.Int32Builder).Append(int32(p.MinReaderVersion))
			case "protocol_min_writer":
				b.(*array.Int32Builder).Append(int32(p.MinWriterVersion))
			default:
				b.AppendNull()
			}
		})
	}

	if snap.MetaData != nil {
		m := snap.MetaData
		partitionsJSON, _ := json.Marshal(m.PartitionColumns)
		appendRow("metaData", func(name string, b array.Builder) {
			switch name {
			case "metadata_id":
				b.(*array.StringBuilder).Append(m.ID)
			case "schema_string":
				b.(*array.StringBuilder).Append(m.SchemaString)
			case "partition_columns_json":
				b.(*array.StringBuilder).Append(string(partitionsJSON))
			case "created_time":
				b.(*array.Int64Builder).Append(m.CreatedTime)
			default:
				b.AppendNull()
			}
		})
	}

	for _, add := range snap.Files {
		add := add
		partitionValuesJSON, _ := json.Marshal(add.PartitionValues)
		appendRow("add", func(name string, b array.Builder) {
			switch name {
			case "add_path":
				b.(*array.StringBuilder).Append(add.Path)
			case "add_partition_values_json":
				b.(*array.StringBuilder).Append(string(partitionValuesJSON))
			case "add_size":
				b.(*array.Int64Builder).Append(add.Size)
			case "add_modification_time":
				b.(*array.Int64Builder).Append(add.ModificationTime)
			case "add_data_change":
				b.(*array.BooleanBuilder).Append(add.DataChange)
			case "add_stats":
				if add.Stats != "" {
					b.(*array.StringBuilder).Append(add.Stats)
				} else {
					b.AppendNull()
				}
			default:
				b.AppendNull()
			}
		})
	}

	cols := make([]arrow.Array, len(builders))
	numRows := 0
	for i, b := range builders {
		cols[i] = b.NewArray()
		if i == 0 {
			numRows = cols[i].Len()
		}
	}
	rec := array.NewRecord(checkpointSchema, cols, int64(numRows))
	defer rec.Release()

	var buf bytes.Buffer
	props := parquet.NewWriterProperties()
	fw, err := pqarrow.NewFileWriter(checkpointSchema, &buf, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return errors.New(CodeWriteFailed, "failed to create checkpoint file writer", err)
	}
	if err := fw.Write(rec); err != nil {
		return errors.New(CodeWriteFailed, "failed to write checkpoint record", err)
	}
	if err := fw.Close(); err != nil {
		return errors.New(CodeWriteFailed, "failed to finalize checkpoint file", err)
	}

	path, err := deltapath.CheckpointPath(storageType, basePath, table, version)
	if err != nil {
		return err
	}
	body := buf.Bytes()
	if err := store.Put(ctx, path, bytes.NewReader(body), int64(len(body)), objectstore.PutOptions{ContentType: "application/octet-stream"}); err != nil {
		return errors.New(CodeWriteFailed, "failed to upload checkpoint file", err)
	}
	return nil
}
