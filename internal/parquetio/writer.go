package parquetio

import (
	"bytes"
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/lakewriter/deltaingest/internal/deltapath"
	"github.com/lakewriter/deltaingest/internal/idgen"
	"github.com/lakewriter/deltaingest/internal/objectstore"
	"github.com/lakewriter/deltaingest/pkg/errors"
)

var (
	CodeWriteFailed = errors.MustNewCode("parquetio.write_failed")
	CodePutFailed   = errors.MustNewCode("parquetio.put_failed")
)

// Config controls how the writer serializes a batch: row-group target
// size and compression codec.
type Config struct {
	// BlockBytes is the target uncompressed size of a single data file
	// (default 256 MiB). The writer does not split a single arrow.Record
	// across multiple files mid-write (the Batch Assembler has already
	// bounded the batch's row count); BlockBytes instead governs the
	// Parquet row group length so a reader can skip row groups without
	// decoding an entire file.
	BlockBytes int64
	// Compression names the codec applied to every column, e.g. "snappy"
	// (the default), "gzip", "zstd", "lz4", "brotli", "none".
	Compression string
}

// DefaultConfig returns the documented writer defaults.
func DefaultConfig() Config {
	return Config{BlockBytes: 256 * 1024 * 1024, Compression: "snappy"}
}

// DataFileStatus describes one Parquet file the writer produced, the unit
// the commit coordinator turns into a Delta "add" action.
type DataFileStatus struct {
	RelativePath string
	SizeBytes    int64
	RowCount     int64
	MinMaxStats  map[string]MinMax
	NullCounts   map[string]int64
}

// Writer serializes arrow.Record batches to Parquet and places them in
// object storage, buffering the encoded file in memory before a single Put
// call. That single write is what makes a data file complete-or-absent at
// its URI: nothing is visible at RelativePath until the whole file has
// been built and handed to the store.
type Writer struct {
	cfg Config
}

// New returns a Writer using cfg. A zero-value Compression resolves to
// "none" via resolveCodec; callers normally pass DefaultConfig() merged
// with table-specific overrides.
func New(cfg Config) *Writer {
	return &Writer{cfg: cfg}
}

// Write encodes rec as a single Parquet file under dataDir and uploads it
// via store, returning the resulting DataFileStatus. counter distinguishes
// multiple files written for the same dataDir in one dispatch cycle.
// statsColumns lists the columns to compute min/max/null-count stats for;
// the caller is responsible for always including the table's primary-key
// column when one is declared.
func (w *Writer) Write(ctx context.Context, store objectstore.Store, dataDir string, rec arrow.Record, counter int, statsColumns []string) (*DataFileStatus, error) {
	codec, err := resolveCodec(w.cfg.Compression)
	if err != nil {
		return nil, err
	}

	props := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithMaxRowGroupLength(rowGroupLength(rec, w.cfg.BlockBytes)),
	)

	var buf bytes.Buffer
	fw, err := pqarrow.NewFileWriter(rec.Schema(), &buf, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return nil, errors.New(CodeWriteFailed, "failed to create parquet file writer", err)
	}
	if err := fw.Write(rec); err != nil {
		return nil, errors.New(CodeWriteFailed, "failed to write record batch", err)
	}
	if err := fw.Close(); err != nil {
		return nil, errors.New(CodeWriteFailed, "failed to finalize parquet file", err)
	}

	minMax, nullCounts, err := computeStats(rec, statsColumns)
	if err != nil {
		return nil, errors.New(CodeWriteFailed, "failed to compute column statistics", err)
	}

	relativePath := deltapath.DataFilePath(dataDir, idgen.NewString(), counter, extensionFor(w.cfg.Compression))
	body := buf.Bytes()
	if err := store.Put(ctx, relativePath, bytes.NewReader(body), int64(len(body)), objectstore.PutOptions{ContentType: "application/octet-stream"}); err != nil {
		return nil, errors.New(CodePutFailed, fmt.Sprintf("failed to upload data file %q", relativePath), err)
	}

	return &DataFileStatus{
		RelativePath: relativePath,
		SizeBytes:    int64(len(body)),
		RowCount:     rec.NumRows(),
		MinMaxStats:  minMax,
		NullCounts:   nullCounts,
	}, nil
}

// rowGroupLength estimates how many rows fit in blockBytes given rec's
// actual encoded size isn't known yet, approximating from the record's
// in-memory column buffers. A single row group per file is a safe fallback
// when the estimate can't be computed (rec has zero rows).
func rowGroupLength(rec arrow.Record, blockBytes int64) int64 {
	rows := rec.NumRows()
	if rows == 0 {
		return 1
	}
	totalBytes := int64(0)
	for i := 0; i < int(rec.NumCols()); i++ {
		for _, buf := range rec.Column(i).Data().Buffers() {
			if buf != nil {
				totalBytes += int64(buf.Len())
			}
		}
	}
	if totalBytes == 0 || blockBytes <= 0 {
		return rows
	}
	bytesPerRow := totalBytes / rows
	if bytesPerRow <= 0 {
		return rows
	}
	estimate := blockBytes / bytesPerRow
	if estimate < 1 {
		return 1
	}
	if estimate > rows {
		return rows
	}
	return estimate
}
