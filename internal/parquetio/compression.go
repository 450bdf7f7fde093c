// Package parquetio implements the Parquet writer: it takes an assembled
// arrow.Record and a target directory URI and produces one or more
// complete-or-absent Parquet files in object storage, targeting any
// internal/objectstore.Store backend.
package parquetio

import (
	"strings"

	"github.com/apache/arrow-go/v18/parquet/compress"

	"github.com/lakewriter/deltaingest/pkg/errors"
)

var (
	// CodeUnsupportedCodec reports a compression_codec value this engine
	// does not recognize.
	CodeUnsupportedCodec = errors.MustNewCode("parquetio.unsupported_codec")
)

// codecExtensions names the file-extension token used in a data file's name
// for each codec, matching the Hadoop/Spark
// "<uuid>-<counter>.<compression>.parquet" naming convention.
var codecExtensions = map[string]string{
	"none":   "none",
	"snappy": "snappy",
	"gzip":   "gzip",
	"gz":     "gzip",
	"brotli": "brotli",
	"lz4":    "lz4",
	"zstd":   "zstd",
}

// resolveCodec converts a configured compression_codec string into the
// parquet compress.Compression constant. There is no per-column override;
// compression_codec is a single table-wide value.
func resolveCodec(name string) (compress.Compression, error) {
	switch strings.ToLower(name) {
	case "", "none", "uncompressed":
		return compress.Codecs.Uncompressed, nil
	case "snappy":
		return compress.Codecs.Snappy, nil
	case "gzip", "gz":
		return compress.Codecs.Gzip, nil
	case "brotli":
		return compress.Codecs.Brotli, nil
	case "lz4":
		return compress.Codecs.Lz4, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	default:
		return compress.Codecs.Uncompressed, errors.New(CodeUnsupportedCodec, "unsupported compression codec", nil).AddContext("codec", name)
	}
}

// extensionFor returns the file-name token for a compression_codec value,
// falling back to the codec name itself for anything resolveCodec already
// accepted (the map only needs to cover spelling variants like "gz").
func extensionFor(name string) string {
	lower := strings.ToLower(name)
	if ext, ok := codecExtensions[lower]; ok {
		return ext
	}
	if lower == "" {
		return "none"
	}
	return lower
}
