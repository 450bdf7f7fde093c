// Package deltapath resolves canonical table-root URIs for the configured
// storage backend. Every function here is pure: no I/O, same inputs always
// yield the same URI, one scheme per supported storage backend.
package deltapath

import (
	"fmt"
	"path"
	"strings"

	"github.com/lakewriter/deltaingest/pkg/errors"
)

// StorageType names a supported (or named-but-unimplemented) object-store
// backend.
type StorageType string

const (
	StorageS3A   StorageType = "S3A"
	StorageLocal StorageType = "LOCAL"
	StorageHDFS  StorageType = "HDFS"
	StorageAzure StorageType = "AZURE"
	StorageGCS   StorageType = "GCS"
)

var schemes = map[StorageType]string{
	StorageS3A:   "s3a",
	StorageLocal: "file",
	StorageHDFS:  "hdfs",
	StorageAzure: "abfs",
	StorageGCS:   "gs",
}

// Implemented reports whether reads/writes against this storage type are
// actually wired to an object-store backend: LOCAL and S3A move bytes;
// HDFS/AZURE/GCS are resolvable but unimplemented.
func (s StorageType) Implemented() bool {
	return s == StorageS3A || s == StorageLocal
}

// TableRoot produces the table root URI: <scheme>://<base_path>/<table_name>
// for remote schemes, or a plain filesystem path for LOCAL. No I/O.
func TableRoot(storageType StorageType, basePath, tableName string) (string, error) {
	scheme, ok := schemes[storageType]
	if !ok {
		return "", errors.ValidationFailure(fmt.Sprintf("unknown storage type %q", storageType))
	}
	if tableName == "" {
		return "", errors.ValidationFailure("table name must not be empty")
	}

	trimmedBase := strings.Trim(basePath, "/")
	joined := path.Join(trimmedBase, tableName)

	if storageType == StorageLocal {
		return "/" + joined, nil
	}
	return fmt.Sprintf("%s://%s", scheme, joined), nil
}

// DeltaLogDir returns the table's _delta_log directory URI.
func DeltaLogDir(storageType StorageType, basePath, tableName string) (string, error) {
	root, err := TableRoot(storageType, basePath, tableName)
	if err != nil {
		return "", err
	}
	return join(root, "_delta_log"), nil
}

// LogEntryPath returns the URI of the commit log entry for the given
// version, zero-padded to 20 digits.
func LogEntryPath(storageType StorageType, basePath, tableName string, version int64) (string, error) {
	logDir, err := DeltaLogDir(storageType, basePath, tableName)
	if err != nil {
		return "", err
	}
	return join(logDir, fmt.Sprintf("%020d.json", version)), nil
}

// CheckpointPath returns the URI of the checkpoint Parquet file for the
// given version.
func CheckpointPath(storageType StorageType, basePath, tableName string, version int64) (string, error) {
	logDir, err := DeltaLogDir(storageType, basePath, tableName)
	if err != nil {
		return "", err
	}
	return join(logDir, fmt.Sprintf("%020d.checkpoint.parquet", version)), nil
}

// DataDir returns the URI of the table's data directory, optionally under a
// partition subpath built from ordered (column, value) pairs.
func DataDir(storageType StorageType, basePath, tableName string, partitionValues []PartitionValue) (string, error) {
	root, err := TableRoot(storageType, basePath, tableName)
	if err != nil {
		return "", err
	}
	if len(partitionValues) == 0 {
		return root, nil
	}
	segments := make([]string, 0, len(partitionValues))
	for _, pv := range partitionValues {
		segments = append(segments, fmt.Sprintf("%s=%s", pv.Column, pv.Value))
	}
	return join(root, segments...), nil
}

// PartitionValue is one (column, value) pair contributing a path segment
// under the partitioned data layout, e.g. "country=US".
type PartitionValue struct {
	Column string
	Value  string
}

// DataFilePath returns the URI of a single data file under dir (as returned
// by DataDir), named "<uuid>-<counter>.<compression>.parquet".
func DataFilePath(dir, fileUUID string, counter int, compressionExt string) string {
	return join(dir, fmt.Sprintf("%s-%d.%s.parquet", fileUUID, counter, compressionExt))
}

func join(base string, segments ...string) string {
	if strings.Contains(base, "://") {
		parts := strings.SplitN(base, "://", 2)
		return parts[0] + "://" + path.Join(append([]string{parts[1]}, segments...)...)
	}
	return path.Join(append([]string{base}, segments...)...)
}
