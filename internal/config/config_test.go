package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 50, cfg.WriteQueue.BatchTimeoutMS)
	assert.Equal(t, 1000, cfg.WriteQueue.MaxBatchSize)
	assert.Equal(t, 3, cfg.Commit.MaxRetries)
	assert.Equal(t, 10, cfg.Parquet.CheckpointInterval)
}

func TestValidateRejectsUnknownStorageType(t *testing.T) {
	cfg := Default()
	cfg.Storage.Type = "FTP"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveBatchTimeout(t *testing.T) {
	cfg := Default()
	cfg.WriteQueue.BatchTimeoutMS = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroCommitWorkers(t *testing.T) {
	cfg := Default()
	cfg.Commit.CommitWorkers = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "storage:\n  type: S3A\n  base_path: warehouse\nwrite_queue:\n  max_batch_size: 500\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "S3A", cfg.Storage.Type)
	assert.Equal(t, "warehouse", cfg.Storage.BasePath)
	assert.Equal(t, 500, cfg.WriteQueue.MaxBatchSize)
	// unspecified keys keep their defaults
	assert.Equal(t, 3, cfg.Commit.MaxRetries)
}

func TestLoadFromFileRejectsInvalidResult(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "storage:\n  type: NOT_A_TYPE\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	assert.Equal(t, int64(50), cfg.BatchTimeout().Milliseconds())
	assert.Equal(t, int64(30000), cfg.WriteTimeout().Milliseconds())
	assert.Equal(t, int64(30000), cfg.CacheTTL().Milliseconds())
}
