// Package config decodes and validates the engine's YAML configuration:
// nested structs per concern, a Default() baseline, and a Validate() pass
// run once at startup.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lakewriter/deltaingest/pkg/errors"
)

// Config is the engine's full configuration surface.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	WriteQueue WriteQueueConfig `yaml:"write_queue"`
	Commit     CommitConfig     `yaml:"commit"`
	Cache      CacheConfig      `yaml:"cache"`
	Parquet    ParquetConfig    `yaml:"parquet"`
	Registry   RegistryConfig   `yaml:"registry"`
	Logging    LogConfig        `yaml:"logging"`
}

// StorageConfig selects and configures the object-store backend.
type StorageConfig struct {
	Type     string   `yaml:"type"` // S3A, LOCAL, HDFS, AZURE, GCS
	BasePath string   `yaml:"base_path"`
	S3       S3Config `yaml:"s3,omitempty"`
}

// S3Config holds S3-compatible endpoint and credential configuration.
type S3Config struct {
	Bucket             string `yaml:"bucket"`
	Region             string `yaml:"region,omitempty"`
	Endpoint           string `yaml:"endpoint,omitempty"`
	AccessKeyID        string `yaml:"access_key_id,omitempty"`
	SecretAccessKey    string `yaml:"secret_access_key,omitempty"`
	UseTLS             bool   `yaml:"use_tls"`
	PathStyle          bool   `yaml:"path_style"`
	ConnectionPoolSize int    `yaml:"connection_pool_size"`
}

// WriteQueueConfig configures the write queue and its dispatcher.
type WriteQueueConfig struct {
	BatchTimeoutMS int `yaml:"batch_timeout_ms"`
	MaxBatchSize   int `yaml:"max_batch_size"`
	Capacity       int `yaml:"capacity"`
}

// CommitConfig configures the commit coordinator and its worker pool.
type CommitConfig struct {
	MaxRetries     int `yaml:"max_retries"`
	CommitWorkers  int `yaml:"commit_workers"`
	WriteTimeoutMS int `yaml:"write_timeout_ms"`
}

// CacheConfig configures the metadata/schema caches.
type CacheConfig struct {
	CacheTTLMS       int `yaml:"cache_ttl_ms"`
	SchemaCacheTTLMS int `yaml:"schema_cache_ttl_ms"`
	MaxEntries       int `yaml:"max_entries"`
}

// ParquetConfig configures the Parquet writer and checkpoint cadence.
type ParquetConfig struct {
	BlockBytes         int64  `yaml:"parquet_block_bytes"`
	CompressionCodec   string `yaml:"compression_codec"`
	CheckpointInterval int    `yaml:"checkpoint_interval"`
}

// RegistryConfig configures the entity metadata registry's persistence.
type RegistryConfig struct {
	SQLitePath       string `yaml:"sqlite_path"`
	DefaultEvolution string `yaml:"default_evolution_policy"`
}

// LogConfig configures zerolog output: level, format and optional file
// rotation.
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"` // "json" or "console"
	File      string `yaml:"file,omitempty"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	// Cleanup truncates the log file at startup instead of appending to
	// the previous run's output.
	Cleanup bool `yaml:"cleanup"`
}

// Default returns the documented default for every configuration key.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Type:     "LOCAL",
			BasePath: "./data",
			S3: S3Config{
				ConnectionPoolSize: 200,
			},
		},
		WriteQueue: WriteQueueConfig{
			BatchTimeoutMS: 50,
			MaxBatchSize:   1000,
			Capacity:       10000,
		},
		Commit: CommitConfig{
			MaxRetries:     3,
			CommitWorkers:  2,
			WriteTimeoutMS: 30000,
		},
		Cache: CacheConfig{
			CacheTTLMS:       30000,
			SchemaCacheTTLMS: 300000,
			MaxEntries:       1000,
		},
		Parquet: ParquetConfig{
			BlockBytes:         256 * 1024 * 1024,
			CompressionCodec:   "snappy",
			CheckpointInterval: 10,
		},
		Registry: RegistryConfig{
			SQLitePath:       "./registry.db",
			DefaultEvolution: "BACKWARD_COMPATIBLE",
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromFile reads and decodes a YAML config file over the documented
// defaults, then validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.CodePermanentIO, "failed to read config file", err).AddContext("path", path)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.New(errors.CommonValidation, "failed to parse config file", err).AddContext("path", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants the engine relies on at startup: positive
// timeouts and sizes, a known storage type and evolution policy.
func (c *Config) Validate() error {
	if c.WriteQueue.BatchTimeoutMS <= 0 {
		return errors.ValidationFailure("write_queue.batch_timeout_ms must be positive")
	}
	if c.WriteQueue.MaxBatchSize <= 0 {
		return errors.ValidationFailure("write_queue.max_batch_size must be positive")
	}
	if c.Commit.CommitWorkers < 1 {
		return errors.ValidationFailure("commit.commit_workers must be at least 1")
	}
	if c.Commit.MaxRetries < 0 {
		return errors.ValidationFailure("commit.max_retries must not be negative")
	}
	if c.Parquet.CheckpointInterval <= 0 {
		return errors.ValidationFailure("parquet.checkpoint_interval must be positive")
	}

	switch c.Storage.Type {
	case "S3A", "LOCAL", "HDFS", "AZURE", "GCS":
	default:
		return errors.ValidationFailure(fmt.Sprintf("unknown storage.type %q", c.Storage.Type))
	}

	switch c.Registry.DefaultEvolution {
	case "BACKWARD_COMPATIBLE", "FORWARD_COMPATIBLE", "FULL", "NONE":
	default:
		return errors.ValidationFailure(fmt.Sprintf("unknown registry.default_evolution_policy %q", c.Registry.DefaultEvolution))
	}

	return nil
}

// BatchTimeout returns the dispatcher cycle period as a time.Duration.
func (c *Config) BatchTimeout() time.Duration {
	return time.Duration(c.WriteQueue.BatchTimeoutMS) * time.Millisecond
}

// WriteTimeout returns the per-request deadline as a time.Duration.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Commit.WriteTimeoutMS) * time.Millisecond
}

// CacheTTL returns the metadata cache TTL as a time.Duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.CacheTTLMS) * time.Millisecond
}

// SchemaCacheTTL returns the translated-schema cache TTL as a
// time.Duration.
func (c *Config) SchemaCacheTTL() time.Duration {
	return time.Duration(c.Cache.SchemaCacheTTLMS) * time.Millisecond
}
