// Package config handles loading and parsing of BlobVault configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Minimum part size accepted by S3 for all but the last part of a
// multipart upload.
const minPartSize = 5 * 1024 * 1024

// DefaultExpirationDays is how long soft-deleted blobs linger before the
// bucket lifecycle rule expires them.
const DefaultExpirationDays = 3

// Config is the top-level configuration for BlobVault.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	S3       S3Config       `yaml:"s3"`
	Transfer TransferConfig `yaml:"transfer"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// StoreConfig identifies the blob store and its lifecycle policy.
type StoreConfig struct {
	// Name is the blob store's name. It scopes the store's lifecycle rule
	// within the bucket, so several stores can share one bucket.
	Name string `yaml:"name"`
	// Bucket is the S3 bucket holding the store's objects.
	Bucket string `yaml:"bucket"`
	// Prefix is an optional key prefix under which all of the store's
	// objects live.
	Prefix string `yaml:"prefix"`
	// ExpirationDays is how many days soft-deleted blobs are retained
	// before the lifecycle rule expires them. Zero disables soft deletion:
	// deletes remove the objects immediately. Negative values are invalid.
	ExpirationDays *int `yaml:"expiration_days"`
	// PreferExpire keeps hard deletes as soft deletes when a retention
	// window is configured, leaving final removal to the lifecycle rule.
	PreferExpire bool `yaml:"prefer_expire"`
	// ForceHardDelete makes every delete remove the objects immediately,
	// regardless of the retention window.
	ForceHardDelete bool `yaml:"force_hard_delete"`
	// AsyncCleanup moves hard deletes issued through the async path onto a
	// background worker pool.
	AsyncCleanup bool `yaml:"async_cleanup"`
	// OwnershipCheckDisabled skips the bucket-policy read used to verify
	// the bucket is accessible under the configured credentials.
	OwnershipCheckDisabled bool `yaml:"ownership_check_disabled"`
}

// S3Config holds object-store connection settings.
type S3Config struct {
	// Region is the bucket's region.
	Region string `yaml:"region"`
	// Endpoint overrides the S3 endpoint for S3-compatible stores.
	Endpoint string `yaml:"endpoint"`
	// ForcePathStyle uses path-style addressing instead of virtual hosting.
	ForcePathStyle bool `yaml:"force_path_style"`
	// AccessKey and SecretKey are optional static credentials; when empty
	// the default AWS credential chain is used.
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	// SessionToken accompanies temporary static credentials.
	SessionToken string `yaml:"session_token"`
}

// TransferConfig selects and tunes the upload and copy strategies.
type TransferConfig struct {
	// Uploader is the upload strategy: "multipart", "parallel", or
	// "pipelined".
	Uploader string `yaml:"uploader"`
	// Copier is the server-side copy strategy: "multipart" or "parallel".
	Copier string `yaml:"copier"`
	// PartSize is the multipart chunk size in bytes (min 5 MiB).
	PartSize int64 `yaml:"part_size"`
	// Concurrency bounds in-flight parts for the concurrent strategies.
	Concurrency int `yaml:"concurrency"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `yaml:"level"`
	// Format is the log output format: "text" or "json".
	Format string `yaml:"format"`
}

// Load reads a YAML configuration file from the given path and returns a
// parsed Config. It applies sensible defaults for unset values. If the
// primary path fails, it falls back to blobvault.example.yaml in the same
// directory or parent directory.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		// Try fallback paths
		fallbackPaths := []string{
			filepath.Join(filepath.Dir(path), "blobvault.example.yaml"),
			filepath.Join(filepath.Dir(path), "..", "blobvault.example.yaml"),
		}
		var fallbackErr error
		for _, fp := range fallbackPaths {
			data, fallbackErr = os.ReadFile(fp)
			if fallbackErr == nil {
				break
			}
		}
		if fallbackErr != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply defaults for empty fields that YAML didn't set
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Store.Name == "" {
		return fmt.Errorf("store.name is required")
	}
	if c.Store.Bucket == "" {
		return fmt.Errorf("store.bucket is required")
	}
	if d := c.Store.ExpirationDays; d != nil && *d < 0 {
		return fmt.Errorf("store.expiration_days must not be negative, got %d", *d)
	}
	switch c.Transfer.Uploader {
	case "multipart", "parallel", "pipelined":
	default:
		return fmt.Errorf("unknown transfer.uploader %q", c.Transfer.Uploader)
	}
	switch c.Transfer.Copier {
	case "multipart", "parallel":
	default:
		return fmt.Errorf("unknown transfer.copier %q", c.Transfer.Copier)
	}
	if c.Transfer.PartSize < minPartSize {
		return fmt.Errorf("transfer.part_size %d is below the 5 MiB multipart minimum", c.Transfer.PartSize)
	}
	if c.Transfer.Concurrency < 1 {
		return fmt.Errorf("transfer.concurrency must be at least 1, got %d", c.Transfer.Concurrency)
	}
	return nil
}

// Expiration returns the retention window in days, substituting the
// default when unset.
func (c *StoreConfig) Expiration() int {
	if c.ExpirationDays == nil {
		return DefaultExpirationDays
	}
	return *c.ExpirationDays
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		S3: S3Config{
			Region: "us-east-1",
		},
		Transfer: TransferConfig{
			Uploader:    "pipelined",
			Copier:      "parallel",
			PartSize:    minPartSize,
			Concurrency: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
	if cfg.Transfer.Uploader == "" {
		cfg.Transfer.Uploader = "pipelined"
	}
	if cfg.Transfer.Copier == "" {
		cfg.Transfer.Copier = "parallel"
	}
	if cfg.Transfer.PartSize == 0 {
		cfg.Transfer.PartSize = minPartSize
	}
	if cfg.Transfer.Concurrency == 0 {
		cfg.Transfer.Concurrency = 4
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}
