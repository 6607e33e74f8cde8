// Package config loads the benchmark driver's JSONC configuration.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tailscale/hujson"
)

var (
	// ErrInvalid is returned for a config that fails validation.
	ErrInvalid = errors.New("config: invalid")
	// ErrFileRead is returned when an explicit config file cannot be read.
	ErrFileRead = errors.New("config: cannot read file")
)

// Device kinds.
const (
	DeviceMemory = "memory"
	DeviceFile   = "file"
	DeviceBlob   = "blob"
	DeviceMinIO  = "minio"
	DeviceS3     = "s3"
)

// Config describes one benchmark run.
type Config struct {
	Buffers   int `json:"buffers"`
	Buckets   int `json:"buckets"`
	BlockSize int `json:"block_size"`

	Workers    int     `json:"workers"`
	Ops        int     `json:"ops"`
	Blocks     int     `json:"blocks"`
	WriteRatio float64 `json:"write_ratio"`
	// PinEvery makes every n-th operation pin a second block across the
	// update. Zero disables pinning.
	PinEvery int `json:"pin_every"`

	Device      string `json:"device"`
	Path        string `json:"path,omitempty"`
	Compression string `json:"compression,omitempty"`

	IOLimit     int64 `json:"io_limit,omitempty"`
	MemoryLimit int64 `json:"memory_limit,omitempty"`

	LogFile  string `json:"log_file,omitempty"`
	LogLevel string `json:"log_level"`

	MinIO MinIO `json:"minio"`
	S3    S3    `json:"s3"`
}

// MinIO holds connection settings for the minio device.
type MinIO struct {
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Prefix    string `json:"prefix,omitempty"`
	UseSSL    bool   `json:"use_ssl"`
}

// S3 holds settings for the s3 device. Credentials come from the default
// AWS chain.
type S3 struct {
	Bucket string `json:"bucket"`
	Prefix string `json:"prefix,omitempty"`
	Region string `json:"region,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Buffers:    30,
		Buckets:    13,
		BlockSize:  1024,
		Workers:    4,
		Ops:        10000,
		Blocks:     64,
		WriteRatio: 0.2,
		Device:     DeviceMemory,
		LogLevel:   "info",
		MinIO: MinIO{
			Endpoint:  "localhost:9000",
			AccessKey: "minioadmin",
			SecretKey: "minioadmin",
			Bucket:    "bcache",
		},
	}
}

// Load returns Default overlaid with the file at path. Fields absent from
// the file keep their defaults. An empty path returns Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %w", ErrFileRead, path, err)
	}

	if err := Parse(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes JSONC data into cfg. Comments and trailing commas are
// allowed.
func Parse(data []byte, cfg *Config) error {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("%w: invalid JSONC: %w", ErrInvalid, err)
	}

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Buffers > 0, "buffers must be positive, got %d", c.Buffers)
	check(c.Buckets > 0, "buckets must be positive, got %d", c.Buckets)
	check(c.BlockSize > 0, "block_size must be positive, got %d", c.BlockSize)
	check(c.Workers > 0, "workers must be positive, got %d", c.Workers)
	check(c.Ops >= 0, "ops must not be negative, got %d", c.Ops)
	check(c.Blocks > 0, "blocks must be positive, got %d", c.Blocks)
	check(c.WriteRatio >= 0 && c.WriteRatio <= 1, "write_ratio must be in [0,1], got %g", c.WriteRatio)
	check(c.PinEvery >= 0, "pin_every must not be negative, got %d", c.PinEvery)
	check(c.IOLimit >= 0, "io_limit must not be negative, got %d", c.IOLimit)
	check(c.IOLimit == 0 || c.IOLimit >= int64(c.BlockSize),
		"io_limit must be 0 or at least block_size (%d), got %d", c.BlockSize, c.IOLimit)
	check(c.MemoryLimit >= 0, "memory_limit must not be negative, got %d", c.MemoryLimit)

	switch c.Device {
	case DeviceMemory:
	case DeviceFile, DeviceBlob:
		check(c.Path != "", "device %q needs a path", c.Device)
	case DeviceMinIO:
		check(c.MinIO.Endpoint != "", "minio.endpoint is required")
		check(c.MinIO.Bucket != "", "minio.bucket is required")
	case DeviceS3:
		check(c.S3.Bucket != "", "s3.bucket is required")
	default:
		errs = append(errs, fmt.Errorf("unknown device %q", c.Device))
	}

	switch c.Compression {
	case "", "none", "lz4", "zstd":
	default:
		errs = append(errs, fmt.Errorf("unknown compression %q", c.Compression))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
