// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quarry Contributors

package config

import (
	"errors"
	"net"
	"strconv"
	"strings"

	quarryerr "github.com/quarry-dev/quarry/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the top-level Quarry configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	ObjectStore ObjectStoreConfig `mapstructure:"objectstore"`
	Embeddings  EmbeddingsConfig  `mapstructure:"embeddings"`
	Ingest      IngestConfig      `mapstructure:"ingest"`
	Bridge      BridgeConfig      `mapstructure:"bridge"`
}

// ServerConfig controls how Quarry listens for connections.
type ServerConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// StorageConfig selects the vector store backend.
type StorageConfig struct {
	Backend    string `mapstructure:"backend"`
	Path       string `mapstructure:"path"`
	Collection string `mapstructure:"collection"`
	Dimensions int    `mapstructure:"dimensions"`
}

// ObjectStoreConfig holds credentials and endpoint for the bucket
// storage that documents are ingested from.
type ObjectStoreConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
}

// EmbeddingsConfig holds credentials and endpoint for the embeddings
// provider.
type EmbeddingsConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
	BatchSize  int    `mapstructure:"batch_size"`
}

// IngestConfig controls document chunking.
type IngestConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
}

// BridgeConfig sizes the backend worker pool.
type BridgeConfig struct {
	Workers int `mapstructure:"workers"`
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix QUARRY_).
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.listen", "127.0.0.1:9187")
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.path", "quarry.db")
	v.SetDefault("storage.collection", "default")
	v.SetDefault("storage.dimensions", 1536)
	v.SetDefault("embeddings.model", "text-embedding-3-small")
	v.SetDefault("embeddings.batch_size", 256)
	v.SetDefault("ingest.chunk_size", 1500)
	v.SetDefault("ingest.chunk_overlap", 100)
	v.SetDefault("bridge.workers", 0)

	// Environment
	v.SetEnvPrefix("QUARRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// File
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, quarryerr.Errorf(quarryerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, quarryerr.Errorf(quarryerr.CodeConfigValidateInvalidValue, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, quarryerr.Errorf(quarryerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors.
// It returns a slice of all validation errors found, collecting all issues
// rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateEmbeddings()...)
	errs = append(errs, c.validateIngest()...)
	errs = append(errs, c.validateBridge()...)

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, quarryerr.Errorf(quarryerr.CodeConfigValidateInvalidValue, "config: server.listen must not be empty"))
	} else {
		host, portStr, err := net.SplitHostPort(c.Server.Listen)
		if err != nil {
			errs = append(errs, quarryerr.Errorf(quarryerr.CodeConfigValidateInvalidValue,
				"config: server.listen must be a valid host:port address, got %q: %w",
				c.Server.Listen, err,
			))
		} else {
			_ = host // host can be empty (e.g., ":8080"), which is valid
			port, err := strconv.Atoi(portStr)
			if err != nil {
				errs = append(errs, quarryerr.Errorf(quarryerr.CodeConfigValidateInvalidValue,
					"config: server.listen port must be a number, got %q",
					portStr,
				))
			} else if port < 1 || port > 65535 {
				errs = append(errs, quarryerr.Errorf(quarryerr.CodeConfigValidateInvalidValue,
					"config: server.listen port must be between 1 and 65535, got %d",
					port,
				))
			}
		}
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, quarryerr.Errorf(quarryerr.CodeConfigValidateInvalidValue,
			"config: storage.backend must be one of [sqlite], got %q",
			c.Storage.Backend,
		))
	}

	if c.Storage.Path == "" {
		errs = append(errs, quarryerr.Errorf(quarryerr.CodeConfigValidateInvalidValue, "config: storage.path must not be empty"))
	}

	if c.Storage.Collection == "" {
		errs = append(errs, quarryerr.Errorf(quarryerr.CodeConfigValidateInvalidValue, "config: storage.collection must not be empty"))
	}

	if c.Storage.Dimensions <= 0 {
		errs = append(errs, quarryerr.Errorf(quarryerr.CodeConfigValidateInvalidValue,
			"config: storage.dimensions must be greater than 0, got %d",
			c.Storage.Dimensions,
		))
	}

	if c.Embeddings.Dimensions != 0 && c.Embeddings.Dimensions != c.Storage.Dimensions {
		errs = append(errs, quarryerr.Errorf(quarryerr.CodeConfigValidateInvalidValue,
			"config: embeddings.dimensions (%d) must match storage.dimensions (%d)",
			c.Embeddings.Dimensions, c.Storage.Dimensions,
		))
	}

	return errs
}

func (c *Config) validateEmbeddings() []error {
	var errs []error

	if c.Embeddings.Model == "" {
		errs = append(errs, quarryerr.Errorf(quarryerr.CodeConfigValidateInvalidValue, "config: embeddings.model must not be empty"))
	}

	if c.Embeddings.BatchSize < 0 {
		errs = append(errs, quarryerr.Errorf(quarryerr.CodeConfigValidateInvalidValue,
			"config: embeddings.batch_size must not be negative, got %d",
			c.Embeddings.BatchSize,
		))
	}

	return errs
}

func (c *Config) validateIngest() []error {
	var errs []error

	if c.Ingest.ChunkSize <= 0 {
		errs = append(errs, quarryerr.Errorf(quarryerr.CodeConfigValidateInvalidValue,
			"config: ingest.chunk_size must be greater than 0, got %d",
			c.Ingest.ChunkSize,
		))
	}

	if c.Ingest.ChunkOverlap < 0 {
		errs = append(errs, quarryerr.Errorf(quarryerr.CodeConfigValidateInvalidValue,
			"config: ingest.chunk_overlap must not be negative, got %d",
			c.Ingest.ChunkOverlap,
		))
	} else if c.Ingest.ChunkSize > 0 && c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		errs = append(errs, quarryerr.Errorf(quarryerr.CodeConfigValidateInvalidValue,
			"config: ingest.chunk_overlap (%d) must be smaller than ingest.chunk_size (%d)",
			c.Ingest.ChunkOverlap, c.Ingest.ChunkSize,
		))
	}

	return errs
}

func (c *Config) validateBridge() []error {
	var errs []error

	if c.Bridge.Workers < 0 {
		errs = append(errs, quarryerr.Errorf(quarryerr.CodeConfigValidateInvalidValue,
			"config: bridge.workers must not be negative, got %d",
			c.Bridge.Workers,
		))
	}

	return errs
}
