// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package config loads and validates the quill configuration file. The raw
// YAML document is checked against a JSON Schema generated from these types
// before unmarshalling, so typos in key names fail loudly instead of being
// silently ignored.
package config

import (
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// LogConfig controls structured logging output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	// Format is json or text.
	Format string `koanf:"format" json:"format,omitempty" jsonschema:"enum=json,enum=text"`
}

// StoreConfig selects and configures the storage backend.
type StoreConfig struct {
	// Backend is memory or postgres.
	Backend string `koanf:"backend" json:"backend,omitempty" jsonschema:"enum=memory,enum=postgres"`
	// DatabaseURL is the postgres connection string. Required when the
	// backend is postgres.
	DatabaseURL string `koanf:"database_url" json:"database_url,omitempty"`
}

// ObservabilityConfig controls the metrics/health HTTP listener. An empty
// Addr disables it.
type ObservabilityConfig struct {
	Addr string `koanf:"addr" json:"addr,omitempty"`
}

// EngineConfig bounds list operations.
type EngineConfig struct {
	// DefaultPageSize applies when a list request carries no limit.
	DefaultPageSize int `koanf:"default_page_size" json:"default_page_size,omitempty" jsonschema:"minimum=1"`
	// MaxPageSize caps any requested limit. Zero means uncapped.
	MaxPageSize int `koanf:"max_page_size" json:"max_page_size,omitempty" jsonschema:"minimum=1"`
}

// Config is the full quill configuration.
type Config struct {
	Log           LogConfig           `koanf:"log" json:"log,omitempty"`
	Store         StoreConfig         `koanf:"store" json:"store,omitempty"`
	Observability ObservabilityConfig `koanf:"observability" json:"observability,omitempty"`
	Engine        EngineConfig        `koanf:"engine" json:"engine,omitempty"`
}

// Default returns the configuration used when no file or flags are given.
func Default() *Config {
	return &Config{
		Log:   LogConfig{Level: "info", Format: "json"},
		Store: StoreConfig{Backend: "memory"},
		Engine: EngineConfig{
			DefaultPageSize: 50,
			MaxPageSize:     500,
		},
	}
}

// Load reads configuration in increasing precedence: defaults, then the YAML
// file at path (if non-empty), then the given flag set (if non-nil). The file
// is schema-validated before unmarshalling.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
		if err := ValidateDocument(raw); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.Code("CONFIG_UNMARSHAL_FAILED").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints the schema cannot express.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return oops.Code("CONFIG_INVALID").
				Errorf("store.database_url is required for the postgres backend")
		}
	default:
		return oops.Code("CONFIG_INVALID").
			Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Engine.MaxPageSize > 0 && c.Engine.DefaultPageSize > c.Engine.MaxPageSize {
		return oops.Code("CONFIG_INVALID").
			Errorf("engine.default_page_size %d exceeds engine.max_page_size %d",
				c.Engine.DefaultPageSize, c.Engine.MaxPageSize)
	}
	return nil
}
