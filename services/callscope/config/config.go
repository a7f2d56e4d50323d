// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads callscope configuration from YAML.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/callscope/services/callscope/graph"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Defaults
// =============================================================================

//go:embed default_config.yaml
var defaultConfigYAML []byte

// MaxYAMLFileSize bounds configuration files read from disk.
const MaxYAMLFileSize = 1 << 20

// Neo4jPasswordEnv overrides neo4j.password when set.
const Neo4jPasswordEnv = "CALLSCOPE_NEO4J_PASSWORD"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// =============================================================================
// Configuration Types
// =============================================================================

// Config is the complete callscope configuration.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Config struct {
	Analysis AnalysisConfig `yaml:"analysis"`
	Java     JavaConfig     `yaml:"java"`
	Golang   GolangConfig   `yaml:"golang"`
	Storage  StorageConfig  `yaml:"storage"`
	Neo4j    Neo4jConfig    `yaml:"neo4j"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AnalysisConfig configures call graph construction.
type AnalysisConfig struct {
	// Algorithm is "rta" or "cha".
	Algorithm string `yaml:"algorithm" validate:"oneof=rta cha"`

	// Workers is the number of scan goroutines.
	Workers int `yaml:"workers" validate:"min=1,max=256"`

	// BatchSize is the number of worklist methods scanned per iteration.
	BatchSize int `yaml:"batch_size" validate:"min=1"`

	// StaticInitializers makes class initializers reachable on first use.
	StaticInitializers bool `yaml:"static_initializers"`

	// MaxIterations aborts runaway builds. 0 disables the limit.
	MaxIterations int `yaml:"max_iterations" validate:"min=0"`

	// ExternalTypes are opaque library types.
	ExternalTypes []string `yaml:"external_types" validate:"dive,required"`

	// ExternalPrefixes mark every type with the prefix as opaque.
	ExternalPrefixes []string `yaml:"external_prefixes" validate:"dive,required"`
}

// JavaConfig bounds Java source ingestion.
type JavaConfig struct {
	Extensions  []string `yaml:"extensions" validate:"min=1,dive,startswith=."`
	MaxFileSize int64    `yaml:"max_file_size" validate:"min=1"`
	MaxFiles    int      `yaml:"max_files" validate:"min=1"`
}

// GolangConfig configures Go package loading.
type GolangConfig struct {
	// Tests includes _test.go packages.
	Tests bool `yaml:"tests"`

	// BuildTags are passed to the go tool as -tags.
	BuildTags []string `yaml:"build_tags"`
}

// StorageConfig locates the snapshot store.
type StorageConfig struct {
	// Path is the badger directory. Required unless InMemory is set.
	Path string `yaml:"path" validate:"required_without=InMemory"`

	// InMemory keeps snapshots in memory only.
	InMemory bool `yaml:"in_memory"`
}

// Neo4jConfig configures the graph database exporter. An empty URI disables it.
type Neo4jConfig struct {
	URI       string `yaml:"uri" validate:"omitempty,uri"`
	Username  string `yaml:"username" validate:"required_with=URI"`
	Password  string `yaml:"password"`
	Database  string `yaml:"database"`
	BatchSize int    `yaml:"batch_size" validate:"min=1,max=100000"`
}

// Enabled reports whether a Neo4j URI is configured.
func (c Neo4jConfig) Enabled() bool {
	return c.URI != ""
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`

	// MaxGraphs caps the in-memory graph registry. The oldest graph is
	// evicted when full.
	MaxGraphs int `yaml:"max_graphs" validate:"min=1"`

	// MaxBodyBytes bounds build request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes" validate:"min=1024"`

	// BuildRatePerSecond and BuildBurst rate-limit the build endpoints.
	BuildRatePerSecond float64 `yaml:"build_rate_per_second" validate:"gt=0"`
	BuildBurst         int     `yaml:"build_burst" validate:"min=1"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// SlogLevel converts Level to a slog.Level. Unknown values map to info.
func (c LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// Loading
// =============================================================================

// Default returns the embedded default configuration.
func Default() (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultConfigYAML, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing embedded defaults: %w", err)
	}
	return &cfg, nil
}

// Load reads the configuration at path over the defaults.
//
// Description:
//
//	An empty path returns the defaults. Fields absent from the file keep
//	their default values; lists present in the file replace the default
//	lists. The Neo4j password may be supplied through CALLSCOPE_NEO4J_PASSWORD.
//	The result is validated.
//
// Inputs:
//
//	path - YAML file path, or "" for defaults only.
//
// Outputs:
//
//	*Config - The validated configuration.
//	error - Read, parse, or ErrInvalidConfig validation errors.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if info.Size() > MaxYAMLFileSize {
			return nil, fmt.Errorf("config: %s exceeds maximum size (%d > %d)", path, info.Size(), MaxYAMLFileSize)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := Merge(cfg, data); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	if pw := os.Getenv(Neo4jPasswordEnv); pw != "" {
		cfg.Neo4j.Password = pw
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	slog.Debug("config loaded",
		slog.String("path", path),
		slog.String("algorithm", cfg.Analysis.Algorithm),
		slog.Int("workers", cfg.Analysis.Workers),
	)
	return cfg, nil
}

// Merge decodes YAML data over cfg.
func Merge(cfg *Config, data []byte) error {
	if len(data) > MaxYAMLFileSize {
		return fmt.Errorf("YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every struct tag constraint.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// BuilderOptions converts the analysis section into builder options.
func (c AnalysisConfig) BuilderOptions(logger *slog.Logger) ([]graph.BuilderOption, error) {
	alg, err := graph.ParseAlgorithm(c.Algorithm)
	if err != nil {
		return nil, err
	}
	return []graph.BuilderOption{
		graph.WithAlgorithm(alg),
		graph.WithWorkers(c.Workers),
		graph.WithBatchSize(c.BatchSize),
		graph.WithStaticInitializers(c.StaticInitializers),
		graph.WithMaxIterations(c.MaxIterations),
		graph.WithExternalTypes(c.ExternalTypes...),
		graph.WithExternalPrefixes(c.ExternalPrefixes...),
		graph.WithLogger(logger),
	}, nil
}
