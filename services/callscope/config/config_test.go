// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/callscope/services/callscope/graph"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "callscope.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "rta", cfg.Analysis.Algorithm)
	require.Equal(t, 1, cfg.Analysis.Workers)
	require.Equal(t, 64, cfg.Analysis.BatchSize)
	require.True(t, cfg.Analysis.StaticInitializers)
	require.Contains(t, cfg.Analysis.ExternalPrefixes, "java.")
	require.Equal(t, []string{".java"}, cfg.Java.Extensions)
	require.False(t, cfg.Neo4j.Enabled())
	require.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	require.Equal(t, slog.LevelInfo, cfg.Logging.SlogLevel())
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
analysis:
  algorithm: cha
  workers: 8
  external_types: [com.acme.Lib]
neo4j:
  uri: bolt://localhost:7687
logging:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "cha", cfg.Analysis.Algorithm)
	require.Equal(t, 8, cfg.Analysis.Workers)
	require.Equal(t, 64, cfg.Analysis.BatchSize, "unset fields keep defaults")
	require.Equal(t, []string{"com.acme.Lib"}, cfg.Analysis.ExternalTypes)
	require.True(t, cfg.Neo4j.Enabled())
	require.Equal(t, "neo4j", cfg.Neo4j.Username)
	require.Equal(t, slog.LevelDebug, cfg.Logging.SlogLevel())
	require.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_PasswordFromEnv(t *testing.T) {
	t.Setenv(Neo4jPasswordEnv, "s3cret")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "s3cret", cfg.Neo4j.Password)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "algorithm", yaml: "analysis: {algorithm: vta}"},
		{name: "workers", yaml: "analysis: {workers: 0}"},
		{name: "negative iterations", yaml: "analysis: {max_iterations: -1}"},
		{name: "extension", yaml: "java: {extensions: [java]}"},
		{name: "storage path", yaml: "storage: {path: \"\", in_memory: false}"},
		{name: "neo4j uri", yaml: "neo4j: {uri: \"not a uri\"}"},
		{name: "log level", yaml: "logging: {level: loud}"},
		{name: "rate", yaml: "server: {build_rate_per_second: 0}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "analysis: [unclosed"))
	require.ErrorContains(t, err, "parsing YAML")
}

func TestStorageInMemoryNeedsNoPath(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	cfg.Storage = StorageConfig{InMemory: true}
	require.NoError(t, cfg.Validate())
}

func TestAnalysisConfig_BuilderOptions(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	cfg.Analysis.Algorithm = "cha"
	cfg.Analysis.Workers = 3

	opts, err := cfg.Analysis.BuilderOptions(nil)
	require.NoError(t, err)

	b := graph.NewBuilder(opts...)
	got := b.Options()
	require.Equal(t, graph.AlgorithmCHA, got.Algorithm)
	require.Equal(t, 3, got.Workers)
	require.Equal(t, cfg.Analysis.ExternalPrefixes, got.ExternalPrefixes)

	cfg.Analysis.Algorithm = "bogus"
	_, err = cfg.Analysis.BuilderOptions(nil)
	require.ErrorIs(t, err, graph.ErrInvalidAlgorithm)
}
