// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package callscope serves call graph construction and queries over HTTP.
//
// A Service builds graphs from inline model documents or Java sources,
// keeps the most recent ones in a bounded in-memory registry, and, when a
// snapshot store is configured, persists them for later diffing.
package callscope

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/callscope/services/callscope/config"
	"github.com/AleutianAI/callscope/services/callscope/frontend/java"
	"github.com/AleutianAI/callscope/services/callscope/graph"
	"github.com/AleutianAI/callscope/services/callscope/model"
	"github.com/AleutianAI/callscope/services/callscope/modelfile"
	"github.com/AleutianAI/callscope/services/callscope/snapshot"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const tracerName = "callscope.service"

// Graph sources.
const (
	SourceModel    = "model"
	SourceJava     = "java"
	SourceSnapshot = "snapshot"
)

var (
	// ErrGraphNotFound is returned when no cached graph has the given ID.
	ErrGraphNotFound = errors.New("callscope: graph not found")

	// ErrSnapshotsDisabled is returned by snapshot operations when the
	// service was built without a snapshot store.
	ErrSnapshotsDisabled = errors.New("callscope: snapshots not configured")
)

// CachedGraph is a built graph held by the service.
type CachedGraph struct {
	ID           string
	Project      string
	Source       string
	Graph        *graph.CallGraph
	BuiltAtMilli int64
}

// Service builds and caches call graphs.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	cfg       *config.Config
	snapshots *snapshot.Manager
	limiter   *rate.Limiter
	logger    *slog.Logger

	mu     sync.RWMutex
	graphs map[string]*CachedGraph
	order  []string
}

// NewService creates a service.
//
// Inputs:
//
//	cfg - Validated configuration. Must not be nil.
//	snapshots - Snapshot store. May be nil, which disables snapshot routes.
//	logger - Logger. Nil uses slog.Default().
func NewService(cfg *config.Config, snapshots *snapshot.Manager, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("callscope: config must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:       cfg,
		snapshots: snapshots,
		limiter:   rate.NewLimiter(rate.Limit(cfg.Server.BuildRatePerSecond), cfg.Server.BuildBurst),
		logger:    logger.With(slog.String("component", "service")),
		graphs:    make(map[string]*CachedGraph),
	}, nil
}

// Config returns the service configuration.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// Snapshots returns the snapshot store, or nil.
func (s *Service) Snapshots() *snapshot.Manager {
	return s.snapshots
}

// AllowBuild reports whether the build rate limit admits another build.
func (s *Service) AllowBuild() bool {
	return s.limiter.Allow()
}

// BuildFromModel builds a graph from a decoded model document.
//
// Description:
//
//	entryPoints overrides the document's entry points when non-empty.
//	algorithm overrides the configured algorithm when non-empty.
func (s *Service) BuildFromModel(ctx context.Context, project string, doc *modelfile.Document, entryPoints []string, algorithm string) (*CachedGraph, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: empty document", modelfile.ErrInvalidModelFile)
	}
	p, err := doc.Program()
	if err != nil {
		return nil, err
	}
	return s.build(ctx, project, SourceModel, p, entryPoints, algorithm)
}

// BuildJava parses Java sources and builds their graph.
func (s *Service) BuildJava(ctx context.Context, project string, files map[string][]byte, entryPoints []string, algorithm string) (*CachedGraph, *java.Result, error) {
	jc := s.cfg.Java
	fe := java.NewFrontend(
		java.WithExternalPrefixes(s.cfg.Analysis.ExternalPrefixes...),
		java.WithExtensions(jc.Extensions...),
		java.WithMaxFileSize(jc.MaxFileSize),
		java.WithMaxFiles(jc.MaxFiles),
		java.WithWorkers(s.cfg.Analysis.Workers),
		java.WithLogger(s.logger),
	)
	res, err := fe.Parse(ctx, files)
	if err != nil {
		return nil, nil, err
	}
	cg, err := s.build(ctx, project, SourceJava, res.Program, entryPoints, algorithm)
	if err != nil {
		return nil, res, err
	}
	return cg, res, nil
}

func (s *Service) build(ctx context.Context, project, source string, p *model.InMemoryProgram, entryPoints []string, algorithm string) (*CachedGraph, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Service.Build",
		trace.WithAttributes(
			attribute.String("project", project),
			attribute.String("source", source),
		),
	)
	defer span.End()

	analysis := s.cfg.Analysis
	if algorithm != "" {
		analysis.Algorithm = algorithm
	}
	opts, err := analysis.BuilderOptions(s.logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(entryPoints) == 0 {
		entryPoints = p.EntryPoints()
	}

	res, err := graph.BuildCallGraph(ctx, p, entryPoints, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	cg := &CachedGraph{
		ID:           res.Graph.RunID,
		Project:      project,
		Source:       source,
		Graph:        res.Graph,
		BuiltAtMilli: time.Now().UnixMilli(),
	}
	s.put(cg)
	span.SetAttributes(
		attribute.String("graph_id", cg.ID),
		attribute.Int("nodes", res.Graph.NodeCount()),
		attribute.Int("edges", res.Graph.EdgeCount()),
	)
	s.logger.Info("graph built",
		slog.String("graph_id", cg.ID),
		slog.String("project", project),
		slog.String("source", source),
		slog.Int("nodes", res.Graph.NodeCount()),
		slog.Int("edges", res.Graph.EdgeCount()),
	)
	return cg, nil
}

// put registers cg, evicting the oldest graph when the registry is full.
func (s *Service) put(cg *CachedGraph) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graphs[cg.ID]; !ok {
		s.order = append(s.order, cg.ID)
	}
	s.graphs[cg.ID] = cg
	for len(s.order) > s.cfg.Server.MaxGraphs {
		evicted := s.order[0]
		s.order = s.order[1:]
		delete(s.graphs, evicted)
		s.logger.Debug("graph evicted", slog.String("graph_id", evicted))
	}
	cachedGraphs.Set(float64(len(s.graphs)))
}

// Restore registers a graph loaded from a snapshot.
func (s *Service) Restore(g *graph.CallGraph, project string) *CachedGraph {
	cg := &CachedGraph{
		ID:           g.RunID,
		Project:      project,
		Source:       SourceSnapshot,
		Graph:        g,
		BuiltAtMilli: time.Now().UnixMilli(),
	}
	s.put(cg)
	return cg
}

// Graph returns the cached graph with the given ID.
func (s *Service) Graph(id string) (*CachedGraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cg, ok := s.graphs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, id)
	}
	return cg, nil
}

// Graphs returns every cached graph, newest first.
func (s *Service) Graphs() []*CachedGraph {
	s.mu.RLock()
	out := make([]*CachedGraph, 0, len(s.graphs))
	for _, cg := range s.graphs {
		out = append(out, cg)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].BuiltAtMilli != out[j].BuiltAtMilli {
			return out[i].BuiltAtMilli > out[j].BuiltAtMilli
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SaveSnapshot persists a cached graph.
func (s *Service) SaveSnapshot(ctx context.Context, id, label string) (*snapshot.Metadata, error) {
	if s.snapshots == nil {
		return nil, ErrSnapshotsDisabled
	}
	cg, err := s.Graph(id)
	if err != nil {
		return nil, err
	}
	project := cg.Project
	if project == "" {
		project = cg.ID
	}
	return s.snapshots.Save(ctx, cg.Graph, project, label)
}
