// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/AleutianAI/callscope/services/callscope/frontend/golang"
	"github.com/AleutianAI/callscope/services/callscope/frontend/java"
	"github.com/AleutianAI/callscope/services/callscope/graph"
	"github.com/AleutianAI/callscope/services/callscope/model"
	"github.com/AleutianAI/callscope/services/callscope/modelfile"
	"github.com/AleutianAI/callscope/services/callscope/snapshot"
	"github.com/spf13/cobra"
)

var errNoSource = errors.New("exactly one of --model, --java or --go is required")

// sourceFlags selects the program to analyse.
type sourceFlags struct {
	model     string
	java      string
	goDir     string
	algorithm string
	project   string
	entries   []string
}

func (s *sourceFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&s.model, "model", "", "Model file (YAML or JSON)")
	f.StringVar(&s.java, "java", "", "Directory of Java sources")
	f.StringVar(&s.goDir, "go", "", "Go module directory; remaining arguments are package patterns")
	f.StringVar(&s.algorithm, "algorithm", "", "rta or cha (overrides config)")
	f.StringVar(&s.project, "project", "", "Project label for snapshots (default: the input path)")
	f.StringSliceVar(&s.entries, "entry", nil, "Entry point method IDs (default: the program's own)")
}

// path returns the selected input path.
func (s *sourceFlags) path() (string, error) {
	var set []string
	for _, p := range []string{s.model, s.java, s.goDir} {
		if p != "" {
			set = append(set, p)
		}
	}
	if len(set) != 1 {
		return "", errNoSource
	}
	return set[0], nil
}

// projectName returns --project or the absolute input path.
func (s *sourceFlags) projectName() (string, error) {
	if s.project != "" {
		return s.project, nil
	}
	p, err := s.path()
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return abs, nil
}

// loadProgram runs the frontend selected by the flags.
func (a *app) loadProgram(ctx context.Context, s *sourceFlags, patterns []string) (*model.InMemoryProgram, error) {
	if _, err := s.path(); err != nil {
		return nil, err
	}
	switch {
	case s.model != "":
		return modelfile.Load(s.model)

	case s.java != "":
		jc := a.cfg.Java
		res, err := java.NewFrontend(
			java.WithExternalPrefixes(a.cfg.Analysis.ExternalPrefixes...),
			java.WithExtensions(jc.Extensions...),
			java.WithMaxFileSize(jc.MaxFileSize),
			java.WithMaxFiles(jc.MaxFiles),
			java.WithWorkers(a.cfg.Analysis.Workers),
			java.WithLogger(a.logger),
		).ParseDir(ctx, s.java)
		if err != nil {
			return nil, err
		}
		if res.Stats.SkippedCalls > 0 {
			a.logger.Info("java calls without a typed receiver were skipped",
				slog.Int("skipped_calls", res.Stats.SkippedCalls))
		}
		return res.Program, nil

	default:
		gc := a.cfg.Golang
		res, err := golang.NewFrontend(
			golang.WithTests(gc.Tests),
			golang.WithBuildTags(gc.BuildTags...),
			golang.WithLogger(a.logger),
		).Load(ctx, s.goDir, patterns...)
		if err != nil {
			return nil, err
		}
		return res.Program, nil
	}
}

// buildGraph loads the selected program and builds its call graph.
func (a *app) buildGraph(ctx context.Context, s *sourceFlags, patterns []string) (*graph.BuildResult, error) {
	p, err := a.loadProgram(ctx, s, patterns)
	if err != nil {
		return nil, err
	}

	analysis := a.cfg.Analysis
	if s.algorithm != "" {
		analysis.Algorithm = s.algorithm
	}
	opts, err := analysis.BuilderOptions(a.logger)
	if err != nil {
		return nil, err
	}
	opts = append(opts, graph.WithProgress(func(pr graph.Progress) {
		a.logger.Debug("build progress",
			slog.Int("iteration", pr.Iteration),
			slog.Int("reachable", pr.Reachable),
			slog.Int("instantiated", pr.Instantiated),
			slog.Int("worklist", pr.Worklist),
		)
	}))

	entries := s.entries
	if len(entries) == 0 {
		entries = p.EntryPoints()
	}
	return graph.BuildCallGraph(ctx, p, entries, opts...)
}

// openStore opens the configured snapshot store. The returned func closes it.
func (a *app) openStore() (*snapshot.Manager, func(), error) {
	db, err := snapshot.Open(a.cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	mgr, err := snapshot.NewManager(db, a.logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return mgr, func() {
		if err := db.Close(); err != nil {
			a.logger.Warn("closing snapshot store", slog.String("error", err.Error()))
		}
	}, nil
}

// graphFlags extends sourceFlags with a stored snapshot as an alternative
// input for read-only commands.
type graphFlags struct {
	sourceFlags
	snapshotID string
	latest     string
}

func (g *graphFlags) register(cmd *cobra.Command) {
	g.sourceFlags.register(cmd)
	f := cmd.Flags()
	f.StringVar(&g.snapshotID, "snapshot-id", "", "Query a stored snapshot instead of building")
	f.StringVar(&g.latest, "latest", "", "Query the latest snapshot of the named project")
}

// loadGraph builds the graph named by the flags or loads it from the store.
func (a *app) loadGraph(ctx context.Context, g *graphFlags, patterns []string) (*graph.CallGraph, error) {
	if g.snapshotID == "" && g.latest == "" {
		res, err := a.buildGraph(ctx, &g.sourceFlags, patterns)
		if err != nil {
			return nil, err
		}
		return res.Graph, nil
	}
	if g.snapshotID != "" && g.latest != "" {
		return nil, errors.New("--snapshot-id and --latest are mutually exclusive")
	}

	mgr, closeStore, err := a.openStore()
	if err != nil {
		return nil, err
	}
	defer closeStore()
	if g.snapshotID != "" {
		cg, _, err := mgr.Load(ctx, g.snapshotID)
		return cg, err
	}
	cg, _, err := mgr.LoadLatest(ctx, g.latest)
	return cg, err
}
