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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/AleutianAI/callscope/services/callscope/export"
	"github.com/AleutianAI/callscope/services/callscope/graph"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// buildFlags are the outputs of the build command.
type buildFlags struct {
	sourceFlags
	dot         string
	dotLabels   bool
	jsonOut     string
	neo4j       bool
	snapshot    bool
	label       string
	metricsFile string
	watch       bool
}

func newBuildCmd(a *app) *cobra.Command {
	bf := &buildFlags{}
	cmd := &cobra.Command{
		Use:   "build [--model FILE | --java DIR | --go DIR [patterns...]]",
		Short: "Build a call graph and export it",
		Long: `Build constructs the call graph of a model file, a Java source tree or a
Go module, prints a summary, and writes each requested export. With --watch
it rebuilds whenever the input changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.runBuild(cmd.Context(), bf, args); err != nil {
				return err
			}
			if bf.watch {
				return a.watch(cmd.Context(), bf, args)
			}
			return nil
		},
	}
	bf.sourceFlags.register(cmd)
	f := cmd.Flags()
	f.StringVar(&bf.dot, "dot", "", "Write Graphviz DOT to this file")
	f.BoolVar(&bf.dotLabels, "dot-labels", false, "Label DOT edges with their call sites")
	f.StringVar(&bf.jsonOut, "json", "", "Write the serialized graph to this file")
	f.BoolVar(&bf.neo4j, "neo4j", false, "Load the graph into the configured Neo4j database")
	f.BoolVar(&bf.snapshot, "snapshot", false, "Save the graph to the snapshot store")
	f.StringVar(&bf.label, "label", "", "Snapshot label")
	f.StringVar(&bf.metricsFile, "metrics-file", "", "Write Prometheus metrics in textfile format")
	f.BoolVar(&bf.watch, "watch", false, "Rebuild when the input changes")
	return cmd
}

// runBuild builds once and writes every requested output.
func (a *app) runBuild(ctx context.Context, bf *buildFlags, patterns []string) error {
	res, err := a.buildGraph(ctx, &bf.sourceFlags, patterns)
	if err != nil {
		return err
	}
	g := res.Graph
	a.printSummary(g)

	project, err := bf.projectName()
	if err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)
	if bf.dot != "" {
		eg.Go(func() error { return a.writeDOTFile(egCtx, g, bf.dot, bf.dotLabels) })
	}
	if bf.jsonOut != "" {
		eg.Go(func() error { return writeJSONFile(g, bf.jsonOut) })
	}
	if bf.neo4j {
		eg.Go(func() error { return a.loadNeo4j(egCtx, g) })
	}
	if bf.snapshot {
		eg.Go(func() error { return a.saveSnapshot(egCtx, g, project, bf.label) })
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	if bf.metricsFile != "" {
		if err := prometheus.WriteToTextfile(bf.metricsFile, prometheus.DefaultGatherer); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}
	return nil
}

func (a *app) printSummary(g *graph.CallGraph) {
	a.printTitle("Call graph %s", g.RunID)
	a.printFields(
		"algorithm", g.Algorithm,
		"reachable", g.NodeCount(),
		"edges", g.EdgeCount(),
		"instantiated", len(g.Instantiated()),
		"iterations", g.Stats.Iterations,
		"duration_ms", g.Stats.DurationMilli,
		"hash", g.Hash(),
	)
}

func (a *app) writeDOTFile(ctx context.Context, g *graph.CallGraph, path string, labels bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	opts := export.DefaultDOTOptions()
	opts.SiteLabels = labels
	if err := export.WriteDOT(ctx, w, g, opts); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintln(a.out, a.style.ok.Render("wrote "+path))
	return nil
}

func writeJSONFile(g *graph.CallGraph, path string) error {
	data, err := json.MarshalIndent(g.ToSerializable(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (a *app) loadNeo4j(ctx context.Context, g *graph.CallGraph) error {
	loader, err := export.NewNeo4jLoader(ctx, a.cfg.Neo4j, a.logger)
	if err != nil {
		return err
	}
	defer loader.Close(ctx)
	if err := loader.Load(ctx, g, g.RunID); err != nil {
		return err
	}
	fmt.Fprintln(a.out, a.style.ok.Render("loaded graph "+g.RunID+" into neo4j"))
	return nil
}

func (a *app) saveSnapshot(ctx context.Context, g *graph.CallGraph, project, label string) error {
	mgr, closeStore, err := a.openStore()
	if err != nil {
		return err
	}
	defer closeStore()
	meta, err := mgr.Save(ctx, g, project, label)
	if err != nil {
		return err
	}
	a.logger.Info("snapshot saved",
		slog.String("snapshot_id", meta.SnapshotID),
		slog.String("project", meta.Project),
	)
	fmt.Fprintln(a.out, a.style.ok.Render("saved snapshot "+meta.SnapshotID))
	return nil
}
