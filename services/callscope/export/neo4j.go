// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/AleutianAI/callscope/services/callscope/config"
	"github.com/AleutianAI/callscope/services/callscope/graph"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrNeo4jDisabled is returned when no URI is configured.
	ErrNeo4jDisabled = errors.New("export: neo4j is not configured")
)

// Cypher statements. Every node carries the graph ID so several graphs can
// share one database.
const (
	cypherTypes = `UNWIND $batch AS row
MERGE (t:Type {graph: row.graph, name: row.name})
SET t.instantiated = row.instantiated`

	cypherMethods = `UNWIND $batch AS row
MERGE (m:Method {graph: row.graph, id: row.id})
SET m.owner = row.owner, m.name = row.name, m.signature = row.signature,
    m.kind = row.kind, m.entry_point = row.entry_point
WITH m, row
MATCH (t:Type {graph: row.graph, name: row.owner})
MERGE (t)-[:DECLARES]->(m)`

	cypherCalls = `UNWIND $batch AS row
MATCH (a:Method {graph: row.graph, id: row.caller}), (b:Method {graph: row.graph, id: row.callee})
MERGE (a)-[r:CALLS {site: row.site}]->(b)
SET r.kind = row.kind, r.line = row.line`

	cypherClean = `MATCH (n) WHERE (n:Method OR n:Type) AND n.graph = $graph DETACH DELETE n`
)

var neo4jIndexes = []string{
	"CREATE INDEX callscope_method_id IF NOT EXISTS FOR (n:Method) ON (n.graph, n.id)",
	"CREATE INDEX callscope_type_name IF NOT EXISTS FOR (n:Type) ON (n.graph, n.name)",
}

// runFunc executes one Cypher statement.
type runFunc func(ctx context.Context, cypher string, params map[string]any) error

// Neo4jLoader writes call graphs into Neo4j with batched UNWIND queries.
//
// Description:
//
//	A graph is stored as (:Type) nodes for method owners and instantiated
//	types, (:Method) nodes for reachable methods linked by [:DECLARES], and
//	one [:CALLS {site, kind, line}] relationship per edge. Loading is
//	idempotent: every write is a MERGE keyed by graph ID.
//
// Thread Safety: Safe for concurrent use; the driver pools sessions.
type Neo4jLoader struct {
	driver    neo4j.DriverWithContext
	database  string
	batchSize int
	logger    *slog.Logger
	run       runFunc
}

// NewNeo4jLoader connects to the configured database and verifies the
// connection.
//
// Outputs:
//
//	*Neo4jLoader - Ready loader. Close it when done.
//	error - ErrNeo4jDisabled, or a driver or connectivity error.
func NewNeo4jLoader(ctx context.Context, cfg config.Neo4jConfig, logger *slog.Logger) (*Neo4jLoader, error) {
	if !cfg.Enabled() {
		return nil, ErrNeo4jDisabled
	}
	if logger == nil {
		logger = slog.Default()
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("export: creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("export: connecting to %s: %w", cfg.URI, err)
	}

	l := &Neo4jLoader{
		driver:    driver,
		database:  cfg.Database,
		batchSize: cfg.BatchSize,
		logger:    logger.With(slog.String("component", "neo4j_loader")),
	}
	l.run = l.execute
	return l, nil
}

// Close releases the driver.
func (l *Neo4jLoader) Close(ctx context.Context) error {
	if l.driver == nil {
		return nil
	}
	return l.driver.Close(ctx)
}

func (l *Neo4jLoader) execute(ctx context.Context, cypher string, params map[string]any) error {
	var cfg []neo4j.ExecuteQueryConfigurationOption
	if l.database != "" {
		cfg = append(cfg, neo4j.ExecuteQueryWithDatabase(l.database))
	}
	_, err := neo4j.ExecuteQuery(ctx, l.driver, cypher, params, neo4j.EagerResultTransformer, cfg...)
	return err
}

// Load writes g under graphID, replacing anything stored under that ID.
func (l *Neo4jLoader) Load(ctx context.Context, g *graph.CallGraph, graphID string) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Neo4jLoader.Load",
		trace.WithAttributes(attribute.String("graph.id", graphID)),
	)
	defer span.End()
	defer func() {
		recordExportMetrics("neo4j", err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if g == nil {
		return ErrNilGraph
	}
	for _, q := range neo4jIndexes {
		if err := l.run(ctx, q, nil); err != nil {
			return fmt.Errorf("export: creating index: %w", err)
		}
	}
	if err := l.run(ctx, cypherClean, map[string]any{"graph": graphID}); err != nil {
		return fmt.Errorf("export: removing previous graph: %w", err)
	}

	steps := []struct {
		name   string
		cypher string
		rows   []map[string]any
	}{
		{"types", cypherTypes, typeRows(g, graphID)},
		{"methods", cypherMethods, methodRows(g, graphID)},
		{"calls", cypherCalls, callRows(g, graphID)},
	}
	for _, step := range steps {
		batches := chunk(step.rows, l.batchSize)
		for _, batch := range batches {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := l.run(ctx, step.cypher, map[string]any{"batch": batch}); err != nil {
				return fmt.Errorf("export: loading %s: %w", step.name, err)
			}
		}
		l.logger.Debug("neo4j rows loaded",
			slog.String("graph_id", graphID),
			slog.String("step", step.name),
			slog.Int("rows", len(step.rows)),
			slog.Int("batches", len(batches)),
		)
	}

	span.SetAttributes(
		attribute.Int("neo4j.methods", g.NodeCount()),
		attribute.Int("neo4j.calls", g.EdgeCount()),
	)
	l.logger.Info("graph loaded into neo4j",
		slog.String("graph_id", graphID),
		slog.Int("methods", g.NodeCount()),
		slog.Int("calls", g.EdgeCount()),
	)
	return nil
}

// =============================================================================
// Rows
// =============================================================================

// typeRows lists every method owner and instantiated type once, sorted.
func typeRows(g *graph.CallGraph, graphID string) []map[string]any {
	instantiated := make(map[string]bool)
	for _, t := range g.Instantiated() {
		instantiated[t] = true
	}
	names := make(map[string]bool, len(instantiated))
	for t := range instantiated {
		names[t] = true
	}
	for _, n := range g.Nodes() {
		names[n.Owner] = true
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	rows := make([]map[string]any, 0, len(sorted))
	for _, name := range sorted {
		rows = append(rows, map[string]any{
			"graph":        graphID,
			"name":         name,
			"instantiated": instantiated[name],
		})
	}
	return rows
}

func methodRows(g *graph.CallGraph, graphID string) []map[string]any {
	nodes := g.Nodes()
	rows := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		rows = append(rows, map[string]any{
			"graph":       graphID,
			"id":          n.ID,
			"owner":       n.Owner,
			"name":        n.Signature.Name,
			"signature":   n.Signature.Key(),
			"kind":        n.Kind.String(),
			"entry_point": n.EntryPoint,
		})
	}
	return rows
}

func callRows(g *graph.CallGraph, graphID string) []map[string]any {
	edges := g.Edges()
	rows := make([]map[string]any, 0, len(edges))
	for _, e := range edges {
		rows = append(rows, map[string]any{
			"graph":  graphID,
			"site":   e.SiteID,
			"caller": e.CallerID,
			"callee": e.CalleeID,
			"kind":   e.Kind.String(),
			"line":   e.Line,
		})
	}
	return rows
}

// chunk splits rows into batches of at most size. A non-positive size
// yields one batch.
func chunk(rows []map[string]any, size int) [][]map[string]any {
	if len(rows) == 0 {
		return nil
	}
	if size <= 0 || size >= len(rows) {
		return [][]map[string]any{rows}
	}
	out := make([][]map[string]any, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		out = append(out, rows[start:end])
	}
	return out
}
