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
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/AleutianAI/callscope/services/callscope/config"
	"github.com/AleutianAI/callscope/services/callscope/graph"
	"github.com/AleutianAI/callscope/services/callscope/model"
	"github.com/stretchr/testify/require"
)

const (
	appMain   = "App:main(String[]):void"
	appHelper = "App:helper():void"
	bFoo      = "B:foo():void"
)

// buildGraph returns a graph where main calls helper from two sites and
// dispatches foo to the only instantiated subtype.
func buildGraph(t *testing.T) *graph.CallGraph {
	t.Helper()
	foo := model.Sig("foo", model.VoidType)
	helper := model.Sig("helper", model.VoidType)

	p := model.NewProgram()
	p.MustAddClass(model.Class("App", "",
		model.StaticMethod(model.Sig("main", model.VoidType, "String[]"),
			model.Alloc("B"),
			model.VirtualCall("A", foo),
			model.StaticCall("App", helper),
			model.StaticCall("App", helper),
		),
		model.StaticMethod(helper),
	))
	p.MustAddClass(model.Class("A", "", model.VirtualMethod(foo)))
	p.MustAddClass(model.Class("B", "A", model.VirtualMethod(foo)))
	p.AddEntryPoint(appMain)

	res, err := graph.BuildCallGraph(context.Background(), p, p.EntryPoints())
	require.NoError(t, err)
	return res.Graph
}

func writeDOT(t *testing.T, g *graph.CallGraph, opts DOTOptions) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteDOT(context.Background(), &buf, g, opts))
	return buf.String()
}

// =============================================================================
// DOT
// =============================================================================

func TestWriteDOT(t *testing.T) {
	g := buildGraph(t)
	out := writeDOT(t, g, DefaultDOTOptions())

	require.True(t, strings.HasPrefix(out, "digraph \"graphname\" {\n"))
	require.True(t, strings.HasSuffix(out, "}\n"))
	require.Equal(t, 1, strings.Count(out, `"App:main(String[]):void" -> "App:helper():void";`),
		"sites between the same methods collapse")
	require.Contains(t, out, `"App:main(String[]):void" -> "B:foo():void";`)
	require.NotContains(t, out, `"A:foo():void"`)

	require.Contains(t, out, `fillcolor="#f7fbffff"`, "the lowest score is lightest")
	require.Contains(t, out, `fillcolor="#08306bff"`, "the highest score is darkest")
	require.Equal(t, 3, strings.Count(out, "[style=filled"))
}

func TestWriteDOT_Deterministic(t *testing.T) {
	g := buildGraph(t)
	opts := DefaultDOTOptions()
	opts.SiteLabels = true
	require.Equal(t, writeDOT(t, g, opts), writeDOT(t, g, opts))
}

func TestWriteDOT_Labels(t *testing.T) {
	g := buildGraph(t)
	opts := DefaultDOTOptions()
	opts.SiteLabels = true
	opts.Header = []string{"rankdir=LR;"}
	out := writeDOT(t, g, opts)

	require.Contains(t, out, "{\nrankdir=LR;\n")
	require.Contains(t, out,
		`"App:main(String[]):void" -> "App:helper():void" [ label="App:main(String[]):void#2&#10;App:main(String[]):void#3"];`)
}

func TestWriteDOT_Errors(t *testing.T) {
	err := WriteDOT(context.Background(), io.Discard, nil, DefaultDOTOptions())
	require.ErrorIs(t, err, ErrNilGraph)
}

func TestBlues(t *testing.T) {
	tests := []struct {
		t    float64
		want string
	}{
		{0, "#f7fbffff"},
		{0.5, "#6baed6ff"},
		{1, "#08306bff"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, blues(tt.t))
	}
	require.Equal(t, 0.0, normalize(3, 3, 3))
	require.Equal(t, 0.5, normalize(2, 1, 3))
}

func TestQuoteID(t *testing.T) {
	require.Equal(t, `"a\"b\\c"`, quoteID(`a"b\c`))
}

// =============================================================================
// Neo4j
// =============================================================================

type recordedQuery struct {
	cypher string
	params map[string]any
}

type recorder struct {
	queries []recordedQuery
	failOn  string
}

func (r *recorder) run(_ context.Context, cypher string, params map[string]any) error {
	if r.failOn != "" && strings.Contains(cypher, r.failOn) {
		return errors.New("boom")
	}
	r.queries = append(r.queries, recordedQuery{cypher: cypher, params: params})
	return nil
}

func testLoader(rec *recorder, batchSize int) *Neo4jLoader {
	return &Neo4jLoader{
		batchSize: batchSize,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		run:       rec.run,
	}
}

func TestNeo4jLoader_Load(t *testing.T) {
	g := buildGraph(t)
	rec := &recorder{}
	require.NoError(t, testLoader(rec, 2).Load(context.Background(), g, "run-1"))

	// Two indexes, the cleanup, one type batch, two method batches and two
	// call batches.
	require.Len(t, rec.queries, 8)
	require.Contains(t, rec.queries[0].cypher, "CREATE INDEX")
	require.Equal(t, map[string]any{"graph": "run-1"}, rec.queries[2].params)

	types := rec.queries[3].params["batch"].([]map[string]any)
	require.Equal(t, []map[string]any{
		{"graph": "run-1", "name": "App", "instantiated": false},
		{"graph": "run-1", "name": "B", "instantiated": true},
	}, types)

	var calls []map[string]any
	for _, q := range rec.queries[6:] {
		require.Contains(t, q.cypher, "MERGE (a)-[r:CALLS {site: row.site}]->(b)")
		calls = append(calls, q.params["batch"].([]map[string]any)...)
	}
	require.Len(t, calls, 3)
	for _, c := range calls {
		require.Equal(t, appMain, c["caller"])
	}
}

func TestNeo4jLoader_Errors(t *testing.T) {
	g := buildGraph(t)

	err := testLoader(&recorder{failOn: "CALLS"}, 10).Load(context.Background(), g, "run-1")
	require.ErrorContains(t, err, "loading calls")

	err = testLoader(&recorder{}, 10).Load(context.Background(), nil, "run-1")
	require.ErrorIs(t, err, ErrNilGraph)

	_, err = NewNeo4jLoader(context.Background(), config.Neo4jConfig{}, nil)
	require.ErrorIs(t, err, ErrNeo4jDisabled)
}

func TestRows(t *testing.T) {
	g := buildGraph(t)

	methods := methodRows(g, "g")
	require.Len(t, methods, 3)
	require.Equal(t, appHelper, methods[0]["id"])
	require.Equal(t, "static", methods[0]["kind"])
	require.Equal(t, true, methods[1]["entry_point"])
	require.Equal(t, bFoo, methods[2]["id"])

	calls := callRows(g, "g")
	require.Len(t, calls, 3)
	require.Equal(t, "virtual", calls[0]["kind"], "edges are ordered by site")
	require.Equal(t, bFoo, calls[0]["callee"])
}

func TestChunk(t *testing.T) {
	rows := make([]map[string]any, 5)
	tests := []struct {
		size int
		want []int
	}{
		{size: 2, want: []int{2, 2, 1}},
		{size: 5, want: []int{5}},
		{size: 0, want: []int{5}},
	}
	for _, tt := range tests {
		var got []int
		for _, b := range chunk(rows, tt.size) {
			got = append(got, len(b))
		}
		require.Equal(t, tt.want, got, "size %d", tt.size)
	}
	require.Nil(t, chunk(nil, 2))
}
