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
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"

	"github.com/AleutianAI/callscope/services/callscope/graph"
	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/require"
)

// fixtureModel is the CallGraphs program with B defined. The exact call in
// doStuff leaves B.foo unreachable.
const fixtureModel = `
entry_points: ["CallGraphs:main(String[]):void"]
classes:
  - name: CallGraphs
    methods:
      - name: main
        params: ["String[]"]
        kind: static
        body:
          - new: B
          - call: doStuff
      - name: doStuff
        kind: static
        body:
          - new: A
          - call: foo
            receiver: A
            exact: true
  - name: A
    methods:
      - name: foo
        body:
          - call: bar
      - name: bar
  - name: B
    super: A
    methods:
      - name: foo
`

const (
	fixtureMain = "CallGraphs:main(String[]):void"
	fixtureBar  = "A:bar():void"
	fixtureBFoo = "B:foo():void"
)

type testEnv struct {
	dir    string
	config string
	model  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:    dir,
		config: filepath.Join(dir, "callscope.yaml"),
		model:  filepath.Join(dir, "app.yaml"),
	}
	cfg := "storage:\n  path: " + filepath.Join(dir, "badger") + "\nlogging:\n  level: error\n"
	require.NoError(t, os.WriteFile(env.config, []byte(cfg), 0o644))
	require.NoError(t, os.WriteFile(env.model, []byte(fixtureModel), 0o644))
	return env
}

// run executes the CLI with the env's config and returns stdout.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd(&out, &errOut)
	root.SetArgs(append([]string{"--config", e.config}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	require.NoError(t, err, out)
	return out
}

var snapshotIDPattern = regexp.MustCompile(`saved snapshot ([0-9a-f]{16})`)

func snapshotID(t *testing.T, out string) string {
	t.Helper()
	m := snapshotIDPattern.FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	return m[1]
}

func TestBuild_Outputs(t *testing.T) {
	env := newTestEnv(t)
	dot := filepath.Join(env.dir, "app.dot")
	js := filepath.Join(env.dir, "app.json")
	metrics := filepath.Join(env.dir, "metrics.prom")

	out := env.mustRun(t, "build", "--model", env.model,
		"--dot", dot, "--json", js, "--metrics-file", metrics, "--snapshot", "--label", "first")

	require.Contains(t, out, "reachable:")
	require.Contains(t, out, "wrote "+dot)
	snapshotID(t, out)

	dotData, err := os.ReadFile(dot)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(dotData), "digraph "))
	require.Contains(t, string(dotData), `"CallGraphs:doStuff():void" -> "A:foo():void";`)

	jsData, err := os.ReadFile(js)
	require.NoError(t, err)
	var sg graph.SerializableCallGraph
	require.NoError(t, json.Unmarshal(jsData, &sg))
	g, err := graph.FromSerializable(&sg)
	require.NoError(t, err)
	require.True(t, g.IsReachableID(fixtureBar))
	require.False(t, g.IsReachableID(fixtureBFoo))

	promData, err := os.ReadFile(metrics)
	require.NoError(t, err)
	require.Contains(t, string(promData), "callscope_")
}

func TestBuild_Algorithm(t *testing.T) {
	env := newTestEnv(t)
	js := filepath.Join(env.dir, "cha.json")
	env.mustRun(t, "build", "--model", env.model, "--algorithm", "cha", "--json", js)

	data, err := os.ReadFile(js)
	require.NoError(t, err)
	var sg graph.SerializableCallGraph
	require.NoError(t, json.Unmarshal(data, &sg))
	require.Equal(t, graph.AlgorithmCHA, sg.Algorithm)
}

func TestBuild_Errors(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no source", []string{"build"}, errNoSource.Error()},
		{"two sources", []string{"build", "--model", env.model, "--java", env.dir}, errNoSource.Error()},
		{"bad algorithm", []string{"build", "--model", env.model, "--algorithm", "pta"}, "invalid algorithm"},
		{"missing file", []string{"build", "--model", filepath.Join(env.dir, "nope.yaml")}, "nope.yaml"},
		{"bad log level", []string{"--log-level", "loud", "query", "dead", "--model", env.model}, "invalid configuration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.run(t, tt.args...)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestQuery(t *testing.T) {
	env := newTestEnv(t)
	src := []string{"--model", env.model}

	tests := []struct {
		name    string
		args    []string
		want    []string
		notWant []string
	}{
		{"reachable", []string{"reachable", fixtureBar}, []string{"reachable " + fixtureBar}, []string{"unreachable"}},
		{"unreachable", []string{"reachable", fixtureBFoo}, []string{"unreachable " + fixtureBFoo}, nil},
		{"dead", []string{"dead"}, []string{fixtureBFoo}, []string{fixtureBar}},
		{"callers", []string{"callers", fixtureBar}, []string{"A:foo():void"}, nil},
		{"callers sites", []string{"callers", "--sites", fixtureBar}, []string{"A:foo():void#0"}, nil},
		{"callees", []string{"callees", fixtureMain}, []string{"CallGraphs:doStuff():void"}, nil},
		{"callees site", []string{"callees", "--site", "CallGraphs:doStuff():void#1"}, []string{"A:foo():void"}, []string{fixtureBFoo}},
		{"pagerank", []string{"pagerank", "--top", "2"}, []string{"0."}, nil},
		{"devrank", []string{"devrank", "--top", "0"}, []string{"0.", fixtureMain, fixtureBar}, []string{fixtureBFoo}},
		{"path", []string{"path", fixtureMain, fixtureBar}, []string{"   " + fixtureMain, "-> A:foo():void", "-> " + fixtureBar}, nil},
		{"no path", []string{"path", fixtureBar, fixtureMain}, []string{"no path"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append(append([]string{"query"}, tt.args...), src...)
			out := env.mustRun(t, args...)
			for _, w := range tt.want {
				require.Contains(t, out, w)
			}
			for _, w := range tt.notWant {
				require.NotContains(t, out, w)
			}
		})
	}
}

func TestQuery_PageRankTop(t *testing.T) {
	env := newTestEnv(t)
	out := env.mustRun(t, "query", "pagerank", "--top", "2", "--model", env.model)
	require.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 2)
}

func TestSnapshotsAndDiff(t *testing.T) {
	env := newTestEnv(t)
	base := snapshotID(t, env.mustRun(t, "build", "--model", env.model, "--project", "app", "--snapshot"))

	// Dropping the exact flag dispatches foo to B as well.
	wider := strings.Replace(fixtureModel, "            exact: true\n", "", 1)
	widerPath := filepath.Join(env.dir, "wider.yaml")
	require.NoError(t, os.WriteFile(widerPath, []byte(wider), 0o644))
	target := snapshotID(t, env.mustRun(t, "build", "--model", widerPath, "--project", "app", "--snapshot"))

	list := env.mustRun(t, "snapshots", "list", "--project", "app")
	require.Contains(t, list, base)
	require.Contains(t, list, target)
	require.Less(t, strings.Index(list, target), strings.Index(list, base), "newest first")

	diff := env.mustRun(t, "diff", base, target)
	require.Contains(t, diff, "+ "+fixtureBFoo)

	raw := env.mustRun(t, "diff", "--json", base, target)
	var d graph.GraphDiff
	require.NoError(t, json.Unmarshal([]byte(raw), &d))
	require.Equal(t, []string{fixtureBFoo}, d.NodesAdded)

	require.Contains(t, diff, "+1 "+fixtureBFoo)

	raw = env.mustRun(t, "snapshots", "devrank", "--json", "--project", "app")
	var attr graph.Attribution
	require.NoError(t, json.Unmarshal([]byte(raw), &attr))
	require.Equal(t, target, attr.LatestID)
	require.Len(t, attr.Revisions, 2)
	require.Equal(t, base, attr.Revisions[0].ID, "oldest first")
	require.Equal(t, []string{fixtureBFoo}, keys(attr.Revisions[1].Methods))

	out := env.mustRun(t, "snapshots", "devrank", "--top", "1", base, target)
	require.Contains(t, out, "devrank of "+target)
	require.Contains(t, out, "snapshots:")

	_, err := env.run(t, "snapshots", "devrank")
	require.ErrorContains(t, err, "--project")

	out = env.mustRun(t, "query", "reachable", fixtureBFoo, "--latest", "app")
	require.Contains(t, out, "reachable "+fixtureBFoo)
	require.NotContains(t, out, "unreachable")

	out = env.mustRun(t, "query", "dead", "--snapshot-id", base)
	require.Contains(t, out, fixtureBFoo)

	env.mustRun(t, "snapshots", "delete", base)
	list = env.mustRun(t, "snapshots", "list")
	require.NotContains(t, list, base)

	_, err = env.run(t, "snapshots", "delete", base)
	require.ErrorContains(t, err, "not found")
}

func keys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestRelevant(t *testing.T) {
	tests := []struct {
		name string
		ev   fsnotify.Event
		only string
		want bool
	}{
		{"write", fsnotify.Event{Name: "src/A.java", Op: fsnotify.Write}, "", true},
		{"chmod", fsnotify.Event{Name: "src/A.java", Op: fsnotify.Chmod}, "", false},
		{"hidden", fsnotify.Event{Name: "src/.A.java.swp", Op: fsnotify.Write}, "", false},
		{"watched file", fsnotify.Event{Name: "./app.yaml", Op: fsnotify.Write}, "app.yaml", true},
		{"sibling", fsnotify.Event{Name: "./other.yaml", Op: fsnotify.Write}, "app.yaml", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, relevant(tt.ev, tt.only))
		})
	}
}
