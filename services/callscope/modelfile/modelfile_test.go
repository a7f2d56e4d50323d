// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package modelfile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/callscope/services/callscope/graph"
	"github.com/AleutianAI/callscope/services/callscope/model"
	"github.com/stretchr/testify/require"
)

func TestLoad_Fixture(t *testing.T) {
	p, err := Load(filepath.Join("testdata", "callgraphs.yaml"))
	require.NoError(t, err)
	require.Equal(t, []string{"CallGraphs:main(String[]):void"}, p.EntryPoints())
	require.Equal(t, []string{"A", "CallGraphs"}, p.ClassNames())

	cg, ok := p.Class("CallGraphs")
	require.True(t, ok)
	main := cg.Method("main(String[]):void")
	require.NotNil(t, main)
	require.Equal(t, model.MethodStatic, main.Kind)
	require.Len(t, main.Body, 2)

	alloc, ok := main.Body[0].(*model.AllocationSite)
	require.True(t, ok)
	require.Equal(t, "B", alloc.Type)
	require.Equal(t, 3, alloc.Line)

	call, ok := main.Body[1].(*model.CallSite)
	require.True(t, ok)
	require.Equal(t, model.CallStatic, call.Kind, "unqualified call to a static method is static")
	require.Equal(t, "", call.Receiver)

	_, err = graph.BuildCallGraph(context.Background(), p, p.EntryPoints())
	require.ErrorIs(t, err, graph.ErrUnresolvedReference)
	refs := graph.UnresolvedReferences(err)
	require.Len(t, refs, 1)
	require.Equal(t, "B", refs[0].Type)
}

func TestLoad_FixtureWithB(t *testing.T) {
	p, err := Load(filepath.Join("testdata", "callgraphs_defined.yaml"))
	require.NoError(t, err)

	res, err := graph.BuildCallGraph(context.Background(), p, p.EntryPoints())
	require.NoError(t, err)
	require.Equal(t, []string{
		"A:bar():void",
		"A:foo():void",
		"CallGraphs:doStuff():void",
		"CallGraphs:main(String[]):void",
	}, res.Graph.NodeIDs())
	require.False(t, res.Graph.IsReachableID("B:foo():void"))

	a, _ := p.Class("A")
	bar := a.Method("foo():void").Body[0].(*model.CallSite)
	require.Equal(t, model.CallVirtual, bar.Kind, "unqualified call to an instance method is virtual")
}

func TestParse_Constructors(t *testing.T) {
	p, err := Parse([]byte(`
entry_points: ["Main:main():void"]
classes:
  - name: Main
    methods:
      - name: main
        kind: static
        body:
          - new: P
            args: [int]
          - new: Q
  - name: P
    methods:
      - kind: constructor
        params: [int]
        body:
          - call: bar
      - name: bar
  - name: Q
`))
	require.NoError(t, err)

	c, _ := p.Class("Main")
	body := c.Method("main():void").Body
	require.Len(t, body, 3, "P gets allocation plus constructor call, Q only an allocation")

	ctor, ok := body[1].(*model.CallSite)
	require.True(t, ok)
	require.Equal(t, model.CallConstructor, ctor.Kind)
	require.Equal(t, "<init>(int):void", ctor.Target.Key())

	res, err := graph.BuildCallGraph(context.Background(), p, p.EntryPoints())
	require.NoError(t, err)
	require.True(t, res.Graph.IsReachableID("P:<init>(int):void"))
	require.True(t, res.Graph.IsReachableID("P:bar():void"))
	require.True(t, res.Graph.IsInstantiated("Q"))
}

func TestParse_SignatureLookup(t *testing.T) {
	p, err := Parse([]byte(`
classes:
  - name: Base
    methods:
      - name: area
        returns: double
        params: [int]
  - name: Sub
    super: Base
    methods:
      - name: run
        body:
          - call: area
          - call: area
            params: [long]
          - call: helper
            kind: static
            receiver: Util
  - name: Util
    methods:
      - name: helper
        kind: static
`))
	require.NoError(t, err)

	c, _ := p.Class("Sub")
	body := c.Method("run():void").CallSites()
	require.Len(t, body, 3)
	require.Equal(t, "area(int):double", body[0].Target.Key(), "inherited signature found by name")
	require.Equal(t, "area(long):void", body[1].Target.Key(), "explicit params are used as given")
	require.Equal(t, model.CallStatic, body[2].Kind)
	require.Equal(t, "Util", body[2].Receiver)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		pos  string
	}{
		{name: "yaml", doc: "classes: [", pos: ""},
		{name: "class name", doc: "classes: [{methods: []}]", pos: "classes[0]"},
		{name: "method kind", doc: "classes: [{name: A, methods: [{name: f, kind: weird}]}]", pos: "classes[0].methods[0]"},
		{name: "empty statement", doc: "classes: [{name: A, methods: [{name: f, body: [{line: 1}]}]}]", pos: "classes[0].methods[0].body[0]"},
		{name: "both", doc: "classes: [{name: A, methods: [{name: f, body: [{new: A, call: f}]}]}]", pos: "body[0]"},
		{name: "call kind", doc: "classes: [{name: A, methods: [{name: f, body: [{call: f, kind: dynamic}]}]}]", pos: "body[0]"},
		{name: "constructor call", doc: "classes: [{name: A, methods: [{name: f, body: [{call: f, kind: constructor}]}]}]", pos: "body[0]"},
		{name: "abstract body", doc: "classes: [{name: A, methods: [{name: f, abstract: true, body: [{new: A}]}]}]", pos: "methods[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.ErrorIs(t, err, ErrInvalidModelFile)
			require.Contains(t, err.Error(), tt.pos)
		})
	}
}

func TestParse_ValidatesProgram(t *testing.T) {
	doc := "classes: [{name: I, interface: true, methods: [{name: make, kind: constructor}]}]"
	_, err := Parse([]byte(doc))
	require.ErrorIs(t, err, model.ErrInvalidProgram)
	require.Contains(t, err.Error(), "interface I declares constructor")
}

func TestParse_DuplicateClass(t *testing.T) {
	_, err := Parse([]byte("classes: [{name: A}, {name: A}]"))
	require.True(t, errors.Is(err, model.ErrDuplicateClass), "got %v", err)
}

func TestParse_JSON(t *testing.T) {
	p, err := Parse([]byte(`{"entry_points": ["A:m():void"], "classes": [{"name": "A", "methods": [{"name": "m", "kind": "static"}]}]}`))
	require.NoError(t, err)
	require.Equal(t, 1, p.MethodCount())
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
