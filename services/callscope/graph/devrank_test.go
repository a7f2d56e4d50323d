// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"errors"
	"math"
	"testing"

	"github.com/AleutianAI/callscope/services/callscope/model"
)

// fanOutGraph builds X.f calling both Y.g and Z.h, with the given sizes.
func fanOutGraph(sizeG, sizeH int) *CallGraph {
	f, gs, hs := model.Sig("f", ""), model.Sig("g", ""), model.Sig("h", "")
	return newCallGraph(graphParts{
		algorithm:   AlgorithmRTA,
		entryPoints: []string{"X:f():void"},
		nodes: []*Node{
			{ID: "X:f():void", Owner: "X", Signature: f, Kind: model.MethodStatic, EntryPoint: true, Size: 3},
			{ID: "Y:g():void", Owner: "Y", Signature: gs, Kind: model.MethodStatic, Size: sizeG},
			{ID: "Z:h():void", Owner: "Z", Signature: hs, Kind: model.MethodStatic, Size: sizeH},
		},
		sites: []*model.CallSite{
			{ID: "X:f():void#0", Caller: "X:f():void", Receiver: "Y", Target: gs, Kind: model.CallStatic},
			{ID: "X:f():void#1", Caller: "X:f():void", Receiver: "Z", Target: hs, Kind: model.CallStatic},
		},
		edges: []*Edge{
			{SiteID: "X:f():void#0", CallerID: "X:f():void", CalleeID: "Y:g():void", Kind: model.CallStatic},
			{SiteID: "X:f():void#1", CallerID: "X:f():void", CalleeID: "Z:h():void", Kind: model.CallStatic},
		},
		universe: []string{"X:f():void", "Y:g():void", "Z:h():void"},
	})
}

func sumScores(scores map[string]float64) float64 {
	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	return sum
}

func TestCallGraph_DevRank(t *testing.T) {
	t.Run("size shifts rank to the larger callee", func(t *testing.T) {
		g := fanOutGraph(10, 1)
		dev := g.DevRank(nil, DefaultPageRankOptions())
		if dev["Y:g():void"] <= dev["Z:h():void"] {
			t.Errorf("Y.g (%v) should outrank Z.h (%v)", dev["Y:g():void"], dev["Z:h():void"])
		}
		if math.Abs(sumScores(dev)-1) > 1e-9 {
			t.Errorf("scores sum to %v, want 1", sumScores(dev))
		}

		pr := g.PageRank(DefaultPageRankOptions())
		if math.Abs(pr["Y:g():void"]-pr["Z:h():void"]) > 1e-12 {
			t.Errorf("PageRank should not see sizes: %v vs %v", pr["Y:g():void"], pr["Z:h():void"])
		}
	})

	t.Run("uniform weights match PageRank", func(t *testing.T) {
		g := mustBuild(t, shapesProgram(t, 8))
		uniform := make(map[string]float64)
		for _, id := range g.NodeIDs() {
			uniform[id] = 2
		}
		pr := g.PageRank(DefaultPageRankOptions())
		for name, weights := range map[string]map[string]float64{
			"uniform": uniform,
			"zero":    {},
		} {
			dev := g.DevRank(weights, DefaultPageRankOptions())
			for id, want := range pr {
				if math.Abs(dev[id]-want) > 1e-9 {
					t.Errorf("%s: DevRank(%s) = %v, PageRank = %v", name, id, dev[id], want)
				}
			}
		}
	})

	t.Run("invalid weights count as zero", func(t *testing.T) {
		g := fanOutGraph(1, 1)
		dev := g.DevRank(map[string]float64{
			"X:f():void": 1,
			"Y:g():void": math.Inf(1),
			"Z:h():void": -4,
		}, DefaultPageRankOptions())
		if math.Abs(sumScores(dev)-1) > 1e-9 {
			t.Errorf("scores sum to %v, want 1", sumScores(dev))
		}
		for id, s := range dev {
			if math.IsNaN(s) || s < 0 {
				t.Errorf("score of %s = %v", id, s)
			}
		}
	})

	t.Run("top devranked", func(t *testing.T) {
		top := fanOutGraph(10, 1).TopDevRanked(1, DefaultPageRankOptions())
		if len(top) != 1 || top[0].ID != "Y:g():void" {
			t.Errorf("TopDevRanked(1) = %v", top)
		}
	})
}

func TestCallGraph_MethodSizes(t *testing.T) {
	g := mustBuild(t, callGraphsProgram(t, fixtureOpts{defineB: true}))
	want := map[string]float64{mainID: 3, doStuffID: 3, aFooID: 2, aBarID: 1}

	for _, graph := range []*CallGraph{g, roundTrip(t, g)} {
		sizes := graph.MethodSizes()
		if len(sizes) != len(want) {
			t.Fatalf("sizes = %v", sizes)
		}
		for id, w := range want {
			if sizes[id] != w {
				t.Errorf("size of %s = %v, want %v", id, sizes[id], w)
			}
		}
	}

	legacy := twoCycleGraph()
	for id, s := range legacy.MethodSizes() {
		if s != 1 {
			t.Errorf("node %s without a size should weigh 1, got %v", id, s)
		}
	}
}

func TestDiffGraphs_SizeChanges(t *testing.T) {
	base := mustBuild(t, callGraphsProgram(t, fixtureOpts{defineB: true}))
	target := mustBuild(t, callGraphsProgram(t, fixtureOpts{defineB: true, fieldDispatch: true}))

	diff, err := DiffGraphs(base, target, "base", "target")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]int{doStuffID: 1, bFooID: 1}
	if len(diff.SizeChanges) != len(want) {
		t.Fatalf("SizeChanges = %v, want %v", diff.SizeChanges, want)
	}
	for id, d := range want {
		if diff.SizeChanges[id] != d {
			t.Errorf("SizeChanges[%s] = %d, want %d", id, diff.SizeChanges[id], d)
		}
	}

	reverse, err := DiffGraphs(target, base, "target", "base")
	if err != nil {
		t.Fatal(err)
	}
	if reverse.SizeChanges[bFooID] != -1 || reverse.SizeChanges[doStuffID] != -1 {
		t.Errorf("reverse SizeChanges = %v", reverse.SizeChanges)
	}
}

func TestAttributeDevRank(t *testing.T) {
	base := mustBuild(t, callGraphsProgram(t, fixtureOpts{defineB: true}))
	target := mustBuild(t, callGraphsProgram(t, fixtureOpts{defineB: true, fieldDispatch: true}))
	opts := DefaultPageRankOptions()

	attr, err := AttributeDevRank([]Revision{
		{ID: "r1", Label: "initial", Graph: base},
		{ID: "r2", Label: "field dispatch", Graph: target},
	}, opts)
	if err != nil {
		t.Fatalf("AttributeDevRank: %v", err)
	}
	if attr.LatestID != "r2" || len(attr.Revisions) != 2 {
		t.Fatalf("attribution = %+v", attr)
	}

	ranks := target.DevRank(nil, opts)
	total := attr.Revisions[0].Score + attr.Revisions[1].Score
	if math.Abs(total-1) > 1e-9 {
		t.Errorf("revision scores sum to %v, want 1", total)
	}

	// r2 grew doStuff from 3 to 4 and added B.foo.
	second := attr.Revisions[1]
	if math.Abs(second.Methods[bFooID]-ranks[bFooID]) > 1e-12 {
		t.Errorf("B.foo share = %v, want its full DevRank %v", second.Methods[bFooID], ranks[bFooID])
	}
	if math.Abs(second.Methods[doStuffID]-ranks[doStuffID]/4) > 1e-12 {
		t.Errorf("doStuff share = %v, want a quarter of %v", second.Methods[doStuffID], ranks[doStuffID])
	}
	if _, ok := second.Methods[aBarID]; ok {
		t.Error("r2 did not change A.bar")
	}
	if attr.Revisions[0].Label != "initial" {
		t.Errorf("label not copied: %+v", attr.Revisions[0])
	}
	if len(attr.Methods) != target.NodeCount() {
		t.Errorf("expected a DevRank per method, got %v", attr.Methods)
	}

	t.Run("removed methods earn nothing", func(t *testing.T) {
		back, err := AttributeDevRank([]Revision{
			{ID: "r1", Graph: base}, {ID: "r2", Graph: target}, {ID: "r3", Graph: base},
		}, opts)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := back.Revisions[2].Methods[bFooID]; ok {
			t.Error("B.foo is gone from the latest graph and must not be credited")
		}
		sum := 0.0
		for _, r := range back.Revisions {
			sum += r.Score
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("revision scores sum to %v, want 1", sum)
		}
	})

	t.Run("errors", func(t *testing.T) {
		if _, err := AttributeDevRank(nil, opts); !errors.Is(err, ErrNoRevisions) {
			t.Errorf("expected ErrNoRevisions, got %v", err)
		}
		if _, err := AttributeDevRank([]Revision{{ID: "r1"}}, opts); err == nil {
			t.Error("expected an error for a revision without a graph")
		}
	})
}
