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
	"encoding/json"
	"strings"
	"testing"
)

func roundTrip(t *testing.T, g *CallGraph) *CallGraph {
	t.Helper()
	data, err := json.Marshal(g.ToSerializable())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var sg SerializableCallGraph
	if err := json.Unmarshal(data, &sg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	restored, err := FromSerializable(&sg)
	if err != nil {
		t.Fatalf("FromSerializable: %v", err)
	}
	return restored
}

func TestSerialization_RoundTrip(t *testing.T) {
	g := mustBuild(t, callGraphsProgram(t, fixtureOpts{defineB: true, fieldDispatch: true}))
	restored := roundTrip(t, g)

	if restored.Hash() != g.Hash() {
		t.Errorf("hash changed: %s -> %s", g.Hash(), restored.Hash())
	}
	if restored.RunID != g.RunID || restored.BuiltAtMilli != g.BuiltAtMilli || restored.Algorithm != g.Algorithm {
		t.Errorf("metadata not preserved: %+v vs %+v", restored, g)
	}
	if restored.Stats != g.Stats {
		t.Errorf("stats not preserved: %+v vs %+v", restored.Stats, g.Stats)
	}
	if !equalStrings(restored.DeadMethods(), g.DeadMethods()) {
		t.Errorf("dead methods differ: %v vs %v", restored.DeadMethods(), g.DeadMethods())
	}
	if !equalStrings(restored.EntryPoints(), g.EntryPoints()) {
		t.Errorf("entry points differ")
	}

	for _, id := range g.NodeIDs() {
		if !equalStrings(restored.CallerMethodsOf(id), g.CallerMethodsOf(id)) {
			t.Errorf("callers of %s differ", id)
		}
		n, _ := restored.Node(id)
		if n.Method != nil {
			t.Errorf("restored node %s should have no declaration", id)
		}
	}
	for _, s := range g.Sites() {
		if len(restored.CalleesOfSite(s.ID)) != len(g.CalleesOfSite(s.ID)) {
			t.Errorf("callees of %s differ", s.ID)
		}
	}
}

func TestSerialization_Deterministic(t *testing.T) {
	a, err := json.Marshal(mustBuild(t, shapesProgram(t, 20)).ToSerializable().Edges)
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(mustBuild(t, shapesProgram(t, 20), WithWorkers(3)).ToSerializable().Edges)
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Error("edge encoding should not depend on worker count")
	}
}

func TestFromSerializable_Errors(t *testing.T) {
	base := func() *SerializableCallGraph {
		return mustBuild(t, callGraphsProgram(t, fixtureOpts{defineB: true})).ToSerializable()
	}

	tests := []struct {
		name    string
		mutate  func(sg *SerializableCallGraph)
		wantErr string
	}{
		{name: "schema", mutate: func(sg *SerializableCallGraph) { sg.SchemaVersion = "0.1" }, wantErr: "schema version"},
		{name: "hash", mutate: func(sg *SerializableCallGraph) { sg.GraphHash = "deadbeef" }, wantErr: "hash mismatch"},
		{name: "unknown node", mutate: func(sg *SerializableCallGraph) { sg.Edges[0].CalleeID = "Nope:x():void" }, wantErr: "unknown node"},
		{name: "unknown site", mutate: func(sg *SerializableCallGraph) { sg.Edges[0].SiteID = "ghost" }, wantErr: "unknown site"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sg := base()
			tt.mutate(sg)
			_, err := FromSerializable(sg)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}

	if _, err := FromSerializable(nil); err == nil {
		t.Error("expected error for nil input")
	}
}

func TestToSerializable_Nil(t *testing.T) {
	var g *CallGraph
	sg := g.ToSerializable()
	if sg.SchemaVersion != GraphSchemaVersion || sg.Nodes == nil || sg.Edges == nil {
		t.Errorf("nil graph should serialize to an empty value, got %+v", sg)
	}
}
