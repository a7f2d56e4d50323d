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
	"fmt"

	"github.com/AleutianAI/callscope/services/callscope/model"
)

// GraphSchemaVersion is the version of the serialization schema.
// Increment when the serialization format changes in a breaking way.
const GraphSchemaVersion = "1.0"

// SerializableCallGraph is the JSON-serializable representation of a CallGraph.
//
// Description:
//
//	Contains everything needed to reconstruct the query API of a CallGraph.
//	All slices are sorted so the encoding is deterministic, which makes
//	snapshots diffable and content-hashable. Method bodies are not
//	included; restored nodes have a nil Method.
//
// Thread Safety: SerializableCallGraph is a value type with no internal state.
type SerializableCallGraph struct {
	// SchemaVersion identifies the serialization format version.
	SchemaVersion string `json:"schema_version"`

	RunID        string     `json:"run_id"`
	Algorithm    Algorithm  `json:"algorithm"`
	BuiltAtMilli int64      `json:"built_at_milli"`
	Stats        BuildStats `json:"stats"`

	// GraphHash is CallGraph.Hash at serialization time.
	GraphHash string `json:"graph_hash"`

	EntryPoints  []string          `json:"entry_points"`
	Nodes        []*Node           `json:"nodes"`
	Sites        []*model.CallSite `json:"sites"`
	Edges        []*Edge           `json:"edges"`
	Instantiated []string          `json:"instantiated"`
	Universe     []string          `json:"universe"`
}

// ToSerializable converts g to its JSON-serializable representation.
//
// Outputs:
//
//	*SerializableCallGraph - Never nil. A nil graph yields an empty value.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (g *CallGraph) ToSerializable() *SerializableCallGraph {
	if g == nil {
		return &SerializableCallGraph{
			SchemaVersion: GraphSchemaVersion,
			EntryPoints:   []string{},
			Nodes:         []*Node{},
			Sites:         []*model.CallSite{},
			Edges:         []*Edge{},
			Instantiated:  []string{},
			Universe:      []string{},
		}
	}

	nodes := make([]*Node, 0, len(g.nodeIDs))
	for _, n := range g.Nodes() {
		cp := *n
		cp.Method = nil
		nodes = append(nodes, &cp)
	}
	sites := make([]*model.CallSite, 0, len(g.siteIDs))
	for _, s := range g.Sites() {
		cp := *s
		sites = append(sites, &cp)
	}
	edges := make([]*Edge, 0, len(g.edges))
	for _, e := range g.edges {
		cp := *e
		edges = append(edges, &cp)
	}

	return &SerializableCallGraph{
		SchemaVersion: GraphSchemaVersion,
		RunID:         g.RunID,
		Algorithm:     g.Algorithm,
		BuiltAtMilli:  g.BuiltAtMilli,
		Stats:         g.Stats,
		GraphHash:     g.Hash(),
		EntryPoints:   g.EntryPoints(),
		Nodes:         nodes,
		Sites:         sites,
		Edges:         edges,
		Instantiated:  g.Instantiated(),
		Universe:      g.Universe(),
	}
}

// FromSerializable reconstructs a CallGraph.
//
// Description:
//
//	Rebuilds every query index through the same constructor used by the
//	builder, so a restored graph answers queries exactly like the original.
//	RunID and BuiltAtMilli are preserved.
//
// Inputs:
//
//	sg - The serializable graph. Must not be nil.
//
// Outputs:
//
//	*CallGraph - The reconstructed graph.
//	error - Non-nil if sg is nil, has an unsupported schema version, has an
//	edge referencing an unknown node or site, or fails its hash check.
func FromSerializable(sg *SerializableCallGraph) (*CallGraph, error) {
	if sg == nil {
		return nil, fmt.Errorf("serializable graph must not be nil")
	}
	if sg.SchemaVersion != GraphSchemaVersion {
		return nil, fmt.Errorf("unsupported schema version %q (expected %q)", sg.SchemaVersion, GraphSchemaVersion)
	}

	known := make(map[string]bool, len(sg.Nodes))
	for i, n := range sg.Nodes {
		if n == nil || n.ID == "" {
			return nil, fmt.Errorf("node at index %d has no id", i)
		}
		known[n.ID] = true
	}
	sites := make(map[string]bool, len(sg.Sites))
	for i, s := range sg.Sites {
		if s == nil || s.ID == "" {
			return nil, fmt.Errorf("site at index %d has no id", i)
		}
		sites[s.ID] = true
	}
	for i, e := range sg.Edges {
		if e == nil {
			return nil, fmt.Errorf("edge at index %d is nil", i)
		}
		if !known[e.CallerID] || !known[e.CalleeID] {
			return nil, fmt.Errorf("edge %d (%s -> %s) references unknown node", i, e.CallerID, e.CalleeID)
		}
		if !sites[e.SiteID] {
			return nil, fmt.Errorf("edge %d references unknown site %s", i, e.SiteID)
		}
	}

	g := newCallGraph(graphParts{
		runID:        sg.RunID,
		algorithm:    sg.Algorithm,
		builtAtMilli: sg.BuiltAtMilli,
		entryPoints:  sg.EntryPoints,
		nodes:        sg.Nodes,
		sites:        sg.Sites,
		edges:        sg.Edges,
		instantiated: sg.Instantiated,
		universe:     sg.Universe,
	})
	g.Stats = sg.Stats

	if sg.GraphHash != "" && sg.GraphHash != g.Hash() {
		return nil, fmt.Errorf("graph hash mismatch: stored %s, computed %s", sg.GraphHash, g.Hash())
	}
	return g, nil
}
