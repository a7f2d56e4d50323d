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
	"sort"
)

// GraphDiff contains the differences between two call graphs.
type GraphDiff struct {
	// BaseID labels the base graph, typically a snapshot ID.
	BaseID string `json:"base_id"`

	// TargetID labels the target graph.
	TargetID string `json:"target_id"`

	// NodesAdded are methods reachable in target but not in base.
	NodesAdded []string `json:"nodes_added"`

	// NodesRemoved are methods reachable in base but not in target.
	NodesRemoved []string `json:"nodes_removed"`

	// EdgesAdded are "site->callee" keys present only in target.
	EdgesAdded []string `json:"edges_added"`

	// EdgesRemoved are "site->callee" keys present only in base.
	EdgesRemoved []string `json:"edges_removed"`

	// TypesInstantiated are types instantiated only in target.
	TypesInstantiated []string `json:"types_instantiated"`

	// TypesDropped are types instantiated only in base.
	TypesDropped []string `json:"types_dropped"`

	// SizeChanges maps each method whose size differs to target size minus
	// base size. Added methods count their full size, removed ones its
	// negation.
	SizeChanges map[string]int `json:"size_changes"`

	// Summary contains aggregate statistics about the diff.
	Summary DiffSummary `json:"summary"`
}

// DiffSummary contains aggregate statistics about a diff.
type DiffSummary struct {
	// TotalChanges counts every added or removed node, edge and type. Size
	// changes of methods present in both graphs are not counted.
	TotalChanges int `json:"total_changes"`

	// ChangeRatio is the fraction of nodes that changed (0.0 to 1.0) relative
	// to the larger of the two graphs.
	ChangeRatio float64 `json:"change_ratio"`
}

// DiffGraphs computes the differences between two call graphs.
//
// Description:
//
//	Nodes are compared by method ID, edges by site and callee, types by
//	name. All output slices are sorted.
//
// Inputs:
//
//	base - The base graph. Must not be nil.
//	target - The target graph. Must not be nil.
//	baseID, targetID - Labels copied into the result.
//
// Outputs:
//
//	*GraphDiff - The computed differences.
//	error - Non-nil if either graph is nil.
//
// Thread Safety:
//
//	Safe for concurrent use.
func DiffGraphs(base, target *CallGraph, baseID, targetID string) (*GraphDiff, error) {
	if base == nil {
		return nil, fmt.Errorf("base graph must not be nil")
	}
	if target == nil {
		return nil, fmt.Errorf("target graph must not be nil")
	}

	diff := &GraphDiff{BaseID: baseID, TargetID: targetID}
	diff.NodesAdded, diff.NodesRemoved = setDiff(base.nodeIDs, target.nodeIDs)
	diff.EdgesAdded, diff.EdgesRemoved = setDiff(edgeKeys(base.edges), edgeKeys(target.edges))
	diff.TypesInstantiated, diff.TypesDropped = setDiff(base.instantiated, target.instantiated)
	diff.SizeChanges = sizeChanges(base, target)

	totalNodes := len(base.nodeIDs)
	if len(target.nodeIDs) > totalNodes {
		totalNodes = len(target.nodeIDs)
	}
	ratio := 0.0
	if totalNodes > 0 {
		ratio = float64(len(diff.NodesAdded)+len(diff.NodesRemoved)) / float64(totalNodes)
		if ratio > 1 {
			ratio = 1
		}
	}

	diff.Summary = DiffSummary{
		TotalChanges: len(diff.NodesAdded) + len(diff.NodesRemoved) +
			len(diff.EdgesAdded) + len(diff.EdgesRemoved) +
			len(diff.TypesInstantiated) + len(diff.TypesDropped),
		ChangeRatio: ratio,
	}
	return diff, nil
}

// Empty reports whether the two graphs were identical.
func (d *GraphDiff) Empty() bool {
	return d.Summary.TotalChanges == 0 && len(d.SizeChanges) == 0
}

func sizeChanges(base, target *CallGraph) map[string]int {
	out := make(map[string]int)
	for _, id := range target.nodeIDs {
		if d := nodeSize(target.nodes[id]) - nodeSize(base.nodes[id]); d != 0 {
			out[id] = d
		}
	}
	for _, id := range base.nodeIDs {
		if _, ok := target.nodes[id]; !ok {
			out[id] = -nodeSize(base.nodes[id])
		}
	}
	return out
}

func edgeKeys(edges []*Edge) []string {
	keys := make([]string, 0, len(edges))
	for _, e := range edges {
		keys = append(keys, e.SiteID+"->"+e.CalleeID)
	}
	return keys
}

// setDiff returns the elements only in b (added) and only in a (removed),
// both sorted and never nil.
func setDiff(a, b []string) (added, removed []string) {
	inA := make(map[string]bool, len(a))
	for _, s := range a {
		inA[s] = true
	}
	inB := make(map[string]bool, len(b))
	for _, s := range b {
		inB[s] = true
	}
	added, removed = []string{}, []string{}
	for s := range inB {
		if !inA[s] {
			added = append(added, s)
		}
	}
	for s := range inA {
		if !inB[s] {
			removed = append(removed, s)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
