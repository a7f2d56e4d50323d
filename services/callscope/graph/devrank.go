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

// Revision is one labelled version of a program's call graph, such as a
// snapshot taken at a commit.
type Revision struct {
	ID    string
	Label string
	Graph *CallGraph
}

// RevisionRank is the share of the latest graph's DevRank earned by one
// revision.
type RevisionRank struct {
	ID    string  `json:"id"`
	Label string  `json:"label,omitempty"`
	Score float64 `json:"score"`

	// Methods maps each method the revision changed to the part of its
	// DevRank credited to the revision.
	Methods map[string]float64 `json:"methods"`
}

// Attribution splits the DevRank of the latest revision across the
// revisions that built it.
type Attribution struct {
	LatestID string `json:"latest_id"`

	// Methods are the DevRank scores of the latest graph, highest first.
	Methods []RankedMethod `json:"methods"`

	// Revisions are in input order.
	Revisions []RevisionRank `json:"revisions"`
}

// AttributeDevRank credits each revision with the DevRank of the methods it
// changed.
//
// Description:
//
//	Consecutive revisions are compared with DiffGraphs; the first is
//	compared with an empty graph, so it is credited with every method it
//	contains. A revision's effort on a method is the absolute size change
//	it made to it. Each method of the latest graph splits its DevRank
//	across revisions in proportion to their effort on it, and a revision's
//	score is the sum of its shares. Every method of the latest graph has
//	been added by some revision, so revision scores sum to 1.
//
// Inputs:
//
//	revisions - Ordered oldest first. Must not be empty; every Graph must
//	be non-nil.
//	opts - PageRank options for the DevRank of the latest graph.
//
// Outputs:
//
//	*Attribution - Scores per method and per revision.
//	error - ErrNoRevisions, or an error naming a revision without a graph.
func AttributeDevRank(revisions []Revision, opts PageRankOptions) (*Attribution, error) {
	if len(revisions) == 0 {
		return nil, ErrNoRevisions
	}
	for i, r := range revisions {
		if r.Graph == nil {
			return nil, fmt.Errorf("graph: revision %d (%s) has no graph", i, r.ID)
		}
	}

	latest := revisions[len(revisions)-1].Graph
	ranks := latest.DevRank(nil, opts)

	effort := make([]map[string]int, len(revisions))
	total := make(map[string]int)
	prev := newCallGraph(graphParts{})
	prevID := ""
	for i, r := range revisions {
		d, err := DiffGraphs(prev, r.Graph, prevID, r.ID)
		if err != nil {
			return nil, err
		}
		effort[i] = make(map[string]int, len(d.SizeChanges))
		for id, delta := range d.SizeChanges {
			if delta < 0 {
				delta = -delta
			}
			effort[i][id] = delta
			total[id] += delta
		}
		prev, prevID = r.Graph, r.ID
	}

	out := &Attribution{
		LatestID:  revisions[len(revisions)-1].ID,
		Methods:   topScores(ranks, 0),
		Revisions: make([]RevisionRank, 0, len(revisions)),
	}
	for i, r := range revisions {
		rr := RevisionRank{ID: r.ID, Label: r.Label, Methods: make(map[string]float64)}
		ids := make([]string, 0, len(effort[i]))
		for id := range effort[i] {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			rank, ok := ranks[id]
			if !ok || total[id] == 0 {
				continue
			}
			share := float64(effort[i][id]) / float64(total[id]) * rank
			rr.Methods[id] = share
			rr.Score += share
		}
		out.Revisions = append(out.Revisions, rr)
	}
	return out, nil
}
