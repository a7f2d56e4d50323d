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
	"math"
	"sort"
)

// PageRankOptions configures PageRank.
type PageRankOptions struct {
	// Alpha is the damping factor.
	Alpha float64

	// Epsilon is the L1 convergence threshold.
	Epsilon float64

	// MaxIterations bounds the power iteration.
	MaxIterations int
}

// DefaultPageRankOptions returns alpha 0.85, epsilon 1e-5, 300 iterations.
func DefaultPageRankOptions() PageRankOptions {
	return PageRankOptions{
		Alpha:         0.85,
		Epsilon:       1e-5,
		MaxIterations: 300,
	}
}

// RankedMethod is a method with its PageRank or DevRank score.
type RankedMethod struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// DeadMethods returns the methods of the program that are not reachable,
// sorted by ID.
func (g *CallGraph) DeadMethods() []string {
	var out []string
	for _, id := range g.universe {
		if _, ok := g.nodes[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// PageRank ranks reachable methods by how central they are as callees.
//
// Description:
//
//	Power iteration over the caller-to-callee graph with each distinct
//	(caller, callee) pair weighted 1/outdegree. Rank that leaks out of
//	methods with no callees is redistributed uniformly, so scores always
//	sum to 1. Iteration stops when the L1 change drops below Epsilon.
//
// Inputs:
//
//	opts - Zero fields are replaced by DefaultPageRankOptions values.
//
// Outputs:
//
//	map[string]float64 - Method ID to score. Empty for an empty graph.
func (g *CallGraph) PageRank(opts PageRankOptions) map[string]float64 {
	return g.rank(nil, opts)
}

// DevRank ranks reachable methods by PageRank weighted with method size.
//
// Description:
//
//	A random walk that, at each step, follows an edge out of the current
//	method with probability proportional to the callee's weight, or with
//	probability 1-Alpha jumps to any method proportional to its weight.
//	Large methods that many paths lead to therefore rank highest. Methods
//	without callees spread their rank uniformly, as in PageRank. When
//	every callee of a method weighs zero its edges are followed uniformly.
//	Scores sum to 1.
//
// Inputs:
//
//	weights - Method ID to non-negative weight. Nil uses MethodSizes.
//	Missing, negative and non-finite weights count as zero. If every
//	weight is zero the result equals PageRank.
//	opts - Zero fields are replaced by DefaultPageRankOptions values.
//
// Outputs:
//
//	map[string]float64 - Method ID to score. Empty for an empty graph.
func (g *CallGraph) DevRank(weights map[string]float64, opts PageRankOptions) map[string]float64 {
	if weights == nil {
		weights = g.MethodSizes()
	}
	return g.rank(weights, opts)
}

// MethodSizes returns Node.Size per reachable method. Nodes restored from
// snapshots that predate sizes weigh 1.
func (g *CallGraph) MethodSizes() map[string]float64 {
	out := make(map[string]float64, len(g.nodeIDs))
	for _, id := range g.nodeIDs {
		out[id] = float64(nodeSize(g.nodes[id]))
	}
	return out
}

func nodeSize(n *Node) int {
	if n == nil {
		return 0
	}
	if n.Size <= 0 {
		return 1
	}
	return n.Size
}

func (o PageRankOptions) withDefaults() PageRankOptions {
	def := DefaultPageRankOptions()
	if o.Alpha <= 0 || o.Alpha >= 1 {
		o.Alpha = def.Alpha
	}
	if o.Epsilon <= 0 {
		o.Epsilon = def.Epsilon
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = def.MaxIterations
	}
	return o
}

// rank runs the power iteration shared by PageRank and DevRank. Nil
// weights give every method weight 1.
func (g *CallGraph) rank(weights map[string]float64, opts PageRankOptions) map[string]float64 {
	opts = opts.withDefaults()

	n := len(g.nodeIDs)
	scores := make(map[string]float64, n)
	if n == 0 {
		return scores
	}

	index := make(map[string]int, n)
	for i, id := range g.nodeIDs {
		index[id] = i
	}
	out := make([][]int, n)
	for i, id := range g.nodeIDs {
		for _, callee := range g.calleesOfMethod[id] {
			if j, ok := index[callee]; ok {
				out[i] = append(out[i], j)
			}
		}
	}

	w := make([]float64, n)
	total := 0.0
	for i, id := range g.nodeIDs {
		x := 1.0
		if weights != nil {
			x = weights[id]
			if x < 0 || math.IsNaN(x) || math.IsInf(x, 0) {
				x = 0
			}
		}
		w[i] = x
		total += x
	}
	if total == 0 {
		for i := range w {
			w[i] = 1
		}
		total = float64(n)
	}
	outWeight := make([]float64, n)
	for u, targets := range out {
		for _, t := range targets {
			outWeight[u] += w[t]
		}
	}

	uniform := 1 / float64(n)
	v := make([]float64, n)
	for i := range v {
		v[i] = uniform
	}

	for iter := 0; iter < opts.MaxIterations; iter++ {
		next := make([]float64, n)
		dangling := 0.0
		for u, targets := range out {
			switch {
			case len(targets) == 0:
				dangling += v[u]
			case outWeight[u] == 0:
				share := v[u] / float64(len(targets))
				for _, t := range targets {
					next[t] += share
				}
			default:
				for _, t := range targets {
					next[t] += v[u] * w[t] / outWeight[u]
				}
			}
		}
		delta := 0.0
		for i := range next {
			next[i] = opts.Alpha*(next[i]+dangling*uniform) + (1-opts.Alpha)*w[i]/total
			delta += math.Abs(next[i] - v[i])
		}
		v = next
		if delta < opts.Epsilon {
			break
		}
	}

	for i, id := range g.nodeIDs {
		scores[id] = v[i]
	}
	return scores
}

// TopRanked returns the n highest PageRank methods, ties broken by ID.
// n <= 0 returns every method.
func (g *CallGraph) TopRanked(n int, opts PageRankOptions) []RankedMethod {
	return topScores(g.PageRank(opts), n)
}

// TopDevRanked is TopRanked over DevRank with method sizes as weights.
func (g *CallGraph) TopDevRanked(n int, opts PageRankOptions) []RankedMethod {
	return topScores(g.DevRank(nil, opts), n)
}

func topScores(scores map[string]float64, n int) []RankedMethod {
	ranked := make([]RankedMethod, 0, len(scores))
	for id, s := range scores {
		ranked = append(ranked, RankedMethod{ID: id, Score: s})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ID < ranked[j].ID
	})
	if n > 0 && n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}

// CallChain returns a shortest chain of method IDs from one reachable method
// to another, inclusive, or nil if none exists.
func (g *CallGraph) CallChain(from, to string) []string {
	if !g.IsReachableID(from) || !g.IsReachableID(to) {
		return nil
	}
	if from == to {
		return []string{from}
	}

	parent := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.calleesOfMethod[cur] {
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = cur
			if next == to {
				var path []string
				for n := to; n != ""; n = parent[n] {
					path = append(path, n)
				}
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path
			}
			queue = append(queue, next)
		}
	}
	return nil
}
