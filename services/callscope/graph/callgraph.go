// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph builds and queries whole-program call graphs.
//
// Construction is a worklist fixpoint over a hierarchy.Hierarchy using Rapid
// Type Analysis: virtual calls resolve to the overrides of their receiver's
// declared type whose owning types have been instantiated by a reachable
// allocation. The resulting CallGraph is immutable.
package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/AleutianAI/callscope/services/callscope/model"
	"github.com/google/uuid"
)

// Node is a reachable method.
type Node struct {
	ID         string                `json:"id"`
	Owner      string                `json:"owner"`
	Signature  model.MethodSignature `json:"signature"`
	Kind       model.MethodKind      `json:"kind"`
	EntryPoint bool                  `json:"entry_point,omitempty"`

	// Size is model.MethodDecl.Size at build time.
	Size int `json:"size,omitempty"`

	// Method is the declaration the node was built from. Nil for graphs
	// restored from their serialized form.
	Method *model.MethodDecl `json:"-"`
}

// Edge connects a call site to one of its resolved targets. A virtual site
// with several live overriders produces one edge per target.
type Edge struct {
	SiteID   string         `json:"site_id"`
	CallerID string         `json:"caller_id"`
	CalleeID string         `json:"callee_id"`
	Kind     model.CallKind `json:"kind"`
	Line     int            `json:"line,omitempty"`
}

// CallGraph is the closed result of a build.
//
// Description:
//
//	Holds the reachable nodes, the edge set, the entry points, every call
//	site of a reachable method, the instantiated types, and the ID of
//	every method in the program (the universe, used for dead code).
//
// Thread Safety:
//
//	Immutable after construction; safe for concurrent use.
type CallGraph struct {
	// RunID uniquely identifies the build that produced this graph.
	RunID string

	// Algorithm is the resolution algorithm used.
	Algorithm Algorithm

	// BuiltAtMilli is the Unix time in milliseconds when the graph was frozen.
	BuiltAtMilli int64

	// Stats are the statistics of the producing build.
	Stats BuildStats

	entryPoints  []string
	nodes        map[string]*Node
	nodeIDs      []string
	sites        map[string]*model.CallSite
	siteIDs      []string
	edges        []*Edge
	instantiated []string
	universe     []string

	calleesBySite   map[string][]string
	callersOfMethod map[string][]string
	calleesOfMethod map[string][]string
}

type graphParts struct {
	runID        string
	algorithm    Algorithm
	builtAtMilli int64
	entryPoints  []string
	nodes        []*Node
	sites        []*model.CallSite
	edges        []*Edge
	instantiated []string
	universe     []string
}

// newCallGraph sorts the parts and builds the query indexes.
func newCallGraph(p graphParts) *CallGraph {
	if p.runID == "" {
		p.runID = uuid.NewString()
	}
	if p.builtAtMilli == 0 {
		p.builtAtMilli = time.Now().UnixMilli()
	}

	g := &CallGraph{
		RunID:           p.runID,
		Algorithm:       p.algorithm,
		BuiltAtMilli:    p.builtAtMilli,
		entryPoints:     append([]string(nil), p.entryPoints...),
		nodes:           make(map[string]*Node, len(p.nodes)),
		sites:           make(map[string]*model.CallSite, len(p.sites)),
		edges:           append([]*Edge(nil), p.edges...),
		instantiated:    append([]string(nil), p.instantiated...),
		universe:        append([]string(nil), p.universe...),
		calleesBySite:   make(map[string][]string),
		callersOfMethod: make(map[string][]string),
		calleesOfMethod: make(map[string][]string),
	}
	for _, n := range p.nodes {
		g.nodes[n.ID] = n
		g.nodeIDs = append(g.nodeIDs, n.ID)
	}
	for _, s := range p.sites {
		g.sites[s.ID] = s
		g.siteIDs = append(g.siteIDs, s.ID)
	}
	sort.Strings(g.nodeIDs)
	sort.Strings(g.siteIDs)
	sort.Strings(g.instantiated)
	sort.Strings(g.universe)
	sort.Slice(g.edges, func(i, j int) bool {
		if g.edges[i].SiteID != g.edges[j].SiteID {
			return g.edges[i].SiteID < g.edges[j].SiteID
		}
		return g.edges[i].CalleeID < g.edges[j].CalleeID
	})

	callerSeen := make(map[string]map[string]bool)
	calleeSeen := make(map[string]map[string]bool)
	for _, e := range g.edges {
		g.calleesBySite[e.SiteID] = append(g.calleesBySite[e.SiteID], e.CalleeID)

		if callerSeen[e.CalleeID] == nil {
			callerSeen[e.CalleeID] = make(map[string]bool)
		}
		if !callerSeen[e.CalleeID][e.SiteID] {
			callerSeen[e.CalleeID][e.SiteID] = true
			g.callersOfMethod[e.CalleeID] = append(g.callersOfMethod[e.CalleeID], e.SiteID)
		}

		if calleeSeen[e.CallerID] == nil {
			calleeSeen[e.CallerID] = make(map[string]bool)
		}
		if !calleeSeen[e.CallerID][e.CalleeID] {
			calleeSeen[e.CallerID][e.CalleeID] = true
			g.calleesOfMethod[e.CallerID] = append(g.calleesOfMethod[e.CallerID], e.CalleeID)
		}
	}
	for _, ids := range g.callersOfMethod {
		sort.Strings(ids)
	}
	for _, ids := range g.calleesOfMethod {
		sort.Strings(ids)
	}
	return g
}

// =============================================================================
// Query API
// =============================================================================

// IsReachable reports whether m was proven reachable from an entry point.
func (g *CallGraph) IsReachable(m *model.MethodDecl) bool {
	if m == nil {
		return false
	}
	return g.IsReachableID(m.ID())
}

// IsReachableID reports whether the method with the given ID is reachable.
func (g *CallGraph) IsReachableID(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// CalleesOf returns the resolved targets of site, sorted by ID. Unknown
// sites and sites on external types return nil.
func (g *CallGraph) CalleesOf(site *model.CallSite) []*Node {
	if site == nil {
		return nil
	}
	return g.CalleesOfSite(site.ID)
}

// CalleesOfSite returns the resolved targets of the site with the given ID.
func (g *CallGraph) CalleesOfSite(siteID string) []*Node {
	ids := g.calleesBySite[siteID]
	if len(ids) == 0 {
		return nil
	}
	out := make([]*Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.nodes[id])
	}
	return out
}

// CallersOf returns the call sites with an edge to m, sorted by site ID.
func (g *CallGraph) CallersOf(m *model.MethodDecl) []*model.CallSite {
	if m == nil {
		return nil
	}
	return g.CallersOfID(m.ID())
}

// CallersOfID returns the call sites with an edge to the method with the
// given ID.
func (g *CallGraph) CallersOfID(methodID string) []*model.CallSite {
	ids := g.callersOfMethod[methodID]
	if len(ids) == 0 {
		return nil
	}
	out := make([]*model.CallSite, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.sites[id])
	}
	return out
}

// CalleeMethodsOf returns the distinct methods called by the method with the
// given ID, sorted.
func (g *CallGraph) CalleeMethodsOf(methodID string) []string {
	return append([]string(nil), g.calleesOfMethod[methodID]...)
}

// CallerMethodsOf returns the distinct methods calling the method with the
// given ID, sorted.
func (g *CallGraph) CallerMethodsOf(methodID string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, siteID := range g.callersOfMethod[methodID] {
		caller := g.sites[siteID].Caller
		if !seen[caller] {
			seen[caller] = true
			out = append(out, caller)
		}
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// Accessors
// =============================================================================

// Node returns the node with the given ID.
func (g *CallGraph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns every node sorted by ID.
func (g *CallGraph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodeIDs))
	for _, id := range g.nodeIDs {
		out = append(out, g.nodes[id])
	}
	return out
}

// NodeIDs returns the reachable method IDs, sorted.
func (g *CallGraph) NodeIDs() []string {
	return append([]string(nil), g.nodeIDs...)
}

// Edges returns every edge sorted by site ID, then callee ID.
func (g *CallGraph) Edges() []*Edge {
	return append([]*Edge(nil), g.edges...)
}

// Site returns the call site with the given ID.
func (g *CallGraph) Site(id string) (*model.CallSite, bool) {
	s, ok := g.sites[id]
	return s, ok
}

// Sites returns every call site of a reachable method, sorted by ID.
func (g *CallGraph) Sites() []*model.CallSite {
	out := make([]*model.CallSite, 0, len(g.siteIDs))
	for _, id := range g.siteIDs {
		out = append(out, g.sites[id])
	}
	return out
}

// EntryPoints returns the entry-point IDs in the order they were given.
func (g *CallGraph) EntryPoints() []string {
	return append([]string(nil), g.entryPoints...)
}

// Instantiated returns the instantiated types at closure, sorted.
func (g *CallGraph) Instantiated() []string {
	return append([]string(nil), g.instantiated...)
}

// IsInstantiated reports whether typeName was instantiated.
func (g *CallGraph) IsInstantiated(typeName string) bool {
	i := sort.SearchStrings(g.instantiated, typeName)
	return i < len(g.instantiated) && g.instantiated[i] == typeName
}

// Universe returns the ID of every method in the analysed program, sorted.
func (g *CallGraph) Universe() []string {
	return append([]string(nil), g.universe...)
}

// NodeCount returns the number of reachable methods.
func (g *CallGraph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *CallGraph) EdgeCount() int {
	return len(g.edges)
}

// Hash returns a deterministic SHA-256 over nodes, edges, and instantiated
// types. Two builds of the same program and entry points hash equally.
func (g *CallGraph) Hash() string {
	h := sha256.New()
	for _, id := range g.nodeIDs {
		h.Write([]byte("n:" + id + "\n"))
	}
	for _, e := range g.edges {
		h.Write([]byte("e:" + e.SiteID + "->" + e.CalleeID + "\n"))
	}
	for _, t := range g.instantiated {
		h.Write([]byte("t:" + t + "\n"))
	}
	return hex.EncodeToString(h.Sum(nil))
}
