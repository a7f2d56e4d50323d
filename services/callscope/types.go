// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package callscope

import (
	"github.com/AleutianAI/callscope/services/callscope/frontend/java"
	"github.com/AleutianAI/callscope/services/callscope/graph"
	"github.com/AleutianAI/callscope/services/callscope/model"
	"github.com/AleutianAI/callscope/services/callscope/modelfile"
	"github.com/AleutianAI/callscope/services/callscope/snapshot"
)

// =============================================================================
// Requests
// =============================================================================

// BuildRequest is the body of POST /v1/callscope/build.
type BuildRequest struct {
	// Project labels the graph and groups its snapshots.
	Project string `json:"project"`

	// Algorithm overrides the configured algorithm ("rta" or "cha").
	Algorithm string `json:"algorithm" binding:"omitempty,oneof=rta cha RTA CHA"`

	// EntryPoints overrides the document's entry points.
	EntryPoints []string `json:"entry_points"`

	// Model is the inline model document.
	Model *modelfile.Document `json:"model" binding:"required"`
}

// JavaBuildRequest is the body of POST /v1/callscope/build/java.
type JavaBuildRequest struct {
	Project     string   `json:"project"`
	Algorithm   string   `json:"algorithm" binding:"omitempty,oneof=rta cha RTA CHA"`
	EntryPoints []string `json:"entry_points"`

	// Files maps relative paths to source text.
	Files map[string]string `json:"files" binding:"required,min=1"`
}

// SaveSnapshotRequest is the optional body of POST /graphs/:id/snapshots.
type SaveSnapshotRequest struct {
	Label string `json:"label"`
}

// =============================================================================
// Responses
// =============================================================================

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code"`
	Details []string `json:"details,omitempty"`
}

// GraphSummary describes a cached graph.
type GraphSummary struct {
	GraphID      string           `json:"graph_id"`
	Project      string           `json:"project,omitempty"`
	Source       string           `json:"source"`
	Algorithm    graph.Algorithm  `json:"algorithm"`
	Hash         string           `json:"hash"`
	NodeCount    int              `json:"node_count"`
	EdgeCount    int              `json:"edge_count"`
	EntryPoints  []string         `json:"entry_points"`
	Instantiated []string         `json:"instantiated"`
	BuiltAtMilli int64            `json:"built_at_milli"`
	Stats        graph.BuildStats `json:"stats"`
}

// BuildResponse is returned by the build endpoints.
type BuildResponse struct {
	GraphSummary
	Java *JavaStats `json:"java,omitempty"`
}

// JavaStats reports Java parsing statistics.
type JavaStats struct {
	java.Stats
	Skipped []java.SkippedCall `json:"skipped,omitempty"`
}

// GraphListResponse is returned by GET /graphs.
type GraphListResponse struct {
	Graphs []GraphSummary `json:"graphs"`
}

// GraphDetailResponse is returned by GET /graphs/:id.
type GraphDetailResponse struct {
	GraphSummary
	Nodes []*graph.Node `json:"nodes"`
	Edges []*graph.Edge `json:"edges"`
}

// ReachableResponse is returned by GET /graphs/:id/reachable.
type ReachableResponse struct {
	Method    string `json:"method"`
	Reachable bool   `json:"reachable"`
}

// CallersResponse is returned by GET /graphs/:id/callers.
type CallersResponse struct {
	Method  string            `json:"method"`
	Sites   []*model.CallSite `json:"sites"`
	Callers []string          `json:"callers"`
}

// CalleesResponse is returned by GET /graphs/:id/callees.
type CalleesResponse struct {
	Site    string   `json:"site,omitempty"`
	Method  string   `json:"method,omitempty"`
	Callees []string `json:"callees"`
}

// DeadResponse is returned by GET /graphs/:id/dead.
type DeadResponse struct {
	Methods []string `json:"methods"`
	Count   int      `json:"count"`
}

// PageRankResponse is returned by GET /graphs/:id/pagerank and
// GET /graphs/:id/devrank.
type PageRankResponse struct {
	Methods []graph.RankedMethod `json:"methods"`
}

// PathResponse is returned by GET /graphs/:id/path.
type PathResponse struct {
	From  string   `json:"from"`
	To    string   `json:"to"`
	Found bool     `json:"found"`
	Path  []string `json:"path"`
}

// SnapshotListResponse is returned by GET /snapshots.
type SnapshotListResponse struct {
	Snapshots []*snapshot.Metadata `json:"snapshots"`
}

// SnapshotResponse is returned by GET /snapshots/:id.
type SnapshotResponse struct {
	Metadata     *snapshot.Metadata `json:"metadata"`
	EntryPoints  []string           `json:"entry_points"`
	Instantiated []string           `json:"instantiated"`

	// GraphID is set when the snapshot was restored into the registry.
	GraphID string `json:"graph_id,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Graphs    int    `json:"graphs"`
	Snapshots bool   `json:"snapshots"`
}

func summarize(cg *CachedGraph) GraphSummary {
	g := cg.Graph
	return GraphSummary{
		GraphID:      cg.ID,
		Project:      cg.Project,
		Source:       cg.Source,
		Algorithm:    g.Algorithm,
		Hash:         g.Hash(),
		NodeCount:    g.NodeCount(),
		EdgeCount:    g.EdgeCount(),
		EntryPoints:  g.EntryPoints(),
		Instantiated: g.Instantiated(),
		BuiltAtMilli: cg.BuiltAtMilli,
		Stats:        g.Stats,
	}
}
