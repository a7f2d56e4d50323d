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
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/AleutianAI/callscope/services/callscope/export"
	"github.com/AleutianAI/callscope/services/callscope/frontend/java"
	"github.com/AleutianAI/callscope/services/callscope/graph"
	"github.com/AleutianAI/callscope/services/callscope/hierarchy"
	"github.com/AleutianAI/callscope/services/callscope/model"
	"github.com/AleutianAI/callscope/services/callscope/modelfile"
	"github.com/AleutianAI/callscope/services/callscope/snapshot"
	"github.com/gin-gonic/gin"
)

// defaultTop is the PageRank result size when ?top= is absent.
const defaultTop = 10

// Handlers holds the HTTP handlers of the service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers over svc.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

func (h *Handlers) logger(c *gin.Context, handler string) *slog.Logger {
	return h.svc.logger.With(
		slog.String("request_id", getOrCreateRequestID(c)),
		slog.String("handler", handler),
	)
}

// =============================================================================
// Health and builds
// =============================================================================

// HandleHealth handles GET /v1/callscope/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Graphs:    len(h.svc.Graphs()),
		Snapshots: h.svc.Snapshots() != nil,
	})
}

// HandleBuild handles POST /v1/callscope/build.
//
// Description:
//
//	Builds a graph from the inline model document in the body and caches
//	it under its run ID.
//
// Response:
//
//	201 Created: BuildResponse
//	400 Bad Request: Malformed body, model document or entry points
//	422 Unprocessable Entity: Hierarchy or unresolved reference errors
//	429 Too Many Requests: Build rate exceeded
func (h *Handlers) HandleBuild(c *gin.Context) {
	logger := h.logger(c, "HandleBuild")

	var req BuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	cg, err := h.svc.BuildFromModel(c.Request.Context(), req.Project, req.Model, req.EntryPoints, req.Algorithm)
	if err != nil {
		logger.Warn("build failed", slog.String("error", err.Error()))
		writeBuildError(c, err)
		return
	}
	c.JSON(http.StatusCreated, BuildResponse{GraphSummary: summarize(cg)})
}

// HandleBuildJava handles POST /v1/callscope/build/java.
//
// Description:
//
//	Parses the Java sources in the body, builds their graph and caches it.
//	The response reports parse statistics and the calls that were skipped
//	because their receiver could not be typed.
func (h *Handlers) HandleBuildJava(c *gin.Context) {
	logger := h.logger(c, "HandleBuildJava")

	var req JavaBuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}
	files := make(map[string][]byte, len(req.Files))
	for path, src := range req.Files {
		files[path] = []byte(src)
	}

	cg, res, err := h.svc.BuildJava(c.Request.Context(), req.Project, files, req.EntryPoints, req.Algorithm)
	if err != nil {
		logger.Warn("java build failed", slog.String("error", err.Error()))
		writeBuildError(c, err)
		return
	}
	c.JSON(http.StatusCreated, BuildResponse{
		GraphSummary: summarize(cg),
		Java:         &JavaStats{Stats: res.Stats, Skipped: res.Skipped},
	})
}

// writeBuildError maps build errors onto status codes.
func writeBuildError(c *gin.Context, err error) {
	var herr *hierarchy.HierarchyError
	switch {
	case errors.As(err, &herr):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: "HIERARCHY_ERROR"})
	case errors.Is(err, graph.ErrUnresolvedReference):
		refs := graph.UnresolvedReferences(err)
		details := make([]string, 0, len(refs))
		for _, r := range refs {
			details = append(details, r.Error())
		}
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "unresolved references in program model",
			Code:    "UNRESOLVED_REFERENCE",
			Details: details,
		})
	case errors.Is(err, graph.ErrIterationLimit):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: "ITERATION_LIMIT"})
	case errors.Is(err, graph.ErrUnknownEntryPoint), errors.Is(err, graph.ErrNoEntryPoints):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_ENTRY_POINT"})
	case errors.Is(err, modelfile.ErrInvalidModelFile),
		errors.Is(err, model.ErrDuplicateClass),
		errors.Is(err, model.ErrDuplicateMethod),
		errors.Is(err, model.ErrInvalidProgram),
		errors.Is(err, model.ErrInvalidSignature):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_MODEL"})
	case errors.Is(err, java.ErrNoSources),
		errors.Is(err, java.ErrFileTooLarge),
		errors.Is(err, java.ErrTooManyFiles),
		errors.Is(err, java.ErrInvalidContent):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_SOURCES"})
	case errors.Is(err, graph.ErrInvalidAlgorithm):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_ALGORITHM"})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "BUILD_FAILED"})
	}
}

// =============================================================================
// Graphs
// =============================================================================

// resolveGraph looks up the :id graph and writes a 404 when it is absent.
func (h *Handlers) resolveGraph(c *gin.Context) (*CachedGraph, bool) {
	cg, err := h.svc.Graph(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "GRAPH_NOT_FOUND"})
		return nil, false
	}
	return cg, true
}

func requireQuery(c *gin.Context, name string) (string, bool) {
	v := c.Query(name)
	if v == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: name + " parameter is required",
			Code:  "MISSING_PARAMETER",
		})
		return "", false
	}
	return v, true
}

// HandleListGraphs handles GET /v1/callscope/graphs.
func (h *Handlers) HandleListGraphs(c *gin.Context) {
	graphs := h.svc.Graphs()
	resp := GraphListResponse{Graphs: make([]GraphSummary, 0, len(graphs))}
	for _, cg := range graphs {
		resp.Graphs = append(resp.Graphs, summarize(cg))
	}
	c.JSON(http.StatusOK, resp)
}

// HandleGetGraph handles GET /v1/callscope/graphs/:id.
func (h *Handlers) HandleGetGraph(c *gin.Context) {
	cg, ok := h.resolveGraph(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, GraphDetailResponse{
		GraphSummary: summarize(cg),
		Nodes:        cg.Graph.Nodes(),
		Edges:        cg.Graph.Edges(),
	})
}

// HandleReachable handles GET /v1/callscope/graphs/:id/reachable?method=.
func (h *Handlers) HandleReachable(c *gin.Context) {
	method, ok := requireQuery(c, "method")
	if !ok {
		return
	}
	cg, ok := h.resolveGraph(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ReachableResponse{Method: method, Reachable: cg.Graph.IsReachableID(method)})
}

// HandleCallers handles GET /v1/callscope/graphs/:id/callers?method=.
func (h *Handlers) HandleCallers(c *gin.Context) {
	method, ok := requireQuery(c, "method")
	if !ok {
		return
	}
	cg, ok := h.resolveGraph(c)
	if !ok {
		return
	}
	sites := cg.Graph.CallersOfID(method)
	if sites == nil {
		sites = []*model.CallSite{}
	}
	c.JSON(http.StatusOK, CallersResponse{
		Method:  method,
		Sites:   sites,
		Callers: nonNil(cg.Graph.CallerMethodsOf(method)),
	})
}

// HandleCallees handles GET /v1/callscope/graphs/:id/callees.
//
// Query Parameters:
//
//	site: Call site ID. Returns the site's resolved targets.
//	method: Method ID. Returns every method it calls. Used when site is absent.
func (h *Handlers) HandleCallees(c *gin.Context) {
	site, method := c.Query("site"), c.Query("method")
	if site == "" && method == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "site or method parameter is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}
	cg, ok := h.resolveGraph(c)
	if !ok {
		return
	}

	if site == "" {
		c.JSON(http.StatusOK, CalleesResponse{Method: method, Callees: nonNil(cg.Graph.CalleeMethodsOf(method))})
		return
	}
	if _, known := cg.Graph.Site(site); !known {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "call site not in graph: " + site, Code: "SITE_NOT_FOUND"})
		return
	}
	nodes := cg.Graph.CalleesOfSite(site)
	callees := make([]string, 0, len(nodes))
	for _, n := range nodes {
		callees = append(callees, n.ID)
	}
	c.JSON(http.StatusOK, CalleesResponse{Site: site, Callees: callees})
}

// HandleDead handles GET /v1/callscope/graphs/:id/dead.
func (h *Handlers) HandleDead(c *gin.Context) {
	cg, ok := h.resolveGraph(c)
	if !ok {
		return
	}
	dead := nonNil(cg.Graph.DeadMethods())
	c.JSON(http.StatusOK, DeadResponse{Methods: dead, Count: len(dead)})
}

// HandlePageRank handles GET /v1/callscope/graphs/:id/pagerank?top=.
//
// top defaults to 10. top=0 returns every reachable method.
func (h *Handlers) HandlePageRank(c *gin.Context) {
	h.handleRank(c, (*graph.CallGraph).TopRanked)
}

// HandleDevRank handles GET /v1/callscope/graphs/:id/devrank?top=.
//
// Like HandlePageRank, with method sizes weighting the random walk.
func (h *Handlers) HandleDevRank(c *gin.Context) {
	h.handleRank(c, (*graph.CallGraph).TopDevRanked)
}

func (h *Handlers) handleRank(c *gin.Context, rank func(*graph.CallGraph, int, graph.PageRankOptions) []graph.RankedMethod) {
	top := defaultTop
	if s := c.Query("top"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "top must be a non-negative integer", Code: "INVALID_PARAMETER"})
			return
		}
		top = n
	}
	cg, ok := h.resolveGraph(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, PageRankResponse{Methods: rank(cg.Graph, top, graph.DefaultPageRankOptions())})
}

// HandlePath handles GET /v1/callscope/graphs/:id/path?from=&to=.
func (h *Handlers) HandlePath(c *gin.Context) {
	from, ok := requireQuery(c, "from")
	if !ok {
		return
	}
	to, ok := requireQuery(c, "to")
	if !ok {
		return
	}
	cg, ok := h.resolveGraph(c)
	if !ok {
		return
	}
	path := cg.Graph.CallChain(from, to)
	c.JSON(http.StatusOK, PathResponse{From: from, To: to, Found: path != nil, Path: nonNil(path)})
}

// HandleDOT handles GET /v1/callscope/graphs/:id/dot.
//
// Query Parameters:
//
//	labels: "true" labels edges with their call site IDs.
func (h *Handlers) HandleDOT(c *gin.Context) {
	logger := h.logger(c, "HandleDOT")
	cg, ok := h.resolveGraph(c)
	if !ok {
		return
	}
	opts := export.DefaultDOTOptions()
	opts.SiteLabels = c.Query("labels") == "true"

	var buf bytes.Buffer
	if err := export.WriteDOT(c.Request.Context(), &buf, cg.Graph, opts); err != nil {
		logger.Error("dot export failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "EXPORT_FAILED"})
		return
	}
	c.Data(http.StatusOK, "text/vnd.graphviz; charset=utf-8", buf.Bytes())
}

// =============================================================================
// Snapshots
// =============================================================================

// requireSnapshots writes a 503 when no snapshot store is configured.
func (h *Handlers) requireSnapshots(c *gin.Context) (*snapshot.Manager, bool) {
	mgr := h.svc.Snapshots()
	if mgr == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: ErrSnapshotsDisabled.Error(),
			Code:  "SNAPSHOTS_NOT_AVAILABLE",
		})
		return nil, false
	}
	return mgr, true
}

func writeSnapshotError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrGraphNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "GRAPH_NOT_FOUND"})
	case errors.Is(err, snapshot.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "SNAPSHOT_NOT_FOUND"})
	case errors.Is(err, snapshot.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
	case errors.Is(err, snapshot.ErrIntegrity):
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "SNAPSHOT_CORRUPT"})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "SNAPSHOT_FAILED"})
	}
}

// HandleSaveSnapshot handles POST /v1/callscope/graphs/:id/snapshots.
//
// The body is optional and may carry a label.
func (h *Handlers) HandleSaveSnapshot(c *gin.Context) {
	logger := h.logger(c, "HandleSaveSnapshot")
	if _, ok := h.requireSnapshots(c); !ok {
		return
	}
	var req SaveSnapshotRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
			return
		}
	}

	meta, err := h.svc.SaveSnapshot(c.Request.Context(), c.Param("id"), req.Label)
	if err != nil {
		logger.Warn("snapshot save failed", slog.String("error", err.Error()))
		writeSnapshotError(c, err)
		return
	}
	c.JSON(http.StatusCreated, meta)
}

// HandleListSnapshots handles GET /v1/callscope/snapshots?project=&limit=.
func (h *Handlers) HandleListSnapshots(c *gin.Context) {
	mgr, ok := h.requireSnapshots(c)
	if !ok {
		return
	}
	limit := 0
	if s := c.Query("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	list, err := mgr.List(c.Request.Context(), c.Query("project"), limit)
	if err != nil {
		writeSnapshotError(c, err)
		return
	}
	if list == nil {
		list = []*snapshot.Metadata{}
	}
	c.JSON(http.StatusOK, SnapshotListResponse{Snapshots: list})
}

// HandleGetSnapshot handles GET /v1/callscope/snapshots/:id.
//
// Query Parameters:
//
//	restore: "true" also registers the stored graph so the graph routes
//	can query it. The response then carries its graph ID.
func (h *Handlers) HandleGetSnapshot(c *gin.Context) {
	mgr, ok := h.requireSnapshots(c)
	if !ok {
		return
	}
	g, meta, err := mgr.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeSnapshotError(c, err)
		return
	}
	resp := SnapshotResponse{Metadata: meta, EntryPoints: g.EntryPoints(), Instantiated: g.Instantiated()}
	if c.Query("restore") == "true" {
		resp.GraphID = h.svc.Restore(g, meta.Project).ID
	}
	c.JSON(http.StatusOK, resp)
}

// HandleDeleteSnapshot handles DELETE /v1/callscope/snapshots/:id.
func (h *Handlers) HandleDeleteSnapshot(c *gin.Context) {
	mgr, ok := h.requireSnapshots(c)
	if !ok {
		return
	}
	if err := mgr.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeSnapshotError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleDiffSnapshots handles GET /v1/callscope/snapshots/diff?base=&target=.
func (h *Handlers) HandleDiffSnapshots(c *gin.Context) {
	mgr, ok := h.requireSnapshots(c)
	if !ok {
		return
	}
	base, ok := requireQuery(c, "base")
	if !ok {
		return
	}
	target, ok := requireQuery(c, "target")
	if !ok {
		return
	}
	diff, err := mgr.Diff(c.Request.Context(), base, target)
	if err != nil {
		writeSnapshotError(c, err)
		return
	}
	c.JSON(http.StatusOK, diff)
}

// HandleSnapshotDevRank handles GET /v1/callscope/snapshots/devrank?ids=.
//
// ids is a comma-separated list of snapshot IDs, oldest first. The last
// snapshot's DevRank is split across all of them.
func (h *Handlers) HandleSnapshotDevRank(c *gin.Context) {
	mgr, ok := h.requireSnapshots(c)
	if !ok {
		return
	}
	raw, ok := requireQuery(c, "ids")
	if !ok {
		return
	}
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	attr, err := mgr.AttributeDevRank(c.Request.Context(), ids, graph.DefaultPageRankOptions())
	if err != nil {
		writeSnapshotError(c, err)
		return
	}
	c.JSON(http.StatusOK, attr)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
