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
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the callscope endpoints under rg.
//
// Description:
//
//	Registers the following endpoints:
//	  GET    /callscope/health                - Service status
//	  POST   /callscope/build                 - Build from an inline model document
//	  POST   /callscope/build/java            - Build from Java sources
//	  GET    /callscope/graphs                - List cached graphs
//	  GET    /callscope/graphs/:id            - Nodes and edges of a graph
//	  GET    /callscope/graphs/:id/reachable  - Is ?method= reachable
//	  GET    /callscope/graphs/:id/callers    - Call sites targeting ?method=
//	  GET    /callscope/graphs/:id/callees    - Targets of ?site= or ?method=
//	  GET    /callscope/graphs/:id/dead       - Unreachable methods
//	  GET    /callscope/graphs/:id/pagerank   - Top ?top= methods by PageRank
//	  GET    /callscope/graphs/:id/devrank    - Top ?top= methods by size-weighted DevRank
//	  GET    /callscope/graphs/:id/path       - Call chain ?from= to ?to=
//	  GET    /callscope/graphs/:id/dot        - Graphviz rendering
//	  POST   /callscope/graphs/:id/snapshots  - Persist a graph
//	  GET    /callscope/snapshots             - List snapshots, ?project= filters
//	  GET    /callscope/snapshots/diff        - Diff ?base= against ?target=
//	  GET    /callscope/snapshots/devrank     - Split DevRank across ?ids=, oldest first
//	  GET    /callscope/snapshots/:id         - Snapshot metadata, ?restore=true reloads
//	  DELETE /callscope/snapshots/:id         - Delete a snapshot
//
// Inputs:
//
//	rg - Router group to register routes under (e.g., /v1).
//	handlers - The handlers instance. Must not be nil.
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	cs := rg.Group("/callscope")
	{
		cs.GET("/health", handlers.HandleHealth)

		build := cs.Group("/build", handlers.buildGuard())
		{
			build.POST("", handlers.HandleBuild)
			build.POST("/java", handlers.HandleBuildJava)
		}

		cs.GET("/graphs", handlers.HandleListGraphs)
		graphs := cs.Group("/graphs/:id")
		{
			graphs.GET("", handlers.HandleGetGraph)
			graphs.GET("/reachable", handlers.HandleReachable)
			graphs.GET("/callers", handlers.HandleCallers)
			graphs.GET("/callees", handlers.HandleCallees)
			graphs.GET("/dead", handlers.HandleDead)
			graphs.GET("/pagerank", handlers.HandlePageRank)
			graphs.GET("/devrank", handlers.HandleDevRank)
			graphs.GET("/path", handlers.HandlePath)
			graphs.GET("/dot", handlers.HandleDOT)
			graphs.POST("/snapshots", handlers.HandleSaveSnapshot)
		}

		snapshots := cs.Group("/snapshots")
		{
			snapshots.GET("", handlers.HandleListSnapshots)
			// Literal segments are registered before :id so they win.
			snapshots.GET("/diff", handlers.HandleDiffSnapshots)
			snapshots.GET("/devrank", handlers.HandleSnapshotDevRank)
			snapshots.GET("/:id", handlers.HandleGetSnapshot)
			snapshots.DELETE("/:id", handlers.HandleDeleteSnapshot)
		}
	}
}

// buildGuard rate-limits builds and caps their body size.
func (h *Handlers) buildGuard() gin.HandlerFunc {
	maxBody := h.svc.cfg.Server.MaxBodyBytes
	return func(c *gin.Context) {
		if !h.svc.AllowBuild() {
			buildsRejected.Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "build rate limit exceeded",
				Code:  "RATE_LIMITED",
			})
			return
		}
		if maxBody > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)
		}
		c.Next()
	}
}
