// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package export writes finished call graphs to external formats: Graphviz
// DOT and a Neo4j database.
package export

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/AleutianAI/callscope/services/callscope/graph"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "callscope.export"

var (
	// ErrNilGraph is returned when no graph is given.
	ErrNilGraph = errors.New("export: graph must not be nil")
)

// maxLabelSites bounds the call sites listed on one DOT edge.
const maxLabelSites = 10

// DOTOptions configures WriteDOT.
type DOTOptions struct {
	// Name is the graph name. Empty uses "graphname".
	Name string

	// PageRank configures the scores behind the node colours.
	PageRank graph.PageRankOptions

	// SiteLabels labels each edge with the call sites it stands for.
	SiteLabels bool

	// Header lines are written verbatim after the opening brace.
	Header []string
}

// DefaultDOTOptions returns unlabeled output with default PageRank.
func DefaultDOTOptions() DOTOptions {
	return DOTOptions{Name: "graphname", PageRank: graph.DefaultPageRankOptions()}
}

// WriteDOT writes g as a Graphviz digraph.
//
// Description:
//
//	Each reachable method becomes a filled node whose colour follows its
//	PageRank on the Blues scale, normalized between the lowest and highest
//	score, with the score as tooltip. Call sites between the same pair of
//	methods collapse into one edge. Output order follows the graph's sorted
//	node and edge order, so equal graphs produce equal bytes.
//
// Inputs:
//
//	ctx - Tracing context.
//	w - Destination.
//	g - The graph to write.
//	opts - Output options.
//
// Outputs:
//
//	error - ErrNilGraph or a write error.
func WriteDOT(ctx context.Context, w io.Writer, g *graph.CallGraph, opts DOTOptions) (err error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "Export.WriteDOT",
		trace.WithAttributes(attribute.Bool("dot.site_labels", opts.SiteLabels)),
	)
	defer span.End()
	defer func() {
		recordExportMetrics("dot", err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if g == nil {
		return ErrNilGraph
	}
	if opts.Name == "" {
		opts.Name = "graphname"
	}
	if opts.PageRank.MaxIterations == 0 {
		opts.PageRank = graph.DefaultPageRankOptions()
	}

	scores := g.PageRank(opts.PageRank)
	lo, hi := scoreRange(scores)

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "digraph %s {\n", quoteID(opts.Name))
	for _, line := range opts.Header {
		bw.WriteString(line)
		if !strings.HasSuffix(line, "\n") {
			bw.WriteByte('\n')
		}
	}
	for _, id := range g.NodeIDs() {
		pr := scores[id]
		fmt.Fprintf(bw, "%s [style=filled fillcolor=\"%s\" tooltip=\"%s\"];\n",
			quoteID(id), blues(normalize(pr, lo, hi)), strconv.FormatFloat(pr, 'g', -1, 64))
	}

	edges := collapseEdges(g.Edges())
	for _, e := range edges {
		if opts.SiteLabels {
			fmt.Fprintf(bw, "%s -> %s [ label=%s];\n", quoteID(e.caller), quoteID(e.callee), quoteID(e.label()))
			continue
		}
		fmt.Fprintf(bw, "%s -> %s;\n", quoteID(e.caller), quoteID(e.callee))
	}
	bw.WriteString("}\n")

	span.SetAttributes(
		attribute.Int("dot.nodes", g.NodeCount()),
		attribute.Int("dot.edges", len(edges)),
	)
	return bw.Flush()
}

// dotEdge is a caller-callee pair with the sites that produce it.
type dotEdge struct {
	caller, callee string
	sites          []string
}

func (e dotEdge) label() string {
	sites := e.sites
	if len(sites) > maxLabelSites {
		sites = sites[:maxLabelSites]
	}
	return strings.Join(sites, "&#10;")
}

// collapseEdges merges edges by caller and callee, keeping first-seen order.
func collapseEdges(edges []*graph.Edge) []dotEdge {
	index := make(map[[2]string]int)
	var out []dotEdge
	for _, e := range edges {
		key := [2]string{e.CallerID, e.CalleeID}
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, dotEdge{caller: e.CallerID, callee: e.CalleeID})
		}
		out[i].sites = append(out[i].sites, e.SiteID)
	}
	return out
}

// =============================================================================
// Colour
// =============================================================================

// bluesScale holds the anchor colours of the sequential Blues palette, light
// to dark.
var bluesScale = [][3]float64{
	{0xf7, 0xfb, 0xff},
	{0xde, 0xeb, 0xf7},
	{0xc6, 0xdb, 0xef},
	{0x9e, 0xca, 0xe1},
	{0x6b, 0xae, 0xd6},
	{0x42, 0x92, 0xc6},
	{0x21, 0x71, 0xb5},
	{0x08, 0x51, 0x9c},
	{0x08, 0x30, 0x6b},
}

func scoreRange(scores map[string]float64) (lo, hi float64) {
	first := true
	for _, s := range scores {
		if first {
			lo, hi, first = s, s, false
			continue
		}
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	return lo, hi
}

// normalize maps x into [0, 1]. A degenerate range maps to 0.
func normalize(x, lo, hi float64) float64 {
	if hi <= lo {
		return 0
	}
	return math.Max(0, math.Min(1, (x-lo)/(hi-lo)))
}

// blues returns "#rrggbbaa" for t in [0, 1] by linear interpolation between
// the palette anchors.
func blues(t float64) string {
	pos := t * float64(len(bluesScale)-1)
	i := int(math.Floor(pos))
	if i >= len(bluesScale)-1 {
		i = len(bluesScale) - 2
	}
	frac := pos - float64(i)
	a, b := bluesScale[i], bluesScale[i+1]
	var rgb [3]int
	for k := range rgb {
		rgb[k] = int(math.Round(a[k] + (b[k]-a[k])*frac))
	}
	return fmt.Sprintf("#%02x%02x%02xff", rgb[0], rgb[1], rgb[2])
}

// quoteID renders s as a quoted DOT identifier.
func quoteID(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
