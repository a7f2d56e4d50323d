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
	"context"
	"errors"
	"time"

	"github.com/AleutianAI/callscope/services/callscope/hierarchy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the OTel tracer name for call graph construction.
const tracerName = "callscope.graph"

// Package-level Prometheus metrics for call graph construction.
var (
	// buildDuration measures end-to-end construction time.
	//
	// Labels:
	//   - algorithm: "rta" or "cha"
	//   - status: "success" or "error"
	buildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "callscope",
			Subsystem: "graph",
			Name:      "build_duration_seconds",
			Help:      "Duration of call graph construction in seconds.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"algorithm", "status"},
	)

	// buildsTotal counts construction attempts.
	buildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callscope",
			Subsystem: "graph",
			Name:      "builds_total",
			Help:      "Total number of call graph builds.",
		},
		[]string{"algorithm", "status"},
	)

	// buildErrorsTotal counts failed builds by error type.
	//
	// Labels:
	//   - error_type: "hierarchy", "unresolved", "entry_point", "iteration_limit",
	//     "canceled", "unknown"
	buildErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callscope",
			Subsystem: "graph",
			Name:      "build_errors_total",
			Help:      "Total call graph build failures by type.",
		},
		[]string{"error_type"},
	)

	// fixpointIterations records how many worklist iterations a build took.
	fixpointIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "callscope",
			Subsystem: "graph",
			Name:      "fixpoint_iterations",
			Help:      "Worklist iterations until the fixpoint was reached.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		},
	)

	// reResolutionsTotal counts incremental (site, type) re-resolutions.
	reResolutionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "callscope",
			Subsystem: "graph",
			Name:      "reresolutions_total",
			Help:      "Total call site re-resolutions triggered by new instantiations.",
		},
	)

	// reachableMethods is the reachable-method count of the most recent build.
	reachableMethods = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "callscope",
			Subsystem: "graph",
			Name:      "reachable_methods",
			Help:      "Reachable methods in the most recent successful build.",
		},
		[]string{"algorithm"},
	)
)

// classifyBuildError maps a build error to a label-safe type.
func classifyBuildError(err error) string {
	if err == nil {
		return ""
	}
	var herr *hierarchy.HierarchyError
	switch {
	case errors.As(err, &herr):
		return "hierarchy"
	case errors.Is(err, ErrUnresolvedReference):
		return "unresolved"
	case errors.Is(err, ErrUnknownEntryPoint), errors.Is(err, ErrNoEntryPoints):
		return "entry_point"
	case errors.Is(err, ErrIterationLimit):
		return "iteration_limit"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "unknown"
	}
}

// recordBuildMetrics records one build outcome.
//
// Thread Safety: Safe for concurrent use.
func recordBuildMetrics(algorithm Algorithm, duration time.Duration, stats BuildStats, reachable int, err error) {
	status := "success"
	if err != nil {
		status = "error"
		buildErrorsTotal.WithLabelValues(classifyBuildError(err)).Inc()
	} else {
		reachableMethods.WithLabelValues(string(algorithm)).Set(float64(reachable))
		fixpointIterations.Observe(float64(stats.Iterations))
	}
	buildDuration.WithLabelValues(string(algorithm), status).Observe(duration.Seconds())
	buildsTotal.WithLabelValues(string(algorithm), status).Inc()
	if stats.ReResolutions > 0 {
		reResolutionsTotal.Add(float64(stats.ReResolutions))
	}
}

// startBuildSpan starts the root span of a build.
func startBuildSpan(ctx context.Context, algorithm Algorithm, entryPoints, workers int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "CallGraphBuilder.Build",
		trace.WithAttributes(
			attribute.String("algorithm", string(algorithm)),
			attribute.Int("entry_points", entryPoints),
			attribute.Int("workers", workers),
		),
	)
}

// setBuildSpanResult annotates the build span with its outcome.
func setBuildSpanResult(span trace.Span, stats BuildStats, nodes, edges int, err error) {
	span.SetAttributes(
		attribute.Int("iterations", stats.Iterations),
		attribute.Int("methods_scanned", stats.MethodsScanned),
		attribute.Int("reresolutions", stats.ReResolutions),
		attribute.Int("nodes", nodes),
		attribute.Int("edges", edges),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, classifyBuildError(err))
		return
	}
	span.SetStatus(codes.Ok, "")
}
