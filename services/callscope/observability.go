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
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// requestIDHeader carries the request ID in both directions.
const requestIDHeader = "X-Request-ID"

var (
	// requestsTotal counts HTTP requests.
	//
	// Labels:
	//   - route: the gin route pattern, "unmatched" for 404s
	//   - method: the HTTP method
	//   - status: the response status code
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callscope",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by route, method and status.",
		},
		[]string{"route", "method", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "callscope",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// buildsRejected counts builds refused by the rate limiter.
	buildsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "callscope",
			Subsystem: "http",
			Name:      "builds_rejected_total",
			Help:      "Total build requests rejected by the rate limiter.",
		},
	)

	cachedGraphs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "callscope",
			Subsystem: "service",
			Name:      "cached_graphs",
			Help:      "Number of graphs in the in-memory registry.",
		},
	)
)

// metricsMiddleware records request counts and latency per route.
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requestsTotal.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// requestIDMiddleware propagates or assigns X-Request-ID.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func getOrCreateRequestID(c *gin.Context) string {
	if v, ok := c.Get("request_id"); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	id := c.GetHeader(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Set("request_id", id)
	return id
}
