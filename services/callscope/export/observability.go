// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package export

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// exportsTotal counts export attempts.
	//
	// Labels:
	//   - format: "dot" or "neo4j"
	//   - status: "success" or "error"
	exportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callscope",
			Subsystem: "export",
			Name:      "exports_total",
			Help:      "Total graph exports by format and outcome.",
		},
		[]string{"format", "status"},
	)
)

func recordExportMetrics(format string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	exportsTotal.WithLabelValues(format, status).Inc()
}
