// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// operationsTotal counts store operations.
	//
	// Labels:
	//   - op: "save", "load", "load_latest", "list", "delete",
	//     "attribute_devrank"
	//   - status: "success", "not_found" or "error"
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callscope",
			Subsystem: "snapshot",
			Name:      "operations_total",
			Help:      "Total snapshot store operations by outcome.",
		},
		[]string{"op", "status"},
	)
)

func recordSnapshotMetrics(op string, err error) {
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	default:
		status = "error"
	}
	operationsTotal.WithLabelValues(op, status).Inc()
}
