// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package linear

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// knownStatuses guards the status label against unexpected values.
var knownStatuses = map[Status]bool{
	StatusOptimal:                      true,
	StatusFeasible:                     true,
	StatusInfeasible:                   true,
	StatusUnbounded:                    true,
	StatusAbnormal:                     true,
	StatusNotSolved:                    true,
	StatusMaxIterationReached:          true,
	StatusSensitivityComputationFailed: true,
}

func sanitizeStatus(s Status) string {
	if knownStatuses[s] {
		return string(s)
	}
	return "unknown"
}

var (
	// optimizationsTotal counts iterating optimizations by final status.
	optimizationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rao",
			Subsystem: "linear",
			Name:      "optimizations_total",
			Help:      "Total range action optimizations by final status",
		},
		[]string{"status"},
	)

	// iterationsTotal counts solve and recompute iterations.
	iterationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rao",
			Subsystem: "linear",
			Name:      "iterations_total",
			Help:      "Total linear optimization iterations",
		},
	)

	// solveDurationSeconds measures single solver calls.
	solveDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rao",
			Subsystem: "linear",
			Name:      "solve_duration_seconds",
			Help:      "Duration of linear solver calls in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)
)

// recordOptimization records the final status of an optimization.
func recordOptimization(status Status, iterations int) {
	optimizationsTotal.WithLabelValues(sanitizeStatus(status)).Inc()
	iterationsTotal.Add(float64(iterations))
}

// recordSolve records one solver call.
func recordSolve(d time.Duration) {
	solveDurationSeconds.Observe(d.Seconds())
}
