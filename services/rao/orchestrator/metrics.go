// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// runsTotal counts finished runs by status.
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rao",
			Subsystem: "orchestrator",
			Name:      "runs_total",
			Help:      "Total RAO runs by final status",
		},
		[]string{"status"},
	)

	// runDurationSeconds measures whole runs.
	runDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rao",
			Subsystem: "orchestrator",
			Name:      "run_duration_seconds",
			Help:      "Duration of RAO runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		},
	)

	// scenariosTotal counts optimized contingency scenarios by status.
	scenariosTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rao",
			Subsystem: "orchestrator",
			Name:      "scenarios_total",
			Help:      "Total contingency scenarios optimized by status",
		},
		[]string{"status"},
	)
)

func sanitizeStatus(s Status) string {
	switch s {
	case StatusSuccess, StatusFallback, StatusFailure:
		return string(s)
	default:
		return "unknown"
	}
}

func recordRun(status Status, d time.Duration) {
	runsTotal.WithLabelValues(sanitizeStatus(status)).Inc()
	runDurationSeconds.Observe(d.Seconds())
}

func recordScenario(status Status) {
	scenariosTotal.WithLabelValues(sanitizeStatus(status)).Inc()
}
