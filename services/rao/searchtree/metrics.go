// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package searchtree

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// knownStopReasons guards the stop_reason label.
var knownStopReasons = map[StopReason]bool{
	StopNoImprovement:   true,
	StopCriterionMet:    true,
	StopMaxDepth:        true,
	StopNoCandidate:     true,
	StopBudget:          true,
	StopDeadline:        true,
	StopRootFailed:      true,
	StopContextCanceled: true,
}

func sanitizeStopReason(r StopReason) string {
	if knownStopReasons[r] {
		return string(r)
	}
	return "unknown"
}

var (
	// leavesTotal counts evaluated leaves by final status.
	leavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rao",
			Subsystem: "search_tree",
			Name:      "leaves_total",
			Help:      "Total search tree leaves evaluated by final status",
		},
		[]string{"status"},
	)

	// leafDurationSeconds measures one leaf evaluation.
	leafDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rao",
			Subsystem: "search_tree",
			Name:      "leaf_duration_seconds",
			Help:      "Duration of leaf evaluations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
	)

	// treesTotal counts finished trees by stop reason.
	treesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rao",
			Subsystem: "search_tree",
			Name:      "trees_total",
			Help:      "Total search trees run by stop reason",
		},
		[]string{"stop_reason"},
	)

	// treeDepth records the depth reached by finished trees.
	treeDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rao",
			Subsystem: "search_tree",
			Name:      "depth",
			Help:      "Depth of the optimal leaf of finished trees",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 8},
		},
	)
)

func recordLeaf(status LeafStatus, d time.Duration) {
	switch status {
	case LeafOptimized, LeafEvaluated, LeafEvaluationError:
		leavesTotal.WithLabelValues(string(status)).Inc()
	default:
		leavesTotal.WithLabelValues("unknown").Inc()
	}
	leafDurationSeconds.Observe(d.Seconds())
}

func recordTree(reason StopReason, depth int) {
	treesTotal.WithLabelValues(sanitizeStopReason(reason)).Inc()
	treeDepth.Observe(float64(depth))
}
