// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("aleutian.rao.runner")

var (
	runLatency metric.Float64Histogram
	runTotal   metric.Int64Counter
	slotWait   metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics creates the instruments on first use.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runLatency, err = meter.Float64Histogram(
			"rao_runner_run_duration_seconds",
			metric.WithDescription("Duration of runs from case build to saved result"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runTotal, err = meter.Int64Counter(
			"rao_runner_runs_total",
			metric.WithDescription("Total runs by provider and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		slotWait, err = meter.Float64Histogram(
			"rao_runner_slot_wait_seconds",
			metric.WithDescription("Time spent waiting for a run slot"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

// recordRun records a finished or rejected run. outcome is the result
// status, or "rejected" / "error" when no result exists.
func recordRun(ctx context.Context, provider, outcome string, d time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	)
	runLatency.Record(ctx, d.Seconds(), attrs)
	runTotal.Add(ctx, 1, attrs)
}

func recordSlotWait(ctx context.Context, d time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	slotWait.Record(ctx, d.Seconds())
}
