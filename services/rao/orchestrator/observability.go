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
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const runTracerName = "rao.orchestrator"

// runTracer provides OpenTelemetry tracing for RAO runs.
//
// Thread Safety: Safe for concurrent use.
type runTracer struct {
	tracer  trace.Tracer
	enabled bool
}

func newRunTracer(enabled bool) *runTracer {
	return &runTracer{tracer: otel.Tracer(runTracerName), enabled: enabled}
}

// startRun starts the span of a whole run.
func (t *runTracer) startRun(ctx context.Context, in Input) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "rao.orchestrator.run",
		trace.WithAttributes(
			attribute.String("rao.crac", in.Crac.ID()),
			attribute.Int("rao.states", len(in.Crac.States())),
			attribute.Int("rao.cnecs", len(in.Crac.FlowCnecs())),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// endRun completes the run span.
func (t *runTracer) endRun(span trace.Span, res *Result, err error) {
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	if res != nil {
		span.SetAttributes(
			attribute.String("rao.status", string(res.Status)),
			attribute.String("rao.execution_details", string(res.ExecutionDetails)),
			attribute.Float64("rao.initial_cost", res.InitialCost.Total),
			attribute.Float64("rao.final_cost", res.FinalCost.Total),
		)
		if res.Status == StatusFailure {
			span.SetStatus(codes.Error, res.Error)
			return
		}
	}
	span.SetStatus(codes.Ok, "")
}

// startStep starts the span of one optimization step.
func (t *runTracer) startStep(ctx context.Context, step string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "rao.orchestrator."+step, trace.WithAttributes(attrs...))
}

// logCosts logs the costs of a run step.
func logCosts(ctx context.Context, logger *slog.Logger, msg string, c Cost) {
	logger.InfoContext(ctx, msg,
		slog.Float64("cost", c.Total),
		slog.Float64("functional_cost", c.Functional),
		slog.Float64("virtual_cost", c.Virtual),
	)
}
