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
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const treeTracerName = "rao.searchtree"

// treeTracer provides OpenTelemetry tracing for search trees.
//
// Thread Safety: Safe for concurrent use.
type treeTracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

func newTreeTracer(logger *slog.Logger, enabled bool) *treeTracer {
	return &treeTracer{
		tracer:  otel.Tracer(treeTracerName),
		logger:  logger,
		enabled: enabled,
	}
}

// startTree starts the span of a whole search.
func (t *treeTracer) startTree(ctx context.Context, in *Input, budget *Budget) (context.Context, trace.Span) {
	t.logger.InfoContext(ctx, "search tree started",
		slog.String("state", in.Perimeter.MainState.ID()),
		slog.Int("network_actions", len(in.Perimeter.NetworkActions)),
		slog.Int("range_actions", len(in.Perimeter.RangeActions)),
		slog.Int("max_depth", budget.Config().MaxDepth),
	)
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "rao.searchtree.run",
		trace.WithAttributes(
			attribute.String("rao.state", in.Perimeter.MainState.ID()),
			attribute.Int("rao.network_actions", len(in.Perimeter.NetworkActions)),
			attribute.Int("rao.range_actions", len(in.Perimeter.RangeActions)),
			attribute.Int("rao.budget.max_depth", budget.Config().MaxDepth),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// endTree completes the search span.
func (t *treeTracer) endTree(ctx context.Context, span trace.Span, res *Result, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	if res != nil {
		span.SetAttributes(
			attribute.String("rao.searchtree.stop_reason", string(res.StopReason)),
			attribute.Int("rao.searchtree.depth", res.Depth),
			attribute.Int64("rao.searchtree.leaves", res.Budget.LeavesEvaluated),
			attribute.Float64("rao.searchtree.cost", res.Optimal.Cost()),
		)
		t.logger.InfoContext(ctx, "search tree finished",
			slog.String("state", res.State.ID()),
			slog.String("optimal", res.Optimal.String()),
			slog.String("stop_reason", string(res.StopReason)),
			slog.Int("depth", res.Depth),
			slog.Int64("leaves", res.Budget.LeavesEvaluated),
		)
	}
	span.End()
}

// startDepth starts the span of one depth.
func (t *treeTracer) startDepth(ctx context.Context, depth, candidates int) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "rao.searchtree.depth",
		trace.WithAttributes(
			attribute.Int("rao.searchtree.depth", depth),
			attribute.Int("rao.searchtree.candidates", candidates),
		),
	)
}

// startLeaf starts the span of one leaf evaluation.
func (t *treeTracer) startLeaf(ctx context.Context, leaf *Leaf) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "rao.searchtree.leaf",
		trace.WithAttributes(
			attribute.String("rao.leaf.actions", leaf.Key()),
			attribute.Int("rao.leaf.depth", leaf.Depth()),
			attribute.Bool("rao.leaf.remove_range_actions", leaf.RemovesRangeActions()),
		),
	)
}

// endLeaf completes a leaf span.
func (t *treeTracer) endLeaf(span trace.Span, leaf *Leaf) {
	span.SetAttributes(attribute.String("rao.leaf.status", string(leaf.Status())))
	if leaf.Usable() {
		span.SetAttributes(attribute.Float64("rao.leaf.cost", leaf.Cost()))
	}
	if err := leaf.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
