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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianRAO/services/rao/flow"
	"github.com/AleutianAI/AleutianRAO/services/rao/model"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
	"github.com/AleutianAI/AleutianRAO/services/rao/objective"
	"github.com/AleutianAI/AleutianRAO/services/rao/rangeaction"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity"
)

const tracerName = "rao.linear"

// costTolerance is the smallest decrease accepted as an improvement.
const costTolerance = 1e-9

// FlowComputer recomputes flows after setpoints change. *flow.Computer
// satisfies it.
type FlowComputer interface {
	Compute(ctx context.Context, v *network.Variant, req sensitivity.Request, fixed *flow.Result) (*flow.Result, error)
}

// Start is the point the optimizer iterates from: the setpoints on the
// variant and the flows computed with them.
type Start struct {
	Activation *rangeaction.ActivationResult
	Flows      *flow.Result
}

// Result is the outcome of an iterating optimization.
type Result struct {
	Status     Status
	Iterations int
	Activation *rangeaction.ActivationResult
	Flows      *flow.Result
	Evaluation *objective.Evaluation
}

// Optimizer alternates linear solves and flow recomputations until the
// setpoints stop moving.
//
// Thread Safety: Safe for concurrent use on distinct variants.
type Optimizer struct {
	params Parameters
	solver Solver
	flows  FlowComputer
	logger *slog.Logger
	tracer trace.Tracer
}

// OptimizerOption configures an Optimizer.
type OptimizerOption func(*Optimizer)

// WithSolver replaces the default simplex solver.
func WithSolver(s Solver) OptimizerOption {
	return func(o *Optimizer) { o.solver = s }
}

// WithOptimizerLogger sets the logger.
func WithOptimizerLogger(logger *slog.Logger) OptimizerOption {
	return func(o *Optimizer) { o.logger = logger }
}

// NewOptimizer creates an optimizer.
func NewOptimizer(params Parameters, flows FlowComputer, opts ...OptimizerOption) *Optimizer {
	o := &Optimizer{
		params: params,
		flows:  flows,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.solver == nil {
		o.solver = NewSimplexSolver(WithSolverLogger(o.logger))
	}
	return o
}

// Parameters returns the optimizer parameters.
func (o *Optimizer) Parameters() Parameters { return o.params }

// Optimize finds range action setpoints for one state.
//
// Description:
//
//	Each iteration builds a problem linearised around the current flows,
//	solves it, rounds the setpoints, applies them to v and recomputes the
//	flows. A new point is kept only when it lowers the cost; otherwise the
//	best point is restored on v and the loop stops, unless range shrinking
//	is on. The loop also stops when the rounded setpoints do not move.
//
// Inputs:
//   - v: Variant on which start.Activation is applied. Exclusively owned.
//   - in: The state, its range actions and objective.
//   - start: Setpoints and flows to iterate from.
//
// Outputs:
//   - *Result: Never nil. Holds start when the first solve fails.
//   - error: *LinearOptimizationError when the first solve is not usable,
//     or the context error.
func (o *Optimizer) Optimize(ctx context.Context, v *network.Variant, in Input, start Start) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "rao.linear.optimize",
		trace.WithAttributes(
			attribute.String("rao.state", in.State.ID()),
			attribute.Int("rao.range_actions", len(in.RangeActions)),
		),
	)
	defer span.End()

	best := &Result{
		Activation: start.Activation.Clone(),
		Flows:      start.Flows,
		Evaluation: in.Objective.Evaluate(start.Flows),
	}
	if len(in.RangeActions) == 0 {
		best.Status = StatusOptimal
		span.SetStatus(codes.Ok, "")
		return best, nil
	}

	res, err := o.iterate(ctx, v, in, best)
	recordOptimization(res.Status, res.Iterations)
	span.SetAttributes(
		attribute.String("rao.linear.status", string(res.Status)),
		attribute.Int("rao.linear.iterations", res.Iterations),
		attribute.Float64("rao.linear.cost", res.Evaluation.Cost()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	o.logger.DebugContext(ctx, "range action optimization finished",
		slog.String("state", in.State.ID()),
		slog.String("status", string(res.Status)),
		slog.Int("iterations", res.Iterations),
		slog.Float64("cost", res.Evaluation.Cost()),
	)
	return res, err
}

func (o *Optimizer) iterate(ctx context.Context, v *network.Variant, in Input, best *Result) (*Result, error) {
	req := sensitivity.Request{
		Cnecs:        in.Cnecs,
		RangeActions: in.RangeActions,
		Ampere:       in.Objective.Parameters().Unit == model.Ampere,
	}
	fixed := in.Fixed
	if lf := in.Objective.Parameters().LoopFlow; lf != nil && lf.Approximation.UpdateWithPst() {
		fixed = nil
	}

	current := best
	for it := 0; it < o.params.MaxIterations; it++ {
		best.Iterations = it + 1
		b := newBuilder(o.params, o.solver.SupportsInteger(), in, current.Flows, current.Activation, it)

		began := time.Now()
		setpoints, _, err := b.solve(ctx, o.solver)
		recordSolve(time.Since(began))
		if err != nil {
			var lerr *LinearOptimizationError
			if !errors.As(err, &lerr) {
				best.Status = StatusAbnormal
				return best, err
			}
			if it == 0 {
				best.Status = lerr.Status
				return best, err
			}
			o.logger.Debug("linear solve failed, keeping best iteration",
				slog.Int("iteration", it),
				slog.String("status", string(lerr.Status)),
			)
			best.Status = StatusFeasible
			return best, nil
		}

		rounded := b.round(setpoints)
		candidate := current.Activation.Clone()
		for _, ra := range b.actions {
			candidate.SetOptimizedSetpoint(ra, in.State, rounded[ra.ID])
		}
		for _, ra := range in.RangeActions {
			if prev, ok := b.reset[ra.ID]; ok {
				candidate.SetOptimizedSetpoint(ra, in.State, prev)
			}
		}
		// A start activating more than the limits allow is not a valid
		// solution: the first admissible point replaces it whatever its cost.
		overLimit := it == 0 && len(b.reset) > 0
		if candidate.Equal(current.Activation, in.RangeActions, in.State) {
			best.Status = StatusOptimal
			return best, nil
		}

		if err := applySetpoints(v, candidate, in.RangeActions, in.State); err != nil {
			return o.restore(v, in, best, StatusAbnormal, err)
		}
		flows, err := o.flows.Compute(ctx, v, req, fixed)
		if err != nil {
			return o.restore(v, in, best, StatusAbnormal, err)
		}
		if flows.Status() == sensitivity.StatusFailure {
			return o.restore(v, in, best, StatusSensitivityComputationFailed, nil)
		}

		next := &Result{Activation: candidate, Flows: flows, Evaluation: in.Objective.Evaluate(flows)}
		o.logger.Debug("linear iteration",
			slog.Int("iteration", it),
			slog.Float64("cost", next.Evaluation.Cost()),
			slog.Float64("best_cost", best.Evaluation.Cost()),
		)
		if overLimit || next.Evaluation.Cost() < best.Evaluation.Cost()-costTolerance {
			next.Iterations = best.Iterations
			best = next
			current = next
			continue
		}
		if err := applySetpoints(v, best.Activation, in.RangeActions, in.State); err != nil {
			best.Status = StatusAbnormal
			return best, err
		}
		if !o.params.RangeShrinking {
			best.Status = StatusOptimal
			return best, nil
		}
		current = best
	}
	best.Status = StatusMaxIterationReached
	return best, nil
}

// restore puts the best setpoints back on v and returns best with status.
func (o *Optimizer) restore(v *network.Variant, in Input, best *Result, status Status, cause error) (*Result, error) {
	best.Status = status
	if err := applySetpoints(v, best.Activation, in.RangeActions, in.State); err != nil {
		return best, errors.Join(cause, err)
	}
	return best, cause
}

// applySetpoints sets every action to its setpoint on state.
func applySetpoints(v *network.Variant, act *rangeaction.ActivationResult, actions []*model.RangeAction, state *model.State) error {
	for _, ra := range actions {
		if err := ra.Apply(v, act.OptimizedSetpoint(ra, state)); err != nil {
			return fmt.Errorf("restoring setpoints: %w", err)
		}
	}
	return nil
}
