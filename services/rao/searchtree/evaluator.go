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
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianRAO/services/rao/flow"
	"github.com/AleutianAI/AleutianRAO/services/rao/limits"
	"github.com/AleutianAI/AleutianRAO/services/rao/linear"
	"github.com/AleutianAI/AleutianRAO/services/rao/model"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
	"github.com/AleutianAI/AleutianRAO/services/rao/objective"
	"github.com/AleutianAI/AleutianRAO/services/rao/perimeter"
	"github.com/AleutianAI/AleutianRAO/services/rao/rangeaction"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity"
)

// Input describes the perimeter a tree optimizes.
type Input struct {
	// Network holds the reference variant. Leaves clone it and never
	// modify it.
	Network *network.Network

	// ReferenceVariant is the variant every leaf starts from: pre-perimeter
	// setpoints and the actions of earlier states applied.
	ReferenceVariant string

	Perimeter *perimeter.OptimizationPerimeter
	Objective *objective.Function

	// PrePerimeter holds range action setpoints on ReferenceVariant.
	PrePerimeter *rangeaction.SetpointResult

	// Start overrides the initial activation. Nil starts from PrePerimeter.
	Start *rangeaction.ActivationResult

	// Fixed carries commercial flows reused while the topology is fixed.
	Fixed *flow.Result

	// Limits are the usage limits of the main state.
	Limits limits.StateLimits

	// DetectedCombinations are combinations found effective in an earlier
	// run, tried before any other candidate.
	DetectedCombinations [][]*model.NetworkAction
}

func (in *Input) validate() error {
	switch {
	case in.Network == nil:
		return errors.New("search tree input: nil network")
	case in.Perimeter == nil || in.Perimeter.MainState == nil:
		return errors.New("search tree input: nil perimeter")
	case in.Objective == nil:
		return errors.New("search tree input: nil objective")
	case in.PrePerimeter == nil:
		return errors.New("search tree input: nil pre-perimeter setpoints")
	}
	return nil
}

// Evaluator computes the flows and optimizes the range actions of leaves.
//
// Thread Safety: Safe for concurrent use. Every evaluation owns a private
// variant removed before returning.
type Evaluator struct {
	in        *Input
	flows     linear.FlowComputer
	optimizer *linear.Optimizer
	logger    *slog.Logger
	request   sensitivity.Request
}

// NewEvaluator creates an evaluator for one tree input.
func NewEvaluator(in *Input, flows linear.FlowComputer, optimizer *linear.Optimizer, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		in:        in,
		flows:     flows,
		optimizer: optimizer,
		logger:    logger,
		request: sensitivity.Request{
			Cnecs:        in.Perimeter.FlowCnecs,
			RangeActions: in.Perimeter.RangeActions,
			Ampere:       in.Objective.Parameters().Unit == model.Ampere,
		},
	}
}

// Evaluate computes the flows of a leaf and then optimizes its range
// actions.
//
// Description:
//
//	The leaf's network actions are applied on a clone of the reference
//	variant together with the setpoints it inherits. Once the flows are
//	known the leaf is EVALUATION_SUCCESS; the range action optimization
//	then moves it to OPTIMIZED. The clone is removed whatever happens.
//
// Outputs:
//   - error: Also stored on the leaf, which is then EVALUATION_ERROR.
func (e *Evaluator) Evaluate(ctx context.Context, leaf *Leaf) error {
	leaf.status = LeafEvaluationRunning
	leaf.err = nil
	if err := e.evaluate(ctx, leaf); err != nil {
		return leaf.fail(err)
	}
	return nil
}

func (e *Evaluator) evaluate(ctx context.Context, leaf *Leaf) error {
	net := e.in.Network
	id, err := net.CloneVariant(e.in.ReferenceVariant)
	if err != nil {
		return fmt.Errorf("cloning reference variant: %w", err)
	}
	defer func() {
		if rerr := net.RemoveVariant(id); rerr != nil {
			e.logger.Warn("removing leaf variant", slog.String("variant", id), slog.String("error", rerr.Error()))
		}
	}()
	v, err := net.Variant(id)
	if err != nil {
		return err
	}

	for _, na := range leaf.actions {
		if _, err := na.Apply(v); err != nil {
			return fmt.Errorf("applying network action %s: %w", na.ID, err)
		}
	}

	state := e.in.Perimeter.MainState
	start := e.startActivation(leaf)
	leaf.rangeActions = e.rangeActions(leaf)
	if err := applySetpoints(v, start, leaf.rangeActions, state); err != nil {
		return fmt.Errorf("applying inherited setpoints: %w", err)
	}

	fixed := e.in.Fixed
	if lf := e.in.Objective.Parameters().LoopFlow; lf != nil && lf.Approximation.UpdateWithTopo() && len(leaf.actions) > 0 {
		fixed = nil
	}
	flows, err := e.flows.Compute(ctx, v, e.request, fixed)
	if err != nil {
		return fmt.Errorf("computing flows: %w", err)
	}
	if flows.Status() == sensitivity.StatusFailure {
		return ErrSensitivityFailure
	}
	leaf.preFlows = flows
	leaf.preEvaluation = e.in.Objective.Evaluate(flows)
	leaf.activation = start
	leaf.status = LeafEvaluated

	res, err := e.optimizer.Optimize(ctx, v, linear.Input{
		State:        state,
		RangeActions: leaf.rangeActions,
		Cnecs:        e.in.Perimeter.FlowCnecs,
		Objective:    e.in.Objective,
		PrePerimeter: e.in.PrePerimeter,
		Limits:       e.in.Limits.Remaining(leaf.actions),
		Fixed:        fixed,
	}, linear.Start{Activation: start, Flows: flows})
	leaf.iterations = res.Iterations
	leaf.linearStatus = res.Status
	if err != nil {
		return fmt.Errorf("optimizing range actions: %w", err)
	}
	leaf.activation = res.Activation
	leaf.flows = res.Flows
	leaf.evaluation = res.Evaluation
	leaf.status = LeafOptimized
	return nil
}

// startActivation returns the setpoints a leaf starts from: its parent's,
// unless the leaf drops them.
func (e *Evaluator) startActivation(leaf *Leaf) *rangeaction.ActivationResult {
	if leaf.parent != nil && !leaf.removeRangeActions && leaf.parent.activation != nil {
		return leaf.parent.activation.Clone()
	}
	if e.in.Start != nil {
		return e.in.Start.Clone()
	}
	return rangeaction.NewActivationResult(e.in.PrePerimeter)
}

// rangeActions drops range actions acting on an element already changed
// by one of the leaf's network actions.
func (e *Evaluator) rangeActions(leaf *Leaf) []*model.RangeAction {
	touched := map[string]bool{}
	for _, na := range leaf.actions {
		for _, el := range na.NetworkElements() {
			touched[el] = true
		}
	}
	var out []*model.RangeAction
	for _, ra := range e.in.Perimeter.RangeActions {
		free := true
		for _, el := range ra.NetworkElements() {
			if touched[el] {
				free = false
				break
			}
		}
		if free {
			out = append(out, ra)
		}
	}
	return out
}

func applySetpoints(v *network.Variant, act *rangeaction.ActivationResult, actions []*model.RangeAction, state *model.State) error {
	for _, ra := range actions {
		if !act.IsSet(ra, state) {
			continue
		}
		if err := ra.Apply(v, act.OptimizedSetpoint(ra, state)); err != nil {
			return fmt.Errorf("range action %s: %w", ra.ID, err)
		}
	}
	return nil
}

// ApplyTo applies the leaf's network actions and main-state setpoints on
// a variant.
func (l *Leaf) ApplyTo(v *network.Variant, state *model.State) error {
	for _, na := range l.actions {
		if _, err := na.Apply(v); err != nil {
			return fmt.Errorf("applying network action %s: %w", na.ID, err)
		}
	}
	if l.activation == nil {
		return nil
	}
	return applySetpoints(v, l.activation, l.rangeActions, state)
}
