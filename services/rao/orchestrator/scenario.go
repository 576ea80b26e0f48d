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
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianRAO/services/rao/flow"
	"github.com/AleutianAI/AleutianRAO/services/rao/model"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
	"github.com/AleutianAI/AleutianRAO/services/rao/perimeter"
	"github.com/AleutianAI/AleutianRAO/services/rao/rangeaction"
	"github.com/AleutianAI/AleutianRAO/services/rao/searchtree"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity"
)

// scenarioOutcome is the result of one contingency scenario.
type scenarioOutcome struct {
	scenario *perimeter.ContingencyScenario
	status   Status

	states map[*model.State]StateResult
	leaves map[*model.State]*searchtree.Leaf

	// flows holds the flows of every optimized state and its followers.
	flows map[*model.State]*flow.Result
}

func newScenarioOutcome(sc *perimeter.ContingencyScenario) *scenarioOutcome {
	return &scenarioOutcome{
		scenario: sc,
		status:   StatusSuccess,
		states:   map[*model.State]StateResult{},
		leaves:   map[*model.State]*searchtree.Leaf{},
		flows:    map[*model.State]*flow.Result{},
	}
}

func (o *scenarioOutcome) record(state *model.State, st step) {
	o.states[state] = st.result
	o.status = Worst(o.status, st.result.Status)
	if st.leaf != nil {
		o.leaves[state] = st.leaf
	}
	if st.flows == nil {
		return
	}
	o.flows[state] = st.flows
	for _, f := range o.scenario.MonitoredStates(state) {
		o.flows[f] = st.flows
	}
}

// step is the outcome of one state of a scenario.
type step struct {
	result StateResult
	flows  *flow.Result
	leaf   *searchtree.Leaf
}

// optimizeScenarios optimizes every contingency scenario, at most
// ScenariosInParallel at once, each on its own clone of baseID.
func (r *run) optimizeScenarios(ctx context.Context, baseID string, base *flow.Result, preventiveCost float64, replay map[*model.State]*searchtree.Leaf) ([]*scenarioOutcome, error) {
	scenarios := r.tree.Scenarios()
	out := make([]*scenarioOutcome, len(scenarios))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.params.Curative.ScenariosInParallel)
	for i, sc := range scenarios {
		g.Go(func() error {
			o, err := r.optimizeScenario(gctx, sc, baseID, base, preventiveCost, replay)
			if err != nil {
				return fmt.Errorf("contingency %s: %w", sc.Contingency.ID, err)
			}
			recordScenario(o.status)
			out[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// optimizeScenario runs the auto and curative states of a contingency in
// order. A failed state leaves the later ones unoptimized and failed.
func (r *run) optimizeScenario(ctx context.Context, sc *perimeter.ContingencyScenario, baseID string, base *flow.Result, preventiveCost float64, replay map[*model.State]*searchtree.Leaf) (*scenarioOutcome, error) {
	id, v, err := r.cloneVariant(baseID)
	if err != nil {
		return nil, err
	}
	defer r.dropVariant(id)

	logger := r.logger.With(slog.String("contingency", sc.Contingency.ID))
	var cnecs []*model.FlowCnec
	for _, s := range r.crac.StatesOfContingency(sc.Contingency.ID) {
		cnecs = append(cnecs, r.crac.FlowCnecsOfState(s)...)
	}
	req := r.request(cnecs, nil)

	o := newScenarioOutcome(sc)
	current := base
	states := sc.States()
	for i, state := range states {
		var st step
		switch {
		case state.Instant.IsAuto():
			st, err = r.applyAuto(ctx, sc, state, v, current, req)
		case replay != nil:
			st, err = r.replayState(ctx, state, replay[state], v, current, req)
		default:
			st, err = r.optimizeState(ctx, sc, state, id, v, current, req, preventiveCost)
		}
		if err != nil {
			return nil, err
		}
		o.record(state, st)
		if st.result.Status == StatusFailure {
			logger.WarnContext(ctx, "state optimization failed",
				slog.String("state", state.ID()),
				slog.String("error", st.result.Error),
			)
			for _, rest := range states[i+1:] {
				o.record(rest, step{
					result: failedState(rest, "an earlier state of the contingency failed"),
					flows:  st.flows,
				})
			}
			break
		}
		current = st.flows
	}
	logger.InfoContext(ctx, "contingency scenario optimized", slog.String("status", string(o.status)))
	return o, nil
}

// applyAuto applies the forced automatic network actions of the auto state.
func (r *run) applyAuto(ctx context.Context, sc *perimeter.ContingencyScenario, state *model.State, v *network.Variant, current *flow.Result, req sensitivity.Request) (step, error) {
	p, err := perimeter.ForScenarioState(r.crac, sc, state, current, r.opts)
	if err != nil {
		return step{result: failedState(state, err.Error()), flows: current}, nil
	}
	sr := newStateResult(state)
	sr.Optimized = true
	for _, na := range p.ForcedNetworkActions {
		if _, err := na.Apply(v); err != nil {
			return step{result: failedState(state, fmt.Sprintf("applying network action %s: %v", na.ID, err)), flows: current}, nil
		}
		sr.NetworkActions = append(sr.NetworkActions, na.ID)
	}
	flows, err := r.flows.Compute(ctx, v, req, r.fixed())
	if err != nil {
		return step{}, err
	}
	if flows.Status() == sensitivity.StatusFailure {
		return step{result: failedState(state, "sensitivity computation failed"), flows: current}, nil
	}
	sr.Status = r.stateStatus(state, flows)
	c := costOf(r.objectiveFor(p).Evaluate(flows))
	sr.Cost = &c
	return step{result: sr, flows: flows}, nil
}

// optimizeState runs the search tree of a curative state and applies its
// optimal leaf on v.
func (r *run) optimizeState(ctx context.Context, sc *perimeter.ContingencyScenario, state *model.State, id string, v *network.Variant, current *flow.Result, req sensitivity.Request, preventiveCost float64) (step, error) {
	p, err := perimeter.ForScenarioState(r.crac, sc, state, current, r.opts)
	if err != nil {
		return step{result: failedState(state, err.Error()), flows: current}, nil
	}
	pre, err := rangeaction.NewSetpointResult(v, p.RangeActions)
	if err != nil {
		return step{result: failedState(state, err.Error()), flows: current}, nil
	}
	tr, err := r.search(ctx, &searchtree.Input{
		Network:          r.net,
		ReferenceVariant: id,
		Perimeter:        p,
		Objective:        r.objectiveFor(p),
		PrePerimeter:     pre,
		Fixed:            r.fixedFrom(current),
		Limits:           r.limitation.For(state),
	}, r.params.curativeTreeParameters(preventiveCost))
	if err != nil {
		if tr == nil || !errors.Is(err, searchtree.ErrRootEvaluationFailed) {
			return step{}, err
		}
		sr := stateResultOf(state, tr)
		sr.Status = StatusFailure
		sr.Error = err.Error()
		return step{result: sr, flows: current}, nil
	}

	sr := stateResultOf(state, tr)
	if err := tr.Optimal.ApplyTo(v, state); err != nil {
		sr.Status = StatusFailure
		sr.Error = err.Error()
		return step{result: sr, flows: current}, nil
	}
	flows, err := r.flows.Compute(ctx, v, req, r.fixed())
	if err != nil {
		return step{}, err
	}
	if flows.Status() == sensitivity.StatusFailure {
		sr.Status = StatusFailure
		sr.Error = "sensitivity computation failed after applying curative remedial actions"
		return step{result: sr, flows: current}, nil
	}
	sr.Status = Worst(sr.Status, r.stateStatus(state, flows))
	return step{result: sr, flows: flows, leaf: tr.Optimal}, nil
}

// replayState applies a curative leaf chosen by an earlier attempt. A nil
// leaf leaves the state unoptimized.
func (r *run) replayState(ctx context.Context, state *model.State, leaf *searchtree.Leaf, v *network.Variant, current *flow.Result, req sensitivity.Request) (step, error) {
	sr := newStateResult(state)
	if leaf != nil {
		if err := leaf.ApplyTo(v, state); err != nil {
			return step{result: failedState(state, err.Error()), flows: current}, nil
		}
		replayed := stateResultOf(state, &searchtree.Result{State: state, Root: leaf, Optimal: leaf})
		sr.Optimized = true
		sr.NetworkActions = replayed.NetworkActions
		sr.RangeActions = replayed.RangeActions
	}
	flows, err := r.flows.Compute(ctx, v, req, r.fixed())
	if err != nil {
		return step{}, err
	}
	if flows.Status() == sensitivity.StatusFailure {
		return step{result: failedState(state, "sensitivity computation failed"), flows: current}, nil
	}
	sr.Status = r.stateStatus(state, flows)
	return step{result: sr, flows: flows, leaf: leaf}, nil
}
