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
	"github.com/AleutianAI/AleutianRAO/services/rao/flow"
	"github.com/AleutianAI/AleutianRAO/services/rao/model"
	"github.com/AleutianAI/AleutianRAO/services/rao/objective"
	"github.com/AleutianAI/AleutianRAO/services/rao/searchtree"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity"
)

func newStateResult(state *model.State) StateResult {
	return StateResult{
		State:       state.ID(),
		Instant:     state.Instant.ID,
		Contingency: state.ContingencyID(),
		Status:      StatusSuccess,
	}
}

func failedState(state *model.State, reason string) StateResult {
	sr := newStateResult(state)
	sr.Status = StatusFailure
	sr.Error = reason
	return sr
}

// stateResultOf reports the optimal leaf of a search tree.
func stateResultOf(state *model.State, tr *searchtree.Result) StateResult {
	sr := newStateResult(state)
	sr.Optimized = true
	if tr == nil {
		return sr
	}
	sr.StopReason = string(tr.StopReason)
	sr.Depth = tr.Depth
	sr.LeavesEvaluated = tr.Budget.LeavesEvaluated

	leaf := tr.Optimal
	if !leaf.Usable() {
		sr.Status = StatusFailure
		if leaf.Err() != nil {
			sr.Error = leaf.Err().Error()
		}
		return sr
	}
	for _, na := range leaf.NetworkActions() {
		sr.NetworkActions = append(sr.NetworkActions, na.ID)
	}
	if act := leaf.Activation(); act != nil {
		for _, ra := range act.ActivatedRangeActions(state) {
			rr := RangeActionResult{ID: ra.ID, Setpoint: act.OptimizedSetpoint(ra, state)}
			if ra.IsPst() {
				if tap, err := act.OptimizedTap(ra, state); err == nil {
					rr.Tap = &tap
				}
			}
			sr.RangeActions = append(sr.RangeActions, rr)
		}
	}
	c := costOf(leaf.Evaluation())
	sr.Cost = &c
	if f := leaf.Flows(); f != nil {
		sr.Status = statusOf(f.StateStatus(state))
	}
	return sr
}

// stateStatus is the computation status of a state in f. States without
// CNECs are never computed and count as successful.
func (r *run) stateStatus(state *model.State, f *flow.Result) Status {
	if f == nil {
		return StatusFailure
	}
	if len(r.crac.FlowCnecsOfState(state)) == 0 {
		return StatusSuccess
	}
	return statusOf(f.StateStatus(state))
}

// evaluate computes the overall cost of per-state flows. CNECs sharing a
// flow result are evaluated together and the group costs are merged.
func (r *run) evaluate(stateFlows map[*model.State]*flow.Result) *objective.Evaluation {
	type group struct {
		flows    *flow.Result
		curative bool
	}
	type members struct {
		optimized, monitored, loopFlow []*model.FlowCnec
	}
	loopFlow := map[*model.FlowCnec]bool{}
	if lf := r.params.Objective.LoopFlow; lf != nil {
		for _, c := range objective.LoopFlowCnecs(r.crac.FlowCnecs(), lf.Countries) {
			loopFlow[c] = true
		}
	}

	var order []group
	groups := map[group]*members{}
	for _, c := range r.crac.FlowCnecs() {
		f := stateFlows[c.State()]
		if f == nil {
			continue
		}
		g := group{flows: f, curative: c.State().Instant.IsCurative()}
		m, ok := groups[g]
		if !ok {
			m = &members{}
			groups[g] = m
			order = append(order, g)
		}
		if c.Optimized {
			m.optimized = append(m.optimized, c)
		}
		if c.Monitored && r.params.Objective.Mnec != nil {
			m.monitored = append(m.monitored, c)
		}
		if loopFlow[c] {
			m.loopFlow = append(m.loopFlow, c)
		}
	}

	evals := make([]*objective.Evaluation, 0, len(order))
	for _, g := range order {
		m := groups[g]
		in := objective.Inputs{
			Optimized: m.optimized,
			Monitored: m.monitored,
			LoopFlow:  m.loopFlow,
			Initial:   r.initialFlows,
		}
		if g.curative {
			in.UnoptimizedOperators = r.params.Curative.OperatorsNotToOptimize
		}
		evals = append(evals, objective.New(r.params.Objective, in).Evaluate(g.flows))
	}
	return mergeEvaluations(evals...)
}

// cnecResults reports the flow and margin of every CNEC on the first
// monitored side, in the objective unit.
func (r *run) cnecResults(stateFlows map[*model.State]*flow.Result) []CnecResult {
	unit := r.params.Objective.Unit
	out := make([]CnecResult, 0, len(r.crac.FlowCnecs()))
	for _, c := range r.crac.FlowCnecs() {
		cr := CnecResult{
			ID:        c.ID,
			State:     c.State().ID(),
			Instant:   c.Instant,
			Optimized: c.Optimized,
			Monitored: c.Monitored,
			Unit:      unit,
		}
		f := stateFlows[c.State()]
		if f != nil && f.StateStatus(c.State()) != sensitivity.StatusFailure {
			flowValue, ferr := f.Flow(c, c.MonitoredSides()[0], unit)
			margin, merr := f.MinMargin(c, unit)
			if ferr == nil && merr == nil {
				cr.Computed = true
				cr.Flow = flowValue
				cr.Margin = margin
			}
		}
		out = append(out, cr)
	}
	return out
}

// resultOf builds the result of an attempt.
func (r *run) resultOf(a *attempt, execution Execution) *Result {
	res := &Result{
		Status:           StatusSuccess,
		ExecutionDetails: execution,
		FinalCost:        costOf(a.evaluation),
	}
	if r.initial != nil {
		res.InitialCost = costOf(r.initial.evaluation)
	}

	optimized := map[*model.State]StateResult{}
	if a.preventive != nil {
		state := a.preventive.State
		optimized[state] = stateResultOf(state, a.preventive)
	}
	for _, o := range a.scenarios {
		for s, sr := range o.states {
			optimized[s] = sr
		}
	}
	for _, s := range r.crac.States() {
		sr, ok := optimized[s]
		if !ok {
			sr = newStateResult(s)
			sr.Status = r.stateStatus(s, a.stateFlows[s])
		}
		res.States = append(res.States, sr)
		res.Status = Worst(res.Status, sr.Status)
	}
	res.Cnecs = r.cnecResults(a.stateFlows)
	res.CostPerInstant = costPerInstant(r.crac, res.Cnecs)
	return res
}

// failedResult reports a run that could not be optimized. The flows are
// the initial ones when they are known.
func (r *run) failedResult(execution Execution, cause error, a *attempt) *Result {
	base := r.initial
	if base == nil {
		base = &attempt{stateFlows: map[*model.State]*flow.Result{}}
	}
	res := r.resultOf(base, execution)
	if a != nil && a.preventive != nil {
		sr := stateResultOf(a.preventive.State, a.preventive)
		sr.Status = StatusFailure
		sr.Error = cause.Error()
		if existing := res.StateResult(sr.State); existing != nil {
			*existing = sr
		}
	}
	res.Status = StatusFailure
	res.Error = cause.Error()
	return res
}
