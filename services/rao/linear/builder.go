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
	"fmt"
	"math"
	"sort"

	"github.com/AleutianAI/AleutianRAO/services/rao/flow"
	"github.com/AleutianAI/AleutianRAO/services/rao/limits"
	"github.com/AleutianAI/AleutianRAO/services/rao/model"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
	"github.com/AleutianAI/AleutianRAO/services/rao/objective"
	"github.com/AleutianAI/AleutianRAO/services/rao/rangeaction"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity"
)

// Input describes one range action optimisation.
type Input struct {
	// State is the state whose range actions are optimized.
	State *model.State

	// RangeActions are the range actions available in State.
	RangeActions []*model.RangeAction

	// Cnecs are every CNEC of the perimeter, used for sensitivity requests.
	Cnecs []*model.FlowCnec

	// Objective carries the optimized, monitored and loop-flow CNECs and the
	// initial flows they are compared with.
	Objective *objective.Function

	// PrePerimeter holds the setpoints before the perimeter.
	PrePerimeter *rangeaction.SetpointResult

	// Limits are the usage limits left for range actions.
	Limits limits.StateLimits

	// Fixed carries commercial flows and PTDF sums reused by every
	// recomputation. Nil recomputes them.
	Fixed *flow.Result
}

// problemVars indexes the variables of one iteration.
type problemVars struct {
	setpoint  map[string]*Variable
	up        map[string]*Variable
	down      map[string]*Variable
	active    map[string]*Variable
	flow      map[flow.Key]*Variable
	minMargin *Variable
}

// builder fills a Problem from the flows of one iteration.
type builder struct {
	params    Parameters
	integers  bool
	in        Input
	flows     *flow.Result
	current   *rangeaction.ActivationResult
	iteration int

	p       *Problem
	vars    problemVars
	actions []*model.RangeAction
	// reset holds the filtered-out actions that were activated, with the
	// previous setpoint they go back to.
	reset   map[string]float64
}

func newBuilder(params Parameters, integers bool, in Input, flows *flow.Result, current *rangeaction.ActivationResult, iteration int) *builder {
	return &builder{
		params:    params,
		integers:  integers,
		in:        in,
		flows:     flows,
		current:   current,
		iteration: iteration,
		p:         NewProblem(),
		vars: problemVars{
			setpoint: map[string]*Variable{},
			up:       map[string]*Variable{},
			down:     map[string]*Variable{},
			active:   map[string]*Variable{},
			flow:     map[flow.Key]*Variable{},
		},
	}
}

// build creates every variable and constraint.
func (b *builder) build() *Problem {
	b.actions = b.in.RangeActions
	if b.in.Limits.AreRangeActionsLimited() && !b.integers {
		b.preFilter()
	}

	b.addRangeActions()
	b.addFlows()
	b.addMinMargin()
	b.addUnoptimizedCnecs()
	b.addMnecs()
	b.addLoopFlows()
	b.addAlignment()
	if b.integers && b.in.Limits.AreRangeActionsLimited() {
		b.addUsageLimits()
	}
	return b.p
}

// preFilter narrows the actions to a set that satisfies the limits. Dropped
// actions that were activated are reset to their previous setpoint.
func (b *builder) preFilter() {
	active := map[string]bool{}
	for _, ra := range b.in.RangeActions {
		if b.activated(ra) {
			active[ra.ID] = true
		}
	}
	b.actions = limits.PreFilter(b.in.RangeActions, b.in.Limits, b.scores(), active)

	kept := make(map[string]bool, len(b.actions))
	for _, ra := range b.actions {
		kept[ra.ID] = true
	}
	for _, ra := range b.in.RangeActions {
		if !kept[ra.ID] && active[ra.ID] {
			if b.reset == nil {
				b.reset = map[string]float64{}
			}
			b.reset[ra.ID] = b.current.PreviousSetpoint(ra, b.in.State)
		}
	}
}

// activated reports whether a range action is away from its previous
// setpoint in the current iterate.
func (b *builder) activated(ra *model.RangeAction) bool {
	d := b.current.OptimizedSetpoint(ra, b.in.State) - b.current.PreviousSetpoint(ra, b.in.State)
	return math.Abs(d) > rangeaction.Epsilon
}

// bounds returns the admissible interval of a range action this iteration.
func (b *builder) bounds(ra *model.RangeAction) (float64, float64) {
	prev := b.in.PrePerimeter.Setpoint(ra)
	lo, hi := ra.MinAdmissibleSetpoint(prev), ra.MaxAdmissibleSetpoint(prev)
	if b.params.RangeShrinking {
		lo, hi = shrink(lo, hi, b.current.OptimizedSetpoint(ra, b.in.State), b.iteration)
	}
	return lo, hi
}

// addRangeActions adds S, V+ and V- per range action with
// S = S_pre + V+ - V- and the variation penalty.
func (b *builder) addRangeActions() {
	for _, ra := range b.actions {
		lo, hi := b.bounds(ra)
		s := b.p.AddVariable("setpoint_"+ra.ID, lo, hi)
		up := b.p.AddVariable("variation_up_"+ra.ID, 0, math.Inf(1))
		down := b.p.AddVariable("variation_down_"+ra.ID, 0, math.Inf(1))
		b.vars.setpoint[ra.ID], b.vars.up[ra.ID], b.vars.down[ra.ID] = s, up, down

		pre := b.in.PrePerimeter.Setpoint(ra)
		def := b.p.AddConstraint("variation_"+ra.ID, pre, pre)
		def.SetCoefficient(s, 1)
		def.SetCoefficient(up, -1)
		def.SetCoefficient(down, 1)

		cost := b.params.PenaltyCost(ra)
		b.p.SetObjectiveCoefficient(up, cost)
		b.p.SetObjectiveCoefficient(down, cost)
	}
}

// sensitivity returns the kept sensitivity of a flow to a range action.
func (b *builder) sensitivity(ra *model.RangeAction, cnec *model.FlowCnec, side network.Side) float64 {
	s, err := b.flows.Sensitivity().SensitivityOnFlow(sensitivity.RangeActionVar(ra), cnec, side)
	if err != nil || math.Abs(s) < b.params.SensitivityThreshold(ra) {
		return 0
	}
	return s
}

func (b *builder) usable(cnec *model.FlowCnec) bool {
	return b.flows.StateStatus(cnec.State()) != sensitivity.StatusFailure
}

// addFlows adds one flow variable per CNEC side with
// F = F_ref + sum(s * (S - S_ref)). Reset actions contribute the constant
// s * (S_prev - S_ref).
func (b *builder) addFlows() {
	in := b.in.Objective.Inputs()
	seen := map[string]bool{}
	var cnecs []*model.FlowCnec
	for _, group := range [][]*model.FlowCnec{in.Optimized, in.Monitored, in.LoopFlow} {
		for _, c := range group {
			if !seen[c.ID] && b.usable(c) {
				seen[c.ID] = true
				cnecs = append(cnecs, c)
			}
		}
	}
	for _, cnec := range cnecs {
		for _, side := range cnec.MonitoredSides() {
			ref, err := b.flows.Flow(cnec, side, model.MegaWatt)
			if err != nil {
				continue
			}
			key := flow.Key{Cnec: cnec.ID, Side: side}
			f := b.p.AddVariable(fmt.Sprintf("flow_%s_%d", cnec.ID, side), math.Inf(-1), math.Inf(1))
			b.vars.flow[key] = f

			rhs := ref
			row := b.p.AddConstraint(fmt.Sprintf("flow_%s_%d", cnec.ID, side), 0, 0)
			row.SetCoefficient(f, 1)
			for _, ra := range b.actions {
				s := b.sensitivity(ra, cnec, side)
				if s == 0 {
					continue
				}
				row.SetCoefficient(b.vars.setpoint[ra.ID], -s)
				rhs -= s * b.current.OptimizedSetpoint(ra, b.in.State)
			}
			for _, ra := range b.in.RangeActions {
				prev, ok := b.reset[ra.ID]
				if !ok {
					continue
				}
				rhs += b.sensitivity(ra, cnec, side) * (prev - b.current.OptimizedSetpoint(ra, b.in.State))
			}
			row.Lo, row.Hi = rhs, rhs
		}
	}
}

// addMinMargin adds M <= factor * (max - F) and M <= factor * (F - min) for
// every optimized CNEC side, and minimises -M.
func (b *builder) addMinMargin() {
	params := b.in.Objective.Parameters()
	in := b.in.Objective.Inputs()
	unoptimized := map[string]bool{}
	for _, op := range in.UnoptimizedOperators {
		unoptimized[op] = true
	}

	var rows int
	m := b.p.AddVariable("min_margin", math.Inf(-1), math.Inf(1))
	for _, cnec := range in.Optimized {
		if unoptimized[cnec.Operator] {
			continue
		}
		for _, side := range cnec.MonitoredSides() {
			f, ok := b.vars.flow[flow.Key{Cnec: cnec.ID, Side: side}]
			if !ok {
				continue
			}
			factor := cnec.Convert(1, side, model.MegaWatt, params.Unit)
			if params.Type == objective.MaxMinRelativeMargin {
				if margin, err := b.flows.Margin(cnec, side, params.Unit); err == nil && margin >= 0 {
					factor /= math.Max(b.flows.PtdfZonalSum(cnec, side), params.PtdfSumLowerBound)
				}
			}
			if upper, ok := cnec.UpperBound(side, model.MegaWatt); ok {
				row := b.p.AddConstraint(fmt.Sprintf("min_margin_upper_%s_%d", cnec.ID, side), math.Inf(-1), factor*upper)
				row.SetCoefficient(m, 1)
				row.SetCoefficient(f, factor)
				rows++
			}
			if lower, ok := cnec.LowerBound(side, model.MegaWatt); ok {
				row := b.p.AddConstraint(fmt.Sprintf("min_margin_lower_%s_%d", cnec.ID, side), math.Inf(-1), -factor*lower)
				row.SetCoefficient(m, 1)
				row.SetCoefficient(f, -factor)
				rows++
			}
		}
	}
	if rows == 0 {
		// Nothing bounds M; keep it at zero.
		m.Lo, m.Hi = 0, 0
	}
	b.vars.minMargin = m
	b.p.SetObjectiveCoefficient(m, -1)
}

// addUnoptimizedCnecs keeps the CNECs of operators that do not share their
// remedial actions at or above the lower of their initial and current
// margins.
func (b *builder) addUnoptimizedCnecs() {
	in := b.in.Objective.Inputs()
	if len(in.UnoptimizedOperators) == 0 || in.Initial == nil {
		return
	}
	unoptimized := map[string]bool{}
	for _, op := range in.UnoptimizedOperators {
		unoptimized[op] = true
	}
	for _, cnec := range in.Optimized {
		if !unoptimized[cnec.Operator] {
			continue
		}
		for _, side := range cnec.MonitoredSides() {
			f, ok := b.vars.flow[flow.Key{Cnec: cnec.ID, Side: side}]
			if !ok {
				continue
			}
			initial, err := in.Initial.Margin(cnec, side, model.MegaWatt)
			if err != nil {
				continue
			}
			current, err := b.flows.Margin(cnec, side, model.MegaWatt)
			if err != nil {
				continue
			}
			floor := math.Min(initial, current)
			if upper, ok := cnec.UpperBound(side, model.MegaWatt); ok {
				row := b.p.AddConstraint(fmt.Sprintf("unoptimized_upper_%s_%d", cnec.ID, side), math.Inf(-1), upper-floor)
				row.SetCoefficient(f, 1)
			}
			if lower, ok := cnec.LowerBound(side, model.MegaWatt); ok {
				row := b.p.AddConstraint(fmt.Sprintf("unoptimized_lower_%s_%d", cnec.ID, side), lower+floor, math.Inf(1))
				row.SetCoefficient(f, 1)
			}
		}
	}
}

// addMnecs penalises MNEC margins falling below
// min(0, initialMargin - acceptableDecrease).
func (b *builder) addMnecs() {
	params := b.in.Objective.Parameters()
	in := b.in.Objective.Inputs()
	if params.Mnec == nil || in.Initial == nil {
		return
	}
	for _, cnec := range in.Monitored {
		for _, side := range cnec.MonitoredSides() {
			f, ok := b.vars.flow[flow.Key{Cnec: cnec.ID, Side: side}]
			if !ok {
				continue
			}
			initial, err := in.Initial.Margin(cnec, side, model.MegaWatt)
			if err != nil {
				continue
			}
			limit := math.Min(0, initial-params.Mnec.AcceptableMarginDecrease) - params.Mnec.ConstraintAdjustmentCoefficient
			v := b.p.AddVariable(fmt.Sprintf("mnec_violation_%s_%d", cnec.ID, side), 0, math.Inf(1))
			b.p.SetObjectiveCoefficient(v, params.Mnec.ViolationCost)
			if upper, ok := cnec.UpperBound(side, model.MegaWatt); ok {
				row := b.p.AddConstraint(fmt.Sprintf("mnec_upper_%s_%d", cnec.ID, side), math.Inf(-1), upper-limit)
				row.SetCoefficient(f, 1)
				row.SetCoefficient(v, -1)
			}
			if lower, ok := cnec.LowerBound(side, model.MegaWatt); ok {
				row := b.p.AddConstraint(fmt.Sprintf("mnec_lower_%s_%d", cnec.ID, side), lower+limit, math.Inf(1))
				row.SetCoefficient(f, 1)
				row.SetCoefficient(v, 1)
			}
		}
	}
}

// addLoopFlows penalises loop flows above
// max(threshold, |initial loop flow| + acceptable increase).
func (b *builder) addLoopFlows() {
	params := b.in.Objective.Parameters()
	in := b.in.Objective.Inputs()
	if params.LoopFlow == nil || in.Initial == nil {
		return
	}
	for _, cnec := range in.LoopFlow {
		threshold, ok := cnec.LoopFlowLimit()
		if !ok {
			continue
		}
		for _, side := range cnec.MonitoredSides() {
			f, ok := b.vars.flow[flow.Key{Cnec: cnec.ID, Side: side}]
			if !ok {
				continue
			}
			commercial, err := b.flows.CommercialFlow(cnec, side)
			if err != nil {
				continue
			}
			initial, _ := in.Initial.LoopFlow(cnec, side)
			limit := math.Max(threshold, math.Abs(initial)+params.LoopFlow.AcceptableIncrease) -
				params.LoopFlow.ConstraintAdjustmentCoefficient
			limit = math.Max(0, limit)

			v := b.p.AddVariable(fmt.Sprintf("loop_flow_violation_%s_%d", cnec.ID, side), 0, math.Inf(1))
			b.p.SetObjectiveCoefficient(v, params.LoopFlow.ViolationCost)
			up := b.p.AddConstraint(fmt.Sprintf("loop_flow_upper_%s_%d", cnec.ID, side), math.Inf(-1), commercial+limit)
			up.SetCoefficient(f, 1)
			up.SetCoefficient(v, -1)
			down := b.p.AddConstraint(fmt.Sprintf("loop_flow_lower_%s_%d", cnec.ID, side), commercial-limit, math.Inf(1))
			down.SetCoefficient(f, 1)
			down.SetCoefficient(v, 1)
		}
	}
}

// groups returns the range actions sharing a group id, keyed by group and
// sorted by id.
func groups(actions []*model.RangeAction) map[string][]*model.RangeAction {
	out := map[string][]*model.RangeAction{}
	for _, ra := range actions {
		if ra.GroupID != "" {
			out[ra.GroupID] = append(out[ra.GroupID], ra)
		}
	}
	for _, members := range out {
		sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	}
	return out
}

// addAlignment forces aligned range actions to the same setpoint.
func (b *builder) addAlignment() {
	for id, members := range groups(b.actions) {
		first := b.vars.setpoint[members[0].ID]
		for _, ra := range members[1:] {
			row := b.p.AddConstraint(fmt.Sprintf("alignment_%s_%s", id, ra.ID), 0, 0)
			row.SetCoefficient(first, 1)
			row.SetCoefficient(b.vars.setpoint[ra.ID], -1)
		}
	}
}

// addUsageLimits adds one binary activation variable per range action (or
// group), V+ + V- <= delta * bigM, and the cardinality rows.
func (b *builder) addUsageLimits() {
	lim := b.in.Limits

	type unit struct {
		key     string
		members []*model.RangeAction
	}
	var units []unit
	seen := map[string]bool{}
	for _, ra := range b.actions {
		key := ra.ID
		if ra.GroupID != "" {
			key = "group_" + ra.GroupID
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		members := []*model.RangeAction{ra}
		if ra.GroupID != "" {
			members = groups(b.actions)[ra.GroupID]
		}
		units = append(units, unit{key: key, members: members})
	}

	total := b.p.AddConstraint("max_ra", math.Inf(-1), float64(lim.MaxRa))
	raPerTso := map[string]*Constraint{}
	pstPerTso := map[string]*Constraint{}
	tsoVars := map[string]*Variable{}

	for _, u := range units {
		delta := b.p.AddBinaryVariable("active_" + u.key)
		b.vars.active[u.key] = delta
		total.SetCoefficient(delta, 1)

		for _, ra := range u.members {
			lo, hi := b.bounds(ra)
			pre := b.in.PrePerimeter.Setpoint(ra)
			bigM := math.Max(0, math.Max(hi-pre, pre-lo)) + 1e-6
			row := b.p.AddConstraint("activation_"+ra.ID, math.Inf(-1), 0)
			row.SetCoefficient(b.vars.up[ra.ID], 1)
			row.SetCoefficient(b.vars.down[ra.ID], 1)
			row.SetCoefficient(delta, -bigM)
		}

		tsos := map[string]bool{}
		psts := map[string]bool{}
		for _, ra := range u.members {
			tsos[ra.Operator] = true
			if ra.IsPst() {
				psts[ra.Operator] = true
			}
		}
		for tso := range tsos {
			if max := lim.RaPerTso(tso); max < limits.Unlimited {
				row, ok := raPerTso[tso]
				if !ok {
					row = b.p.AddConstraint("max_ra_per_tso_"+tso, math.Inf(-1), float64(max))
					raPerTso[tso] = row
				}
				row.SetCoefficient(delta, 1)
			}
			if lim.MaxTso < limits.Unlimited && lim.CountsTowardsMaxTso(tso) {
				tv, ok := tsoVars[tso]
				if !ok {
					tv = b.p.AddBinaryVariable("tso_" + tso)
					tsoVars[tso] = tv
				}
				row := b.p.AddConstraint(fmt.Sprintf("tso_link_%s_%s", u.key, tso), math.Inf(-1), 0)
				row.SetCoefficient(delta, 1)
				row.SetCoefficient(tv, -1)
			}
		}
		for tso := range psts {
			if max := lim.PstPerTso(tso); max < limits.Unlimited {
				row, ok := pstPerTso[tso]
				if !ok {
					row = b.p.AddConstraint("max_pst_per_tso_"+tso, math.Inf(-1), float64(max))
					pstPerTso[tso] = row
				}
				row.SetCoefficient(delta, 1)
			}
		}
	}
	if len(tsoVars) > 0 {
		row := b.p.AddConstraint("max_tso", math.Inf(-1), float64(lim.MaxTso))
		for _, tv := range tsoVars {
			row.SetCoefficient(tv, 1)
		}
	}
}

// scores ranks range actions for the pre-filter: the largest
// |sensitivity| * range width over the most limiting CNECs.
func (b *builder) scores() map[string]float64 {
	out := map[string]float64{}
	limiting := b.in.Objective.Evaluate(b.flows).MostLimiting(5)
	for _, ra := range b.in.RangeActions {
		lo, hi := b.bounds(ra)
		for _, cnec := range limiting {
			for _, side := range cnec.MonitoredSides() {
				out[ra.ID] = math.Max(out[ra.ID], math.Abs(b.sensitivity(ra, cnec, side))*(hi-lo))
			}
		}
	}
	return out
}

// solve builds and solves the problem of one iteration and returns the
// continuous setpoints.
func (b *builder) solve(ctx context.Context, solver Solver) (map[string]float64, *Solution, error) {
	p := b.build()
	sol, err := solver.Solve(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	if !sol.Status.Usable() {
		return nil, sol, &LinearOptimizationError{Status: sol.Status}
	}
	out := make(map[string]float64, len(b.actions))
	for _, ra := range b.actions {
		out[ra.ID] = sol.Value(b.vars.setpoint[ra.ID])
	}
	return out, sol, nil
}
