// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package perimeter

import (
	"fmt"
	"math"

	"github.com/AleutianAI/AleutianRAO/services/rao/flow"
	"github.com/AleutianAI/AleutianRAO/services/rao/model"
	"github.com/AleutianAI/AleutianRAO/services/rao/objective"
)

// OptimizationPerimeter is what one search tree optimizes: a main state
// whose remedial actions are chosen, plus the states it monitors.
type OptimizationPerimeter struct {
	MainState       *model.State
	MonitoredStates []*model.State

	// FlowCnecs are the CNECs of the main and monitored states.
	FlowCnecs []*model.FlowCnec

	// Optimized, Monitored and LoopFlow split FlowCnecs by role.
	Optimized []*model.FlowCnec
	Monitored []*model.FlowCnec
	LoopFlow  []*model.FlowCnec

	// NetworkActions are available in the main state and not forced.
	NetworkActions []*model.NetworkAction

	// ForcedNetworkActions are applied before any search.
	ForcedNetworkActions []*model.NetworkAction

	// RangeActions are available in the main state.
	RangeActions []*model.RangeAction
}

// Options selects the CNEC roles of a perimeter.
type Options struct {
	// LoopFlowCountries restricts loop-flow CNECs; empty means all.
	LoopFlowCountries []string

	// WithLoopFlows and WithMnecs enable the matching CNEC roles.
	WithLoopFlows bool
	WithMnecs     bool
}

// OptionsFor derives perimeter options from objective parameters.
func OptionsFor(params objective.Parameters) Options {
	o := Options{WithMnecs: params.Mnec != nil}
	if params.LoopFlow != nil {
		o.WithLoopFlows = true
		o.LoopFlowCountries = params.LoopFlow.Countries
	}
	return o
}

// States returns the main state followed by the monitored states.
func (p *OptimizationPerimeter) States() []*model.State {
	return append([]*model.State{p.MainState}, p.MonitoredStates...)
}

// New builds the perimeter of a main state.
//
// Description:
//
//	Usage rules are resolved against the flows the perimeter starts from:
//	flow-conditioned rules only grant an action when the constraining CNEC
//	has a negative margin in flows. Range actions whose admissible range is
//	empty are configuration errors.
//
// Inputs:
//   - crac: The CRAC.
//   - main: State whose remedial actions are optimized.
//   - monitored: Other states whose CNECs are watched.
//   - flows: Flows before the perimeter. Nil disables flow-conditioned rules.
//   - opts: CNEC roles.
//
// Outputs:
//   - *OptimizationPerimeter: The perimeter.
//   - error: *model.ConfigurationError on malformed range actions.
func New(crac *model.Crac, main *model.State, monitored []*model.State, flows *flow.Result, opts Options) (*OptimizationPerimeter, error) {
	p := &OptimizationPerimeter{MainState: main, MonitoredStates: monitored}
	for _, s := range p.States() {
		p.FlowCnecs = append(p.FlowCnecs, crac.FlowCnecsOfState(s)...)
	}
	for _, c := range p.FlowCnecs {
		if c.Optimized {
			p.Optimized = append(p.Optimized, c)
		}
		if c.Monitored && opts.WithMnecs {
			p.Monitored = append(p.Monitored, c)
		}
	}
	if opts.WithLoopFlows {
		p.LoopFlow = objective.LoopFlowCnecs(p.FlowCnecs, opts.LoopFlowCountries)
	}

	var margin model.MarginLookup
	if flows != nil {
		margin = func(c *model.FlowCnec) float64 {
			m, err := flows.MinMargin(c, model.MegaWatt)
			if err != nil {
				return math.Inf(1)
			}
			return m
		}
	}
	conditionCnecs := crac.FlowCnecs()

	for _, na := range crac.PotentiallyAvailableNetworkActions(main) {
		switch {
		case model.IsForced(na.UsageRules, main):
			p.ForcedNetworkActions = append(p.ForcedNetworkActions, na)
		case model.IsAvailable(na.UsageRules, main, conditionCnecs, margin):
			p.NetworkActions = append(p.NetworkActions, na)
		}
	}
	for _, ra := range crac.PotentiallyAvailableRangeActions(main) {
		if !model.IsAvailable(ra.UsageRules, main, conditionCnecs, margin) {
			continue
		}
		initial := ra.InitialSetpoint()
		if lo, hi := ra.MinAdmissibleSetpoint(initial), ra.MaxAdmissibleSetpoint(initial); lo > hi {
			return nil, &model.ConfigurationError{
				Object: ra.ID,
				Reason: fmt.Sprintf("empty admissible range [%g, %g] in state %s", lo, hi, main.ID()),
			}
		}
		p.RangeActions = append(p.RangeActions, ra)
	}
	return p, nil
}

// Preventive builds the basecase perimeter of a state tree.
func Preventive(crac *model.Crac, tree *StateTree, flows *flow.Result, opts Options) (*OptimizationPerimeter, error) {
	basecase := tree.Basecase()
	return New(crac, basecase[0], basecase[1:], flows, opts)
}

// ForScenarioState builds the perimeter of an optimized state of a
// contingency scenario.
func ForScenarioState(crac *model.Crac, sc *ContingencyScenario, state *model.State, flows *flow.Result, opts Options) (*OptimizationPerimeter, error) {
	return New(crac, state, sc.MonitoredStates(state), flows, opts)
}

// Everything builds a preventive perimeter monitoring every state of the
// CRAC, used by the second preventive optimization.
func Everything(crac *model.Crac, flows *flow.Result, opts Options) (*OptimizationPerimeter, error) {
	var others []*model.State
	for _, s := range crac.States() {
		if !s.IsPreventive() {
			others = append(others, s)
		}
	}
	return New(crac, crac.PreventiveState(), others, flows, opts)
}
