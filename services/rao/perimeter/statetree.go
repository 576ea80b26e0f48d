// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package perimeter splits the states of a CRAC into optimization
// perimeters: the basecase perimeter optimized by the preventive search tree
// and one scenario per contingency with automatic or curative actions.
package perimeter

import (
	"github.com/AleutianAI/AleutianRAO/services/rao/model"
)

// ContingencyScenario groups the optimized states of one contingency.
type ContingencyScenario struct {
	Contingency *model.Contingency

	// Auto is the automaton state, nil when no automatic action applies.
	Auto *model.State

	// Curative are the curative states with remedial actions, in
	// chronological order.
	Curative []*model.State

	// followers maps an optimized state to the later states without
	// remedial actions whose CNECs it monitors.
	followers map[*model.State][]*model.State
}

// States returns every optimized state of the scenario in chronological
// order.
func (s *ContingencyScenario) States() []*model.State {
	var out []*model.State
	if s.Auto != nil {
		out = append(out, s.Auto)
	}
	return append(out, s.Curative...)
}

// MonitoredStates returns the states without remedial actions that follow
// an optimized state of the scenario.
func (s *ContingencyScenario) MonitoredStates(state *model.State) []*model.State {
	return s.followers[state]
}

// StateTree is the split of every CRAC state into perimeters.
//
// Description:
//
//	The basecase perimeter holds the preventive state, every outage state
//	and every state reached before the first state with remedial actions of
//	its contingency. Later states without remedial actions are monitored by
//	the latest optimized state before them.
//
// Thread Safety: Immutable after NewStateTree.
type StateTree struct {
	basecase  []*model.State
	scenarios []*ContingencyScenario
}

// NewStateTree builds the state tree of a CRAC.
func NewStateTree(crac *model.Crac) *StateTree {
	t := &StateTree{basecase: []*model.State{crac.PreventiveState()}}
	for _, ct := range crac.Contingencies() {
		sc := &ContingencyScenario{Contingency: ct, followers: map[*model.State][]*model.State{}}
		var last *model.State
		for _, s := range crac.StatesOfContingency(ct.ID) {
			optimized := !s.Instant.IsOutage() && hasRemedialActions(crac, s)
			switch {
			case optimized && s.Instant.IsAuto():
				sc.Auto = s
				last = s
			case optimized:
				sc.Curative = append(sc.Curative, s)
				last = s
			case last == nil:
				t.basecase = append(t.basecase, s)
			default:
				sc.followers[last] = append(sc.followers[last], s)
			}
		}
		if last != nil {
			t.scenarios = append(t.scenarios, sc)
		}
	}
	return t
}

func hasRemedialActions(crac *model.Crac, s *model.State) bool {
	return len(crac.PotentiallyAvailableNetworkActions(s)) > 0 ||
		len(crac.PotentiallyAvailableRangeActions(s)) > 0
}

// Basecase returns the states of the preventive perimeter, preventive
// first.
func (t *StateTree) Basecase() []*model.State { return t.basecase }

// Scenarios returns the contingency scenarios in contingency order.
func (t *StateTree) Scenarios() []*ContingencyScenario { return t.scenarios }

// Scenario returns the scenario of a contingency, or nil.
func (t *StateTree) Scenario(contingencyID string) *ContingencyScenario {
	for _, sc := range t.scenarios {
		if sc.Contingency.ID == contingencyID {
			return sc
		}
	}
	return nil
}
