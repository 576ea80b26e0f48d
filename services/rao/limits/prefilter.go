// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package limits

import (
	"sort"

	"github.com/AleutianAI/AleutianRAO/services/rao/model"
)

// PreFilter keeps the range actions a solver without integer variables may
// move, so that cardinality limits hold whatever the solution.
//
// Description:
//
//	Candidates already activated come first, so that what the state already
//	uses is counted before anything new. The rest are ranked by decreasing
//	score (ties by id). Candidates are accepted greedily while MaxRa, MaxTso, MaxRaPerTso and MaxPstPerTso still allow
//	them. Range actions sharing a group id are accepted or rejected together
//	and count as one. This is an approximation: the best feasible subset may
//	be missed when a high-scoring action blocks two smaller ones.
//
// Inputs:
//
//	actions - Candidate range actions.
//	limits  - Limits of the state, already reduced by applied network actions.
//	score   - Expected benefit of moving each action, keyed by id. Missing
//	          ids score zero.
//	active  - Ids of the actions whose setpoint already differs from their
//	          previous one. May be nil.
//
// Outputs:
//
//	[]*model.RangeAction - The kept actions, in the order of the input.
func PreFilter(actions []*model.RangeAction, limits StateLimits, score map[string]float64, active map[string]bool) []*model.RangeAction {
	if !limits.AreRangeActionsLimited() {
		return actions
	}

	type unit struct {
		key     string
		members []*model.RangeAction
		score   float64
		active  bool
	}
	byKey := map[string]*unit{}
	var units []*unit
	for _, ra := range actions {
		key := ra.ID
		if ra.GroupID != "" {
			key = "group:" + ra.GroupID
		}
		u, ok := byKey[key]
		if !ok {
			u = &unit{key: key}
			byKey[key] = u
			units = append(units, u)
		}
		u.members = append(u.members, ra)
		u.score = max(u.score, score[ra.ID])
		u.active = u.active || active[ra.ID]
	}
	sort.SliceStable(units, func(i, j int) bool {
		if units[i].active != units[j].active {
			return units[i].active
		}
		if units[i].score != units[j].score {
			return units[i].score > units[j].score
		}
		return units[i].key < units[j].key
	})

	count := 0
	tsos := map[string]bool{}
	raPerTso := map[string]int{}
	pstPerTso := map[string]int{}
	kept := map[string]bool{}

	for _, u := range units {
		if count+1 > limits.MaxRa {
			break
		}
		newTsos := map[string]bool{}
		ra, pst := map[string]int{}, map[string]int{}
		for _, m := range u.members {
			if limits.CountsTowardsMaxTso(m.Operator) && !tsos[m.Operator] {
				newTsos[m.Operator] = true
			}
			ra[m.Operator] = 1
			if m.IsPst() {
				pst[m.Operator] = 1
			}
		}
		if len(tsos)+len(newTsos) > limits.MaxTso {
			continue
		}
		fits := true
		for tso, n := range ra {
			if raPerTso[tso]+n > limits.RaPerTso(tso) {
				fits = false
			}
		}
		for tso, n := range pst {
			if pstPerTso[tso]+n > limits.PstPerTso(tso) {
				fits = false
			}
		}
		if !fits {
			continue
		}

		count++
		for tso := range newTsos {
			tsos[tso] = true
		}
		for tso, n := range ra {
			raPerTso[tso] += n
		}
		for tso, n := range pst {
			pstPerTso[tso] += n
		}
		for _, m := range u.members {
			kept[m.ID] = true
		}
	}

	out := make([]*model.RangeAction, 0, len(kept))
	for _, ra := range actions {
		if kept[ra.ID] {
			out = append(out, ra)
		}
	}
	return out
}
