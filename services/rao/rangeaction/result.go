// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rangeaction tracks range action setpoints per state.
package rangeaction

import (
	"fmt"
	"math"
	"sort"

	"github.com/AleutianAI/AleutianRAO/services/rao/model"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
)

// Epsilon is the smallest setpoint change considered an activation.
const Epsilon = 1e-6

// SetpointResult holds the setpoints of range actions before an
// optimisation perimeter. Immutable.
type SetpointResult struct {
	actions   []*model.RangeAction
	setpoints map[string]float64
}

// NewSetpointResult reads the current setpoints of range actions on a
// variant.
func NewSetpointResult(v *network.Variant, actions []*model.RangeAction) (*SetpointResult, error) {
	s := &SetpointResult{setpoints: make(map[string]float64, len(actions))}
	for _, ra := range actions {
		sp, err := ra.CurrentSetpoint(v)
		if err != nil {
			return nil, fmt.Errorf("reading setpoint of %s: %w", ra.ID, err)
		}
		s.actions = append(s.actions, ra)
		s.setpoints[ra.ID] = sp
	}
	return s, nil
}

// RangeActions returns the range actions of the result.
func (s *SetpointResult) RangeActions() []*model.RangeAction { return s.actions }

// Setpoint returns the setpoint of a range action, or its initial setpoint
// when the result does not know it.
func (s *SetpointResult) Setpoint(ra *model.RangeAction) float64 {
	if v, ok := s.setpoints[ra.ID]; ok {
		return v
	}
	return ra.InitialSetpoint()
}

// Tap returns the tap of a PST range action.
func (s *SetpointResult) Tap(ra *model.RangeAction) (int, error) {
	if !ra.IsPst() {
		return 0, model.ErrNotPst
	}
	return ra.AngleToTap(s.Setpoint(ra)), nil
}

// ActivationResult maps (range action, state) to an optimized setpoint.
//
// Description:
//
//	A setpoint never set on a state is inherited from the latest earlier
//	state of the same contingency that has one, then from the preventive
//	state, then from the pre-perimeter setpoints. Setting a setpoint only
//	overrides that entry.
//
// Thread Safety: Not safe for concurrent mutation. Clone before sharing.
type ActivationResult struct {
	pre       *SetpointResult
	setpoints map[string]map[*model.State]float64
	actions   map[string]*model.RangeAction
}

// NewActivationResult creates an empty result on top of pre-perimeter
// setpoints.
func NewActivationResult(pre *SetpointResult) *ActivationResult {
	a := &ActivationResult{
		pre:       pre,
		setpoints: map[string]map[*model.State]float64{},
		actions:   map[string]*model.RangeAction{},
	}
	return a
}

// PrePerimeter returns the pre-perimeter setpoints.
func (a *ActivationResult) PrePerimeter() *SetpointResult { return a.pre }

// SetOptimizedSetpoint sets the setpoint of a range action on a state.
func (a *ActivationResult) SetOptimizedSetpoint(ra *model.RangeAction, state *model.State, setpoint float64) {
	m, ok := a.setpoints[ra.ID]
	if !ok {
		m = map[*model.State]float64{}
		a.setpoints[ra.ID] = m
		a.actions[ra.ID] = ra
	}
	m[state] = setpoint
}

// OptimizedSetpoint returns the setpoint of a range action on a state.
func (a *ActivationResult) OptimizedSetpoint(ra *model.RangeAction, state *model.State) float64 {
	if v, ok := a.setpoints[ra.ID][state]; ok {
		return v
	}
	return a.PreviousSetpoint(ra, state)
}

// PreviousSetpoint returns the setpoint a range action has just before a
// state: the value of the latest earlier state that set it, else the
// pre-perimeter value.
func (a *ActivationResult) PreviousSetpoint(ra *model.RangeAction, state *model.State) float64 {
	var best *model.State
	for s := range a.setpoints[ra.ID] {
		if !s.Before(state) {
			continue
		}
		if best == nil || best.Instant.ComesBefore(s.Instant) {
			best = s
		}
	}
	if best != nil {
		return a.setpoints[ra.ID][best]
	}
	return a.pre.Setpoint(ra)
}

// OptimizedTap returns the tap closest to the optimized angle of a PST
// range action. Ties go to the smaller absolute tap.
func (a *ActivationResult) OptimizedTap(ra *model.RangeAction, state *model.State) (int, error) {
	if !ra.IsPst() {
		return 0, model.ErrNotPst
	}
	return ra.AngleToTap(a.OptimizedSetpoint(ra, state)), nil
}

// IsSet reports whether a setpoint was set on exactly this state.
func (a *ActivationResult) IsSet(ra *model.RangeAction, state *model.State) bool {
	_, ok := a.setpoints[ra.ID][state]
	return ok
}

// ActivatedRangeActions returns the range actions whose setpoint on a state
// differs from their previous setpoint, sorted by id.
func (a *ActivationResult) ActivatedRangeActions(state *model.State) []*model.RangeAction {
	var out []*model.RangeAction
	for id, m := range a.setpoints {
		v, ok := m[state]
		if !ok {
			continue
		}
		ra := a.actions[id]
		if math.Abs(v-a.PreviousSetpoint(ra, state)) > Epsilon {
			out = append(out, ra)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RangeActionsOnState returns the range actions with a setpoint set on a
// state, sorted by id.
func (a *ActivationResult) RangeActionsOnState(state *model.State) []*model.RangeAction {
	var out []*model.RangeAction
	for id, m := range a.setpoints {
		if _, ok := m[state]; ok {
			out = append(out, a.actions[id])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Overlay copies every entry of other into a, overriding existing ones.
func (a *ActivationResult) Overlay(other *ActivationResult) {
	for id, m := range other.setpoints {
		ra := other.actions[id]
		for s, v := range m {
			a.SetOptimizedSetpoint(ra, s, v)
		}
	}
}

// Clone returns an independent copy.
func (a *ActivationResult) Clone() *ActivationResult {
	c := NewActivationResult(a.pre)
	c.Overlay(a)
	return c
}

// Apply sets every range action set on a state to its optimized setpoint on
// an exclusively owned variant.
func (a *ActivationResult) Apply(v *network.Variant, state *model.State) error {
	for _, ra := range a.RangeActionsOnState(state) {
		if err := ra.Apply(v, a.OptimizedSetpoint(ra, state)); err != nil {
			return err
		}
	}
	return nil
}

// Equal reports whether two results give the same setpoints, within
// Epsilon, to the given range actions on a state.
func (a *ActivationResult) Equal(other *ActivationResult, actions []*model.RangeAction, state *model.State) bool {
	for _, ra := range actions {
		if math.Abs(a.OptimizedSetpoint(ra, state)-other.OptimizedSetpoint(ra, state)) > Epsilon {
			return false
		}
	}
	return true
}
