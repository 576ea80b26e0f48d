// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/AleutianAI/AleutianRAO/services/rao/network"
)

// ElementaryActionKind tags the variant of an ElementaryAction.
type ElementaryActionKind string

const (
	TopologyAction          ElementaryActionKind = "TOPOLOGY"
	PstSetpointAction       ElementaryActionKind = "PST_SETPOINT"
	InjectionSetpointAction ElementaryActionKind = "INJECTION_SETPOINT"
	HvdcSetpointAction      ElementaryActionKind = "HVDC_SETPOINT"
	SwitchPairAction        ElementaryActionKind = "SWITCH_PAIR"
)

// ActionType is the effect of a topological action.
type ActionType string

const (
	ActionOpen  ActionType = "OPEN"
	ActionClose ActionType = "CLOSE"
)

// ElementaryAction is one atomic modification of the network.
//
//	TOPOLOGY           Element, Action
//	PST_SETPOINT       Element, Tap
//	INJECTION_SETPOINT Element, Setpoint (MW)
//	HVDC_SETPOINT      Element, Setpoint (MW)
//	SWITCH_PAIR        SwitchToOpen, SwitchToClose
type ElementaryAction struct {
	Kind          ElementaryActionKind `json:"kind" yaml:"kind" validate:"oneof=TOPOLOGY PST_SETPOINT INJECTION_SETPOINT HVDC_SETPOINT SWITCH_PAIR"`
	Element       string               `json:"element,omitempty" yaml:"element,omitempty"`
	Action        ActionType           `json:"action,omitempty" yaml:"action,omitempty"`
	Tap           int                  `json:"tap,omitempty" yaml:"tap,omitempty"`
	Setpoint      float64              `json:"setpoint,omitempty" yaml:"setpoint,omitempty"`
	SwitchToOpen  string               `json:"switch_to_open,omitempty" yaml:"switch_to_open,omitempty"`
	SwitchToClose string               `json:"switch_to_close,omitempty" yaml:"switch_to_close,omitempty"`
}

// effects maps every touched element to a canonical description of what
// happens to it.
func (e ElementaryAction) effects() map[string]string {
	switch e.Kind {
	case TopologyAction:
		return map[string]string{e.Element: string(e.Action)}
	case PstSetpointAction:
		return map[string]string{e.Element: "tap:" + strconv.Itoa(e.Tap)}
	case InjectionSetpointAction, HvdcSetpointAction:
		return map[string]string{e.Element: "p:" + strconv.FormatFloat(e.Setpoint, 'g', -1, 64)}
	case SwitchPairAction:
		return map[string]string{
			e.SwitchToOpen:  string(ActionOpen),
			e.SwitchToClose: string(ActionClose),
		}
	}
	return nil
}

// NetworkElements returns the ids of the touched elements.
func (e ElementaryAction) NetworkElements() []string {
	var ids []string
	for id := range e.effects() {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CompatibleWith reports whether both actions can be applied together: when
// they touch a common element they must have the same effect on it.
func (e ElementaryAction) CompatibleWith(other ElementaryAction) bool {
	mine := e.effects()
	for id, effect := range other.effects() {
		if m, ok := mine[id]; ok && m != effect {
			return false
		}
	}
	return true
}

// CanBeApplied reports whether every touched element exists with a valid value.
func (e ElementaryAction) CanBeApplied(v *network.Variant) bool {
	g := v.Grid()
	switch e.Kind {
	case TopologyAction:
		_, ok := g.Branch(e.Element)
		return ok && (e.Action == ActionOpen || e.Action == ActionClose)
	case PstSetpointAction:
		pst, ok := g.Pst(e.Element)
		if !ok {
			return false
		}
		_, ok = pst.TapToAngle[e.Tap]
		return ok
	case InjectionSetpointAction:
		_, ok := g.Injection(e.Element)
		return ok
	case HvdcSetpointAction:
		_, ok := g.Hvdc(e.Element)
		return ok
	case SwitchPairAction:
		_, okOpen := g.Branch(e.SwitchToOpen)
		_, okClose := g.Branch(e.SwitchToClose)
		return okOpen && okClose
	}
	return false
}

// Apply modifies an exclusively owned variant. The boolean is false when the
// action was already in effect.
func (e ElementaryAction) Apply(v *network.Variant) (bool, error) {
	switch e.Kind {
	case TopologyAction:
		return v.SetOpen(e.Element, e.Action == ActionOpen)
	case PstSetpointAction:
		return v.SetTap(e.Element, e.Tap)
	case InjectionSetpointAction:
		return v.SetInjectionP(e.Element, e.Setpoint)
	case HvdcSetpointAction:
		return v.SetHvdcSetpoint(e.Element, e.Setpoint)
	case SwitchPairAction:
		opened, err := v.SetOpen(e.SwitchToOpen, true)
		if err != nil {
			return false, err
		}
		closed, err := v.SetOpen(e.SwitchToClose, false)
		if err != nil {
			return false, err
		}
		return opened || closed, nil
	}
	return false, fmt.Errorf("unknown elementary action kind %q", e.Kind)
}

// NetworkAction is a discrete remedial action: a set of elementary actions
// applied atomically.
type NetworkAction struct {
	ID         string             `json:"id" yaml:"id" validate:"required"`
	Name       string             `json:"name,omitempty" yaml:"name,omitempty"`
	Operator   string             `json:"operator,omitempty" yaml:"operator,omitempty"`
	UsageRules []UsageRule        `json:"usage_rules" yaml:"usage_rules" validate:"dive"`
	Elementary []ElementaryAction `json:"elementary_actions" yaml:"elementary_actions" validate:"min=1,dive"`
}

// NetworkElements returns every element touched by the action, sorted.
func (na *NetworkAction) NetworkElements() []string {
	seen := map[string]bool{}
	var ids []string
	for _, e := range na.Elementary {
		for _, id := range e.NetworkElements() {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// CompatibleWith reports whether two network actions can be combined.
func (na *NetworkAction) CompatibleWith(other *NetworkAction) bool {
	for _, a := range na.Elementary {
		for _, b := range other.Elementary {
			if !a.CompatibleWith(b) {
				return false
			}
		}
	}
	return true
}

// CanBeApplied reports whether every elementary action can be applied.
func (na *NetworkAction) CanBeApplied(v *network.Variant) bool {
	for _, e := range na.Elementary {
		if !e.CanBeApplied(v) {
			return false
		}
	}
	return true
}

// Apply applies every elementary action on an exclusively owned variant.
//
// Outputs:
//
//	bool  - True if at least one elementary action changed the variant.
//	error - ErrUnknownElement if one of them cannot be applied; the variant
//	        is left untouched in that case.
func (na *NetworkAction) Apply(v *network.Variant) (bool, error) {
	if !na.CanBeApplied(v) {
		return false, fmt.Errorf("%w: network action %s cannot be applied", ErrUnknownElement, na.ID)
	}
	changed := false
	for _, e := range na.Elementary {
		c, err := e.Apply(v)
		if err != nil {
			return changed, fmt.Errorf("applying network action %s: %w", na.ID, err)
		}
		changed = changed || c
	}
	return changed, nil
}

// validate checks the action against itself and the grid.
func (na *NetworkAction) validate(grid *network.Grid) error {
	for i := range na.Elementary {
		for j := i + 1; j < len(na.Elementary); j++ {
			if !na.Elementary[i].CompatibleWith(na.Elementary[j]) {
				return &ConfigurationError{Object: na.ID, Reason: "conflicting elementary actions", Err: ErrIncompatibleActions}
			}
		}
	}
	for _, e := range na.Elementary {
		for _, id := range e.NetworkElements() {
			if !grid.HasElement(id) {
				return &ConfigurationError{Object: na.ID, Reason: "element " + id + " not in network", Err: ErrUnknownElement}
			}
		}
		if e.Kind == PstSetpointAction {
			pst, ok := grid.Pst(e.Element)
			if !ok {
				return &ConfigurationError{Object: na.ID, Reason: "element " + e.Element + " is not a pst", Err: ErrUnknownElement}
			}
			if _, ok := pst.TapToAngle[e.Tap]; !ok {
				return &ConfigurationError{Object: na.ID, Reason: fmt.Sprintf("tap %d not in pst table", e.Tap)}
			}
		}
		if e.Kind == TopologyAction && e.Action != ActionOpen && e.Action != ActionClose {
			return &ConfigurationError{Object: na.ID, Reason: "topological action must be OPEN or CLOSE"}
		}
	}
	return nil
}
