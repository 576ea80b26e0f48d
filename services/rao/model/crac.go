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
	"errors"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianRAO/services/rao/network"
)

// CracSpec is the plain description a Crac is built from.
type CracSpec struct {
	ID             string          `json:"id" yaml:"id" validate:"required"`
	Instants       []Instant       `json:"instants" yaml:"instants" validate:"min=1,dive"`
	Contingencies  []Contingency   `json:"contingencies" yaml:"contingencies" validate:"dive"`
	FlowCnecs      []FlowCnec      `json:"flow_cnecs" yaml:"flow_cnecs" validate:"dive"`
	NetworkActions []NetworkAction `json:"network_actions" yaml:"network_actions" validate:"dive"`
	RangeActions   []RangeAction   `json:"range_actions" yaml:"range_actions" validate:"dive"`
}

// Crac holds contingencies, CNECs and remedial actions bound to one network.
//
// Thread Safety: Read-only after NewCrac, safe for concurrent use.
type Crac struct {
	id string

	instants      []*Instant
	instantByID   map[string]*Instant
	contingencies []*Contingency
	contByID      map[string]*Contingency

	preventive *State
	states     []*State
	stateByID  map[string]*State

	cnecs     []*FlowCnec
	cnecByID  map[string]*FlowCnec
	cnecByKey map[*State][]*FlowCnec

	networkActions []*NetworkAction
	naByID         map[string]*NetworkAction
	rangeActions   []*RangeAction
	raByID         map[string]*RangeAction
}

var validate = validator.New()

// NewCrac validates a CracSpec against a network and builds a Crac.
//
// Description:
//
//	Runs struct validation, then semantic checks: instant order (one
//	preventive first, one outage, autos before curatives), unique ids,
//	every referenced element present in the network, usage rules naming
//	existing instants, contingencies and CNECs. One state is created per
//	contingency and post-outage instant.
//
// Inputs:
//
//	spec - CRAC description.
//	net  - Network the CRAC refers to; its initial variant provides the
//	       initial range action setpoints.
//
// Outputs:
//
//	*Crac - The bound CRAC.
//	error - *ConfigurationError or a validation error wrapping ErrInvalidCrac.
func NewCrac(spec CracSpec, net *network.Network) (*Crac, error) {
	if err := validate.Struct(spec); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("%w: %s failed on %s", ErrInvalidCrac, verrs[0].Namespace(), verrs[0].Tag())
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCrac, err)
	}

	grid := net.Grid()
	initial, err := net.Variant(network.InitialVariantID)
	if err != nil {
		return nil, err
	}

	c := &Crac{
		id:          spec.ID,
		instantByID: map[string]*Instant{},
		contByID:    map[string]*Contingency{},
		stateByID:   map[string]*State{},
		cnecByID:    map[string]*FlowCnec{},
		cnecByKey:   map[*State][]*FlowCnec{},
		naByID:      map[string]*NetworkAction{},
		raByID:      map[string]*RangeAction{},
	}

	if err := c.addInstants(spec.Instants); err != nil {
		return nil, err
	}
	for i := range spec.Contingencies {
		ct := spec.Contingencies[i]
		if _, dup := c.contByID[ct.ID]; dup {
			return nil, &ConfigurationError{Object: ct.ID, Reason: "duplicate contingency"}
		}
		for _, e := range ct.Elements {
			if _, ok := grid.Branch(e); !ok {
				return nil, &ConfigurationError{Object: ct.ID, Reason: "branch " + e + " not in network", Err: ErrUnknownElement}
			}
		}
		c.contingencies = append(c.contingencies, &ct)
		c.contByID[ct.ID] = &ct
	}
	c.buildStates()

	for i := range spec.FlowCnecs {
		if err := c.addCnec(spec.FlowCnecs[i], grid); err != nil {
			return nil, err
		}
	}
	for i := range spec.NetworkActions {
		na := spec.NetworkActions[i]
		na.UsageRules = append([]UsageRule(nil), na.UsageRules...)
		if c.hasRemedialAction(na.ID) {
			return nil, &ConfigurationError{Object: na.ID, Reason: "duplicate remedial action"}
		}
		if err := na.validate(grid); err != nil {
			return nil, err
		}
		if err := c.bindUsageRules(na.ID, na.UsageRules); err != nil {
			return nil, err
		}
		c.networkActions = append(c.networkActions, &na)
		c.naByID[na.ID] = &na
	}
	for i := range spec.RangeActions {
		ra := spec.RangeActions[i]
		ra.UsageRules = append([]UsageRule(nil), ra.UsageRules...)
		if c.hasRemedialAction(ra.ID) {
			return nil, &ConfigurationError{Object: ra.ID, Reason: "duplicate remedial action"}
		}
		if err := ra.bind(grid, initial); err != nil {
			return nil, err
		}
		if err := c.bindUsageRules(ra.ID, ra.UsageRules); err != nil {
			return nil, err
		}
		c.rangeActions = append(c.rangeActions, &ra)
		c.raByID[ra.ID] = &ra
	}
	return c, nil
}

func (c *Crac) addInstants(instants []Instant) error {
	var hasPreventive, hasOutage bool
	lastKind := InstantPreventive
	for i := range instants {
		inst := instants[i]
		if _, dup := c.instantByID[inst.ID]; dup {
			return &ConfigurationError{Object: inst.ID, Reason: "duplicate instant"}
		}
		switch {
		case i == 0 && inst.Kind != InstantPreventive:
			return &ConfigurationError{Object: inst.ID, Reason: "first instant must be preventive"}
		case i > 0 && inst.Kind == InstantPreventive:
			return &ConfigurationError{Object: inst.ID, Reason: "only one preventive instant is allowed"}
		case inst.Kind == InstantOutage && hasOutage:
			return &ConfigurationError{Object: inst.ID, Reason: "only one outage instant is allowed"}
		case inst.Kind == InstantAuto && lastKind == InstantCurative:
			return &ConfigurationError{Object: inst.ID, Reason: "auto instants must precede curative instants"}
		case (inst.Kind == InstantAuto || inst.Kind == InstantCurative) && !hasOutage:
			return &ConfigurationError{Object: inst.ID, Reason: "outage instant must precede auto and curative instants"}
		}
		hasPreventive = hasPreventive || inst.Kind == InstantPreventive
		hasOutage = hasOutage || inst.Kind == InstantOutage
		lastKind = inst.Kind
		inst.Order = i
		c.instants = append(c.instants, &inst)
		c.instantByID[inst.ID] = &inst
	}
	if !hasPreventive {
		return &ConfigurationError{Object: "instants", Reason: "no preventive instant"}
	}
	return nil
}

func (c *Crac) buildStates() {
	c.preventive = &State{Instant: c.instants[0]}
	c.states = append(c.states, c.preventive)
	c.stateByID[c.preventive.ID()] = c.preventive
	for _, ct := range c.contingencies {
		for _, inst := range c.instants[1:] {
			s := &State{Instant: inst, Contingency: ct}
			c.states = append(c.states, s)
			c.stateByID[s.ID()] = s
		}
	}
}

func (c *Crac) addCnec(cnec FlowCnec, grid *network.Grid) error {
	if _, dup := c.cnecByID[cnec.ID]; dup {
		return &ConfigurationError{Object: cnec.ID, Reason: "duplicate cnec"}
	}
	br, ok := grid.Branch(cnec.NetworkElement)
	if !ok {
		return &ConfigurationError{Object: cnec.ID, Reason: "branch " + cnec.NetworkElement + " not in network", Err: ErrUnknownElement}
	}
	state := c.State(cnec.Contingency, cnec.Instant)
	if state == nil {
		return &ConfigurationError{Object: cnec.ID, Reason: fmt.Sprintf("no state for instant %q and contingency %q", cnec.Instant, cnec.Contingency)}
	}
	if cnec.NominalV1 == 0 {
		b, _ := grid.Bus(br.From)
		cnec.NominalV1 = b.NominalKV
	}
	if cnec.NominalV2 == 0 {
		b, _ := grid.Bus(br.To)
		cnec.NominalV2 = b.NominalKV
	}
	for _, t := range cnec.Thresholds {
		if t.Unit == Ampere && cnec.NominalVoltage(t.Side) <= 0 {
			return &ConfigurationError{Object: cnec.ID, Reason: "ampere threshold without nominal voltage"}
		}
		if t.Min == nil && t.Max == nil {
			return &ConfigurationError{Object: cnec.ID, Reason: "threshold without min nor max"}
		}
	}
	cnec.state = state
	cnec.countries = grid.ZoneOfBranch(cnec.NetworkElement)
	p := &cnec
	c.cnecs = append(c.cnecs, p)
	c.cnecByID[cnec.ID] = p
	c.cnecByKey[state] = append(c.cnecByKey[state], p)
	return nil
}

func (c *Crac) bindUsageRules(owner string, rules []UsageRule) error {
	for i := range rules {
		r := &rules[i]
		if _, ok := c.instantByID[r.Instant]; !ok {
			return &ConfigurationError{Object: owner, Reason: "usage rule on unknown instant " + r.Instant}
		}
		if r.Contingency != "" {
			if _, ok := c.contByID[r.Contingency]; !ok {
				return &ConfigurationError{Object: owner, Reason: "usage rule on unknown contingency " + r.Contingency}
			}
		}
		switch r.Kind {
		case OnContingencyState:
			if r.Contingency == "" {
				return &ConfigurationError{Object: owner, Reason: "contingency state usage rule without contingency"}
			}
		case OnFlowConstraintInCountry:
			if r.Country == "" {
				return &ConfigurationError{Object: owner, Reason: "country usage rule without country"}
			}
		case OnConstraint:
			cnec, ok := c.cnecByID[r.Cnec]
			if !ok {
				return &ConfigurationError{Object: owner, Reason: "usage rule on unknown cnec " + r.Cnec}
			}
			r.cnec = cnec
		}
	}
	return nil
}

func (c *Crac) hasRemedialAction(id string) bool {
	_, na := c.naByID[id]
	_, ra := c.raByID[id]
	return na || ra
}

// ID returns the CRAC id.
func (c *Crac) ID() string { return c.id }

// Instants returns the instants in chronological order.
func (c *Crac) Instants() []*Instant { return c.instants }

// Instant returns an instant by id.
func (c *Crac) Instant(id string) *Instant { return c.instantByID[id] }

// PreventiveInstant returns the preventive instant.
func (c *Crac) PreventiveInstant() *Instant { return c.instants[0] }

// InstantsOfKind returns the instants of a kind in chronological order.
func (c *Crac) InstantsOfKind(kind InstantKind) []*Instant {
	var out []*Instant
	for _, i := range c.instants {
		if i.Kind == kind {
			out = append(out, i)
		}
	}
	return out
}

// Contingencies returns the contingencies in declaration order.
func (c *Crac) Contingencies() []*Contingency { return c.contingencies }

// Contingency returns a contingency by id.
func (c *Crac) Contingency(id string) *Contingency { return c.contByID[id] }

// PreventiveState returns the basecase preventive state.
func (c *Crac) PreventiveState() *State { return c.preventive }

// State returns the state of an instant after a contingency, or the
// preventive state when contingencyID is empty and the instant is preventive.
// It returns nil when no such state exists.
func (c *Crac) State(contingencyID, instantID string) *State {
	if contingencyID == "" {
		if c.preventive.Instant.ID == instantID {
			return c.preventive
		}
		return nil
	}
	ct := c.contByID[contingencyID]
	inst := c.instantByID[instantID]
	if ct == nil || inst == nil {
		return nil
	}
	return c.stateByID[(&State{Instant: inst, Contingency: ct}).ID()]
}

// StateByID returns a state by its id.
func (c *Crac) StateByID(id string) *State { return c.stateByID[id] }

// States returns every state: preventive first, then per contingency in
// chronological order.
func (c *Crac) States() []*State { return c.states }

// StatesOfContingency returns the states of a contingency in chronological order.
func (c *Crac) StatesOfContingency(contingencyID string) []*State {
	var out []*State
	for _, s := range c.states {
		if s.ContingencyID() == contingencyID && contingencyID != "" {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Instant.Order < out[j].Instant.Order })
	return out
}

// FlowCnecs returns every CNEC in declaration order.
func (c *Crac) FlowCnecs() []*FlowCnec { return c.cnecs }

// FlowCnec returns a CNEC by id.
func (c *Crac) FlowCnec(id string) *FlowCnec { return c.cnecByID[id] }

// FlowCnecsOfState returns the CNECs of a state.
func (c *Crac) FlowCnecsOfState(s *State) []*FlowCnec { return c.cnecByKey[s] }

// NetworkActions returns every network action in declaration order.
func (c *Crac) NetworkActions() []*NetworkAction { return c.networkActions }

// NetworkAction returns a network action by id.
func (c *Crac) NetworkAction(id string) *NetworkAction { return c.naByID[id] }

// RangeActions returns every range action in declaration order.
func (c *Crac) RangeActions() []*RangeAction { return c.rangeActions }

// RangeAction returns a range action by id.
func (c *Crac) RangeAction(id string) *RangeAction { return c.raByID[id] }

// PotentiallyAvailableNetworkActions returns the network actions whose usage
// rules resolve to AVAILABLE or FORCED in a state, before flow conditions.
func (c *Crac) PotentiallyAvailableNetworkActions(s *State) []*NetworkAction {
	var out []*NetworkAction
	for _, na := range c.networkActions {
		m := ResolveUsageMethod(na.UsageRules, s)
		if m == UsageAvailable || m == UsageForced {
			out = append(out, na)
		}
	}
	return out
}

// PotentiallyAvailableRangeActions returns the range actions whose usage
// rules resolve to AVAILABLE or FORCED in a state, before flow conditions.
func (c *Crac) PotentiallyAvailableRangeActions(s *State) []*RangeAction {
	var out []*RangeAction
	for _, ra := range c.rangeActions {
		m := ResolveUsageMethod(ra.UsageRules, s)
		if m == UsageAvailable || m == UsageForced {
			out = append(out, ra)
		}
	}
	return out
}
