// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model holds the optimisation data model: instants, contingencies,
// network states, flow CNECs, remedial actions with their usage rules, and the
// CRAC container tying them together.
//
// Every object is created while building a Crac and is read-only afterwards,
// so a Crac can be shared between concurrent optimisations.
package model

import (
	"fmt"

	"github.com/AleutianAI/AleutianRAO/services/rao/network"
)

// InstantKind is the kind of an instant.
type InstantKind string

const (
	InstantPreventive InstantKind = "PREVENTIVE"
	InstantOutage     InstantKind = "OUTAGE"
	InstantAuto       InstantKind = "AUTO"
	InstantCurative   InstantKind = "CURATIVE"
)

// Instant is a moment of the operational timeline. Instants are totally
// ordered by Order, which the Crac assigns in declaration order.
type Instant struct {
	ID    string      `json:"id" yaml:"id" validate:"required"`
	Kind  InstantKind `json:"kind" yaml:"kind" validate:"oneof=PREVENTIVE OUTAGE AUTO CURATIVE"`
	Order int         `json:"order" yaml:"-"`
}

// IsPreventive reports whether the instant is the preventive one.
func (i *Instant) IsPreventive() bool { return i.Kind == InstantPreventive }

// IsOutage reports whether the instant is the outage one.
func (i *Instant) IsOutage() bool { return i.Kind == InstantOutage }

// IsAuto reports whether the instant is an automaton instant.
func (i *Instant) IsAuto() bool { return i.Kind == InstantAuto }

// IsCurative reports whether the instant is a curative instant.
func (i *Instant) IsCurative() bool { return i.Kind == InstantCurative }

// ComesBefore reports whether i strictly precedes other.
func (i *Instant) ComesBefore(other *Instant) bool { return i.Order < other.Order }

// Contingency is a set of branches lost simultaneously.
type Contingency struct {
	ID       string   `json:"id" yaml:"id" validate:"required"`
	Name     string   `json:"name,omitempty" yaml:"name,omitempty"`
	Elements []string `json:"elements" yaml:"elements" validate:"min=1,dive,required"`
}

// Apply disconnects the contingency elements on an exclusively owned variant.
func (c *Contingency) Apply(v *network.Variant) error {
	for _, element := range c.Elements {
		if _, err := v.SetOpen(element, true); err != nil {
			return fmt.Errorf("applying contingency %s: %w", c.ID, err)
		}
	}
	return nil
}

// State is a point of the instant x contingency space. The preventive state
// has no contingency.
type State struct {
	Instant     *Instant
	Contingency *Contingency
}

// ID returns the instant id for the preventive state and
// "<contingency> - <instant>" otherwise.
func (s *State) ID() string {
	if s.Contingency == nil {
		return s.Instant.ID
	}
	return s.Contingency.ID + " - " + s.Instant.ID
}

// String implements fmt.Stringer.
func (s *State) String() string { return s.ID() }

// IsPreventive reports whether the state is the basecase preventive state.
func (s *State) IsPreventive() bool { return s.Contingency == nil }

// ContingencyID returns the contingency id, empty for the preventive state.
func (s *State) ContingencyID() string {
	if s.Contingency == nil {
		return ""
	}
	return s.Contingency.ID
}

// Before reports whether s precedes other on the same timeline. The
// preventive state precedes every other state.
func (s *State) Before(other *State) bool {
	if s.IsPreventive() {
		return !other.IsPreventive()
	}
	return s.ContingencyID() == other.ContingencyID() && s.Instant.ComesBefore(other.Instant)
}
