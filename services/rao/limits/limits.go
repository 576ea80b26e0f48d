// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package limits holds the usage limits of remedial actions per state and
// the parameters of the search tree.
//
// Limits are configured per instant. A limit that is not configured is
// Unlimited. Both network actions and range actions count towards MaxRa,
// MaxTso and MaxRaPerTso; MaxTopoPerTso only counts network actions and
// MaxPstPerTso only PST range actions.
package limits

import (
	"math"
	"sort"

	"github.com/AleutianAI/AleutianRAO/services/rao/model"
)

// Unlimited is returned for limits that are not configured.
const Unlimited = math.MaxInt32

// UsageLimits are the limits of one instant as configured.
type UsageLimits struct {
	MaxRa                      *int           `json:"max_ra,omitempty" yaml:"max_ra,omitempty" validate:"omitempty,gte=0"`
	MaxTso                     *int           `json:"max_tso,omitempty" yaml:"max_tso,omitempty" validate:"omitempty,gte=0"`
	MaxTsoExclusion            []string       `json:"max_tso_exclusion,omitempty" yaml:"max_tso_exclusion,omitempty"`
	MaxTopoPerTso              map[string]int `json:"max_topo_per_tso,omitempty" yaml:"max_topo_per_tso,omitempty" validate:"dive,gte=0"`
	MaxPstPerTso               map[string]int `json:"max_pst_per_tso,omitempty" yaml:"max_pst_per_tso,omitempty" validate:"dive,gte=0"`
	MaxRaPerTso                map[string]int `json:"max_ra_per_tso,omitempty" yaml:"max_ra_per_tso,omitempty" validate:"dive,gte=0"`
	MaxElementaryActionsPerTso map[string]int `json:"max_elementary_actions_per_tso,omitempty" yaml:"max_elementary_actions_per_tso,omitempty" validate:"dive,gte=0"`
}

// StateLimits are the resolved limits of one state.
//
// Thread Safety: Value type. Safe to copy and share once built.
type StateLimits struct {
	MaxRa                      int
	MaxTso                     int
	MaxTsoExclusion            map[string]bool
	MaxTopoPerTso              map[string]int
	MaxPstPerTso               map[string]int
	MaxRaPerTso                map[string]int
	MaxElementaryActionsPerTso map[string]int
}

// NoLimits returns limits that constrain nothing.
func NoLimits() StateLimits {
	return StateLimits{
		MaxRa:                      Unlimited,
		MaxTso:                     Unlimited,
		MaxTsoExclusion:            map[string]bool{},
		MaxTopoPerTso:              map[string]int{},
		MaxPstPerTso:               map[string]int{},
		MaxRaPerTso:                map[string]int{},
		MaxElementaryActionsPerTso: map[string]int{},
	}
}

// Resolve turns configured limits into state limits.
func (u UsageLimits) Resolve() StateLimits {
	s := NoLimits()
	if u.MaxRa != nil {
		s.MaxRa = *u.MaxRa
	}
	if u.MaxTso != nil {
		s.MaxTso = *u.MaxTso
	}
	for _, tso := range u.MaxTsoExclusion {
		s.MaxTsoExclusion[tso] = true
	}
	copyInto(s.MaxTopoPerTso, u.MaxTopoPerTso)
	copyInto(s.MaxPstPerTso, u.MaxPstPerTso)
	copyInto(s.MaxRaPerTso, u.MaxRaPerTso)
	copyInto(s.MaxElementaryActionsPerTso, u.MaxElementaryActionsPerTso)
	return s
}

func copyInto(dst, src map[string]int) {
	for k, v := range src {
		dst[k] = v
	}
}

func perTso(m map[string]int, tso string) int {
	if v, ok := m[tso]; ok {
		return v
	}
	return Unlimited
}

// TopoPerTso returns the network action limit of an operator.
func (s StateLimits) TopoPerTso(tso string) int { return perTso(s.MaxTopoPerTso, tso) }

// PstPerTso returns the PST limit of an operator.
func (s StateLimits) PstPerTso(tso string) int { return perTso(s.MaxPstPerTso, tso) }

// RaPerTso returns the remedial action limit of an operator.
func (s StateLimits) RaPerTso(tso string) int { return perTso(s.MaxRaPerTso, tso) }

// ElementaryActionsPerTso returns the elementary action limit of an operator.
func (s StateLimits) ElementaryActionsPerTso(tso string) int {
	return perTso(s.MaxElementaryActionsPerTso, tso)
}

// CountsTowardsMaxTso reports whether an operator counts in MaxTso.
func (s StateLimits) CountsTowardsMaxTso(tso string) bool {
	return tso != "" && !s.MaxTsoExclusion[tso]
}

// AreRangeActionsLimited reports whether any limit can constrain range
// actions.
func (s StateLimits) AreRangeActionsLimited() bool {
	return s.MaxRa < Unlimited || s.MaxTso < Unlimited || len(s.MaxPstPerTso) > 0 || len(s.MaxRaPerTso) > 0
}

// Remaining returns the limits left once network actions are applied.
//
// Description:
//
//	Every applied network action uses one MaxRa slot and one slot of its
//	operator in MaxRaPerTso. Operators of applied actions are subtracted from
//	MaxTso and then excluded, since their range actions come for free. Limits
//	never go below zero.
func (s StateLimits) Remaining(applied []*model.NetworkAction) StateLimits {
	r := StateLimits{
		MaxRa:                      s.MaxRa,
		MaxTso:                     s.MaxTso,
		MaxTsoExclusion:            map[string]bool{},
		MaxTopoPerTso:              map[string]int{},
		MaxPstPerTso:               map[string]int{},
		MaxRaPerTso:                map[string]int{},
		MaxElementaryActionsPerTso: map[string]int{},
	}
	for k := range s.MaxTsoExclusion {
		r.MaxTsoExclusion[k] = true
	}
	copyInto(r.MaxTopoPerTso, s.MaxTopoPerTso)
	copyInto(r.MaxPstPerTso, s.MaxPstPerTso)
	copyInto(r.MaxRaPerTso, s.MaxRaPerTso)
	copyInto(r.MaxElementaryActionsPerTso, s.MaxElementaryActionsPerTso)

	tsos := map[string]bool{}
	for _, na := range applied {
		if r.MaxRa < Unlimited {
			r.MaxRa = max(0, r.MaxRa-1)
		}
		if v, ok := r.MaxRaPerTso[na.Operator]; ok {
			r.MaxRaPerTso[na.Operator] = max(0, v-1)
		}
		if v, ok := r.MaxTopoPerTso[na.Operator]; ok {
			r.MaxTopoPerTso[na.Operator] = max(0, v-1)
		}
		if v, ok := r.MaxElementaryActionsPerTso[na.Operator]; ok {
			r.MaxElementaryActionsPerTso[na.Operator] = max(0, v-len(na.Elementary))
		}
		if r.CountsTowardsMaxTso(na.Operator) {
			tsos[na.Operator] = true
		}
	}
	if r.MaxTso < Unlimited {
		r.MaxTso = max(0, r.MaxTso-len(tsos))
	}
	for tso := range tsos {
		r.MaxTsoExclusion[tso] = true
	}
	return r
}

// Limitation answers limit queries per state.
//
// Thread Safety: Read-only after New, safe for concurrent use.
type Limitation struct {
	byInstant map[string]StateLimits
}

// New resolves usage limits keyed by instant id.
func New(byInstant map[string]UsageLimits) *Limitation {
	l := &Limitation{byInstant: make(map[string]StateLimits, len(byInstant))}
	for id, u := range byInstant {
		l.byInstant[id] = u.Resolve()
	}
	return l
}

// For returns the limits of a state.
func (l *Limitation) For(state *model.State) StateLimits {
	if l == nil {
		return NoLimits()
	}
	if s, ok := l.byInstant[state.Instant.ID]; ok {
		return s
	}
	return NoLimits()
}

// MaxRangeActions returns the maximum number of remedial actions of a state.
func (l *Limitation) MaxRangeActions(state *model.State) int { return l.For(state).MaxRa }

// MaxTso returns the maximum number of operators using actions in a state.
func (l *Limitation) MaxTso(state *model.State) int { return l.For(state).MaxTso }

// MaxTsoExclusion returns the operators ignored by MaxTso, sorted.
func (l *Limitation) MaxTsoExclusion(state *model.State) []string {
	var out []string
	for tso := range l.For(state).MaxTsoExclusion {
		out = append(out, tso)
	}
	sort.Strings(out)
	return out
}

// MaxPstPerTso returns the PST limits per operator of a state.
func (l *Limitation) MaxPstPerTso(state *model.State) map[string]int {
	return l.For(state).MaxPstPerTso
}

// MaxRaPerTso returns the remedial action limits per operator of a state.
func (l *Limitation) MaxRaPerTso(state *model.State) map[string]int {
	return l.For(state).MaxRaPerTso
}

// MaxTopoPerTso returns the network action limits per operator of a state.
func (l *Limitation) MaxTopoPerTso(state *model.State) map[string]int {
	return l.For(state).MaxTopoPerTso
}

// MaxElementaryActionsPerTso returns the elementary action limits per
// operator of a state.
func (l *Limitation) MaxElementaryActionsPerTso(state *model.State) map[string]int {
	return l.For(state).MaxElementaryActionsPerTso
}

// AreRangeActionsLimited reports whether range actions of a state are
// subject to a cardinality limit.
func (l *Limitation) AreRangeActionsLimited(state *model.State) bool {
	return l.For(state).AreRangeActionsLimited()
}
