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

// UsageMethod says whether a remedial action may be used in a state.
type UsageMethod string

const (
	UsageUndefined   UsageMethod = "UNDEFINED"
	UsageAvailable   UsageMethod = "AVAILABLE"
	UsageForced      UsageMethod = "FORCED"
	UsageUnavailable UsageMethod = "UNAVAILABLE"
)

func (m UsageMethod) rank() int {
	switch m {
	case UsageAvailable:
		return 1
	case UsageForced:
		return 2
	case UsageUnavailable:
		return 3
	default:
		return 0
	}
}

// Strongest returns the stronger of two usage methods, in the order
// UNAVAILABLE > FORCED > AVAILABLE > UNDEFINED.
func Strongest(a, b UsageMethod) UsageMethod {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// UsageRuleKind tags the variant of a UsageRule.
type UsageRuleKind string

const (
	OnInstant                 UsageRuleKind = "ON_INSTANT"
	OnContingencyState        UsageRuleKind = "ON_CONTINGENCY_STATE"
	OnFlowConstraintInCountry UsageRuleKind = "ON_FLOW_CONSTRAINT_IN_COUNTRY"
	OnConstraint              UsageRuleKind = "ON_CONSTRAINT"
)

// UsageRule is a tagged variant: Kind selects which of the optional fields
// are meaningful.
//
//	ON_INSTANT                    Instant
//	ON_CONTINGENCY_STATE          Instant, Contingency
//	ON_FLOW_CONSTRAINT_IN_COUNTRY Instant, Country, optional Contingency
//	ON_CONSTRAINT                 Instant, Cnec
type UsageRule struct {
	Kind        UsageRuleKind `json:"kind" yaml:"kind" validate:"oneof=ON_INSTANT ON_CONTINGENCY_STATE ON_FLOW_CONSTRAINT_IN_COUNTRY ON_CONSTRAINT"`
	Method      UsageMethod   `json:"method" yaml:"method" validate:"oneof=AVAILABLE FORCED UNAVAILABLE UNDEFINED"`
	Instant     string        `json:"instant" yaml:"instant" validate:"required"`
	Contingency string        `json:"contingency,omitempty" yaml:"contingency,omitempty"`
	Country     string        `json:"country,omitempty" yaml:"country,omitempty"`
	Cnec        string        `json:"cnec,omitempty" yaml:"cnec,omitempty"`

	cnec *FlowCnec
}

// Resolve returns the usage method this rule grants in a state, or
// UsageUndefined when the rule does not apply to it.
func (r UsageRule) Resolve(state *State) UsageMethod {
	if state.Instant.ID != r.Instant {
		return UsageUndefined
	}
	switch r.Kind {
	case OnInstant:
		return r.Method
	case OnContingencyState:
		if state.ContingencyID() == r.Contingency {
			return r.Method
		}
	case OnFlowConstraintInCountry:
		if r.Contingency == "" || state.ContingencyID() == r.Contingency {
			return r.Method
		}
	case OnConstraint:
		if state.IsPreventive() || r.cnec == nil || r.cnec.State().ContingencyID() == state.ContingencyID() {
			return r.Method
		}
	}
	return UsageUndefined
}

// FlowConditioned reports whether the rule only holds while a constraint is
// violated.
func (r UsageRule) FlowConditioned() bool {
	return r.Kind == OnConstraint || r.Kind == OnFlowConstraintInCountry
}

// ConstrainingCnec returns the CNEC of an ON_CONSTRAINT rule.
func (r UsageRule) ConstrainingCnec() *FlowCnec { return r.cnec }

// ResolveUsageMethod aggregates every rule applying to a state with the
// strongest-wins ordering.
func ResolveUsageMethod(rules []UsageRule, state *State) UsageMethod {
	method := UsageUndefined
	for _, rule := range rules {
		method = Strongest(method, rule.Resolve(state))
	}
	return method
}

// MarginLookup returns the current margin of a CNEC.
type MarginLookup func(cnec *FlowCnec) float64

// IsAvailable reports whether an action with the given rules can be used in a
// state, checking flow conditions against the current margins.
//
// Description:
//
//	An UNAVAILABLE rule wins over everything. Otherwise the action is
//	available if one unconditional rule grants AVAILABLE or FORCED, or if one
//	flow-conditioned rule grants it and one of its constraining CNECs has a
//	negative margin. ON_FLOW_CONSTRAINT_IN_COUNTRY considers the optimized
//	CNECs of the state's contingency (or basecase) located in the country.
//
// Inputs:
//
//	rules  - Usage rules of the action.
//	state  - State being optimised.
//	cnecs  - CNECs eligible for flow conditions.
//	margin - Current margins. Nil means flow conditions are never met.
func IsAvailable(rules []UsageRule, state *State, cnecs []*FlowCnec, margin MarginLookup) bool {
	if ResolveUsageMethod(rules, state) == UsageUnavailable {
		return false
	}
	for _, rule := range rules {
		m := rule.Resolve(state)
		if m != UsageAvailable && m != UsageForced {
			continue
		}
		if !rule.FlowConditioned() {
			return true
		}
		if margin == nil {
			continue
		}
		switch rule.Kind {
		case OnConstraint:
			if rule.cnec != nil && margin(rule.cnec) < 0 {
				return true
			}
		case OnFlowConstraintInCountry:
			for _, cnec := range cnecs {
				if !cnec.Optimized || !cnec.LocatedIn(rule.Country) {
					continue
				}
				if cnec.State().ContingencyID() != state.ContingencyID() && !cnec.State().IsPreventive() {
					continue
				}
				if margin(cnec) < 0 {
					return true
				}
			}
		}
	}
	return false
}

// IsForced reports whether an action is forced in a state by an unconditional
// rule.
func IsForced(rules []UsageRule, state *State) bool {
	if ResolveUsageMethod(rules, state) != UsageForced {
		return false
	}
	for _, rule := range rules {
		if rule.Resolve(state) == UsageForced && !rule.FlowConditioned() {
			return true
		}
	}
	return false
}
