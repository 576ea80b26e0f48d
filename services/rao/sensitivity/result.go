// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sensitivity defines the contract with the external flow and
// sensitivity engine, and caches its results.
//
// A Result is the immutable outcome of one batch computation: reference
// flows, reference intensities and flow sensitivities to each requested
// variable, for every requested CNEC and side, grouped per contingency.
// Providers compute results; a Runner adds fallback and a circuit breaker on
// top of them.
package sensitivity

import (
	"github.com/AleutianAI/AleutianRAO/services/rao/model"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
)

// ComputationStatus summarises the quality of a computation.
type ComputationStatus string

const (
	// StatusDefault means the default method produced usable results.
	StatusDefault ComputationStatus = "DEFAULT"
	// StatusFallback means a degraded method was used, or part of the
	// contingencies failed. Results are usable but lower-confidence.
	StatusFallback ComputationStatus = "FALLBACK"
	// StatusFailure means no usable result.
	StatusFailure ComputationStatus = "FAILURE"
)

func (s ComputationStatus) rank() int {
	switch s {
	case StatusFallback:
		return 1
	case StatusFailure:
		return 2
	default:
		return 0
	}
}

// Worst returns the worse of two statuses.
func Worst(a, b ComputationStatus) ComputationStatus {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// VariableKind tags a sensitivity variable.
type VariableKind string

const (
	// RangeActionVariable is the setpoint of a range action.
	RangeActionVariable VariableKind = "RANGE_ACTION"
	// ZoneVariable is the GLSK-weighted net position of a zone.
	ZoneVariable VariableKind = "ZONE"
)

// Variable identifies a sensitivity variable.
type Variable struct {
	Kind VariableKind
	ID   string
}

// String returns "KIND:id".
func (v Variable) String() string { return string(v.Kind) + ":" + v.ID }

// RangeActionVar returns the variable of a range action.
func RangeActionVar(ra *model.RangeAction) Variable {
	return Variable{Kind: RangeActionVariable, ID: ra.ID}
}

// ZoneVar returns the variable of a GLSK zone.
func ZoneVar(zone string) Variable {
	return Variable{Kind: ZoneVariable, ID: zone}
}

// Request lists what a computation must produce.
type Request struct {
	// Cnecs to compute. Their states decide which contingencies are run.
	Cnecs []*model.FlowCnec

	// RangeActions whose sensitivities are requested.
	RangeActions []*model.RangeAction

	// Glsk zones whose sensitivities are requested. Nil skips them.
	Glsk model.Glsk

	// Ampere requests reference intensities.
	Ampere bool
}

// Variables returns the requested variables.
func (r Request) Variables() []Variable {
	vars := make([]Variable, 0, len(r.RangeActions)+len(r.Glsk))
	for _, ra := range r.RangeActions {
		vars = append(vars, RangeActionVar(ra))
	}
	for _, z := range r.Glsk.Zones() {
		vars = append(vars, ZoneVar(z))
	}
	return vars
}

// Contingencies returns the ids of the contingencies needed by the CNECs,
// in first-seen order, without the basecase.
func (r Request) Contingencies() []string {
	seen := map[string]bool{}
	var ids []string
	for _, c := range r.Cnecs {
		id := c.State().ContingencyID()
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

type cnecSide struct {
	cnec string
	side network.Side
}

// StateResult holds the results of the basecase or of one contingency.
// Providers fill it before handing it to NewResult; it is read-only after.
type StateResult struct {
	status      ComputationStatus
	flows       map[cnecSide]float64
	intensities map[cnecSide]float64
	sensi       map[Variable]map[cnecSide]float64
}

// NewStateResult creates an empty state result.
func NewStateResult(status ComputationStatus) *StateResult {
	return &StateResult{
		status:      status,
		flows:       map[cnecSide]float64{},
		intensities: map[cnecSide]float64{},
		sensi:       map[Variable]map[cnecSide]float64{},
	}
}

// Status returns the status of the state computation.
func (s *StateResult) Status() ComputationStatus { return s.status }

// SetReferenceFlow stores a flow in MW.
func (s *StateResult) SetReferenceFlow(cnecID string, side network.Side, mw float64) {
	s.flows[cnecSide{cnecID, side}] = mw
}

// SetReferenceIntensity stores an intensity in A.
func (s *StateResult) SetReferenceIntensity(cnecID string, side network.Side, amps float64) {
	s.intensities[cnecSide{cnecID, side}] = amps
}

// SetSensitivity stores a flow sensitivity in MW per unit of the variable.
func (s *StateResult) SetSensitivity(v Variable, cnecID string, side network.Side, value float64) {
	m, ok := s.sensi[v]
	if !ok {
		m = map[cnecSide]float64{}
		s.sensi[v] = m
	}
	m[cnecSide{cnecID, side}] = value
}

// Result is the immutable outcome of one computation run.
//
// Thread Safety: Safe for concurrent reads.
type Result struct {
	status    ComputationStatus
	stamp     ComputationStatus
	provider  string
	ampere    bool
	cnecs     map[string]*model.FlowCnec
	variables map[Variable]bool
	states    map[string]*StateResult
}

// NewResult assembles a result from per-state results keyed by contingency
// id (empty for the basecase).
//
// Description:
//
//	The global status is DEFAULT when every state succeeded, FAILURE when the
//	basecase failed, and FALLBACK when at least one contingency failed or a
//	state reported FALLBACK.
func NewResult(req Request, provider string, states map[string]*StateResult) *Result {
	r := &Result{
		provider:  provider,
		ampere:    req.Ampere,
		cnecs:     make(map[string]*model.FlowCnec, len(req.Cnecs)),
		variables: map[Variable]bool{},
		states:    states,
	}
	for _, c := range req.Cnecs {
		r.cnecs[c.ID] = c
	}
	for _, v := range req.Variables() {
		r.variables[v] = true
	}

	r.status = StatusDefault
	base, ok := states[""]
	if !ok || base.status == StatusFailure {
		r.status = StatusFailure
		return r
	}
	for _, s := range states {
		switch s.status {
		case StatusFailure, StatusFallback:
			r.status = StatusFallback
		}
	}
	return r
}

// FailedResult returns a FAILURE result for a request.
func FailedResult(req Request, provider string) *Result {
	return NewResult(req, provider, map[string]*StateResult{"": NewStateResult(StatusFailure)})
}

// Status returns the global computation status.
func (r *Result) Status() ComputationStatus { return r.status }

// Provider returns the name of the provider that computed the result.
func (r *Result) Provider() string { return r.provider }

// Degraded returns a copy of the result whose global and per-state statuses
// are at least FALLBACK. Failed states stay failed.
func (r *Result) Degraded() *Result {
	c := *r
	c.stamp = StatusFallback
	c.status = Worst(c.status, StatusFallback)
	return &c
}

// StateStatus returns the status of the computation of a state.
func (r *Result) StateStatus(state *model.State) ComputationStatus {
	s, ok := r.states[state.ContingencyID()]
	if !ok {
		return StatusFailure
	}
	return Worst(s.status, r.stamp)
}

// HasAmpere reports whether intensities were computed.
func (r *Result) HasAmpere() bool { return r.ampere }

// Covers reports whether a CNEC was part of the request.
func (r *Result) Covers(cnec *model.FlowCnec) bool {
	_, ok := r.cnecs[cnec.ID]
	return ok
}

func (r *Result) stateOf(cnec *model.FlowCnec, side network.Side) (*StateResult, error) {
	if _, ok := r.cnecs[cnec.ID]; !ok {
		return nil, &DataNotFoundError{Cnec: cnec.ID, Side: side.String(), Reason: "cnec not requested"}
	}
	s, ok := r.states[cnec.State().ContingencyID()]
	if !ok || s.status == StatusFailure {
		return nil, &DataNotFoundError{Cnec: cnec.ID, Side: side.String(), Reason: "state computation failed"}
	}
	return s, nil
}

// ReferenceFlow returns the flow of a CNEC side in MW.
func (r *Result) ReferenceFlow(cnec *model.FlowCnec, side network.Side) (float64, error) {
	s, err := r.stateOf(cnec, side)
	if err != nil {
		return 0, err
	}
	v, ok := s.flows[cnecSide{cnec.ID, side}]
	if !ok {
		return 0, &DataNotFoundError{Cnec: cnec.ID, Side: side.String(), Reason: "side not computed"}
	}
	return v, nil
}

// ReferenceIntensity returns the intensity of a CNEC side in A. It fails
// when the request did not ask for intensities.
func (r *Result) ReferenceIntensity(cnec *model.FlowCnec, side network.Side) (float64, error) {
	if !r.ampere {
		return 0, &DataNotFoundError{Cnec: cnec.ID, Side: side.String(), Reason: "intensities not requested"}
	}
	s, err := r.stateOf(cnec, side)
	if err != nil {
		return 0, err
	}
	v, ok := s.intensities[cnecSide{cnec.ID, side}]
	if !ok {
		return 0, &DataNotFoundError{Cnec: cnec.ID, Side: side.String(), Reason: "side not computed"}
	}
	return v, nil
}

// SensitivityOnFlow returns the flow sensitivity of a CNEC side to a
// variable, in MW per unit (degree for PSTs, MW otherwise).
func (r *Result) SensitivityOnFlow(v Variable, cnec *model.FlowCnec, side network.Side) (float64, error) {
	if !r.variables[v] {
		return 0, &DataNotFoundError{Cnec: cnec.ID, Side: side.String(), Variable: v.String(), Reason: "variable not requested"}
	}
	s, err := r.stateOf(cnec, side)
	if err != nil {
		return 0, err
	}
	value, ok := s.sensi[v][cnecSide{cnec.ID, side}]
	if !ok {
		return 0, &DataNotFoundError{Cnec: cnec.ID, Side: side.String(), Variable: v.String(), Reason: "side not computed"}
	}
	return value, nil
}
