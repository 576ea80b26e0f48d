// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package objective evaluates the cost of a set of flows.
//
// The cost is a functional cost, minus the smallest (relative) margin of the
// optimized CNECs, plus virtual costs that penalise loop-flow excess, MNEC
// degradation and failed sensitivity computations. Lower is better.
package objective

import (
	"errors"
	"math"
	"sort"

	"github.com/AleutianAI/AleutianRAO/services/rao/flow"
	"github.com/AleutianAI/AleutianRAO/services/rao/model"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity"
)

// Type selects the functional cost.
type Type string

const (
	MaxMinMargin         Type = "MAX_MIN_MARGIN"
	MaxMinRelativeMargin Type = "MAX_MIN_RELATIVE_MARGIN"
)

// Virtual cost names.
const (
	LoopFlowCost           = "loop-flow-cost"
	MnecCost               = "mnec-cost"
	SensitivityFailureCost = "sensitivity-failure-cost"
)

// LoopFlowParameters configures loop-flow constraints.
type LoopFlowParameters struct {
	// AcceptableIncrease is the loop-flow augmentation tolerated over the
	// initial loop flow, in MW.
	AcceptableIncrease float64 `json:"acceptable_increase" yaml:"acceptable_increase" validate:"gte=0"`

	// ViolationCost is the cost of one MW of excess.
	ViolationCost float64 `json:"violation_cost" yaml:"violation_cost" validate:"gte=0"`

	// ConstraintAdjustmentCoefficient relaxes the linear loop-flow
	// constraints, in MW.
	ConstraintAdjustmentCoefficient float64 `json:"constraint_adjustment_coefficient" yaml:"constraint_adjustment_coefficient" validate:"gte=0"`

	// Countries restricts loop-flow CNECs to these zones. Empty means all.
	Countries []string `json:"countries,omitempty" yaml:"countries,omitempty"`

	// Approximation says when commercial flows are recomputed.
	Approximation Approximation `json:"approximation" yaml:"approximation" validate:"oneof=FIXED_PTDF UPDATE_PTDF_WITH_TOPO UPDATE_PTDF_WITH_TOPO_AND_PST"`
}

// Approximation is a loop-flow approximation level.
type Approximation string

const (
	// FixedPtdf keeps the commercial flows of the pre-perimeter pass.
	FixedPtdf Approximation = "FIXED_PTDF"
	// UpdatePtdfWithTopo recomputes them after topological changes.
	UpdatePtdfWithTopo Approximation = "UPDATE_PTDF_WITH_TOPO"
	// UpdatePtdfWithTopoAndPst also recomputes them after each LP iteration.
	UpdatePtdfWithTopoAndPst Approximation = "UPDATE_PTDF_WITH_TOPO_AND_PST"
)

// UpdateWithTopo reports whether commercial flows follow topology changes.
func (a Approximation) UpdateWithTopo() bool {
	return a == UpdatePtdfWithTopo || a == UpdatePtdfWithTopoAndPst
}

// UpdateWithPst reports whether commercial flows follow range action moves.
func (a Approximation) UpdateWithPst() bool { return a == UpdatePtdfWithTopoAndPst }

// MnecParameters configures monitored-only CNECs.
type MnecParameters struct {
	// AcceptableMarginDecrease is how much an MNEC margin may drop below
	// its initial value, in MW.
	AcceptableMarginDecrease float64 `json:"acceptable_margin_decrease" yaml:"acceptable_margin_decrease" validate:"gte=0"`

	// ViolationCost is the cost of one MW of violation.
	ViolationCost float64 `json:"violation_cost" yaml:"violation_cost" validate:"gte=0"`

	// ConstraintAdjustmentCoefficient relaxes the linear MNEC constraints.
	ConstraintAdjustmentCoefficient float64 `json:"constraint_adjustment_coefficient" yaml:"constraint_adjustment_coefficient" validate:"gte=0"`
}

// Parameters configures the objective function.
type Parameters struct {
	Type Type       `json:"type" yaml:"type" validate:"oneof=MAX_MIN_MARGIN MAX_MIN_RELATIVE_MARGIN"`
	Unit model.Unit `json:"unit" yaml:"unit" validate:"oneof=MW A"`

	// PtdfSumLowerBound floors the PTDF sums of relative margins.
	PtdfSumLowerBound float64 `json:"ptdf_sum_lower_bound" yaml:"ptdf_sum_lower_bound" validate:"gt=0"`

	// PtdfBoundaries lists the zone borders of the PTDF sums, as "FR/BE".
	PtdfBoundaries []string `json:"ptdf_boundaries,omitempty" yaml:"ptdf_boundaries,omitempty"`

	LoopFlow *LoopFlowParameters `json:"loop_flow,omitempty" yaml:"loop_flow,omitempty"`
	Mnec     *MnecParameters     `json:"mnec,omitempty" yaml:"mnec,omitempty"`

	// SensitivityFailureOverCost is added when a state fails to compute.
	SensitivityFailureOverCost float64 `json:"sensitivity_failure_over_cost" yaml:"sensitivity_failure_over_cost" validate:"gte=0"`
}

// DefaultParameters returns the default objective parameters.
func DefaultParameters() Parameters {
	return Parameters{
		Type:                       MaxMinMargin,
		Unit:                       model.MegaWatt,
		PtdfSumLowerBound:          0.01,
		SensitivityFailureOverCost: 10000,
	}
}

// DefaultLoopFlowParameters returns the loop-flow defaults.
func DefaultLoopFlowParameters() LoopFlowParameters {
	return LoopFlowParameters{
		ViolationCost:                   10,
		ConstraintAdjustmentCoefficient: 0,
		Approximation:                   FixedPtdf,
	}
}

// DefaultMnecParameters returns the MNEC defaults.
func DefaultMnecParameters() MnecParameters {
	return MnecParameters{
		AcceptableMarginDecrease:        50,
		ViolationCost:                   10,
		ConstraintAdjustmentCoefficient: 0,
	}
}

// Inputs are the CNECs and reference flows of one perimeter.
type Inputs struct {
	// Optimized CNECs enter the functional cost.
	Optimized []*model.FlowCnec

	// Monitored CNECs (MNECs) enter the MNEC cost.
	Monitored []*model.FlowCnec

	// LoopFlow CNECs enter the loop-flow cost.
	LoopFlow []*model.FlowCnec

	// Initial flows are the reference for MNEC and loop-flow costs, and for
	// the CNECs of unoptimized operators.
	Initial *flow.Result

	// UnoptimizedOperators are operators whose CNECs only count when their
	// margin decreased from the initial one.
	UnoptimizedOperators []string
}

// Function evaluates costs for one perimeter.
//
// Thread Safety: Safe for concurrent use.
type Function struct {
	params      Parameters
	in          Inputs
	unoptimized map[string]bool
}

// New creates an objective function.
func New(params Parameters, in Inputs) *Function {
	f := &Function{params: params, in: in, unoptimized: map[string]bool{}}
	for _, op := range in.UnoptimizedOperators {
		f.unoptimized[op] = true
	}
	return f
}

// Parameters returns the parameters of the function.
func (f *Function) Parameters() Parameters { return f.params }

// Inputs returns the perimeter inputs.
func (f *Function) Inputs() Inputs { return f.in }

// Limiting is one CNEC with its margin.
type Limiting struct {
	Cnec   *model.FlowCnec
	Margin float64
}

// Evaluation is the cost of one flow result.
type Evaluation struct {
	FunctionalCost float64
	VirtualCosts   map[string]float64
	Limiting       []Limiting
	Status         sensitivity.ComputationStatus
}

// Cost returns the functional cost plus every virtual cost.
func (e *Evaluation) Cost() float64 { return e.FunctionalCost + e.VirtualCost() }

// VirtualCost returns the sum of the virtual costs.
func (e *Evaluation) VirtualCost() float64 {
	total := 0.0
	for _, v := range e.VirtualCosts {
		total += v
	}
	return total
}

// MostLimiting returns up to n CNECs, smallest margin first.
func (e *Evaluation) MostLimiting(n int) []*model.FlowCnec {
	if n > len(e.Limiting) || n < 0 {
		n = len(e.Limiting)
	}
	out := make([]*model.FlowCnec, n)
	for i := 0; i < n; i++ {
		out[i] = e.Limiting[i].Cnec
	}
	return out
}

// Evaluate computes the cost of a flow result.
//
// Description:
//
//	CNECs of states whose computation failed are left out of every cost and
//	the sensitivity failure over-cost is added instead. When no CNEC can be
//	evaluated the functional cost is zero.
func (f *Function) Evaluate(res *flow.Result) *Evaluation {
	e := &Evaluation{VirtualCosts: map[string]float64{}, Status: res.Status()}

	failed := false
	usable := func(c *model.FlowCnec) bool {
		if res.StateStatus(c.State()) == sensitivity.StatusFailure {
			failed = true
			return false
		}
		return true
	}

	for _, cnec := range f.in.Optimized {
		if !usable(cnec) {
			continue
		}
		m, err := f.margin(res, cnec)
		if err != nil {
			continue
		}
		if f.unoptimized[cnec.Operator] && f.in.Initial != nil {
			if initial, err := f.margin(f.in.Initial, cnec); err == nil && m >= initial-1e-6 {
				continue
			}
		}
		e.Limiting = append(e.Limiting, Limiting{Cnec: cnec, Margin: m})
	}
	sort.SliceStable(e.Limiting, func(i, j int) bool {
		if e.Limiting[i].Margin != e.Limiting[j].Margin {
			return e.Limiting[i].Margin < e.Limiting[j].Margin
		}
		return e.Limiting[i].Cnec.ID < e.Limiting[j].Cnec.ID
	})
	if len(e.Limiting) > 0 && e.Limiting[0].Margin != model.NoBound {
		e.FunctionalCost = -e.Limiting[0].Margin
	}

	if f.params.Mnec != nil && f.in.Initial != nil {
		total := 0.0
		for _, cnec := range f.in.Monitored {
			if usable(cnec) {
				total += f.mnecViolation(res, cnec)
			}
		}
		e.VirtualCosts[MnecCost] = f.params.Mnec.ViolationCost * total
	}

	if f.params.LoopFlow != nil && f.in.Initial != nil {
		total := 0.0
		for _, cnec := range f.in.LoopFlow {
			if usable(cnec) {
				total += f.loopFlowExcess(res, cnec)
			}
		}
		e.VirtualCosts[LoopFlowCost] = f.params.LoopFlow.ViolationCost * total
	}

	if failed || res.Status() == sensitivity.StatusFailure {
		e.VirtualCosts[SensitivityFailureCost] = f.params.SensitivityFailureOverCost
	}
	return e
}

func (f *Function) margin(res *flow.Result, cnec *model.FlowCnec) (float64, error) {
	if f.params.Type == MaxMinRelativeMargin {
		return res.MinRelativeMargin(cnec, f.params.Unit, f.params.PtdfSumLowerBound)
	}
	return res.MinMargin(cnec, f.params.Unit)
}

// MnecViolation is how far the margin of an MNEC side fell below both zero
// and its initial margin minus the acceptable decrease, in MW.
func MnecViolation(current, initial, acceptableDecrease float64) float64 {
	return math.Max(0, math.Min(0, initial-acceptableDecrease)-current)
}

func (f *Function) mnecViolation(res *flow.Result, cnec *model.FlowCnec) float64 {
	total := 0.0
	for _, side := range cnec.MonitoredSides() {
		current, err := res.Margin(cnec, side, model.MegaWatt)
		if err != nil {
			continue
		}
		initial, err := f.in.Initial.Margin(cnec, side, model.MegaWatt)
		if err != nil {
			continue
		}
		total += MnecViolation(current, initial, f.params.Mnec.AcceptableMarginDecrease)
	}
	return total
}

func (f *Function) loopFlowExcess(res *flow.Result, cnec *model.FlowCnec) float64 {
	limit, ok := cnec.LoopFlowLimit()
	if !ok {
		return 0
	}
	total := 0.0
	for _, side := range cnec.MonitoredSides() {
		current, err := res.LoopFlow(cnec, side)
		if err != nil {
			continue
		}
		initial, err := f.in.Initial.LoopFlow(cnec, side)
		if err != nil && !errors.Is(err, flow.ErrNoCommercialFlow) {
			continue
		}
		total += flow.LoopFlowExcess(current, initial, limit, f.params.LoopFlow.AcceptableIncrease)
	}
	return total
}

// LoopFlowCnecs returns the CNECs with a loop-flow threshold located in one
// of the countries, or all of them when countries is empty.
func LoopFlowCnecs(cnecs []*model.FlowCnec, countries []string) []*model.FlowCnec {
	var out []*model.FlowCnec
	for _, c := range cnecs {
		if c.LoopFlowThreshold == nil {
			continue
		}
		if len(countries) == 0 {
			out = append(out, c)
			continue
		}
		for _, z := range countries {
			if c.LocatedIn(z) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}
