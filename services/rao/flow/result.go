// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package flow turns a sensitivity result into per-CNEC flows, margins,
// relative margins, commercial flows and loop flows.
package flow

import (
	"errors"
	"fmt"
	"math"

	"github.com/AleutianAI/AleutianRAO/services/rao/model"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity"
)

// ErrNoCommercialFlow is returned for loop-flow lookups on CNECs whose
// commercial flow was not computed.
var ErrNoCommercialFlow = errors.New("commercial flow not computed")

// Key identifies one side of a CNEC.
type Key struct {
	Cnec string
	Side network.Side
}

// Result exposes the flows of one sensitivity computation.
//
// Commercial flows and PTDF sums are either computed from the same
// sensitivity pass or carried over from an earlier one.
//
// Thread Safety: Immutable, safe for concurrent reads.
type Result struct {
	sens       *sensitivity.Result
	commercial map[Key]float64
	ptdfSums   map[Key]float64
}

// NewResult wraps a sensitivity result.
func NewResult(sens *sensitivity.Result) *Result {
	return &Result{sens: sens, commercial: map[Key]float64{}, ptdfSums: map[Key]float64{}}
}

// WithCommercialFlows returns a copy using the given commercial flows.
func (r *Result) WithCommercialFlows(commercial map[Key]float64) *Result {
	c := *r
	c.commercial = commercial
	return &c
}

// WithPtdfSums returns a copy using the given absolute zonal PTDF sums.
func (r *Result) WithPtdfSums(sums map[Key]float64) *Result {
	c := *r
	c.ptdfSums = sums
	return &c
}

// CommercialFlows returns the commercial flows in MW.
func (r *Result) CommercialFlows() map[Key]float64 { return r.commercial }

// PtdfSums returns the absolute zonal PTDF sums.
func (r *Result) PtdfSums() map[Key]float64 { return r.ptdfSums }

// Sensitivity returns the underlying sensitivity result.
func (r *Result) Sensitivity() *sensitivity.Result { return r.sens }

// Status returns the status of the underlying computation.
func (r *Result) Status() sensitivity.ComputationStatus { return r.sens.Status() }

// StateStatus returns the computation status of a state.
func (r *Result) StateStatus(state *model.State) sensitivity.ComputationStatus {
	return r.sens.StateStatus(state)
}

// Flow returns the flow of a CNEC side. Ampere flows need an Ampere pass.
func (r *Result) Flow(cnec *model.FlowCnec, side network.Side, unit model.Unit) (float64, error) {
	if unit == model.Ampere {
		return r.sens.ReferenceIntensity(cnec, side)
	}
	return r.sens.ReferenceFlow(cnec, side)
}

// Margin returns the margin of a CNEC side: the distance to the closest
// bound, negative when violated.
func (r *Result) Margin(cnec *model.FlowCnec, side network.Side, unit model.Unit) (float64, error) {
	f, err := r.Flow(cnec, side, unit)
	if err != nil {
		return 0, err
	}
	return cnec.ComputeMargin(f, side, unit), nil
}

// MinMargin returns the smallest margin over the monitored sides.
func (r *Result) MinMargin(cnec *model.FlowCnec, unit model.Unit) (float64, error) {
	best := math.Inf(1)
	for _, side := range cnec.MonitoredSides() {
		m, err := r.Margin(cnec, side, unit)
		if err != nil {
			return 0, err
		}
		best = math.Min(best, m)
	}
	if math.IsInf(best, 1) {
		return model.NoBound, nil
	}
	return best, nil
}

// RelativeMargin divides positive margins by the absolute zonal PTDF sum,
// floored at ptdfSumLowerBound. Negative margins are returned unchanged.
func (r *Result) RelativeMargin(cnec *model.FlowCnec, side network.Side, unit model.Unit, ptdfSumLowerBound float64) (float64, error) {
	m, err := r.Margin(cnec, side, unit)
	if err != nil {
		return 0, err
	}
	if m <= 0 || m == model.NoBound {
		return m, nil
	}
	return m / math.Max(r.PtdfZonalSum(cnec, side), ptdfSumLowerBound), nil
}

// MinRelativeMargin is RelativeMargin minimised over the monitored sides.
func (r *Result) MinRelativeMargin(cnec *model.FlowCnec, unit model.Unit, ptdfSumLowerBound float64) (float64, error) {
	best := math.Inf(1)
	for _, side := range cnec.MonitoredSides() {
		m, err := r.RelativeMargin(cnec, side, unit, ptdfSumLowerBound)
		if err != nil {
			return 0, err
		}
		best = math.Min(best, m)
	}
	if math.IsInf(best, 1) {
		return model.NoBound, nil
	}
	return best, nil
}

// PtdfZonalSum returns the absolute zonal PTDF sum of a CNEC side, zero
// when none was computed.
func (r *Result) PtdfZonalSum(cnec *model.FlowCnec, side network.Side) float64 {
	return r.ptdfSums[Key{cnec.ID, side}]
}

// CommercialFlow returns the commercial flow of a CNEC side in MW.
func (r *Result) CommercialFlow(cnec *model.FlowCnec, side network.Side) (float64, error) {
	v, ok := r.commercial[Key{cnec.ID, side}]
	if !ok {
		return 0, fmt.Errorf("%s side %s: %w", cnec.ID, side, ErrNoCommercialFlow)
	}
	return v, nil
}

// LoopFlow returns the flow minus the commercial flow, in MW.
func (r *Result) LoopFlow(cnec *model.FlowCnec, side network.Side) (float64, error) {
	f, err := r.sens.ReferenceFlow(cnec, side)
	if err != nil {
		return 0, err
	}
	c, err := r.CommercialFlow(cnec, side)
	if err != nil {
		return 0, err
	}
	return f - c, nil
}

// LoopFlowExcess returns how far a loop flow exceeds what is tolerated: the
// larger of the threshold and the initial loop flow plus the accepted
// augmentation.
func LoopFlowExcess(current, initial, threshold, augmentation float64) float64 {
	limit := math.Max(threshold, math.Abs(initial)+augmentation)
	return math.Max(0, math.Abs(current)-limit)
}
