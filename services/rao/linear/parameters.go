// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package linear

import (
	"math"

	"github.com/AleutianAI/AleutianRAO/services/rao/model"
)

// Parameters configures the iterating linear optimizer.
type Parameters struct {
	// MaxIterations bounds the solve / recompute loop.
	MaxIterations int `json:"max_number_of_iterations" yaml:"max_number_of_iterations" validate:"gte=1"`

	// Penalty costs per unit of variation, by range action kind.
	PstPenaltyCost       float64 `json:"pst_penalty_cost" yaml:"pst_penalty_cost" validate:"gte=0"`
	HvdcPenaltyCost      float64 `json:"hvdc_penalty_cost" yaml:"hvdc_penalty_cost" validate:"gte=0"`
	InjectionPenaltyCost float64 `json:"injection_ra_penalty_cost" yaml:"injection_ra_penalty_cost" validate:"gte=0"`

	// Sensitivities below these thresholds are dropped from the problem.
	PstSensitivityThreshold       float64 `json:"pst_sensitivity_threshold" yaml:"pst_sensitivity_threshold" validate:"gte=0"`
	HvdcSensitivityThreshold      float64 `json:"hvdc_sensitivity_threshold" yaml:"hvdc_sensitivity_threshold" validate:"gte=0"`
	InjectionSensitivityThreshold float64 `json:"injection_ra_sensitivity_threshold" yaml:"injection_ra_sensitivity_threshold" validate:"gte=0"`

	// RangeShrinking narrows the admissible ranges around the previous
	// solution from the second iteration on, and keeps iterating after an
	// iteration that did not improve.
	RangeShrinking bool `json:"ra_range_shrinking" yaml:"ra_range_shrinking"`
}

// DefaultParameters returns the linear optimizer defaults.
func DefaultParameters() Parameters {
	return Parameters{
		MaxIterations:        10,
		PstPenaltyCost:       0.01,
		HvdcPenaltyCost:      0.001,
		InjectionPenaltyCost: 0.001,
	}
}

// PenaltyCost returns the variation cost of a range action.
func (p Parameters) PenaltyCost(ra *model.RangeAction) float64 {
	switch ra.Kind {
	case model.PstRangeAction:
		return p.PstPenaltyCost
	case model.HvdcRangeAction:
		return p.HvdcPenaltyCost
	default:
		return p.InjectionPenaltyCost
	}
}

// SensitivityThreshold returns the smallest sensitivity kept for a range
// action.
func (p Parameters) SensitivityThreshold(ra *model.RangeAction) float64 {
	switch ra.Kind {
	case model.PstRangeAction:
		return p.PstSensitivityThreshold
	case model.HvdcRangeAction:
		return p.HvdcSensitivityThreshold
	default:
		return p.InjectionSensitivityThreshold
	}
}

// shrinkRate is the range shrinking factor per iteration.
const shrinkRate = 0.667

// shrink narrows [lo, hi] around center to a width of
// (hi-lo) * shrinkRate^iteration.
func shrink(lo, hi, center float64, iteration int) (float64, float64) {
	if iteration <= 0 {
		return lo, hi
	}
	half := (hi - lo) * math.Pow(shrinkRate, float64(iteration)) / 2
	return math.Max(lo, center-half), math.Min(hi, center+half)
}
