// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package limits

import (
	"fmt"
	"math"
	"runtime"
	"time"
)

// StopCriterion says when the search tree stops before exhausting its depth.
type StopCriterion string

const (
	// MinObjective explores until no child improves the cost.
	MinObjective StopCriterion = "MIN_OBJECTIVE"
	// AtTargetObjectiveValue stops as soon as the cost is below a target.
	AtTargetObjectiveValue StopCriterion = "AT_TARGET_OBJECTIVE_VALUE"
)

// TreeParameters configures one search tree.
type TreeParameters struct {
	StopCriterion StopCriterion `json:"stop_criterion" yaml:"stop_criterion" validate:"oneof=MIN_OBJECTIVE AT_TARGET_OBJECTIVE_VALUE"`

	// TargetObjectiveValue is used with AtTargetObjectiveValue.
	TargetObjectiveValue float64 `json:"target_objective_value" yaml:"target_objective_value"`

	// MaximumSearchDepth is the largest number of network actions combined.
	MaximumSearchDepth int `json:"maximum_search_depth" yaml:"maximum_search_depth" validate:"gte=0"`

	// LeavesInParallel bounds concurrent leaf evaluations.
	LeavesInParallel int `json:"leaves_in_parallel" yaml:"leaves_in_parallel" validate:"gte=1"`

	// Deadline stops the search between depths. Zero means none.
	Deadline time.Time `json:"-" yaml:"-"`
}

// DefaultTreeParameters returns the preventive tree defaults.
func DefaultTreeParameters() TreeParameters {
	return TreeParameters{
		StopCriterion:        MinObjective,
		TargetObjectiveValue: 0,
		MaximumSearchDepth:   2,
		LeavesInParallel:     runtime.NumCPU(),
	}
}

// ShouldStop reports whether a cost satisfies the stop criterion. A
// positive virtual cost never stops the search.
func (p TreeParameters) ShouldStop(cost, virtualCost float64) bool {
	if virtualCost > 1e-6 {
		return false
	}
	return p.StopCriterion == AtTargetObjectiveValue && cost < p.TargetObjectiveValue
}

// NetworkActionParameters configures how network actions are combined.
type NetworkActionParameters struct {
	// PredefinedCombinations lists network action ids tried together.
	PredefinedCombinations [][]string `json:"predefined_combinations,omitempty" yaml:"predefined_combinations,omitempty"`

	// AbsoluteMinImpactThreshold is the smallest cost decrease accepted.
	AbsoluteMinImpactThreshold float64 `json:"absolute_min_impact_threshold" yaml:"absolute_min_impact_threshold" validate:"gte=0"`

	// RelativeMinImpactThreshold is the smallest relative cost decrease
	// accepted.
	RelativeMinImpactThreshold float64 `json:"relative_min_impact_threshold" yaml:"relative_min_impact_threshold" validate:"gte=0,lte=1"`

	// SkipActionsFarFromMostLimitingElement drops actions located more than
	// MaxNumberOfBoundariesForSkippingActions zone borders away from the
	// most limiting CNEC.
	SkipActionsFarFromMostLimitingElement bool `json:"skip_actions_far_from_most_limiting_element" yaml:"skip_actions_far_from_most_limiting_element"`

	MaxNumberOfBoundariesForSkippingActions int `json:"max_number_of_boundaries_for_skipping_actions" yaml:"max_number_of_boundaries_for_skipping_actions" validate:"gte=0"`
}

// DefaultNetworkActionParameters returns the network action defaults.
func DefaultNetworkActionParameters() NetworkActionParameters {
	return NetworkActionParameters{
		AbsoluteMinImpactThreshold:              0,
		RelativeMinImpactThreshold:              0,
		MaxNumberOfBoundariesForSkippingActions: 2,
	}
}

// Improves reports whether cost improves enough on a previous cost.
func (p NetworkActionParameters) Improves(cost, previous float64) bool {
	abs := previous - p.AbsoluteMinImpactThreshold
	rel := previous - p.RelativeMinImpactThreshold*math.Abs(previous)
	return cost < abs && cost < rel
}

// Validate checks predefined combinations for duplicates.
func (p NetworkActionParameters) Validate() error {
	for i, combo := range p.PredefinedCombinations {
		if len(combo) < 2 {
			return fmt.Errorf("predefined combination %d: needs at least two network actions", i)
		}
		seen := map[string]bool{}
		for _, id := range combo {
			if seen[id] {
				return fmt.Errorf("predefined combination %d: %s listed twice", i, id)
			}
			seen[id] = true
		}
	}
	return nil
}
