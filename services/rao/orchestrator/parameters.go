// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"fmt"
	"runtime"
	"time"

	"github.com/AleutianAI/AleutianRAO/services/rao/limits"
	"github.com/AleutianAI/AleutianRAO/services/rao/linear"
	"github.com/AleutianAI/AleutianRAO/services/rao/objective"
)

// CurativeStopCriterion says when curative search trees stop early.
type CurativeStopCriterion string

const (
	// CurativeMinObjective explores until no child improves.
	CurativeMinObjective CurativeStopCriterion = "MIN_OBJECTIVE"
	// CurativeSecure stops once the state is secure.
	CurativeSecure CurativeStopCriterion = "SECURE"
	// CurativePreventiveObjective stops once the curative cost beats the
	// preventive cost by MinObjectiveImprovement.
	CurativePreventiveObjective CurativeStopCriterion = "PREVENTIVE_OBJECTIVE"
)

// SecondPreventiveCondition says when the second preventive optimization
// runs.
type SecondPreventiveCondition string

const (
	SecondPreventiveDisabled SecondPreventiveCondition = "DISABLED"
	// SecondPreventiveCurativeImprovement runs it when the curative
	// perimeters end worse than the preventive one.
	SecondPreventiveCurativeImprovement SecondPreventiveCondition = "POSSIBLE_CURATIVE_IMPROVEMENT"
	// SecondPreventiveCostIncrease runs it when the final cost is above the
	// initial cost.
	SecondPreventiveCostIncrease SecondPreventiveCondition = "COST_INCREASE"
)

// CurativeParameters configures contingency scenarios.
type CurativeParameters struct {
	StopCriterion CurativeStopCriterion `json:"stop_criterion" yaml:"stop_criterion" validate:"oneof=MIN_OBJECTIVE SECURE PREVENTIVE_OBJECTIVE"`

	// MinObjectiveImprovement is subtracted from the preventive cost to
	// get the PREVENTIVE_OBJECTIVE target.
	MinObjectiveImprovement float64 `json:"min_objective_improvement" yaml:"min_objective_improvement" validate:"gte=0"`

	// EnforceCurativeSecurity optimizes curative states even when the
	// preventive perimeter stays unsecure under the SECURE criterion.
	EnforceCurativeSecurity bool `json:"enforce_curative_security" yaml:"enforce_curative_security"`

	// ScenariosInParallel bounds concurrently optimized contingencies.
	ScenariosInParallel int `json:"scenarios_in_parallel" yaml:"scenarios_in_parallel" validate:"gte=1"`

	// OperatorsNotToOptimize only count when their margins decrease.
	OperatorsNotToOptimize []string `json:"operators_not_to_optimize,omitempty" yaml:"operators_not_to_optimize,omitempty"`
}

// SecondPreventiveParameters configures the second preventive optimization.
type SecondPreventiveParameters struct {
	Condition SecondPreventiveCondition `json:"execution_condition" yaml:"execution_condition" validate:"oneof=DISABLED POSSIBLE_CURATIVE_IMPROVEMENT COST_INCREASE"`

	// ReOptimizeCurative reruns the contingency scenarios after it.
	ReOptimizeCurative bool `json:"re_optimize_curative_range_actions" yaml:"re_optimize_curative_range_actions"`

	// HintFromFirstPreventive tries the first preventive combination first.
	HintFromFirstPreventive bool `json:"hint_from_first_preventive_rao" yaml:"hint_from_first_preventive_rao"`
}

// Parameters configures a full RAO.
type Parameters struct {
	Objective        objective.Parameters           `json:"objective" yaml:"objective"`
	Linear           linear.Parameters              `json:"linear" yaml:"linear"`
	PreventiveTree   limits.TreeParameters          `json:"preventive_tree" yaml:"preventive_tree"`
	CurativeTree     limits.TreeParameters          `json:"curative_tree" yaml:"curative_tree"`
	NetworkActions   limits.NetworkActionParameters `json:"network_actions" yaml:"network_actions"`
	Curative         CurativeParameters             `json:"curative" yaml:"curative"`
	SecondPreventive SecondPreventiveParameters     `json:"second_preventive" yaml:"second_preventive"`

	// Limits are the usage limits keyed by instant id.
	Limits map[string]limits.UsageLimits `json:"ra_usage_limits_per_instant,omitempty" yaml:"ra_usage_limits_per_instant,omitempty" validate:"dive"`

	// MaxLeavesPerTree bounds each search tree, 0 for unlimited.
	MaxLeavesPerTree int `json:"max_leaves_per_tree" yaml:"max_leaves_per_tree" validate:"gte=0"`

	// FallbackToInitialOnCostIncrease returns the initial situation when
	// the optimization ends worse than it started.
	FallbackToInitialOnCostIncrease bool `json:"fallback_to_initial_on_cost_increase" yaml:"fallback_to_initial_on_cost_increase"`

	// Timeout gives every run a target end time. Zero means none.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultParameters returns the default RAO parameters.
func DefaultParameters() Parameters {
	curativeTree := limits.DefaultTreeParameters()
	curativeTree.LeavesInParallel = 1
	return Parameters{
		Objective:      objective.DefaultParameters(),
		Linear:         linear.DefaultParameters(),
		PreventiveTree: limits.DefaultTreeParameters(),
		CurativeTree:   curativeTree,
		NetworkActions: limits.DefaultNetworkActionParameters(),
		Curative: CurativeParameters{
			StopCriterion:       CurativeMinObjective,
			ScenariosInParallel: runtime.NumCPU(),
		},
		SecondPreventive: SecondPreventiveParameters{
			Condition:          SecondPreventiveDisabled,
			ReOptimizeCurative: true,
		},
		FallbackToInitialOnCostIncrease: true,
	}
}

// curativeTreeParameters derives the tree parameters of curative states
// from the preventive cost.
func (p Parameters) curativeTreeParameters(preventiveCost float64) limits.TreeParameters {
	tp := p.CurativeTree
	switch p.Curative.StopCriterion {
	case CurativeSecure:
		tp.StopCriterion = limits.AtTargetObjectiveValue
		tp.TargetObjectiveValue = 0
	case CurativePreventiveObjective:
		tp.StopCriterion = limits.AtTargetObjectiveValue
		tp.TargetObjectiveValue = preventiveCost - p.Curative.MinObjectiveImprovement
	default:
		tp.StopCriterion = limits.MinObjective
	}
	return tp
}

// Validate checks cross-field constraints not covered by struct tags.
func (p Parameters) Validate() error {
	if err := p.NetworkActions.Validate(); err != nil {
		return err
	}
	if p.Linear.MaxIterations < 1 {
		return fmt.Errorf("linear max iterations must be at least 1, got %d", p.Linear.MaxIterations)
	}
	if p.PreventiveTree.LeavesInParallel < 1 || p.CurativeTree.LeavesInParallel < 1 {
		return fmt.Errorf("leaves in parallel must be at least 1")
	}
	if p.Curative.ScenariosInParallel < 1 {
		return fmt.Errorf("scenarios in parallel must be at least 1, got %d", p.Curative.ScenariosInParallel)
	}
	if p.Objective.LoopFlow != nil && p.Objective.LoopFlow.Approximation == "" {
		return fmt.Errorf("loop-flow approximation must be set")
	}
	return nil
}
