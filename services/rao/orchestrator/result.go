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
	"sort"
	"time"

	"github.com/AleutianAI/AleutianRAO/services/rao/model"
	"github.com/AleutianAI/AleutianRAO/services/rao/objective"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity"
)

// Status summarises a state or a whole run.
type Status string

const (
	StatusSuccess  Status = "SUCCESS"
	StatusFallback Status = "FALLBACK"
	StatusFailure  Status = "FAILURE"
)

func (s Status) rank() int {
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
func Worst(a, b Status) Status {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

func statusOf(s sensitivity.ComputationStatus) Status {
	switch s {
	case sensitivity.StatusFallback:
		return StatusFallback
	case sensitivity.StatusFailure:
		return StatusFailure
	default:
		return StatusSuccess
	}
}

// Execution names the optimization steps whose result was kept.
type Execution string

const (
	FirstPreventiveOnly               Execution = "FIRST_PREVENTIVE_ONLY"
	SecondPreventiveImprovedFirst     Execution = "SECOND_PREVENTIVE_IMPROVED_FIRST"
	SecondPreventiveFellBackToFirst   Execution = "SECOND_PREVENTIVE_FELLBACK_TO_FIRST_PREVENTIVE_SITUATION"
	FirstPreventiveFellBackToInitial  Execution = "FIRST_PREVENTIVE_FELLBACK_TO_INITIAL_SITUATION"
	SecondPreventiveFellBackToInitial Execution = "SECOND_PREVENTIVE_FELLBACK_TO_INITIAL_SITUATION"
	InitialSensitivityFailed          Execution = "INITIAL_SENSITIVITY_FAILED"
	PreventiveOptimizationFailed      Execution = "PREVENTIVE_OPTIMIZATION_FAILED"
)

// Cost is a total cost split into its functional and virtual parts.
type Cost struct {
	Total        float64            `json:"total"`
	Functional   float64            `json:"functional"`
	Virtual      float64            `json:"virtual"`
	VirtualCosts map[string]float64 `json:"virtual_costs,omitempty"`
}

func costOf(e *objective.Evaluation) Cost {
	if e == nil {
		return Cost{}
	}
	c := Cost{Total: e.Cost(), Functional: e.FunctionalCost, Virtual: e.VirtualCost()}
	if len(e.VirtualCosts) > 0 {
		c.VirtualCosts = make(map[string]float64, len(e.VirtualCosts))
		for k, v := range e.VirtualCosts {
			c.VirtualCosts[k] = v
		}
	}
	return c
}

// RangeActionResult is the setpoint of an activated range action.
type RangeActionResult struct {
	ID       string  `json:"id"`
	Setpoint float64 `json:"setpoint"`
	Tap      *int    `json:"tap,omitempty"`
}

// StateResult is the outcome of one state.
type StateResult struct {
	State       string `json:"state"`
	Instant     string `json:"instant"`
	Contingency string `json:"contingency,omitempty"`
	Status      Status `json:"status"`

	// Optimized is true for states whose remedial actions were chosen.
	Optimized      bool                `json:"optimized"`
	NetworkActions []string            `json:"network_actions,omitempty"`
	RangeActions   []RangeActionResult `json:"range_actions,omitempty"`
	Cost           *Cost               `json:"cost,omitempty"`

	StopReason      string `json:"stop_reason,omitempty"`
	Depth           int    `json:"depth,omitempty"`
	LeavesEvaluated int64  `json:"leaves_evaluated,omitempty"`
	Error           string `json:"error,omitempty"`
}

// CnecResult is the final flow and margin of a CNEC.
type CnecResult struct {
	ID        string     `json:"id"`
	State     string     `json:"state"`
	Instant   string     `json:"instant"`
	Optimized bool       `json:"optimized"`
	Monitored bool       `json:"monitored"`
	Unit      model.Unit `json:"unit"`
	Computed  bool       `json:"computed"`
	Flow      float64    `json:"flow"`
	Margin    float64    `json:"margin"`
}

// Result is the outcome of a RAO run.
type Result struct {
	ID       string `json:"id,omitempty"`
	Provider string `json:"provider"`
	CracID   string `json:"crac_id"`

	Status           Status    `json:"status"`
	ExecutionDetails Execution `json:"execution_details"`
	Error            string    `json:"error,omitempty"`

	InitialCost Cost `json:"initial_cost"`
	FinalCost   Cost `json:"final_cost"`

	// CostPerInstant is the functional cost of the optimized CNECs of every
	// instant up to and including it.
	CostPerInstant map[string]float64 `json:"cost_per_instant,omitempty"`

	States []StateResult `json:"states"`
	Cnecs  []CnecResult  `json:"cnecs"`

	// Set by post-processors.
	MostLimiting []CnecResult `json:"most_limiting,omitempty"`
	Secure       *bool        `json:"secure,omitempty"`

	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}

// StateResult returns the result of a state, or nil.
func (r *Result) StateResult(stateID string) *StateResult {
	for i := range r.States {
		if r.States[i].State == stateID {
			return &r.States[i]
		}
	}
	return nil
}

// Cnec returns the result of a CNEC, or nil.
func (r *Result) Cnec(id string) *CnecResult {
	for i := range r.Cnecs {
		if r.Cnecs[i].ID == id {
			return &r.Cnecs[i]
		}
	}
	return nil
}

// clone returns a copy whose slices can be modified independently.
func (r *Result) clone() *Result {
	c := *r
	c.States = append([]StateResult(nil), r.States...)
	c.Cnecs = append([]CnecResult(nil), r.Cnecs...)
	c.MostLimiting = append([]CnecResult(nil), r.MostLimiting...)
	if r.CostPerInstant != nil {
		c.CostPerInstant = make(map[string]float64, len(r.CostPerInstant))
		for k, v := range r.CostPerInstant {
			c.CostPerInstant[k] = v
		}
	}
	return &c
}

// costPerInstant returns, for every instant, minus the smallest margin of
// the optimized CNECs of that instant and every earlier one.
func costPerInstant(crac *model.Crac, cnecs []CnecResult) map[string]float64 {
	worst := map[string]float64{}
	seen := map[string]bool{}
	for _, c := range cnecs {
		if !c.Optimized || !c.Computed {
			continue
		}
		if !seen[c.Instant] || -c.Margin > worst[c.Instant] {
			worst[c.Instant] = -c.Margin
			seen[c.Instant] = true
		}
	}
	instants := append([]*model.Instant(nil), crac.Instants()...)
	sort.SliceStable(instants, func(i, j int) bool { return instants[i].Order < instants[j].Order })

	out := make(map[string]float64, len(instants))
	have := false
	running := 0.0
	for _, inst := range instants {
		if seen[inst.ID] && (!have || worst[inst.ID] > running) {
			running = worst[inst.ID]
			have = true
		}
		if have {
			out[inst.ID] = running
		}
	}
	return out
}

// mergeEvaluations combines evaluations of disjoint CNEC groups: the worst
// functional cost wins and virtual costs add up.
func mergeEvaluations(evals ...*objective.Evaluation) *objective.Evaluation {
	out := &objective.Evaluation{VirtualCosts: map[string]float64{}, Status: sensitivity.StatusDefault}
	have := false
	for _, e := range evals {
		if e == nil {
			continue
		}
		if len(e.Limiting) > 0 && (!have || e.FunctionalCost > out.FunctionalCost) {
			out.FunctionalCost = e.FunctionalCost
			have = true
		}
		for k, v := range e.VirtualCosts {
			out.VirtualCosts[k] += v
		}
		out.Limiting = append(out.Limiting, e.Limiting...)
		out.Status = sensitivity.Worst(out.Status, e.Status)
	}
	sort.SliceStable(out.Limiting, func(i, j int) bool { return out.Limiting[i].Margin < out.Limiting[j].Margin })
	return out
}
