// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package searchtree

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianRAO/services/rao/flow"
	"github.com/AleutianAI/AleutianRAO/services/rao/linear"
	"github.com/AleutianAI/AleutianRAO/services/rao/model"
	"github.com/AleutianAI/AleutianRAO/services/rao/objective"
	"github.com/AleutianAI/AleutianRAO/services/rao/rangeaction"
)

// LeafStatus is the evaluation state of a leaf.
type LeafStatus string

const (
	LeafCreated           LeafStatus = "CREATED"
	LeafEvaluationRunning LeafStatus = "EVALUATION_RUNNING"
	LeafEvaluated         LeafStatus = "EVALUATION_SUCCESS"
	LeafEvaluationError   LeafStatus = "EVALUATION_ERROR"
	LeafOptimized         LeafStatus = "OPTIMIZED"
)

// Leaf is one node of the search tree: a combination of network actions and,
// once evaluated, the best range action setpoints found with it.
//
// Description:
//
//	A leaf goes CREATED -> EVALUATION_RUNNING -> EVALUATION_SUCCESS once its
//	flows are computed, then OPTIMIZED once its range actions are
//	optimized. Any failure ends in EVALUATION_ERROR, and the leaf then
//	costs +Inf.
//
// Thread Safety: A leaf is written by the goroutine evaluating it and only
// read once the evaluation returned.
type Leaf struct {
	parent  *Leaf
	actions []*model.NetworkAction
	depth   int

	// removeRangeActions restarts range actions from their pre-perimeter
	// setpoints instead of the parent's.
	removeRangeActions bool

	status LeafStatus
	err    error

	preFlows      *flow.Result
	preEvaluation *objective.Evaluation

	activation   *rangeaction.ActivationResult
	flows        *flow.Result
	evaluation   *objective.Evaluation
	linearStatus linear.Status
	iterations   int
	rangeActions []*model.RangeAction
}

// NewRootLeaf creates the root of a tree. Forced network actions are part of
// every leaf.
func NewRootLeaf(forced []*model.NetworkAction) *Leaf {
	return &Leaf{actions: append([]*model.NetworkAction(nil), forced...), status: LeafCreated}
}

// Child creates a leaf with extra network actions on top of l.
func (l *Leaf) Child(extra []*model.NetworkAction, removeRangeActions bool) *Leaf {
	actions := make([]*model.NetworkAction, 0, len(l.actions)+len(extra))
	actions = append(actions, l.actions...)
	actions = append(actions, extra...)
	return &Leaf{
		parent:             l,
		actions:            actions,
		depth:              l.depth + 1,
		removeRangeActions: removeRangeActions,
		status:             LeafCreated,
	}
}

// Parent returns the leaf l was bloomed from, nil for the root.
func (l *Leaf) Parent() *Leaf { return l.parent }

// IsRoot reports whether l is the root.
func (l *Leaf) IsRoot() bool { return l.parent == nil }

// Depth returns the number of bloom steps from the root.
func (l *Leaf) Depth() int { return l.depth }

// NetworkActions returns the network actions of the leaf in application
// order.
func (l *Leaf) NetworkActions() []*model.NetworkAction { return l.actions }

// RemovesRangeActions reports whether the leaf restarts range actions from
// their pre-perimeter setpoints.
func (l *Leaf) RemovesRangeActions() bool { return l.removeRangeActions }

// Key identifies the set of network actions, independently of order.
func (l *Leaf) Key() string { return combinationKey(l.actions) }

func combinationKey(actions []*model.NetworkAction) string {
	ids := make([]string, len(actions))
	for i, na := range actions {
		ids[i] = na.ID
	}
	sort.Strings(ids)
	return strings.Join(ids, "+")
}

// Has reports whether the leaf already contains a network action.
func (l *Leaf) Has(na *model.NetworkAction) bool {
	for _, a := range l.actions {
		if a.ID == na.ID {
			return true
		}
	}
	return false
}

// Status returns the evaluation status.
func (l *Leaf) Status() LeafStatus { return l.status }

// Err returns the evaluation error of an EVALUATION_ERROR leaf.
func (l *Leaf) Err() error { return l.err }

// Usable reports whether the leaf can be compared.
func (l *Leaf) Usable() bool { return l.status == LeafEvaluated || l.status == LeafOptimized }

// Evaluation returns the best evaluation of the leaf: after range action
// optimization when it happened, else before.
func (l *Leaf) Evaluation() *objective.Evaluation {
	if l.status == LeafOptimized {
		return l.evaluation
	}
	return l.preEvaluation
}

// PreOptimizationEvaluation returns the evaluation before range actions
// were optimized.
func (l *Leaf) PreOptimizationEvaluation() *objective.Evaluation { return l.preEvaluation }

// Cost returns the total cost of the leaf, +Inf when it is not usable.
func (l *Leaf) Cost() float64 {
	if !l.Usable() || l.Evaluation() == nil {
		return math.Inf(1)
	}
	return l.Evaluation().Cost()
}

// VirtualCost returns the virtual part of the cost, 0 when not usable.
func (l *Leaf) VirtualCost() float64 {
	if !l.Usable() || l.Evaluation() == nil {
		return 0
	}
	return l.Evaluation().VirtualCost()
}

// Flows returns the flows after range action optimization, or before when
// the leaf was not optimized.
func (l *Leaf) Flows() *flow.Result {
	if l.status == LeafOptimized {
		return l.flows
	}
	return l.preFlows
}

// PreOptimizationFlows returns the flows before range action optimization.
func (l *Leaf) PreOptimizationFlows() *flow.Result { return l.preFlows }

// Activation returns the range action setpoints of the leaf.
func (l *Leaf) Activation() *rangeaction.ActivationResult { return l.activation }

// RangeActions returns the range actions optimized in the leaf.
func (l *Leaf) RangeActions() []*model.RangeAction { return l.rangeActions }

// LinearStatus returns the final status of the range action optimization.
func (l *Leaf) LinearStatus() linear.Status { return l.linearStatus }

// LinearIterations returns the number of linear iterations run.
func (l *Leaf) LinearIterations() int { return l.iterations }

// String describes the leaf for logs.
func (l *Leaf) String() string {
	name := "root"
	if len(l.actions) > 0 {
		name = l.Key()
	}
	if !l.Usable() {
		return fmt.Sprintf("leaf[%s] %s", name, l.status)
	}
	return fmt.Sprintf("leaf[%s] %s cost=%.2f (functional %.2f, virtual %.2f)",
		name, l.status, l.Cost(), l.Evaluation().FunctionalCost, l.VirtualCost())
}

func (l *Leaf) fail(err error) error {
	l.status = LeafEvaluationError
	l.err = err
	return err
}
