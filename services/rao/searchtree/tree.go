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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianRAO/services/rao/limits"
	"github.com/AleutianAI/AleutianRAO/services/rao/linear"
	"github.com/AleutianAI/AleutianRAO/services/rao/model"
)

// StopReason says why a search ended.
type StopReason string

const (
	StopNoImprovement   StopReason = "NO_IMPROVEMENT"
	StopCriterionMet    StopReason = "STOP_CRITERION_REACHED"
	StopMaxDepth        StopReason = "MAX_DEPTH_REACHED"
	StopNoCandidate     StopReason = "NO_CANDIDATE"
	StopBudget          StopReason = "BUDGET_EXHAUSTED"
	StopDeadline        StopReason = "DEADLINE_REACHED"
	StopRootFailed      StopReason = "ROOT_EVALUATION_FAILED"
	StopContextCanceled StopReason = "CONTEXT_CANCELED"
)

// Parameters configures one search tree.
type Parameters struct {
	Tree           limits.TreeParameters
	NetworkActions limits.NetworkActionParameters

	// MaxLeaves bounds the leaves evaluated, 0 for unlimited.
	MaxLeaves int
}

// Result is the outcome of a search.
type Result struct {
	State      *model.State
	Root       *Leaf
	Optimal    *Leaf
	Depth      int
	StopReason StopReason
	Budget     UsageReport
}

// SearchTree explores network action combinations for one state.
//
// Description:
//
//	The root holds the forced network actions. Each depth blooms the
//	incumbent, evaluates every child in parallel and keeps the best child
//	when it improves the incumbent enough. Ties keep the first child in
//	bloom order. The search stops when no child improves, when the stop
//	criterion is met, at the maximum depth, or when the budget runs out
//	between two depths.
//
// Thread Safety: A SearchTree runs once. Distinct trees may run
// concurrently on the same network.
type SearchTree struct {
	in        *Input
	params    Parameters
	evaluator *Evaluator
	bloomer   *Bloomer
	budget    *Budget
	tracer    *treeTracer
	logger    *slog.Logger
	progress  *rate.Sometimes
	tracing   bool
}

// Option configures a SearchTree.
type Option func(*SearchTree)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *SearchTree) { t.logger = logger }
}

// WithTracing enables OpenTelemetry spans for trees, depths and leaves.
func WithTracing(enabled bool) Option {
	return func(t *SearchTree) { t.tracing = enabled }
}

// New creates a search tree.
//
// Inputs:
//   - in: The perimeter to optimize and its reference variant.
//   - flows: Computes flows on leaf variants.
//   - optimizer: Optimizes range actions in each leaf.
//   - params: Tree and network action parameters.
//
// Outputs:
//   - *SearchTree: Ready to Run.
//   - error: Non-nil when in is incomplete or params are invalid.
func New(in *Input, flows linear.FlowComputer, optimizer *linear.Optimizer, params Parameters, opts ...Option) (*SearchTree, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := params.NetworkActions.Validate(); err != nil {
		return nil, fmt.Errorf("network action parameters: %w", err)
	}
	if params.Tree.LeavesInParallel < 1 {
		params.Tree.LeavesInParallel = 1
	}
	t := &SearchTree{in: in, params: params}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	t.logger = t.logger.With(slog.String("state", in.Perimeter.MainState.ID()))
	t.evaluator = NewEvaluator(in, flows, optimizer, t.logger)
	t.bloomer = NewBloomer(in, params.NetworkActions, t.logger)
	t.budget = NewBudget(BudgetConfig{
		MaxDepth:  params.Tree.MaximumSearchDepth,
		MaxLeaves: params.MaxLeaves,
		Deadline:  params.Tree.Deadline,
	})
	t.tracer = newTreeTracer(t.logger, t.tracing)
	t.progress = &rate.Sometimes{First: 1, Interval: 5 * time.Second}
	return t, nil
}

// Budget returns the budget tracker of the tree.
func (t *SearchTree) Budget() *Budget { return t.budget }

// Run searches the best leaf.
//
// Outputs:
//   - *Result: Never nil. Optimal is the root when nothing improved it.
//   - error: Wraps ErrRootEvaluationFailed when the root cannot be
//     evaluated, or the context error.
func (t *SearchTree) Run(ctx context.Context) (res *Result, err error) {
	ctx, span := t.tracer.startTree(ctx, t.in, t.budget)
	defer func() { t.tracer.endTree(ctx, span, res, err) }()

	root := NewRootLeaf(t.in.Perimeter.ForcedNetworkActions)
	res = &Result{State: t.in.Perimeter.MainState, Root: root, Optimal: root}
	defer func() {
		res.Budget = t.budget.Report()
		recordTree(res.StopReason, res.Depth)
	}()

	t.evaluateLeaf(ctx, root)
	if !root.Usable() {
		res.StopReason = StopRootFailed
		if ctx.Err() != nil {
			res.StopReason = StopContextCanceled
			return res, ctx.Err()
		}
		return res, fmt.Errorf("%w: %s: %w", ErrRootEvaluationFailed, res.State.ID(), root.Err())
	}
	t.logger.InfoContext(ctx, "root leaf evaluated", slog.String("leaf", root.String()))

	tested := map[string]bool{root.Key(): true}
	best := root
	for {
		if t.params.Tree.ShouldStop(best.Cost(), best.VirtualCost()) {
			res.StopReason = StopCriterionMet
			break
		}
		if t.budget.CheckDepth(best.Depth()) != nil {
			res.StopReason = StopMaxDepth
			break
		}
		if berr := t.budget.Check(); berr != nil {
			res.StopReason = StopBudget
			if errors.Is(berr, ErrDeadlineReached) {
				res.StopReason = StopDeadline
			}
			t.logger.WarnContext(ctx, "search tree stopped early",
				slog.String("reason", berr.Error()),
				slog.String("budget", t.budget.String()),
			)
			break
		}
		if ctx.Err() != nil {
			res.StopReason = StopContextCanceled
			break
		}

		children := t.bloomer.Bloom(best, tested)
		if len(children) == 0 {
			res.StopReason = StopNoCandidate
			break
		}
		for _, c := range children {
			tested[c.Key()] = true
		}
		if err := t.evaluateDepth(ctx, best.Depth()+1, children); err != nil {
			res.StopReason = StopContextCanceled
			break
		}

		next := bestChild(children)
		if next == nil || !t.params.NetworkActions.Improves(next.Cost(), best.Cost()) {
			res.StopReason = StopNoImprovement
			break
		}
		t.logger.InfoContext(ctx, "search tree improved",
			slog.Int("depth", next.Depth()),
			slog.String("leaf", next.String()),
			slog.Float64("previous_cost", best.Cost()),
		)
		best = next
	}

	res.Optimal = best
	res.Depth = best.Depth()
	if res.StopReason == StopContextCanceled {
		return res, ctx.Err()
	}
	return res, nil
}

// evaluateDepth evaluates children with at most LeavesInParallel running
// at once. Leaf failures stay on the leaves.
func (t *SearchTree) evaluateDepth(ctx context.Context, depth int, children []*Leaf) error {
	ctx, span := t.tracer.startDepth(ctx, depth, len(children))
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.params.Tree.LeavesInParallel)
	for _, leaf := range children {
		g.Go(func() error {
			t.evaluateLeaf(gctx, leaf)
			t.progress.Do(func() {
				t.logger.InfoContext(gctx, "search tree progress",
					slog.Int("depth", depth),
					slog.String("budget", t.budget.String()),
				)
			})
			return gctx.Err()
		})
	}
	return g.Wait()
}

func (t *SearchTree) evaluateLeaf(ctx context.Context, leaf *Leaf) {
	ctx, span := t.tracer.startLeaf(ctx, leaf)
	began := time.Now()
	err := t.evaluator.Evaluate(ctx, leaf)
	if err != nil && leaf.IsRoot() && leaf.preEvaluation != nil && ctx.Err() == nil {
		var lerr *linear.LinearOptimizationError
		if errors.As(err, &lerr) {
			// Flows are known; keep the root with its unoptimized setpoints.
			t.logger.WarnContext(ctx, "root range action optimization failed",
				slog.String("status", string(lerr.Status)))
			leaf.status = LeafEvaluated
			leaf.err = nil
		}
	}
	t.budget.RecordLeaf(!leaf.Usable(), leaf.LinearIterations())
	recordLeaf(leaf.Status(), time.Since(began))
	if leaf.Err() != nil {
		t.logger.DebugContext(ctx, "leaf evaluation failed",
			slog.String("leaf", leaf.String()),
			slog.String("error", leaf.Err().Error()),
		)
	}
	t.tracer.endLeaf(span, leaf)
}

// bestChild returns the usable child with the lowest cost, the first in
// bloom order on ties.
func bestChild(children []*Leaf) *Leaf {
	var best *Leaf
	for _, c := range children {
		if !c.Usable() {
			continue
		}
		if best == nil || c.Cost() < best.Cost() {
			best = c
		}
	}
	return best
}
