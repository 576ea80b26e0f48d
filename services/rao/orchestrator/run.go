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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianRAO/services/rao/flow"
	"github.com/AleutianAI/AleutianRAO/services/rao/limits"
	"github.com/AleutianAI/AleutianRAO/services/rao/linear"
	"github.com/AleutianAI/AleutianRAO/services/rao/model"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
	"github.com/AleutianAI/AleutianRAO/services/rao/objective"
	"github.com/AleutianAI/AleutianRAO/services/rao/perimeter"
	"github.com/AleutianAI/AleutianRAO/services/rao/rangeaction"
	"github.com/AleutianAI/AleutianRAO/services/rao/searchtree"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity"
)

// costEpsilon is the cost increase tolerated before falling back to the
// initial situation.
const costEpsilon = 1e-6

// run holds the state of one Run call.
type run struct {
	rao        *SearchTreeRao
	params     Parameters
	in         Input
	crac       *model.Crac
	net        *network.Network
	logger     *slog.Logger
	flows      *flow.Computer
	optimizer  *linear.Optimizer
	limitation *limits.Limitation
	tree       *perimeter.StateTree
	opts       perimeter.Options
	deadline   time.Time

	initialFlows *flow.Result
	initial      *attempt

	mu       sync.Mutex
	variants map[string]bool
}

// attempt is one preventive optimization followed by its contingency
// scenarios.
type attempt struct {
	preventive         *searchtree.Result
	preventiveDuration time.Duration
	postPreventive     *flow.Result
	scenarios          []*scenarioOutcome

	// failure is set when the preventive perimeter could not be optimized.
	failure error

	stateFlows map[*model.State]*flow.Result
	evaluation *objective.Evaluation
}

func (a *attempt) cost() float64 {
	if a.evaluation == nil {
		return 0
	}
	return a.evaluation.Cost()
}

// pass selects the variant of an attempt.
type pass struct {
	second bool

	// detected are combinations tried first by the preventive tree.
	detected [][]*model.NetworkAction

	// replay holds curative leaves to apply instead of optimizing.
	replay map[*model.State]*searchtree.Leaf
}

func (s *SearchTreeRao) newRun(in Input, started time.Time, logger *slog.Logger) *run {
	params := s.params
	r := &run{
		rao:        s,
		params:     params,
		in:         in,
		crac:       in.Crac,
		net:        in.Network,
		logger:     logger,
		limitation: limits.New(params.Limits),
		tree:       perimeter.NewStateTree(in.Crac),
		opts:       perimeter.OptionsFor(params.Objective),
		variants:   map[string]bool{},
	}
	if params.Timeout > 0 {
		r.deadline = started.Add(params.Timeout)
	}

	comp := flow.NewComputer(s.runner)
	if lf := params.Objective.LoopFlow; lf != nil {
		comp = comp.WithLoopFlows(
			flow.NewLoopFlowComputation(in.Glsk, in.ReferenceProgram),
			objective.LoopFlowCnecs(in.Crac.FlowCnecs(), lf.Countries),
		)
	}
	if params.Objective.Type == objective.MaxMinRelativeMargin {
		var optimized []*model.FlowCnec
		for _, c := range in.Crac.FlowCnecs() {
			if c.Optimized {
				optimized = append(optimized, c)
			}
		}
		comp = comp.WithPtdfSums(flow.NewPtdfSumComputation(in.Glsk, params.Objective.PtdfBoundaries), optimized)
	}
	r.flows = comp

	optOpts := []linear.OptimizerOption{linear.WithOptimizerLogger(logger)}
	if s.solver != nil {
		optOpts = append(optOpts, linear.WithSolver(s.solver))
	}
	r.optimizer = linear.NewOptimizer(params.Linear, comp, optOpts...)
	return r
}

// cloneVariant clones a variant the run owns until dropVariant or release.
func (r *run) cloneVariant(source string) (string, *network.Variant, error) {
	id, err := r.net.CloneVariant(source)
	if err != nil {
		return "", nil, fmt.Errorf("cloning variant %s: %w", source, err)
	}
	v, err := r.net.Variant(id)
	if err != nil {
		_ = r.net.RemoveVariant(id)
		return "", nil, err
	}
	r.mu.Lock()
	r.variants[id] = true
	r.mu.Unlock()
	return id, v, nil
}

func (r *run) dropVariant(id string) {
	r.mu.Lock()
	owned := r.variants[id]
	delete(r.variants, id)
	r.mu.Unlock()
	if !owned {
		return
	}
	if err := r.net.RemoveVariant(id); err != nil {
		r.logger.Warn("removing run variant", slog.String("variant", id), slog.String("error", err.Error()))
	}
}

// release removes every variant the run still owns.
func (r *run) release() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.variants))
	for id := range r.variants {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.dropVariant(id)
	}
}

func (r *run) request(cnecs []*model.FlowCnec, actions []*model.RangeAction) sensitivity.Request {
	return sensitivity.Request{
		Cnecs:        cnecs,
		RangeActions: actions,
		Ampere:       r.params.Objective.Unit == model.Ampere,
	}
}

func (r *run) updatesWithTopo() bool {
	lf := r.params.Objective.LoopFlow
	return lf != nil && lf.Approximation.UpdateWithTopo()
}

// fixed returns the commercial flows reused by a pass after topological
// changes, nil when they must be recomputed.
func (r *run) fixed() *flow.Result {
	if r.updatesWithTopo() {
		return nil
	}
	return r.initialFlows
}

// fixedFrom returns the commercial flows a search tree starts from.
func (r *run) fixedFrom(current *flow.Result) *flow.Result {
	if r.updatesWithTopo() {
		return current
	}
	return r.initialFlows
}

func (r *run) objectiveFor(p *perimeter.OptimizationPerimeter) *objective.Function {
	in := objective.Inputs{
		Optimized: p.Optimized,
		Monitored: p.Monitored,
		LoopFlow:  p.LoopFlow,
		Initial:   r.initialFlows,
	}
	if !p.MainState.IsPreventive() {
		in.UnoptimizedOperators = r.params.Curative.OperatorsNotToOptimize
	}
	return objective.New(r.params.Objective, in)
}

// search runs one search tree with the run deadline.
func (r *run) search(ctx context.Context, in *searchtree.Input, tp limits.TreeParameters) (*searchtree.Result, error) {
	tp.Deadline = r.deadline
	t, err := searchtree.New(in, r.flows, r.optimizer, searchtree.Parameters{
		Tree:           tp,
		NetworkActions: r.params.NetworkActions,
		MaxLeaves:      r.params.MaxLeavesPerTree,
	}, searchtree.WithLogger(r.logger), searchtree.WithTracing(r.rao.tracing))
	if err != nil {
		return nil, err
	}
	return t.Run(ctx)
}

// execute runs every step and builds the result.
func (r *run) execute(ctx context.Context) (*Result, error) {
	initialID, initialVariant, err := r.cloneVariant(r.in.Variant)
	if err != nil {
		return nil, err
	}

	sctx, span := r.rao.tracer.startStep(ctx, "initial_sensitivity")
	initial, err := r.flows.Compute(sctx, initialVariant, r.request(r.crac.FlowCnecs(), r.crac.RangeActions()), nil)
	span.End()
	if err != nil {
		return nil, fmt.Errorf("initial sensitivity computation: %w", err)
	}
	if initial.Status() == sensitivity.StatusFailure {
		r.logger.ErrorContext(ctx, "initial sensitivity computation failed")
		return r.failedResult(InitialSensitivityFailed, ErrInitialSensitivityFailed, nil), nil
	}
	r.initialFlows = initial
	r.initial = r.initialAttempt()
	logCosts(ctx, r.logger, "initial situation", costOf(r.initial.evaluation))

	first, err := r.runAttempt(ctx, initialID, pass{})
	if err != nil {
		return nil, err
	}
	if first.failure != nil {
		r.logger.ErrorContext(ctx, "preventive optimization failed", slog.String("error", first.failure.Error()))
		return r.failedResult(PreventiveOptimizationFailed, first.failure, first), nil
	}
	logCosts(ctx, r.logger, "first preventive optimization finished", costOf(first.evaluation))

	chosen, execution := first, FirstPreventiveOnly
	if r.shouldRunSecondPreventive(first) {
		second, err := r.runAttempt(ctx, initialID, r.secondPass(first))
		if err != nil {
			return nil, err
		}
		switch {
		case second.failure != nil:
			r.logger.WarnContext(ctx, "second preventive optimization failed, keeping the first",
				slog.String("error", second.failure.Error()))
			execution = SecondPreventiveFellBackToFirst
		case first.status() == StatusFailure && second.status() != StatusFailure,
			second.cost() <= first.cost():
			logCosts(ctx, r.logger, "second preventive optimization kept", costOf(second.evaluation))
			chosen, execution = second, SecondPreventiveImprovedFirst
		default:
			r.logger.InfoContext(ctx, "second preventive optimization did not improve the first",
				slog.Float64("first_cost", first.cost()),
				slog.Float64("second_cost", second.cost()),
			)
			execution = SecondPreventiveFellBackToFirst
		}
	}

	if r.params.FallbackToInitialOnCostIncrease && chosen.cost() > r.initial.cost()+costEpsilon {
		r.logger.WarnContext(ctx, "RAO increased the overall cost, falling back to the initial situation",
			slog.Float64("initial_cost", r.initial.cost()),
			slog.Float64("final_cost", chosen.cost()),
		)
		fellBack := FirstPreventiveFellBackToInitial
		if execution != FirstPreventiveOnly {
			fellBack = SecondPreventiveFellBackToInitial
		}
		return r.resultOf(r.initial, fellBack), nil
	}
	return r.resultOf(chosen, execution), nil
}

// initialAttempt describes the initial situation as an attempt without
// any remedial action.
func (r *run) initialAttempt() *attempt {
	a := &attempt{stateFlows: map[*model.State]*flow.Result{}}
	for _, s := range r.crac.States() {
		a.stateFlows[s] = r.initialFlows
	}
	a.evaluation = r.evaluate(a.stateFlows)
	return a
}

// runAttempt optimizes the preventive perimeter from the initial variant
// and then the contingency scenarios.
//
// Outputs:
//   - *attempt: failure is set when the preventive root cannot be
//     evaluated or the post-preventive flows fail.
//   - error: Configuration errors of the preventive perimeter, or the
//     context error.
func (r *run) runAttempt(ctx context.Context, initialID string, p pass) (*attempt, error) {
	step := "preventive"
	if p.second {
		step = "second_preventive"
	}
	ctx, span := r.rao.tracer.startStep(ctx, step)
	defer span.End()

	var (
		perim *perimeter.OptimizationPerimeter
		err   error
	)
	if p.second {
		perim, err = perimeter.Everything(r.crac, r.initialFlows, r.opts)
	} else {
		perim, err = perimeter.Preventive(r.crac, r.tree, r.initialFlows, r.opts)
	}
	if err != nil {
		return nil, fmt.Errorf("preventive perimeter: %w", err)
	}
	initialVariant, err := r.net.Variant(initialID)
	if err != nil {
		return nil, err
	}
	pre, err := rangeaction.NewSetpointResult(initialVariant, perim.RangeActions)
	if err != nil {
		return nil, fmt.Errorf("preventive perimeter: %w", err)
	}

	a := &attempt{}
	began := r.rao.now()
	a.preventive, err = r.search(ctx, &searchtree.Input{
		Network:              r.net,
		ReferenceVariant:     initialID,
		Perimeter:            perim,
		Objective:            r.objectiveFor(perim),
		PrePerimeter:         pre,
		Fixed:                r.initialFlows,
		Limits:               r.limitation.For(perim.MainState),
		DetectedCombinations: p.detected,
	}, r.params.PreventiveTree)
	a.preventiveDuration = r.rao.now().Sub(began)
	if err != nil {
		if errors.Is(err, searchtree.ErrRootEvaluationFailed) {
			a.failure = fmt.Errorf("%w: %w", ErrPreventiveFailed, err)
			return a, nil
		}
		return nil, err
	}

	id, v, err := r.cloneVariant(initialID)
	if err != nil {
		return nil, err
	}
	if err := a.preventive.Optimal.ApplyTo(v, perim.MainState); err != nil {
		a.failure = fmt.Errorf("%w: applying preventive remedial actions: %w", ErrPreventiveFailed, err)
		return a, nil
	}
	post, err := r.flows.Compute(ctx, v, r.request(r.crac.FlowCnecs(), nil), r.fixed())
	if err != nil {
		return nil, err
	}
	if post.Status() == sensitivity.StatusFailure {
		a.failure = fmt.Errorf("%w: post-preventive sensitivity computation failed", ErrPreventiveFailed)
		return a, nil
	}
	a.postPreventive = post

	preventiveCost := a.preventive.Optimal.Cost()
	if r.skipCurative(preventiveCost) {
		r.logger.InfoContext(ctx, "preventive perimeter is unsecure, curative optimization skipped",
			slog.Float64("preventive_cost", preventiveCost))
	} else {
		sctx, sspan := r.rao.tracer.startStep(ctx, "contingency_scenarios",
			attribute.Int("rao.scenarios", len(r.tree.Scenarios())))
		a.scenarios, err = r.optimizeScenarios(sctx, id, post, preventiveCost, p.replay)
		sspan.End()
		if err != nil {
			return nil, err
		}
	}
	r.dropVariant(id)

	a.stateFlows = map[*model.State]*flow.Result{}
	for _, s := range r.crac.States() {
		a.stateFlows[s] = post
	}
	for _, o := range a.scenarios {
		for s, f := range o.flows {
			a.stateFlows[s] = f
		}
	}
	a.evaluation = r.evaluate(a.stateFlows)
	return a, nil
}

// skipCurative reports whether curative states are left alone because
// the preventive perimeter cannot be secured.
func (r *run) skipCurative(preventiveCost float64) bool {
	c := r.params.Curative
	return c.StopCriterion == CurativeSecure && preventiveCost > 0 && !c.EnforceCurativeSecurity
}

// shouldRunSecondPreventive decides on the second preventive optimization
// from the outcome of the first.
func (r *run) shouldRunSecondPreventive(first *attempt) bool {
	sp := r.params.SecondPreventive
	if sp.Condition == "" || sp.Condition == SecondPreventiveDisabled {
		return false
	}
	if !r.deadline.IsZero() && r.rao.now().Add(first.preventiveDuration).After(r.deadline) {
		r.logger.Info("not enough time left for a second preventive optimization",
			slog.Time("deadline", r.deadline),
			slog.Duration("estimated", first.preventiveDuration),
		)
		return false
	}
	if sp.Condition == SecondPreventiveCostIncrease && first.cost() <= r.initial.cost() {
		return false
	}
	preventiveCost := first.preventive.Optimal.Cost()
	if r.params.Curative.StopCriterion == CurativeSecure {
		if preventiveCost > 0 {
			return false
		}
		return first.anyCurativeUnsecure()
	}
	return first.cost() > preventiveCost-r.params.Curative.MinObjectiveImprovement
}

func (r *run) secondPass(first *attempt) pass {
	p := pass{second: true}
	if r.params.SecondPreventive.HintFromFirstPreventive {
		if nas := first.preventive.Optimal.NetworkActions(); len(nas) > 0 {
			p.detected = [][]*model.NetworkAction{nas}
		}
	}
	if !r.params.SecondPreventive.ReOptimizeCurative {
		p.replay = map[*model.State]*searchtree.Leaf{}
		for _, o := range first.scenarios {
			for s, leaf := range o.leaves {
				p.replay[s] = leaf
			}
		}
	}
	return p
}

// anyCurativeUnsecure reports whether an optimized post-contingency state
// kept a violation or a virtual cost.
func (a *attempt) anyCurativeUnsecure() bool {
	for _, o := range a.scenarios {
		for _, sr := range o.states {
			if sr.Status == StatusFailure {
				return true
			}
			if sr.Cost != nil && (sr.Cost.Functional >= 0 || sr.Cost.Virtual > costEpsilon) {
				return true
			}
		}
	}
	return false
}

func (a *attempt) status() Status {
	s := StatusSuccess
	for _, o := range a.scenarios {
		s = Worst(s, o.status)
	}
	return s
}
