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
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianRAO/services/rao/flow"
	"github.com/AleutianAI/AleutianRAO/services/rao/linear"
	"github.com/AleutianAI/AleutianRAO/services/rao/model"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
	"github.com/AleutianAI/AleutianRAO/services/rao/objective"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity/dcflow"
)

// SearchTreeRaoName is the registry name of the search tree RAO.
const SearchTreeRaoName = "SearchTreeRao"

// Input is what a RAO run optimizes.
type Input struct {
	Network *network.Network
	Crac    *model.Crac

	// Glsk and ReferenceProgram feed loop-flow and PTDF sum computations.
	Glsk             model.Glsk
	ReferenceProgram model.ReferenceProgram

	// Variant is the variant holding the initial situation. Empty means
	// network.InitialVariantID. It is never modified.
	Variant string
}

func (in *Input) validate(params Parameters) error {
	switch {
	case in.Network == nil:
		return fmt.Errorf("%w: nil network", ErrInvalidInput)
	case in.Crac == nil:
		return fmt.Errorf("%w: nil CRAC", ErrInvalidInput)
	case params.Objective.LoopFlow != nil && len(in.Glsk) == 0:
		return fmt.Errorf("%w: loop-flow optimization needs a GLSK", ErrInvalidInput)
	case params.Objective.Type == objective.MaxMinRelativeMargin && len(in.Glsk) == 0:
		return fmt.Errorf("%w: relative margins need a GLSK", ErrInvalidInput)
	}
	if in.Variant == "" {
		in.Variant = network.InitialVariantID
	}
	if _, err := in.Network.Variant(in.Variant); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

// Provider runs a remedial action optimization.
type Provider interface {
	Name() string
	Run(ctx context.Context, in Input) (*Result, error)
}

// SearchTreeRao optimizes the preventive perimeter and then every
// contingency scenario with search trees.
//
// Description:
//
//	A run computes the initial flows, optimizes the preventive perimeter,
//	then optimizes the contingency scenarios concurrently, each on its own
//	variant. A second preventive optimization may follow. The run falls
//	back to the initial situation when it ends with a higher cost than it
//	started with.
//
// Thread Safety: Safe for concurrent runs on distinct networks. Runs on
// one network only add and remove their own variants.
type SearchTreeRao struct {
	params  Parameters
	runner  flow.SensitivityRunner
	solver  linear.Solver
	logger  *slog.Logger
	tracing bool
	post    []PostProcessor
	tracer  *runTracer
	now     func() time.Time
}

// Option configures a SearchTreeRao.
type Option func(*SearchTreeRao)

// WithSensitivityRunner sets the sensitivity runner. The default runs the
// reference DC provider.
func WithSensitivityRunner(r flow.SensitivityRunner) Option {
	return func(s *SearchTreeRao) { s.runner = r }
}

// WithSolver sets the LP solver of the range action optimization.
func WithSolver(solver linear.Solver) Option {
	return func(s *SearchTreeRao) { s.solver = solver }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *SearchTreeRao) { s.logger = logger }
}

// WithTracing enables OpenTelemetry spans.
func WithTracing(enabled bool) Option {
	return func(s *SearchTreeRao) { s.tracing = enabled }
}

// WithPostProcessors appends post-processors applied to every result.
func WithPostProcessors(p ...PostProcessor) Option {
	return func(s *SearchTreeRao) { s.post = append(s.post, p...) }
}

// NewSearchTreeRao creates the provider.
//
// Inputs:
//   - params: RAO parameters. Validated here.
//   - opts: Optional collaborators.
//
// Outputs:
//   - *SearchTreeRao: Ready to Run.
//   - error: Non-nil when params are invalid.
func NewSearchTreeRao(params Parameters, opts ...Option) (*SearchTreeRao, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid RAO parameters: %w", err)
	}
	s := &SearchTreeRao{params: params, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.runner == nil {
		s.runner = sensitivity.NewRunner(
			dcflow.New(dcflow.WithLogger(s.logger)),
			sensitivity.WithRunnerLogger(s.logger),
		)
	}
	s.tracer = newRunTracer(s.tracing)
	return s, nil
}

// Name implements Provider.
func (s *SearchTreeRao) Name() string { return SearchTreeRaoName }

// Parameters returns the parameters of the provider.
func (s *SearchTreeRao) Parameters() Parameters { return s.params }

// Run optimizes the remedial actions of a CRAC.
//
// Inputs:
//   - ctx: Cancels the run. The timeout of the parameters is a soft
//     deadline checked between search depths.
//   - in: Network and CRAC.
//
// Outputs:
//   - *Result: Non-nil unless the input is invalid, a perimeter is
//     misconfigured or ctx is done. Sensitivity and optimization failures
//     are reported in the result status.
//   - error: ErrInvalidInput, a *model.ConfigurationError, the context
//     error, or a post-processor error alongside the unprocessed result.
func (s *SearchTreeRao) Run(ctx context.Context, in Input) (res *Result, err error) {
	if err := in.validate(s.params); err != nil {
		return nil, err
	}
	started := s.now()
	ctx, span := s.tracer.startRun(ctx, in)
	defer func() { s.tracer.endRun(span, res, err) }()

	logger := s.logger.With(slog.String("crac", in.Crac.ID()))
	logger.InfoContext(ctx, "RAO started",
		slog.Int("states", len(in.Crac.States())),
		slog.Int("network_actions", len(in.Crac.NetworkActions())),
		slog.Int("range_actions", len(in.Crac.RangeActions())),
	)

	r := s.newRun(in, started, logger)
	defer r.release()

	res, err = r.execute(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "RAO aborted", slog.String("error", err.Error()))
		return nil, err
	}
	res.Provider = s.Name()
	res.CracID = in.Crac.ID()
	res.StartedAt = started
	res.FinishedAt = s.now()
	res.Duration = res.FinishedAt.Sub(started)
	recordRun(res.Status, res.Duration)
	logger.InfoContext(ctx, "RAO finished",
		slog.String("status", string(res.Status)),
		slog.String("execution_details", string(res.ExecutionDetails)),
		slog.Float64("initial_cost", res.InitialCost.Total),
		slog.Float64("final_cost", res.FinalCost.Total),
		slog.Duration("duration", res.Duration),
	)

	processed, perr := applyPostProcessors(ctx, res, s.post)
	if perr != nil {
		logger.WarnContext(ctx, "post-processing failed", slog.String("error", perr.Error()))
	}
	return processed, perr
}
