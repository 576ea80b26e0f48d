// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runner executes RAO runs on cases and stores their results. It
// is shared by the CLI and the HTTP API.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/AleutianRAO/pkg/validation"
	"github.com/AleutianAI/AleutianRAO/services/rao/config"
	"github.com/AleutianAI/AleutianRAO/services/rao/orchestrator"
	"github.com/AleutianAI/AleutianRAO/services/rao/scenario"
	"github.com/AleutianAI/AleutianRAO/services/rao/store"
)

var (
	// ErrInvalidRequest is returned for a request that names no case, an
	// unknown case, or a case that does not build.
	ErrInvalidRequest = errors.New("invalid run request")

	// ErrBusy is returned when no run slot frees up before the context ends.
	ErrBusy = errors.New("too many concurrent runs")
)

// Request describes one run.
type Request struct {
	// CaseName selects a builtin case when Case is nil.
	CaseName string `json:"case_name,omitempty"`

	// Case is an inline case.
	Case *scenario.Case `json:"case,omitempty"`

	// Provider defaults to the search-tree RAO.
	Provider string `json:"provider,omitempty"`

	// Parameters replace the configured optimization parameters.
	Parameters *orchestrator.Parameters `json:"parameters,omitempty"`
}

// Runner builds cases, runs providers and saves results.
//
// Thread Safety: Safe for concurrent use. At most MaxConcurrentRuns runs
// execute at once.
type Runner struct {
	registry *orchestrator.Registry
	store    *store.Store
	params   func() config.RaoParameters
	slots    *semaphore.Weighted
	logger   *slog.Logger
	extra    []orchestrator.Option
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger handed to the runner and to every provider.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithRegistry replaces the default provider registry.
func WithRegistry(reg *orchestrator.Registry) Option {
	return func(r *Runner) { r.registry = reg }
}

// WithProviderOptions adds options to every provider, after the
// configured ones.
func WithProviderOptions(opts ...orchestrator.Option) Option {
	return func(r *Runner) { r.extra = append(r.extra, opts...) }
}

// New creates a runner.
//
// Inputs:
//   - st: Store of finished runs. Nil skips saving.
//   - params: Returns the current configuration. Called once per run so a
//     watched file takes effect on the next run.
func New(st *store.Store, params func() config.RaoParameters, opts ...Option) *Runner {
	r := &Runner{store: st, params: params}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.registry == nil {
		r.registry = orchestrator.NewDefaultRegistry()
	}
	slots := params().Server.MaxConcurrentRuns
	if slots < 1 {
		slots = 1
	}
	r.slots = semaphore.NewWeighted(int64(slots))
	return r
}

// Run executes a request and saves its result.
//
// Outputs:
//   - *store.Record: The saved run. Its ID is empty when the runner has no
//     store.
//   - error: Wraps ErrInvalidRequest for bad cases or parameters, ErrBusy
//     when ctx ends while waiting for a slot, or the provider error. A
//     post-processor error is logged and the run is still returned.
func (r *Runner) Run(ctx context.Context, req Request) (*store.Record, error) {
	start := time.Now()
	rec, err := r.run(ctx, req)
	recordRun(ctx, providerName(req), outcomeOf(rec, err), time.Since(start))
	return rec, err
}

func (r *Runner) run(ctx context.Context, req Request) (*store.Record, error) {
	c, err := resolveCase(req)
	if err != nil {
		return nil, err
	}
	built, err := c.Build()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	cfg := r.params()
	params := cfg.Optimization
	if req.Parameters != nil {
		params = *req.Parameters
	}
	name := providerName(req)
	opts := append(cfg.ProviderOptions(), orchestrator.WithLogger(r.logger))
	opts = append(opts, r.extra...)
	provider, err := r.registry.New(name, params, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	waitStart := time.Now()
	if err := r.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBusy, err)
	}
	recordSlotWait(ctx, time.Since(waitStart))
	defer r.slots.Release(1)

	began := time.Now()
	res, err := provider.Run(ctx, orchestrator.Input{
		Network:          built.Network,
		Crac:             built.Crac,
		Glsk:             built.Glsk,
		ReferenceProgram: built.ReferenceProgram,
	})
	if err != nil && res == nil {
		if errors.Is(err, orchestrator.ErrInvalidInput) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		return nil, fmt.Errorf("case %s: %w", c.Name, err)
	}
	if err != nil {
		r.logger.WarnContext(ctx, "post-processing failed", slog.String("case", c.Name), slog.String("error", err.Error()))
	}
	r.logger.InfoContext(ctx, "run finished",
		slog.String("case", c.Name),
		slog.String("status", string(res.Status)),
		slog.String("execution", string(res.ExecutionDetails)),
		slog.Float64("final_cost", res.FinalCost.Total),
		slog.Duration("elapsed", time.Since(began)),
	)

	if r.store == nil {
		return &store.Record{Case: c.Name, CreatedAt: time.Now().UTC(), Result: res}, nil
	}
	rec, err := r.store.Save(ctx, c.Name, res)
	if err != nil {
		return nil, fmt.Errorf("case %s: %w", c.Name, err)
	}
	return rec, nil
}

func providerName(req Request) string {
	if req.Provider == "" {
		return orchestrator.SearchTreeRaoName
	}
	return req.Provider
}

func outcomeOf(rec *store.Record, err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "rejected"
	case errors.Is(err, ErrBusy):
		return "busy"
	case err != nil || rec == nil || rec.Result == nil:
		return "error"
	default:
		return string(rec.Result.Status)
	}
}

func resolveCase(req Request) (*scenario.Case, error) {
	switch {
	case req.Case != nil:
		if req.Case.Name == "" {
			req.Case.Name = req.Case.Crac.ID
		}
		return req.Case, nil
	case req.CaseName != "":
		name, err := validation.SanitizeCaseName(req.CaseName)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		c, err := scenario.Builtin(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: no case given", ErrInvalidRequest)
	}
}
