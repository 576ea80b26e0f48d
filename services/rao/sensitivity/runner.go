// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sensitivity

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/AleutianRAO/services/rao/network"
)

// Provider computes flows and sensitivities on a network variant.
//
// Implementations must not modify the variant. A nil error with a FAILURE
// result and a non-nil error are both treated as a failed computation.
type Provider interface {
	Name() string
	Compute(ctx context.Context, v *network.Variant, req Request) (*Result, error)
}

// Runner runs a primary provider and falls back to a secondary one when the
// primary fails or its breaker is open.
//
// Thread Safety: Safe for concurrent use.
type Runner struct {
	primary  Provider
	fallback Provider
	breaker  *Breaker
	logger   *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithFallback sets the fallback provider.
func WithFallback(p Provider) RunnerOption {
	return func(r *Runner) { r.fallback = p }
}

// WithBreaker sets the breaker configuration of the primary provider.
func WithBreaker(config BreakerConfig) RunnerOption {
	return func(r *Runner) { r.breaker = NewBreaker(config) }
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner creates a runner around a primary provider.
func NewRunner(primary Provider, opts ...RunnerOption) *Runner {
	r := &Runner{
		primary: primary,
		breaker: NewBreaker(DefaultBreakerConfig()),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Breaker returns the breaker guarding the primary provider.
func (r *Runner) Breaker() *Breaker { return r.breaker }

// Run computes a request on a variant.
//
// Description:
//
//	The primary provider is tried first unless its breaker is open. When it
//	fails the fallback provider is tried and its result is stamped FALLBACK.
//	When everything fails a FAILURE result is returned, never nil.
//
// Outputs:
//   - *Result: The computation result, nil only with an error.
//   - error: Non-nil only when ctx is done.
func (r *Runner) Run(ctx context.Context, v *network.Variant, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if r.primary != nil {
		if res, ok := r.runPrimary(ctx, v, req); ok {
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	if r.fallback == nil {
		name := ""
		if r.primary != nil {
			name = r.primary.Name()
		}
		return FailedResult(req, name), nil
	}

	res, err := r.fallback.Compute(ctx, v, req)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil || res == nil {
		r.logger.Warn("fallback sensitivity computation failed",
			slog.String("provider", r.fallback.Name()),
			slog.String("variant", v.ID()),
			slog.Any("error", err))
		return FailedResult(req, r.fallback.Name()), nil
	}
	if r.primary == nil {
		return res, nil
	}
	return res.Degraded(), nil
}

func (r *Runner) runPrimary(ctx context.Context, v *network.Variant, req Request) (*Result, bool) {
	allowed, release := r.breaker.Allow()
	if !allowed {
		r.logger.Debug("sensitivity breaker open, skipping primary",
			slog.String("provider", r.primary.Name()))
		return nil, false
	}
	if release != nil {
		defer release()
	}

	res, err := r.primary.Compute(ctx, v, req)
	if ctx.Err() != nil {
		return nil, false
	}
	if err != nil || res == nil || res.Status() == StatusFailure {
		r.breaker.RecordFailure()
		r.logger.Warn("sensitivity computation failed",
			slog.String("provider", r.primary.Name()),
			slog.String("variant", v.ID()),
			slog.Any("error", err),
			slog.String("breaker", r.breaker.State().String()))
		return nil, false
	}
	r.breaker.RecordSuccess()
	return res, true
}
