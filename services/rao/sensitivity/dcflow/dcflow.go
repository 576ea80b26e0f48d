// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dcflow is a linear (DC) load flow sensitivity provider.
//
// Branch admittance is b = 100/x MW/rad (x in per unit on a 100 MVA base).
// The flow of a closed branch is b(θfrom - θto + α) where α is the phase
// shift of its PST. The first declared bus of every island is its slack and
// absorbs the island imbalance.
//
// Power transfer distribution factors come from the inverse of the reduced
// susceptance matrix of each island. PST sensitivities are per degree, all
// other sensitivities per MW.
package dcflow

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/AleutianAI/AleutianRAO/services/rao/model"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity"
)

// Method selects how the reduced susceptance matrix is inverted.
type Method string

const (
	// MethodInverse uses an LU inverse and fails on singular islands.
	MethodInverse Method = "inverse"
	// MethodPseudoInverse uses an SVD pseudo-inverse, which tolerates
	// singular islands at the cost of accuracy.
	MethodPseudoInverse Method = "pseudo-inverse"
)

const baseMVA = 100.0

// Provider computes DC flows and sensitivities.
//
// Thread Safety: Safe for concurrent use. Variants are only read.
type Provider struct {
	name        string
	method      Method
	parallelism int
	logger      *slog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithMethod sets the inversion method.
func WithMethod(m Method) Option { return func(p *Provider) { p.method = m } }

// WithParallelism bounds the number of contingencies solved concurrently.
func WithParallelism(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.parallelism = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Provider) { p.logger = l } }

// WithName sets the provider name reported in results.
func WithName(name string) Option { return func(p *Provider) { p.name = name } }

// New creates a provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:        "dc",
		method:      MethodInverse,
		parallelism: runtime.NumCPU(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements sensitivity.Provider.
func (p *Provider) Name() string { return p.name }

// Compute implements sensitivity.Provider.
//
// Description:
//
//	Solves the basecase and every contingency referenced by the requested
//	CNECs. A state whose matrix cannot be inverted is reported FAILURE;
//	the error return is only used for context cancellation.
func (p *Provider) Compute(ctx context.Context, v *network.Variant, req sensitivity.Request) (*sensitivity.Result, error) {
	contingencies := map[string]*model.Contingency{"": nil}
	cnecsByCont := map[string][]*model.FlowCnec{}
	for _, c := range req.Cnecs {
		id := c.State().ContingencyID()
		if id != "" {
			contingencies[id] = c.State().Contingency
		}
		cnecsByCont[id] = append(cnecsByCont[id], c)
	}

	var mu sync.Mutex
	states := make(map[string]*sensitivity.StateResult, len(contingencies))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for id, cont := range contingencies {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sr := p.solveState(v, cont, cnecsByCont[id], req)
			mu.Lock()
			states[id] = sr
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sensitivity.NewResult(req, p.name, states), nil
}

// system is the solved DC system of one state.
type system struct {
	grid     *network.Grid
	open     map[string]bool
	busIdx   map[string]int
	island   map[string]int
	x        *mat.Dense
	theta    []float64
	variant  *network.Variant
}

func (p *Provider) solveState(v *network.Variant, cont *model.Contingency, cnecs []*model.FlowCnec, req sensitivity.Request) *sensitivity.StateResult {
	sys, err := p.solve(v, cont)
	if err != nil {
		name := "basecase"
		if cont != nil {
			name = cont.ID
		}
		p.logger.Warn("dc load flow failed",
			slog.String("variant", v.ID()),
			slog.String("state", name),
			slog.String("error", err.Error()))
		return sensitivity.NewStateResult(sensitivity.StatusFailure)
	}

	sr := sensitivity.NewStateResult(sensitivity.StatusDefault)
	vars := req.Variables()
	for _, cnec := range cnecs {
		br, ok := sys.grid.Branch(cnec.NetworkElement)
		if !ok {
			continue
		}
		flow := sys.flow(br)
		sens := make([]float64, len(vars))
		for i, variable := range vars {
			sens[i] = sys.sensitivity(br, variable, req)
		}
		for _, side := range cnec.MonitoredSides() {
			sign := 1.0
			if side == network.SideTwo {
				sign = -1
			}
			sr.SetReferenceFlow(cnec.ID, side, sign*flow)
			if req.Ampere {
				kv := cnec.NominalVoltage(side)
				if kv > 0 {
					sr.SetReferenceIntensity(cnec.ID, side, sign*flow*1000/(math.Sqrt(3)*kv))
				}
			}
			for i, variable := range vars {
				sr.SetSensitivity(variable, cnec.ID, side, sign*sens[i])
			}
		}
	}
	return sr
}

func (p *Provider) solve(v *network.Variant, cont *model.Contingency) (*system, error) {
	grid := v.Grid()
	sys := &system{
		grid:    grid,
		open:    map[string]bool{},
		variant: v,
	}
	for _, id := range v.OpenBranches() {
		sys.open[id] = true
	}
	extra := map[string]bool{}
	if cont != nil {
		for _, el := range cont.Elements {
			extra[el] = true
			sys.open[el] = true
		}
	}

	islands, busToIsland := network.IslandsWithout(v, extra)
	sys.island = busToIsland

	// Reduced index: every non-slack bus gets a column.
	sys.busIdx = map[string]int{}
	n := 0
	for _, island := range islands {
		for _, bus := range island[1:] {
			sys.busIdx[bus] = n
			n++
		}
	}

	sys.theta = make([]float64, n)
	if n == 0 {
		return sys, nil
	}

	b := mat.NewDense(n, n, nil)
	injection := make([]float64, n)
	for _, id := range grid.BranchIDs() {
		if sys.open[id] {
			continue
		}
		br, _ := grid.Branch(id)
		y := baseMVA / br.Reactance
		fi, fok := sys.busIdx[br.From]
		ti, tok := sys.busIdx[br.To]
		if fok {
			b.Set(fi, fi, b.At(fi, fi)+y)
		}
		if tok {
			b.Set(ti, ti, b.At(ti, ti)+y)
		}
		if fok && tok {
			b.Set(fi, ti, b.At(fi, ti)-y)
			b.Set(ti, fi, b.At(ti, fi)-y)
		}
		if alpha := v.Angle(id) * math.Pi / 180; alpha != 0 {
			if fok {
				injection[fi] -= y * alpha
			}
			if tok {
				injection[ti] += y * alpha
			}
		}
	}
	for bus, pw := range v.BusInjection() {
		if i, ok := sys.busIdx[bus]; ok {
			injection[i] += pw
		}
	}

	x, err := invert(b, p.method)
	if err != nil {
		return nil, err
	}
	sys.x = x
	for i := 0; i < n; i++ {
		sum := 0.0
		for j := 0; j < n; j++ {
			sum += x.At(i, j) * injection[j]
		}
		sys.theta[i] = sum
	}
	return sys, nil
}

func invert(b *mat.Dense, method Method) (*mat.Dense, error) {
	n, _ := b.Dims()
	x := mat.NewDense(n, n, nil)
	switch method {
	case MethodPseudoInverse:
		var svd mat.SVD
		if !svd.Factorize(b, mat.SVDFull) {
			return nil, fmt.Errorf("svd factorization failed")
		}
		var u, vm mat.Dense
		svd.UTo(&u)
		svd.VTo(&vm)
		values := svd.Values(nil)
		cutoff := 1e-10 * values[0]
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				sum := 0.0
				for k, s := range values {
					if s > cutoff {
						sum += vm.At(i, k) * u.At(j, k) / s
					}
				}
				x.Set(i, j, sum)
			}
		}
		return x, nil
	default:
		if err := x.Inverse(b); err != nil {
			return nil, fmt.Errorf("susceptance matrix not invertible: %w", err)
		}
		return x, nil
	}
}

func (s *system) angle(bus string) float64 {
	if i, ok := s.busIdx[bus]; ok {
		return s.theta[i]
	}
	return 0
}

func (s *system) flow(br network.Branch) float64 {
	if s.open[br.ID] {
		return 0
	}
	y := baseMVA / br.Reactance
	alpha := s.variant.Angle(br.ID) * math.Pi / 180
	return y * (s.angle(br.From) - s.angle(br.To) + alpha)
}

// ptdf is the flow change on a branch for one MW injected at a bus and
// withdrawn at the slack of its island.
func (s *system) ptdf(br network.Branch, bus string) float64 {
	if s.open[br.ID] || s.x == nil || s.island[bus] != s.island[br.From] {
		return 0
	}
	i, ok := s.busIdx[bus]
	if !ok {
		return 0
	}
	xf, xt := 0.0, 0.0
	if f, ok := s.busIdx[br.From]; ok {
		xf = s.x.At(f, i)
	}
	if t, ok := s.busIdx[br.To]; ok {
		xt = s.x.At(t, i)
	}
	return baseMVA / br.Reactance * (xf - xt)
}

func (s *system) sensitivity(br network.Branch, v sensitivity.Variable, req sensitivity.Request) float64 {
	if v.Kind == sensitivity.ZoneVariable {
		total := 0.0
		for injID, key := range req.Glsk.NormalizedKeys(v.ID) {
			inj, ok := s.grid.Injection(injID)
			if ok {
				total += key * s.ptdf(br, inj.Bus)
			}
		}
		return total
	}

	var ra *model.RangeAction
	for _, r := range req.RangeActions {
		if r.ID == v.ID {
			ra = r
			break
		}
	}
	if ra == nil {
		return 0
	}
	switch ra.Kind {
	case model.PstRangeAction:
		pst, ok := s.grid.Branch(ra.NetworkElement)
		if !ok || s.open[pst.ID] {
			return 0
		}
		y := baseMVA / pst.Reactance
		perRad := y * (s.ptdf(br, pst.To) - s.ptdf(br, pst.From))
		if pst.ID == br.ID && !s.open[br.ID] {
			perRad += y
		}
		return perRad * math.Pi / 180
	case model.HvdcRangeAction:
		h, ok := s.grid.Hvdc(ra.NetworkElement)
		if !ok {
			return 0
		}
		return s.ptdf(br, h.To) - s.ptdf(br, h.From)
	case model.InjectionRangeAction:
		total := 0.0
		for injID, key := range ra.Keys {
			inj, ok := s.grid.Injection(injID)
			if ok {
				total += key * s.ptdf(br, inj.Bus)
			}
		}
		return total
	}
	return 0
}
