// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package linear

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// Solver solves linear problems.
type Solver interface {
	// Solve returns a solution whose Status says whether it can be read.
	// The error is only set when ctx is done.
	Solve(ctx context.Context, p *Problem) (*Solution, error)

	// SupportsInteger reports whether integer variables are honoured.
	SupportsInteger() bool
}

// SimplexSolver solves problems with the gonum simplex and handles integer
// variables with a depth-first branch and bound.
//
// Thread Safety: Safe for concurrent use; it holds no per-solve state.
type SimplexSolver struct {
	tol        float64
	integerTol float64
	nodeLimit  int
	integers   bool
	logger     *slog.Logger
}

// SolverOption configures a SimplexSolver.
type SolverOption func(*SimplexSolver)

// WithNodeLimit bounds the branch and bound nodes. The best integer solution
// found so far is returned FEASIBLE when the limit is hit.
func WithNodeLimit(n int) SolverOption {
	return func(s *SimplexSolver) { s.nodeLimit = n }
}

// WithIntegerSupport turns branch and bound on or off. When off, integer
// variables are relaxed.
func WithIntegerSupport(on bool) SolverOption {
	return func(s *SimplexSolver) { s.integers = on }
}

// WithSolverLogger sets the logger.
func WithSolverLogger(logger *slog.Logger) SolverOption {
	return func(s *SimplexSolver) { s.logger = logger }
}

// NewSimplexSolver creates a solver.
func NewSimplexSolver(opts ...SolverOption) *SimplexSolver {
	s := &SimplexSolver{tol: 1e-10, integerTol: 1e-6, nodeLimit: 2000, integers: true}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// SupportsInteger implements Solver.
func (s *SimplexSolver) SupportsInteger() bool { return s.integers }

// Solve implements Solver.
func (s *SimplexSolver) Solve(ctx context.Context, p *Problem) (*Solution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lo := make([]float64, len(p.vars))
	hi := make([]float64, len(p.vars))
	for i, v := range p.vars {
		lo[i], hi[i] = v.Lo, v.Hi
	}
	if !s.integers || !p.HasIntegers() {
		return s.relax(p, lo, hi), nil
	}
	return s.branchAndBound(ctx, p, lo, hi)
}

type bbNode struct {
	lo, hi []float64
}

func (s *SimplexSolver) branchAndBound(ctx context.Context, p *Problem, lo, hi []float64) (*Solution, error) {
	stack := []bbNode{{lo: lo, hi: hi}}
	var best *Solution
	nodes := 0
	exhausted := true

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if nodes >= s.nodeLimit {
			exhausted = false
			break
		}
		nd := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nodes++

		sol := s.relax(p, nd.lo, nd.hi)
		if sol.Status == StatusUnbounded && best == nil {
			return sol, nil
		}
		if !sol.Status.Usable() {
			continue
		}
		if best != nil && sol.Objective >= best.Objective-1e-9 {
			continue
		}

		j, val := -1, 0.0
		worst := s.integerTol
		for i, v := range p.vars {
			if !v.Integer {
				continue
			}
			x := sol.values[i]
			frac := math.Abs(x - math.Round(x))
			if frac > worst {
				j, val, worst = i, x, frac
			}
		}
		if j < 0 {
			best = sol
			continue
		}

		down := bbNode{lo: append([]float64(nil), nd.lo...), hi: append([]float64(nil), nd.hi...)}
		down.hi[j] = math.Floor(val)
		up := bbNode{lo: append([]float64(nil), nd.lo...), hi: append([]float64(nil), nd.hi...)}
		up.lo[j] = math.Ceil(val)
		if val-math.Floor(val) < 0.5 {
			stack = append(stack, up, down)
		} else {
			stack = append(stack, down, up)
		}
	}

	s.logger.Debug("branch and bound finished",
		slog.Int("nodes", nodes),
		slog.Bool("exhausted", exhausted),
	)

	if best == nil {
		if exhausted {
			return &Solution{Status: StatusInfeasible}, nil
		}
		return &Solution{Status: StatusNotSolved}, nil
	}
	for i, v := range p.vars {
		if v.Integer {
			best.values[i] = math.Round(best.values[i])
		}
	}
	if !exhausted {
		best.Status = StatusFeasible
	}
	return best, nil
}

// column maps a problem variable to standard form columns:
// x = offset + y[plus] - y[minus], a negative index meaning absent.
type column struct {
	offset      float64
	plus, minus int
}

type stdRow struct {
	coeffs map[int]float64
	rhs    float64
	// slack is +1 for <=, -1 for >=, 0 for equality rows.
	slack int
}

// relax solves the continuous relaxation with the given bounds.
//
// Description:
//
//	The problem is rewritten as min c'y, Ay = b, y >= 0: bounded variables
//	are shifted to their lower (or upper) bound, free variables are split in
//	two, finite upper bounds and inequality rows get a slack column. Columns
//	absent from every row are fixed at zero beforehand, since the simplex
//	rejects them.
func (s *SimplexSolver) relax(p *Problem, lo, hi []float64) *Solution {
	cols := make([]column, len(p.vars))
	nStruct := 0
	var rows []stdRow
	for j := range p.vars {
		l, h := lo[j], hi[j]
		if l > h+1e-9 {
			return &Solution{Status: StatusInfeasible}
		}
		switch {
		case !math.IsInf(l, -1):
			cols[j] = column{offset: l, plus: nStruct, minus: -1}
			nStruct++
			if !math.IsInf(h, 1) {
				rows = append(rows, stdRow{coeffs: map[int]float64{cols[j].plus: 1}, rhs: h - l, slack: 1})
			}
		case !math.IsInf(h, 1):
			cols[j] = column{offset: h, plus: -1, minus: nStruct}
			nStruct++
		default:
			cols[j] = column{plus: nStruct, minus: nStruct + 1}
			nStruct += 2
		}
	}

	for _, c := range p.cons {
		coeffs := map[int]float64{}
		constant := 0.0
		for j, a := range c.coeffs {
			constant += a * cols[j].offset
			if cols[j].plus >= 0 {
				coeffs[cols[j].plus] += a
			}
			if cols[j].minus >= 0 {
				coeffs[cols[j].minus] -= a
			}
		}
		loInf, hiInf := math.IsInf(c.Lo, -1), math.IsInf(c.Hi, 1)
		switch {
		case !loInf && !hiInf && math.Abs(c.Hi-c.Lo) <= 1e-12:
			rows = append(rows, stdRow{coeffs: coeffs, rhs: c.Lo - constant})
		default:
			if !hiInf {
				rows = append(rows, stdRow{coeffs: coeffs, rhs: c.Hi - constant, slack: 1})
			}
			if !loInf {
				rows = append(rows, stdRow{coeffs: copyCoeffs(coeffs), rhs: c.Lo - constant, slack: -1})
			}
		}
	}

	// Rows without any structural term are checked and dropped.
	kept := rows[:0]
	for _, r := range rows {
		if hasNonZero(r.coeffs) {
			kept = append(kept, r)
			continue
		}
		feasible := (r.slack == 0 && math.Abs(r.rhs) <= 1e-9) ||
			(r.slack == 1 && r.rhs >= -1e-9) ||
			(r.slack == -1 && r.rhs <= 1e-9)
		if !feasible {
			return &Solution{Status: StatusInfeasible}
		}
	}
	rows = kept

	cost := make([]float64, nStruct)
	constant := 0.0
	for j, a := range p.objective {
		constant += a * cols[j].offset
		if cols[j].plus >= 0 {
			cost[cols[j].plus] += a
		}
		if cols[j].minus >= 0 {
			cost[cols[j].minus] -= a
		}
	}

	used := make([]bool, nStruct)
	for _, r := range rows {
		for k, a := range r.coeffs {
			if a != 0 {
				used[k] = true
			}
		}
	}
	remap := make([]int, nStruct)
	n := 0
	for k := range used {
		if !used[k] {
			if cost[k] < -1e-12 {
				return &Solution{Status: StatusUnbounded}
			}
			remap[k] = -1
			continue
		}
		remap[k] = n
		n++
	}

	y := make([]float64, nStruct)
	optF := 0.0
	if len(rows) > 0 {
		nSlack := 0
		for _, r := range rows {
			if r.slack != 0 {
				nSlack++
			}
		}
		width := n + nSlack
		a := mat.NewDense(len(rows), width, nil)
		b := make([]float64, len(rows))
		c := make([]float64, width)
		for k := range cost {
			if remap[k] >= 0 {
				c[remap[k]] = cost[k]
			}
		}
		slackCol := n
		for i, r := range rows {
			sign := 1.0
			if r.rhs < 0 {
				sign = -1
			}
			for k, v := range r.coeffs {
				if remap[k] >= 0 {
					a.Set(i, remap[k], sign*v)
				}
			}
			if r.slack != 0 {
				a.Set(i, slackCol, sign*float64(r.slack))
				slackCol++
			}
			b[i] = sign * r.rhs
		}

		f, x, err := simplex(c, a, b, s.tol)
		if err != nil {
			switch {
			case errors.Is(err, lp.ErrInfeasible):
				return &Solution{Status: StatusInfeasible}
			case errors.Is(err, lp.ErrUnbounded):
				return &Solution{Status: StatusUnbounded}
			default:
				s.logger.Debug("simplex failed", slog.String("error", err.Error()))
				return &Solution{Status: StatusAbnormal}
			}
		}
		optF = f
		for k := range y {
			if remap[k] >= 0 {
				y[k] = x[remap[k]]
			}
		}
	}

	values := make([]float64, len(p.vars))
	for j, col := range cols {
		v := col.offset
		if col.plus >= 0 {
			v += y[col.plus]
		}
		if col.minus >= 0 {
			v -= y[col.minus]
		}
		values[j] = v
	}
	return &Solution{Status: StatusOptimal, Objective: optF + constant, values: values}
}

// simplex calls lp.Simplex and turns its panics on malformed input into
// errors.
func simplex(c []float64, a *mat.Dense, b []float64, tol float64) (f float64, x []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("simplex: %v", r)
		}
	}()
	return lp.Simplex(c, a, b, tol, nil)
}

func hasNonZero(m map[int]float64) bool {
	for _, v := range m {
		if v != 0 {
			return true
		}
	}
	return false
}

func copyCoeffs(m map[int]float64) map[int]float64 {
	out := make(map[int]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
