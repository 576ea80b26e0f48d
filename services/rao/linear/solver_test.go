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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimplexSolver_BoundedLP(t *testing.T) {
	p := NewProblem()
	x := p.AddVariable("x", math.Inf(-1), 3)
	y := p.AddVariable("y", 0, 2)
	row := p.AddConstraint("sum", math.Inf(-1), 4)
	row.SetCoefficient(x, 1)
	row.SetCoefficient(y, 1)
	p.SetObjectiveCoefficient(x, -2)
	p.SetObjectiveCoefficient(y, -1)

	sol, err := NewSimplexSolver().Solve(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, StatusOptimal, sol.Status)
	assert.InDelta(t, -7.0, sol.Objective, 1e-9)
	assert.InDelta(t, 3.0, sol.Value(x), 1e-9)
	assert.InDelta(t, 1.0, sol.Value(y), 1e-9)
}

func TestSimplexSolver_FreeVariableEquality(t *testing.T) {
	p := NewProblem()
	z := p.AddVariable("z", math.Inf(-1), math.Inf(1))
	x := p.AddVariable("x", 2, 5)
	row := p.AddConstraint("def", 1, 1)
	row.SetCoefficient(z, 1)
	row.SetCoefficient(x, -1)
	p.SetObjectiveCoefficient(z, 1)

	sol, err := NewSimplexSolver().Solve(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, StatusOptimal, sol.Status)
	assert.InDelta(t, 3.0, sol.Value(z), 1e-9)
	assert.InDelta(t, 2.0, sol.Value(x), 1e-9)
}

func TestSimplexSolver_Infeasible(t *testing.T) {
	p := NewProblem()
	x := p.AddVariable("x", 0, 1)
	p.AddConstraint("floor", 5, math.Inf(1)).SetCoefficient(x, 1)

	sol, err := NewSimplexSolver().Solve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, StatusInfeasible, sol.Status)
	assert.False(t, sol.Status.Usable())
}

func TestSimplexSolver_Unbounded(t *testing.T) {
	p := NewProblem()
	x := p.AddVariable("x", 0, math.Inf(1))
	y := p.AddVariable("y", 0, math.Inf(1))
	row := p.AddConstraint("gap", math.Inf(-1), 1)
	row.SetCoefficient(x, 1)
	row.SetCoefficient(y, -1)
	p.SetObjectiveCoefficient(x, -1)

	sol, err := NewSimplexSolver().Solve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, StatusUnbounded, sol.Status)
}

func knapsack() (*Problem, []*Variable) {
	p := NewProblem()
	a := p.AddBinaryVariable("a")
	b := p.AddBinaryVariable("b")
	c := p.AddBinaryVariable("c")
	row := p.AddConstraint("weight", math.Inf(-1), 5)
	row.SetCoefficient(a, 2)
	row.SetCoefficient(b, 3)
	row.SetCoefficient(c, 1)
	p.SetObjectiveCoefficient(a, -5)
	p.SetObjectiveCoefficient(b, -4)
	p.SetObjectiveCoefficient(c, -3)
	return p, []*Variable{a, b, c}
}

func TestSimplexSolver_BranchAndBound(t *testing.T) {
	p, vars := knapsack()

	sol, err := NewSimplexSolver().Solve(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, StatusOptimal, sol.Status)
	assert.InDelta(t, -9.0, sol.Objective, 1e-9)
	assert.Equal(t, 1.0, sol.Value(vars[0]))
	assert.Equal(t, 1.0, sol.Value(vars[1]))
	assert.Equal(t, 0.0, sol.Value(vars[2]))
}

func TestSimplexSolver_RelaxedIntegers(t *testing.T) {
	p, _ := knapsack()

	s := NewSimplexSolver(WithIntegerSupport(false))
	assert.False(t, s.SupportsInteger())
	sol, err := s.Solve(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, StatusOptimal, sol.Status)
	// a and c fit whole, then two thirds of b.
	assert.InDelta(t, -5-3-8.0/3, sol.Objective, 1e-9)
}

func TestSimplexSolver_NodeLimit(t *testing.T) {
	p, _ := knapsack()

	sol, err := NewSimplexSolver(WithNodeLimit(1)).Solve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, StatusNotSolved, sol.Status)
}

func TestSimplexSolver_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p, _ := knapsack()

	_, err := NewSimplexSolver().Solve(ctx, p)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProblem_DuplicateNamesPanic(t *testing.T) {
	p := NewProblem()
	p.AddVariable("x", 0, 1)
	assert.Panics(t, func() { p.AddVariable("x", 0, 1) })
	p.AddConstraint("c", 0, 1)
	assert.Panics(t, func() { p.AddConstraint("c", 0, 1) })
}

func TestConstraint_ZeroCoefficientRemovesTerm(t *testing.T) {
	p := NewProblem()
	x := p.AddVariable("x", 0, 1)
	c := p.AddConstraint("c", 0, 1)
	c.SetCoefficient(x, 2)
	assert.Equal(t, 2.0, c.Coefficient(x))
	c.SetCoefficient(x, 0)
	assert.Zero(t, c.Coefficient(x))
	assert.Contains(t, p.String(), "c: 0 <= <= 1")
}
