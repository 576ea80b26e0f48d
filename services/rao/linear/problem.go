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
	"fmt"
	"math"
	"sort"
	"strings"
)

// Variable is a decision variable of a Problem.
type Variable struct {
	Name    string
	Lo, Hi  float64
	Integer bool
	index   int
}

// Index returns the position of the variable in its problem.
func (v *Variable) Index() int { return v.index }

// Constraint is a linear row Lo <= sum(coef * var) <= Hi. Infinite bounds
// are allowed.
type Constraint struct {
	Name   string
	Lo, Hi float64
	coeffs map[int]float64
}

// SetCoefficient sets the coefficient of a variable in the row.
func (c *Constraint) SetCoefficient(v *Variable, coef float64) {
	if coef == 0 {
		delete(c.coeffs, v.index)
		return
	}
	c.coeffs[v.index] = coef
}

// Coefficient returns the coefficient of a variable in the row.
func (c *Constraint) Coefficient(v *Variable) float64 { return c.coeffs[v.index] }

// Problem is a linear (or mixed integer) minimisation problem.
//
// Thread Safety: Not safe for concurrent use. One problem per iteration.
type Problem struct {
	vars      []*Variable
	varByName map[string]*Variable
	cons      []*Constraint
	conByName map[string]*Constraint
	objective map[int]float64
}

// NewProblem creates an empty problem.
func NewProblem() *Problem {
	return &Problem{
		varByName: map[string]*Variable{},
		conByName: map[string]*Constraint{},
		objective: map[int]float64{},
	}
}

// AddVariable adds a continuous variable. Names must be unique.
func (p *Problem) AddVariable(name string, lo, hi float64) *Variable {
	if _, ok := p.varByName[name]; ok {
		panic(fmt.Sprintf("linear: duplicate variable %s", name))
	}
	v := &Variable{Name: name, Lo: lo, Hi: hi, index: len(p.vars)}
	p.vars = append(p.vars, v)
	p.varByName[name] = v
	return v
}

// AddBinaryVariable adds an integer variable in {0, 1}.
func (p *Problem) AddBinaryVariable(name string) *Variable {
	v := p.AddVariable(name, 0, 1)
	v.Integer = true
	return v
}

// Variable returns a variable by name, or nil.
func (p *Problem) Variable(name string) *Variable { return p.varByName[name] }

// Variables returns every variable in creation order.
func (p *Problem) Variables() []*Variable { return p.vars }

// AddConstraint adds a row with the given bounds. Names must be unique.
func (p *Problem) AddConstraint(name string, lo, hi float64) *Constraint {
	if _, ok := p.conByName[name]; ok {
		panic(fmt.Sprintf("linear: duplicate constraint %s", name))
	}
	c := &Constraint{Name: name, Lo: lo, Hi: hi, coeffs: map[int]float64{}}
	p.cons = append(p.cons, c)
	p.conByName[name] = c
	return c
}

// Constraint returns a row by name, or nil.
func (p *Problem) Constraint(name string) *Constraint { return p.conByName[name] }

// Constraints returns every row in creation order.
func (p *Problem) Constraints() []*Constraint { return p.cons }

// SetObjectiveCoefficient sets the cost of a variable.
func (p *Problem) SetObjectiveCoefficient(v *Variable, coef float64) {
	p.objective[v.index] = coef
}

// AddObjectiveCoefficient adds to the cost of a variable.
func (p *Problem) AddObjectiveCoefficient(v *Variable, coef float64) {
	p.objective[v.index] += coef
}

// ObjectiveCoefficient returns the cost of a variable.
func (p *Problem) ObjectiveCoefficient(v *Variable) float64 { return p.objective[v.index] }

// HasIntegers reports whether the problem has integer variables.
func (p *Problem) HasIntegers() bool {
	for _, v := range p.vars {
		if v.Integer {
			return true
		}
	}
	return false
}

// String renders the problem for debugging.
func (p *Problem) String() string {
	var b strings.Builder
	b.WriteString("min")
	writeTerms(&b, p.objective, p.vars)
	for _, c := range p.cons {
		fmt.Fprintf(&b, "\n  %s: %g <=", c.Name, c.Lo)
		writeTerms(&b, c.coeffs, p.vars)
		fmt.Fprintf(&b, " <= %g", c.Hi)
	}
	return b.String()
}

func writeTerms(b *strings.Builder, terms map[int]float64, vars []*Variable) {
	idx := make([]int, 0, len(terms))
	for i := range terms {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	for _, i := range idx {
		fmt.Fprintf(b, " %+g*%s", terms[i], vars[i].Name)
	}
}

// Status is the outcome of a solve or of the iterating optimizer.
type Status string

const (
	StatusOptimal    Status = "OPTIMAL"
	StatusFeasible   Status = "FEASIBLE"
	StatusInfeasible Status = "INFEASIBLE"
	StatusUnbounded  Status = "UNBOUNDED"
	StatusAbnormal   Status = "ABNORMAL"
	StatusNotSolved  Status = "NOT_SOLVED"

	StatusMaxIterationReached          Status = "MAX_ITERATION_REACHED"
	StatusSensitivityComputationFailed Status = "SENSITIVITY_COMPUTATION_FAILED"
)

// Usable reports whether a solution with this status can be read.
func (s Status) Usable() bool { return s == StatusOptimal || s == StatusFeasible }

// Solution holds the values of a solved problem.
type Solution struct {
	Status    Status
	Objective float64
	values    []float64
}

// Value returns the value of a variable.
func (s *Solution) Value(v *Variable) float64 {
	if s == nil || v.index >= len(s.values) {
		return math.NaN()
	}
	return s.values[v.index]
}
