// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package objective

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRAO/services/rao/flow"
	"github.com/AleutianAI/AleutianRAO/services/rao/model"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
	"github.com/AleutianAI/AleutianRAO/services/rao/scenario"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity/dcflow"
)

func builtin(t *testing.T, name string) *scenario.Built {
	t.Helper()
	c, err := scenario.Builtin(name)
	require.NoError(t, err)
	b, err := c.Build()
	require.NoError(t, err)
	return b
}

// flowsWithHvdc computes triangle flows with the HVDC at a setpoint.
func flowsWithHvdc(t *testing.T, b *scenario.Built, setpoint float64) *flow.Result {
	t.Helper()
	cnecs := b.Crac.FlowCnecs()
	comp := flow.NewComputer(sensitivity.NewRunner(dcflow.New())).
		WithLoopFlows(flow.NewLoopFlowComputation(b.Glsk, b.ReferenceProgram), cnecs).
		WithPtdfSums(flow.NewPtdfSumComputation(b.Glsk, []string{"FR/BE"}), cnecs)

	id, err := b.Network.CloneVariant(network.InitialVariantID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Network.RemoveVariant(id) })
	v, err := b.Network.Variant(id)
	require.NoError(t, err)
	require.NoError(t, b.Crac.RangeAction("hvdc").Apply(v, setpoint))

	res, err := comp.Compute(context.Background(), v, sensitivity.Request{Cnecs: cnecs}, nil)
	require.NoError(t, err)
	return res
}

func TestEvaluate_TwoBranch(t *testing.T) {
	b := builtin(t, "two-branch")
	res, err := flow.NewComputer(sensitivity.NewRunner(dcflow.New())).Compute(context.Background(),
		b.Network.WorkingVariant(), sensitivity.Request{Cnecs: b.Crac.FlowCnecs()}, nil)
	require.NoError(t, err)

	f := New(DefaultParameters(), Inputs{Optimized: b.Crac.FlowCnecs()})
	e := f.Evaluate(res)
	assert.InDelta(t, 20.0, e.FunctionalCost, 1e-6)
	assert.InDelta(t, 20.0, e.Cost(), 1e-6)
	assert.Zero(t, e.VirtualCost())
	assert.Equal(t, []*model.FlowCnec{b.Crac.FlowCnec("L1-preventive")}, e.MostLimiting(5))
}

func TestEvaluate_MostLimitingOrder(t *testing.T) {
	b := builtin(t, "triangle")
	res := flowsWithHvdc(t, b, 0)

	e := New(DefaultParameters(), Inputs{Optimized: b.Crac.FlowCnecs()}).Evaluate(res)
	// AB-cur carries 90 MW after the outage, AB-prev 30 MW.
	assert.InDelta(t, -10.0, e.FunctionalCost, 1e-6)
	require.Len(t, e.Limiting, 2)
	assert.Equal(t, "AB-cur", e.Limiting[0].Cnec.ID)
	assert.Equal(t, "AB-prev", e.Limiting[1].Cnec.ID)
	assert.Len(t, e.MostLimiting(1), 1)
	assert.Len(t, e.MostLimiting(-1), 2)
}

func TestEvaluate_RelativeMargin(t *testing.T) {
	b := builtin(t, "triangle")
	res := flowsWithHvdc(t, b, 0)

	params := DefaultParameters()
	params.Type = MaxMinRelativeMargin
	e := New(params, Inputs{Optimized: []*model.FlowCnec{b.Crac.FlowCnec("AB-prev")}}).Evaluate(res)
	assert.InDelta(t, -210.0, e.FunctionalCost, 1e-4)
}

func TestEvaluate_UnoptimizedOperators(t *testing.T) {
	b := builtin(t, "triangle")
	b.Crac.FlowCnec("AB-cur").Operator = "BE"
	initial := flowsWithHvdc(t, b, 0)

	f := New(DefaultParameters(), Inputs{
		Optimized:            b.Crac.FlowCnecs(),
		Initial:              initial,
		UnoptimizedOperators: []string{"BE"},
	})

	e := f.Evaluate(initial)
	assert.InDelta(t, -70.0, e.FunctionalCost, 1e-6, "unchanged margin of BE is ignored")

	// HVDC at -30 MW pushes 30 more MW through AB after the outage.
	e = f.Evaluate(flowsWithHvdc(t, b, -30))
	assert.InDelta(t, 20.0, e.FunctionalCost, 1e-6, "decreased margin of BE counts")
}

func TestEvaluate_MnecCost(t *testing.T) {
	b := builtin(t, "triangle")
	initial := flowsWithHvdc(t, b, 0)

	params := DefaultParameters()
	mnec := DefaultMnecParameters()
	mnec.AcceptableMarginDecrease = 0
	params.Mnec = &mnec

	f := New(params, Inputs{
		Optimized: []*model.FlowCnec{b.Crac.FlowCnec("AB-prev")},
		Monitored: []*model.FlowCnec{b.Crac.FlowCnec("AB-cur")},
		Initial:   initial,
	})
	assert.Zero(t, f.Evaluate(initial).VirtualCosts[MnecCost])

	// AB-cur margin goes from 10 to -20.
	e := f.Evaluate(flowsWithHvdc(t, b, -30))
	assert.InDelta(t, 200.0, e.VirtualCosts[MnecCost], 1e-6)
	assert.InDelta(t, -60.0+200.0, e.Cost(), 1e-6)
}

func TestMnecViolation(t *testing.T) {
	tests := []struct {
		name                       string
		current, initial, decrease float64
		want                       float64
	}{
		{"positive margin", 10, 50, 50, 0},
		{"within acceptable decrease", -30, 20, 50, 0},
		{"beyond acceptable decrease", -40, 20, 50, 10},
		{"initially negative", -40, -20, 10, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, MnecViolation(tt.current, tt.initial, tt.decrease), 1e-9)
		})
	}
}

func TestEvaluate_LoopFlowCost(t *testing.T) {
	b := builtin(t, "triangle")
	initial := flowsWithHvdc(t, b, 0)

	params := DefaultParameters()
	lf := DefaultLoopFlowParameters()
	params.LoopFlow = &lf

	f := New(params, Inputs{
		Optimized: b.Crac.FlowCnecs(),
		LoopFlow:  LoopFlowCnecs(b.Crac.FlowCnecs(), nil),
		Initial:   initial,
	})
	require.Len(t, f.Inputs().LoopFlow, 1)

	// Initial loop flow 10 exceeds the threshold of 5 but did not grow.
	assert.Zero(t, f.Evaluate(initial).VirtualCosts[LoopFlowCost])

	// AB carries 40 MW, commercial flow stays 20, loop flow 20 on both
	// monitored sides.
	e := f.Evaluate(flowsWithHvdc(t, b, -30))
	assert.InDelta(t, 200.0, e.VirtualCosts[LoopFlowCost], 1e-6)
}

func TestLoopFlowCnecs_Countries(t *testing.T) {
	b := builtin(t, "triangle")
	assert.Len(t, LoopFlowCnecs(b.Crac.FlowCnecs(), []string{"FR"}), 1)
	assert.Empty(t, LoopFlowCnecs(b.Crac.FlowCnecs(), []string{"DE"}))
}

func TestEvaluate_SensitivityFailure(t *testing.T) {
	b := builtin(t, "two-branch")
	req := sensitivity.Request{Cnecs: b.Crac.FlowCnecs()}
	res := flow.NewResult(sensitivity.FailedResult(req, "dc"))

	e := New(DefaultParameters(), Inputs{Optimized: b.Crac.FlowCnecs()}).Evaluate(res)
	assert.Zero(t, e.FunctionalCost)
	assert.Empty(t, e.Limiting)
	assert.InDelta(t, 10000.0, e.VirtualCosts[SensitivityFailureCost], 1e-9)
	assert.Equal(t, sensitivity.StatusFailure, e.Status)
}

func TestApproximation(t *testing.T) {
	assert.False(t, FixedPtdf.UpdateWithTopo())
	assert.True(t, UpdatePtdfWithTopo.UpdateWithTopo())
	assert.False(t, UpdatePtdfWithTopo.UpdateWithPst())
	assert.True(t, UpdatePtdfWithTopoAndPst.UpdateWithPst())
}
