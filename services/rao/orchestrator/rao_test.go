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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRAO/services/rao/network"
	"github.com/AleutianAI/AleutianRAO/services/rao/objective"
	"github.com/AleutianAI/AleutianRAO/services/rao/scenario"
	"github.com/AleutianAI/AleutianRAO/services/rao/searchtree"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity/dcflow"
)

const curativeState = "co-AC - curative"

func build(t *testing.T, c *scenario.Case) *scenario.Built {
	t.Helper()
	b, err := c.Build()
	require.NoError(t, err)
	return b
}

func builtin(t *testing.T, name string) *scenario.Built {
	t.Helper()
	c, err := scenario.Builtin(name)
	require.NoError(t, err)
	return build(t, c)
}

func inputOf(b *scenario.Built) Input {
	return Input{Network: b.Network, Crac: b.Crac, Glsk: b.Glsk, ReferenceProgram: b.ReferenceProgram}
}

func testParams() Parameters {
	p := DefaultParameters()
	p.PreventiveTree.LeavesInParallel = 2
	p.Curative.ScenariosInParallel = 2
	return p
}

func runRao(t *testing.T, b *scenario.Built, params Parameters, opts ...Option) *Result {
	t.Helper()
	rao, err := NewSearchTreeRao(params, opts...)
	require.NoError(t, err)
	res, err := rao.Run(context.Background(), inputOf(b))
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

// failingRunner fails every computation after the first `ok` ones.
type failingRunner struct {
	ok    int64
	calls atomic.Int64
	next  *sensitivity.Runner
}

func (f *failingRunner) Run(ctx context.Context, v *network.Variant, req sensitivity.Request) (*sensitivity.Result, error) {
	if f.calls.Add(1) <= f.ok {
		return f.next.Run(ctx, v, req)
	}
	return sensitivity.FailedResult(req, "test"), nil
}

func TestRun_CurativeTriangle(t *testing.T) {
	b := builtin(t, "curative-triangle")
	before := b.Network.VariantIDs()

	res := runRao(t, b, testParams(), WithPostProcessors(SecurityFlag(), MostLimitingElements(2)))

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, FirstPreventiveOnly, res.ExecutionDetails)
	assert.Equal(t, SearchTreeRaoName, res.Provider)
	assert.Equal(t, "curative-triangle", res.CracID)
	assert.ElementsMatch(t, before, b.Network.VariantIDs())

	prev := res.StateResult("preventive")
	require.NotNil(t, prev)
	assert.True(t, prev.Optimized)
	assert.Empty(t, prev.NetworkActions)
	require.NotNil(t, prev.Cost)
	assert.InDelta(t, -40.0, prev.Cost.Total, 1e-6)

	outage := res.StateResult("co-AC - outage")
	require.NotNil(t, outage)
	assert.False(t, outage.Optimized)

	cur := res.StateResult(curativeState)
	require.NotNil(t, cur)
	assert.True(t, cur.Optimized)
	assert.Equal(t, []string{"close-AB2"}, cur.NetworkActions)
	require.NotNil(t, cur.Cost)
	assert.InDelta(t, -25.0, cur.Cost.Total, 1e-6)
	assert.Equal(t, 1, cur.Depth)

	abCur := res.Cnec("AB-cur")
	require.NotNil(t, abCur)
	assert.True(t, abCur.Computed)
	assert.InDelta(t, 75.0, abCur.Flow, 1e-6)
	assert.InDelta(t, 25.0, abCur.Margin, 1e-6)
	abOut := res.Cnec("AB-out")
	require.NotNil(t, abOut)
	assert.InDelta(t, 150.0, abOut.Flow, 1e-6, "outage flows come before curative actions")

	assert.InDelta(t, 50.0, res.InitialCost.Total, 1e-6)
	assert.InDelta(t, -25.0, res.FinalCost.Total, 1e-6)
	assert.InDelta(t, -40.0, res.CostPerInstant["preventive"], 1e-6)
	assert.InDelta(t, -40.0, res.CostPerInstant["outage"], 1e-6)
	assert.InDelta(t, -25.0, res.CostPerInstant["curative"], 1e-6)

	require.NotNil(t, res.Secure)
	assert.True(t, *res.Secure)
	require.Len(t, res.MostLimiting, 2)
	assert.Equal(t, "AB-cur", res.MostLimiting[0].ID)
	assert.Equal(t, "AB-prev", res.MostLimiting[1].ID)
}

func TestRun_TwoBranchPreventiveOnly(t *testing.T) {
	b := builtin(t, "two-branch")
	res := runRao(t, b, testParams())

	assert.Equal(t, StatusSuccess, res.Status)
	prev := res.StateResult("preventive")
	require.NotNil(t, prev)
	assert.Equal(t, []string{"open-L2"}, prev.NetworkActions)
	assert.Empty(t, prev.RangeActions)

	l1 := res.Cnec("L1-preventive")
	require.NotNil(t, l1)
	assert.LessOrEqual(t, l1.Flow, 100.0+1e-3)
	assert.Greater(t, res.InitialCost.Total, res.FinalCost.Total)
	assert.LessOrEqual(t, res.FinalCost.Total, 1e-3)
}

func TestRun_ParallelPstsReportsTaps(t *testing.T) {
	b := builtin(t, "parallel-psts")
	res := runRao(t, b, testParams())

	prev := res.StateResult("preventive")
	require.NotNil(t, prev)
	require.Len(t, prev.RangeActions, 2)
	for _, ra := range prev.RangeActions {
		assert.NotNil(t, ra.Tap, ra.ID)
	}
	assert.Less(t, res.FinalCost.Total, res.InitialCost.Total)
}

func TestRun_SecondPreventive(t *testing.T) {
	tests := []struct {
		name       string
		reoptimize bool
	}{
		{name: "curative re-optimized", reoptimize: true},
		{name: "curative replayed", reoptimize: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := builtin(t, "curative-triangle")
			before := b.Network.VariantIDs()
			params := testParams()
			params.SecondPreventive = SecondPreventiveParameters{
				Condition:               SecondPreventiveCurativeImprovement,
				ReOptimizeCurative:      tt.reoptimize,
				HintFromFirstPreventive: true,
			}

			res := runRao(t, b, params)
			assert.Equal(t, SecondPreventiveImprovedFirst, res.ExecutionDetails)
			cur := res.StateResult(curativeState)
			require.NotNil(t, cur)
			assert.Equal(t, []string{"close-AB2"}, cur.NetworkActions)
			assert.InDelta(t, -25.0, res.FinalCost.Total, 1e-6)
			assert.ElementsMatch(t, before, b.Network.VariantIDs())
		})
	}
}

func TestRun_SecondPreventiveConditions(t *testing.T) {
	tests := []struct {
		name      string
		condition SecondPreventiveCondition
		timeout   time.Duration
	}{
		{name: "cost did not increase", condition: SecondPreventiveCostIncrease},
		{name: "no time left", condition: SecondPreventiveCurativeImprovement, timeout: time.Nanosecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := testParams()
			params.SecondPreventive.Condition = tt.condition
			params.Timeout = tt.timeout
			res := runRao(t, builtin(t, "curative-triangle"), params)
			assert.Equal(t, FirstPreventiveOnly, res.ExecutionDetails)
		})
	}
}

func TestRun_TimeoutStopsBetweenDepths(t *testing.T) {
	params := testParams()
	params.Timeout = time.Nanosecond
	res := runRao(t, builtin(t, "curative-triangle"), params)

	cur := res.StateResult(curativeState)
	require.NotNil(t, cur)
	assert.Equal(t, string(searchtree.StopDeadline), cur.StopReason)
	assert.Empty(t, cur.NetworkActions)
	assert.Equal(t, FirstPreventiveOnly, res.ExecutionDetails)
}

func TestRun_SecureCriterionSkipsCurative(t *testing.T) {
	unsecure := func(t *testing.T) *scenario.Built {
		c, err := scenario.Builtin("curative-triangle")
		require.NoError(t, err)
		limit := 50.0
		for i := range c.Crac.FlowCnecs {
			if c.Crac.FlowCnecs[i].ID == "AB-prev" {
				c.Crac.FlowCnecs[i].Thresholds[0].Max = &limit
			}
		}
		return build(t, c)
	}

	params := testParams()
	params.Curative.StopCriterion = CurativeSecure
	res := runRao(t, unsecure(t), params)
	cur := res.StateResult(curativeState)
	require.NotNil(t, cur)
	assert.False(t, cur.Optimized)
	assert.Empty(t, cur.NetworkActions)

	params.Curative.EnforceCurativeSecurity = true
	res = runRao(t, unsecure(t), params)
	cur = res.StateResult(curativeState)
	require.NotNil(t, cur)
	assert.Equal(t, []string{"close-AB2"}, cur.NetworkActions)
	assert.Equal(t, string(searchtree.StopCriterionMet), cur.StopReason)
}

// autoCase has a forced automaton that opens AB2 and overloads AB.
const autoCase = `
name: auto-triangle
grid:
  buses:
    - {id: A, zone: FR, nominal_kv: 400}
    - {id: B, zone: FR, nominal_kv: 400}
    - {id: C, zone: BE, nominal_kv: 400}
  branches:
    - {id: AB, from: A, to: B, reactance: 0.1}
    - {id: AB2, from: A, to: B, reactance: 0.1}
    - {id: BC, from: B, to: C, reactance: 0.05}
    - {id: AC, from: A, to: C, reactance: 0.1}
  injections:
    - {id: G, bus: A, p: 150}
    - {id: D, bus: C, p: -150}
crac:
  id: auto-triangle
  instants:
    - {id: preventive, kind: PREVENTIVE}
    - {id: outage, kind: OUTAGE}
    - {id: auto, kind: AUTO}
  contingencies:
    - {id: co-AC, elements: [AC]}
  flow_cnecs:
    - id: AB-prev
      network_element: AB
      instant: preventive
      optimized: true
      thresholds:
        - {side: 1, unit: MW, max: 100}
    - id: AB-auto
      network_element: AB
      instant: auto
      contingency: co-AC
      optimized: true
      thresholds:
        - {side: 1, unit: MW, max: 100}
  network_actions:
    - id: open-AB2
      operator: FR
      usage_rules:
        - {kind: ON_INSTANT, method: FORCED, instant: auto}
      elementary_actions:
        - {kind: TOPOLOGY, element: AB2, action: OPEN}
`

func TestRun_AutoActionsAndFallbackToInitial(t *testing.T) {
	c, err := scenario.Parse([]byte(autoCase))
	require.NoError(t, err)

	params := testParams()
	params.FallbackToInitialOnCostIncrease = false
	res := runRao(t, build(t, c), params)
	auto := res.StateResult("co-AC - auto")
	require.NotNil(t, auto)
	assert.True(t, auto.Optimized)
	assert.Equal(t, []string{"open-AB2"}, auto.NetworkActions)
	assert.InDelta(t, 150.0, res.Cnec("AB-auto").Flow, 1e-6)
	assert.InDelta(t, -25.0, res.InitialCost.Total, 1e-6)
	assert.InDelta(t, 50.0, res.FinalCost.Total, 1e-6)
	assert.Equal(t, FirstPreventiveOnly, res.ExecutionDetails)

	params.FallbackToInitialOnCostIncrease = true
	res = runRao(t, build(t, c), params)
	assert.Equal(t, FirstPreventiveFellBackToInitial, res.ExecutionDetails)
	assert.InDelta(t, res.InitialCost.Total, res.FinalCost.Total, 1e-9)
	auto = res.StateResult("co-AC - auto")
	require.NotNil(t, auto)
	assert.False(t, auto.Optimized)
	assert.InDelta(t, 75.0, res.Cnec("AB-auto").Flow, 1e-6)
}

func TestRun_InitialSensitivityFailure(t *testing.T) {
	b := builtin(t, "curative-triangle")
	before := b.Network.VariantIDs()

	res := runRao(t, b, testParams(), WithSensitivityRunner(&failingRunner{}))
	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, InitialSensitivityFailed, res.ExecutionDetails)
	assert.Contains(t, res.Error, "initial sensitivity")
	for _, c := range res.Cnecs {
		assert.False(t, c.Computed, c.ID)
	}
	assert.ElementsMatch(t, before, b.Network.VariantIDs())
}

func TestRun_PreventiveRootFailure(t *testing.T) {
	b := builtin(t, "curative-triangle")
	before := b.Network.VariantIDs()
	runner := &failingRunner{ok: 1, next: sensitivity.NewRunner(dcflow.New())}

	res := runRao(t, b, testParams(), WithSensitivityRunner(runner))
	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, PreventiveOptimizationFailed, res.ExecutionDetails)
	prev := res.StateResult("preventive")
	require.NotNil(t, prev)
	assert.Equal(t, StatusFailure, prev.Status)
	assert.Equal(t, string(searchtree.StopRootFailed), prev.StopReason)
	assert.True(t, res.Cnec("AB-prev").Computed, "initial flows are still reported")
	assert.ElementsMatch(t, before, b.Network.VariantIDs())
}

func TestRun_InvalidInput(t *testing.T) {
	b := builtin(t, "curative-triangle")
	rao, err := NewSearchTreeRao(testParams())
	require.NoError(t, err)

	_, err = rao.Run(context.Background(), Input{Crac: b.Crac})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = rao.Run(context.Background(), Input{Network: b.Network, Crac: b.Crac, Variant: "missing"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	params := testParams()
	lf := objective.DefaultLoopFlowParameters()
	params.Objective.LoopFlow = &lf
	rao, err = NewSearchTreeRao(params)
	require.NoError(t, err)
	_, err = rao.Run(context.Background(), Input{Network: b.Network, Crac: b.Crac})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRun_Canceled(t *testing.T) {
	b := builtin(t, "curative-triangle")
	before := b.Network.VariantIDs()
	rao, err := NewSearchTreeRao(testParams())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := rao.Run(ctx, inputOf(b))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
	assert.ElementsMatch(t, before, b.Network.VariantIDs())
}
