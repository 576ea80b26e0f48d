// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dcflow

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRAO/services/rao/network"
	"github.com/AleutianAI/AleutianRAO/services/rao/scenario"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity"
)

func build(t *testing.T, doc string) *scenario.Built {
	t.Helper()
	c, err := scenario.Parse([]byte(doc))
	require.NoError(t, err)
	b, err := c.Build()
	require.NoError(t, err)
	return b
}

func builtin(t *testing.T, name string) *scenario.Built {
	t.Helper()
	c, err := scenario.Builtin(name)
	require.NoError(t, err)
	b, err := c.Build()
	require.NoError(t, err)
	return b
}

func TestCompute_TwoBranch(t *testing.T) {
	b := builtin(t, "two-branch")
	cnec := b.Crac.FlowCnec("L1-preventive")
	pst := b.Crac.RangeAction("pst-L2")
	req := sensitivity.Request{Cnecs: b.Crac.FlowCnecs(), RangeActions: b.Crac.RangeActions(), Ampere: true}

	res, err := New().Compute(context.Background(), b.Network.WorkingVariant(), req)
	require.NoError(t, err)
	assert.Equal(t, sensitivity.StatusDefault, res.Status())

	f, err := res.ReferenceFlow(cnec, network.SideOne)
	require.NoError(t, err)
	assert.InDelta(t, 120.0, f, 1e-6)

	s, err := res.SensitivityOnFlow(sensitivity.RangeActionVar(pst), cnec, network.SideOne)
	require.NoError(t, err)
	assert.InDelta(t, -10.0, s, 1e-6)

	i, err := res.ReferenceIntensity(cnec, network.SideOne)
	require.NoError(t, err)
	assert.InDelta(t, 120*1000/(math.Sqrt(3)*400), i, 1e-6)
}

func TestCompute_TwoBranchOpened(t *testing.T) {
	b := builtin(t, "two-branch")
	id, err := b.Network.CloneVariant(network.InitialVariantID)
	require.NoError(t, err)
	v, err := b.Network.Variant(id)
	require.NoError(t, err)
	_, err = b.Crac.NetworkAction("open-L2").Apply(v)
	require.NoError(t, err)

	cnec := b.Crac.FlowCnec("L1-preventive")
	pst := b.Crac.RangeAction("pst-L2")
	req := sensitivity.Request{Cnecs: b.Crac.FlowCnecs(), RangeActions: b.Crac.RangeActions()}
	res, err := New().Compute(context.Background(), v, req)
	require.NoError(t, err)

	f, err := res.ReferenceFlow(cnec, network.SideOne)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, f, 1e-6)

	s, err := res.SensitivityOnFlow(sensitivity.RangeActionVar(pst), cnec, network.SideOne)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, s, 1e-9)
}

func TestCompute_Contingency(t *testing.T) {
	b := builtin(t, "triangle")
	prev := b.Crac.FlowCnec("AB-prev")
	cur := b.Crac.FlowCnec("AB-cur")
	hvdc := b.Crac.RangeAction("hvdc")
	req := sensitivity.Request{Cnecs: b.Crac.FlowCnecs(), RangeActions: b.Crac.RangeActions(), Glsk: b.Glsk}

	for _, method := range []Method{MethodInverse, MethodPseudoInverse} {
		t.Run(string(method), func(t *testing.T) {
			res, err := New(WithMethod(method)).Compute(context.Background(), b.Network.WorkingVariant(), req)
			require.NoError(t, err)
			assert.Equal(t, sensitivity.StatusDefault, res.Status())

			f, _ := res.ReferenceFlow(prev, network.SideOne)
			assert.InDelta(t, 30.0, f, 1e-6)
			f2, _ := res.ReferenceFlow(prev, network.SideTwo)
			assert.InDelta(t, -30.0, f2, 1e-6)
			fc, _ := res.ReferenceFlow(cur, network.SideOne)
			assert.InDelta(t, 90.0, fc, 1e-6)

			z, _ := res.SensitivityOnFlow(sensitivity.ZoneVar("BE"), prev, network.SideOne)
			assert.InDelta(t, -1.0/3, z, 1e-6)
			z2, _ := res.SensitivityOnFlow(sensitivity.ZoneVar("BE"), prev, network.SideTwo)
			assert.InDelta(t, 1.0/3, z2, 1e-6)
			zc, _ := res.SensitivityOnFlow(sensitivity.ZoneVar("BE"), cur, network.SideOne)
			assert.InDelta(t, -1.0, zc, 1e-6)

			h, _ := res.SensitivityOnFlow(sensitivity.RangeActionVar(hvdc), prev, network.SideOne)
			assert.InDelta(t, -1.0/3, h, 1e-6)
		})
	}
	assert.False(t, b.Network.WorkingVariant().IsOpen("AC"), "contingency must not touch the variant")
}

const singular = `
name: singular
grid:
  buses:
    - {id: A, zone: FR, nominal_kv: 400}
    - {id: B, zone: FR, nominal_kv: 400}
  branches:
    - {id: AB, from: A, to: B, reactance: 0.1}
    - {id: AB2, from: A, to: B, reactance: -0.1}
  injections:
    - {id: G, bus: A, p: 10}
    - {id: D, bus: B, p: -10}
crac:
  id: singular
  instants:
    - {id: preventive, kind: PREVENTIVE}
  flow_cnecs:
    - id: AB-prev
      network_element: AB
      instant: preventive
      optimized: true
      thresholds:
        - {side: 1, unit: MW, max: 100}
`

func TestCompute_SingularFallsBack(t *testing.T) {
	b := build(t, singular)
	req := sensitivity.Request{Cnecs: b.Crac.FlowCnecs()}
	v := b.Network.WorkingVariant()

	res, err := New().Compute(context.Background(), v, req)
	require.NoError(t, err)
	assert.Equal(t, sensitivity.StatusFailure, res.Status())

	runner := sensitivity.NewRunner(New(),
		sensitivity.WithFallback(New(WithMethod(MethodPseudoInverse), WithName("dc-pinv"))))
	res, err = runner.Run(context.Background(), v, req)
	require.NoError(t, err)
	assert.Equal(t, sensitivity.StatusFallback, res.Status())
	_, err = res.ReferenceFlow(b.Crac.FlowCnec("AB-prev"), network.SideOne)
	assert.NoError(t, err)
}

func TestCompute_Cancelled(t *testing.T) {
	b := builtin(t, "two-branch")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Compute(ctx, b.Network.WorkingVariant(), sensitivity.Request{Cnecs: b.Crac.FlowCnecs()})
	assert.Error(t, err)
}
