// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRAO/services/rao/network"
)

func f(v float64) *float64 { return &v }

func testNetwork(t *testing.T) *network.Network {
	t.Helper()
	grid, err := network.NewGrid(network.GridSpec{
		Buses: []network.Bus{
			{ID: "A", Zone: "FR", NominalKV: 400},
			{ID: "B", Zone: "BE", NominalKV: 400},
		},
		Branches: []network.Branch{
			{ID: "L1", From: "A", To: "B", Reactance: 0.1},
			{ID: "L2", From: "A", To: "B", Reactance: 0.1},
		},
		Psts: []network.Pst{{BranchID: "L1", TapToAngle: map[int]float64{-2: -4, -1: -2, 0: 0, 1: 2, 2: 4}, InitialTap: 0}},
		Injections: []network.Injection{
			{ID: "G", Bus: "A", P: 120},
			{ID: "D", Bus: "B", P: -120},
		},
		Hvdcs: []network.HvdcLine{{ID: "DC", From: "A", To: "B", Setpoint: 50}},
	})
	require.NoError(t, err)
	return network.New(grid)
}

func testSpec() CracSpec {
	return CracSpec{
		ID: "crac",
		Instants: []Instant{
			{ID: "preventive", Kind: InstantPreventive},
			{ID: "outage", Kind: InstantOutage},
			{ID: "curative", Kind: InstantCurative},
		},
		Contingencies: []Contingency{{ID: "co1", Elements: []string{"L2"}}},
		FlowCnecs: []FlowCnec{
			{ID: "L1-prev", NetworkElement: "L1", Instant: "preventive", Optimized: true,
				Thresholds: []Threshold{{Side: network.SideOne, Unit: MegaWatt, Min: f(-100), Max: f(100)}}},
			{ID: "L1-cur", NetworkElement: "L1", Instant: "curative", Contingency: "co1", Optimized: true,
				Thresholds: []Threshold{{Side: network.SideOne, Unit: Ampere, Max: f(500)}}},
		},
		NetworkActions: []NetworkAction{
			{ID: "open-L2", Operator: "FR",
				UsageRules: []UsageRule{{Kind: OnInstant, Method: UsageAvailable, Instant: "preventive"}},
				Elementary: []ElementaryAction{{Kind: TopologyAction, Element: "L2", Action: ActionOpen}}},
		},
		RangeActions: []RangeAction{
			{ID: "pst", Operator: "FR", Kind: PstRangeAction, NetworkElement: "L1",
				Ranges:     []Range{{Type: RangeAbsolute, Min: -1, Max: 2}},
				UsageRules: []UsageRule{{Kind: OnInstant, Method: UsageAvailable, Instant: "preventive"}}},
			{ID: "hvdc", Operator: "BE", Kind: HvdcRangeAction, NetworkElement: "DC",
				Ranges: []Range{
					{Type: RangeAbsolute, Min: -100, Max: 100},
					{Type: RangeRelativeToInitialNetwork, Min: -30, Max: 30},
				},
				UsageRules: []UsageRule{{Kind: OnInstant, Method: UsageAvailable, Instant: "preventive"}}},
		},
	}
}

func TestNewCrac(t *testing.T) {
	net := testNetwork(t)
	crac, err := NewCrac(testSpec(), net)
	require.NoError(t, err)

	assert.Equal(t, "crac", crac.ID())
	assert.Len(t, crac.States(), 3)
	assert.Equal(t, "preventive", crac.PreventiveState().ID())

	cur := crac.State("co1", "curative")
	require.NotNil(t, cur)
	assert.Equal(t, "co1 - curative", cur.ID())
	assert.True(t, crac.PreventiveState().Before(cur))
	assert.True(t, crac.State("co1", "outage").Before(cur))
	assert.False(t, cur.Before(crac.PreventiveState()))

	assert.Len(t, crac.FlowCnecsOfState(cur), 1)
	assert.Equal(t, []string{"BE", "FR"}, crac.FlowCnec("L1-cur").Countries())
	assert.InDelta(t, 400.0, crac.FlowCnec("L1-cur").NominalV2, 1e-9)
	assert.Len(t, crac.StatesOfContingency("co1"), 2)
	assert.Len(t, crac.PotentiallyAvailableNetworkActions(crac.PreventiveState()), 1)
	assert.Empty(t, crac.PotentiallyAvailableRangeActions(cur))
}

func TestNewCrac_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CracSpec)
		wantErr error
	}{
		{"unknown branch in cnec", func(s *CracSpec) { s.FlowCnecs[0].NetworkElement = "X" }, ErrUnknownElement},
		{"unknown pst", func(s *CracSpec) { s.RangeActions[0].NetworkElement = "L2" }, ErrUnknownElement},
		{"unknown contingency element", func(s *CracSpec) { s.Contingencies[0].Elements = []string{"Z"} }, ErrUnknownElement},
		{"duplicate action", func(s *CracSpec) { s.RangeActions[1].ID = "open-L2" }, ErrInvalidCrac},
		{"missing instant kind", func(s *CracSpec) { s.Instants[1].Kind = "LATER" }, ErrInvalidCrac},
		{"curative before outage", func(s *CracSpec) {
			s.Instants = []Instant{{ID: "preventive", Kind: InstantPreventive}, {ID: "curative", Kind: InstantCurative}}
		}, ErrInvalidCrac},
		{"conflicting elementary actions", func(s *CracSpec) {
			s.NetworkActions[0].Elementary = append(s.NetworkActions[0].Elementary,
				ElementaryAction{Kind: TopologyAction, Element: "L2", Action: ActionClose})
		}, ErrIncompatibleActions},
		{"usage rule on unknown cnec", func(s *CracSpec) {
			s.NetworkActions[0].UsageRules = []UsageRule{{Kind: OnConstraint, Method: UsageAvailable, Instant: "preventive", Cnec: "nope"}}
		}, ErrInvalidCrac},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := testSpec()
			tt.mutate(&spec)
			_, err := NewCrac(spec, testNetwork(t))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFlowCnec_Margin(t *testing.T) {
	crac, err := NewCrac(testSpec(), testNetwork(t))
	require.NoError(t, err)

	prev := crac.FlowCnec("L1-prev")
	assert.InDelta(t, -20.0, prev.ComputeMargin(120, network.SideOne, MegaWatt), 1e-9)
	assert.InDelta(t, 10.0, prev.ComputeMargin(-90, network.SideOne, MegaWatt), 1e-9)
	assert.Equal(t, NoBound, prev.ComputeMargin(0, network.SideTwo, MegaWatt))

	cur := crac.FlowCnec("L1-cur")
	upper, ok := cur.UpperBound(network.SideOne, MegaWatt)
	require.True(t, ok)
	assert.InDelta(t, 500*math.Sqrt(3)*400/1000, upper, 1e-6)
	_, ok = cur.LowerBound(network.SideOne, MegaWatt)
	assert.False(t, ok)
}

func TestFlowCnec_ReliabilityMargin(t *testing.T) {
	spec := testSpec()
	spec.FlowCnecs[0].ReliabilityMargin = 10
	crac, err := NewCrac(spec, testNetwork(t))
	require.NoError(t, err)
	assert.InDelta(t, -30.0, crac.FlowCnec("L1-prev").ComputeMargin(120, network.SideOne, MegaWatt), 1e-9)
}

func TestUsageRule_StrongestWins(t *testing.T) {
	spec := testSpec()
	spec.NetworkActions[0].UsageRules = []UsageRule{
		{Kind: OnContingencyState, Method: UsageForced, Instant: "curative", Contingency: "co1"},
		{Kind: OnInstant, Method: UsageAvailable, Instant: "preventive"},
	}
	crac, err := NewCrac(spec, testNetwork(t))
	require.NoError(t, err)

	na := crac.NetworkAction("open-L2")
	cur := crac.State("co1", "curative")
	assert.Equal(t, UsageForced, ResolveUsageMethod(na.UsageRules, cur))
	assert.Equal(t, UsageAvailable, ResolveUsageMethod(na.UsageRules, crac.PreventiveState()))
	assert.Equal(t, UsageUndefined, ResolveUsageMethod(na.UsageRules, crac.State("co1", "outage")))
	assert.True(t, IsForced(na.UsageRules, cur))

	rules := append(na.UsageRules, UsageRule{Kind: OnInstant, Method: UsageUnavailable, Instant: "curative"})
	assert.Equal(t, UsageUnavailable, ResolveUsageMethod(rules, cur))
	assert.False(t, IsAvailable(rules, cur, nil, nil))
}

func TestStrongest(t *testing.T) {
	order := []UsageMethod{UsageUndefined, UsageAvailable, UsageForced, UsageUnavailable}
	for i, a := range order {
		for j, b := range order {
			want := a
			if j > i {
				want = b
			}
			assert.Equal(t, want, Strongest(a, b), "%s vs %s", a, b)
		}
	}
}

func TestIsAvailable_FlowConditioned(t *testing.T) {
	spec := testSpec()
	spec.NetworkActions[0].UsageRules = []UsageRule{
		{Kind: OnConstraint, Method: UsageAvailable, Instant: "preventive", Cnec: "L1-prev"},
	}
	spec.RangeActions[1].UsageRules = []UsageRule{
		{Kind: OnFlowConstraintInCountry, Method: UsageAvailable, Instant: "preventive", Country: "BE"},
	}
	crac, err := NewCrac(spec, testNetwork(t))
	require.NoError(t, err)
	prev := crac.PreventiveState()

	secure := func(*FlowCnec) float64 { return 5 }
	unsecure := func(*FlowCnec) float64 { return -5 }

	na := crac.NetworkAction("open-L2")
	assert.False(t, IsAvailable(na.UsageRules, prev, crac.FlowCnecs(), secure))
	assert.True(t, IsAvailable(na.UsageRules, prev, crac.FlowCnecs(), unsecure))
	assert.False(t, IsAvailable(na.UsageRules, prev, crac.FlowCnecs(), nil))

	ra := crac.RangeAction("hvdc")
	assert.True(t, IsAvailable(ra.UsageRules, prev, crac.FlowCnecs(), unsecure))
	assert.False(t, IsAvailable(ra.UsageRules, prev, crac.FlowCnecs(), secure))
}

func TestNetworkAction_ApplyAndCompatibility(t *testing.T) {
	net := testNetwork(t)
	crac, err := NewCrac(testSpec(), net)
	require.NoError(t, err)

	id, err := net.CloneVariant(network.InitialVariantID)
	require.NoError(t, err)
	defer func() { _ = net.RemoveVariant(id) }()
	v, _ := net.Variant(id)

	na := crac.NetworkAction("open-L2")
	changed, err := na.Apply(v)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = na.Apply(v)
	require.NoError(t, err)
	assert.False(t, changed, "second application is a no-op")

	closeL2 := &NetworkAction{ID: "close-L2", Elementary: []ElementaryAction{{Kind: TopologyAction, Element: "L2", Action: ActionClose}}}
	assert.False(t, na.CompatibleWith(closeL2))
	pair := &NetworkAction{ID: "pair", Elementary: []ElementaryAction{{Kind: SwitchPairAction, SwitchToOpen: "L1", SwitchToClose: "L2"}}}
	assert.False(t, na.CompatibleWith(pair))
	tap := &NetworkAction{ID: "tap", Elementary: []ElementaryAction{{Kind: PstSetpointAction, Element: "L1", Tap: 1}}}
	assert.True(t, na.CompatibleWith(tap))
	assert.Equal(t, []string{"L1", "L2"}, pair.NetworkElements())

	bad := &NetworkAction{ID: "bad", Elementary: []ElementaryAction{{Kind: PstSetpointAction, Element: "L1", Tap: 9}}}
	_, err = bad.Apply(v)
	assert.True(t, errors.Is(err, ErrUnknownElement))
}

func TestRangeAction_PstConversions(t *testing.T) {
	crac, err := NewCrac(testSpec(), testNetwork(t))
	require.NoError(t, err)
	pst := crac.RangeAction("pst")

	assert.Equal(t, []int{-2, -1, 0, 1, 2}, pst.Taps())
	assert.Equal(t, 1, pst.AngleToTap(2.4))
	assert.Equal(t, 0, pst.AngleToTap(1.0), "ties go to the smaller absolute tap")
	assert.Equal(t, 0, pst.AngleToTap(-1.0))
	assert.Equal(t, 2, pst.AngleToTap(50))
	assert.InDelta(t, 2.0, pst.SmallestAngleStep(), 1e-12)

	angle, err := pst.TapToAngle(-2)
	require.NoError(t, err)
	assert.InDelta(t, -4.0, angle, 1e-12)
	_, err = pst.TapToAngle(7)
	assert.Error(t, err)

	assert.InDelta(t, -2.0, pst.MinAdmissibleSetpoint(0), 1e-12)
	assert.InDelta(t, 4.0, pst.MaxAdmissibleSetpoint(0), 1e-12)
}

func TestRangeAction_StandardRanges(t *testing.T) {
	net := testNetwork(t)
	crac, err := NewCrac(testSpec(), net)
	require.NoError(t, err)
	hvdc := crac.RangeAction("hvdc")

	assert.InDelta(t, 50.0, hvdc.InitialSetpoint(), 1e-12)
	assert.InDelta(t, 20.0, hvdc.MinAdmissibleSetpoint(0), 1e-12)
	assert.InDelta(t, 80.0, hvdc.MaxAdmissibleSetpoint(0), 1e-12)

	id, err := net.CloneVariant(network.InitialVariantID)
	require.NoError(t, err)
	v, _ := net.Variant(id)
	require.NoError(t, hvdc.Apply(v, 70))
	sp, err := hvdc.CurrentSetpoint(v)
	require.NoError(t, err)
	assert.InDelta(t, 70.0, sp, 1e-12)
	require.NoError(t, net.RemoveVariant(id))
}

func TestRangeAction_Injection(t *testing.T) {
	spec := testSpec()
	spec.RangeActions = append(spec.RangeActions, RangeAction{
		ID: "redispatch", Kind: InjectionRangeAction, Keys: map[string]float64{"G": 1, "D": -1},
		Ranges: []Range{{Type: RangeAbsolute, Min: 0, Max: 200}},
	})
	net := testNetwork(t)
	crac, err := NewCrac(spec, net)
	require.NoError(t, err)

	ra := crac.RangeAction("redispatch")
	assert.InDelta(t, 120.0, ra.InitialSetpoint(), 1e-9)
	assert.Equal(t, []string{"D", "G"}, ra.NetworkElements())

	v, _ := net.Variant(network.InitialVariantID)
	id, _ := net.CloneVariant(v.ID())
	clone, _ := net.Variant(id)
	require.NoError(t, ra.Apply(clone, 150))
	p, _ := clone.InjectionP("D")
	assert.InDelta(t, -150.0, p, 1e-9)
	_ = net.RemoveVariant(id)
}
