// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package searchtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRAO/services/rao/limits"
	"github.com/AleutianAI/AleutianRAO/services/rao/model"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
	"github.com/AleutianAI/AleutianRAO/services/rao/objective"
	"github.com/AleutianAI/AleutianRAO/services/rao/perimeter"
	"github.com/AleutianAI/AleutianRAO/services/rao/rangeaction"
	"github.com/AleutianAI/AleutianRAO/services/rao/scenario"
)

func topo(id, op, element string, action model.ActionType) *model.NetworkAction {
	return &model.NetworkAction{
		ID:       id,
		Operator: op,
		Elementary: []model.ElementaryAction{
			{Kind: model.TopologyAction, Element: element, Action: action},
		},
	}
}

// bloomFixture offers three actions on the curative-triangle grid:
// close-AB2 and open-AB2 conflict, inj-D is a Belgian redispatch.
type bloomFixture struct {
	built   *scenario.Built
	in      *Input
	actions map[string]*model.NetworkAction
}

func newBloomFixture(t *testing.T) *bloomFixture {
	t.Helper()
	c, err := scenario.Builtin("curative-triangle")
	require.NoError(t, err)
	b, err := c.Build()
	require.NoError(t, err)

	actions := []*model.NetworkAction{
		topo("close-AB2", "FR", "AB2", model.ActionClose),
		topo("open-AB2", "FR", "AB2", model.ActionOpen),
		{
			ID:       "inj-D",
			Operator: "BE",
			Elementary: []model.ElementaryAction{
				{Kind: model.InjectionSetpointAction, Element: "D", Setpoint: -100},
			},
		},
	}
	byID := map[string]*model.NetworkAction{}
	for _, na := range actions {
		byID[na.ID] = na
	}
	return &bloomFixture{
		built: b,
		in: &Input{
			Network: b.Network,
			Perimeter: &perimeter.OptimizationPerimeter{
				MainState:      b.Crac.PreventiveState(),
				NetworkActions: actions,
			},
			Limits: limits.NoLimits(),
		},
		actions: byID,
	}
}

func keys(leaves []*Leaf) []string {
	out := make([]string, len(leaves))
	for i, l := range leaves {
		out[i] = l.Key()
	}
	return out
}

func TestBloom_RootCandidates(t *testing.T) {
	f := newBloomFixture(t)
	params := limits.DefaultNetworkActionParameters()
	params.PredefinedCombinations = [][]string{{"close-AB2", "inj-D"}, {"close-AB2", "unknown"}}
	b := NewBloomer(f.in, params, nil)

	root := NewRootLeaf(nil)
	children := b.Bloom(root, map[string]bool{})
	got := keys(children)

	require.Len(t, got, 4)
	assert.Equal(t, "close-AB2+inj-D", got[0], "predefined combinations come first")
	assert.ElementsMatch(t, []string{"close-AB2", "open-AB2", "inj-D"}, got[1:])
	assert.Equal(t, got, keys(b.Bloom(root, map[string]bool{})), "order is deterministic")
	for _, c := range children {
		assert.Same(t, root, c.Parent())
		assert.Equal(t, 1, c.Depth())
	}
}

func TestBloom_DetectedBeforePredefined(t *testing.T) {
	f := newBloomFixture(t)
	f.in.DetectedCombinations = [][]*model.NetworkAction{{f.actions["open-AB2"], f.actions["inj-D"]}}
	params := limits.DefaultNetworkActionParameters()
	params.PredefinedCombinations = [][]string{{"close-AB2", "inj-D"}}

	got := keys(NewBloomer(f.in, params, nil).Bloom(NewRootLeaf(nil), map[string]bool{}))
	require.Len(t, got, 5)
	assert.Equal(t, []string{"inj-D+open-AB2", "close-AB2+inj-D"}, got[:2])
}

func TestBloom_SkipsIncompatibleAndTested(t *testing.T) {
	f := newBloomFixture(t)
	b := NewBloomer(f.in, limits.DefaultNetworkActionParameters(), nil)
	parent := NewRootLeaf(nil).Child([]*model.NetworkAction{f.actions["close-AB2"]}, false)

	assert.Equal(t, []string{"close-AB2+inj-D"}, keys(b.Bloom(parent, map[string]bool{})))
	assert.Empty(t, b.Bloom(parent, map[string]bool{"close-AB2+inj-D": true}))
}

func TestBloom_UsageLimits(t *testing.T) {
	one := 1
	tests := []struct {
		name   string
		limits limits.UsageLimits
		parent []string
		want   []string
	}{
		{
			name:   "max ra drops combinations",
			limits: limits.UsageLimits{MaxRa: &one},
			want:   []string{"close-AB2", "open-AB2", "inj-D"},
		},
		{
			name:   "max tso",
			limits: limits.UsageLimits{MaxTso: &one},
			parent: []string{"close-AB2"},
			want:   nil,
		},
		{
			name:   "max tso exclusion",
			limits: limits.UsageLimits{MaxTso: &one, MaxTsoExclusion: []string{"BE"}},
			parent: []string{"close-AB2"},
			want:   []string{"close-AB2+inj-D"},
		},
		{
			name:   "topo per tso",
			limits: limits.UsageLimits{MaxTopoPerTso: map[string]int{"FR": 0}},
			want:   []string{"inj-D"},
		},
		{
			name:   "ra per tso",
			limits: limits.UsageLimits{MaxRaPerTso: map[string]int{"BE": 0}},
			want:   []string{"close-AB2", "open-AB2"},
		},
		{
			name:   "elementary actions per tso",
			limits: limits.UsageLimits{MaxElementaryActionsPerTso: map[string]int{"FR": 1}},
			parent: []string{"close-AB2"},
			want:   []string{"close-AB2+inj-D"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBloomFixture(t)
			f.in.Limits = tt.limits.Resolve()
			params := limits.DefaultNetworkActionParameters()
			params.PredefinedCombinations = [][]string{{"close-AB2", "inj-D"}}

			parent := NewRootLeaf(nil)
			if len(tt.parent) > 0 {
				var applied []*model.NetworkAction
				for _, id := range tt.parent {
					applied = append(applied, f.actions[id])
				}
				parent = parent.Child(applied, false)
			}
			got := keys(NewBloomer(f.in, params, nil).Bloom(parent, map[string]bool{}))
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestBloom_RemovesRangeActionsOverMaxRa(t *testing.T) {
	c, err := scenario.Builtin("two-branch")
	require.NoError(t, err)
	b, err := c.Build()
	require.NoError(t, err)
	state := b.Crac.PreventiveState()
	pst := b.Crac.RangeAction("pst-L2")

	v, err := b.Network.Variant(network.InitialVariantID)
	require.NoError(t, err)
	pre, err := rangeaction.NewSetpointResult(v, []*model.RangeAction{pst})
	require.NoError(t, err)

	root := NewRootLeaf(nil)
	root.activation = rangeaction.NewActivationResult(pre)
	root.activation.SetOptimizedSetpoint(pst, state, -6)

	in := &Input{
		Network: b.Network,
		Perimeter: &perimeter.OptimizationPerimeter{
			MainState:      state,
			NetworkActions: []*model.NetworkAction{b.Crac.NetworkAction("open-L2")},
			RangeActions:   []*model.RangeAction{pst},
		},
		Limits: maxRa(1),
	}
	children := NewBloomer(in, limits.DefaultNetworkActionParameters(), nil).Bloom(root, map[string]bool{})
	require.Len(t, children, 1)
	assert.True(t, children[0].RemovesRangeActions())

	in.Limits = maxRa(2)
	children = NewBloomer(in, limits.DefaultNetworkActionParameters(), nil).Bloom(root, map[string]bool{})
	require.Len(t, children, 1)
	assert.False(t, children[0].RemovesRangeActions())
}

func TestBloom_SkipsActionsFarFromMostLimitingElement(t *testing.T) {
	f := newBloomFixture(t)
	root := NewRootLeaf(nil)
	root.status = LeafEvaluated
	root.preEvaluation = &objective.Evaluation{
		Limiting: []objective.Limiting{{Cnec: &model.FlowCnec{ID: "ab", NetworkElement: "AB"}, Margin: -10}},
	}

	params := limits.DefaultNetworkActionParameters()
	params.SkipActionsFarFromMostLimitingElement = true
	params.MaxNumberOfBoundariesForSkippingActions = 0
	got := keys(NewBloomer(f.in, params, nil).Bloom(root, map[string]bool{}))
	assert.ElementsMatch(t, []string{"close-AB2", "open-AB2"}, got, "D is one border away in BE")

	params.MaxNumberOfBoundariesForSkippingActions = 1
	got = keys(NewBloomer(f.in, params, nil).Bloom(root, map[string]bool{}))
	assert.ElementsMatch(t, []string{"close-AB2", "open-AB2", "inj-D"}, got)
}
