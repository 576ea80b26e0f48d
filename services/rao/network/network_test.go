// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package network

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeBusSpec() GridSpec {
	return GridSpec{
		Buses: []Bus{
			{ID: "A", Zone: "FR", NominalKV: 400},
			{ID: "B", Zone: "FR", NominalKV: 400},
			{ID: "C", Zone: "BE", NominalKV: 400},
		},
		Branches: []Branch{
			{ID: "AB", From: "A", To: "B", Reactance: 0.1},
			{ID: "BC", From: "B", To: "C", Reactance: 0.1},
			{ID: "AC", From: "A", To: "C", Reactance: 0.2},
		},
		Psts: []Pst{{BranchID: "AC", TapToAngle: map[int]float64{-1: -2, 0: 0, 1: 2}, InitialTap: 0}},
		Injections: []Injection{
			{ID: "G1", Bus: "A", P: 100},
			{ID: "L1", Bus: "C", P: -100},
		},
		Hvdcs: []HvdcLine{{ID: "DC1", From: "A", To: "C", Setpoint: 10}},
	}
}

func newTestNetwork(t *testing.T) *Network {
	t.Helper()
	grid, err := NewGrid(threeBusSpec())
	require.NoError(t, err)
	return New(grid)
}

func TestNewGrid_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*GridSpec)
	}{
		{"duplicate bus", func(s *GridSpec) { s.Buses = append(s.Buses, Bus{ID: "A"}) }},
		{"unknown bus", func(s *GridSpec) { s.Branches[0].To = "Z" }},
		{"zero reactance", func(s *GridSpec) { s.Branches[0].Reactance = 0 }},
		{"pst tap missing", func(s *GridSpec) { s.Psts[0].InitialTap = 5 }},
		{"pst on unknown branch", func(s *GridSpec) { s.Psts[0].BranchID = "XX" }},
		{"hvdc id clash", func(s *GridSpec) { s.Hvdcs[0].ID = "AB" }},
		{"injection unknown bus", func(s *GridSpec) { s.Injections[0].Bus = "Q" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := threeBusSpec()
			tt.mutate(&spec)
			_, err := NewGrid(spec)
			assert.ErrorIs(t, err, ErrInvalidGrid)
		})
	}
}

func TestGrid_Zones(t *testing.T) {
	grid, err := NewGrid(threeBusSpec())
	require.NoError(t, err)

	assert.Equal(t, []string{"FR"}, grid.ZoneOfBranch("AB"))
	assert.Equal(t, []string{"BE", "FR"}, grid.ZoneOfBranch("BC"))
	assert.Equal(t, []string{"FR"}, grid.ZonesOfElement("G1"))

	borders := grid.ZoneBorders()
	assert.Len(t, borders, 1)
	assert.Equal(t, [2]string{"BE", "FR"}, borders["BE/FR"])
}

func TestNetwork_CloneAndRemove(t *testing.T) {
	n := newTestNetwork(t)
	before := n.VariantIDs()

	id, err := n.CloneVariant(InitialVariantID)
	require.NoError(t, err)
	assert.Equal(t, 2, n.VariantCount())

	clone, err := n.Variant(id)
	require.NoError(t, err)
	changed, err := clone.SetOpen("AB", true)
	require.NoError(t, err)
	assert.True(t, changed)

	initial, err := n.Variant(InitialVariantID)
	require.NoError(t, err)
	assert.False(t, initial.IsOpen("AB"), "clone mutation must not leak to its source")

	require.NoError(t, n.RemoveVariant(id))
	assert.Equal(t, before, n.VariantIDs())
}

func TestNetwork_Errors(t *testing.T) {
	n := newTestNetwork(t)

	_, err := n.CloneVariant("missing")
	assert.ErrorIs(t, err, ErrVariantNotFound)

	assert.ErrorIs(t, n.RemoveVariant(InitialVariantID), ErrInitialVariant)
	assert.ErrorIs(t, n.RemoveVariant("missing"), ErrVariantNotFound)
	assert.ErrorIs(t, n.SetWorkingVariant("missing"), ErrVariantNotFound)

	require.NoError(t, n.CloneVariantAs(InitialVariantID, "copy", false))
	assert.ErrorIs(t, n.CloneVariantAs(InitialVariantID, "copy", false), ErrVariantExists)
	assert.NoError(t, n.CloneVariantAs(InitialVariantID, "copy", true))
}

func TestNetwork_WorkingVariant(t *testing.T) {
	n := newTestNetwork(t)
	require.NoError(t, n.CloneVariantAs(InitialVariantID, "w", false))
	require.NoError(t, n.SetWorkingVariant("w"))
	assert.Equal(t, "w", n.WorkingVariant().ID())

	require.NoError(t, n.RemoveVariant("w"))
	assert.Equal(t, InitialVariantID, n.WorkingVariant().ID())
}

func TestNetwork_ConcurrentClones(t *testing.T) {
	n := newTestNetwork(t)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := n.CloneVariant(InitialVariantID)
			if err != nil {
				t.Errorf("CloneVariant() error = %v", err)
				return
			}
			v, _ := n.Variant(id)
			_, _ = v.SetTap("AC", 1)
			if err := n.RemoveVariant(id); err != nil {
				t.Errorf("RemoveVariant() error = %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, []string{InitialVariantID}, n.VariantIDs())
}

func TestVariant_Setters(t *testing.T) {
	n := newTestNetwork(t)
	v, err := n.Variant(InitialVariantID)
	require.NoError(t, err)

	changed, err := v.SetTap("AC", 1)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.InDelta(t, 2.0, v.Angle("AC"), 1e-12)

	changed, err = v.SetTap("AC", 1)
	require.NoError(t, err)
	assert.False(t, changed, "setting the same tap is a no-op")

	_, err = v.SetTap("AC", 7)
	assert.ErrorIs(t, err, ErrInvalidTap)
	_, err = v.SetTap("AB", 0)
	assert.ErrorIs(t, err, ErrElementNotFound)

	changed, err = v.SetInjectionP("G1", 120)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = v.SetHvdcSetpoint("DC1", 10)
	require.NoError(t, err)
	assert.False(t, changed)

	injection := v.BusInjection()
	assert.InDelta(t, 120-10, injection["A"], 1e-9)
	assert.InDelta(t, -100+10, injection["C"], 1e-9)

	_, err = v.SetOpen("nope", true)
	if !errors.Is(err, ErrElementNotFound) {
		t.Errorf("SetOpen(nope) error = %v, want ErrElementNotFound", err)
	}
}

func TestIslands(t *testing.T) {
	n := newTestNetwork(t)
	v, _ := n.Variant(InitialVariantID)

	islands, busToIsland := Islands(v)
	assert.Len(t, islands, 1)
	assert.Equal(t, 0, busToIsland["C"])

	_, _ = v.SetOpen("BC", true)
	_, _ = v.SetOpen("AC", true)
	islands, busToIsland = Islands(v)
	assert.Len(t, islands, 2)
	assert.NotEqual(t, busToIsland["A"], busToIsland["C"])

	assert.True(t, BusInMainComponent(v, "A"))
	assert.True(t, BusInMainComponent(v, "B"))
	assert.False(t, BusInMainComponent(v, "C"))
}

func TestIslandsWithout(t *testing.T) {
	n := newTestNetwork(t)
	v, _ := n.Variant(InitialVariantID)

	islands, busToIsland := IslandsWithout(v, map[string]bool{"BC": true, "AC": true})
	assert.Len(t, islands, 2)
	assert.Equal(t, "A", islands[0][0])
	assert.NotEqual(t, busToIsland["A"], busToIsland["C"])
	assert.False(t, v.IsOpen("BC"), "variant untouched")
}
