// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package network is the reference grid model used by the optimizer.
//
// A Grid holds the immutable structure of a transmission network (buses,
// branches, phase shifters, injections, HVDC lines). Mutable operating
// quantities (switch states, taps, setpoints) live in Variants, stored in an
// arena owned by a Network. Every concurrent evaluation clones its own
// variant, mutates it exclusively and removes it when done.
package network

import (
	"fmt"
	"sort"
)

// Side identifies one end of a branch.
type Side int

const (
	// SideOne is the "from" end of a branch.
	SideOne Side = 1
	// SideTwo is the "to" end of a branch.
	SideTwo Side = 2
)

// String returns "ONE" or "TWO".
func (s Side) String() string {
	switch s {
	case SideOne:
		return "ONE"
	case SideTwo:
		return "TWO"
	default:
		return "UNKNOWN"
	}
}

// Bus is an electrical node.
type Bus struct {
	ID string `json:"id" yaml:"id"`

	// Zone is the bidding zone or country code of the bus.
	Zone string `json:"zone" yaml:"zone"`

	// NominalKV is the nominal voltage, used for ampere conversions.
	NominalKV float64 `json:"nominal_kv" yaml:"nominal_kv"`
}

// Branch is a line, transformer or switch between two buses.
type Branch struct {
	ID   string `json:"id" yaml:"id"`
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`

	// Reactance in per unit on a 100 MVA base.
	Reactance float64 `json:"reactance" yaml:"reactance"`

	// Open is the initial state of the branch breaker.
	Open bool `json:"open" yaml:"open"`

	// Switch marks a coupling switch rather than a line.
	Switch bool `json:"switch" yaml:"switch"`
}

// Pst is a phase-shifting transformer located on a branch.
type Pst struct {
	// BranchID is the branch carrying the phase shifter.
	BranchID string `json:"branch_id" yaml:"branch_id"`

	// TapToAngle maps each tap position to an angle in degrees.
	TapToAngle map[int]float64 `json:"tap_to_angle" yaml:"tap_to_angle"`

	// InitialTap is the tap in the initial variant.
	InitialTap int `json:"initial_tap" yaml:"initial_tap"`
}

// Injection is a generator (positive P) or load (negative P).
type Injection struct {
	ID  string  `json:"id" yaml:"id"`
	Bus string  `json:"bus" yaml:"bus"`
	P   float64 `json:"p" yaml:"p"`
}

// HvdcLine is a controllable DC link modelled as a pair of injections.
type HvdcLine struct {
	ID   string `json:"id" yaml:"id"`
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`

	// Setpoint is the active power sent from From to To, in MW.
	Setpoint float64 `json:"setpoint" yaml:"setpoint"`
}

// Grid is the immutable structure of a network.
//
// Thread Safety: Safe for concurrent reads once built.
type Grid struct {
	buses      map[string]Bus
	branches   map[string]Branch
	psts       map[string]Pst
	injections map[string]Injection
	hvdcs      map[string]HvdcLine

	busOrder       []string
	branchOrder    []string
	injectionOrder []string
	hvdcOrder      []string
}

// GridSpec is the plain description a Grid is built from.
type GridSpec struct {
	Buses      []Bus       `json:"buses" yaml:"buses"`
	Branches   []Branch    `json:"branches" yaml:"branches"`
	Psts       []Pst       `json:"psts" yaml:"psts"`
	Injections []Injection `json:"injections" yaml:"injections"`
	Hvdcs      []HvdcLine  `json:"hvdcs" yaml:"hvdcs"`
}

// NewGrid validates a GridSpec and builds a Grid.
//
// Inputs:
//
//	spec - Grid description. Ids must be unique across element kinds that share
//	       a namespace (branches and HVDC lines, injections).
//
// Outputs:
//
//	*Grid - The grid.
//	error - Wraps ErrInvalidGrid for duplicate ids, unknown buses, zero
//	        reactance or an initial tap missing from the PST table.
func NewGrid(spec GridSpec) (*Grid, error) {
	g := &Grid{
		buses:      make(map[string]Bus, len(spec.Buses)),
		branches:   make(map[string]Branch, len(spec.Branches)),
		psts:       make(map[string]Pst, len(spec.Psts)),
		injections: make(map[string]Injection, len(spec.Injections)),
		hvdcs:      make(map[string]HvdcLine, len(spec.Hvdcs)),
	}

	for _, b := range spec.Buses {
		if b.ID == "" {
			return nil, fmt.Errorf("%w: bus with empty id", ErrInvalidGrid)
		}
		if _, dup := g.buses[b.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate bus %s", ErrInvalidGrid, b.ID)
		}
		g.buses[b.ID] = b
		g.busOrder = append(g.busOrder, b.ID)
	}

	for _, br := range spec.Branches {
		if _, dup := g.branches[br.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate branch %s", ErrInvalidGrid, br.ID)
		}
		if !g.HasBus(br.From) || !g.HasBus(br.To) {
			return nil, fmt.Errorf("%w: branch %s references unknown bus", ErrInvalidGrid, br.ID)
		}
		if br.Reactance == 0 {
			return nil, fmt.Errorf("%w: branch %s has zero reactance", ErrInvalidGrid, br.ID)
		}
		g.branches[br.ID] = br
		g.branchOrder = append(g.branchOrder, br.ID)
	}

	for _, p := range spec.Psts {
		if _, ok := g.branches[p.BranchID]; !ok {
			return nil, fmt.Errorf("%w: pst on unknown branch %s", ErrInvalidGrid, p.BranchID)
		}
		if _, ok := p.TapToAngle[p.InitialTap]; !ok {
			return nil, fmt.Errorf("%w: pst %s initial tap %d not in table", ErrInvalidGrid, p.BranchID, p.InitialTap)
		}
		g.psts[p.BranchID] = p
	}

	for _, inj := range spec.Injections {
		if _, dup := g.injections[inj.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate injection %s", ErrInvalidGrid, inj.ID)
		}
		if !g.HasBus(inj.Bus) {
			return nil, fmt.Errorf("%w: injection %s references unknown bus %s", ErrInvalidGrid, inj.ID, inj.Bus)
		}
		g.injections[inj.ID] = inj
		g.injectionOrder = append(g.injectionOrder, inj.ID)
	}

	for _, h := range spec.Hvdcs {
		if _, dup := g.hvdcs[h.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate hvdc %s", ErrInvalidGrid, h.ID)
		}
		if _, clash := g.branches[h.ID]; clash {
			return nil, fmt.Errorf("%w: hvdc %s clashes with a branch id", ErrInvalidGrid, h.ID)
		}
		if !g.HasBus(h.From) || !g.HasBus(h.To) {
			return nil, fmt.Errorf("%w: hvdc %s references unknown bus", ErrInvalidGrid, h.ID)
		}
		g.hvdcs[h.ID] = h
		g.hvdcOrder = append(g.hvdcOrder, h.ID)
	}

	return g, nil
}

// HasBus reports whether the bus exists.
func (g *Grid) HasBus(id string) bool {
	_, ok := g.buses[id]
	return ok
}

// Bus returns a bus by id.
func (g *Grid) Bus(id string) (Bus, bool) {
	b, ok := g.buses[id]
	return b, ok
}

// Branch returns a branch by id.
func (g *Grid) Branch(id string) (Branch, bool) {
	b, ok := g.branches[id]
	return b, ok
}

// Pst returns the phase shifter located on a branch.
func (g *Grid) Pst(branchID string) (Pst, bool) {
	p, ok := g.psts[branchID]
	return p, ok
}

// Injection returns an injection by id.
func (g *Grid) Injection(id string) (Injection, bool) {
	i, ok := g.injections[id]
	return i, ok
}

// Hvdc returns an HVDC line by id.
func (g *Grid) Hvdc(id string) (HvdcLine, bool) {
	h, ok := g.hvdcs[id]
	return h, ok
}

// HasElement reports whether any element kind uses the id.
func (g *Grid) HasElement(id string) bool {
	if _, ok := g.branches[id]; ok {
		return true
	}
	if _, ok := g.injections[id]; ok {
		return true
	}
	if _, ok := g.hvdcs[id]; ok {
		return true
	}
	return g.HasBus(id)
}

// BusIDs returns bus ids in declaration order.
func (g *Grid) BusIDs() []string { return append([]string(nil), g.busOrder...) }

// BranchIDs returns branch ids in declaration order.
func (g *Grid) BranchIDs() []string { return append([]string(nil), g.branchOrder...) }

// InjectionIDs returns injection ids in declaration order.
func (g *Grid) InjectionIDs() []string { return append([]string(nil), g.injectionOrder...) }

// HvdcIDs returns HVDC ids in declaration order.
func (g *Grid) HvdcIDs() []string { return append([]string(nil), g.hvdcOrder...) }

// ZoneOfBranch returns the zones of both ends of a branch (one entry when equal).
func (g *Grid) ZoneOfBranch(id string) []string {
	br, ok := g.branches[id]
	if !ok {
		return nil
	}
	z1, z2 := g.buses[br.From].Zone, g.buses[br.To].Zone
	if z1 == z2 {
		return []string{z1}
	}
	zones := []string{z1, z2}
	sort.Strings(zones)
	return zones
}

// ZonesOfElement returns the zones touched by any element kind.
func (g *Grid) ZonesOfElement(id string) []string {
	if _, ok := g.branches[id]; ok {
		return g.ZoneOfBranch(id)
	}
	if inj, ok := g.injections[id]; ok {
		return []string{g.buses[inj.Bus].Zone}
	}
	if h, ok := g.hvdcs[id]; ok {
		z1, z2 := g.buses[h.From].Zone, g.buses[h.To].Zone
		if z1 == z2 {
			return []string{z1}
		}
		return []string{z1, z2}
	}
	if b, ok := g.buses[id]; ok {
		return []string{b.Zone}
	}
	return nil
}

// ZoneBorders returns the set of adjacent zone pairs, keyed "A/B" with A < B.
// Two zones are adjacent when a branch or HVDC line connects them.
func (g *Grid) ZoneBorders() map[string][2]string {
	borders := make(map[string][2]string)
	add := func(a, b string) {
		if a == b || a == "" || b == "" {
			return
		}
		if b < a {
			a, b = b, a
		}
		borders[a+"/"+b] = [2]string{a, b}
	}
	for _, id := range g.branchOrder {
		br := g.branches[id]
		add(g.buses[br.From].Zone, g.buses[br.To].Zone)
	}
	for _, id := range g.hvdcOrder {
		h := g.hvdcs[id]
		add(g.buses[h.From].Zone, g.buses[h.To].Zone)
	}
	return borders
}
