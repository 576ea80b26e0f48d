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
	"fmt"
	"math"
	"sort"
)

// Variant holds the mutable operating point of a grid.
//
// A variant is owned by exactly one evaluation at a time. Readers that share a
// variant (for example the initial variant read by every sibling leaf) must
// not mutate it.
//
// Thread Safety: Not safe for concurrent mutation.
type Variant struct {
	id   string
	grid *Grid

	open       map[string]bool
	taps       map[string]int
	injections map[string]float64
	hvdcs      map[string]float64
}

func newVariant(id string, grid *Grid) *Variant {
	v := &Variant{
		id:         id,
		grid:       grid,
		open:       make(map[string]bool, len(grid.branches)),
		taps:       make(map[string]int, len(grid.psts)),
		injections: make(map[string]float64, len(grid.injections)),
		hvdcs:      make(map[string]float64, len(grid.hvdcs)),
	}
	for id, br := range grid.branches {
		v.open[id] = br.Open
	}
	for id, p := range grid.psts {
		v.taps[id] = p.InitialTap
	}
	for id, inj := range grid.injections {
		v.injections[id] = inj.P
	}
	for id, h := range grid.hvdcs {
		v.hvdcs[id] = h.Setpoint
	}
	return v
}

func (v *Variant) clone(id string) *Variant {
	c := &Variant{
		id:         id,
		grid:       v.grid,
		open:       make(map[string]bool, len(v.open)),
		taps:       make(map[string]int, len(v.taps)),
		injections: make(map[string]float64, len(v.injections)),
		hvdcs:      make(map[string]float64, len(v.hvdcs)),
	}
	for k, val := range v.open {
		c.open[k] = val
	}
	for k, val := range v.taps {
		c.taps[k] = val
	}
	for k, val := range v.injections {
		c.injections[k] = val
	}
	for k, val := range v.hvdcs {
		c.hvdcs[k] = val
	}
	return c
}

// ID returns the variant id in its arena.
func (v *Variant) ID() string { return v.id }

// Grid returns the grid structure.
func (v *Variant) Grid() *Grid { return v.grid }

// IsOpen reports whether a branch is disconnected.
func (v *Variant) IsOpen(branchID string) bool {
	return v.open[branchID]
}

// SetOpen opens or closes a branch.
//
// Outputs:
//
//	bool  - True if the state changed.
//	error - ErrElementNotFound for an unknown branch.
func (v *Variant) SetOpen(branchID string, open bool) (bool, error) {
	current, ok := v.open[branchID]
	if !ok {
		return false, fmt.Errorf("%w: branch %s", ErrElementNotFound, branchID)
	}
	if current == open {
		return false, nil
	}
	v.open[branchID] = open
	return true, nil
}

// Tap returns the current tap of the PST on a branch.
func (v *Variant) Tap(pstID string) (int, error) {
	tap, ok := v.taps[pstID]
	if !ok {
		return 0, fmt.Errorf("%w: pst %s", ErrElementNotFound, pstID)
	}
	return tap, nil
}

// SetTap moves a PST to a tap of its table.
func (v *Variant) SetTap(pstID string, tap int) (bool, error) {
	pst, ok := v.grid.psts[pstID]
	if !ok {
		return false, fmt.Errorf("%w: pst %s", ErrElementNotFound, pstID)
	}
	if _, ok := pst.TapToAngle[tap]; !ok {
		return false, fmt.Errorf("%w: pst %s tap %d", ErrInvalidTap, pstID, tap)
	}
	if v.taps[pstID] == tap {
		return false, nil
	}
	v.taps[pstID] = tap
	return true, nil
}

// Angle returns the phase shift in degrees of the PST on a branch, or 0 when
// the branch carries no PST.
func (v *Variant) Angle(branchID string) float64 {
	pst, ok := v.grid.psts[branchID]
	if !ok {
		return 0
	}
	return pst.TapToAngle[v.taps[branchID]]
}

// InjectionP returns the active power of an injection.
func (v *Variant) InjectionP(id string) (float64, error) {
	p, ok := v.injections[id]
	if !ok {
		return 0, fmt.Errorf("%w: injection %s", ErrElementNotFound, id)
	}
	return p, nil
}

// SetInjectionP sets the active power of an injection.
func (v *Variant) SetInjectionP(id string, p float64) (bool, error) {
	current, ok := v.injections[id]
	if !ok {
		return false, fmt.Errorf("%w: injection %s", ErrElementNotFound, id)
	}
	if math.Abs(current-p) < 1e-9 {
		return false, nil
	}
	v.injections[id] = p
	return true, nil
}

// HvdcSetpoint returns the active power setpoint of an HVDC line.
func (v *Variant) HvdcSetpoint(id string) (float64, error) {
	p, ok := v.hvdcs[id]
	if !ok {
		return 0, fmt.Errorf("%w: hvdc %s", ErrElementNotFound, id)
	}
	return p, nil
}

// SetHvdcSetpoint sets the active power setpoint of an HVDC line.
func (v *Variant) SetHvdcSetpoint(id string, p float64) (bool, error) {
	current, ok := v.hvdcs[id]
	if !ok {
		return false, fmt.Errorf("%w: hvdc %s", ErrElementNotFound, id)
	}
	if math.Abs(current-p) < 1e-9 {
		return false, nil
	}
	v.hvdcs[id] = p
	return true, nil
}

// OpenBranches returns the ids of every open branch, sorted.
func (v *Variant) OpenBranches() []string {
	var ids []string
	for id, open := range v.open {
		if open {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// BusInjection returns the net active injection at every bus (generation
// positive), HVDC lines included.
func (v *Variant) BusInjection() map[string]float64 {
	p := make(map[string]float64, len(v.grid.buses))
	for id, inj := range v.grid.injections {
		p[inj.Bus] += v.injections[id]
	}
	for id, h := range v.grid.hvdcs {
		p[h.From] -= v.hvdcs[id]
		p[h.To] += v.hvdcs[id]
	}
	return p
}
