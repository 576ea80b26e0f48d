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
	"math"

	"github.com/AleutianAI/AleutianRAO/services/rao/model"
)

const (
	// Only angles within this share of the tap gap around the midpoint of
	// two taps consider the farther one.
	tapMidpointBand = 0.15

	// The farther tap must improve the linearised minimum margin by this
	// share of its absolute value.
	tapImprovementRatio = 0.1
)

// round turns the continuous solution of the problem into applicable
// setpoints: PST angles onto taps, other setpoints onto integers.
//
// Description:
//
//	Each PST takes the closest tap, unless the angle sits close to the
//	midpoint with the next tap and that tap gives a clearly better
//	linearised minimum margin. Aligned range actions take the tap of the
//	first member of their group.
func (b *builder) round(setpoints map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(setpoints))
	for k, v := range setpoints {
		out[k] = v
	}

	grouped := groups(b.actions)
	for _, ra := range b.actions {
		if !ra.IsPst() {
			out[ra.ID] = math.Round(setpoints[ra.ID])
			continue
		}
		if ra.GroupID != "" && grouped[ra.GroupID][0].ID != ra.ID {
			continue
		}
		angle := b.bestTapAngle(ra, setpoints)
		out[ra.ID] = angle
		if ra.GroupID != "" {
			for _, member := range grouped[ra.GroupID][1:] {
				tap := ra.AngleToTap(angle)
				if a, err := member.TapToAngle(tap); err == nil {
					out[member.ID] = a
				} else {
					out[member.ID] = closestTapAngle(member, angle)
				}
			}
		}
	}
	return out
}

// closestTapAngle returns the angle of the tap of ra closest to angle.
func closestTapAngle(ra *model.RangeAction, angle float64) float64 {
	a, _ := ra.TapToAngle(ra.AngleToTap(angle))
	return a
}

// bestTapAngle returns the angle of the tap picked for a PST.
func (b *builder) bestTapAngle(ra *model.RangeAction, setpoints map[string]float64) float64 {
	angle := setpoints[ra.ID]
	closest := ra.AngleToTap(angle)
	closestAngle, _ := ra.TapToAngle(closest)

	other, ok := neighbourTap(ra, closest, angle-closestAngle)
	if !ok {
		return closestAngle
	}
	otherAngle, _ := ra.TapToAngle(other)
	gap := math.Abs(otherAngle - closestAngle)
	mid := (closestAngle + otherAngle) / 2
	if gap == 0 || math.Abs(angle-mid) > tapMidpointBand*gap {
		return closestAngle
	}

	m0 := b.linearMinMargin(setpoints, ra, closestAngle)
	m1 := b.linearMinMargin(setpoints, ra, otherAngle)
	if m1-m0 > tapImprovementRatio*math.Abs(m0) {
		return otherAngle
	}
	return closestAngle
}

// neighbourTap returns the tap next to tap whose angle moves in the
// direction of delta.
func neighbourTap(ra *model.RangeAction, tap int, delta float64) (int, bool) {
	if delta == 0 {
		return 0, false
	}
	taps := ra.Taps()
	idx := -1
	for i, t := range taps {
		if t == tap {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, false
	}
	base, _ := ra.TapToAngle(tap)
	for _, j := range []int{idx - 1, idx + 1} {
		if j < 0 || j >= len(taps) {
			continue
		}
		a, _ := ra.TapToAngle(taps[j])
		if (a-base)*delta > 0 {
			return taps[j], true
		}
	}
	return 0, false
}

// linearMinMargin returns the smallest MW margin over the optimized CNECs,
// with flows extrapolated from the reference point and ra set to angle.
func (b *builder) linearMinMargin(setpoints map[string]float64, ra *model.RangeAction, angle float64) float64 {
	min := math.Inf(1)
	for _, cnec := range b.in.Objective.Inputs().Optimized {
		if !b.usable(cnec) {
			continue
		}
		for _, side := range cnec.MonitoredSides() {
			f, err := b.flows.Flow(cnec, side, model.MegaWatt)
			if err != nil {
				continue
			}
			for _, other := range b.actions {
				sp := setpoints[other.ID]
				if other.ID == ra.ID {
					sp = angle
				}
				f += b.sensitivity(other, cnec, side) * (sp - b.current.OptimizedSetpoint(other, b.in.State))
			}
			if upper, ok := cnec.UpperBound(side, model.MegaWatt); ok {
				min = math.Min(min, upper-f)
			}
			if lower, ok := cnec.LowerBound(side, model.MegaWatt); ok {
				min = math.Min(min, f-lower)
			}
		}
	}
	if math.IsInf(min, 1) {
		return 0
	}
	return min
}
