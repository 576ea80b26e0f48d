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
	"fmt"
	"math"
	"sort"

	"github.com/AleutianAI/AleutianRAO/services/rao/network"
)

// RangeActionKind tags the variant of a RangeAction.
type RangeActionKind string

const (
	PstRangeAction       RangeActionKind = "PST"
	HvdcRangeAction      RangeActionKind = "HVDC"
	InjectionRangeAction RangeActionKind = "INJECTION"
)

// RangeType says what a Range is relative to.
type RangeType string

const (
	RangeAbsolute                  RangeType = "ABSOLUTE"
	RangeRelativeToInitialNetwork  RangeType = "RELATIVE_TO_INITIAL_NETWORK"
	RangeRelativeToPreviousInstant RangeType = "RELATIVE_TO_PREVIOUS_INSTANT"
)

// Range bounds a range action. PST ranges are in taps, others in MW.
type Range struct {
	Type RangeType `json:"type" yaml:"type" validate:"oneof=ABSOLUTE RELATIVE_TO_INITIAL_NETWORK RELATIVE_TO_PREVIOUS_INSTANT"`
	Min  float64   `json:"min" yaml:"min"`
	Max  float64   `json:"max" yaml:"max" validate:"gtefield=Min"`
}

// RangeAction is a continuous remedial action.
//
//	PST       NetworkElement is the branch carrying the PST; the setpoint is
//	          its angle in degrees.
//	HVDC      NetworkElement is the HVDC line; the setpoint is its power.
//	INJECTION Keys distributes the setpoint over injections.
type RangeAction struct {
	ID             string             `json:"id" yaml:"id" validate:"required"`
	Name           string             `json:"name,omitempty" yaml:"name,omitempty"`
	Operator       string             `json:"operator,omitempty" yaml:"operator,omitempty"`
	Kind           RangeActionKind    `json:"kind" yaml:"kind" validate:"oneof=PST HVDC INJECTION"`
	NetworkElement string             `json:"network_element,omitempty" yaml:"network_element,omitempty"`
	Keys           map[string]float64 `json:"keys,omitempty" yaml:"keys,omitempty"`
	GroupID        string             `json:"group_id,omitempty" yaml:"group_id,omitempty"`
	Ranges         []Range            `json:"ranges" yaml:"ranges" validate:"min=1,dive"`
	UsageRules     []UsageRule        `json:"usage_rules" yaml:"usage_rules" validate:"dive"`

	tapToAngle      map[int]float64
	taps            []int
	initialTap      int
	initialSetpoint float64
}

// IsPst reports whether the action is a PST range action.
func (ra *RangeAction) IsPst() bool { return ra.Kind == PstRangeAction }

// NetworkElements returns the ids of the touched elements, sorted.
func (ra *RangeAction) NetworkElements() []string {
	if ra.Kind != InjectionRangeAction {
		return []string{ra.NetworkElement}
	}
	ids := make([]string, 0, len(ra.Keys))
	for id := range ra.Keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// InitialSetpoint returns the setpoint in the initial network.
func (ra *RangeAction) InitialSetpoint() float64 { return ra.initialSetpoint }

// InitialTap returns the PST tap in the initial network.
func (ra *RangeAction) InitialTap() int { return ra.initialTap }

// Taps returns the PST taps in increasing order.
func (ra *RangeAction) Taps() []int { return ra.taps }

// TapToAngle returns the PST angle of a tap.
func (ra *RangeAction) TapToAngle(tap int) (float64, error) {
	if !ra.IsPst() {
		return 0, ErrNotPst
	}
	angle, ok := ra.tapToAngle[tap]
	if !ok {
		return 0, fmt.Errorf("%w: tap %d of %s", network.ErrInvalidTap, tap, ra.ID)
	}
	return angle, nil
}

// AngleToTap returns the tap whose angle is the closest to the given angle.
// Ties go to the tap with the smaller absolute value.
func (ra *RangeAction) AngleToTap(angle float64) int {
	best, bestDist := 0, math.Inf(1)
	first := true
	for _, tap := range ra.taps {
		dist := math.Abs(ra.tapToAngle[tap] - angle)
		switch {
		case first || dist < bestDist-1e-9:
			best, bestDist = tap, dist
		case math.Abs(dist-bestDist) <= 1e-9 && absInt(tap) < absInt(best):
			best = tap
		}
		first = false
	}
	return best
}

// SmallestAngleStep returns the smallest angle difference between two
// consecutive taps.
func (ra *RangeAction) SmallestAngleStep() float64 {
	step := math.Inf(1)
	for i := 1; i < len(ra.taps); i++ {
		d := math.Abs(ra.tapToAngle[ra.taps[i]] - ra.tapToAngle[ra.taps[i-1]])
		if d > 0 && d < step {
			step = d
		}
	}
	if math.IsInf(step, 1) {
		return 0
	}
	return step
}

// MinAdmissibleSetpoint returns the lowest setpoint allowed by every range,
// given the setpoint of the previous instant.
func (ra *RangeAction) MinAdmissibleSetpoint(previous float64) float64 {
	lo, _ := ra.admissible(previous)
	return lo
}

// MaxAdmissibleSetpoint returns the highest setpoint allowed by every range,
// given the setpoint of the previous instant.
func (ra *RangeAction) MaxAdmissibleSetpoint(previous float64) float64 {
	_, hi := ra.admissible(previous)
	return hi
}

func (ra *RangeAction) admissible(previous float64) (float64, float64) {
	if ra.IsPst() {
		return ra.admissiblePst(previous)
	}
	lo, hi := -math.MaxFloat64, math.MaxFloat64
	for _, r := range ra.Ranges {
		var rlo, rhi float64
		switch r.Type {
		case RangeRelativeToInitialNetwork:
			rlo, rhi = ra.initialSetpoint+r.Min, ra.initialSetpoint+r.Max
		case RangeRelativeToPreviousInstant:
			rlo, rhi = previous+r.Min, previous+r.Max
		default:
			rlo, rhi = r.Min, r.Max
		}
		lo, hi = math.Max(lo, rlo), math.Min(hi, rhi)
	}
	if lo > hi {
		hi = lo
	}
	return lo, hi
}

func (ra *RangeAction) admissiblePst(previous float64) (float64, float64) {
	if len(ra.taps) == 0 {
		return 0, 0
	}
	minTap, maxTap := ra.taps[0], ra.taps[len(ra.taps)-1]
	previousTap := ra.AngleToTap(previous)
	for _, r := range ra.Ranges {
		var rlo, rhi int
		switch r.Type {
		case RangeRelativeToInitialNetwork:
			rlo, rhi = ra.initialTap+int(r.Min), ra.initialTap+int(r.Max)
		case RangeRelativeToPreviousInstant:
			rlo, rhi = previousTap+int(r.Min), previousTap+int(r.Max)
		default:
			rlo, rhi = int(r.Min), int(r.Max)
		}
		if rlo > minTap {
			minTap = rlo
		}
		if rhi < maxTap {
			maxTap = rhi
		}
	}
	if minTap > maxTap {
		maxTap = minTap
	}
	a, b := ra.tapToAngle[minTap], ra.tapToAngle[maxTap]
	return math.Min(a, b), math.Max(a, b)
}

// CurrentSetpoint reads the setpoint of the action in a variant.
func (ra *RangeAction) CurrentSetpoint(v *network.Variant) (float64, error) {
	switch ra.Kind {
	case PstRangeAction:
		tap, err := v.Tap(ra.NetworkElement)
		if err != nil {
			return 0, err
		}
		return ra.tapToAngle[tap], nil
	case HvdcRangeAction:
		return v.HvdcSetpoint(ra.NetworkElement)
	case InjectionRangeAction:
		for _, id := range ra.NetworkElements() {
			key := ra.Keys[id]
			if key == 0 {
				continue
			}
			p, err := v.InjectionP(id)
			if err != nil {
				return 0, err
			}
			return p / key, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("unknown range action kind %q", ra.Kind)
}

// CurrentTap reads the tap of a PST range action in a variant.
func (ra *RangeAction) CurrentTap(v *network.Variant) (int, error) {
	if !ra.IsPst() {
		return 0, ErrNotPst
	}
	return v.Tap(ra.NetworkElement)
}

// Apply sets the action to a setpoint on an exclusively owned variant. PST
// setpoints are rounded to the closest tap.
func (ra *RangeAction) Apply(v *network.Variant, setpoint float64) error {
	var err error
	switch ra.Kind {
	case PstRangeAction:
		_, err = v.SetTap(ra.NetworkElement, ra.AngleToTap(setpoint))
	case HvdcRangeAction:
		_, err = v.SetHvdcSetpoint(ra.NetworkElement, setpoint)
	case InjectionRangeAction:
		for _, id := range ra.NetworkElements() {
			if _, err = v.SetInjectionP(id, ra.Keys[id]*setpoint); err != nil {
				break
			}
		}
	default:
		err = fmt.Errorf("unknown range action kind %q", ra.Kind)
	}
	if err != nil {
		return fmt.Errorf("applying range action %s: %w", ra.ID, err)
	}
	return nil
}

// bind resolves the action against the grid and reads its initial setpoint.
func (ra *RangeAction) bind(grid *network.Grid, initial *network.Variant) error {
	switch ra.Kind {
	case PstRangeAction:
		pst, ok := grid.Pst(ra.NetworkElement)
		if !ok {
			return &ConfigurationError{Object: ra.ID, Reason: "pst " + ra.NetworkElement + " not in network", Err: ErrUnknownElement}
		}
		ra.tapToAngle = pst.TapToAngle
		ra.taps = make([]int, 0, len(pst.TapToAngle))
		for tap := range pst.TapToAngle {
			ra.taps = append(ra.taps, tap)
		}
		sort.Ints(ra.taps)
		tap, err := initial.Tap(ra.NetworkElement)
		if err != nil {
			return &ConfigurationError{Object: ra.ID, Reason: err.Error(), Err: ErrUnknownElement}
		}
		ra.initialTap = tap
		ra.initialSetpoint = pst.TapToAngle[tap]
		return nil
	case HvdcRangeAction:
		if _, ok := grid.Hvdc(ra.NetworkElement); !ok {
			return &ConfigurationError{Object: ra.ID, Reason: "hvdc " + ra.NetworkElement + " not in network", Err: ErrUnknownElement}
		}
	case InjectionRangeAction:
		if len(ra.Keys) == 0 {
			return &ConfigurationError{Object: ra.ID, Reason: "injection range action without distribution keys"}
		}
		for id := range ra.Keys {
			if _, ok := grid.Injection(id); !ok {
				return &ConfigurationError{Object: ra.ID, Reason: "injection " + id + " not in network", Err: ErrUnknownElement}
			}
		}
	}
	setpoint, err := ra.CurrentSetpoint(initial)
	if err != nil {
		return &ConfigurationError{Object: ra.ID, Reason: err.Error(), Err: ErrUnknownElement}
	}
	ra.initialSetpoint = setpoint
	return nil
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
