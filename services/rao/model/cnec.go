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
	"math"
	"sort"

	"github.com/AleutianAI/AleutianRAO/services/rao/network"
)

// Unit is the physical unit of a flow or threshold.
type Unit string

const (
	MegaWatt Unit = "MW"
	Ampere   Unit = "A"
)

// NoBound is the margin reported when a side has no threshold at all. It is
// finite so results stay JSON encodable.
const NoBound = math.MaxFloat64

// Threshold is a flow limit on one side of a monitored branch.
type Threshold struct {
	Side network.Side `json:"side" yaml:"side" validate:"oneof=1 2"`
	Unit Unit         `json:"unit" yaml:"unit" validate:"oneof=MW A"`
	Min  *float64     `json:"min,omitempty" yaml:"min,omitempty"`
	Max  *float64     `json:"max,omitempty" yaml:"max,omitempty"`
}

// FlowCnec is a monitored branch in a given state.
type FlowCnec struct {
	ID             string `json:"id" yaml:"id" validate:"required"`
	Name           string `json:"name,omitempty" yaml:"name,omitempty"`
	NetworkElement string `json:"network_element" yaml:"network_element" validate:"required"`
	Instant        string `json:"instant" yaml:"instant" validate:"required"`
	Contingency    string `json:"contingency,omitempty" yaml:"contingency,omitempty"`
	Operator       string `json:"operator,omitempty" yaml:"operator,omitempty"`

	Thresholds []Threshold `json:"thresholds" yaml:"thresholds" validate:"min=1,dive"`

	// Optimized CNECs enter the min-margin objective.
	Optimized bool `json:"optimized" yaml:"optimized"`

	// Monitored CNECs (MNECs) must not degrade beyond an acceptable amount.
	Monitored bool `json:"monitored" yaml:"monitored"`

	// ReliabilityMargin is subtracted from every threshold, in MW.
	ReliabilityMargin float64 `json:"reliability_margin" yaml:"reliability_margin" validate:"gte=0"`

	// NominalV1 and NominalV2 are the nominal voltages (kV) of each side.
	// Zero means "take it from the network".
	NominalV1 float64 `json:"nominal_v1,omitempty" yaml:"nominal_v1,omitempty" validate:"gte=0"`
	NominalV2 float64 `json:"nominal_v2,omitempty" yaml:"nominal_v2,omitempty" validate:"gte=0"`

	// LoopFlowThreshold is the maximum absolute loop flow in MW. Nil means
	// the CNEC is not loop-flow constrained.
	LoopFlowThreshold *float64 `json:"loop_flow_threshold,omitempty" yaml:"loop_flow_threshold,omitempty" validate:"omitempty,gte=0"`

	state     *State
	countries []string
}

// State returns the network state the CNEC belongs to.
func (c *FlowCnec) State() *State { return c.state }

// Countries returns the zones of both ends of the monitored branch.
func (c *FlowCnec) Countries() []string { return c.countries }

// LocatedIn reports whether one end of the branch is in the zone.
func (c *FlowCnec) LocatedIn(zone string) bool {
	for _, z := range c.countries {
		if z == zone {
			return true
		}
	}
	return false
}

// MonitoredSides returns the sides carrying at least one threshold, sorted.
func (c *FlowCnec) MonitoredSides() []network.Side {
	seen := map[network.Side]bool{}
	var sides []network.Side
	for _, t := range c.Thresholds {
		if !seen[t.Side] {
			seen[t.Side] = true
			sides = append(sides, t.Side)
		}
	}
	sort.Slice(sides, func(i, j int) bool { return sides[i] < sides[j] })
	return sides
}

// NominalVoltage returns the nominal voltage of a side in kV.
func (c *FlowCnec) NominalVoltage(side network.Side) float64 {
	if side == network.SideTwo {
		return c.NominalV2
	}
	return c.NominalV1
}

// Convert converts a value between MW and A on one side. Ampere conversions
// use I = 1000 * P / (sqrt(3) * Vnom).
func (c *FlowCnec) Convert(value float64, side network.Side, from, to Unit) float64 {
	if from == to {
		return value
	}
	factor := 1000 / (math.Sqrt(3) * c.NominalVoltage(side))
	if from == MegaWatt {
		return value * factor
	}
	return value / factor
}

// UpperBound returns the tightest maximum threshold of a side minus the
// reliability margin, in the requested unit.
func (c *FlowCnec) UpperBound(side network.Side, unit Unit) (float64, bool) {
	bound, found := math.Inf(1), false
	for _, t := range c.Thresholds {
		if t.Side != side || t.Max == nil {
			continue
		}
		v := c.Convert(*t.Max, side, t.Unit, unit)
		if v < bound {
			bound = v
		}
		found = true
	}
	if !found {
		return 0, false
	}
	return bound - c.Convert(c.ReliabilityMargin, side, MegaWatt, unit), true
}

// LowerBound returns the tightest minimum threshold of a side plus the
// reliability margin, in the requested unit.
func (c *FlowCnec) LowerBound(side network.Side, unit Unit) (float64, bool) {
	bound, found := math.Inf(-1), false
	for _, t := range c.Thresholds {
		if t.Side != side || t.Min == nil {
			continue
		}
		v := c.Convert(*t.Min, side, t.Unit, unit)
		if v > bound {
			bound = v
		}
		found = true
	}
	if !found {
		return 0, false
	}
	return bound + c.Convert(c.ReliabilityMargin, side, MegaWatt, unit), true
}

// ComputeMargin returns the distance between a flow and the closest bound of
// the side. Negative values are violations.
func (c *FlowCnec) ComputeMargin(flow float64, side network.Side, unit Unit) float64 {
	margin := NoBound
	if upper, ok := c.UpperBound(side, unit); ok {
		margin = math.Min(margin, upper-flow)
	}
	if lower, ok := c.LowerBound(side, unit); ok {
		margin = math.Min(margin, flow-lower)
	}
	return margin
}

// LoopFlowLimit returns the loop-flow threshold minus the reliability
// margin, in MW.
func (c *FlowCnec) LoopFlowLimit() (float64, bool) {
	if c.LoopFlowThreshold == nil {
		return 0, false
	}
	return *c.LoopFlowThreshold - c.ReliabilityMargin, true
}
