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
	"sort"

	"github.com/AleutianAI/AleutianRAO/services/rao/network"
)

// Glsk maps a zone to the shift keys of its injections.
type Glsk map[string]map[string]float64

// Zones returns the zones, sorted.
func (g Glsk) Zones() []string {
	zones := make([]string, 0, len(g))
	for z := range g {
		zones = append(zones, z)
	}
	sort.Strings(zones)
	return zones
}

// NormalizedKeys returns the keys of a zone scaled to sum to one.
func (g Glsk) NormalizedKeys(zone string) map[string]float64 {
	keys := g[zone]
	total := 0.0
	for _, k := range keys {
		total += k
	}
	out := make(map[string]float64, len(keys))
	if total == 0 {
		return out
	}
	for id, k := range keys {
		out[id] = k / total
	}
	return out
}

// Validate checks that every keyed injection exists.
func (g Glsk) Validate(grid *network.Grid) error {
	for _, zone := range g.Zones() {
		for id := range g[zone] {
			if _, ok := grid.Injection(id); !ok {
				return &ConfigurationError{Object: "glsk " + zone, Reason: id + " is not an injection of the network", Err: ErrUnknownElement}
			}
		}
	}
	return nil
}

// ConnectedZones returns, in Zones order, the zones with at least one
// injection in the main island of the variant.
func (g Glsk) ConnectedZones(v *network.Variant) []string {
	main := network.MainComponent(v)
	grid := v.Grid()
	var out []string
	for _, zone := range g.Zones() {
		for id := range g[zone] {
			inj, ok := grid.Injection(id)
			if ok && main[inj.Bus] {
				out = append(out, zone)
				break
			}
		}
	}
	return out
}

// ReferenceProgram gives the scheduled net position of every zone, in MW.
type ReferenceProgram map[string]float64

// NetPosition returns the net position of a zone, zero if unknown.
func (rp ReferenceProgram) NetPosition(zone string) float64 { return rp[zone] }
