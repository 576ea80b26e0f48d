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

// Islands returns the connected components of the closed branches of a
// variant, and the island index of every bus.
//
// Buses are visited in declaration order, so island numbering is stable.
// HVDC lines do not connect islands.
func Islands(v *Variant) ([][]string, map[string]int) {
	return IslandsWithout(v, nil)
}

// IslandsWithout is Islands with extra branches considered open, as after a
// contingency. The first bus of every island is its first declared bus.
func IslandsWithout(v *Variant, extraOpen map[string]bool) ([][]string, map[string]int) {
	g := v.grid
	adjacency := make(map[string][]string, len(g.buses))
	for _, id := range g.branchOrder {
		if v.open[id] || extraOpen[id] {
			continue
		}
		br := g.branches[id]
		adjacency[br.From] = append(adjacency[br.From], br.To)
		adjacency[br.To] = append(adjacency[br.To], br.From)
	}

	visited := make(map[string]bool, len(g.buses))
	busToIsland := make(map[string]int, len(g.buses))
	var islands [][]string

	for _, start := range g.busOrder {
		if visited[start] {
			continue
		}
		stack := []string{start}
		var island []string
		for len(stack) > 0 {
			bus := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[bus] {
				continue
			}
			visited[bus] = true
			island = append(island, bus)
			for _, next := range adjacency[bus] {
				if !visited[next] {
					stack = append(stack, next)
				}
			}
		}
		idx := len(islands)
		for _, bus := range island {
			busToIsland[bus] = idx
		}
		islands = append(islands, island)
	}
	return islands, busToIsland
}

// MainComponent returns the buses of the largest island. Ties keep the island
// found first.
func MainComponent(v *Variant) map[string]bool {
	islands, _ := Islands(v)
	best := -1
	for i, island := range islands {
		if best < 0 || len(island) > len(islands[best]) {
			best = i
		}
	}
	main := make(map[string]bool)
	if best < 0 {
		return main
	}
	for _, bus := range islands[best] {
		main[bus] = true
	}
	return main
}

// BusInMainComponent reports whether a bus belongs to the main island.
func BusInMainComponent(v *Variant, busID string) bool {
	return MainComponent(v)[busID]
}
