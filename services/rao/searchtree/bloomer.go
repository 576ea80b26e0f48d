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
	"hash/crc32"
	"log/slog"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianRAO/services/rao/limits"
	"github.com/AleutianAI/AleutianRAO/services/rao/model"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
)

// candidate is a set of network actions to add on top of a parent leaf.
type candidate struct {
	extra              []*model.NetworkAction
	key                string
	removeRangeActions bool
	detected           bool
	predefined         bool
	hash               uint32
}

// Bloomer generates the children of a leaf.
//
// Description:
//
//	Candidates are the single network actions, the predefined combinations
//	and the detected combinations not yet applied. Candidates breaking a
//	usage limit are dropped; candidates that only break it once the
//	parent's range actions are counted are kept and restart range actions
//	from their pre-perimeter setpoints. The order is deterministic:
//	detected first, then predefined, then larger combinations, then a hash
//	of the action ids.
//
// Thread Safety: Read-only after NewBloomer, safe for concurrent use.
type Bloomer struct {
	state      *model.State
	actions    []*model.NetworkAction
	predefined [][]*model.NetworkAction
	detected   [][]*model.NetworkAction
	limits     limits.StateLimits
	params     limits.NetworkActionParameters
	grid       *network.Grid
	adjacency  map[string][]string
	logger     *slog.Logger
}

// NewBloomer creates a bloomer for a tree input. Predefined combinations
// naming an action unavailable in the perimeter are ignored.
func NewBloomer(in *Input, params limits.NetworkActionParameters, logger *slog.Logger) *Bloomer {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bloomer{
		state:   in.Perimeter.MainState,
		actions: in.Perimeter.NetworkActions,
		limits:  in.Limits,
		params:  params,
		grid:    in.Network.Grid(),
		logger:  logger,
	}
	byID := make(map[string]*model.NetworkAction, len(b.actions))
	for _, na := range b.actions {
		byID[na.ID] = na
	}
	for _, ids := range params.PredefinedCombinations {
		combo, ok := resolve(ids, byID)
		if !ok {
			logger.Debug("predefined combination unavailable",
				slog.String("state", b.state.ID()),
				slog.String("combination", strings.Join(ids, "+")),
			)
			continue
		}
		b.predefined = append(b.predefined, combo)
	}
	for _, combo := range in.DetectedCombinations {
		ids := make([]string, len(combo))
		for i, na := range combo {
			ids[i] = na.ID
		}
		if resolved, ok := resolve(ids, byID); ok {
			b.detected = append(b.detected, resolved)
		}
	}
	if params.SkipActionsFarFromMostLimitingElement {
		b.adjacency = map[string][]string{}
		for _, pair := range b.grid.ZoneBorders() {
			b.adjacency[pair[0]] = append(b.adjacency[pair[0]], pair[1])
			b.adjacency[pair[1]] = append(b.adjacency[pair[1]], pair[0])
		}
	}
	return b
}

func resolve(ids []string, byID map[string]*model.NetworkAction) ([]*model.NetworkAction, bool) {
	out := make([]*model.NetworkAction, 0, len(ids))
	for _, id := range ids {
		na, ok := byID[id]
		if !ok {
			return nil, false
		}
		out = append(out, na)
	}
	return out, true
}

// Bloom returns the children of parent, skipping combinations whose key is
// in tested.
func (b *Bloomer) Bloom(parent *Leaf, tested map[string]bool) []*Leaf {
	cands := b.candidates(parent, tested)
	children := make([]*Leaf, 0, len(cands))
	for _, c := range cands {
		children = append(children, parent.Child(c.extra, c.removeRangeActions))
	}
	return children
}

func (b *Bloomer) candidates(parent *Leaf, tested map[string]bool) []*candidate {
	seen := map[string]*candidate{}
	var out []*candidate
	add := func(extra []*model.NetworkAction, detected, predefined bool) {
		if len(extra) == 0 {
			return
		}
		all := append(append([]*model.NetworkAction(nil), parent.actions...), extra...)
		key := combinationKey(all)
		if tested[key] {
			return
		}
		if c, ok := seen[key]; ok {
			c.detected = c.detected || detected
			c.predefined = c.predefined || predefined
			return
		}
		c := &candidate{
			extra:      extra,
			key:        key,
			detected:   detected,
			predefined: predefined,
			hash:       crc32.ChecksumIEEE([]byte(key)),
		}
		seen[key] = c
		out = append(out, c)
	}
	for _, combo := range b.detected {
		add(missing(parent, combo), true, false)
	}
	for _, combo := range b.predefined {
		add(missing(parent, combo), false, true)
	}
	for _, na := range b.actions {
		if !parent.Has(na) {
			add([]*model.NetworkAction{na}, false, false)
		}
	}

	kept := out[:0]
	for _, c := range out {
		if b.keep(parent, c) {
			kept = append(kept, c)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		ci, cj := kept[i], kept[j]
		if ci.detected != cj.detected {
			return ci.detected
		}
		if ci.predefined != cj.predefined {
			return ci.predefined
		}
		if len(ci.extra) != len(cj.extra) {
			return len(ci.extra) > len(cj.extra)
		}
		if ci.hash != cj.hash {
			return ci.hash < cj.hash
		}
		return ci.key < cj.key
	})
	return kept
}

func missing(parent *Leaf, combo []*model.NetworkAction) []*model.NetworkAction {
	var extra []*model.NetworkAction
	for _, na := range combo {
		if !parent.Has(na) {
			extra = append(extra, na)
		}
	}
	return extra
}

// keep applies every filter to a candidate, possibly setting
// removeRangeActions.
func (b *Bloomer) keep(parent *Leaf, c *candidate) bool {
	if !compatible(parent.actions, c.extra) {
		return false
	}
	all := append(append([]*model.NetworkAction(nil), parent.actions...), c.extra...)

	var activated []*model.RangeAction
	if parent.activation != nil {
		activated = parent.activation.ActivatedRangeActions(b.state)
	}

	// Total remedial actions.
	if len(all) > b.limits.MaxRa {
		return false
	}
	if len(all)+len(activated) > b.limits.MaxRa {
		c.removeRangeActions = true
	}

	// Per operator.
	topo := map[string]int{}
	elementary := map[string]int{}
	tsos := map[string]bool{}
	for _, na := range all {
		topo[na.Operator]++
		elementary[na.Operator] += len(na.Elementary)
		if b.limits.CountsTowardsMaxTso(na.Operator) {
			tsos[na.Operator] = true
		}
	}
	for tso, n := range topo {
		if n > b.limits.TopoPerTso(tso) || n > b.limits.RaPerTso(tso) {
			return false
		}
		if elementary[tso] > b.limits.ElementaryActionsPerTso(tso) {
			return false
		}
	}
	if len(tsos) > b.limits.MaxTso {
		return false
	}
	ras := map[string]int{}
	for _, ra := range activated {
		ras[ra.Operator]++
		if b.limits.CountsTowardsMaxTso(ra.Operator) {
			tsos[ra.Operator] = true
		}
	}
	for tso, n := range ras {
		if topo[tso]+n > b.limits.RaPerTso(tso) {
			c.removeRangeActions = true
		}
	}
	if len(tsos) > b.limits.MaxTso {
		c.removeRangeActions = true
	}

	if b.params.SkipActionsFarFromMostLimitingElement && !b.near(parent, c.extra) {
		return false
	}
	return true
}

func compatible(applied, extra []*model.NetworkAction) bool {
	for i, na := range extra {
		for _, other := range applied {
			if !na.CompatibleWith(other) {
				return false
			}
		}
		for _, other := range extra[:i] {
			if !na.CompatibleWith(other) {
				return false
			}
		}
	}
	return true
}

// near reports whether one of the actions is located at most
// MaxNumberOfBoundariesForSkippingActions borders away from the most
// limiting CNEC of the parent. Actions without a zone are near.
func (b *Bloomer) near(parent *Leaf, extra []*model.NetworkAction) bool {
	eval := parent.Evaluation()
	if eval == nil || len(eval.Limiting) == 0 {
		return true
	}
	origins := b.grid.ZonesOfElement(eval.Limiting[0].Cnec.NetworkElement)
	if len(origins) == 0 {
		return true
	}
	reach := b.reachable(origins, b.params.MaxNumberOfBoundariesForSkippingActions)
	for _, na := range extra {
		located := false
		for _, el := range na.NetworkElements() {
			for _, z := range b.grid.ZonesOfElement(el) {
				located = true
				if reach[z] {
					return true
				}
			}
		}
		if !located {
			return true
		}
	}
	return false
}

// reachable returns the zones at most depth borders away from origins.
func (b *Bloomer) reachable(origins []string, depth int) map[string]bool {
	seen := map[string]bool{}
	frontier := make([]string, 0, len(origins))
	for _, z := range origins {
		if !seen[z] {
			seen[z] = true
			frontier = append(frontier, z)
		}
	}
	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, z := range frontier {
			for _, n := range b.adjacency[z] {
				if !seen[n] {
					seen[n] = true
					next = append(next, n)
				}
			}
		}
		frontier = next
	}
	return seen
}
