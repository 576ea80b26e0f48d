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
	"sort"
	"sync"

	"github.com/google/uuid"
)

// InitialVariantID is the id of the variant built from the grid description.
const InitialVariantID = "initial"

// Network is an arena of variants over one immutable Grid.
//
// Description:
//
//	Variants are addressed by id. Concurrent evaluations clone a variant,
//	mutate their clone only and remove it when done. The arena itself is
//	protected by a mutex; the variants it hands out are not.
//
// Thread Safety: Arena operations are safe for concurrent use.
type Network struct {
	grid *Grid

	mu       sync.RWMutex
	variants map[string]*Variant
	working  string
}

// New creates a Network with its initial variant.
func New(grid *Grid) *Network {
	return &Network{
		grid:     grid,
		variants: map[string]*Variant{InitialVariantID: newVariant(InitialVariantID, grid)},
		working:  InitialVariantID,
	}
}

// Grid returns the immutable grid structure.
func (n *Network) Grid() *Grid { return n.grid }

// CloneVariant copies a variant under a fresh id.
//
// Inputs:
//
//	sourceID - Variant to copy.
//
// Outputs:
//
//	string - Id of the new variant.
//	error  - ErrVariantNotFound if sourceID is unknown.
//
// Thread Safety: Safe for concurrent use. The source must not be mutated
// while it is being cloned.
func (n *Network) CloneVariant(sourceID string) (string, error) {
	id := uuid.NewString()
	if err := n.CloneVariantAs(sourceID, id, false); err != nil {
		return "", err
	}
	return id, nil
}

// CloneVariantAs copies a variant under a chosen id.
func (n *Network) CloneVariantAs(sourceID, targetID string, overwrite bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	src, ok := n.variants[sourceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrVariantNotFound, sourceID)
	}
	if _, exists := n.variants[targetID]; exists && !overwrite {
		return fmt.Errorf("%w: %s", ErrVariantExists, targetID)
	}
	n.variants[targetID] = src.clone(targetID)
	return nil
}

// SetWorkingVariant selects the variant returned by WorkingVariant.
func (n *Network) SetWorkingVariant(id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.variants[id]; !ok {
		return fmt.Errorf("%w: %s", ErrVariantNotFound, id)
	}
	n.working = id
	return nil
}

// WorkingVariant returns the currently selected variant.
func (n *Network) WorkingVariant() *Variant {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.variants[n.working]
}

// RemoveVariant deletes a variant. Removing the working variant makes the
// initial variant the working one again.
func (n *Network) RemoveVariant(id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if id == InitialVariantID {
		return ErrInitialVariant
	}
	if _, ok := n.variants[id]; !ok {
		return fmt.Errorf("%w: %s", ErrVariantNotFound, id)
	}
	delete(n.variants, id)
	if n.working == id {
		n.working = InitialVariantID
	}
	return nil
}

// Variant returns a variant by id.
func (n *Network) Variant(id string) (*Variant, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.variants[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVariantNotFound, id)
	}
	return v, nil
}

// VariantIDs returns the ids of every live variant, sorted.
func (n *Network) VariantIDs() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ids := make([]string, 0, len(n.variants))
	for id := range n.variants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// VariantCount returns the number of live variants.
func (n *Network) VariantCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.variants)
}
