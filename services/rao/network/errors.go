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

import "errors"

var (
	// ErrVariantNotFound is returned when a variant id is not in the arena.
	ErrVariantNotFound = errors.New("network variant not found")

	// ErrVariantExists is returned when cloning onto an existing id without overwrite.
	ErrVariantExists = errors.New("network variant already exists")

	// ErrInitialVariant is returned when trying to remove the initial variant.
	ErrInitialVariant = errors.New("initial variant cannot be removed")

	// ErrElementNotFound is returned when an element id is not part of the grid.
	ErrElementNotFound = errors.New("network element not found")

	// ErrInvalidTap is returned when a tap is outside the PST tap table.
	ErrInvalidTap = errors.New("tap outside of PST tap table")

	// ErrInvalidGrid is returned by the grid builder for inconsistent input.
	ErrInvalidGrid = errors.New("invalid grid")
)
