// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import "errors"

var (
	// ErrInitialSensitivityFailed is reported when the flows of the initial
	// network cannot be computed. Nothing can be optimized.
	ErrInitialSensitivityFailed = errors.New("initial sensitivity computation failed")

	// ErrPreventiveFailed is reported when the preventive perimeter cannot
	// be optimized.
	ErrPreventiveFailed = errors.New("preventive optimization failed")

	// ErrUnknownProvider is returned for a provider name missing from a
	// registry.
	ErrUnknownProvider = errors.New("unknown RAO provider")

	// ErrDuplicateProvider is returned when a name is registered twice.
	ErrDuplicateProvider = errors.New("RAO provider already registered")

	// ErrInvalidInput is returned when a run input misses the network or
	// the CRAC.
	ErrInvalidInput = errors.New("invalid RAO input")
)
