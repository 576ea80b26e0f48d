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

import "errors"

var (
	// ErrRootEvaluationFailed is returned when the root leaf of a tree
	// cannot be evaluated. The state cannot be optimized.
	ErrRootEvaluationFailed = errors.New("root leaf evaluation failed")

	// ErrSensitivityFailure marks a leaf whose sensitivity computation
	// returned FAILURE.
	ErrSensitivityFailure = errors.New("sensitivity computation failed")

	// ErrBudgetExhausted is returned by budget checks once a limit is hit.
	ErrBudgetExhausted = errors.New("search budget exhausted")

	// ErrDeadlineReached is returned when the wall-clock target end time
	// has passed.
	ErrDeadlineReached = errors.New("search deadline reached")

	// ErrDepthLimitReached is returned when the maximum search depth is
	// reached.
	ErrDepthLimitReached = errors.New("maximum search depth reached")

	// ErrLeafNotEvaluated is returned when reading results of a leaf that
	// was not successfully evaluated.
	ErrLeafNotEvaluated = errors.New("leaf not evaluated")
)
