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
	"errors"
	"fmt"
)

// ErrLinearOptimization is wrapped by every LinearOptimizationError.
var ErrLinearOptimization = errors.New("linear optimization failed")

// LinearOptimizationError reports a solve that did not end optimal.
type LinearOptimizationError struct {
	Status Status
	Reason string
}

func (e *LinearOptimizationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("linear optimization ended %s: %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("linear optimization ended %s", e.Status)
}

// Unwrap returns ErrLinearOptimization.
func (e *LinearOptimizationError) Unwrap() error { return ErrLinearOptimization }
