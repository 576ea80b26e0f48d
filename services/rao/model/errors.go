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
	"errors"
	"fmt"
)

var (
	// ErrInvalidCrac is returned when a CRAC fails validation.
	ErrInvalidCrac = errors.New("invalid crac")

	// ErrUnknownElement is returned when a remedial action or CNEC references
	// an element that is not part of the network.
	ErrUnknownElement = errors.New("unknown network element")

	// ErrIncompatibleActions is returned when two elementary actions act on the
	// same element with different effects.
	ErrIncompatibleActions = errors.New("incompatible elementary actions")

	// ErrNotPst is returned for PST-only operations on other range actions.
	ErrNotPst = errors.New("range action is not a pst")
)

// ConfigurationError describes a malformed input detected before optimisation.
type ConfigurationError struct {
	// Object is the id of the offending CRAC object.
	Object string
	// Reason explains the problem.
	Reason string
	// Err is the underlying sentinel, if any.
	Err error
}

// Error implements error.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error on %s: %s", e.Object, e.Reason)
}

// Unwrap returns the sentinel error, defaulting to ErrInvalidCrac.
func (e *ConfigurationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidCrac
}
