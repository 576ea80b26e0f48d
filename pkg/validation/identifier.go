// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation utilities for identifiers
// that reach storage keys and embedded file paths.
//
// Run ids become Badger keys and case names become paths inside the
// embedded case directory. Both come from command lines and HTTP requests.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidIdentifier is wrapped by every validation failure.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// caseNamePattern matches builtin case names: lowercase letters, digits,
// hyphens and underscores, starting with a letter or digit.
var caseNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateRunID checks that id is a canonical UUID, as produced by the run
// store.
//
// Example:
//
//	if err := validation.ValidateRunID(id); err != nil {
//	    return nil, err
//	}
//	// Safe to use as a store key
func ValidateRunID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: run id cannot be empty", ErrInvalidIdentifier)
	}
	parsed, err := uuid.Parse(id)
	if err != nil || parsed.String() != id {
		return fmt.Errorf("%w: run id %q is not a canonical UUID", ErrInvalidIdentifier, id)
	}
	return nil
}

// ValidateCaseName checks a builtin case name.
func ValidateCaseName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: case name cannot be empty", ErrInvalidIdentifier)
	}
	if !caseNamePattern.MatchString(name) {
		return fmt.Errorf("%w: case name %q (must be 1-64 lowercase alphanumeric chars, hyphens, or underscores)", ErrInvalidIdentifier, name)
	}
	return nil
}

// SanitizeCaseName normalizes and validates a case name.
// Returns the lowercase name if valid, or an error if invalid.
func SanitizeCaseName(name string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if err := ValidateCaseName(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
