// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sensitivity

import (
	"errors"
	"fmt"
)

var (
	// ErrDataNotFound is returned for lookups outside the computed request.
	ErrDataNotFound = errors.New("sensitivity data not found")

	// ErrCircuitOpen is returned when the provider breaker rejects a call.
	ErrCircuitOpen = errors.New("sensitivity provider circuit open")

	// ErrNoProvider is returned when a runner has no provider.
	ErrNoProvider = errors.New("no sensitivity provider")
)

// DataNotFoundError names the missing entry of a lookup.
type DataNotFoundError struct {
	Cnec     string
	Side     string
	Variable string
	Reason   string
}

// Error implements error.
func (e *DataNotFoundError) Error() string {
	if e.Variable != "" {
		return fmt.Sprintf("sensitivity of %s on %s side %s not found: %s", e.Variable, e.Cnec, e.Side, e.Reason)
	}
	return fmt.Sprintf("result of %s side %s not found: %s", e.Cnec, e.Side, e.Reason)
}

// Unwrap returns ErrDataNotFound.
func (e *DataNotFoundError) Unwrap() error { return ErrDataNotFound }
