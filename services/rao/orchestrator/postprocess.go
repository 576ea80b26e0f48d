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

import (
	"context"
	"fmt"
	"sort"
)

// PostProcessor derives a new result from a finished one. It must not
// modify its argument.
type PostProcessor func(ctx context.Context, res *Result) (*Result, error)

// MostLimitingElements lists the n optimized CNECs with the smallest final
// margins, smallest first.
func MostLimitingElements(n int) PostProcessor {
	return func(_ context.Context, res *Result) (*Result, error) {
		out := res.clone()
		var cnecs []CnecResult
		for _, c := range res.Cnecs {
			if c.Optimized && c.Computed {
				cnecs = append(cnecs, c)
			}
		}
		sort.SliceStable(cnecs, func(i, j int) bool { return cnecs[i].Margin < cnecs[j].Margin })
		if n >= 0 && len(cnecs) > n {
			cnecs = cnecs[:n]
		}
		out.MostLimiting = cnecs
		return out, nil
	}
}

// SecurityFlag marks the result secure when no optimized CNEC has a
// negative margin. A failed run is never secure.
func SecurityFlag() PostProcessor {
	return func(_ context.Context, res *Result) (*Result, error) {
		out := res.clone()
		secure := res.Status != StatusFailure
		for _, c := range res.Cnecs {
			if !c.Optimized {
				continue
			}
			if !c.Computed || c.Margin < 0 {
				secure = false
				break
			}
		}
		out.Secure = &secure
		return out, nil
	}
}

// applyPostProcessors runs processors in order. A processor error leaves
// the result of the previous ones.
func applyPostProcessors(ctx context.Context, res *Result, processors []PostProcessor) (*Result, error) {
	for i, p := range processors {
		next, err := p(ctx, res)
		if err != nil {
			return res, fmt.Errorf("post-processor %d: %w", i, err)
		}
		if next != nil {
			res = next
		}
	}
	return res, nil
}
