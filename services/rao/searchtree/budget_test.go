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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBudget_LeafLimit(t *testing.T) {
	b := NewBudget(BudgetConfig{MaxDepth: 3, MaxLeaves: 2})
	assert.NoError(t, b.Check())

	b.RecordLeaf(false, 3)
	assert.NoError(t, b.Check())
	b.RecordLeaf(true, 0)

	assert.ErrorIs(t, b.Check(), ErrBudgetExhausted)
	assert.True(t, b.Exhausted())
	assert.Equal(t, "leaves", b.ExhaustedBy())

	r := b.Report()
	assert.Equal(t, int64(2), r.LeavesEvaluated)
	assert.Equal(t, int64(1), r.LeavesFailed)
	assert.Equal(t, int64(3), r.LPIterations)
	assert.True(t, r.Exhausted)
	assert.Contains(t, b.String(), "EXHAUSTED by leaves")
}

func TestBudget_Deadline(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBudget(BudgetConfig{MaxDepth: 3, Deadline: start.Add(time.Minute)})
	b.startTime = start
	b.now = func() time.Time { return start.Add(30 * time.Second) }

	assert.NoError(t, b.Check())
	assert.Equal(t, 30*time.Second, b.Elapsed())

	b.now = func() time.Time { return start.Add(time.Minute) }
	assert.ErrorIs(t, b.Check(), ErrDeadlineReached)
	assert.Equal(t, "deadline", b.ExhaustedBy())

	// Exhaustion sticks.
	b.now = func() time.Time { return start }
	assert.ErrorIs(t, b.Check(), ErrDeadlineReached)
}

func TestBudget_CheckDepth(t *testing.T) {
	b := NewBudget(BudgetConfig{MaxDepth: 2})
	assert.NoError(t, b.CheckDepth(0))
	assert.NoError(t, b.CheckDepth(1))
	assert.ErrorIs(t, b.CheckDepth(2), ErrDepthLimitReached)
}

func TestBudget_ConcurrentRecords(t *testing.T) {
	b := NewBudget(BudgetConfig{MaxDepth: 1})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.RecordLeaf(i%2 == 0, 1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), b.LeavesEvaluated())
	assert.Equal(t, int64(25), b.LeavesFailed())
	assert.Equal(t, int64(50), b.LPIterations())
	assert.False(t, b.Exhausted())
}
