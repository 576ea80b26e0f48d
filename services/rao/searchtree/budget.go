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
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// BudgetConfig contains the exploration limits of one search tree.
type BudgetConfig struct {
	MaxDepth  int       // Maximum number of network actions layers
	MaxLeaves int       // Maximum leaves evaluated, 0 for unlimited
	Deadline  time.Time // Wall-clock target end time, zero for none
}

// Budget tracks resource consumption during a tree search.
//
// Description:
//
//	Limits are checked cooperatively between depths. A leaf already being
//	evaluated is never interrupted by the budget.
//
// Thread Safety: Safe for concurrent use.
type Budget struct {
	config    BudgetConfig
	startTime time.Time
	now       func() time.Time

	// Atomic counters
	leavesEvaluated int64
	leavesFailed    int64
	lpIterations    int64

	mu          sync.RWMutex
	exhausted   bool
	exhaustedBy string
}

// NewBudget creates a new budget tracker.
//
// Thread Safety: The returned budget is safe for concurrent use.
func NewBudget(config BudgetConfig) *Budget {
	return &Budget{config: config, startTime: time.Now(), now: time.Now}
}

// Config returns the budget configuration.
func (b *Budget) Config() BudgetConfig { return b.config }

// LeavesEvaluated returns the number of leaves evaluated.
func (b *Budget) LeavesEvaluated() int64 { return atomic.LoadInt64(&b.leavesEvaluated) }

// LeavesFailed returns the number of leaves that ended in EVALUATION_ERROR.
func (b *Budget) LeavesFailed() int64 { return atomic.LoadInt64(&b.leavesFailed) }

// LPIterations returns the number of linear optimizer iterations.
func (b *Budget) LPIterations() int64 { return atomic.LoadInt64(&b.lpIterations) }

// RecordLeaf records an evaluated leaf and its linear iterations.
func (b *Budget) RecordLeaf(failed bool, iterations int) {
	atomic.AddInt64(&b.leavesEvaluated, 1)
	atomic.AddInt64(&b.lpIterations, int64(iterations))
	if failed {
		atomic.AddInt64(&b.leavesFailed, 1)
	}
}

// Elapsed returns time elapsed since the budget was created.
func (b *Budget) Elapsed() time.Duration { return b.now().Sub(b.startTime) }

// Exhausted reports whether a limit has been hit.
func (b *Budget) Exhausted() bool {
	b.mu.RLock()
	if b.exhausted {
		b.mu.RUnlock()
		return true
	}
	b.mu.RUnlock()
	return b.checkLimits() != nil
}

// ExhaustedBy returns which limit caused exhaustion (empty if not exhausted).
func (b *Budget) ExhaustedBy() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.exhaustedBy
}

// Check returns the error of the first limit hit, or nil.
func (b *Budget) Check() error { return b.checkLimits() }

func (b *Budget) checkLimits() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.exhausted {
		if b.exhaustedBy == "deadline" {
			return ErrDeadlineReached
		}
		return ErrBudgetExhausted
	}
	if !b.config.Deadline.IsZero() && !b.now().Before(b.config.Deadline) {
		b.exhausted = true
		b.exhaustedBy = "deadline"
		return ErrDeadlineReached
	}
	if b.config.MaxLeaves > 0 && atomic.LoadInt64(&b.leavesEvaluated) >= int64(b.config.MaxLeaves) {
		b.exhausted = true
		b.exhaustedBy = "leaves"
		return ErrBudgetExhausted
	}
	return nil
}

// CheckDepth reports whether a depth may be explored.
func (b *Budget) CheckDepth(depth int) error {
	if depth >= b.config.MaxDepth {
		return ErrDepthLimitReached
	}
	return nil
}

// String returns a human-readable budget status.
func (b *Budget) String() string {
	status := ""
	if b.Exhausted() {
		status = fmt.Sprintf(" [EXHAUSTED by %s]", b.ExhaustedBy())
	}
	return fmt.Sprintf("Budget{leaves=%d (failed %d), lp_iterations=%d, elapsed=%v}%s",
		b.LeavesEvaluated(), b.LeavesFailed(), b.LPIterations(),
		b.Elapsed().Round(time.Millisecond), status)
}

// UsageReport summarises the consumption of a search.
type UsageReport struct {
	Elapsed         time.Duration `json:"elapsed"`
	LeavesEvaluated int64         `json:"leaves_evaluated"`
	LeavesFailed    int64         `json:"leaves_failed"`
	LPIterations    int64         `json:"lp_iterations"`
	Exhausted       bool          `json:"exhausted"`
	ExhaustedBy     string        `json:"exhausted_by,omitempty"`
}

// Report generates a usage report.
func (b *Budget) Report() UsageReport {
	return UsageReport{
		Elapsed:         b.Elapsed(),
		LeavesEvaluated: b.LeavesEvaluated(),
		LeavesFailed:    b.LeavesFailed(),
		LPIterations:    b.LPIterations(),
		Exhausted:       b.Exhausted(),
		ExhaustedBy:     b.ExhaustedBy(),
	}
}
