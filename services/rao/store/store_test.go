// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRAO/services/rao/orchestrator"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func result(cost float64) *orchestrator.Result {
	return &orchestrator.Result{
		Provider:         orchestrator.SearchTreeRaoName,
		Status:           orchestrator.StatusSuccess,
		ExecutionDetails: orchestrator.FirstPreventiveOnly,
		FinalCost:        orchestrator.Cost{Total: cost, Functional: cost},
		States:           []orchestrator.StateResult{{State: "preventive", Optimized: true, NetworkActions: []string{"open-L2"}}},
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	res := result(-12.5)
	rec, err := s.Save(ctx, "two-branch", res)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, rec.ID, res.ID)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "two-branch", got.Case)
	require.NotNil(t, got.Result)
	assert.Equal(t, -12.5, got.Result.FinalCost.Total)
	assert.Equal(t, []string{"open-L2"}, got.Result.StateResult("preventive").NetworkActions)
}

func TestStore_GetMissing(t *testing.T) {
	_, err := openTest(t).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	var ids []string
	for i, name := range []string{"a", "b", "c"} {
		s.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		rec, err := s.Save(ctx, name, result(float64(i)))
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].Case, all[1].Case, all[2].Case})
	assert.Equal(t, ids[2], all[0].ID)
	assert.Equal(t, 2.0, all[0].FinalCost)
	assert.Equal(t, orchestrator.StatusSuccess, all[0].Status)

	two, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestStore_Delete(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	rec, err := s.Save(ctx, "x", result(0))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, rec.ID))
	_, err = s.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete(ctx, rec.ID))
}

func TestStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.SyncWrites = false

	s, err := Open(cfg)
	require.NoError(t, err)
	rec, err := s.Save(context.Background(), "persisted", result(1))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Case)
}

func TestStore_RejectsBadInput(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)

	s := openTest(t)
	_, err = s.Save(context.Background(), "x", nil)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Save(ctx, "x", result(0))
	assert.ErrorIs(t, err, context.Canceled)
}
