// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRAO/pkg/logging"
	"github.com/AleutianAI/AleutianRAO/services/rao/objective"
	"github.com/AleutianAI/AleutianRAO/services/rao/orchestrator"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultRaoParameters_Valid(t *testing.T) {
	cfg := DefaultRaoParameters()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, objective.MaxMinMargin, cfg.Optimization.Objective.Type)
	assert.Equal(t, orchestrator.SecondPreventiveDisabled, cfg.Optimization.SecondPreventive.Condition)
	assert.True(t, cfg.Optimization.FallbackToInitialOnCostIncrease)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadRaoParameters_YAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "rao.yaml", `
optimization:
  objective:
    type: MAX_MIN_RELATIVE_MARGIN
    unit: MW
    ptdf_sum_lower_bound: 0.02
  preventive_tree:
    stop_criterion: MIN_OBJECTIVE
    maximum_search_depth: 3
    leaves_in_parallel: 4
  second_preventive:
    execution_condition: POSSIBLE_CURATIVE_IMPROVEMENT
  ra_usage_limits_per_instant:
    curative:
      max_ra: 2
  timeout: 90s
post_processing:
  most_limiting_elements: 3
logging:
  level: debug
`)
	cfg, err := LoadRaoParameters(path)
	require.NoError(t, err)

	opt := cfg.Optimization
	assert.Equal(t, objective.MaxMinRelativeMargin, opt.Objective.Type)
	assert.Equal(t, 0.02, opt.Objective.PtdfSumLowerBound)
	assert.Equal(t, 3, opt.PreventiveTree.MaximumSearchDepth)
	assert.Equal(t, 4, opt.PreventiveTree.LeavesInParallel)
	assert.Equal(t, orchestrator.SecondPreventiveCurativeImprovement, opt.SecondPreventive.Condition)
	require.NotNil(t, opt.Limits["curative"].MaxRa)
	assert.Equal(t, 2, *opt.Limits["curative"].MaxRa)
	assert.Equal(t, 90*time.Second, opt.Timeout)
	// Unset fields keep their defaults.
	assert.Equal(t, orchestrator.DefaultParameters().Linear, opt.Linear)
	assert.Equal(t, 3, cfg.PostProcessing.MostLimitingElements)
	assert.Equal(t, logging.LevelDebug, cfg.LoggerConfig("rao").Level)
}

func TestLoadRaoParameters_JSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "rao.json", `{"optimization": {"max_leaves_per_tree": 50}, "server": {"addr": ":9000"}}`)
	cfg, err := LoadRaoParameters(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Optimization.MaxLeavesPerTree)
	assert.Equal(t, ":9000", cfg.Server.Addr)
}

func TestLoadRaoParameters_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		invalid bool
	}{
		{name: "unparsable", content: "optimization: [\n"},
		{name: "bad enum", content: "optimization:\n  objective:\n    type: MIN_COST\n", invalid: true},
		{name: "zero leaves", content: "optimization:\n  preventive_tree:\n    leaves_in_parallel: 0\n", invalid: true},
		{name: "bad log level", content: "logging:\n  level: loud\n", invalid: true},
		{name: "negative usage limit", content: "optimization:\n  ra_usage_limits_per_instant:\n    curative:\n      max_ra: -1\n", invalid: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRaoParameters(writeFile(t, dir, tt.name+".yaml", tt.content))
			require.Error(t, err)
			if tt.invalid {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}

	_, err := LoadRaoParameters(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadRaoParameters_Env(t *testing.T) {
	t.Setenv("RAO_PREVENTIVE_MAX_DEPTH", "5")
	t.Setenv("RAO_SECOND_PREVENTIVE", "cost_increase")
	t.Setenv("RAO_TIMEOUT", "2m")
	t.Setenv("RAO_FALLBACK_TO_INITIAL", "false")
	t.Setenv("RAO_TRACING_ENABLED", "1")
	t.Setenv("RAO_STORE_PATH", "/tmp/rao-runs")

	path := writeFile(t, t.TempDir(), "rao.yaml", "optimization:\n  preventive_tree:\n    maximum_search_depth: 1\n")
	cfg, err := LoadRaoParameters(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Optimization.PreventiveTree.MaximumSearchDepth, "env wins over file")
	assert.Equal(t, orchestrator.SecondPreventiveCostIncrease, cfg.Optimization.SecondPreventive.Condition)
	assert.Equal(t, 2*time.Minute, cfg.Optimization.Timeout)
	assert.False(t, cfg.Optimization.FallbackToInitialOnCostIncrease)
	assert.True(t, cfg.Observability.TracingEnabled)
	assert.False(t, cfg.StoreConfig().InMemory)
	assert.Equal(t, "/tmp/rao-runs", cfg.StoreConfig().Path)
}

func TestLoadRaoParameters_MalformedEnv(t *testing.T) {
	t.Setenv("RAO_SCENARIOS_IN_PARALLEL", "many")
	_, err := LoadRaoParameters("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RAO_SCENARIOS_IN_PARALLEL")
}

func TestRaoParameters_Conversions(t *testing.T) {
	cfg := DefaultRaoParameters()
	assert.True(t, cfg.StoreConfig().InMemory)
	assert.Len(t, cfg.PostProcessors(), 2)

	cfg.PostProcessing = PostProcessingConfig{}
	assert.Empty(t, cfg.PostProcessors())
	assert.Len(t, cfg.ProviderOptions(), 2)
}

func TestWatchParameters_Reloads(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "rao.yaml", "optimization:\n  max_leaves_per_tree: 10\n")

	changed := make(chan RaoParameters, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, err := WatchParameters(ctx, path, WithDebounce(20*time.Millisecond), OnChange(func(p RaoParameters) { changed <- p }))
	require.NoError(t, err)
	defer w.Stop()
	assert.Equal(t, 10, w.Current().Optimization.MaxLeavesPerTree)

	writeFile(t, dir, "rao.yaml", "optimization:\n  max_leaves_per_tree: 20\n")
	select {
	case p := <-changed:
		assert.Equal(t, 20, p.Optimization.MaxLeavesPerTree)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload")
	}
	assert.Equal(t, 20, w.Current().Optimization.MaxLeavesPerTree)

	// An invalid file keeps the previous parameters.
	writeFile(t, dir, "rao.yaml", "optimization:\n  max_leaves_per_tree: -3\n")
	writeFile(t, dir, "other.yaml", "ignored: true\n")
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 20, w.Current().Optimization.MaxLeavesPerTree)
	assert.Empty(t, changed)
}

func TestWatchParameters_InvalidInitialFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "rao.yaml", "logging:\n  level: loud\n")
	_, err := WatchParameters(context.Background(), path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
