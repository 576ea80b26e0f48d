// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRAO/pkg/validation"
	"github.com/AleutianAI/AleutianRAO/services/rao/orchestrator"
	"github.com/AleutianAI/AleutianRAO/services/rao/store"
)

// execute runs the root command with fresh flag values.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("RAO_STORE_PATH", "")
	configPath, logLevel, jsonOutput, plainOutput = "", "", false, false
	caseFile, builtinCase, providerName, storePath, noSave = "", "", "", "", false
	listLimit, serveAddr = 20, ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--log-level=error"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCases(t *testing.T) {
	out, err := execute(t, "cases")
	require.NoError(t, err)
	assert.Contains(t, out, "two-branch")
	assert.Contains(t, out, "curative-triangle")

	out, err = execute(t, "cases", "--json")
	require.NoError(t, err)
	var names []string
	require.NoError(t, json.Unmarshal([]byte(out), &names))
	assert.Contains(t, names, "parallel-psts")
}

func TestRun_BuiltinPlain(t *testing.T) {
	out, err := execute(t, "run", "--builtin", "two-branch", "--no-save")
	require.NoError(t, err)
	assert.Contains(t, out, "RAO run")
	assert.Contains(t, out, "case two-branch")
	assert.Contains(t, out, "SUCCESS")
	assert.Contains(t, out, "open-L2")
	assert.NotContains(t, out, "\x1b[", "buffers get plain text")
}

func TestRun_JSONWithoutStore(t *testing.T) {
	out, err := execute(t, "run", "--builtin", "two-branch", "--json")
	require.NoError(t, err)

	var rec store.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Empty(t, rec.ID)
	assert.Equal(t, "two-branch", rec.Case)
	require.NotNil(t, rec.Result)
	assert.Equal(t, orchestrator.StatusSuccess, rec.Result.Status)
	assert.Equal(t, orchestrator.FirstPreventiveOnly, rec.Result.ExecutionDetails)
}

func TestRun_CaseFile(t *testing.T) {
	src, err := os.ReadFile(filepath.Join("..", "..", "services", "rao", "scenario", "cases", "triangle.yaml"))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "grid.yaml")
	require.NoError(t, os.WriteFile(path, src, 0o600))

	out, err := execute(t, "run", "--case", path, "--json")
	require.NoError(t, err)
	var rec store.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "triangle", rec.Case)
}

func TestStoreCommands(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "run", "--builtin", "two-branch", "--store", dir, "--json")
	require.NoError(t, err)
	var rec store.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	require.NotEmpty(t, rec.ID)

	out, err = execute(t, "list", "--store", dir)
	require.NoError(t, err)
	assert.Contains(t, out, rec.ID)
	assert.Contains(t, out, "two-branch")

	out, err = execute(t, "ls", "--store", dir, "--json")
	require.NoError(t, err)
	var runs []store.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, rec.ID, runs[0].ID)

	out, err = execute(t, "show", rec.ID, "--store", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "RAO run "+rec.ID)

	_, err = execute(t, "show", "01920f5e-7b3a-7c4d-8e9f-0a1b2c3d4e5f", "--store", dir)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = execute(t, "show", "missing", "--store", dir)
	assert.ErrorIs(t, err, validation.ErrInvalidIdentifier)
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		is   error
	}{
		{name: "no case", args: []string{"run"}},
		{name: "both cases", args: []string{"run", "--case", "a.yaml", "--builtin", "two-branch"}},
		{name: "missing case file", args: []string{"run", "--case", filepath.Join(t.TempDir(), "none.yaml")}},
		{name: "unknown builtin", args: []string{"run", "--builtin", "nope", "--no-save"}},
		{name: "bad log level", args: []string{"cases", "--log-level", "loud"}},
		{name: "show without store", args: []string{"show", "01920f5e-7b3a-7c4d-8e9f-0a1b2c3d4e5f"}, is: errNoStore},
		{name: "list without store", args: []string{"list"}, is: errNoStore},
		{name: "missing config", args: []string{"cases", "--config", filepath.Join(t.TempDir(), "none.yaml")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestPrinter_Plain(t *testing.T) {
	tap := 3
	secure := false
	rec := &store.Record{
		ID:   "r1",
		Case: "grid",
		Result: &orchestrator.Result{
			Status:           orchestrator.StatusFallback,
			ExecutionDetails: orchestrator.FirstPreventiveFellBackToInitial,
			InitialCost:      orchestrator.Cost{Total: 12},
			FinalCost:        orchestrator.Cost{Total: 12, Functional: 12},
			Secure:           &secure,
			Duration:         1500 * time.Millisecond,
			States: []orchestrator.StateResult{
				{State: "preventive", Status: orchestrator.StatusSuccess, Optimized: true,
					RangeActions: []orchestrator.RangeActionResult{{ID: "pst", Setpoint: 1.2, Tap: &tap}, {ID: "hvdc", Setpoint: 250}}},
				{State: "co - outage", Status: orchestrator.StatusSuccess},
			},
			MostLimiting: []orchestrator.CnecResult{{ID: "AB", State: "preventive", Flow: 112, Margin: -12, Unit: "MW"}},
		},
	}

	var buf bytes.Buffer
	newPrinter(&buf).record(rec)
	out := buf.String()
	assert.Contains(t, out, "RAO run r1")
	assert.Contains(t, out, "FALLBACK  FIRST_PREVENTIVE_FELLBACK_TO_INITIAL_SITUATION  unsecure")
	assert.Contains(t, out, "pst=tap 3,hvdc=250.00")
	assert.Contains(t, out, "Most limiting elements")
	assert.Contains(t, out, "-12.00")
	assert.NotContains(t, out, "co - outage", "unoptimized successful states are hidden")

	buf.Reset()
	newPrinter(&buf).summaries(nil)
	assert.Equal(t, "no runs\n", buf.String())

	assert.Equal(t, "ERROR: boom", renderError(&buf, errors.New("boom")))
}
