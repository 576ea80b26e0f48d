// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRAO/services/rao/config"
	"github.com/AleutianAI/AleutianRAO/services/rao/orchestrator"
	"github.com/AleutianAI/AleutianRAO/services/rao/runner"
	"github.com/AleutianAI/AleutianRAO/services/rao/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	st, err := store.Open(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	params := func() config.RaoParameters {
		cfg := config.DefaultRaoParameters()
		cfg.Optimization.PreventiveTree.LeavesInParallel = 2
		cfg.Optimization.Curative.ScenariosInParallel = 2
		cfg.Server.MaxBodyBytes = 64 << 10
		return cfg
	}
	srv := NewServer(runner.New(st, params), st, params, nil)
	return srv.Router("rao-test")
}

func do(router http.Handler, method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSubmitAndFetchRun(t *testing.T) {
	router := newTestRouter(t)

	resp := do(router, http.MethodPost, "/v1/rao/runs", "application/json", `{"case_name": "curative-triangle"}`)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var created store.Record
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	require.NotNil(t, created.Result)
	assert.Equal(t, orchestrator.StatusSuccess, created.Result.Status)
	assert.Equal(t, created.ID, created.Result.ID)

	resp = do(router, http.MethodGet, "/v1/rao/runs/"+created.ID, "", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var fetched store.Record
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &fetched))
	assert.Equal(t, "curative-triangle", fetched.Case)
	assert.Equal(t, []string{"close-AB2"}, fetched.Result.StateResult("co-AC - curative").NetworkActions)

	resp = do(router, http.MethodGet, "/v1/rao/runs?limit=10", "", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var list struct {
		Runs []store.Summary `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	require.Len(t, list.Runs, 1)
	assert.Equal(t, created.ID, list.Runs[0].ID)
}

func TestSubmitRun_YAMLCase(t *testing.T) {
	router := newTestRouter(t)
	body := `
name: tiny
grid:
  buses:
    - {id: A, zone: FR}
    - {id: B, zone: FR}
  branches:
    - {id: L, from: A, to: B, reactance: 0.1}
  injections:
    - {id: G, bus: A, p: 50}
    - {id: D, bus: B, p: -50}
crac:
  id: tiny
  instants:
    - {id: preventive, kind: PREVENTIVE}
  flow_cnecs:
    - id: L-prev
      network_element: L
      instant: preventive
      optimized: true
      thresholds:
        - {side: 1, unit: MW, max: 100}
`
	resp := do(router, http.MethodPost, "/v1/rao/runs", "application/yaml", body)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var created store.Record
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &created))
	assert.Equal(t, "tiny", created.Case)
	assert.InDelta(t, -50.0, created.Result.FinalCost.Total, 1e-6)
}

func TestSubmitRun_Errors(t *testing.T) {
	router := newTestRouter(t)
	tests := []struct {
		name        string
		contentType string
		body        string
		status      int
	}{
		{name: "malformed json", contentType: "application/json", body: `{`, status: http.StatusBadRequest},
		{name: "no case", contentType: "application/json", body: `{}`, status: http.StatusBadRequest},
		{name: "unknown case", contentType: "application/json", body: `{"case_name": "nowhere"}`, status: http.StatusBadRequest},
		{name: "unknown provider", contentType: "application/json", body: `{"case_name": "two-branch", "provider": "x"}`, status: http.StatusBadRequest},
		{name: "malformed yaml", contentType: "application/yaml", body: "grid: [", status: http.StatusBadRequest},
		{name: "too large", contentType: "application/json", body: `{"case_name": "` + strings.Repeat("a", 70<<10) + `"}`, status: http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(router, http.MethodPost, "/v1/rao/runs", tt.contentType, tt.body)
			assert.Equal(t, tt.status, resp.Code, resp.Body.String())
		})
	}
}

func TestGetRun_NotFound(t *testing.T) {
	router := newTestRouter(t)
	resp := do(router, http.MethodGet, "/v1/rao/runs/01920f5e-7b3a-7c4d-8e9f-0a1b2c3d4e5f", "", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = do(router, http.MethodGet, "/v1/rao/runs/missing", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestListRuns_BadLimit(t *testing.T) {
	resp := do(newTestRouter(t), http.MethodGet, "/v1/rao/runs?limit=-2", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestListRuns_Empty(t *testing.T) {
	resp := do(newTestRouter(t), http.MethodGet, "/v1/rao/runs", "", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"runs": []}`, resp.Body.String())
}

func TestOperationalRoutes(t *testing.T) {
	router := newTestRouter(t)

	resp := do(router, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = do(router, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = do(router, http.MethodGet, "/v1/rao/cases", "", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "curative-triangle")
}
