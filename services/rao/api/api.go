// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api serves RAO runs over HTTP.
//
// Routes:
//
//	POST /v1/rao/runs       run a case, JSON Request or a raw YAML case
//	GET  /v1/rao/runs       list stored runs, newest first (?limit=N)
//	GET  /v1/rao/runs/:id   one stored run
//	GET  /v1/rao/cases      builtin case names
//	GET  /metrics           Prometheus metrics
//	GET  /healthz           liveness
//
// Identical submissions that arrive while a run is in flight share its
// result.
package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianRAO/pkg/validation"
	"github.com/AleutianAI/AleutianRAO/services/rao/config"
	"github.com/AleutianAI/AleutianRAO/services/rao/runner"
	"github.com/AleutianAI/AleutianRAO/services/rao/scenario"
	"github.com/AleutianAI/AleutianRAO/services/rao/store"
	"github.com/AleutianAI/AleutianRAO/services/rao/telemetry"
)

// Server holds the handlers of the RAO API.
type Server struct {
	runner *runner.Runner
	store  *store.Store
	params func() config.RaoParameters
	logger *slog.Logger
	flight singleflight.Group
}

// NewServer creates the API server.
func NewServer(r *runner.Runner, st *store.Store, params func() config.RaoParameters, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{runner: r, store: st, params: params, logger: logger}
}

// Router returns a gin engine with every route registered.
func (s *Server) Router(serviceName string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	s.SetupRoutes(router)
	return router
}

// SetupRoutes registers the API routes on router.
func (s *Server) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	v1 := router.Group("/v1/rao")
	{
		v1.POST("/runs", s.submitRun)
		v1.GET("/runs", s.listRuns)
		v1.GET("/runs/:id", s.getRun)
		v1.GET("/cases", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"cases": scenario.BuiltinNames()}) })
	}
}

type runOutcome struct {
	rec *store.Record
}

func (s *Server) submitRun(c *gin.Context) {
	cfg := s.params()
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, cfg.Server.MaxBodyBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	if int64(len(body)) > cfg.Server.MaxBodyBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
		return
	}
	req, err := decodeRequest(c.ContentType(), body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sum := sha256.Sum256(body)
	key := hex.EncodeToString(sum[:])

	// The run outlives a disconnected caller since others may share it.
	ctx := context.WithoutCancel(c.Request.Context())
	if cfg.Server.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Server.RunTimeout)
		defer cancel()
	}
	v, err, shared := s.flight.Do(key, func() (interface{}, error) {
		rec, err := s.runner.Run(ctx, req)
		return runOutcome{rec: rec}, err
	})
	if err != nil {
		s.logger.WarnContext(c.Request.Context(), "run rejected", slog.String("error", err.Error()))
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	rec := v.(runOutcome).rec
	if shared {
		c.Header("X-Rao-Shared", "true")
	}
	c.JSON(http.StatusCreated, rec)
}

// decodeRequest reads a JSON Request, or a raw YAML case when the content
// type says YAML.
func decodeRequest(contentType string, body []byte) (runner.Request, error) {
	var req runner.Request
	if strings.Contains(contentType, "yaml") {
		cs, err := scenario.Parse(body)
		if err != nil {
			return req, err
		}
		req.Case = cs
		return req, nil
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, errors.New("invalid JSON request: " + err.Error())
	}
	return req, nil
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, runner.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, runner.ErrBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) listRuns(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	runs, err := s.store.List(c.Request.Context(), limit)
	if err != nil {
		s.logger.ErrorContext(c.Request.Context(), "failed to list runs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	if runs == nil {
		runs = []store.Summary{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) getRun(c *gin.Context) {
	id := c.Param("id")
	if err := validation.ValidateRunID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := s.store.Get(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.logger.ErrorContext(c.Request.Context(), "failed to load run", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ListenAndServe serves router on addr until ctx is done, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("rao api listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		logger.Info("rao api shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
