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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRAO/pkg/validation"
	"github.com/AleutianAI/AleutianRAO/services/rao/api"
	"github.com/AleutianAI/AleutianRAO/services/rao/config"
	"github.com/AleutianAI/AleutianRAO/services/rao/orchestrator"
	"github.com/AleutianAI/AleutianRAO/services/rao/runner"
	"github.com/AleutianAI/AleutianRAO/services/rao/scenario"
	"github.com/AleutianAI/AleutianRAO/services/rao/store"
	"github.com/AleutianAI/AleutianRAO/services/rao/telemetry"
)

var (
	errRunFailed = errors.New("optimization failed")
	errNoStore   = errors.New("no run store configured, use --store or store.path")
)

func currentConfig() config.RaoParameters { return raoConfig }

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// openStore opens the configured store. It returns nil when no path is
// configured and required is false.
func openStore(required bool) (*store.Store, error) {
	if raoConfig.Store.Path == "" {
		if required {
			return nil, errNoStore
		}
		return nil, nil
	}
	sc := raoConfig.StoreConfig()
	sc.Logger = appLogger.Slog()
	return store.Open(sc)
}

// startTelemetry installs the OpenTelemetry providers. The returned
// function flushes them.
func startTelemetry(ctx context.Context, cfg telemetry.Config) func() {
	shutdown, err := telemetry.Init(ctx, cfg)
	if err != nil {
		appLogger.Warn("telemetry disabled", slog.String("error", err.Error()))
		return func() {}
	}
	return func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			appLogger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}
}

func runOptimization(cmd *cobra.Command, _ []string) error {
	if caseFile == "" && builtinCase == "" {
		return errors.New("one of --case or --builtin is required")
	}
	req := runner.Request{CaseName: builtinCase, Provider: providerName}
	if caseFile != "" {
		c, err := scenario.Load(caseFile)
		if err != nil {
			return err
		}
		req.Case = c
	}

	ctx, stop := signalContext(cmd)
	defer stop()
	if raoConfig.Observability.TracingEnabled {
		defer startTelemetry(ctx, raoConfig.Observability.Telemetry)()
	}

	var st *store.Store
	if !noSave {
		var err error
		if st, err = openStore(false); err != nil {
			return err
		}
		if st != nil {
			defer st.Close()
		}
	}

	r := runner.New(st, currentConfig, runner.WithLogger(appLogger.Slog()))
	rec, err := r.Run(ctx, req)
	if err != nil {
		return err
	}

	if jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), rec); err != nil {
			return err
		}
	} else {
		newPrinter(cmd.OutOrStdout()).record(rec)
	}
	if rec.Result.Status == orchestrator.StatusFailure {
		return fmt.Errorf("%w: %s", errRunFailed, rec.Result.ExecutionDetails)
	}
	return nil
}

func showRun(cmd *cobra.Command, args []string) error {
	if err := validation.ValidateRunID(args[0]); err != nil {
		return err
	}
	st, err := openStore(true)
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := st.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), rec)
	}
	newPrinter(cmd.OutOrStdout()).record(rec)
	return nil
}

func listRuns(cmd *cobra.Command, _ []string) error {
	st, err := openStore(true)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.List(cmd.Context(), listLimit)
	if err != nil {
		return err
	}
	if jsonOutput {
		if runs == nil {
			runs = []store.Summary{}
		}
		return writeJSON(cmd.OutOrStdout(), runs)
	}
	newPrinter(cmd.OutOrStdout()).summaries(runs)
	return nil
}

func listCases(cmd *cobra.Command, _ []string) error {
	names := scenario.BuiltinNames()
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), names)
	}
	newPrinter(cmd.OutOrStdout()).names(names)
	return nil
}

// serveAPI serves the HTTP API until SIGINT or SIGTERM. With --config the
// file is watched and every new run uses the latest valid parameters.
func serveAPI(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()
	logger := appLogger.Slog()

	current := currentConfig
	if configPath != "" {
		w, err := config.WatchParameters(ctx, configPath,
			config.WithWatchLogger(logger),
			config.OnChange(func(c config.RaoParameters) {
				logger.Info("parameters reloaded",
					slog.String("objective", string(c.Optimization.Objective.Type)),
					slog.Int("preventive_max_depth", c.Optimization.PreventiveTree.MaximumSearchDepth),
				)
			}),
		)
		if err != nil {
			return err
		}
		defer w.Stop()
		current = w.Current
	}

	tcfg := raoConfig.Observability.Telemetry
	defer startTelemetry(ctx, tcfg)()

	sc := raoConfig.StoreConfig()
	sc.Logger = logger
	st, err := store.Open(sc)
	if err != nil {
		return err
	}
	defer st.Close()

	addr := raoConfig.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	r := runner.New(st, current, runner.WithLogger(logger))
	router := api.NewServer(r, st, current, logger).Router(tcfg.ServiceName)
	return api.ListenAndServe(ctx, addr, router, logger)
}
