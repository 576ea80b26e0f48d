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
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRAO/pkg/logging"
	"github.com/AleutianAI/AleutianRAO/services/rao/config"
)

var (
	// Global flags
	configPath  string
	logLevel    string
	jsonOutput  bool
	plainOutput bool

	// run
	caseFile     string
	builtinCase  string
	providerName string
	storePath    string
	noSave       bool

	// list
	listLimit int

	// serve
	serveAddr string

	raoConfig config.RaoParameters
	appLogger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "rao",
		Short: "Search-tree remedial action optimizer for power grids",
		Long: `rao chooses the topological actions and PST setpoints that maximise
the minimum margin of a grid case, preventively and after each contingency.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: loadConfig,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Optimize a case file or a builtin case",
		Example: `  rao run --builtin curative-triangle
  rao run --case grid.yaml --config rao.yaml --json`,
		Args: cobra.NoArgs,
		RunE: runOptimization,
	}

	showCmd = &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  showRun,
	}

	listCmd = &cobra.Command{
		Use:     "list",
		Short:   "List stored runs, newest first",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE:    listRuns,
	}

	casesCmd = &cobra.Command{
		Use:   "cases",
		Short: "List the builtin cases",
		Args:  cobra.NoArgs,
		RunE:  listCases,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the RAO HTTP API",
		Args:  cobra.NoArgs,
		RunE:  serveAPI,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML or JSON parameters file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	rootCmd.PersistentFlags().BoolVar(&plainOutput, "plain", false, "Disable colors and boxes")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "Run store directory, overrides store.path")

	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&caseFile, "case", "", "Case file to optimize")
	runCmd.Flags().StringVar(&builtinCase, "builtin", "", "Builtin case to optimize")
	runCmd.Flags().StringVar(&providerName, "provider", "", "Optimizer provider (default SearchTreeRao)")
	runCmd.Flags().BoolVar(&noSave, "no-save", false, "Do not store the run")
	runCmd.MarkFlagsMutuallyExclusive("case", "builtin")

	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum runs listed, 0 for all")

	rootCmd.AddCommand(casesCmd)

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address, overrides server.addr")
}

// loadConfig reads the parameters and sets up logging before any command.
func loadConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadRaoParameters(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		if _, err := logging.ParseLevel(logLevel); err != nil {
			return fmt.Errorf("--log-level: %w", err)
		}
		cfg.Logging.Level = logLevel
	}
	if storePath != "" {
		cfg.Store.Path = storePath
	}
	raoConfig = cfg

	if appLogger != nil {
		_ = appLogger.Close()
	}
	appLogger = logging.New(cfg.LoggerConfig("rao"))
	slog.SetDefault(appLogger.Slog())
	appLogger.Debug("configuration loaded",
		slog.String("command", cmd.Name()),
		slog.String("config", configPath),
	)
	return nil
}
