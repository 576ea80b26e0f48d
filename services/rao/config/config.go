// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the parameters of the RAO binaries.
//
// Priority is environment > file > defaults. A file is read as YAML first
// and as JSON when YAML fails. The result is checked with validator tags on
// every parameter struct and with the cross-field rules of each package.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianRAO/pkg/logging"
	"github.com/AleutianAI/AleutianRAO/services/rao/objective"
	"github.com/AleutianAI/AleutianRAO/services/rao/orchestrator"
	"github.com/AleutianAI/AleutianRAO/services/rao/store"
	"github.com/AleutianAI/AleutianRAO/services/rao/telemetry"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// RaoParameters contains everything a RAO binary is configured with.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after
// creation.
type RaoParameters struct {
	// Optimization holds the parameters handed to the optimizer.
	Optimization orchestrator.Parameters `json:"optimization" yaml:"optimization"`

	// PostProcessing configures the result post-processors.
	PostProcessing PostProcessingConfig `json:"post_processing" yaml:"post_processing"`

	Logging       LoggingConfig       `json:"logging" yaml:"logging"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
	Store         StoreConfig         `json:"store" yaml:"store"`
	Server        ServerConfig        `json:"server" yaml:"server"`
}

// PostProcessingConfig configures the result post-processors.
type PostProcessingConfig struct {
	// MostLimitingElements is the number of CNECs listed, 0 to skip.
	MostLimitingElements int  `json:"most_limiting_elements" yaml:"most_limiting_elements" validate:"gte=0"`
	SecurityFlag         bool `json:"security_flag" yaml:"security_flag"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `json:"level" yaml:"level" validate:"oneof=debug info warn warning error"`
	JSON  bool   `json:"json" yaml:"json"`
	Dir   string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// ObservabilityConfig configures tracing and metrics.
type ObservabilityConfig struct {
	// TracingEnabled opens spans for RAO steps, trees, depths and leaves.
	TracingEnabled bool             `json:"tracing_enabled" yaml:"tracing_enabled"`
	Telemetry      telemetry.Config `json:"telemetry" yaml:"telemetry"`
}

// StoreConfig configures the run store.
type StoreConfig struct {
	// Path of the Badger directory. Empty keeps runs in memory.
	Path       string `json:"path,omitempty" yaml:"path,omitempty"`
	SyncWrites bool   `json:"sync_writes" yaml:"sync_writes"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr" validate:"required"`

	// RunTimeout bounds a run submitted through the API.
	RunTimeout time.Duration `json:"run_timeout" yaml:"run_timeout" validate:"gte=0"`

	// MaxConcurrentRuns bounds the runs executing at once.
	MaxConcurrentRuns int `json:"max_concurrent_runs" yaml:"max_concurrent_runs" validate:"gte=1"`

	// MaxBodyBytes bounds the size of a submitted case.
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes" validate:"gte=1024"`
}

// DefaultRaoParameters returns the default configuration.
//
// Outputs:
//   - RaoParameters: Defaults that pass Validate.
func DefaultRaoParameters() RaoParameters {
	return RaoParameters{
		Optimization: orchestrator.DefaultParameters(),
		PostProcessing: PostProcessingConfig{
			MostLimitingElements: 5,
			SecurityFlag:         true,
		},
		Logging: LoggingConfig{Level: "info"},
		Observability: ObservabilityConfig{
			TracingEnabled: false,
			Telemetry:      telemetry.DefaultConfig(),
		},
		Store: StoreConfig{SyncWrites: true},
		Server: ServerConfig{
			Addr:              ":8080",
			RunTimeout:        5 * time.Minute,
			MaxConcurrentRuns: 2,
			MaxBodyBytes:      8 << 20,
		},
	}
}

// LoadRaoParameters loads configuration with priority: env > file > defaults.
//
// Inputs:
//   - path: YAML or JSON file. Empty uses the defaults only.
//
// Outputs:
//   - RaoParameters: Merged configuration.
//   - error: Non-nil if the file cannot be read or parsed, an environment
//     value is malformed, or the result is invalid.
func LoadRaoParameters(path string) (RaoParameters, error) {
	cfg := DefaultRaoParameters()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ParseRaoParameters decodes a YAML or JSON document over the defaults,
// without environment overrides.
func ParseRaoParameters(data []byte) (RaoParameters, error) {
	cfg := DefaultRaoParameters()
	if err := decode(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func decode(data []byte, cfg *RaoParameters) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

// applyEnv overrides cfg with the RAO_* environment variables.
func applyEnv(cfg *RaoParameters) error {
	opt := &cfg.Optimization
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = i
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	if v := os.Getenv("RAO_OBJECTIVE_TYPE"); v != "" {
		opt.Objective.Type = objective.Type(strings.ToUpper(v))
	}
	integer("RAO_PREVENTIVE_MAX_DEPTH", &opt.PreventiveTree.MaximumSearchDepth)
	integer("RAO_CURATIVE_MAX_DEPTH", &opt.CurativeTree.MaximumSearchDepth)
	integer("RAO_LEAVES_IN_PARALLEL", &opt.PreventiveTree.LeavesInParallel)
	integer("RAO_SCENARIOS_IN_PARALLEL", &opt.Curative.ScenariosInParallel)
	integer("RAO_MAX_LEAVES_PER_TREE", &opt.MaxLeavesPerTree)
	if v := os.Getenv("RAO_SECOND_PREVENTIVE"); v != "" {
		opt.SecondPreventive.Condition = orchestrator.SecondPreventiveCondition(strings.ToUpper(v))
	}
	boolean("RAO_FALLBACK_TO_INITIAL", &opt.FallbackToInitialOnCostIncrease)
	duration("RAO_TIMEOUT", &opt.Timeout)

	boolean("RAO_TRACING_ENABLED", &cfg.Observability.TracingEnabled)
	str("RAO_LOG_LEVEL", &cfg.Logging.Level)
	boolean("RAO_LOG_JSON", &cfg.Logging.JSON)
	str("RAO_LOG_DIR", &cfg.Logging.Dir)
	str("RAO_STORE_PATH", &cfg.Store.Path)
	str("RAO_SERVER_ADDR", &cfg.Server.Addr)
	duration("RAO_RUN_TIMEOUT", &cfg.Server.RunTimeout)
	integer("RAO_MAX_CONCURRENT_RUNS", &cfg.Server.MaxConcurrentRuns)
	return errors.Join(errs...)
}

var validate = validator.New()

// Validate checks struct tags, then the cross-field rules of the
// optimization parameters.
//
// Outputs:
//   - error: Wraps ErrInvalidConfig when the configuration is invalid.
func (c RaoParameters) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Optimization.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// LoggerConfig converts the logging section for pkg/logging.
func (c RaoParameters) LoggerConfig(service string) logging.Config {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	return logging.Config{Level: level, LogDir: c.Logging.Dir, Service: service, JSON: c.Logging.JSON}
}

// StoreConfig converts the store section. An empty path keeps runs in
// memory.
func (c RaoParameters) StoreConfig() store.Config {
	if c.Store.Path == "" {
		return store.InMemoryConfig()
	}
	sc := store.DefaultConfig(c.Store.Path)
	sc.SyncWrites = c.Store.SyncWrites
	return sc
}

// PostProcessors builds the configured post-processor chain.
func (c RaoParameters) PostProcessors() []orchestrator.PostProcessor {
	var out []orchestrator.PostProcessor
	if c.PostProcessing.SecurityFlag {
		out = append(out, orchestrator.SecurityFlag())
	}
	if n := c.PostProcessing.MostLimitingElements; n > 0 {
		out = append(out, orchestrator.MostLimitingElements(n))
	}
	return out
}

// ProviderOptions returns the orchestrator options derived from the
// configuration, before any logger or solver is added.
func (c RaoParameters) ProviderOptions() []orchestrator.Option {
	return []orchestrator.Option{
		orchestrator.WithTracing(c.Observability.TracingEnabled),
		orchestrator.WithPostProcessors(c.PostProcessors()...),
	}
}
