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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianRAO/services/rao/orchestrator"
)

const runPrefix = "run/"

// ErrNotFound is returned for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Record is a stored run.
type Record struct {
	ID        string               `json:"id"`
	Case      string               `json:"case"`
	CreatedAt time.Time            `json:"created_at"`
	Result    *orchestrator.Result `json:"result"`
}

// Summary is the listing view of a run.
type Summary struct {
	ID               string                 `json:"id"`
	Case             string                 `json:"case"`
	CreatedAt        time.Time              `json:"created_at"`
	Status           orchestrator.Status    `json:"status"`
	ExecutionDetails orchestrator.Execution `json:"execution_details"`
	FinalCost        float64                `json:"final_cost"`
}

// Store persists RAO runs.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db     *badger.DB
	gc     *gcRunner
	logger *slog.Logger
	now    func() time.Time
}

// Open opens a store.
//
// Inputs:
//   - cfg: Database configuration. Path is required unless InMemory.
//
// Outputs:
//   - *Store: Call Close when done.
//   - error: Non-nil if the database cannot be opened.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger, now: time.Now}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, logger)
		s.gc.start()
	}
	return s, nil
}

// Close stops garbage collection and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

// Save stores a finished run under a new id and sets res.ID.
func (s *Store) Save(ctx context.Context, caseName string, res *orchestrator.Result) (*Record, error) {
	if res == nil {
		return nil, errors.New("nil result")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	res.ID = id.String()
	rec := &Record{ID: res.ID, Case: caseName, CreatedAt: s.now().UTC(), Result: res}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode run %s: %w", rec.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(runPrefix+rec.ID), data)
	})
	if err != nil {
		return nil, fmt.Errorf("save run %s: %w", rec.ID, err)
	}
	s.logger.InfoContext(ctx, "run saved", slog.String("run_id", rec.ID), slog.String("case", caseName))
	return rec, nil
}

// Get returns a stored run.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(runPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	return &rec, nil
}

// List returns the summaries of the newest runs first, at most limit of
// them, all of them when limit is 0.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Summary
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(runPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts from the last key with the prefix.
		seek := append([]byte(runPrefix), 0xff)
		for it.Seek(seek); it.ValidForPrefix(opts.Prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				return nil
			}
			var rec Record
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, summaryOf(&rec))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// Delete removes a run. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(runPrefix + id))
	})
}

func summaryOf(rec *Record) Summary {
	sum := Summary{ID: rec.ID, Case: rec.Case, CreatedAt: rec.CreatedAt}
	if rec.Result != nil {
		sum.Status = rec.Result.Status
		sum.ExecutionDetails = rec.Result.ExecutionDetails
		sum.FinalCost = rec.Result.FinalCost.Total
	}
	return sum
}
