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
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before a changed file is reloaded.
const DefaultDebounce = 200 * time.Millisecond

// Watcher keeps the parameters of a file up to date.
//
// Description:
//
//	The directory of the file is watched so that editors replacing the file
//	by rename are seen. Changes are debounced, then the file is loaded with
//	LoadRaoParameters. An invalid file is logged and the previous
//	parameters stay current.
//
// Thread Safety: Safe for concurrent use.
type Watcher struct {
	path     string
	current  atomic.Pointer[RaoParameters]
	watcher  *fsnotify.Watcher
	onChange func(RaoParameters)
	debounce time.Duration
	logger   *slog.Logger

	stopOnce sync.Once
	done     chan struct{}
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithDebounce sets the debounce window.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatchLogger sets the logger.
func WithWatchLogger(logger *slog.Logger) WatchOption {
	return func(w *Watcher) { w.logger = logger }
}

// OnChange registers a callback run with every successfully reloaded
// configuration.
func OnChange(fn func(RaoParameters)) WatchOption {
	return func(w *Watcher) { w.onChange = fn }
}

// WatchParameters loads path and reloads it whenever it changes, until ctx
// is done or Stop is called.
//
// Inputs:
//   - ctx: Stops the watch when done.
//   - path: YAML or JSON parameter file.
//
// Outputs:
//   - *Watcher: Current returns the latest valid parameters.
//   - error: Non-nil if the initial load fails or the directory cannot be
//     watched.
func WatchParameters(ctx context.Context, path string, opts ...WatchOption) (*Watcher, error) {
	initial, err := LoadRaoParameters(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		path:     abs,
		watcher:  fw,
		debounce: DefaultDebounce,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.current.Store(&initial)
	go w.loop(ctx)
	return w, nil
}

// Current returns the latest valid parameters.
func (w *Watcher) Current() RaoParameters {
	return *w.current.Load()
}

// Stop ends the watch. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.watcher.Close()
		<-w.done
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path || (event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write)) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WarnContext(ctx, "parameter watch error", slog.String("error", err.Error()))
		case <-timerC:
			timer, timerC = nil, nil
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := LoadRaoParameters(w.path)
	if err != nil {
		w.logger.WarnContext(ctx, "parameter reload rejected, keeping previous parameters",
			slog.String("path", w.path),
			slog.String("error", err.Error()),
		)
		return
	}
	w.current.Store(&cfg)
	w.logger.InfoContext(ctx, "parameters reloaded", slog.String("path", w.path))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
