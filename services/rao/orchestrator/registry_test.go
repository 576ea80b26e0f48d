// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct{ name string }

func (s stubProvider) Name() string { return s.name }

func (s stubProvider) Run(context.Context, Input) (*Result, error) {
	return &Result{Provider: s.name, Status: StatusSuccess}, nil
}

func stubFactory(name string) Factory {
	return func(Parameters, ...Option) (Provider, error) { return stubProvider{name: name}, nil }
}

func TestRegistry_Default(t *testing.T) {
	r := NewDefaultRegistry()
	assert.Equal(t, []string{SearchTreeRaoName}, r.Names())

	p, err := r.New(SearchTreeRaoName, testParams())
	require.NoError(t, err)
	assert.Equal(t, SearchTreeRaoName, p.Name())
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("zeta", stubFactory("zeta")))
	require.NoError(t, r.Register("alpha", stubFactory("alpha")))
	assert.Equal(t, []string{"alpha", "zeta"}, r.Names())

	p, err := r.New("alpha", DefaultParameters())
	require.NoError(t, err)
	res, err := p.Run(context.Background(), Input{})
	require.NoError(t, err)
	assert.Equal(t, "alpha", res.Provider)
}

func TestRegistry_Errors(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("a", stubFactory("a")))

	assert.ErrorIs(t, r.Register("a", stubFactory("a")), ErrDuplicateProvider)
	assert.Error(t, r.Register("", stubFactory("x")))
	assert.Error(t, r.Register("b", nil))

	_, err := r.New("missing", DefaultParameters())
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestRegistry_InvalidParameters(t *testing.T) {
	params := DefaultParameters()
	params.Curative.ScenariosInParallel = 0
	_, err := NewDefaultRegistry().New(SearchTreeRaoName, params)
	assert.Error(t, err)
}
