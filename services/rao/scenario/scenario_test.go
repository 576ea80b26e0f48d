// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scenario

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRAO/services/rao/model"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
)

func TestBuiltinCasesBuild(t *testing.T) {
	names := BuiltinNames()
	require.NotEmpty(t, names)
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			c, err := Builtin(name)
			require.NoError(t, err)
			built, err := c.Build()
			require.NoError(t, err)
			assert.NotEmpty(t, built.Crac.FlowCnecs())
			assert.Equal(t, []string{network.InitialVariantID}, built.Network.VariantIDs())
		})
	}
}

func TestBuiltin_TwoBranch(t *testing.T) {
	c, err := Builtin("two-branch")
	require.NoError(t, err)
	built, err := c.Build()
	require.NoError(t, err)

	pst := built.Crac.RangeAction("pst-L2")
	require.NotNil(t, pst)
	assert.Equal(t, model.PstRangeAction, pst.Kind)
	assert.Len(t, pst.Taps(), 21)
	assert.InDelta(t, -7.0, pst.InitialSetpoint(), 1e-9)
	assert.NotNil(t, built.Crac.NetworkAction("open-L2"))
}

func TestBuiltin_Unknown(t *testing.T) {
	_, err := Builtin("does-not-exist")
	assert.Error(t, err)
}

func TestBuild_Independent(t *testing.T) {
	c, err := Builtin("two-branch")
	require.NoError(t, err)
	a, err := c.Build()
	require.NoError(t, err)
	b, err := c.Build()
	require.NoError(t, err)
	assert.NotSame(t, a.Network, b.Network)
	assert.NotSame(t, a.Crac.FlowCnec("L1-preventive"), b.Crac.FlowCnec("L1-preventive"))
}

func TestLoad(t *testing.T) {
	doc := `
name: tiny
grid:
  buses:
    - {id: A, zone: FR, nominal_kv: 225}
    - {id: B, zone: FR, nominal_kv: 225}
  branches:
    - {id: AB, from: A, to: B, reactance: 0.1}
  injections:
    - {id: G, bus: A, p: 10}
    - {id: L, bus: B, p: -10}
crac:
  id: tiny
  instants:
    - {id: preventive, kind: PREVENTIVE}
  flow_cnecs:
    - id: AB-prev
      network_element: AB
      instant: preventive
      optimized: true
      thresholds:
        - {side: 2, unit: A, max: 1000}
glsk:
  FR: {G: 1}
reference_program:
  FR: 0
`
	path := filepath.Join(t.TempDir(), "tiny.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tiny", c.Name)

	built, err := c.Build()
	require.NoError(t, err)
	cnec := built.Crac.FlowCnec("AB-prev")
	assert.Equal(t, []network.Side{network.SideTwo}, cnec.MonitoredSides())
	assert.InDelta(t, 225.0, cnec.NominalV2, 1e-9)
	assert.Equal(t, []string{"FR"}, built.Glsk.Zones())
}

func TestBuild_BadGlsk(t *testing.T) {
	c, err := Builtin("two-branch")
	require.NoError(t, err)
	c.Glsk = model.Glsk{"FR": {"nope": 1}}
	_, err = c.Build()
	assert.ErrorIs(t, err, model.ErrUnknownElement)
}
