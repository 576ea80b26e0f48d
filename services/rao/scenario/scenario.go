// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scenario reads optimisation cases: a grid description, a CRAC and
// optional loop-flow data (GLSK and reference program), stored as YAML.
package scenario

import (
	"embed"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianRAO/services/rao/model"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
)

//go:embed cases/*.yaml
var builtinCases embed.FS

// Case is the file format of an optimisation case.
type Case struct {
	Name             string                 `json:"name" yaml:"name"`
	Description      string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Grid             network.GridSpec       `json:"grid" yaml:"grid"`
	Crac             model.CracSpec         `json:"crac" yaml:"crac"`
	Glsk             model.Glsk             `json:"glsk,omitempty" yaml:"glsk,omitempty"`
	ReferenceProgram model.ReferenceProgram `json:"reference_program,omitempty" yaml:"reference_program,omitempty"`
}

// Built is a case bound to a fresh network.
type Built struct {
	Case             *Case
	Network          *network.Network
	Crac             *model.Crac
	Glsk             model.Glsk
	ReferenceProgram model.ReferenceProgram
}

// Parse decodes a YAML case.
func Parse(data []byte) (*Case, error) {
	var c Case
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing case: %w", err)
	}
	if c.Name == "" {
		c.Name = c.Crac.ID
	}
	return &c, nil
}

// Load reads a YAML case file.
func Load(filePath string) (*Case, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("reading case %s: %w", filePath, err)
	}
	return Parse(data)
}

// Builtin returns one of the cases shipped with the binary.
func Builtin(name string) (*Case, error) {
	data, err := builtinCases.ReadFile(path.Join("cases", name+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("unknown builtin case %q", name)
	}
	return Parse(data)
}

// BuiltinNames lists the cases shipped with the binary.
func BuiltinNames() []string {
	entries, err := builtinCases.ReadDir("cases")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// Build creates the network and binds the CRAC to it. Each call returns an
// independent network.
func (c *Case) Build() (*Built, error) {
	grid, err := network.NewGrid(c.Grid)
	if err != nil {
		return nil, fmt.Errorf("case %s: %w", c.Name, err)
	}
	net := network.New(grid)
	crac, err := model.NewCrac(c.Crac, net)
	if err != nil {
		return nil, fmt.Errorf("case %s: %w", c.Name, err)
	}
	if err := c.Glsk.Validate(grid); err != nil {
		return nil, fmt.Errorf("case %s: %w", c.Name, err)
	}
	return &Built{
		Case:             c,
		Network:          net,
		Crac:             crac,
		Glsk:             c.Glsk,
		ReferenceProgram: c.ReferenceProgram,
	}, nil
}
