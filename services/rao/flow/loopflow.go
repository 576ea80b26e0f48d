// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package flow

import (
	"errors"
	"math"
	"strings"

	"github.com/AleutianAI/AleutianRAO/services/rao/model"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity"
)

// LoopFlowComputation computes commercial flows from GLSK sensitivities and
// the reference program.
type LoopFlowComputation struct {
	glsk    model.Glsk
	program model.ReferenceProgram
}

// NewLoopFlowComputation creates a loop-flow computation.
func NewLoopFlowComputation(glsk model.Glsk, program model.ReferenceProgram) *LoopFlowComputation {
	return &LoopFlowComputation{glsk: glsk, program: program}
}

// Glsk returns the shift keys, to be added to sensitivity requests.
func (l *LoopFlowComputation) Glsk() model.Glsk { return l.glsk }

// CommercialFlows returns, for every side of the given CNECs, the sum over
// zones of the zone sensitivity times its net position.
//
// Description:
//
//	Zones with no injection in the main connected component of the variant
//	are skipped. CNECs whose state failed are left out.
func (l *LoopFlowComputation) CommercialFlows(sens *sensitivity.Result, v *network.Variant, cnecs []*model.FlowCnec) (map[Key]float64, error) {
	zones := l.glsk.ConnectedZones(v)

	out := make(map[Key]float64, len(cnecs))
	for _, cnec := range cnecs {
		for _, side := range cnec.MonitoredSides() {
			total := 0.0
			skip := false
			for _, z := range zones {
				s, err := sens.SensitivityOnFlow(sensitivity.ZoneVar(z), cnec, side)
				if err != nil {
					if errors.Is(err, sensitivity.ErrDataNotFound) {
						skip = true
						break
					}
					return nil, err
				}
				total += s * l.program.NetPosition(z)
			}
			if !skip {
				out[Key{cnec.ID, side}] = total
			}
		}
	}
	return out, nil
}

// PtdfSumComputation computes absolute zonal PTDF sums over zone borders.
type PtdfSumComputation struct {
	glsk    model.Glsk
	borders [][2]string
}

// NewPtdfSumComputation creates a PTDF sum computation. Borders are written
// "FR/BE"; malformed entries are ignored.
func NewPtdfSumComputation(glsk model.Glsk, borders []string) *PtdfSumComputation {
	p := &PtdfSumComputation{glsk: glsk}
	for _, b := range borders {
		parts := strings.Split(b, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		p.borders = append(p.borders, [2]string{parts[0], parts[1]})
	}
	return p
}

// Glsk returns the shift keys, to be added to sensitivity requests.
func (p *PtdfSumComputation) Glsk() model.Glsk { return p.glsk }

// PtdfSums returns Σ |ptdf(z1) - ptdf(z2)| over the borders whose zones both
// have shift keys, for every side of the given CNECs.
func (p *PtdfSumComputation) PtdfSums(sens *sensitivity.Result, cnecs []*model.FlowCnec) map[Key]float64 {
	out := make(map[Key]float64, len(cnecs))
	for _, cnec := range cnecs {
		for _, side := range cnec.MonitoredSides() {
			sum := 0.0
			for _, b := range p.borders {
				if _, ok := p.glsk[b[0]]; !ok {
					continue
				}
				if _, ok := p.glsk[b[1]]; !ok {
					continue
				}
				s1, err1 := sens.SensitivityOnFlow(sensitivity.ZoneVar(b[0]), cnec, side)
				s2, err2 := sens.SensitivityOnFlow(sensitivity.ZoneVar(b[1]), cnec, side)
				if err1 != nil || err2 != nil {
					continue
				}
				sum += math.Abs(s1 - s2)
			}
			out[Key{cnec.ID, side}] = sum
		}
	}
	return out
}
