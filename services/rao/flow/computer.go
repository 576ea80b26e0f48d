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
	"context"
	"fmt"

	"github.com/AleutianAI/AleutianRAO/services/rao/model"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity"
)

// SensitivityRunner runs a sensitivity computation. *sensitivity.Runner
// satisfies it.
type SensitivityRunner interface {
	Run(ctx context.Context, v *network.Variant, req sensitivity.Request) (*sensitivity.Result, error)
}

// Computer runs sensitivity computations and derives flow results.
//
// Thread Safety: Safe for concurrent use when the runner is.
type Computer struct {
	runner        SensitivityRunner
	loopFlow      *LoopFlowComputation
	loopFlowCnecs []*model.FlowCnec
	ptdfSum       *PtdfSumComputation
	ptdfCnecs     []*model.FlowCnec
}

// NewComputer creates a computer around a sensitivity runner.
func NewComputer(runner SensitivityRunner) *Computer {
	return &Computer{runner: runner}
}

// WithLoopFlows enables commercial flow computation for the given CNECs.
func (c *Computer) WithLoopFlows(lf *LoopFlowComputation, cnecs []*model.FlowCnec) *Computer {
	cp := *c
	cp.loopFlow = lf
	cp.loopFlowCnecs = cnecs
	return &cp
}

// WithPtdfSums enables PTDF sum computation for the given CNECs.
func (c *Computer) WithPtdfSums(ps *PtdfSumComputation, cnecs []*model.FlowCnec) *Computer {
	cp := *c
	cp.ptdfSum = ps
	cp.ptdfCnecs = cnecs
	return &cp
}

// Request completes a request with the zones needed for loop flows and
// PTDF sums.
func (c *Computer) Request(req sensitivity.Request) sensitivity.Request {
	if req.Glsk != nil {
		return req
	}
	glsk := model.Glsk{}
	if c.loopFlow != nil {
		for z, keys := range c.loopFlow.Glsk() {
			glsk[z] = keys
		}
	}
	if c.ptdfSum != nil {
		for z, keys := range c.ptdfSum.Glsk() {
			glsk[z] = keys
		}
	}
	if len(glsk) > 0 {
		req.Glsk = glsk
	}
	return req
}

// Compute runs a sensitivity computation on a variant and builds the flow
// result.
//
// Description:
//
//	Commercial flows and PTDF sums come from fixed when it is non-nil, and
//	are recomputed from the new sensitivities otherwise.
//
// Outputs:
//   - *Result: Never nil without an error. Check Status for FAILURE.
//   - error: Non-nil only on cancellation.
func (c *Computer) Compute(ctx context.Context, v *network.Variant, req sensitivity.Request, fixed *Result) (*Result, error) {
	sens, err := c.runner.Run(ctx, v, c.Request(req))
	if err != nil {
		return nil, err
	}
	res := NewResult(sens)
	if sens.Status() == sensitivity.StatusFailure {
		return res, nil
	}

	if fixed != nil {
		return res.WithCommercialFlows(fixed.commercial).WithPtdfSums(fixed.ptdfSums), nil
	}
	if c.loopFlow != nil {
		commercial, err := c.loopFlow.CommercialFlows(sens, v, c.requested(sens, c.loopFlowCnecs))
		if err != nil {
			return nil, fmt.Errorf("computing commercial flows: %w", err)
		}
		res = res.WithCommercialFlows(commercial)
	}
	if c.ptdfSum != nil {
		res = res.WithPtdfSums(c.ptdfSum.PtdfSums(sens, c.requested(sens, c.ptdfCnecs)))
	}
	return res, nil
}

func (c *Computer) requested(sens *sensitivity.Result, cnecs []*model.FlowCnec) []*model.FlowCnec {
	out := make([]*model.FlowCnec, 0, len(cnecs))
	for _, cnec := range cnecs {
		if sens.Covers(cnec) {
			out = append(out, cnec)
		}
	}
	return out
}
