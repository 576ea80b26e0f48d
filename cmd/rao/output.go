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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianRAO/services/rao/orchestrator"
	"github.com/AleutianAI/AleutianRAO/services/rao/store"
)

// Grid palette
var (
	colorTeal    = lipgloss.Color("#2CD7C7")
	colorPrimary = lipgloss.Color("#20B9B4")
	colorDeep    = lipgloss.Color("#16858E")
	colorSlate   = lipgloss.Color("#2C4A54")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
)

var styles = struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(colorTeal),
	Label:   lipgloss.NewStyle().Foreground(colorPrimary),
	Muted:   lipgloss.NewStyle().Foreground(colorSlate),
	Success: lipgloss.NewStyle().Foreground(colorTeal),
	Warning: lipgloss.NewStyle().Foreground(colorWarning),
	Error:   lipgloss.NewStyle().Foreground(colorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorDeep).
		Padding(0, 1),
}

// styledOutput reports whether w is an interactive terminal. Pipes, files
// and buffers get plain text.
func styledOutput(w io.Writer) bool {
	if plainOutput || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// printer writes run results either styled or as plain text.
type printer struct {
	w      io.Writer
	styled bool
}

func newPrinter(w io.Writer) printer {
	return printer{w: w, styled: styledOutput(w)}
}

func (p printer) style(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

func (p printer) statusBadge(s orchestrator.Status) string {
	if !p.styled {
		return string(s)
	}
	switch s {
	case orchestrator.StatusSuccess:
		return styles.Success.Render("✓ " + string(s))
	case orchestrator.StatusFallback:
		return styles.Warning.Render("⚠ " + string(s))
	default:
		return styles.Error.Render("✗ " + string(s))
	}
}

func (p printer) box(content string) string {
	if !p.styled {
		return content
	}
	return styles.Box.Render(strings.TrimRight(content, "\n"))
}

// record prints a finished run.
func (p printer) record(rec *store.Record) {
	res := rec.Result
	title := "RAO run"
	if rec.ID != "" {
		title += " " + rec.ID
	}
	fmt.Fprintf(p.w, "%s  %s %s\n", p.style(styles.Title, title), p.style(styles.Label, "case"), rec.Case)

	line := p.statusBadge(res.Status) + "  " + string(res.ExecutionDetails)
	if res.Secure != nil {
		if *res.Secure {
			line += "  " + p.style(styles.Success, "secure")
		} else {
			line += "  " + p.style(styles.Error, "unsecure")
		}
	}
	fmt.Fprintln(p.w, line)
	if res.Error != "" {
		fmt.Fprintf(p.w, "%s %s\n", p.style(styles.Error, "error"), res.Error)
	}
	fmt.Fprintf(p.w, "%s %.2f -> %.2f  %s\n",
		p.style(styles.Label, "cost"),
		res.InitialCost.Total, res.FinalCost.Total,
		p.style(styles.Muted, fmt.Sprintf("(functional %.2f, virtual %.2f, %s)",
			res.FinalCost.Functional, res.FinalCost.Virtual, res.Duration.Round(time.Millisecond))),
	)

	fmt.Fprintln(p.w, p.box(stateTable(res.States)))
	if len(res.MostLimiting) > 0 {
		fmt.Fprintln(p.w, p.style(styles.Title, "Most limiting elements"))
		fmt.Fprintln(p.w, p.box(cnecTable(res.MostLimiting)))
	}
}

func stateTable(states []orchestrator.StateResult) string {
	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATE\tSTATUS\tNETWORK ACTIONS\tRANGE ACTIONS\tCOST\tSTOP")
	for _, s := range states {
		if !s.Optimized && s.Status == orchestrator.StatusSuccess {
			continue
		}
		cost := "-"
		if s.Cost != nil {
			cost = fmt.Sprintf("%.2f", s.Cost.Total)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.State, s.Status, listOrDash(s.NetworkActions), rangeActions(s.RangeActions), cost, dash(s.StopReason))
	}
	_ = tw.Flush()
	return buf.String()
}

func cnecTable(cnecs []orchestrator.CnecResult) string {
	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CNEC\tSTATE\tFLOW\tMARGIN\tUNIT")
	for _, c := range cnecs {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%.2f\t%s\n", c.ID, c.State, c.Flow, c.Margin, c.Unit)
	}
	_ = tw.Flush()
	return buf.String()
}

func rangeActions(ras []orchestrator.RangeActionResult) string {
	if len(ras) == 0 {
		return "-"
	}
	parts := make([]string, len(ras))
	for i, ra := range ras {
		if ra.Tap != nil {
			parts[i] = fmt.Sprintf("%s=tap %d", ra.ID, *ra.Tap)
		} else {
			parts[i] = fmt.Sprintf("%s=%.2f", ra.ID, ra.Setpoint)
		}
	}
	return strings.Join(parts, ",")
}

func listOrDash(ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	return strings.Join(ids, ",")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// summaries prints a run listing.
func (p printer) summaries(runs []store.Summary) {
	if len(runs) == 0 {
		fmt.Fprintln(p.w, p.style(styles.Muted, "no runs"))
		return
	}
	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCASE\tCREATED\tSTATUS\tEXECUTION\tFINAL COST")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.2f\n",
			r.ID, r.Case, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Status, r.ExecutionDetails, r.FinalCost)
	}
	_ = tw.Flush()
	fmt.Fprintln(p.w, p.box(buf.String()))
}

func (p printer) names(names []string) {
	for _, n := range names {
		fmt.Fprintf(p.w, "%s %s\n", p.style(styles.Muted, "•"), n)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderError(w io.Writer, err error) string {
	p := newPrinter(w)
	if !p.styled {
		return "ERROR: " + err.Error()
	}
	return styles.Error.Render("✗ " + err.Error())
}
