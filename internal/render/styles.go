// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Styles holds the lipgloss styles used by the text renderer.
type Styles struct {
	Name   lipgloss.Style
	Kind   lipgloss.Style
	Range  lipgloss.Style
	Value  lipgloss.Style
	Label  lipgloss.Style
	Target lipgloss.Style
	Error  lipgloss.Style
	Header lipgloss.Style
	Dim    lipgloss.Style
}

// NewStyles returns colored styles, or plain ones when colorEnabled is false.
func NewStyles(colorEnabled bool) *Styles {
	if !colorEnabled {
		plain := lipgloss.NewStyle()
		return &Styles{
			Name:   plain,
			Kind:   plain,
			Range:  plain,
			Value:  plain,
			Label:  plain,
			Target: plain,
			Error:  plain,
			Header: plain,
			Dim:    plain,
		}
	}
	return &Styles{
		Name:   lipgloss.NewStyle().Bold(true),
		Kind:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Range:  lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Value:  lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		Label:  lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Target: lipgloss.NewStyle().Foreground(lipgloss.Color("13")),
		Error:  lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		Header: lipgloss.NewStyle().Bold(true).Underline(true),
		Dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

// ShouldColorize resolves a color mode ("auto", "always", "never") for w.
// In auto mode color is used only when w is a terminal and NO_COLOR is unset.
func ShouldColorize(mode string, w io.Writer) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}
