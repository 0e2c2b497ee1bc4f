// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package render writes decoded trees and tabular views as styled text,
// YAML or JSON.
package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/dblohm7/pestruct/schema"
)

// ErrUnknownFormat is returned by New for an unsupported format name.
var ErrUnknownFormat = errors.New("unknown output format")

const indentWidth = 2

// Renderer writes to one output in one format.
type Renderer struct {
	w      io.Writer
	format string
	styles *Styles
	// Expand forces lazily decoded pointer targets when rendering trees.
	Expand bool
}

// New returns a Renderer for format ("text", "yaml" or "json"). Color
// applies to text only.
func New(w io.Writer, format string, colorEnabled bool) (*Renderer, error) {
	switch format {
	case "text", "yaml", "json":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return &Renderer{w: w, format: format, styles: NewStyles(colorEnabled)}, nil
}

// Node renders the tree rooted at n.
func (r *Renderer) Node(n *schema.Node) error {
	if r.format != "text" {
		return r.encode(NewEntry(n, r.Expand))
	}
	var b strings.Builder
	r.writeNode(&b, n, 0)
	_, err := io.WriteString(r.w, b.String())
	return err
}

func (r *Renderer) writeNode(b *strings.Builder, n *schema.Node, depth int) {
	s := r.styles
	b.WriteString(strings.Repeat(" ", depth*indentWidth))
	b.WriteString(s.Name.Render(n.Name()))
	b.WriteString(" ")
	b.WriteString(s.Kind.Render(n.Kind().String()))
	b.WriteString(" ")
	b.WriteString(s.Range.Render(fmt.Sprintf("@0x%X+%d", n.Offset(), n.Size())))
	if v := formatValue(n.Value()); v != "" && n.Kind() != schema.KindPointer {
		b.WriteString(" = ")
		b.WriteString(s.Value.Render(v))
	}
	if n.Kind() == schema.KindPointer {
		b.WriteString(" -> ")
		b.WriteString(s.Target.Render(formatValue(n.Value())))
	}
	if l := n.Label(); l != "" {
		b.WriteString(" ")
		b.WriteString(s.Label.Render("[" + l + "]"))
	}
	if sel := n.Selected(); sel != "" {
		b.WriteString(" ")
		b.WriteString(s.Dim.Render("<" + sel + ">"))
	}
	if err := n.Err(); err != nil {
		b.WriteString(" ")
		b.WriteString(s.Error.Render("! " + err.Error()))
	}
	b.WriteString("\n")

	for _, c := range n.Children() {
		r.writeNode(b, c, depth+1)
	}
	if n.Kind() == schema.KindPointer && (r.Expand || n.Resolved()) {
		if t := n.Target(); t != nil {
			r.writeNode(b, t, depth+1)
		}
	}
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case uint64:
		return fmt.Sprintf("0x%X", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case string:
		return fmt.Sprintf("%q", v)
	default:
		return fmt.Sprint(v)
	}
}

// Table renders rows under header as aligned text columns. For YAML and
// JSON the structured value v is encoded instead.
func (r *Renderer) Table(title string, header []string, rows [][]string, v any) error {
	if r.format != "text" {
		return r.encode(v)
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}

	var b strings.Builder
	if title != "" {
		b.WriteString(r.styles.Name.Render(title))
		b.WriteString("\n\n")
	}
	cells := make([]string, len(header))
	for i, h := range header {
		cells[i] = r.styles.Header.Render(pad(h, widths[i]))
	}
	b.WriteString(strings.TrimRight(strings.Join(cells, "  "), " "))
	b.WriteString("\n")
	for _, row := range rows {
		cells = cells[:0]
		for i, cell := range row {
			if i < len(widths) {
				cell = pad(cell, widths[i])
			}
			cells = append(cells, cell)
		}
		b.WriteString(strings.TrimRight(strings.Join(cells, "  "), " "))
		b.WriteString("\n")
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

func pad(s string, width int) string {
	if n := width - lipgloss.Width(s); n > 0 {
		return s + strings.Repeat(" ", n)
	}
	return s
}

// Diagnostics renders one line per diagnostic.
func (r *Renderer) Diagnostics(diags []schema.Diagnostic) error {
	if r.format != "text" {
		type diag struct {
			Path   string `json:"path" yaml:"path"`
			Offset int64  `json:"offset" yaml:"offset"`
			Error  string `json:"error" yaml:"error"`
		}
		out := make([]diag, 0, len(diags))
		for _, d := range diags {
			out = append(out, diag{Path: d.Path, Offset: d.Offset, Error: d.Err.Error()})
		}
		return r.encode(out)
	}

	var b strings.Builder
	for _, d := range diags {
		b.WriteString(r.styles.Name.Render(d.Path))
		b.WriteString(" ")
		b.WriteString(r.styles.Range.Render(fmt.Sprintf("@0x%X", d.Offset)))
		b.WriteString(" ")
		b.WriteString(r.styles.Error.Render(d.Err.Error()))
		b.WriteString("\n")
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

func (r *Renderer) encode(v any) error {
	switch r.format {
	case "json":
		enc := json.NewEncoder(r.w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	default:
		enc := yaml.NewEncoder(r.w)
		enc.SetIndent(indentWidth)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	}
}
