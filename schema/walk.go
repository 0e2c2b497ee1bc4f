// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package schema

// Walk visits n and its descendants depth first in decode order. A pointer's
// target is visited after the pointer, but only once it has been resolved:
// Walk never forces a lazy target. If fn returns false the children of that
// node are skipped.
func Walk(n *Node, fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range n.children {
		Walk(c, fn)
	}
	if n.Resolved() {
		Walk(n.ptr.target, fn)
	}
}

// Diagnostic is a problem recorded on one node.
type Diagnostic struct {
	Path   string
	Offset int64
	Err    error
}

func (d Diagnostic) Error() string {
	return d.Path + ": " + d.Err.Error()
}

func (d Diagnostic) Unwrap() error { return d.Err }

// Diagnostics returns every diagnostic in the materialized tree under n.
func Diagnostics(n *Node) []Diagnostic {
	var out []Diagnostic
	Walk(n, func(c *Node) bool {
		if err := c.Err(); err != nil {
			out = append(out, Diagnostic{Path: c.Path(), Offset: c.offset, Err: err})
		}
		return true
	})
	return out
}
