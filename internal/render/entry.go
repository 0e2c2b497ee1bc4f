// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"github.com/dblohm7/pestruct/schema"
)

// Entry is the serializable form of a decoded node.
type Entry struct {
	Name     string  `json:"name" yaml:"name"`
	Kind     string  `json:"kind" yaml:"kind"`
	Offset   int64   `json:"offset" yaml:"offset"`
	Size     int64   `json:"size" yaml:"size"`
	Value    any     `json:"value,omitempty" yaml:"value,omitempty"`
	Label    string  `json:"label,omitempty" yaml:"label,omitempty"`
	Selected string  `json:"selected,omitempty" yaml:"selected,omitempty"`
	Error    string  `json:"error,omitempty" yaml:"error,omitempty"`
	Children []Entry `json:"children,omitempty" yaml:"children,omitempty"`
	Target   *Entry  `json:"target,omitempty" yaml:"target,omitempty"`
}

// NewEntry converts the tree under n. Pointer targets are included when
// they have already been resolved, or always when expand is set.
func NewEntry(n *schema.Node, expand bool) Entry {
	e := Entry{
		Name:     n.Name(),
		Kind:     n.Kind().String(),
		Offset:   n.Offset(),
		Size:     n.Size(),
		Value:    n.Value(),
		Label:    n.Label(),
		Selected: n.Selected(),
	}
	if err := n.Err(); err != nil {
		e.Error = err.Error()
	}
	if len(n.Children()) > 0 {
		e.Children = make([]Entry, 0, len(n.Children()))
		for _, c := range n.Children() {
			e.Children = append(e.Children, NewEntry(c, expand))
		}
	}
	if n.Kind() == schema.KindPointer && (expand || n.Resolved()) {
		if t := n.Target(); t != nil {
			te := NewEntry(t, expand)
			e.Target = &te
		}
	}
	return e
}
