// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package schema

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

// Symbol is one label of a symbol table.
type Symbol struct {
	Label string
	Value uint64
}

// Symbols is an immutable, ordered table of labels for an Enum or Flags.
type Symbols struct {
	name    string
	entries []Symbol
}

// NewSymbols builds a table from alternating labels and values. A value may
// be any Go integer or a string in decimal or 0x-prefixed hexadecimal.
func NewSymbols(name string, kv ...any) (*Symbols, error) {
	if len(kv)%2 != 0 {
		return nil, fmt.Errorf("%w: symbols %q: odd number of arguments", ErrInvalidSchema, name)
	}
	s := &Symbols{name: name, entries: make([]Symbol, 0, len(kv)/2)}
	for i := 0; i < len(kv); i += 2 {
		label, ok := kv[i].(string)
		if !ok {
			return nil, fmt.Errorf("%w: symbols %q: label %d is %T, not string", ErrInvalidSchema, name, i/2, kv[i])
		}
		v, err := symbolValue(kv[i+1])
		if err != nil {
			return nil, fmt.Errorf("%w: symbols %q: %s: %v", ErrInvalidSchema, name, label, err)
		}
		if slices.ContainsFunc(s.entries, func(e Symbol) bool { return e.Label == label }) {
			return nil, fmt.Errorf("%w: symbols %q: duplicate label %q", ErrInvalidSchema, name, label)
		}
		s.entries = append(s.entries, Symbol{Label: label, Value: v})
	}
	return s, nil
}

// MustSymbols is like NewSymbols but panics on error. It is meant for
// tables written as literals in a schema.
func MustSymbols(name string, kv ...any) *Symbols {
	s, err := NewSymbols(name, kv...)
	if err != nil {
		panic(err)
	}
	return s
}

func symbolValue(v any) (uint64, error) {
	switch v := v.(type) {
	case string:
		return strconv.ParseUint(strings.TrimSpace(v), 0, 64)
	case int:
		if v < 0 {
			return 0, fmt.Errorf("negative value %d", v)
		}
		return uint64(v), nil
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("negative value %d", v)
		}
		return uint64(v), nil
	case int32:
		if v < 0 {
			return 0, fmt.Errorf("negative value %d", v)
		}
		return uint64(v), nil
	case uint:
		return uint64(v), nil
	case uint8:
		return uint64(v), nil
	case uint16:
		return uint64(v), nil
	case uint32:
		return uint64(v), nil
	case uint64:
		return v, nil
	}
	return 0, fmt.Errorf("unsupported value type %T", v)
}

// Name returns the table's name.
func (s *Symbols) Name() string { return s.name }

// Len returns the number of entries.
func (s *Symbols) Len() int { return len(s.entries) }

// Entries returns a copy of the table in declaration order.
func (s *Symbols) Entries() []Symbol {
	return slices.Clone(s.entries)
}

// Value returns the value of label.
func (s *Symbols) Value(label string) (uint64, bool) {
	i := slices.IndexFunc(s.entries, func(e Symbol) bool { return e.Label == label })
	if i < 0 {
		return 0, false
	}
	return s.entries[i].Value, true
}

// MustValue is like Value but panics if label is missing.
func (s *Symbols) MustValue(label string) uint64 {
	v, ok := s.Value(label)
	if !ok {
		panic(fmt.Sprintf("symbols %q: no label %q", s.name, label))
	}
	return v
}

// Label returns the first label whose value is exactly v.
func (s *Symbols) Label(v uint64) (string, bool) {
	i := slices.IndexFunc(s.entries, func(e Symbol) bool { return e.Value == v })
	if i < 0 {
		return "", false
	}
	return s.entries[i].Label, true
}

// Flags returns the labels of every non-zero entry whose bits are all set in
// v, in table order, and the bits of v no entry accounts for.
func (s *Symbols) Flags(v uint64) (labels []string, rest uint64) {
	rest = v
	for _, e := range s.entries {
		if e.Value == 0 || v&e.Value != e.Value {
			continue
		}
		labels = append(labels, e.Label)
		rest &^= e.Value
	}
	return labels, rest
}
