// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSymbols(t *testing.T) {
	s, err := NewSymbols("subsystem", "Unknown", 0, "Native", "0x1", "WindowsGUI", " 0x0002 ", "WindowsCUI", uint16(3))
	require.NoError(t, err)
	assert.Equal(t, "subsystem", s.Name())
	assert.Equal(t, 4, s.Len())
	assert.Equal(t, []Symbol{
		{"Unknown", 0},
		{"Native", 1},
		{"WindowsGUI", 2},
		{"WindowsCUI", 3},
	}, s.Entries())

	v, ok := s.Value("WindowsGUI")
	assert.True(t, ok)
	assert.Equal(t, uint64(2), v)
	_, ok = s.Value("Xbox")
	assert.False(t, ok)

	l, ok := s.Label(3)
	assert.True(t, ok)
	assert.Equal(t, "WindowsCUI", l)
	_, ok = s.Label(99)
	assert.False(t, ok)
}

func TestNewSymbolsErrors(t *testing.T) {
	tests := []struct {
		name string
		kv   []any
	}{
		{"odd", []any{"A", 1, "B"}},
		{"label type", []any{1, 1}},
		{"bad hex", []any{"A", "0xZZ"}},
		{"negative", []any{"A", -1}},
		{"value type", []any{"A", 1.5}},
		{"duplicate", []any{"A", 1, "A", 2}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSymbols("t", tc.kv...)
			assert.ErrorIs(t, err, ErrInvalidSchema)
		})
	}
	assert.Panics(t, func() { MustSymbols("t", "A") })
}

func TestSymbolsEntriesImmutable(t *testing.T) {
	s := MustSymbols("t", "A", 1)
	e := s.Entries()
	e[0].Value = 42
	assert.Equal(t, uint64(1), s.MustValue("A"))
	assert.Panics(t, func() { s.MustValue("B") })
}

func TestSymbolsFlags(t *testing.T) {
	s := MustSymbols("scn",
		"None", 0,
		"Code", "0x00000020",
		"Execute", "0x20000000",
		"Read", "0x40000000",
		"Align16", "0x00500000",
		"Align1", "0x00100000",
	)
	labels, rest := s.Flags(0x60500020 | 0x8)
	assert.Equal(t, []string{"Code", "Execute", "Read", "Align16", "Align1"}, labels)
	assert.Equal(t, uint64(0x8), rest)

	labels, rest = s.Flags(0)
	assert.Empty(t, labels)
	assert.Zero(t, rest)
}
