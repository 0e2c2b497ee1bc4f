// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	count := Std.Struct(F("N", u8))
	tests := []struct {
		name    string
		typ     Type
		wantErr string
	}{
		{
			name: "ok",
			typ: Std.Struct(
				F("Header", count),
				F("Items", Std.Array(u8, CountOf(FieldRef(1, "Header", "N")))),
			),
		},
		{
			name: "through pointer",
			typ: Std.Struct(
				F("Ptr", Std.Pointer(UInt32, count)),
				F("Items", Std.Array(u8, CountOf(FieldRef(1, "Ptr", "N")))),
			),
		},
		{
			name: "inside pointer target",
			typ: Std.Struct(
				F("N", u8),
				F("Ptr", Std.Pointer(UInt32, Std.Array(u8, CountOf(FieldRef(2, "N"))))),
			),
		},
		{
			name: "tagged alternative",
			typ: Std.Struct(
				F("T", Std.TaggedUnion(
					[]Field{F("Tag", u8)},
					[]Alternative{Std.Alternative(NonZero(FieldRef(0, "Tag")), []Field{F("N", u16)}, "")},
					nil,
				)),
				F("Items", Std.Array(u8, CountOf(FieldRef(1, "T", "N")))),
			),
		},
		{
			name:    "duplicate",
			typ:     Std.Struct(F("A", u8), F("A", u16)),
			wantErr: `duplicate field "A"`,
		},
		{
			name: "duplicate across common",
			typ: Std.TaggedUnion(
				[]Field{F("Tag", u8)},
				[]Alternative{Std.Alternative(NonZero(FieldRef(0, "Tag")), []Field{F("Tag", u16)}, "")},
				nil,
			),
			wantErr: `duplicate field "Tag"`,
		},
		{
			name:    "missing ref",
			typ:     Std.Struct(F("Items", Std.Array(u8, CountOf(FieldRef(1, "Count"))))),
			wantErr: `no field "Count"`,
		},
		{
			name:    "above root",
			typ:     Std.Struct(F("Items", Std.Array(u8, CountOf(FieldRef(3, "N"))))),
			wantErr: "above the root",
		},
		{
			name: "ref to struct",
			typ: Std.Struct(
				F("Header", count),
				F("Items", Std.Array(u8, CountOf(FieldRef(1, "Header")))),
			),
			wantErr: "is a Struct",
		},
		{
			name: "ref to signed",
			typ: Std.Struct(
				F("N", Std.Primitive(Int8)),
				F("Items", Std.Array(u8, CountOf(FieldRef(1, "N")))),
			),
			wantErr: "not unsigned",
		},
		{
			name:    "bitfield width",
			typ:     Std.Bitfield(BitUnsigned, 0),
			wantErr: "bitfield width 0",
		},
		{
			name:    "signed pointer",
			typ:     Std.Pointer(Int32, u8),
			wantErr: "pointer stored as Int32",
		},
		{
			name:    "padded without cap",
			typ:     Std.String(ASCII, Padded()),
			wantErr: "padded string without byte cap",
		},
		{
			name:    "nil symbols",
			typ:     Std.Enum("e", UInt8, nil),
			wantErr: "nil symbol table",
		},
		{
			name:    "reserved name",
			typ:     Std.Struct(F(TargetName, u8)),
			wantErr: "invalid field name",
		},
		{
			name:    "nil field type",
			typ:     Std.Struct(F("A", nil)),
			wantErr: "nil type",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.typ)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidSchema)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestValidateDefinition(t *testing.T) {
	assert.ErrorIs(t, ValidateDefinition(Definition{Root: u8, LockOffset: -1}), ErrInvalidSchema)
	assert.NoError(t, ValidateDefinition(Definition{Root: u8}))
}

func TestValidateCycle(t *testing.T) {
	p := &Pointer{Stored: UInt32, Scale: 1}
	p.Target = Std.Struct(F("Next", p), F("Value", u8))
	assert.NoError(t, Validate(p))
}
