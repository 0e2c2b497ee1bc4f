// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package schema

//go:generate go tool stringer -type=Kind -trimprefix=Kind

// Kind identifies the shape of a Type.
type Kind int

const (
	KindPrimitive Kind = iota
	KindBitfield
	KindString
	KindStruct
	KindUnion
	KindArray
	KindPointer
	KindTaggedUnion
	KindEnum
	KindFlags
)

// Composite reports whether values of kind k are made of named children.
func (k Kind) Composite() bool {
	switch k {
	case KindStruct, KindUnion, KindArray, KindTaggedUnion:
		return true
	}
	return false
}
