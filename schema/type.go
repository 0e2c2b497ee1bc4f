// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package schema is a declarative engine for decoding self-describing,
// pointer-rich binary structures. A schema is a tree of immutable Type
// descriptors; Decode walks it over a read-only Source and produces a tree
// of Nodes carrying byte ranges, values and per-node diagnostics.
package schema

import "fmt"

// Type describes the shape of a field. Types carry no decoded data and are
// never mutated once built.
type Type interface {
	Kind() Kind
}

// Prim enumerates the fixed-width primitive encodings.
type Prim uint8

const (
	UInt8 Prim = iota + 1
	UInt16
	UInt32
	UInt64
	Int8
	Int16
	Int32
	Int64
	Bool8
	Bool16
	Bool32
	Bool64
	Float32
	Float64
	Char
)

var primNames = [...]string{
	UInt8:   "UInt8",
	UInt16:  "UInt16",
	UInt32:  "UInt32",
	UInt64:  "UInt64",
	Int8:    "Int8",
	Int16:   "Int16",
	Int32:   "Int32",
	Int64:   "Int64",
	Bool8:   "Bool8",
	Bool16:  "Bool16",
	Bool32:  "Bool32",
	Bool64:  "Bool64",
	Float32: "Float",
	Float64: "Double",
	Char:    "Char",
}

func (p Prim) String() string {
	if int(p) < len(primNames) && primNames[p] != "" {
		return primNames[p]
	}
	return fmt.Sprintf("Prim(%d)", uint8(p))
}

// Size returns the width of p in bytes, or 0 if p is not a valid Prim.
func (p Prim) Size() int {
	switch p {
	case UInt8, Int8, Bool8, Char:
		return 1
	case UInt16, Int16, Bool16:
		return 2
	case UInt32, Int32, Bool32, Float32:
		return 4
	case UInt64, Int64, Bool64, Float64:
		return 8
	}
	return 0
}

// Unsigned reports whether p is an unsigned integer.
func (p Prim) Unsigned() bool {
	return p >= UInt8 && p <= UInt64
}

// Signed reports whether p is a signed integer.
func (p Prim) Signed() bool {
	return p >= Int8 && p <= Int64
}

// Integral reports whether p is a signed or unsigned integer.
func (p Prim) Integral() bool {
	return p.Unsigned() || p.Signed()
}

// Primitive is a fixed-width integer, boolean, float or character.
type Primitive struct {
	Prim Prim
}

func (*Primitive) Kind() Kind { return KindPrimitive }

// BitKind selects how a Bitfield's bits are interpreted.
type BitKind uint8

const (
	BitUnsigned BitKind = iota
	BitSigned
	BitBool
)

// Bitfield is a run of Width bits, packed LSB-first within its bytes.
// Adjacent bitfields share bytes; any other field realigns to a byte.
type Bitfield struct {
	Bits  BitKind
	Width int
}

func (*Bitfield) Kind() Kind { return KindBitfield }

// Encoding names a string encoding.
type Encoding uint8

const (
	ASCII Encoding = iota
	Latin1
	UTF8
	UTF16 // little endian unless a byte order mark says otherwise
	UTF16LE
	UTF16BE
	UTF32 // little endian unless a byte order mark says otherwise
	UTF32LE
	UTF32BE
)

var encodingNames = [...]string{
	ASCII:   "ascii",
	Latin1:  "latin1",
	UTF8:    "utf-8",
	UTF16:   "utf-16",
	UTF16LE: "utf-16-le",
	UTF16BE: "utf-16-be",
	UTF32:   "utf-32",
	UTF32LE: "utf-32-le",
	UTF32BE: "utf-32-be",
}

func (e Encoding) String() string {
	if int(e) < len(encodingNames) {
		return encodingNames[e]
	}
	return fmt.Sprintf("Encoding(%d)", uint8(e))
}

// unitSize is the width of one code unit, which is also the granularity at
// which the terminator is matched.
func (e Encoding) unitSize() int {
	switch e {
	case UTF16, UTF16LE, UTF16BE:
		return 2
	case UTF32, UTF32LE, UTF32BE:
		return 4
	}
	return 1
}

func (e Encoding) bigEndian() bool {
	return e == UTF16BE || e == UTF32BE
}

// NoTerminator disables terminator matching on a String.
const NoTerminator = -1

// String is an encoded string. Decoding stops at the first code unit equal
// to Terminator or after MaxBytes bytes, whichever comes first. A MaxBytes
// of zero means no cap. When Padded is set the field always occupies
// MaxBytes bytes even if its text ends earlier.
type String struct {
	Encoding   Encoding
	MaxBytes   int
	Terminator int
	Padded     bool
}

func (*String) Kind() Kind { return KindString }

// Field is a named child of a composite type.
type Field struct {
	Name string
	Type Type
}

// F is shorthand for a Field literal.
func F(name string, t Type) Field {
	return Field{Name: name, Type: t}
}

// Struct decodes its fields one after another.
type Struct struct {
	Fields []Field
}

func (*Struct) Kind() Kind { return KindStruct }

// Union decodes all of its fields at the same offset. Its size is that of
// its largest field.
type Union struct {
	Fields []Field
}

func (*Union) Kind() Kind { return KindUnion }

// Array decodes elements of Elem back to back. If Until is nil the element
// count is Length, evaluated once before the first element. Otherwise
// elements are decoded until Until holds for the element just decoded
// (which is kept), or Max elements have been decoded.
type Array struct {
	Elem   Type
	Length Length
	Until  Predicate
	Max    int
}

func (*Array) Kind() Kind { return KindArray }

// Translator maps an address stored in a pointer to a byte offset in the
// source. ctx.Self() is the pointer node.
type Translator func(ctx Context, addr uint64) (uint64, error)

// Pointer stores an unsigned integer of width Stored and refers to a value
// of type Target at Translate(Stored*Scale). A nil Translate means the
// address already is a byte offset. An Optional pointer whose stored value
// is zero has no target.
//
// A pointer only occupies its stored integer in the enclosing layout.
type Pointer struct {
	Stored    Prim
	Target    Type
	Scale     uint64
	Translate Translator
	Optional  bool
}

func (*Pointer) Kind() Kind { return KindPointer }

// Alternative is one variant of a TaggedUnion.
type Alternative struct {
	When   Predicate
	Fields []Field
	Name   string
}

// TaggedUnion decodes Common, then the fields of the first Alternative whose
// predicate holds, or Default if none does.
type TaggedUnion struct {
	Common       []Field
	Alternatives []Alternative
	Default      []Field
}

func (*TaggedUnion) Kind() Kind { return KindTaggedUnion }

// Enum is an integral primitive whose value is labeled from a symbol table.
// Values missing from the table are valid but unlabeled.
type Enum struct {
	Name    string
	Base    Prim
	Symbols *Symbols
}

func (*Enum) Kind() Kind { return KindEnum }

// Flags is an integral primitive whose value is a bitwise OR of table
// entries. Bits missing from the table are valid but unlabeled.
type Flags struct {
	Name    string
	Base    Prim
	Symbols *Symbols
}

func (*Flags) Kind() Kind { return KindFlags }

// staticBits returns the encoded size of t in bits when it does not depend
// on the data.
func staticBits(t Type) (int64, bool) {
	switch t := t.(type) {
	case *Primitive:
		return int64(t.Prim.Size()) * 8, true
	case *Enum:
		return int64(t.Base.Size()) * 8, true
	case *Flags:
		return int64(t.Base.Size()) * 8, true
	case *Pointer:
		return int64(t.Stored.Size()) * 8, true
	case *Bitfield:
		return int64(t.Width), true
	case *String:
		if t.MaxBytes > 0 && (t.Padded || t.Terminator == NoTerminator) {
			return int64(t.MaxBytes) * 8, true
		}
	case *Struct:
		var total int64
		for _, f := range t.Fields {
			b, ok := staticBits(f.Type)
			if !ok {
				return 0, false
			}
			if _, bit := f.Type.(*Bitfield); !bit {
				total = alignBits(total)
			}
			total += b
		}
		return alignBits(total), true
	case *Union:
		var max int64
		for _, f := range t.Fields {
			b, ok := staticBits(f.Type)
			if !ok {
				return 0, false
			}
			if b > max {
				max = b
			}
		}
		return alignBits(max), true
	case *Array:
		if t.Until != nil {
			return 0, false
		}
		n, ok := t.Length.Literal()
		if !ok {
			return 0, false
		}
		b, ok := staticBits(t.Elem)
		if !ok {
			return 0, false
		}
		if _, bit := t.Elem.(*Bitfield); bit {
			return n * b, true
		}
		return n * alignBits(b), true
	}
	return 0, false
}
