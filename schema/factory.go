// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package schema

// Factory constructs Type descriptors. Schemas are written against this
// interface only, so a host may supply its own descriptors; Std builds the
// ones Decode understands.
type Factory interface {
	Primitive(p Prim) Type
	Bitfield(kind BitKind, width int) Type
	String(enc Encoding, opts ...StringOption) Type
	Struct(fields ...Field) Type
	Union(fields ...Field) Type
	Array(elem Type, n Length) Type
	// ArrayUntil decodes elements until stop holds for the element just
	// decoded, or max elements have been decoded.
	ArrayUntil(elem Type, stop Predicate, max int) Type
	Pointer(stored Prim, target Type, opts ...PointerOption) Type
	Enum(name string, base Prim, syms *Symbols) Type
	Flags(name string, base Prim, syms *Symbols) Type
	TaggedUnion(common []Field, alts []Alternative, def []Field) Type
	Alternative(when Predicate, fields []Field, name string) Alternative
}

// Builder is the Factory for this package's own descriptors.
type Builder struct{}

// Std is the standard Factory.
var Std Factory = Builder{}

// StringOption configures a String built by a Factory.
type StringOption func(*String)

// MaxBytes caps a string at n bytes.
func MaxBytes(n int) StringOption {
	return func(s *String) { s.MaxBytes = n }
}

// TerminatedBy sets the terminating code unit. The default is 0.
func TerminatedBy(unit int) StringOption {
	return func(s *String) { s.Terminator = unit }
}

// WithoutTerminator makes a string run to its byte cap.
func WithoutTerminator() StringOption {
	return func(s *String) { s.Terminator = NoTerminator }
}

// Padded makes a string occupy its full byte cap even when its text is
// terminated earlier.
func Padded() StringOption {
	return func(s *String) { s.Padded = true }
}

// PointerOption configures a Pointer built by a Factory.
type PointerOption func(*Pointer)

// Scale multiplies the stored value before translation.
func Scale(n uint64) PointerOption {
	return func(p *Pointer) { p.Scale = n }
}

// WithTranslator maps stored addresses to source offsets through tr.
func WithTranslator(tr Translator) PointerOption {
	return func(p *Pointer) { p.Translate = tr }
}

// Optional makes a stored zero mean "no target".
func Optional() PointerOption {
	return func(p *Pointer) { p.Optional = true }
}

func (Builder) Primitive(p Prim) Type { return &Primitive{Prim: p} }

func (Builder) Bitfield(kind BitKind, width int) Type {
	return &Bitfield{Bits: kind, Width: width}
}

func (Builder) String(enc Encoding, opts ...StringOption) Type {
	s := &String{Encoding: enc}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (Builder) Struct(fields ...Field) Type { return &Struct{Fields: fields} }

func (Builder) Union(fields ...Field) Type { return &Union{Fields: fields} }

func (Builder) Array(elem Type, n Length) Type {
	return &Array{Elem: elem, Length: n}
}

func (Builder) ArrayUntil(elem Type, stop Predicate, max int) Type {
	return &Array{Elem: elem, Until: stop, Max: max}
}

func (Builder) Pointer(stored Prim, target Type, opts ...PointerOption) Type {
	p := &Pointer{Stored: stored, Target: target, Scale: 1}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (Builder) Enum(name string, base Prim, syms *Symbols) Type {
	return &Enum{Name: name, Base: base, Symbols: syms}
}

func (Builder) Flags(name string, base Prim, syms *Symbols) Type {
	return &Flags{Name: name, Base: base, Symbols: syms}
}

func (Builder) TaggedUnion(common []Field, alts []Alternative, def []Field) Type {
	return &TaggedUnion{Common: common, Alternatives: alts, Default: def}
}

func (Builder) Alternative(when Predicate, fields []Field, name string) Alternative {
	return Alternative{When: when, Fields: fields, Name: name}
}
