// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package schema

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// Validate checks a schema rooted at t before any data is decoded. It
// reports malformed descriptors, duplicate field names, and CountOf lengths
// whose Ref cannot name a field in the declared layout. Refs hidden inside
// computed expressions and predicates are only checked when decoding.
func Validate(t Type) error {
	v := &validator{}
	v.visit(t, nil, "")
	return errors.Join(v.errs...)
}

// ValidateDefinition is Validate for a registered schema.
func ValidateDefinition(def Definition) error {
	if def.LockOffset < 0 {
		return fmt.Errorf("%w: negative lock offset %d", ErrInvalidSchema, def.LockOffset)
	}
	return Validate(def.Root)
}

type validator struct {
	errs []error
}

func (v *validator) errorf(path, format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf("%w: %s: %s", ErrInvalidSchema, displayPath(path), fmt.Sprintf(format, args...)))
}

func displayPath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

// visit checks t, whose decoded node would sit below the types in scope.
// scope holds the types of the enclosing nodes, outermost first.
func (v *validator) visit(t Type, scope []Type, path string) {
	if t == nil {
		v.errorf(path, "nil type")
		return
	}
	if slices.Contains(scope, t) {
		// A pointer cycle; the decoder bounds it with MaxPointerDepth.
		return
	}
	scope = append(scope, t)

	switch t := t.(type) {
	case *Primitive:
		if t.Prim.Size() == 0 {
			v.errorf(path, "invalid primitive %v", t.Prim)
		}
	case *Bitfield:
		if t.Width <= 0 || t.Width > 64 {
			v.errorf(path, "bitfield width %d", t.Width)
		}
	case *String:
		if t.MaxBytes < 0 {
			v.errorf(path, "negative byte cap %d", t.MaxBytes)
		}
		if t.Padded && t.MaxBytes == 0 {
			v.errorf(path, "padded string without byte cap")
		}
		if textDecoder(t.Encoding) == nil && t.Encoding != ASCII {
			v.errorf(path, "unknown encoding %v", t.Encoding)
		}
	case *Enum:
		v.checkSymbolic(path, t.Base, t.Symbols)
	case *Flags:
		v.checkSymbolic(path, t.Base, t.Symbols)
	case *Struct:
		v.checkNames(path, t.Fields)
		v.visitFields(path, scope, t.Fields)
	case *Union:
		v.checkNames(path, t.Fields)
		v.visitFields(path, scope, t.Fields)
	case *TaggedUnion:
		for i, alt := range t.Alternatives {
			if alt.When == nil {
				v.errorf(path, "alternative %d has no predicate", i)
			}
			v.checkNames(path, concat(t.Common, alt.Fields))
		}
		v.checkNames(path, concat(t.Common, t.Default))
		v.visitFields(path, scope, t.Common)
		for _, alt := range t.Alternatives {
			v.visitFields(path, scope, alt.Fields)
		}
		v.visitFields(path, scope, t.Default)
	case *Array:
		if t.Until == nil {
			if n, ok := t.Length.Literal(); ok && n < 0 {
				v.errorf(path, "negative length %d", n)
			}
			if r, ok := t.Length.Ref(); ok {
				v.checkRef(path, scope, r)
			}
		}
		v.visit(t.Elem, scope, path+"[]")
	case *Pointer:
		if !t.Stored.Unsigned() {
			v.errorf(path, "pointer stored as %v", t.Stored)
		}
		v.visit(t.Target, scope, path+"/"+TargetName)
	default:
		v.errorf(path, "unsupported type %T", t)
	}
}

func concat(a, b []Field) []Field {
	out := make([]Field, 0, len(a)+len(b))
	return append(append(out, a...), b...)
}

func (v *validator) checkSymbolic(path string, base Prim, syms *Symbols) {
	if !base.Integral() {
		v.errorf(path, "symbolic type over %v", base)
	}
	if syms == nil {
		v.errorf(path, "nil symbol table")
	}
}

func (v *validator) checkNames(path string, fields []Field) {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.Name == "" || f.Name == TargetName || strings.HasPrefix(f.Name, "[") {
			v.errorf(path, "invalid field name %q", f.Name)
		}
		if seen[f.Name] {
			v.errorf(path, "duplicate field %q", f.Name)
		}
		seen[f.Name] = true
	}
}

func (v *validator) visitFields(path string, scope []Type, fields []Field) {
	for _, f := range fields {
		v.visit(f.Type, scope, path+"/"+f.Name)
	}
}

// checkRef resolves r against the declared layout. The last element of
// scope is the array the Ref belongs to.
func (v *validator) checkRef(path string, scope []Type, r Ref) {
	if r.Up < 0 || r.Up >= len(scope) {
		v.errorf(path, "length %s climbs above the root", r)
		return
	}
	cur := scope[len(scope)-1-r.Up]
	for _, name := range r.Path {
		next, ok := declaredChild(cur, name)
		if !ok {
			v.errorf(path, "length %s: no field %q", r, name)
			return
		}
		cur = next
	}
	switch t := cur.(type) {
	case *Primitive:
		if !t.Prim.Unsigned() {
			v.errorf(path, "length %s is %v, not unsigned", r, t.Prim)
		}
	case *Enum, *Flags, *Pointer:
	case *Bitfield:
		if t.Bits != BitUnsigned {
			v.errorf(path, "length %s is not an unsigned bitfield", r)
		}
	default:
		v.errorf(path, "length %s is a %v", r, cur.Kind())
	}
}

// declaredChild mirrors Node.Child over descriptors.
func declaredChild(t Type, name string) (Type, bool) {
	var fields []Field
	switch t := t.(type) {
	case *Pointer:
		if name == TargetName {
			return t.Target, t.Target != nil
		}
		return declaredChild(t.Target, name)
	case *Array:
		if _, ok := parseIndex(name); ok {
			return t.Elem, true
		}
		return nil, false
	case *Struct:
		fields = t.Fields
	case *Union:
		fields = t.Fields
	case *TaggedUnion:
		fields = concat(t.Common, t.Default)
		for _, alt := range t.Alternatives {
			fields = append(fields, alt.Fields...)
		}
	}
	i := slices.IndexFunc(fields, func(f Field) bool { return f.Name == name })
	if i < 0 {
		return nil, false
	}
	return fields[i].Type, true
}
