// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package schema

import (
	"fmt"
	"strings"
)

// Context is the environment an expression is evaluated in: the node being
// decoded, and through it its ancestors and the document root. Only nodes
// that precede the current one in decode order are populated.
//
// Lookups through a pointer whose target is still being laid out see that
// target as decoded so far.
type Context struct {
	self *Node
	d    *decoder
}

// ContextOf returns the Context whose Self is n.
func ContextOf(n *Node) Context {
	return Context{self: n}
}

// Self returns the node currently being decoded.
func (c Context) Self() *Node { return c.self }

// Parent returns Self's parent, or nil at the root.
func (c Context) Parent() *Node { return c.self.Parent() }

// Root returns the document root.
func (c Context) Root() *Node { return c.self.Root() }

// Up returns the ancestor levels above Self; Up(0) is Self.
func (c Context) Up(levels int) *Node {
	n := c.self
	for i := 0; i < levels && n != nil; i++ {
		n = n.Parent()
	}
	return n
}

// Field resolves path relative to Self.
func (c Context) Field(path ...string) (*Node, error) {
	return c.lookup(c.self, path)
}

// RootField resolves path relative to the document root.
func (c Context) RootField(path ...string) (*Node, error) {
	return c.lookup(c.Root(), path)
}

func (c Context) lookup(n *Node, path []string) (*Node, error) {
	cur := n
	for _, name := range path {
		next, err := c.child(cur, name)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	if cur == nil {
		return nil, fmt.Errorf("%w: nil node", ErrFieldNotFound)
	}
	return cur, nil
}

func (c Context) child(n *Node, name string) (*Node, error) {
	if c.d == nil || n == nil || n.ptr == nil {
		return n.Child(name)
	}
	t := c.d.follow(n)
	if t == nil {
		return nil, n.noTarget()
	}
	if name == TargetName {
		return t, nil
	}
	return c.child(t, name)
}

// Ref names a field relative to the node an expression is evaluated for:
// Up levels towards the root, then down Path.
type Ref struct {
	Up   int
	Path []string
}

// FieldRef builds a Ref.
func FieldRef(up int, path ...string) Ref {
	return Ref{Up: up, Path: path}
}

func (r Ref) String() string {
	var b strings.Builder
	for i := 0; i < r.Up; i++ {
		b.WriteString("../")
	}
	b.WriteString(strings.Join(r.Path, "/"))
	return b.String()
}

// Node resolves r in c.
func (r Ref) Node(c Context) (*Node, error) {
	base := c.Up(r.Up)
	if base == nil {
		return nil, fmt.Errorf("%w: %s has no ancestor %d levels up", ErrFieldNotFound, c.self.Path(), r.Up)
	}
	return c.lookup(base, r.Path)
}

// Uint resolves r in c and returns its unsigned value.
func (r Ref) Uint(c Context) (uint64, error) {
	n, err := r.Node(c)
	if err != nil {
		return 0, err
	}
	return n.Uint()
}

// Expr computes an integer from a Context.
type Expr func(c Context) (int64, error)

// Predicate computes a condition from a Context.
type Predicate func(c Context) (bool, error)

type lengthKind uint8

const (
	lengthLiteral lengthKind = iota
	lengthRef
	lengthComputed
)

// Length is an element count: a literal, the value of a referenced field,
// or a computed expression.
type Length struct {
	kind lengthKind
	lit  int64
	ref  Ref
	expr Expr
}

// Literal is a constant Length.
func Literal(n int64) Length {
	return Length{kind: lengthLiteral, lit: n}
}

// CountOf is a Length read from the unsigned field r refers to.
func CountOf(r Ref) Length {
	return Length{kind: lengthRef, ref: r}
}

// Computed is a Length produced by e.
func Computed(e Expr) Length {
	return Length{kind: lengthComputed, expr: e}
}

// Literal returns the constant value of l, if it has one.
func (l Length) Literal() (int64, bool) {
	return l.lit, l.kind == lengthLiteral
}

// Ref returns the field l is read from, if any.
func (l Length) Ref() (Ref, bool) {
	return l.ref, l.kind == lengthRef
}

// Eval computes l in c.
func (l Length) Eval(c Context) (int64, error) {
	switch l.kind {
	case lengthLiteral:
		return l.lit, nil
	case lengthRef:
		v, err := l.ref.Uint(c)
		if err != nil {
			return 0, err
		}
		if v > maxLength {
			return maxLength, nil
		}
		return int64(v), nil
	case lengthComputed:
		if l.expr == nil {
			return 0, fmt.Errorf("%w: nil length expression", ErrInvalidSchema)
		}
		return l.expr(c)
	}
	return 0, fmt.Errorf("%w: unknown length kind %d", ErrInvalidSchema, l.kind)
}

func (l Length) String() string {
	switch l.kind {
	case lengthLiteral:
		return fmt.Sprint(l.lit)
	case lengthRef:
		return l.ref.String()
	}
	return "<computed>"
}

// maxLength keeps counts read from data representable as int64.
const maxLength = 1<<62 - 1

// Equals holds when the unsigned field r equals v.
func Equals(r Ref, v uint64) Predicate {
	return func(c Context) (bool, error) {
		got, err := r.Uint(c)
		if err != nil {
			return false, err
		}
		return got == v, nil
	}
}

// AnyBits holds when the unsigned field r has any bit of mask set.
func AnyBits(r Ref, mask uint64) Predicate {
	return func(c Context) (bool, error) {
		got, err := r.Uint(c)
		if err != nil {
			return false, err
		}
		return got&mask != 0, nil
	}
}

// NonZero holds when the unsigned field r is not zero.
func NonZero(r Ref) Predicate {
	return AnyBits(r, ^uint64(0))
}

// IsZero holds when the unsigned field r is zero.
func IsZero(r Ref) Predicate {
	return Equals(r, 0)
}

// TextEquals holds when the string field r decodes to s.
func TextEquals(r Ref, s string) Predicate {
	return func(c Context) (bool, error) {
		n, err := r.Node(c)
		if err != nil {
			return false, err
		}
		if err := n.Err(); err != nil {
			return false, err
		}
		return n.Text() == s, nil
	}
}
