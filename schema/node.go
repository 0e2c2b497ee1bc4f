// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// TargetName is the name given to the node a pointer refers to.
const TargetName = "*"

// Node is one decoded field. A Node is only handed out once the subtree it
// roots has been laid out; pointer targets may be materialized later, see
// Target.
type Node struct {
	name   string
	typ    Type
	offset int64
	bitOff uint8
	bits   int64
	parent *Node
	root   *Node
	src    Source

	value    any
	children []*Node
	index    map[string]int
	selected string
	err      error

	ptr *pointerState
}

type pointerState struct {
	sess     *session
	depth    int
	once     sync.Once
	resolved atomic.Bool
	target   *Node
	err      error
}

func newNode(name string, t Type, parent *Node, src Source) *Node {
	n := &Node{name: name, typ: t, parent: parent, src: src}
	if parent != nil {
		n.root = parent.root
	} else {
		n.root = n
	}
	return n
}

func (n *Node) addChild(c *Node) {
	if _, isArray := n.typ.(*Array); !isArray {
		if n.index == nil {
			n.index = make(map[string]int)
		}
		n.index[c.name] = len(n.children)
	}
	n.children = append(n.children, c)
}

// Name returns the field name. Array elements are named "[i]"; pointer
// targets are named TargetName.
func (n *Node) Name() string { return n.name }

// Type returns the descriptor n was decoded from.
func (n *Node) Type() Type { return n.typ }

// Kind returns n's Type kind.
func (n *Node) Kind() Kind { return n.typ.Kind() }

// Offset returns the byte offset of n in the source.
func (n *Node) Offset() int64 { return n.offset }

// BitOffset returns the bit position of n within the byte at Offset. It is
// only non-zero for bitfields.
func (n *Node) BitOffset() int { return int(n.bitOff) }

// BitSize returns the size of n in bits.
func (n *Node) BitSize() int64 { return n.bits }

// Size returns the number of bytes n touches.
func (n *Node) Size() int64 {
	return alignBits(int64(n.bitOff)+n.bits) / 8
}

// End returns the offset just past n.
func (n *Node) End() int64 { return n.offset + n.Size() }

// Parent returns the enclosing node. The parent of a pointer target is the
// pointer.
func (n *Node) Parent() *Node {
	if n == nil {
		return nil
	}
	return n.parent
}

// Root returns the document root.
func (n *Node) Root() *Node {
	if n == nil {
		return nil
	}
	return n.root
}

// Err returns the diagnostic recorded while decoding n, if any. For a
// pointer this includes failures to locate its target once resolved.
func (n *Node) Err() error {
	if n.err != nil {
		return n.err
	}
	if n.ptr != nil && n.ptr.resolved.Load() {
		return n.ptr.err
	}
	return nil
}

// Valid reports whether n decoded without a diagnostic.
func (n *Node) Valid() bool { return n.Err() == nil }

// Children returns n's children in decode order.
func (n *Node) Children() []*Node { return n.children }

// Len returns the number of children.
func (n *Node) Len() int { return len(n.children) }

// Index returns the i'th child, or nil.
func (n *Node) Index(i int) *Node {
	if i < 0 || i >= len(n.children) {
		return nil
	}
	return n.children[i]
}

// Child returns the child called name. Looking up a child of a pointer looks
// it up in the pointer's target.
func (n *Node) Child(name string) (*Node, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: %q on nil node", ErrFieldNotFound, name)
	}
	if n.ptr != nil {
		t := n.Target()
		if t == nil {
			return nil, n.noTarget()
		}
		if name == TargetName {
			return t, nil
		}
		return t.Child(name)
	}
	if _, isArray := n.typ.(*Array); isArray {
		if i, ok := parseIndex(name); ok && i < len(n.children) {
			return n.children[i], nil
		}
		return nil, fmt.Errorf("%w: %s%s", ErrFieldNotFound, n.Path(), name)
	}
	if i, ok := n.index[name]; ok {
		return n.children[i], nil
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrFieldNotFound, n.Path(), name)
}

func parseIndex(name string) (int, bool) {
	if !strings.HasPrefix(name, "[") || !strings.HasSuffix(name, "]") {
		return 0, false
	}
	i, err := strconv.Atoi(name[1 : len(name)-1])
	return i, err == nil && i >= 0
}

func (n *Node) noTarget() error {
	if err := n.Err(); err != nil {
		return fmt.Errorf("%w: %s has no target: %w", ErrFieldNotFound, n.Path(), err)
	}
	return fmt.Errorf("%w: %s has no target", ErrFieldNotFound, n.Path())
}

// Lookup follows path from n through Child.
func (n *Node) Lookup(path ...string) (*Node, error) {
	cur := n
	for _, name := range path {
		next, err := cur.Child(name)
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

// Path returns the slash-separated names from the root to n.
func (n *Node) Path() string {
	if n == nil {
		return "<nil>"
	}
	var parts []string
	for cur := n; cur != nil && cur.parent != nil; cur = cur.parent {
		parts = append(parts, cur.name)
	}
	var b strings.Builder
	for i := len(parts) - 1; i >= 0; i-- {
		if !strings.HasPrefix(parts[i], "[") {
			b.WriteByte('/')
		}
		b.WriteString(parts[i])
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

// Value returns the decoded value of a leaf: uint64, int64, float64, bool or
// string. It is nil for composites and for leaves that failed to decode.
func (n *Node) Value() any { return n.value }

// Uint returns n's value as an unsigned integer.
func (n *Node) Uint() (uint64, error) {
	if n == nil {
		return 0, ErrFieldNotFound
	}
	if n.err != nil && n.value == nil {
		return 0, fmt.Errorf("%s: %w", n.Path(), n.err)
	}
	switch v := n.value.(type) {
	case uint64:
		return v, nil
	case nil:
		return 0, fmt.Errorf("%w: %s", ErrNoValue, n.Path())
	}
	return 0, fmt.Errorf("%w: %s is %T", ErrNotUnsigned, n.Path(), n.value)
}

// Int returns n's value as a signed integer.
func (n *Node) Int() (int64, error) {
	if n == nil {
		return 0, ErrFieldNotFound
	}
	switch v := n.value.(type) {
	case int64:
		return v, nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("%s: %d overflows int64", n.Path(), v)
		}
		return int64(v), nil
	case nil:
		if n.err != nil {
			return 0, fmt.Errorf("%s: %w", n.Path(), n.err)
		}
		return 0, fmt.Errorf("%w: %s", ErrNoValue, n.Path())
	}
	return 0, fmt.Errorf("%s: %T is not an integer", n.Path(), n.value)
}

// Float returns n's value as a float.
func (n *Node) Float() (float64, bool) {
	v, ok := n.value.(float64)
	return v, ok
}

// Bool returns n's value as a bool.
func (n *Node) Bool() (bool, bool) {
	v, ok := n.value.(bool)
	return v, ok
}

// Text returns the decoded text of a string or character node.
func (n *Node) Text() string {
	s, _ := n.value.(string)
	return s
}

// Bytes returns the raw bytes n occupies in the source.
func (n *Node) Bytes() ([]byte, error) {
	size := n.Size()
	if n.offset < 0 || n.offset+size > n.src.Size() {
		return nil, fmt.Errorf("%w: %s [%d, %d)", ErrOutOfRange, n.Path(), n.offset, n.offset+size)
	}
	buf := make([]byte, size)
	if _, err := n.src.ReadAt(buf, n.offset); err != nil {
		return nil, err
	}
	return buf, nil
}

// Label returns the symbolic form of an Enum or Flags value. Flags labels
// are joined with " | "; unlabeled bits are appended in hex.
func (n *Node) Label() string {
	v, ok := n.value.(uint64)
	if !ok {
		if i, isInt := n.value.(int64); isInt {
			v = uint64(i)
		} else {
			return ""
		}
	}
	switch t := n.typ.(type) {
	case *Enum:
		l, _ := t.Symbols.Label(v)
		return l
	case *Flags:
		labels, rest := t.Symbols.Flags(v)
		if rest != 0 {
			labels = append(labels, fmt.Sprintf("0x%X", rest))
		}
		return strings.Join(labels, " | ")
	}
	return ""
}

// Selected returns the name of the alternative a TaggedUnion decoded, or ""
// for the default fields.
func (n *Node) Selected() string { return n.selected }

// Present reports whether a pointer has a target to decode. It is false only
// for optional pointers holding zero.
func (n *Node) Present() bool {
	p, ok := n.typ.(*Pointer)
	if !ok || n.ptr == nil {
		return false
	}
	if p.Optional {
		v, _ := n.value.(uint64)
		return v != 0
	}
	return n.value != nil
}

// Target returns the node a pointer refers to, decoding it first if the
// pointer was decoded lazily. It returns nil for non-pointers, absent
// optional pointers, and targets that could not be located.
func (n *Node) Target() *Node {
	if n == nil || n.ptr == nil {
		return nil
	}
	if n.ptr.resolved.Load() {
		return n.ptr.target
	}
	n.ptr.once.Do(func() {
		d := newDecoder(n.ptr.sess)
		d.decodeTarget(n)
		d.drain()
	})
	return n.ptr.target
}

// Resolved reports whether a pointer's target has been materialized.
func (n *Node) Resolved() bool {
	return n.ptr != nil && n.ptr.resolved.Load()
}

func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s %s @0x%X+%d", n.Path(), n.typ.Kind(), n.offset, n.Size())
}
