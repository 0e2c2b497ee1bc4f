// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package schema

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"golang.org/x/exp/slices"

	"github.com/dblohm7/pestruct/internal/logging"
)

// Options controls a decode pass.
type Options struct {
	// ByteOrder for multi-byte primitives. Nil means little endian.
	ByteOrder binary.ByteOrder
	// Lazy defers decoding pointer targets until Node.Target is called.
	Lazy bool
	// MaxArrayLength caps element counts; longer arrays are truncated and
	// flagged with ErrArrayTooLong.
	MaxArrayLength int
	// MaxPointerDepth caps how many pointers may be followed in a chain.
	MaxPointerDepth int
	// MaxNodes caps the nodes one decode pass may create, pointer targets
	// included. Once spent, arrays stop growing and pointers stay
	// unresolved, flagged with ErrBudgetExceeded.
	MaxNodes int
	// Logger receives debug output. Nil means logging.Default().
	Logger *log.Logger
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		ByteOrder:       binary.LittleEndian,
		MaxArrayLength:  1 << 20,
		MaxPointerDepth: 32,
		MaxNodes:        1 << 20,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ByteOrder == nil {
		o.ByteOrder = def.ByteOrder
	}
	if o.MaxArrayLength <= 0 {
		o.MaxArrayLength = def.MaxArrayLength
	}
	if o.MaxPointerDepth <= 0 {
		o.MaxPointerDepth = def.MaxPointerDepth
	}
	if o.MaxNodes <= 0 {
		o.MaxNodes = def.MaxNodes
	}
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
	return o
}

// Definition is a registered schema: its root type and the offset at which
// decoding begins.
type Definition struct {
	Root       Type
	LockOffset int64
}

// Decode decodes def.Root at def.LockOffset.
func Decode(def Definition, src Source, opts Options) *Node {
	return DecodeAt(def.Root, src, def.LockOffset, opts)
}

// DecodeAt decodes t at byte offset off of src. It never fails; problems
// are recorded on the nodes they concern. Unless opts.Lazy is set, every
// reachable pointer target has been decoded when DecodeAt returns.
func DecodeAt(t Type, src Source, off int64, opts Options) *Node {
	s := &session{src: src, opts: opts.withDefaults()}
	d := newDecoder(s)
	root := newNode("", t, nil, src)
	d.decode(root, off*8)
	d.drain()
	return root
}

// session is the state shared by every decoder working on one tree.
type session struct {
	src   Source
	opts  Options
	nodes atomic.Int64
}

// spend charges one node to the session and reports whether it was within
// budget.
func (s *session) spend() bool {
	return s.nodes.Add(1) <= int64(s.opts.MaxNodes)
}

func (s *session) exhausted() bool {
	return s.nodes.Load() >= int64(s.opts.MaxNodes)
}

// decoder lays out nodes. Pointers it meets are queued so their targets
// are decoded only after the layout that contains them is complete.
type decoder struct {
	s       *session
	depth   int
	pending []*Node
	// active holds the pointers whose targets are being laid out, outermost
	// first.
	active []*Node
}

func newDecoder(s *session) *decoder {
	return &decoder{s: s}
}

func (d *decoder) log() *log.Logger { return d.s.opts.Logger }

func (d *decoder) fail(n *Node, err error) {
	if n.err == nil {
		n.err = err
	}
	d.log().Debug("decode diagnostic",
		logging.FieldPath, n.Path(),
		logging.FieldOffset, n.offset,
		logging.FieldError, err)
}

// drain resolves queued pointers in FIFO order, including those queued
// while resolving.
func (d *decoder) drain() {
	for len(d.pending) > 0 {
		p := d.pending[0]
		d.pending = d.pending[1:]
		p.ptr.once.Do(func() { d.decodeTarget(p) })
	}
}

// follow returns p's target for expression lookups. A target this decoder
// is laying out is returned as it stands; any other is resolved first.
func (d *decoder) follow(p *Node) *Node {
	if p.Resolved() || slices.Contains(d.active, p) {
		return p.ptr.target
	}
	p.ptr.once.Do(func() {
		nd := &decoder{s: p.ptr.sess, active: slices.Clone(d.active)}
		nd.decodeTarget(p)
		nd.drain()
	})
	return p.ptr.target
}

func (d *decoder) child(parent *Node, name string, t Type) *Node {
	d.s.spend()
	c := newNode(name, t, parent, d.s.src)
	parent.addChild(c)
	return c
}

// decode lays out n starting at bit position pos and returns the bit
// position just past it.
func (d *decoder) decode(n *Node, pos int64) int64 {
	if _, bit := n.typ.(*Bitfield); !bit {
		pos = alignBits(pos)
	}
	n.offset = pos / 8
	n.bitOff = uint8(pos % 8)

	switch t := n.typ.(type) {
	case *Primitive:
		d.decodePrimitive(n, t.Prim)
	case *Enum:
		d.decodePrimitive(n, t.Base)
	case *Flags:
		d.decodePrimitive(n, t.Base)
	case *Bitfield:
		n.bits = int64(t.Width)
		v, err := readBits(d.s.src, pos, t.Width)
		if err != nil {
			d.fail(n, err)
			break
		}
		n.value = decodeBitfield(t, v)
	case *String:
		d.decodeString(n, t)
	case *Struct:
		end := d.decodeSequence(n, t.Fields, pos)
		n.bits = alignBits(end - pos)
	case *Union:
		end := pos
		for _, f := range t.Fields {
			c := d.child(n, f.Name, f.Type)
			if e := d.decode(c, pos); e > end {
				end = e
			}
		}
		n.bits = alignBits(end - pos)
	case *TaggedUnion:
		end := d.decodeTagged(n, t, pos)
		n.bits = alignBits(end - pos)
	case *Array:
		end := d.decodeArray(n, t, pos)
		n.bits = end - pos
	case *Pointer:
		d.decodePointer(n, t)
	default:
		d.fail(n, fmt.Errorf("%w: unsupported type %T", ErrInvalidSchema, n.typ))
	}
	return pos + n.bits
}

func (d *decoder) decodePrimitive(n *Node, p Prim) {
	size := p.Size()
	n.bits = int64(size) * 8
	if size == 0 {
		d.fail(n, fmt.Errorf("%w: invalid primitive %v", ErrInvalidSchema, p))
		return
	}
	buf, err := readAt(d.s.src, n.offset, size)
	if err != nil {
		d.fail(n, err)
		return
	}
	n.value = decodePrim(p, buf, d.s.opts.ByteOrder)
}

func (d *decoder) decodeString(n *Node, t *String) {
	raw, size, err := scanString(d.s.src, n.offset, t)
	n.bits = size * 8
	if raw != nil {
		text, derr := decodeText(t.Encoding, raw)
		if derr == nil {
			n.value = text
		} else if err == nil {
			err = derr
		}
	}
	if err != nil {
		d.fail(n, err)
	}
}

func (d *decoder) decodeSequence(n *Node, fields []Field, pos int64) int64 {
	for _, f := range fields {
		c := d.child(n, f.Name, f.Type)
		pos = d.decode(c, pos)
	}
	return pos
}

func (d *decoder) decodeTagged(n *Node, t *TaggedUnion, pos int64) int64 {
	pos = d.decodeSequence(n, t.Common, pos)
	ctx := Context{self: n, d: d}
	for i, alt := range t.Alternatives {
		if alt.When == nil {
			continue
		}
		ok, err := alt.When(ctx)
		if err != nil {
			d.fail(n, fmt.Errorf("alternative %d: %w", i, err))
			continue
		}
		if ok {
			n.selected = alt.Name
			if n.selected == "" {
				n.selected = fmt.Sprintf("#%d", i)
			}
			return d.decodeSequence(n, alt.Fields, pos)
		}
	}
	return d.decodeSequence(n, t.Default, pos)
}

func (d *decoder) decodeArray(n *Node, t *Array, pos int64) int64 {
	start := pos
	limit := d.s.opts.MaxArrayLength
	srcBits := d.s.src.Size() * 8

	if t.Until != nil {
		max := t.Max
		if max <= 0 || max > limit {
			max = limit
		}
		for i := 0; ; i++ {
			if i == max {
				d.fail(n, fmt.Errorf("%w: no terminator within %d elements", ErrArrayTooLong, max))
				break
			}
			if pos >= srcBits {
				d.fail(n, fmt.Errorf("%w: unterminated array", ErrOutOfRange))
				break
			}
			if d.s.exhausted() {
				d.fail(n, fmt.Errorf("%w: %d elements decoded", ErrBudgetExceeded, i))
				break
			}
			el := d.child(n, indexName(i), t.Elem)
			pos = d.decode(el, pos)
			stop, err := t.Until(Context{self: el, d: d})
			if err != nil {
				d.fail(n, err)
				break
			}
			if stop {
				break
			}
		}
		return pos
	}

	count, err := t.Length.Eval(Context{self: n, d: d})
	if err != nil {
		d.fail(n, fmt.Errorf("length %s: %w", t.Length, err))
		return start
	}
	if count < 0 {
		d.fail(n, fmt.Errorf("%w: length %s = %d", ErrLengthUnderflow, t.Length, count))
		return start
	}
	if count > int64(limit) {
		d.log().Debug("clamping array",
			logging.FieldPath, n.Path(),
			logging.FieldLength, count,
			logging.FieldLimit, limit)
		d.fail(n, fmt.Errorf("%w: %d > %d", ErrArrayTooLong, count, limit))
		count = int64(limit)
	}
	for i := int64(0); i < count; i++ {
		var err error
		switch {
		case pos >= srcBits:
			err = fmt.Errorf("%w: %d of %d elements decoded", ErrOutOfRange, i, count)
		case d.s.exhausted():
			err = fmt.Errorf("%w: %d of %d elements decoded", ErrBudgetExceeded, i, count)
		}
		if err != nil {
			d.fail(n, err)
			if b, ok := staticBits(t.Elem); ok {
				if _, bit := t.Elem.(*Bitfield); !bit {
					b = alignBits(b)
				}
				return start + count*b
			}
			break
		}
		el := d.child(n, indexName(i), t.Elem)
		pos = d.decode(el, pos)
	}
	return pos
}

func indexName[I int | int64](i I) string {
	return fmt.Sprintf("[%d]", i)
}

func (d *decoder) decodePointer(n *Node, t *Pointer) {
	n.ptr = &pointerState{sess: d.s, depth: d.depth + 1}
	if !t.Stored.Unsigned() {
		n.bits = int64(t.Stored.Size()) * 8
		d.fail(n, fmt.Errorf("%w: pointer stored as %v", ErrInvalidSchema, t.Stored))
		return
	}
	d.decodePrimitive(n, t.Stored)
	if n.value == nil {
		return
	}
	if !d.s.opts.Lazy {
		d.pending = append(d.pending, n)
	}
}

// failTarget records a diagnostic for a pointer whose target could not be
// decoded. It is kept apart from the pointer's own diagnostic so a lazily
// resolved pointer never mutates a published field.
func (d *decoder) failTarget(n *Node, err error) {
	n.ptr.err = err
	d.log().Debug("pointer diagnostic",
		logging.FieldPath, n.Path(),
		logging.FieldError, err)
}

// decodeTarget decodes the target of pointer node n. It must only run under
// n.ptr.once.
func (d *decoder) decodeTarget(n *Node) {
	defer n.ptr.resolved.Store(true)

	t := n.typ.(*Pointer)
	stored, ok := n.value.(uint64)
	if !ok {
		return
	}
	if t.Optional && stored == 0 {
		return
	}
	if n.ptr.depth > d.s.opts.MaxPointerDepth {
		d.failTarget(n, fmt.Errorf("%w: %d", ErrDepthExceeded, n.ptr.depth))
		return
	}
	if !d.s.spend() {
		d.failTarget(n, fmt.Errorf("%w: %d nodes", ErrBudgetExceeded, d.s.opts.MaxNodes))
		return
	}

	scale := t.Scale
	if scale == 0 {
		scale = 1
	}
	addr := stored * scale
	off := addr
	if t.Translate != nil {
		var err error
		off, err = t.Translate(Context{self: n, d: d}, addr)
		if err != nil {
			if !errors.Is(err, ErrUnresolvedAddress) {
				err = fmt.Errorf("%w: 0x%X: %v", ErrUnresolvedAddress, addr, err)
			}
			d.failTarget(n, err)
			return
		}
	}
	if off > math.MaxInt64/8 {
		d.failTarget(n, fmt.Errorf("%w: offset 0x%X", ErrOutOfRange, off))
		return
	}

	d.log().Debug("resolving pointer",
		logging.FieldPath, n.Path(),
		logging.FieldAddress, addr,
		logging.FieldOffset, off,
		logging.FieldKind, t.Target.Kind())

	target := newNode(TargetName, t.Target, n, d.s.src)
	n.ptr.target = target
	saved := d.depth
	d.depth = n.ptr.depth
	d.active = append(d.active, n)
	d.decode(target, int64(off)*8)
	d.active = d.active[:len(d.active)-1]
	d.depth = saved
}
