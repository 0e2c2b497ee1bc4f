// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package schema

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dblohm7/pestruct/internal/logging"
)

var (
	u8  = Std.Primitive(UInt8)
	u16 = Std.Primitive(UInt16)
	u32 = Std.Primitive(UInt32)
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.Logger = logging.Discard()
	return opts
}

func decode(t *testing.T, typ Type, data []byte) *Node {
	t.Helper()
	require.NoError(t, Validate(typ))
	return DecodeAt(typ, Bytes(data), 0, testOptions())
}

func mustLookup(t *testing.T, n *Node, path ...string) *Node {
	t.Helper()
	c, err := n.Lookup(path...)
	require.NoError(t, err)
	return c
}

func mustUint(t *testing.T, n *Node, path ...string) uint64 {
	t.Helper()
	v, err := mustLookup(t, n, path...).Uint()
	require.NoError(t, err)
	return v
}

func TestStructLayout(t *testing.T) {
	typ := Std.Struct(
		F("a", u8),
		F("b", u32),
		F("c", u16),
	)
	root := decode(t, typ, []byte{0x01, 0x78, 0x56, 0x34, 0x12, 0xCD, 0xAB, 0xFF})

	assert.Equal(t, int64(7), root.Size())
	assert.Equal(t, 3, root.Len())
	offsets := []int64{0, 1, 5}
	for i, c := range root.Children() {
		assert.Equal(t, offsets[i], c.Offset(), c.Name())
		if i > 0 {
			assert.Equal(t, root.Index(i-1).End(), c.Offset(), "%s follows its sibling", c.Name())
		}
	}
	assert.Equal(t, uint64(0x12345678), mustUint(t, root, "b"))
	assert.Equal(t, uint64(0xABCD), mustUint(t, root, "c"))
	assert.Equal(t, "/b", mustLookup(t, root, "b").Path())
	assert.Equal(t, "/", root.Path())
	assert.Same(t, root, mustLookup(t, root, "c").Root())
	assert.Empty(t, Diagnostics(root))
}

func TestBitfields(t *testing.T) {
	typ := Std.Struct(
		F("Entry", Std.Struct(
			F("Offset", Std.Bitfield(BitUnsigned, 12)),
			F("Type", Std.Bitfield(BitUnsigned, 4)),
		)),
		F("Signed", Std.Bitfield(BitSigned, 3)),
		F("Flag", Std.Bitfield(BitBool, 1)),
		F("After", u8),
	)
	root := decode(t, typ, []byte{0x34, 0xA2, 0x0F, 0x7F})

	assert.Equal(t, uint64(0x234), mustUint(t, root, "Entry", "Offset"))
	assert.Equal(t, uint64(0xA), mustUint(t, root, "Entry", "Type"))
	typeNode := mustLookup(t, root, "Entry", "Type")
	assert.Equal(t, int64(1), typeNode.Offset())
	assert.Equal(t, 4, typeNode.BitOffset())
	assert.Equal(t, int64(4), typeNode.BitSize())
	assert.Equal(t, int64(2), mustLookup(t, root, "Entry").Size())

	v, err := mustLookup(t, root, "Signed").Int()
	require.NoError(t, err)
	assert.Equal(t, int64(-1), v)
	b, ok := mustLookup(t, root, "Flag").Bool()
	assert.True(t, ok)
	assert.True(t, b)

	after := mustLookup(t, root, "After")
	assert.Equal(t, int64(3), after.Offset(), "non-bitfield realigns to the next byte")
	assert.Equal(t, uint64(0x7F), mustUint(t, root, "After"))
}

func TestUnion(t *testing.T) {
	typ := Std.Union(
		F("Value", u32),
		F("Parts", Std.Struct(F("Low", u16), F("High", u16))),
		F("Byte", u8),
	)
	root := decode(t, typ, []byte{0x01, 0x00, 0x02, 0x00})
	assert.Equal(t, int64(4), root.Size())
	for _, c := range root.Children() {
		assert.Equal(t, int64(0), c.Offset())
	}
	assert.Equal(t, uint64(0x20001), mustUint(t, root, "Value"))
	assert.Equal(t, uint64(2), mustUint(t, root, "Parts", "High"))
}

func TestArrayCountOf(t *testing.T) {
	typ := Std.Struct(
		F("N", u8),
		F("Items", Std.Array(u16, CountOf(FieldRef(1, "N")))),
		F("Tail", u8),
	)
	root := decode(t, typ, []byte{3, 1, 0, 2, 0, 3, 0, 0xEE})

	items := mustLookup(t, root, "Items")
	require.Equal(t, 3, items.Len())
	for i, el := range items.Children() {
		assert.Equal(t, fmt.Sprintf("[%d]", i), el.Name())
		v, err := el.Uint()
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), v)
	}
	assert.Equal(t, "/Items[2]", items.Index(2).Path())
	assert.Same(t, items.Index(1), mustLookup(t, root, "Items", "[1]"))
	assert.Equal(t, int64(7), mustLookup(t, root, "Tail").Offset())
	assert.Equal(t, uint64(0xEE), mustUint(t, root, "Tail"))
}

func TestArrayComputedUnderflow(t *testing.T) {
	typ := Std.Struct(
		F("Size", u8),
		F("Items", Std.Array(u16, Computed(func(c Context) (int64, error) {
			size, err := FieldRef(1, "Size").Uint(c)
			if err != nil {
				return 0, err
			}
			return int64(size)/2 - 4, nil
		}))),
		F("Next", u8),
	)
	root := decode(t, typ, []byte{4, 0x55})

	items := mustLookup(t, root, "Items")
	assert.ErrorIs(t, items.Err(), ErrLengthUnderflow)
	assert.Equal(t, 0, items.Len())
	assert.Equal(t, int64(0), items.Size())
	next := mustLookup(t, root, "Next")
	assert.NoError(t, next.Err())
	assert.Equal(t, int64(1), next.Offset())

	diags := Diagnostics(root)
	require.Len(t, diags, 1)
	assert.Equal(t, "/Items", diags[0].Path)
	assert.ErrorIs(t, diags[0], ErrLengthUnderflow)
}

func TestArrayLimit(t *testing.T) {
	typ := Std.Struct(
		F("N", u8),
		F("Items", Std.Array(u8, CountOf(FieldRef(1, "N")))),
	)
	opts := testOptions()
	opts.MaxArrayLength = 2
	root := DecodeAt(typ, Bytes([]byte{200, 1, 2, 3}), 0, opts)

	items := mustLookup(t, root, "Items")
	assert.Equal(t, 2, items.Len())
	assert.ErrorIs(t, items.Err(), ErrArrayTooLong)
}

func TestArrayTruncated(t *testing.T) {
	typ := Std.Struct(
		F("Items", Std.Array(u16, Literal(4))),
		F("After", u8),
	)
	root := decode(t, typ, []byte{1, 0, 2, 0, 3})

	items := mustLookup(t, root, "Items")
	assert.ErrorIs(t, items.Err(), ErrOutOfRange)
	assert.Equal(t, int64(8), items.Size(), "static element size keeps the layout")
	after := mustLookup(t, root, "After")
	assert.Equal(t, int64(8), after.Offset())
	assert.ErrorIs(t, after.Err(), ErrOutOfRange)
}

func TestArrayUntil(t *testing.T) {
	typ := Std.ArrayUntil(u16, IsZero(FieldRef(0)), 8)
	root := decode(t, typ, []byte{1, 0, 2, 0, 0, 0, 9, 9})
	assert.Equal(t, 3, root.Len())
	assert.Equal(t, int64(6), root.Size())
	assert.NoError(t, root.Err())

	capped := DecodeAt(Std.ArrayUntil(u8, IsZero(FieldRef(0)), 2), Bytes([]byte{1, 2, 3}), 0, testOptions())
	assert.Equal(t, 2, capped.Len())
	assert.ErrorIs(t, capped.Err(), ErrArrayTooLong)

	eof := DecodeAt(Std.ArrayUntil(u8, IsZero(FieldRef(0)), 0), Bytes([]byte{1, 2}), 0, testOptions())
	assert.Equal(t, 2, eof.Len())
	assert.ErrorIs(t, eof.Err(), ErrOutOfRange)
}

func TestFieldOutOfRange(t *testing.T) {
	typ := Std.Struct(F("a", u32), F("b", u32), F("c", u8))
	root := decode(t, typ, []byte{1, 0, 0, 0, 2, 0})

	assert.Equal(t, uint64(1), mustUint(t, root, "a"))
	b := mustLookup(t, root, "b")
	assert.ErrorIs(t, b.Err(), ErrOutOfRange)
	assert.Nil(t, b.Value())
	_, err := b.Uint()
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.Equal(t, int64(8), mustLookup(t, root, "c").Offset())

	diags := Diagnostics(root)
	require.Len(t, diags, 2)
	assert.Equal(t, "/b", diags[0].Path)
	assert.Equal(t, int64(4), diags[0].Offset)
	assert.Equal(t, "/c", diags[1].Path)
}

func TestEnumAndFlags(t *testing.T) {
	machine := MustSymbols("machine", "I386", "0x14c", "AMD64", 0x8664)
	chars := MustSymbols("characteristics", "Executable", 0x2, "LargeAddressAware", "0x0020", "DLL", 0x2000)
	typ := Std.Struct(
		F("Machine", Std.Enum("machine", UInt16, machine)),
		F("Unknown", Std.Enum("machine", UInt16, machine)),
		F("Characteristics", Std.Flags("characteristics", UInt16, chars)),
	)
	root := decode(t, typ, []byte{0x64, 0x86, 0x34, 0x12, 0x23, 0x20})

	assert.Equal(t, "AMD64", mustLookup(t, root, "Machine").Label())
	unknown := mustLookup(t, root, "Unknown")
	assert.Equal(t, "", unknown.Label())
	assert.NoError(t, unknown.Err())
	assert.Equal(t, uint64(0x1234), mustUint(t, root, "Unknown"))
	assert.Equal(t, "Executable | LargeAddressAware | DLL | 0x1", mustLookup(t, root, "Characteristics").Label())
}

func TestStringField(t *testing.T) {
	typ := Std.Struct(
		F("Name", Std.String(ASCII, MaxBytes(8), Padded())),
		F("Signature", Std.String(ASCII, MaxBytes(4), WithoutTerminator())),
		F("Path", Std.String(UTF8)),
		F("Tail", u8),
	)
	data := append([]byte(".rdata\x00\x00RSDS"), []byte("a\xc3\xa9.pdb\x00\x07")...)
	root := decode(t, typ, data)

	assert.Equal(t, ".rdata", mustLookup(t, root, "Name").Text())
	assert.Equal(t, int64(8), mustLookup(t, root, "Name").Size())
	assert.Equal(t, "RSDS", mustLookup(t, root, "Signature").Text())
	assert.Equal(t, "aé.pdb", mustLookup(t, root, "Path").Text())
	assert.Equal(t, uint64(7), mustUint(t, root, "Tail"))
}

func TestPointer(t *testing.T) {
	typ := Std.Struct(
		F("Ptr", Std.Pointer(UInt8, u16)),
		F("Pad", u8),
		F("Data", u16),
	)
	data := []byte{2, 0, 0x34, 0x12}
	root := decode(t, typ, data)

	ptr := mustLookup(t, root, "Ptr")
	assert.Equal(t, int64(1), ptr.Size(), "a pointer occupies only its stored integer")
	assert.Equal(t, int64(1), mustLookup(t, root, "Pad").Offset())
	assert.True(t, ptr.Resolved())
	assert.True(t, ptr.Present())

	target := ptr.Target()
	require.NotNil(t, target)
	assert.Equal(t, TargetName, target.Name())
	assert.Same(t, ptr, target.Parent())
	assert.Equal(t, int64(2), target.Offset())
	assert.Equal(t, uint64(0x1234), mustUint(t, target))
	assert.Equal(t, "/Ptr/*", target.Path())
}

func TestPointerChildLookup(t *testing.T) {
	typ := Std.Struct(
		F("Ptr", Std.Pointer(UInt8, Std.Struct(F("X", u8), F("Y", u8)))),
	)
	root := decode(t, typ, []byte{1, 0xAA, 0xBB})
	assert.Equal(t, uint64(0xBB), mustUint(t, root, "Ptr", "Y"))
	assert.Equal(t, uint64(0xBB), mustUint(t, root, "Ptr", TargetName, "Y"))
}

func TestLazyPointer(t *testing.T) {
	typ := Std.Struct(
		F("Ptr", Std.Pointer(UInt8, Std.Struct(F("Count", u8), F("Bad", u32)))),
	)
	opts := testOptions()
	opts.Lazy = true
	root := DecodeAt(typ, Bytes([]byte{1, 5, 0}), 0, opts)

	ptr := mustLookup(t, root, "Ptr")
	assert.False(t, ptr.Resolved())
	assert.Empty(t, Diagnostics(root), "unresolved targets are not walked")

	target := ptr.Target()
	require.NotNil(t, target)
	assert.True(t, ptr.Resolved())
	assert.Same(t, target, ptr.Target(), "resolution is idempotent")
	assert.Equal(t, uint64(5), mustUint(t, target, "Count"))

	diags := Diagnostics(root)
	require.Len(t, diags, 1)
	assert.Equal(t, "/Ptr/*/Bad", diags[0].Path)
}

func TestOptionalPointer(t *testing.T) {
	typ := Std.Struct(
		F("Ptr", Std.Pointer(UInt8, u8, Optional())),
		F("Other", u8),
	)
	root := decode(t, typ, []byte{0, 7})

	ptr := mustLookup(t, root, "Ptr")
	assert.False(t, ptr.Present())
	assert.Nil(t, ptr.Target())
	assert.NoError(t, ptr.Err())
	_, err := root.Lookup("Ptr", "X")
	assert.ErrorIs(t, err, ErrFieldNotFound)
	assert.Empty(t, Diagnostics(root))

	root = decode(t, typ, []byte{1, 7})
	ptr = mustLookup(t, root, "Ptr")
	assert.True(t, ptr.Present())
	require.NotNil(t, ptr.Target())
	assert.Equal(t, uint64(7), mustUint(t, ptr.Target()))
}

func TestPointerScale(t *testing.T) {
	typ := Std.Struct(F("Index", Std.Pointer(UInt8, u8, Scale(2))))
	root := decode(t, typ, []byte{2, 0, 0, 0, 0x99})
	assert.Equal(t, int64(4), mustLookup(t, root, "Index").Target().Offset())
}

func TestPointerTranslatorSeesLaterFields(t *testing.T) {
	// The translator reads Base, which is decoded after the pointer.
	tr := func(c Context, addr uint64) (uint64, error) {
		base, err := FieldRef(1, "Base").Uint(c)
		if err != nil {
			return 0, err
		}
		return addr - base, nil
	}
	typ := Std.Struct(
		F("Ptr", Std.Pointer(UInt8, u8, WithTranslator(tr))),
		F("Base", u8),
		F("Data", u8),
	)
	root := decode(t, typ, []byte{0x12, 0x10, 0x42})

	ptr := mustLookup(t, root, "Ptr")
	require.NoError(t, ptr.Err())
	assert.Equal(t, uint64(0x42), mustUint(t, ptr.Target()))
}

func TestPointerTranslatorError(t *testing.T) {
	errNoSection := errors.New("no section")
	tr := func(Context, uint64) (uint64, error) { return 0, errNoSection }
	typ := Std.Struct(F("Ptr", Std.Pointer(UInt8, u8, WithTranslator(tr))))
	root := decode(t, typ, []byte{9})

	ptr := mustLookup(t, root, "Ptr")
	assert.Nil(t, ptr.Target())
	assert.ErrorIs(t, ptr.Err(), ErrUnresolvedAddress)
	assert.Equal(t, uint64(9), mustUint(t, root, "Ptr"), "the stored value survives")
}

func TestPointerTargetOutOfRange(t *testing.T) {
	typ := Std.Struct(F("Ptr", Std.Pointer(UInt8, u32)))
	root := decode(t, typ, []byte{0xF0})

	target := mustLookup(t, root, "Ptr").Target()
	require.NotNil(t, target)
	assert.ErrorIs(t, target.Err(), ErrOutOfRange)
}

func TestPointerDepth(t *testing.T) {
	self := &Pointer{Stored: UInt8, Scale: 1}
	self.Target = self
	opts := testOptions()
	opts.MaxPointerDepth = 3
	root := DecodeAt(self, Bytes([]byte{0}), 0, opts)

	var depth int
	for n := root; n != nil; n = n.Target() {
		depth++
		if depth > 10 {
			t.Fatal("pointer chain was not bounded")
		}
	}
	assert.Equal(t, 4, depth, "three pointers followed, the fourth refused")

	diags := Diagnostics(root)
	require.Len(t, diags, 1)
	assert.ErrorIs(t, diags[0], ErrDepthExceeded)
}

// finishes runs f and fails t if it has not returned within a few seconds.
func finishes(t *testing.T, f func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		f()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("decoding did not finish")
	}
}

func TestTargetRefersBackThroughItsPointer(t *testing.T) {
	typ := Std.Struct(
		F("p", Std.Pointer(UInt8, Std.Struct(
			F("n", u8),
			F("arr", Std.Array(u8, CountOf(FieldRef(2, "n")))),
		))),
	)
	require.NoError(t, Validate(typ))

	for _, lazy := range []bool{false, true} {
		t.Run(fmt.Sprintf("lazy=%v", lazy), func(t *testing.T) {
			opts := testOptions()
			opts.Lazy = lazy
			var arr *Node
			var err error
			finishes(t, func() {
				root := DecodeAt(typ, Bytes([]byte{1, 2, 0xAA, 0xBB}), 0, opts)
				arr, err = root.Lookup("p", "arr")
			})
			require.NoError(t, err)
			require.Equal(t, 2, arr.Len())
			assert.NoError(t, arr.Err())
			assert.Equal(t, uint64(0xAA), mustUint(t, arr, "[0]"))
			assert.Equal(t, uint64(0xBB), mustUint(t, arr, "[1]"))
		})
	}
}

func TestLengthReadThroughQueuedPointer(t *testing.T) {
	// Items is counted through Len before the queue reaches Len, and Len's
	// target holds a pointer whose target counts back through Len.
	typ := Std.Struct(
		F("Len", Std.Pointer(UInt8, Std.Struct(
			F("N", u8),
			F("Back", Std.Pointer(UInt8, Std.Array(u8, CountOf(FieldRef(3, "N"))))),
		))),
		F("Items", Std.Array(u8, CountOf(FieldRef(1, "Len", "N")))),
	)
	require.NoError(t, Validate(typ))
	data := []byte{3, 0x11, 0x22, 2, 5, 0xAA, 0xBB}

	for _, lazy := range []bool{false, true} {
		t.Run(fmt.Sprintf("lazy=%v", lazy), func(t *testing.T) {
			opts := testOptions()
			opts.Lazy = lazy
			var root, back *Node
			var err error
			finishes(t, func() {
				root = DecodeAt(typ, Bytes(data), 0, opts)
				back, err = root.Lookup("Len", "Back", TargetName)
			})
			require.NoError(t, err)
			items := mustLookup(t, root, "Items")
			require.Equal(t, 2, items.Len())
			assert.Equal(t, uint64(0x22), mustUint(t, items, "[1]"))
			require.Equal(t, 2, back.Len())
			assert.Equal(t, uint64(0xBB), mustUint(t, back, "[1]"))
			assert.Empty(t, Diagnostics(root))
		})
	}
}

func TestNodeBudgetArray(t *testing.T) {
	typ := Std.Struct(
		F("Items", Std.Array(u8, Literal(1000))),
		F("After", u8),
	)
	opts := testOptions()
	opts.MaxNodes = 100
	root := DecodeAt(typ, Bytes(make([]byte, 1001)), 0, opts)

	items := mustLookup(t, root, "Items")
	assert.ErrorIs(t, items.Err(), ErrBudgetExceeded)
	assert.Less(t, items.Len(), 100)
	assert.Equal(t, int64(1000), items.Size(), "static element size keeps the layout")
	assert.Equal(t, int64(1000), mustLookup(t, root, "After").Offset())

	until := DecodeAt(Std.ArrayUntil(u8, IsZero(FieldRef(0)), 0), Bytes(bytes1(500)), 0, opts)
	assert.ErrorIs(t, until.Err(), ErrBudgetExceeded)
	assert.LessOrEqual(t, until.Len(), 100)
}

func bytes1(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 1
	}
	return b
}

func TestNodeBudgetPointers(t *testing.T) {
	typ := Std.Struct(F("Ptrs", Std.Array(Std.Pointer(UInt8, u8), Literal(10))))
	opts := testOptions()
	opts.MaxNodes = 12
	root := DecodeAt(typ, Bytes(make([]byte, 10)), 0, opts)

	ptrs := mustLookup(t, root, "Ptrs")
	require.Equal(t, 10, ptrs.Len())
	assert.NoError(t, ptrs.Err())
	assert.NotNil(t, ptrs.Index(0).Target())
	last := ptrs.Index(9)
	assert.True(t, last.Resolved())
	assert.Nil(t, last.Target())
	assert.ErrorIs(t, last.Err(), ErrBudgetExceeded)
	assert.Equal(t, uint64(0), mustUint(t, last), "the stored value survives")

	diags := Diagnostics(root)
	assert.Len(t, diags, 9)
	for _, d := range diags {
		assert.ErrorIs(t, d, ErrBudgetExceeded)
	}
}

func TestTaggedUnion(t *testing.T) {
	typ := Std.Struct(
		F("Entry", Std.TaggedUnion(
			[]Field{F("Tag", u8)},
			[]Alternative{
				Std.Alternative(Equals(FieldRef(0, "Tag"), 1), []Field{F("Short", u16)}, "short"),
				Std.Alternative(Equals(FieldRef(0, "Tag"), 2), []Field{F("Long", u32)}, ""),
				Std.Alternative(Equals(FieldRef(0, "Tag"), 2), []Field{F("Never", u8)}, "shadowed"),
			},
			nil,
		)),
		F("After", u8),
	)
	tests := []struct {
		name     string
		data     []byte
		selected string
		field    string
		size     int64
	}{
		{"first", []byte{1, 0x34, 0x12, 0xEE}, "short", "Short", 3},
		{"second", []byte{2, 1, 0, 0, 0, 0xEE}, "#1", "Long", 5},
		{"default", []byte{9, 0xEE}, "", "", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			root := decode(t, typ, tc.data)
			entry := mustLookup(t, root, "Entry")
			assert.Equal(t, tc.selected, entry.Selected())
			assert.Equal(t, tc.size, entry.Size())
			if tc.field != "" {
				_, err := entry.Child(tc.field)
				assert.NoError(t, err)
			} else {
				assert.Equal(t, 1, entry.Len())
			}
			_, err := entry.Child("Never")
			assert.ErrorIs(t, err, ErrFieldNotFound)
			assert.Equal(t, uint64(0xEE), mustUint(t, root, "After"))
		})
	}
}

func TestTaggedUnionPredicateError(t *testing.T) {
	typ := Std.TaggedUnion(
		[]Field{F("Tag", u8)},
		[]Alternative{
			Std.Alternative(Equals(FieldRef(0, "Missing"), 1), []Field{F("A", u8)}, "broken"),
			Std.Alternative(Equals(FieldRef(0, "Tag"), 1), []Field{F("B", u8)}, "ok"),
		},
		nil,
	)
	root := DecodeAt(typ, Bytes([]byte{1, 2}), 0, testOptions())
	assert.Equal(t, "ok", root.Selected())
	assert.ErrorIs(t, root.Err(), ErrFieldNotFound)
}

func TestTextEquals(t *testing.T) {
	typ := Std.TaggedUnion(
		[]Field{F("Signature", Std.String(ASCII, MaxBytes(4), WithoutTerminator()))},
		[]Alternative{
			Std.Alternative(TextEquals(FieldRef(0, "Signature"), "RSDS"), []Field{F("Age", u8)}, "RSDS"),
		},
		nil,
	)
	root := DecodeAt(typ, Bytes([]byte("RSDS\x03")), 0, testOptions())
	assert.Equal(t, "RSDS", root.Selected())
	assert.Equal(t, uint64(3), mustUint(t, root, "Age"))
}

func TestWalkSkip(t *testing.T) {
	typ := Std.Struct(
		F("A", Std.Struct(F("X", u8), F("Y", u8))),
		F("B", u8),
	)
	root := decode(t, typ, []byte{1, 2, 3})
	var seen []string
	Walk(root, func(n *Node) bool {
		seen = append(seen, n.Path())
		return n.Name() != "A"
	})
	assert.Equal(t, []string{"/", "/A", "/B"}, seen)
}

func TestNodeBytes(t *testing.T) {
	typ := Std.Struct(F("a", u8), F("b", u16))
	root := decode(t, typ, []byte{1, 2, 3})
	b, err := mustLookup(t, root, "b").Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 3}, b)
	assert.Equal(t, "/b Primitive @0x1+2", mustLookup(t, root, "b").String())
}

func TestDecodeLockOffset(t *testing.T) {
	def := Definition{Root: Std.Struct(F("v", u8)), LockOffset: 2}
	require.NoError(t, ValidateDefinition(def))
	root := Decode(def, Bytes([]byte{0, 0, 9}), testOptions())
	assert.Equal(t, int64(2), root.Offset())
	assert.Equal(t, uint64(9), mustUint(t, root, "v"))
}
