// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package schema

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/bits"
	"unicode/utf8"

	"golang.org/x/exp/constraints"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
)

// Source is the random-access, read-only byte source being decoded.
// *bytes.Reader and *io.SectionReader satisfy it.
type Source interface {
	io.ReaderAt
	Size() int64
}

// Bytes wraps b as a Source.
func Bytes(b []byte) Source {
	return bytes.NewReader(b)
}

// AlignUp rounds v up to a multiple of powerOfTwo.
func AlignUp[V constraints.Integer](v V, powerOfTwo V) V {
	if v < 0 || powerOfTwo <= 0 || bits.OnesCount64(uint64(powerOfTwo)) != 1 {
		panic("invalid arguments to AlignUp")
	}
	return v + ((-v) & (powerOfTwo - 1))
}

func alignBits(b int64) int64 {
	return AlignUp(b, 8)
}

// readAt reads exactly size bytes at off.
func readAt(src Source, off int64, size int) ([]byte, error) {
	if off < 0 || size < 0 || off > src.Size()-int64(size) {
		return nil, fmt.Errorf("%w: [%d, %d) beyond %d bytes", ErrOutOfRange, off, off+int64(size), src.Size())
	}
	buf := make([]byte, size)
	n, err := src.ReadAt(buf, off)
	if n == size {
		return buf, nil
	}
	if err == nil || err == io.EOF {
		err = fmt.Errorf("%w: short read at %d", ErrOutOfRange, off)
	}
	return nil, err
}

func readUint(buf []byte, order binary.ByteOrder) uint64 {
	switch len(buf) {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(order.Uint16(buf))
	case 4:
		return uint64(order.Uint32(buf))
	case 8:
		return order.Uint64(buf)
	}
	panic(fmt.Sprintf("readUint: unsupported width %d", len(buf)))
}

func signExtend(v uint64, width int) int64 {
	shift := 64 - width
	return int64(v<<shift) >> shift
}

// decodePrim converts the bytes of p to its Go value.
func decodePrim(p Prim, buf []byte, order binary.ByteOrder) any {
	u := readUint(buf, order)
	switch {
	case p.Unsigned():
		return u
	case p.Signed():
		return signExtend(u, len(buf)*8)
	}
	switch p {
	case Bool8, Bool16, Bool32, Bool64:
		return u != 0
	case Float32:
		return float64(math.Float32frombits(uint32(u)))
	case Float64:
		return math.Float64frombits(u)
	case Char:
		if u < utf8.RuneSelf {
			return string(rune(u))
		}
		return string(utf8.RuneError)
	}
	return u
}

// readBits extracts width bits starting at absolute bit position pos,
// LSB-first: bit 0 is the least significant bit of the byte at pos/8.
func readBits(src Source, pos int64, width int) (uint64, error) {
	if width <= 0 || width > 64 {
		return 0, fmt.Errorf("%w: bitfield width %d", ErrInvalidSchema, width)
	}
	shift := uint(pos % 8)
	nbytes := (int(shift) + width + 7) / 8
	buf, err := readAt(src, pos/8, nbytes)
	if err != nil {
		return 0, err
	}
	var lo [8]byte
	copy(lo[:], buf)
	v := binary.LittleEndian.Uint64(lo[:]) >> shift
	if nbytes == 9 {
		v |= uint64(buf[8]) << (64 - shift)
	}
	if width < 64 {
		v &= 1<<uint(width) - 1
	}
	return v, nil
}

func decodeBitfield(t *Bitfield, v uint64) any {
	switch t.Bits {
	case BitSigned:
		return signExtend(v, t.Width)
	case BitBool:
		return v != 0
	}
	return v
}

// maxUncappedString bounds strings that have neither a byte cap nor a
// terminator within reach.
const maxUncappedString = 1 << 16

// stringChunk is how much of a string is read at a time while looking for
// its terminator. It is a multiple of every code unit size.
const stringChunk = 256

// scanString locates the bytes of a string at off. It returns the bytes of
// the text, the number of bytes the field occupies, and an error if the
// source ended before the string did.
func scanString(src Source, off int64, t *String) (text []byte, size int64, err error) {
	unit := int64(t.Encoding.unitSize())
	remaining := max(src.Size()-off, 0)
	limit := int64(maxUncappedString)
	if t.MaxBytes > 0 {
		limit = int64(t.MaxBytes)
	}
	truncated := false
	if limit > remaining {
		limit = remaining
		truncated = true
	}
	limit -= limit % unit

	text = make([]byte, 0, min(limit, stringChunk))
	size = limit
	found := false
	for read := int64(0); ; {
		n := min(limit-read, stringChunk)
		chunk, err := readAt(src, off+read, int(n))
		if err != nil {
			return nil, 0, err
		}
		if t.Terminator != NoTerminator {
			for i := int64(0); i+unit <= n; i += unit {
				if unitValue(chunk[i:i+unit], t.Encoding) == uint64(t.Terminator) {
					chunk = chunk[:i]
					size = read + i + unit
					found = true
					break
				}
			}
		}
		text = append(text, chunk...)
		read += n
		if found || read >= limit {
			break
		}
	}
	if t.Padded && t.MaxBytes > 0 {
		size = int64(t.MaxBytes)
	}

	switch {
	case found:
		if t.Padded && truncated {
			err = fmt.Errorf("%w: padded string needs %d bytes, %d remain", ErrOutOfRange, t.MaxBytes, remaining)
		}
	case t.MaxBytes > 0 && truncated:
		size = int64(t.MaxBytes)
		err = fmt.Errorf("%w: string needs %d bytes, %d remain", ErrOutOfRange, t.MaxBytes, remaining)
	case t.MaxBytes == 0 && t.Terminator != NoTerminator:
		err = fmt.Errorf("%w: unterminated string", ErrOutOfRange)
	}
	return text, size, err
}

func unitValue(b []byte, e Encoding) uint64 {
	if e.bigEndian() {
		return readUint(b, binary.BigEndian)
	}
	return readUint(b, binary.LittleEndian)
}

func textDecoder(e Encoding) *encoding.Decoder {
	switch e {
	case Latin1:
		return charmap.ISO8859_1.NewDecoder()
	case UTF8:
		return unicode.UTF8.NewDecoder()
	case UTF16:
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
	case UTF16LE:
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	case UTF16BE:
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
	case UTF32:
		return utf32.UTF32(utf32.LittleEndian, utf32.UseBOM).NewDecoder()
	case UTF32LE:
		return utf32.UTF32(utf32.LittleEndian, utf32.IgnoreBOM).NewDecoder()
	case UTF32BE:
		return utf32.UTF32(utf32.BigEndian, utf32.IgnoreBOM).NewDecoder()
	}
	return nil
}

// decodeText converts raw string bytes to UTF-8. Bytes that are invalid in
// the encoding become U+FFFD.
func decodeText(e Encoding, raw []byte) (string, error) {
	if e == ASCII {
		out := make([]rune, 0, len(raw))
		for _, c := range raw {
			if c >= utf8.RuneSelf {
				out = append(out, utf8.RuneError)
				continue
			}
			out = append(out, rune(c))
		}
		return string(out), nil
	}
	dec := textDecoder(e)
	if dec == nil {
		return "", fmt.Errorf("%w: unknown encoding %v", ErrInvalidSchema, e)
	}
	b, err := dec.Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
