// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pe

import "github.com/dblohm7/pestruct/schema"

// LookupAddress maps the relative virtual address rva to a file offset using
// a decoded section table. It reports false when no section's raw data
// contains rva. Sections that failed to decode are skipped.
func LookupAddress(sections *schema.Node, rva uint64) (uint64, bool) {
	if sections == nil {
		return 0, false
	}
	for _, s := range sections.Children() {
		r := fieldReader{n: s}
		va := r.uint(fieldVirtualAddress)
		size := r.uint(fieldSizeOfRawData)
		ptr := r.uint(fieldPointerToRaw)
		if r.err != nil {
			continue
		}
		if rva >= va && rva-va < size {
			return rva - va + ptr, true
		}
	}
	return 0, false
}

// fieldReader reads several fields below n, keeping the first error.
type fieldReader struct {
	n   *schema.Node
	err error
}

func (r *fieldReader) node(path ...string) *schema.Node {
	if r.err != nil {
		return nil
	}
	c, err := r.n.Lookup(path...)
	if err != nil {
		r.err = err
		return nil
	}
	return c
}

func (r *fieldReader) uint(path ...string) uint64 {
	c := r.node(path...)
	if c == nil {
		return 0
	}
	v, err := c.Uint()
	if err != nil {
		r.err = err
	}
	return v
}

func (r *fieldReader) u32(path ...string) uint32 { return uint32(r.uint(path...)) }
func (r *fieldReader) u16(path ...string) uint16 { return uint16(r.uint(path...)) }

func (r *fieldReader) bytes(path ...string) []byte {
	c := r.node(path...)
	if c == nil {
		return nil
	}
	b, err := c.Bytes()
	if err != nil {
		r.err = err
	}
	return b
}

// text returns the decoded string at path. A string that decoded with a
// diagnostic is an error.
func (r *fieldReader) text(path ...string) string {
	c := r.node(path...)
	if c == nil {
		return ""
	}
	if err := c.Err(); err != nil {
		r.err = err
		return ""
	}
	return c.Text()
}
