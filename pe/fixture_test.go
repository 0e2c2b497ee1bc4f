// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pe

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/dblohm7/pestruct/schema"
)

// Layout of the synthetic images built by newFixture. Headers fill the
// first 0x200 bytes, .text the next 0x200 and .rdata the 0x400 after that.
// The attribute certificate table sits after .rdata.
const (
	fixtureNTOffset = 0x40
	fixtureOHOffset = fixtureNTOffset + 4 + 20
	fixtureFileSize = 0x800

	textRVA   = 0x1000
	textFile  = 0x200
	rdataRVA  = 0x2000
	rdataFile = 0x400

	exportRVA    = 0x2000
	importRVA    = 0x2140
	thunksRVA    = 0x2180
	dllNameRVA   = 0x21C0
	hintNameRVA  = 0x21D0
	debugRVA     = 0x2200
	codeViewRVA  = 0x2240
	coffDebugRVA = 0x2280
	relocRVA     = 0x2300
	tlsRVA       = 0x2340
	certOffset   = 0x780
)

type fixture struct {
	buf   []byte
	is64  bool
	extra []addedSection
}

// addedSection is a section appended by addSection.
type addedSection struct{ va, ptr, size int }

func (f *fixture) put16(off int, v uint16) { binary.LittleEndian.PutUint16(f.buf[off:], v) }
func (f *fixture) put32(off int, v uint32) { binary.LittleEndian.PutUint32(f.buf[off:], v) }
func (f *fixture) put64(off int, v uint64) { binary.LittleEndian.PutUint64(f.buf[off:], v) }
func (f *fixture) put(off int, b string)   { copy(f.buf[off:], b) }

// word writes a pointer-sized value: 4 bytes in PE32, 8 in PE32+.
func (f *fixture) word(off int, v uint64) int {
	if f.is64 {
		f.put64(off, v)
		return off + 8
	}
	f.put32(off, uint32(v))
	return off + 4
}

// rdata converts an RVA inside .rdata to a file offset.
func rdata(rva int) int { return rva - rdataRVA + rdataFile }

func (f *fixture) optionalHeaderSize() int {
	if f.is64 {
		return 112 + numDataDirectories*8
	}
	return 96 + numDataDirectories*8
}

func (f *fixture) sectionsOffset() int { return fixtureOHOffset + f.optionalHeaderSize() }

func (f *fixture) numberOfRvaAndSizesOffset() int {
	if f.is64 {
		return fixtureOHOffset + 108
	}
	return fixtureOHOffset + 92
}

func (f *fixture) dataDir(idx int, va, size uint32) {
	off := f.numberOfRvaAndSizesOffset() + 4 + idx*8
	f.put32(off, va)
	f.put32(off+4, size)
}

func (f *fixture) tlsSize() uint32 {
	if f.is64 {
		return 40
	}
	return 24
}

// newFixture builds a small but complete PE32 or PE32+ image with export,
// import, debug, base relocation, TLS and certificate directories.
func newFixture(is64 bool) *fixture {
	f := &fixture{buf: make([]byte, fixtureFileSize), is64: is64}

	f.put(0, "MZ")
	f.put32(60, fixtureNTOffset)

	f.put(fixtureNTOffset, "PE\x00\x00")
	fh := fixtureNTOffset + 4
	if is64 {
		f.put16(fh, 0x8664)
		f.put16(fh+18, 0x0022)
	} else {
		f.put16(fh, 0x014c)
		f.put16(fh+18, 0x0102)
	}
	f.put16(fh+2, 2)
	f.put32(fh+4, 0x5F5E1000)
	f.put16(fh+16, uint16(f.optionalHeaderSize()))

	oh := fixtureOHOffset
	if is64 {
		f.put16(oh, 0x20b)
	} else {
		f.put16(oh, 0x10b)
	}
	f.buf[oh+2] = 14
	f.put32(oh+4, 0x200)
	f.put32(oh+16, textRVA)
	f.put32(oh+20, textRVA)
	if is64 {
		f.put64(oh+24, 0x140000000)
	} else {
		f.put32(oh+24, rdataRVA)
		f.put32(oh+28, 0x400000)
	}
	f.put32(oh+32, 0x1000)
	f.put32(oh+36, 0x200)
	f.put16(oh+40, 6)
	f.put16(oh+48, 6)
	f.put32(oh+56, 0x3000)
	f.put32(oh+60, 0x200)
	f.put16(oh+68, 3)
	f.put16(oh+70, 0x8160)
	off := oh + 72
	for _, v := range []uint64{0x100000, 0x1000, 0x100000, 0x1000} {
		off = f.word(off, v)
	}
	f.put32(f.numberOfRvaAndSizesOffset(), numDataDirectories)

	f.dataDir(IMAGE_DIRECTORY_ENTRY_EXPORT, exportRVA, 40)
	f.dataDir(IMAGE_DIRECTORY_ENTRY_IMPORT, importRVA, 2*sizeImportDescriptor)
	f.dataDir(IMAGE_DIRECTORY_ENTRY_SECURITY, certOffset, 16)
	f.dataDir(IMAGE_DIRECTORY_ENTRY_BASERELOC, relocRVA, 12)
	f.dataDir(IMAGE_DIRECTORY_ENTRY_DEBUG, debugRVA, 2*sizeDebugDirectory)
	f.dataDir(IMAGE_DIRECTORY_ENTRY_TLS, tlsRVA, f.tlsSize())

	sh := f.sectionsOffset()
	f.section(sh, ".text", 0x100, textRVA, 0x200, textFile, 0x60000020)
	f.section(sh+40, ".rdata", 0x400, rdataRVA, 0x400, rdataFile, 0x40000040)

	// Export directory: two functions, the second exported as "Frob".
	e := rdata(exportRVA)
	f.put32(e+12, 0x2100)
	f.put32(e+16, 1)
	f.put32(e+20, 2)
	f.put32(e+24, 1)
	f.put32(e+28, 0x2040)
	f.put32(e+32, 0x2050)
	f.put32(e+36, 0x2058)
	f.put32(rdata(0x2040), 0x1010)
	f.put32(rdata(0x2044), 0x1020)
	f.put32(rdata(0x2050), 0x2110)
	f.put16(rdata(0x2058), 1)
	f.put(rdata(0x2100), "fixture.dll\x00")
	f.put(rdata(0x2110), "Frob\x00")

	// One import descriptor and its terminator; ordinal 7 and ExitProcess.
	d := rdata(importRVA)
	f.put32(d, thunksRVA)
	f.put32(d+12, dllNameRVA)
	f.put32(d+16, thunksRVA)
	t := rdata(thunksRVA)
	if is64 {
		f.put64(t, ordinalFlag64|7)
		f.put64(t+8, hintNameRVA)
	} else {
		f.put32(t, ordinalFlag32|7)
		f.put32(t+4, hintNameRVA)
	}
	f.put(rdata(dllNameRVA), "KERNEL32.dll\x00")
	f.put16(rdata(hintNameRVA), 0x42)
	f.put(rdata(hintNameRVA)+2, "ExitProcess\x00")

	// Debug directory: a CodeView entry and a COFF entry.
	f.debugEntry(rdata(debugRVA), IMAGE_DEBUG_TYPE_CODEVIEW, 36, codeViewRVA)
	f.debugEntry(rdata(debugRVA)+sizeDebugDirectory, 1, 4, coffDebugRVA)
	cv := rdata(codeViewRVA)
	f.put(cv, "RSDS")
	f.put32(cv+4, 0x12345678)
	f.put16(cv+8, 0x9ABC)
	f.put16(cv+10, 0xDEF0)
	f.put(cv+12, "\x01\x02\x03\x04\x05\x06\x07\x08")
	f.put32(cv+20, 3)
	f.put(cv+24, "fixture.pdb\x00")
	f.put(rdata(coffDebugRVA), "\xDE\xAD\xBE\xEF")

	// One relocation block for the .text page.
	r := rdata(relocRVA)
	f.put32(r, textRVA)
	f.put32(r+4, 12)
	f.put16(r+8, 0x3010)
	f.put16(r+10, 0xA020)

	tls := rdata(tlsRVA)
	for _, v := range []uint64{0x402000, 0x402010, 0x402020, 0} {
		tls = f.word(tls, v)
	}
	f.put32(tls, 0x10)

	f.put32(certOffset, 12)
	f.put16(certOffset+4, uint16(WIN_CERT_REVISION_2_0))
	f.put16(certOffset+6, uint16(WIN_CERT_TYPE_PKCS_SIGNED_DATA))
	f.put(certOffset+8, "\x01\x02\x03\x04")

	return f
}

func (f *fixture) section(off int, name string, vsize, va, size, ptr, chars uint32) {
	f.put(off, name)
	f.put32(off+8, vsize)
	f.put32(off+12, va)
	f.put32(off+16, size)
	f.put32(off+20, ptr)
	f.put32(off+36, chars)
}

func (f *fixture) debugEntry(off int, typ, size, rva uint32) {
	f.put32(off+12, typ)
	f.put32(off+16, size)
	f.put32(off+20, rva)
	f.put32(off+24, uint32(rdata(int(rva))))
}

// mapped lays f out the way the loader would, at each section's RVA.
func (f *fixture) mapped() []byte {
	size := 0x3000
	for _, s := range f.extra {
		size = max(size, s.va+s.size)
	}
	img := make([]byte, size)
	copy(img, f.buf[:textFile])
	copy(img[textRVA:], f.buf[textFile:rdataFile])
	copy(img[rdataRVA:], f.buf[rdataFile:certOffset])
	for _, s := range f.extra {
		copy(img[s.va:], f.buf[s.ptr:s.ptr+s.size])
	}
	return img
}

// addSection appends a section of size bytes mapped at va and returns the
// file offset of its raw data.
func (f *fixture) addSection(name string, va, size int) int {
	fh := fixtureNTOffset + 4
	n := int(binary.LittleEndian.Uint16(f.buf[fh+2:]))
	ptr := schema.AlignUp(len(f.buf), 0x200)
	f.buf = append(f.buf, make([]byte, ptr+size-len(f.buf))...)
	f.section(f.sectionsOffset()+n*40, name, uint32(size), uint32(va), uint32(size), uint32(ptr), 0x40000040)
	f.put16(fh+2, uint16(n+1))
	soi := fixtureOHOffset + 56
	f.put32(soi, max(binary.LittleEndian.Uint32(f.buf[soi:]), uint32(va+size)))
	f.extra = append(f.extra, addedSection{va: va, ptr: ptr, size: size})
	return ptr
}

// Offsets of the resource fixture, relative to the start of .rsrc.
const (
	rsrcRVA        = 0x3000
	rsrcSize       = 0x400
	rsrcVersion    = 0x0C0
	rsrcTypeName   = 0x3C0
	rsrcIconData   = 0x3F0
	rsrcVersionMax = rsrcTypeName - rsrcVersion
)

// addResources appends a .rsrc section. A named type "MYTYPE" and the
// icon type share one name/language subtree ending in a 4-byte blob; the
// version type leads to version.
func (f *fixture) addResources(version []byte) {
	if len(version) > rsrcVersionMax {
		panic("version resource does not fit the fixture")
	}
	base := f.addSection(".rsrc", rsrcRVA, rsrcSize)
	dir := func(off, named, ids int) int {
		f.put16(base+off+12, uint16(named))
		f.put16(base+off+14, uint16(ids))
		return base + off + 16
	}
	entry := func(at int, name, target uint32) int {
		f.put32(at, name)
		f.put32(at+4, target)
		return at + 8
	}

	e := dir(0x000, 1, 2)
	e = entry(e, resourceHighBit|rsrcTypeName, resourceHighBit|0x028)
	e = entry(e, 3, resourceHighBit|0x028)
	entry(e, RT_VERSION, resourceHighBit|0x058)
	entry(dir(0x028, 0, 1), 1, resourceHighBit|0x040)
	entry(dir(0x040, 0, 1), enUS, 0x088)
	entry(dir(0x058, 0, 1), 1, resourceHighBit|0x070)
	entry(dir(0x070, 0, 1), enUS, 0x098)

	f.put32(base+0x088, rsrcRVA+rsrcIconData)
	f.put32(base+0x088+4, 4)
	f.put32(base+0x098, rsrcRVA+rsrcVersion)
	f.put32(base+0x098+4, uint32(len(version)))
	f.put32(base+0x098+8, 1200)

	copy(f.buf[base+rsrcVersion:], version)
	f.put16(base+rsrcTypeName, 6)
	copy(f.buf[base+rsrcTypeName+2:], utf16le("MYTYPE"))
	f.put(base+rsrcIconData, "ICON")

	f.dataDir(IMAGE_DIRECTORY_ENTRY_RESOURCE, rsrcRVA, rsrcSize)
}

func utf16le(s string) []byte {
	var b []byte
	for _, u := range utf16.Encode([]rune(s)) {
		b = binary.LittleEndian.AppendUint16(b, u)
	}
	return b
}

func utf16z(s string) []byte { return append(utf16le(s), 0, 0) }

func align4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

// verBlock encodes a version block. Length covers the last child but not
// the padding after it.
func verBlock(key string, valueLen, typ uint16, value []byte, children ...[]byte) []byte {
	b := make([]byte, 6)
	binary.LittleEndian.PutUint16(b[2:], valueLen)
	binary.LittleEndian.PutUint16(b[4:], typ)
	b = align4(append(b, utf16z(key)...))
	b = append(b, value...)
	for _, c := range children {
		b = append(align4(b), c...)
	}
	binary.LittleEndian.PutUint16(b, uint16(len(b)))
	return b
}

// verString encodes a String block. Its Value Length counts UTF-16 units.
func verString(key, value string) []byte {
	if value == "" {
		return verBlock(key, 0, 1, nil)
	}
	v := utf16z(value)
	return verBlock(key, uint16(len(v)/2), 1, v)
}

// fixtureVersion is a VS_VERSIONINFO for file version 1.2.3.4 and product
// version 5.6.7.8, with an en-US and a language neutral string table, an
// unknown block and a Translation var.
func fixtureVersion() []byte {
	fixed := make([]byte, sizeFixedFileInfo)
	for i, v := range []uint32{versionFixedSig, 0x10000, 1<<16 | 2, 3<<16 | 4, 5<<16 | 6, 7<<16 | 8, 0x3F, 0x2, 0x40004, 2, 0, 0, 0} {
		binary.LittleEndian.PutUint32(fixed[i*4:], v)
	}
	return verBlock("VS_VERSION_INFO", sizeFixedFileInfo, 0, fixed,
		verBlock(versionStringFileInfo, 0, 1, nil,
			verBlock("040904B0", 0, 1, nil,
				verString("CompanyName", "Fixture Corp"),
				verString("Comments", ""),
				verString("FileDescription", "Fixture DLL")),
			verBlock("000004b0", 0, 1, nil,
				verString("ProductName", "Neutral Name"))),
		verBlock("Bogus", 0, 1, nil, []byte{1, 2, 3, 4}),
		verBlock(versionVarFileInfo, 0, 1, nil,
			verBlock(versionTranslation, 4, 0, []byte{0x09, 0x04, 0xB0, 0x04})),
	)
}
