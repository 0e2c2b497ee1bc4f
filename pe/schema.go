// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pe

import (
	"fmt"

	"github.com/dblohm7/pestruct/schema"
)

const (
	sizeImportDescriptor = 20
	sizeDebugDirectory   = 28
	numDataDirectories   = 16
	maxNumSections       = 96 // loader limit
	maxThunks            = 1 << 16

	ordinalFlag32 = 1 << 31
	ordinalFlag64 = 1 << 63
)

// Field names the typed views and translator depend on.
const (
	fieldDosHeader       = "Dos Header"
	fieldNewHeaderOffset = "New Header Offset"
	fieldFileHeader      = "Image File Header"
	fieldOptionalHeader  = "Optional Header"
	fieldDataDirectory   = "Data Directory"
	fieldSections        = "Sections"
	fieldVirtualAddress  = "Virtual Address"
	fieldSize            = "Size"
	fieldSizeOfRawData   = "Size of Raw Data"
	fieldPointerToRaw    = "Pointer To Raw Data"
)

// DataDirectoryNames lists the data directory entries in index order.
var DataDirectoryNames = [numDataDirectories]string{
	"Export",
	"Import",
	"Resource",
	"Exception",
	"Certificate",
	"Base Relocations",
	"Debug Info",
	"Architecture",
	"Global Pointer",
	"TLS",
	"Load Config",
	"Bound Import",
	"IAT",
	"Delay Import",
	"CLR Descriptor",
	"Reserved",
}

// Config selects how addresses in the image are mapped to offsets.
type Config struct {
	// StrictAddresses makes an address outside every section a diagnostic
	// (schema.ErrUnresolvedAddress) instead of the file offset 0.
	StrictAddresses bool
	// Mapped means the source is an image laid out by the loader, so a
	// relative virtual address already is an offset.
	Mapped bool
	// Decode is passed to the decoder.
	Decode schema.Options
}

// Definition returns the PE schema built through f. Decoding starts at the
// beginning of the source.
func Definition(f schema.Factory, cfg Config) schema.Definition {
	b := &builder{f: f, cfg: cfg}
	return schema.Definition{
		Root: f.Struct(
			schema.F(fieldDosHeader, b.dosHeader()),
		),
		LockOffset: 0,
	}
}

// Decode decodes src as a PE image without validating it.
func Decode(src schema.Source, cfg Config) *schema.Node {
	return schema.Decode(Definition(schema.Std, cfg), src, cfg.Decode)
}

type builder struct {
	f   schema.Factory
	cfg Config
}

func (b *builder) u8() schema.Type  { return b.f.Primitive(schema.UInt8) }
func (b *builder) u16() schema.Type { return b.f.Primitive(schema.UInt16) }
func (b *builder) u32() schema.Type { return b.f.Primitive(schema.UInt32) }
func (b *builder) u64() schema.Type { return b.f.Primitive(schema.UInt64) }

func (b *builder) bytes(n int64) schema.Type {
	return b.f.Array(b.u8(), schema.Literal(n))
}

func (b *builder) ascii() schema.Type { return b.f.String(schema.ASCII) }

// translator maps a relative virtual address through the section table.
func (b *builder) translator() schema.Translator {
	if b.cfg.Mapped {
		return nil
	}
	return func(ctx schema.Context, rva uint64) (uint64, error) {
		sections, err := ctx.RootField(fieldDosHeader, fieldNewHeaderOffset, fieldSections)
		if err != nil {
			return 0, err
		}
		off, ok := LookupAddress(sections, rva)
		if !ok && b.cfg.StrictAddresses {
			return 0, fmt.Errorf("%w: RVA 0x%X is outside every section", schema.ErrUnresolvedAddress, rva)
		}
		return off, nil
	}
}

func (b *builder) virtualPointer(target schema.Type) schema.Type {
	return b.f.Pointer(schema.UInt32, target, schema.WithTranslator(b.translator()))
}

func (b *builder) optionalVirtualPointer(target schema.Type) schema.Type {
	return b.f.Pointer(schema.UInt32, target, schema.WithTranslator(b.translator()), schema.Optional())
}

// countFrom is the length ref/div of a field up levels above the array.
func countFrom(up int, field string, div int64) schema.Length {
	ref := schema.FieldRef(up, field)
	return schema.Computed(func(ctx schema.Context) (int64, error) {
		v, err := ref.Uint(ctx)
		if err != nil {
			return 0, err
		}
		return int64(v / uint64(div)), nil
	})
}

func (b *builder) dosHeader() schema.Type {
	u16 := b.u16()
	return b.f.Struct(
		schema.F("Signature", b.bytes(2)),
		schema.F("Last Page Bytes", u16),
		schema.F("Count of Pages", u16),
		schema.F("Count of Relocations", u16),
		schema.F("Header Len", u16),
		schema.F("Min Alloc", u16),
		schema.F("Max Alloc", u16),
		schema.F("Initial SS", u16),
		schema.F("Initial SP", u16),
		schema.F("Checksum", u16),
		schema.F("Initial IP", u16),
		schema.F("Initial CS", u16),
		schema.F("Relocation Address", u16),
		schema.F("Overlay Number", u16),
		schema.F("Reserved (1)", b.f.Array(u16, schema.Literal(4))),
		schema.F("OEM ID", u16),
		schema.F("OEM Info", u16),
		schema.F("Reserved (2)", b.f.Array(u16, schema.Literal(10))),
		// e_lfanew is a file offset even in mapped images.
		schema.F(fieldNewHeaderOffset, b.f.Pointer(schema.UInt32, b.ntHeader())),
	)
}

func (b *builder) ntHeader() schema.Type {
	return b.f.Struct(
		schema.F("Signature", b.bytes(4)),
		schema.F(fieldFileHeader, b.fileHeader()),
		schema.F(fieldOptionalHeader, b.optionalHeader()),
		schema.F(fieldSections, b.f.Array(b.sectionHeader(), b.sectionCount())),
	)
}

// sectionCount caps Number of Sections the way the loader does.
func (b *builder) sectionCount() schema.Length {
	ref := schema.FieldRef(1, fieldFileHeader, "Number of Sections")
	return schema.Computed(func(ctx schema.Context) (int64, error) {
		n, err := ref.Uint(ctx)
		if err != nil {
			return 0, err
		}
		return int64(min(n, maxNumSections)), nil
	})
}

func (b *builder) fileHeader() schema.Type {
	return b.f.Struct(
		schema.F("Machine", b.f.Enum("ImageFileMachine", schema.UInt16, Machine)),
		schema.F("Number of Sections", b.u16()),
		schema.F("TimeDateStamp", b.u32()),
		schema.F("Pointer To Symbol Table", b.u32()),
		schema.F("Number of Symbols", b.u32()),
		schema.F("Size of Optional Header", b.u16()),
		schema.F("Characteristics", b.f.Flags("ImageFileCharacteristics", schema.UInt16, FileCharacteristics)),
	)
}

func (b *builder) sectionHeader() schema.Type {
	return b.f.Struct(
		schema.F("Name", b.f.String(schema.ASCII, schema.MaxBytes(8), schema.Padded())),
		schema.F("Physical Address Or VirtualSize", b.u32()),
		schema.F(fieldVirtualAddress, b.u32()),
		schema.F(fieldSizeOfRawData, b.u32()),
		schema.F(fieldPointerToRaw, b.u32()),
		schema.F("Pointer To Relocations", b.u32()),
		schema.F("Pointer To Line Numbers", b.u32()),
		schema.F("Number of Relocations", b.u16()),
		schema.F("Number of Line Numbers", b.u16()),
		schema.F("Characteristics", b.f.Flags("SectionCharacteristics", schema.UInt32, SectionCharacteristics)),
	)
}

func (b *builder) optionalHeader() schema.Type {
	magic := schema.FieldRef(0, "Magic")
	return b.f.TaggedUnion(
		[]schema.Field{
			schema.F("Magic", b.f.Enum("OptionalHeaderMagic", schema.UInt16, OptionalHeaderMagic)),
		},
		[]schema.Alternative{
			b.f.Alternative(schema.Equals(magic, OptionalHeaderMagic.MustValue("PE32")), b.optionalHeaderFields(false), "Optional Header PE32"),
			b.f.Alternative(schema.Equals(magic, OptionalHeaderMagic.MustValue("PE32+")), b.optionalHeaderFields(true), "Optional Header PE32+"),
		},
		nil,
	)
}

// optionalHeaderFields lays out the fields following Magic. The PE32+
// layout drops Base of Data and widens the image base and the stack and
// heap sizes to 64 bits.
func (b *builder) optionalHeaderFields(is64 bool) []schema.Field {
	word := b.u32()
	if is64 {
		word = b.u64()
	}
	fields := []schema.Field{
		schema.F("Major Linker Version", b.u8()),
		schema.F("Minor Linker Version", b.u8()),
		schema.F("Size of Code", b.u32()),
		schema.F("Size of Initialized Data", b.u32()),
		schema.F("Size of Uninitialized Data", b.u32()),
		schema.F("Address of Entry Point", b.u32()),
		schema.F("Base of Code", b.u32()),
	}
	if !is64 {
		fields = append(fields, schema.F("Base of Data", b.u32()))
	}
	return append(fields,
		schema.F("Image Base", word),
		schema.F("Section Alignment", b.u32()),
		schema.F("File Alignment", b.u32()),
		schema.F("Major Operating System Version", b.u16()),
		schema.F("Minor Operating System Version", b.u16()),
		schema.F("Major Image Version", b.u16()),
		schema.F("Minor Image Version", b.u16()),
		schema.F("Major Subsystem Version", b.u16()),
		schema.F("Minor Subsystem Version", b.u16()),
		schema.F("Win32 Version Value", b.u32()),
		schema.F("Size of Image", b.u32()),
		schema.F("Size of Headers", b.u32()),
		schema.F("CheckSum", b.u32()),
		schema.F("Subsystem", b.f.Enum("ImageSubsystem", schema.UInt16, Subsystem)),
		schema.F("Dll Characteristics", b.f.Flags("ImageFileDllCharacteristics", schema.UInt16, DllCharacteristics)),
		schema.F("Size of Stack Reserve", word),
		schema.F("Size of Stack Commit", word),
		schema.F("Size of Heap Reserve", word),
		schema.F("Size of Heap Commit", word),
		schema.F("Loader Flags", b.u32()),
		schema.F("Number of Rva And Sizes", b.u32()),
		schema.F(fieldDataDirectory, b.dataDirectory(is64)),
	)
}

func (b *builder) dataDirectory(is64 bool) schema.Type {
	entries := make([]schema.Field, 0, numDataDirectories)
	for i, name := range DataDirectoryNames {
		var t schema.Type
		switch i {
		case IMAGE_DIRECTORY_ENTRY_EXPORT:
			t = b.directory(b.exportDirectory())
		case IMAGE_DIRECTORY_ENTRY_IMPORT:
			t = b.directory(b.f.Array(b.importDescriptor(is64), countFrom(2, fieldSize, sizeImportDescriptor)))
		case IMAGE_DIRECTORY_ENTRY_RESOURCE:
			t = b.directory(b.resourceDirectory(1, false))
		case IMAGE_DIRECTORY_ENTRY_BASERELOC:
			t = b.directory(b.baseRelocation())
		case IMAGE_DIRECTORY_ENTRY_DEBUG:
			t = b.directory(b.f.Array(b.debugDirectory(), countFrom(2, fieldSize, sizeDebugDirectory)))
		case IMAGE_DIRECTORY_ENTRY_TLS:
			t = b.directory(b.tlsDirectory(is64))
		default:
			t = b.f.Struct(
				schema.F(fieldVirtualAddress, b.u32()),
				schema.F(fieldSize, b.u32()),
			)
		}
		entries = append(entries, schema.F(name, t))
	}
	return b.f.Struct(entries...)
}

// directory is a data directory entry whose address is followed to target.
func (b *builder) directory(target schema.Type) schema.Type {
	return b.f.Struct(
		schema.F(fieldVirtualAddress, b.optionalVirtualPointer(target)),
		schema.F(fieldSize, b.u32()),
	)
}

func (b *builder) exportDirectory() schema.Type {
	return b.f.Struct(
		schema.F("Characteristics (unused)", b.u32()),
		schema.F("TimeDateStamp", b.u32()),
		schema.F("Major Version", b.u16()),
		schema.F("Minor Version", b.u16()),
		schema.F("Name", b.virtualPointer(b.ascii())),
		schema.F("Base", b.u32()),
		schema.F("Number of Functions", b.u32()),
		schema.F("Number of Names", b.u32()),
		schema.F("Address of Functions", b.virtualPointer(
			b.f.Array(b.optionalVirtualPointer(b.u8()), schema.CountOf(schema.FieldRef(2, "Number of Functions"))))),
		schema.F("Address of Names", b.virtualPointer(
			b.f.Array(b.virtualPointer(b.ascii()), schema.CountOf(schema.FieldRef(2, "Number of Names"))))),
		schema.F("Address of Name Ordinals", b.virtualPointer(
			b.f.Array(b.u16(), schema.CountOf(schema.FieldRef(2, "Number of Names"))))),
	)
}

func (b *builder) importDescriptor(is64 bool) schema.Type {
	thunks := b.thunkTable(is64)
	return b.f.Struct(
		schema.F("Original First Thunk", b.optionalVirtualPointer(thunks)),
		schema.F("TimeDateStamp", b.u32()),
		schema.F("Forwarder Chain", b.u32()),
		schema.F("Name", b.optionalVirtualPointer(b.ascii())),
		schema.F("First Thunk", b.optionalVirtualPointer(thunks)),
	)
}

// thunkTable is a zero-terminated run of thunks. Each thunk overlays its
// raw Value with an Entry selected by the ordinal flag.
func (b *builder) thunkTable(is64 bool) schema.Type {
	value, flag, reserved := b.u32(), uint64(ordinalFlag32), 15
	if is64 {
		value, flag, reserved = b.u64(), ordinalFlag64, 47
	}
	raw := schema.FieldRef(1, "Value")

	byName := []schema.Field{
		schema.F("Hint/Name", b.virtualPointer(b.f.Struct(
			schema.F("Hint", b.u16()),
			schema.F("Name", b.ascii()),
		))),
	}
	if is64 {
		byName = append(byName, schema.F("Reserved", b.u32()))
	}

	thunk := b.f.Union(
		schema.F("Value", value),
		schema.F("Entry", b.f.TaggedUnion(
			nil,
			[]schema.Alternative{
				b.f.Alternative(schema.AnyBits(raw, flag), []schema.Field{
					schema.F("Ordinal", b.u16()),
					schema.F("Reserved", b.f.Bitfield(schema.BitUnsigned, reserved)),
					schema.F("Ordinal Flag", b.f.Bitfield(schema.BitBool, 1)),
				}, "Ordinal"),
				b.f.Alternative(schema.NonZero(raw), byName, "Name"),
			},
			nil,
		)),
	)
	return b.f.ArrayUntil(thunk, schema.IsZero(schema.FieldRef(0, "Value")), maxThunks)
}

func (b *builder) tlsDirectory(is64 bool) schema.Type {
	word := b.u32()
	if is64 {
		word = b.u64()
	}
	return b.f.Struct(
		schema.F("Start Address of Raw Data", word),
		schema.F("End Address of Raw Data", word),
		schema.F("Address of Index", word),
		schema.F("Address of CallBacks", word),
		schema.F("Size of Zero Fill", b.u32()),
		schema.F("Characteristics", b.f.Flags("TLS Characteristics", schema.UInt32, TLSCharacteristics)),
	)
}

func (b *builder) debugDirectory() schema.Type {
	debugType := schema.FieldRef(0, "Type")
	return b.f.TaggedUnion(
		[]schema.Field{
			schema.F("Characteristics (unused)", b.u32()),
			schema.F("TimeDateStamp", b.u32()),
			schema.F("Major Version", b.u16()),
			schema.F("Minor Version", b.u16()),
			schema.F("Type", b.f.Enum("Debug Type", schema.UInt32, DebugType)),
			schema.F("Size of Data", b.u32()),
		},
		[]schema.Alternative{
			b.f.Alternative(schema.Equals(debugType, IMAGE_DEBUG_TYPE_CODEVIEW), []schema.Field{
				schema.F("Address of Raw Data", b.optionalVirtualPointer(b.codeView())),
				schema.F("Pointer to Raw Data", b.u32()),
			}, "CodeView"),
		},
		[]schema.Field{
			schema.F("Address of Raw Data", b.optionalVirtualPointer(
				b.f.Array(b.u8(), schema.CountOf(schema.FieldRef(2, "Size of Data"))))),
			schema.F("Pointer to Raw Data", b.u32()),
		},
	)
}

func (b *builder) codeView() schema.Type {
	sig := schema.FieldRef(0, "Signature")
	pdb := b.f.String(schema.UTF8)
	return b.f.TaggedUnion(
		[]schema.Field{
			schema.F("Signature", b.f.String(schema.ASCII, schema.MaxBytes(4), schema.WithoutTerminator())),
		},
		[]schema.Alternative{
			b.f.Alternative(schema.TextEquals(sig, codeViewRSDS), []schema.Field{
				schema.F("GUID", b.f.Struct(
					schema.F("Data1", b.u32()),
					schema.F("Data2", b.u16()),
					schema.F("Data3", b.u16()),
					schema.F("Data4", b.bytes(8)),
				)),
				schema.F("Age", b.u32()),
				schema.F("PDB File Name", pdb),
			}, codeViewRSDS),
			b.f.Alternative(schema.TextEquals(sig, codeViewNB10), []schema.Field{
				schema.F("Offset", b.u32()),
				schema.F("Timestamp", b.u32()),
				schema.F("Age", b.u32()),
				schema.F("PDB File Name", pdb),
			}, codeViewNB10),
		},
		nil,
	)
}

func (b *builder) baseRelocation() schema.Type {
	size := schema.FieldRef(1, "Size of Block")
	return b.f.Struct(
		schema.F(fieldVirtualAddress, b.u32()),
		schema.F("Size of Block", b.u32()),
		schema.F("Relocations", b.f.Array(
			b.f.Struct(
				schema.F("Offset", b.f.Bitfield(schema.BitUnsigned, 12)),
				schema.F("Type", b.f.Bitfield(schema.BitUnsigned, 4)),
			),
			schema.Computed(func(ctx schema.Context) (int64, error) {
				n, err := size.Uint(ctx)
				if err != nil {
					return 0, err
				}
				return int64(n)/2 - 4, nil
			}),
		)),
		schema.F("Padding", b.u16()),
	)
}
