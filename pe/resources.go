// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pe

import (
	"fmt"
	"unicode/utf16"

	"github.com/dblohm7/pestruct/schema"
)

// RT_VERSION is the resource type of the version resource.
const RT_VERSION = 16

const (
	// resourceHighBit marks a name offset in Name Or ID and a subdirectory
	// offset in Offset To Data.
	resourceHighBit = 1 << 31
	// The loader walks type, name and language levels.
	resourceLevels = 3

	fieldNameOrID      = "Name Or ID"
	fieldOffsetToData  = "Offset To Data"
	fieldEntries       = "Entries"
	fieldSubdirectory  = "Subdirectory"
	fieldDataEntry     = "Data Entry"
	altVersion         = "Version"
	versionFixedSig    = 0xFEEF04BD
	maxVersionKey      = 512
	maxVersionText     = 1 << 14
	maxVersionChildren = 1 << 10

	versionStringFileInfo = "StringFileInfo"
	versionVarFileInfo    = "VarFileInfo"
	versionTranslation    = "Translation"
)

// resourceTranslator maps an offset from the start of the resource
// directory, high bit ignored, to a file offset.
func (b *builder) resourceTranslator() schema.Translator {
	virtual := b.translator()
	return func(ctx schema.Context, off uint64) (uint64, error) {
		base, err := ctx.RootField(fieldDosHeader, fieldNewHeaderOffset, fieldOptionalHeader, fieldDataDirectory,
			DataDirectoryNames[IMAGE_DIRECTORY_ENTRY_RESOURCE], fieldVirtualAddress)
		if err != nil {
			return 0, err
		}
		rva, err := base.Uint()
		if err != nil {
			return 0, err
		}
		rva += off &^ resourceHighBit
		if virtual == nil {
			return rva, nil
		}
		return virtual(ctx, rva)
	}
}

func (b *builder) resourcePointer(target schema.Type) schema.Type {
	return b.f.Pointer(schema.UInt32, target, schema.WithTranslator(b.resourceTranslator()))
}

// resourceDirectory is an IMAGE_RESOURCE_DIRECTORY at level 1 (types), 2
// (names) or 3 (languages). Below a version type entry, data entries are
// followed into the version resource.
func (b *builder) resourceDirectory(level int, version bool) schema.Type {
	named := schema.FieldRef(1, "Number of Named Entries")
	ids := schema.FieldRef(1, "Number of Id Entries")
	return b.f.Struct(
		schema.F("Characteristics", b.u32()),
		schema.F("TimeDateStamp", b.u32()),
		schema.F("Major Version", b.u16()),
		schema.F("Minor Version", b.u16()),
		schema.F("Number of Named Entries", b.u16()),
		schema.F("Number of Id Entries", b.u16()),
		schema.F(fieldEntries, b.f.Array(b.resourceEntry(level, version), schema.Computed(func(ctx schema.Context) (int64, error) {
			n, err := named.Uint(ctx)
			if err != nil {
				return 0, err
			}
			m, err := ids.Uint(ctx)
			if err != nil {
				return 0, err
			}
			return int64(n + m), nil
		}))),
	)
}

func (b *builder) resourceEntry(level int, version bool) schema.Type {
	raw := schema.FieldRef(1, "Value")
	isDir := schema.AnyBits(raw, resourceHighBit)
	isData := func(ctx schema.Context) (bool, error) {
		dir, err := isDir(ctx)
		return !dir, err
	}

	var alts []schema.Alternative
	if level == 1 && !version {
		id := schema.FieldRef(2, fieldNameOrID, "Value")
		alts = append(alts, b.f.Alternative(allOf(isDir, schema.Equals(id, RT_VERSION)), []schema.Field{
			schema.F(fieldSubdirectory, b.resourcePointer(b.resourceDirectory(level+1, true))),
		}, altVersion))
	}
	if level < resourceLevels {
		alts = append(alts, b.f.Alternative(isDir, []schema.Field{
			schema.F(fieldSubdirectory, b.resourcePointer(b.resourceDirectory(level+1, version))),
		}, fieldSubdirectory))
	} else {
		alts = append(alts, b.f.Alternative(isData, []schema.Field{
			schema.F(fieldDataEntry, b.resourcePointer(b.resourceDataEntry(version))),
		}, fieldDataEntry))
	}

	return b.f.Struct(
		schema.F(fieldNameOrID, b.resourceName(level)),
		schema.F(fieldOffsetToData, b.f.Union(
			schema.F("Value", b.u32()),
			schema.F("Entry", b.f.TaggedUnion(nil, alts, nil)),
		)),
	)
}

// resourceName overlays Name Or ID with either the counted UTF-16 name it
// points to or the integer ID.
func (b *builder) resourceName(level int) schema.Type {
	raw := schema.FieldRef(1, "Value")
	id := b.u16()
	if level == 1 {
		id = b.f.Enum("Resource Type", schema.UInt16, ResourceType)
	}
	return b.f.Union(
		schema.F("Value", b.u32()),
		schema.F("Entry", b.f.TaggedUnion(
			nil,
			[]schema.Alternative{
				b.f.Alternative(schema.AnyBits(raw, resourceHighBit), []schema.Field{
					schema.F("Name", b.resourcePointer(b.f.Struct(
						schema.F("Length", b.u16()),
						schema.F("Name String", b.f.Array(b.u16(), schema.CountOf(schema.FieldRef(1, "Length")))),
					))),
				}, "Name"),
			},
			[]schema.Field{schema.F("ID", id)},
		)),
	)
}

// resourceDataEntry is an IMAGE_RESOURCE_DATA_ENTRY. Its Data is a relative
// virtual address, not an offset into the resource directory.
func (b *builder) resourceDataEntry(version bool) schema.Type {
	data := b.u32()
	if version {
		data = b.optionalVirtualPointer(b.versionInfo())
	}
	return b.f.Struct(
		schema.F("Data", data),
		schema.F(fieldSize, b.u32()),
		schema.F("Code Page", b.u32()),
		schema.F("Reserved", b.u32()),
	)
}

func allOf(preds ...schema.Predicate) schema.Predicate {
	return func(ctx schema.Context) (bool, error) {
		for _, p := range preds {
			ok, err := p(ctx)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

// VS_VERSIONINFO and the blocks below it share a header: Length, Value
// Length, Type and a NUL-terminated UTF-16 key, each block starting on a
// 32-bit boundary.

// pad4 pads to the next 32-bit boundary.
var pad4 = schema.Computed(func(ctx schema.Context) (int64, error) {
	off := ctx.Self().Offset()
	return schema.AlignUp(off, 4) - off, nil
})

// blockEnd pads from the end of a block's content to its declared Length,
// rounded up to 32 bits.
var blockEnd = schema.Computed(func(ctx schema.Context) (int64, error) {
	length, err := schema.FieldRef(1, "Length").Uint(ctx)
	if err != nil {
		return 0, err
	}
	end := schema.AlignUp(ctx.Parent().Offset()+int64(length), 4)
	return end - ctx.Self().Offset(), nil
})

// blockRoom holds while a block's Children start before its end.
func blockRoom(ctx schema.Context) (bool, error) {
	block := ctx.Parent()
	length, err := schema.FieldRef(1, "Length").Uint(ctx)
	if err != nil {
		return false, err
	}
	return ctx.Self().Offset() < block.Offset()+int64(length), nil
}

// lastChild holds for the child block that reaches its parent's end, and
// for a zero-length child, which cannot advance.
func lastChild(ctx schema.Context) (bool, error) {
	child := ctx.Self()
	n, err := schema.FieldRef(0, "Length").Uint(ctx)
	if err != nil || n == 0 {
		return true, err
	}
	parentLen, err := schema.FieldRef(3, "Length").Uint(ctx)
	if err != nil {
		return true, err
	}
	block := ctx.Up(3)
	return schema.AlignUp(child.Offset()+int64(n), 4) >= block.Offset()+int64(parentLen), nil
}

func (b *builder) versionHeader() []schema.Field {
	return []schema.Field{
		schema.F("Length", b.u16()),
		schema.F("Value Length", b.u16()),
		schema.F("Type", b.u16()),
		schema.F("Key", b.f.String(schema.UTF16LE, schema.MaxBytes(maxVersionKey))),
		schema.F("Padding", b.f.Array(b.u8(), pad4)),
	}
}

func (b *builder) trailingPadding() schema.Field {
	return schema.F("Trailing Padding", b.f.Array(b.u8(), blockEnd))
}

func (b *builder) versionBlock(body ...schema.Field) schema.Type {
	fields := append(b.versionHeader(), body...)
	return b.f.Struct(append(fields, b.trailingPadding())...)
}

// versionChildren is the run of child blocks filling the rest of a block,
// or nothing when the block ends with its value.
func (b *builder) versionChildren(child schema.Type) schema.Field {
	return schema.F("Children", b.f.TaggedUnion(nil, []schema.Alternative{
		b.f.Alternative(blockRoom, []schema.Field{
			schema.F("Items", b.f.ArrayUntil(child, lastChild, maxVersionChildren)),
		}, "Items"),
	}, nil))
}

// versionInfo is VS_VERSIONINFO: a VS_FIXEDFILEINFO value followed by
// StringFileInfo and VarFileInfo blocks.
func (b *builder) versionInfo() schema.Type {
	valueLength := schema.FieldRef(1, "Value Length")
	return b.versionBlock(
		schema.F("Value", b.f.TaggedUnion(nil, []schema.Alternative{
			b.f.Alternative(schema.NonZero(valueLength), []schema.Field{
				schema.F("Fixed File Info", b.fixedFileInfo()),
			}, "Fixed File Info"),
		}, nil)),
		schema.F("Value Padding", b.f.Array(b.u8(), pad4)),
		b.versionChildren(b.fileInfo()),
	)
}

// fileInfo is a StringFileInfo or VarFileInfo block, told apart by key.
// Blocks with other keys are skipped by their Length.
func (b *builder) fileInfo() schema.Type {
	key := schema.FieldRef(0, "Key")
	return b.f.TaggedUnion(
		b.versionHeader(),
		[]schema.Alternative{
			b.f.Alternative(schema.TextEquals(key, versionStringFileInfo), []schema.Field{
				b.versionChildren(b.stringTable()),
				b.trailingPadding(),
			}, versionStringFileInfo),
			b.f.Alternative(schema.TextEquals(key, versionVarFileInfo), []schema.Field{
				b.versionChildren(b.versionVar()),
				b.trailingPadding(),
			}, versionVarFileInfo),
		},
		[]schema.Field{b.trailingPadding()},
	)
}

func (b *builder) fixedFileInfo() schema.Type {
	return b.f.Struct(
		schema.F("Signature", b.u32()),
		schema.F("Struct Version", b.u32()),
		schema.F("File Version MS", b.u32()),
		schema.F("File Version LS", b.u32()),
		schema.F("Product Version MS", b.u32()),
		schema.F("Product Version LS", b.u32()),
		schema.F("File Flags Mask", b.u32()),
		schema.F("File Flags", b.f.Flags("VS_FF", schema.UInt32, VersionFileFlags)),
		schema.F("File OS", b.u32()),
		schema.F("File Type", b.f.Enum("VFT", schema.UInt32, VersionFileType)),
		schema.F("File Subtype", b.u32()),
		schema.F("File Date MS", b.u32()),
		schema.F("File Date LS", b.u32()),
	)
}

// stringTable is keyed by its language and code page in hex.
func (b *builder) stringTable() schema.Type {
	valueLength := schema.FieldRef(1, "Value Length")
	entry := b.versionBlock(
		schema.F("Value", b.f.TaggedUnion(nil, []schema.Alternative{
			b.f.Alternative(schema.NonZero(valueLength), []schema.Field{
				schema.F("Text", b.f.String(schema.UTF16LE, schema.MaxBytes(maxVersionText))),
			}, "Text"),
		}, nil)),
	)
	return b.versionBlock(b.versionChildren(entry))
}

// versionVar is a Var block; the Translation var lists DWORDs holding a
// language in the low word and a code page in the high word.
func (b *builder) versionVar() schema.Type {
	return b.versionBlock(
		schema.F("Value", b.f.Array(b.u32(), countFrom(1, "Value Length", 4))),
	)
}

// Resource is one leaf of the resource tree.
type Resource struct {
	Type     uint32
	TypeName string
	Name     string
	ID       uint32
	Language uint32
	RVA      uint32
	Size     uint32
	CodePage uint32
	Node     *schema.Node
}

// Resources walks the type, name and language levels of the resource
// directory and returns its data entries in directory order.
func (img *Image) Resources() ([]Resource, error) {
	dd, err := img.DataDirectory(IMAGE_DIRECTORY_ENTRY_RESOURCE)
	if err != nil {
		return nil, err
	}
	root, err := dd.target()
	if err != nil {
		return nil, err
	}

	var out []Resource
	var walk func(dir *schema.Node, level int, res Resource) error
	walk = func(dir *schema.Node, level int, res Resource) error {
		entries, err := dir.Child(fieldEntries)
		if err != nil {
			return err
		}
		for _, e := range entries.Children() {
			name, id, err := resourceEntryName(e)
			if err != nil {
				return fmt.Errorf("resource %s: %w", e.Path(), err)
			}
			switch level {
			case 1:
				res.Type, res.TypeName = id, name
				if name == "" {
					res.TypeName = symbolName(ResourceType, uint64(id))
				}
			case 2:
				res.Name, res.ID = name, id
			default:
				res.Language = id
			}
			next, kind, err := resourceEntryTarget(e)
			if err != nil {
				return fmt.Errorf("resource %s: %w", e.Path(), err)
			}
			if kind == fieldSubdirectory {
				if err := walk(next, level+1, res); err != nil {
					return err
				}
				continue
			}
			if kind != fieldDataEntry {
				continue
			}
			r := fieldReader{n: next}
			leaf := res
			leaf.RVA = r.u32("Data")
			leaf.Size = r.u32(fieldSize)
			leaf.CodePage = r.u32("Code Page")
			leaf.Node = next
			if r.err != nil {
				return fmt.Errorf("resource %s: %w", e.Path(), r.err)
			}
			out = append(out, leaf)
		}
		return nil
	}
	return out, walk(root, 1, Resource{})
}

func symbolName(syms *schema.Symbols, v uint64) string {
	if l, ok := syms.Label(v); ok {
		return l
	}
	return fmt.Sprintf("#%d", v)
}

// resourceEntryName returns the name of a named entry or the ID of an
// integer one.
func resourceEntryName(e *schema.Node) (string, uint32, error) {
	n, err := e.Lookup(fieldNameOrID, "Entry")
	if err != nil {
		return "", 0, err
	}
	if n.Selected() != "Name" {
		id, err := n.Lookup("ID")
		if err != nil {
			return "", 0, err
		}
		v, err := id.Uint()
		return "", uint32(v), err
	}
	chars, err := n.Lookup("Name", "Name String")
	if err != nil {
		return "", 0, err
	}
	units := make([]uint16, 0, chars.Len())
	for _, c := range chars.Children() {
		v, err := c.Uint()
		if err != nil {
			return "", 0, err
		}
		units = append(units, uint16(v))
	}
	return string(utf16.Decode(units)), 0, nil
}

// resourceEntryTarget follows an entry to its subdirectory or data entry
// and reports which it is. Entries of neither kind at their level yield
// no node.
func resourceEntryTarget(e *schema.Node) (*schema.Node, string, error) {
	sel, err := e.Lookup(fieldOffsetToData, "Entry")
	if err != nil {
		return nil, "", err
	}
	var field string
	switch sel.Selected() {
	case fieldSubdirectory, altVersion:
		field = fieldSubdirectory
	case fieldDataEntry:
		field = fieldDataEntry
	default:
		return nil, "", nil
	}
	p, err := sel.Child(field)
	if err != nil {
		return nil, "", err
	}
	t := p.Target()
	if t == nil {
		return nil, "", fmt.Errorf("%s: %w", field, p.Err())
	}
	return t, field, nil
}
