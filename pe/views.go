// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pe

import (
	"cmp"
	"fmt"
	"strings"

	"github.com/dblohm7/pestruct/schema"
)

// ImportedFunction is one entry of an import lookup table.
type ImportedFunction struct {
	Name      string
	Hint      uint16
	Ordinal   uint16
	ByOrdinal bool
}

func (f ImportedFunction) String() string {
	if f.ByOrdinal {
		return fmt.Sprintf("#%d", f.Ordinal)
	}
	return f.Name
}

// ImportedModule is a DLL named by the import directory, with the
// functions imported from it.
type ImportedModule struct {
	Name      string
	Functions []ImportedFunction
	Node      *schema.Node
}

// Imports returns the modules and functions img imports.
func (img *Image) Imports() ([]ImportedModule, error) {
	dd, err := img.DataDirectory(IMAGE_DIRECTORY_ENTRY_IMPORT)
	if err != nil {
		return nil, err
	}
	descs, err := dd.target()
	if err != nil {
		return nil, err
	}

	var out []ImportedModule
	for _, d := range descs.Children() {
		name, err := d.Child("Name")
		if err != nil {
			return out, err
		}
		if !name.Present() {
			// The all-zero descriptor ends the table.
			break
		}
		mod := ImportedModule{Node: d}
		r := fieldReader{n: d}
		mod.Name = r.text("Name", schema.TargetName)
		if r.err != nil {
			return out, fmt.Errorf("import %s: %w", d.Name(), r.err)
		}

		thunks, err := importThunks(d)
		if err != nil {
			return out, fmt.Errorf("import %s: %w", mod.Name, err)
		}
		for _, th := range thunks.Children() {
			f, ok, err := importedFunction(th)
			if err != nil {
				return out, fmt.Errorf("import %s%s: %w", mod.Name, th.Name(), err)
			}
			if !ok {
				break
			}
			mod.Functions = append(mod.Functions, f)
		}
		out = append(out, mod)
	}
	return out, nil
}

// importThunks prefers the import lookup table, which the loader leaves
// intact, over the import address table.
func importThunks(desc *schema.Node) (*schema.Node, error) {
	for _, field := range []string{"Original First Thunk", "First Thunk"} {
		p, err := desc.Child(field)
		if err != nil {
			return nil, err
		}
		if !p.Present() {
			continue
		}
		if t := p.Target(); t != nil {
			return t, nil
		}
		return nil, fmt.Errorf("%s: %w", field, p.Err())
	}
	return nil, fmt.Errorf("no thunk table: %w", ErrNotPresent)
}

func importedFunction(thunk *schema.Node) (ImportedFunction, bool, error) {
	entry, err := thunk.Child("Entry")
	if err != nil {
		return ImportedFunction{}, false, err
	}
	r := fieldReader{n: entry}
	var f ImportedFunction
	switch entry.Selected() {
	case "Ordinal":
		f.ByOrdinal = true
		f.Ordinal = r.u16("Ordinal")
	case "Name":
		f.Hint = r.u16("Hint/Name", "Hint")
		f.Name = r.text("Hint/Name", "Name")
	default:
		return f, false, nil
	}
	return f, true, r.err
}

// ExportedFunction is one entry of the export address table.
type ExportedFunction struct {
	Ordinal uint32
	Address uint32
	// Names lists every name exported for this function.
	Names []string
	// Forwarder is set when Address refers to a forwarder string inside
	// the export directory instead of code.
	Forwarder string
}

// Exports describes the export directory.
type Exports struct {
	Name      string
	Base      uint32
	Functions []ExportedFunction
	Node      *schema.Node
}

// Lookup returns the function exported as name.
func (e *Exports) Lookup(name string) (ExportedFunction, bool) {
	for _, f := range e.Functions {
		for _, n := range f.Names {
			if n == name {
				return f, true
			}
		}
	}
	return ExportedFunction{}, false
}

// Exports returns img's export directory.
func (img *Image) Exports() (*Exports, error) {
	dd, err := img.DataDirectory(IMAGE_DIRECTORY_ENTRY_EXPORT)
	if err != nil {
		return nil, err
	}
	dir, err := dd.target()
	if err != nil {
		return nil, err
	}

	r := fieldReader{n: dir}
	exp := &Exports{
		Name: r.text("Name", schema.TargetName),
		Base: r.u32("Base"),
		Node: dir,
	}
	funcs := r.node("Address of Functions", schema.TargetName)
	names := r.node("Address of Names", schema.TargetName)
	ordinals := r.node("Address of Name Ordinals", schema.TargetName)
	if r.err != nil {
		return nil, fmt.Errorf("export directory: %w", r.err)
	}

	for i, f := range funcs.Children() {
		addr, err := f.Uint()
		if err != nil {
			return nil, err
		}
		fn := ExportedFunction{Ordinal: exp.Base + uint32(i), Address: uint32(addr)}
		if addr >= uint64(dd.VirtualAddress) && addr-uint64(dd.VirtualAddress) < uint64(dd.Size) {
			if fn.Forwarder, err = img.stringAt(addr); err != nil {
				return nil, fmt.Errorf("forwarder for ordinal %d: %w", fn.Ordinal, err)
			}
		}
		exp.Functions = append(exp.Functions, fn)
	}

	for i, n := range names.Children() {
		nr := fieldReader{n: n}
		name := nr.text(schema.TargetName)
		ordR := fieldReader{n: ordinals.Index(i)}
		idx := ordR.uint()
		if err := cmp.Or(nr.err, ordR.err); err != nil {
			return nil, fmt.Errorf("export name %d: %w", i, err)
		}
		if idx >= uint64(len(exp.Functions)) {
			return nil, fmt.Errorf("export %q: ordinal index %d: %w", name, idx, ErrIndexOutOfRange)
		}
		exp.Functions[idx].Names = append(exp.Functions[idx].Names, name)
	}
	return exp, nil
}

// DebugEntry is one entry of the debug directory.
type DebugEntry struct {
	Characteristics  uint32
	TimeDateStamp    uint32
	MajorVersion     uint16
	MinorVersion     uint16
	Type             uint32 // an IMAGE_DEBUG_TYPE constant
	SizeOfData       uint32
	AddressOfRawData uint32
	PointerToRawData uint32
	Node             *schema.Node
}

// TypeName returns the label of e.Type.
func (e DebugEntry) TypeName() string {
	if l, ok := DebugType.Label(uint64(e.Type)); ok {
		return l
	}
	return fmt.Sprintf("Unknown (%d)", e.Type)
}

// DebugEntries returns the debug directory.
func (img *Image) DebugEntries() ([]DebugEntry, error) {
	dd, err := img.DataDirectory(IMAGE_DIRECTORY_ENTRY_DEBUG)
	if err != nil {
		return nil, err
	}
	arr, err := dd.target()
	if err != nil {
		return nil, err
	}
	out := make([]DebugEntry, 0, arr.Len())
	for _, n := range arr.Children() {
		r := fieldReader{n: n}
		e := DebugEntry{
			Characteristics:  r.u32("Characteristics (unused)"),
			TimeDateStamp:    r.u32("TimeDateStamp"),
			MajorVersion:     r.u16("Major Version"),
			MinorVersion:     r.u16("Minor Version"),
			Type:             r.u32("Type"),
			SizeOfData:       r.u32("Size of Data"),
			AddressOfRawData: r.u32("Address of Raw Data"),
			PointerToRawData: r.u32("Pointer to Raw Data"),
			Node:             n,
		}
		if r.err != nil {
			return out, fmt.Errorf("debug entry %s: %w", n.Name(), r.err)
		}
		out = append(out, e)
	}
	return out, nil
}

// DebugRawData returns the bytes e describes.
func (img *Image) DebugRawData(e DebugEntry) ([]byte, error) {
	off := uint64(e.PointerToRawData)
	if img.cfg.Mapped {
		off = uint64(e.AddressOfRawData)
	}
	if off == 0 || e.SizeOfData == 0 {
		return nil, ErrNotPresent
	}
	n := img.decodeAt(schema.Std.Array(schema.Std.Primitive(schema.UInt8), schema.Literal(int64(e.SizeOfData))), off)
	if err := n.Err(); err != nil {
		return nil, err
	}
	return n.Bytes()
}

// GUID is a Windows GUID in its in-memory layout.
type GUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

func (g GUID) String() string {
	return fmt.Sprintf("{%08X-%04X-%04X-%02X%02X-%02X%02X%02X%02X%02X%02X}",
		g.Data1, g.Data2, g.Data3,
		g.Data4[0], g.Data4[1], g.Data4[2], g.Data4[3],
		g.Data4[4], g.Data4[5], g.Data4[6], g.Data4[7])
}

const (
	codeViewRSDS = "RSDS"
	codeViewNB10 = "NB10"
)

// CodeViewInfo is the CodeView record a debug entry refers to. GUID is set
// for "RSDS" records; Offset and Timestamp for "NB10" ones.
type CodeViewInfo struct {
	Signature string
	GUID      GUID
	Offset    uint32
	Timestamp uint32
	Age       uint32
	PDBPath   string
}

// String returns the data from cv formatted in the same way that Microsoft
// debugging tools and symbol servers use to identify PDB files corresponding
// to a specific binary.
func (cv *CodeViewInfo) String() string {
	var b strings.Builder
	if cv.Signature == codeViewNB10 {
		fmt.Fprintf(&b, "%08X", cv.Timestamp)
	} else {
		fmt.Fprintf(&b, "%08X%04X%04X", cv.GUID.Data1, cv.GUID.Data2, cv.GUID.Data3)
		for _, v := range cv.GUID.Data4 {
			fmt.Fprintf(&b, "%02X", v)
		}
	}
	fmt.Fprintf(&b, "%X", cv.Age)
	return b.String()
}

// ExtractCodeViewInfo obtains CodeView debug information from e, assuming
// that e represents CodeView debug info. When the decoded tree has no
// record, for instance because AddressOfRawData is zero, the record is read
// from PointerToRawData instead.
func (img *Image) ExtractCodeViewInfo(e DebugEntry) (*CodeViewInfo, error) {
	if e.Type != IMAGE_DEBUG_TYPE_CODEVIEW {
		return nil, ErrNotCodeView
	}

	var rec *schema.Node
	if p, err := e.Node.Child("Address of Raw Data"); err == nil {
		rec = p.Target()
	}
	if (rec == nil || !rec.Valid()) && !img.cfg.Mapped && e.PointerToRawData != 0 {
		b := &builder{f: schema.Std, cfg: img.cfg}
		rec = img.decodeAt(b.codeView(), uint64(e.PointerToRawData))
	}
	if rec == nil {
		return nil, ErrNotPresent
	}
	return codeViewFromNode(rec)
}

func codeViewFromNode(rec *schema.Node) (*CodeViewInfo, error) {
	r := fieldReader{n: rec}
	cv := &CodeViewInfo{Signature: r.text("Signature")}
	switch rec.Selected() {
	case codeViewRSDS:
		cv.GUID.Data1 = r.u32("GUID", "Data1")
		cv.GUID.Data2 = r.u16("GUID", "Data2")
		cv.GUID.Data3 = r.u16("GUID", "Data3")
		copy(cv.GUID.Data4[:], r.bytes("GUID", "Data4"))
	case codeViewNB10:
		cv.Offset = r.u32("Offset")
		cv.Timestamp = r.u32("Timestamp")
	default:
		if r.err != nil {
			return nil, r.err
		}
		return nil, fmt.Errorf("%w: signature %q", ErrNotCodeView, cv.Signature)
	}
	cv.Age = r.u32("Age")
	cv.PDBPath = r.text("PDB File Name")
	if r.err != nil {
		return nil, r.err
	}
	return cv, nil
}

// CodeViewInfo returns the first CodeView record in the debug directory.
func (img *Image) CodeViewInfo() (*CodeViewInfo, error) {
	entries, err := img.DebugEntries()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Type == IMAGE_DEBUG_TYPE_CODEVIEW {
			return img.ExtractCodeViewInfo(e)
		}
	}
	return nil, ErrNotPresent
}

// Relocation is one base relocation.
type Relocation struct {
	Offset uint16
	Type   uint8
}

// TypeName returns the label of r.Type.
func (r Relocation) TypeName() string {
	if l, ok := RelocationType.Label(uint64(r.Type)); ok {
		return l
	}
	return fmt.Sprintf("Unknown (%d)", r.Type)
}

// RelocationBlock holds the relocations for one page.
type RelocationBlock struct {
	VirtualAddress uint32
	SizeOfBlock    uint32
	Relocations    []Relocation
	Node           *schema.Node
}

// Relocations returns the base relocation blocks. The decoded tree holds
// the first block; the rest of the directory is decoded block by block.
func (img *Image) Relocations() ([]RelocationBlock, error) {
	dd, err := img.DataDirectory(IMAGE_DIRECTORY_ENTRY_BASERELOC)
	if err != nil {
		return nil, err
	}
	first, err := dd.target()
	if err != nil {
		return nil, err
	}

	b := &builder{f: schema.Std, cfg: img.cfg}
	blockType := b.baseRelocation()
	var out []RelocationBlock
	start := uint64(first.Offset())
	for pos, n := uint64(0), first; pos < uint64(dd.Size); {
		if n == nil {
			n = img.decodeAt(blockType, start+pos)
		}
		blk, err := relocationBlock(n)
		if err != nil {
			return out, err
		}
		out = append(out, blk)
		if blk.SizeOfBlock < 8 {
			break
		}
		pos += uint64(blk.SizeOfBlock)
		n = nil
	}
	return out, nil
}

func relocationBlock(n *schema.Node) (RelocationBlock, error) {
	r := fieldReader{n: n}
	blk := RelocationBlock{
		VirtualAddress: r.u32(fieldVirtualAddress),
		SizeOfBlock:    r.u32("Size of Block"),
		Node:           n,
	}
	rels := r.node("Relocations")
	if r.err != nil {
		return blk, fmt.Errorf("relocation block at 0x%X: %w", n.Offset(), r.err)
	}
	if err := rels.Err(); err != nil {
		return blk, fmt.Errorf("relocation block at 0x%X: %w", n.Offset(), err)
	}
	for _, e := range rels.Children() {
		er := fieldReader{n: e}
		blk.Relocations = append(blk.Relocations, Relocation{
			Offset: er.u16("Offset"),
			Type:   uint8(er.uint("Type")),
		})
		if er.err != nil {
			return blk, er.err
		}
	}
	return blk, nil
}

// TLSDirectory is the thread local storage directory. Addresses are
// virtual addresses, not RVAs.
type TLSDirectory struct {
	StartAddressOfRawData uint64
	EndAddressOfRawData   uint64
	AddressOfIndex        uint64
	AddressOfCallBacks    uint64
	SizeOfZeroFill        uint32
	Characteristics       uint32
	Node                  *schema.Node
}

// TLS returns img's TLS directory.
func (img *Image) TLS() (*TLSDirectory, error) {
	dd, err := img.DataDirectory(IMAGE_DIRECTORY_ENTRY_TLS)
	if err != nil {
		return nil, err
	}
	n, err := dd.target()
	if err != nil {
		return nil, err
	}
	r := fieldReader{n: n}
	tls := &TLSDirectory{
		StartAddressOfRawData: r.uint("Start Address of Raw Data"),
		EndAddressOfRawData:   r.uint("End Address of Raw Data"),
		AddressOfIndex:        r.uint("Address of Index"),
		AddressOfCallBacks:    r.uint("Address of CallBacks"),
		SizeOfZeroFill:        r.u32("Size of Zero Fill"),
		Characteristics:       r.u32("Characteristics"),
		Node:                  n,
	}
	return tls, r.err
}
