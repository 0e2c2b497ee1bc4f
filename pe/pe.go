// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package pe describes PE32 and PE32+ binaries as a schema and provides
// typed views over the decoded tree.
package pe

import (
	"bytes"
	dpe "debug/pe"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"github.com/dblohm7/pestruct/internal/logging"
	"github.com/dblohm7/pestruct/schema"
)

var (
	ErrBadLength           = errors.New("effective length did not match expected length")
	ErrNotCodeView         = errors.New("debug info is not CodeView")
	ErrNotPresent          = errors.New("not present in this PE image")
	ErrIndexOutOfRange     = errors.New("index out of range")
	ErrInvalidBinary       = errors.New("invalid PE binary")
	ErrUnavailableInModule = errors.New("this information is unavailable from loaded modules; the PE file itself must be examined")
)

const (
	IMAGE_DIRECTORY_ENTRY_EXPORT         = dpe.IMAGE_DIRECTORY_ENTRY_EXPORT
	IMAGE_DIRECTORY_ENTRY_IMPORT         = dpe.IMAGE_DIRECTORY_ENTRY_IMPORT
	IMAGE_DIRECTORY_ENTRY_RESOURCE       = dpe.IMAGE_DIRECTORY_ENTRY_RESOURCE
	IMAGE_DIRECTORY_ENTRY_EXCEPTION      = dpe.IMAGE_DIRECTORY_ENTRY_EXCEPTION
	IMAGE_DIRECTORY_ENTRY_SECURITY       = dpe.IMAGE_DIRECTORY_ENTRY_SECURITY
	IMAGE_DIRECTORY_ENTRY_BASERELOC      = dpe.IMAGE_DIRECTORY_ENTRY_BASERELOC
	IMAGE_DIRECTORY_ENTRY_DEBUG          = dpe.IMAGE_DIRECTORY_ENTRY_DEBUG
	IMAGE_DIRECTORY_ENTRY_ARCHITECTURE   = dpe.IMAGE_DIRECTORY_ENTRY_ARCHITECTURE
	IMAGE_DIRECTORY_ENTRY_GLOBALPTR      = dpe.IMAGE_DIRECTORY_ENTRY_GLOBALPTR
	IMAGE_DIRECTORY_ENTRY_TLS            = dpe.IMAGE_DIRECTORY_ENTRY_TLS
	IMAGE_DIRECTORY_ENTRY_LOAD_CONFIG    = dpe.IMAGE_DIRECTORY_ENTRY_LOAD_CONFIG
	IMAGE_DIRECTORY_ENTRY_BOUND_IMPORT   = dpe.IMAGE_DIRECTORY_ENTRY_BOUND_IMPORT
	IMAGE_DIRECTORY_ENTRY_IAT            = dpe.IMAGE_DIRECTORY_ENTRY_IAT
	IMAGE_DIRECTORY_ENTRY_DELAY_IMPORT   = dpe.IMAGE_DIRECTORY_ENTRY_DELAY_IMPORT
	IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR = dpe.IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR
)

// IMAGE_DEBUG_TYPE_CODEVIEW identifies a debug directory entry as pointing
// to CodeView debug information.
const IMAGE_DEBUG_TYPE_CODEVIEW = 2

const (
	dosSignature = "MZ"
	ntSignature  = "PE\x00\x00"
)

// Image is a decoded PE binary.
type Image struct {
	src    schema.Source
	closer io.Closer
	cfg    Config
	root   *schema.Node
	nt     *schema.Node
}

// NewImageFromFileName opens and decodes the PE binary at filename. The
// returned Image must be closed.
func NewImageFromFileName(filename string, cfg Config) (*Image, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	img, err := newImage(io.NewSectionReader(f, 0, fi.Size()), f, cfg)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return img, nil
}

// NewImageFromBytes decodes the PE binary held in b.
func NewImageFromBytes(b []byte, cfg Config) (*Image, error) {
	return newImage(bytes.NewReader(b), nil, cfg)
}

// NewImageFromReaderAt decodes the first size bytes of r.
func NewImageFromReaderAt(r io.ReaderAt, size int64, cfg Config) (*Image, error) {
	return newImage(io.NewSectionReader(r, 0, size), nil, cfg)
}

func newImage(src schema.Source, closer io.Closer, cfg Config) (*Image, error) {
	var magic [2]byte
	if _, err := src.ReadAt(magic[:], 0); err != nil || string(magic[:]) != dosSignature {
		return nil, fmt.Errorf("%w: missing %q signature", ErrInvalidBinary, dosSignature)
	}

	root := Decode(src, cfg)
	nt, err := root.Lookup(fieldDosHeader, fieldNewHeaderOffset, schema.TargetName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBinary, err)
	}
	sig, err := nt.Lookup("Signature")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBinary, err)
	}
	if b, err := sig.Bytes(); err != nil || string(b) != ntSignature {
		return nil, fmt.Errorf("%w: missing NT signature at 0x%X", ErrInvalidBinary, nt.Offset())
	}

	img := &Image{src: src, closer: closer, cfg: cfg, root: root, nt: nt}
	img.logger().Debug("decoded image",
		logging.FieldOffset, nt.Offset(),
		logging.FieldFormat, img.Format(),
		logging.FieldCount, len(img.sectionNodes()))
	return img, nil
}

func (img *Image) logger() *log.Logger {
	if img.cfg.Decode.Logger != nil {
		return img.cfg.Decode.Logger
	}
	return logging.Default()
}

// Close releases the file backing img, if any.
func (img *Image) Close() error {
	if img.closer == nil {
		return nil
	}
	return img.closer.Close()
}

// Config returns the configuration img was decoded with.
func (img *Image) Config() Config { return img.cfg }

// Root returns the root of the decoded tree.
func (img *Image) Root() *schema.Node { return img.root }

// NTHeader returns the node for the NT headers.
func (img *Image) NTHeader() *schema.Node { return img.nt }

// OptionalHeader returns the node for the optional header. Which of its
// layouts was decoded is given by its Selected method.
func (img *Image) OptionalHeader() (*schema.Node, error) {
	return img.nt.Child(fieldOptionalHeader)
}

// Is64Bit reports whether img is a PE32+ image.
func (img *Image) Is64Bit() bool {
	oh, err := img.OptionalHeader()
	if err != nil {
		return false
	}
	return oh.Selected() == "Optional Header PE32+"
}

// Format returns the label of the optional header magic, such as "PE32+".
func (img *Image) Format() string {
	oh, err := img.OptionalHeader()
	if err != nil {
		return ""
	}
	magic, err := oh.Child("Magic")
	if err != nil {
		return ""
	}
	if l := magic.Label(); l != "" {
		return l
	}
	v, _ := magic.Uint()
	return fmt.Sprintf("0x%04X", v)
}

// FileHeader returns the COFF file header.
func (img *Image) FileHeader() (dpe.FileHeader, error) {
	r := fieldReader{n: img.nt}
	fh := dpe.FileHeader{
		Machine:              r.u16(fieldFileHeader, "Machine"),
		NumberOfSections:     r.u16(fieldFileHeader, "Number of Sections"),
		TimeDateStamp:        r.u32(fieldFileHeader, "TimeDateStamp"),
		PointerToSymbolTable: r.u32(fieldFileHeader, "Pointer To Symbol Table"),
		NumberOfSymbols:      r.u32(fieldFileHeader, "Number of Symbols"),
		SizeOfOptionalHeader: r.u16(fieldFileHeader, "Size of Optional Header"),
		Characteristics:      r.u16(fieldFileHeader, "Characteristics"),
	}
	return fh, r.err
}

// Section is one decoded section header.
type Section struct {
	dpe.SectionHeader
	Node *schema.Node
}

func (img *Image) sectionNodes() []*schema.Node {
	s, err := img.nt.Child(fieldSections)
	if err != nil {
		return nil
	}
	return s.Children()
}

// Sections returns the section table.
func (img *Image) Sections() ([]Section, error) {
	nodes := img.sectionNodes()
	out := make([]Section, 0, len(nodes))
	for _, n := range nodes {
		r := fieldReader{n: n}
		s := Section{
			SectionHeader: dpe.SectionHeader{
				Name:                 r.text("Name"),
				VirtualSize:          r.u32("Physical Address Or VirtualSize"),
				VirtualAddress:       r.u32(fieldVirtualAddress),
				Size:                 r.u32(fieldSizeOfRawData),
				Offset:               r.u32(fieldPointerToRaw),
				PointerToRelocations: r.u32("Pointer To Relocations"),
				PointerToLineNumbers: r.u32("Pointer To Line Numbers"),
				NumberOfRelocations:  r.u16("Number of Relocations"),
				NumberOfLineNumbers:  r.u16("Number of Line Numbers"),
				Characteristics:      r.u32("Characteristics"),
			},
			Node: n,
		}
		if r.err != nil {
			return out, fmt.Errorf("section %s: %w", n.Name(), r.err)
		}
		out = append(out, s)
	}
	return out, nil
}

// DataDirectoryEntry is one entry of the optional header's data directory.
type DataDirectoryEntry struct {
	Index          int
	Name           string
	VirtualAddress uint32
	Size           uint32
	Node           *schema.Node
}

// NumberOfRvaAndSizes returns how many data directory entries the optional
// header declares.
func (img *Image) NumberOfRvaAndSizes() (int, error) {
	oh, err := img.OptionalHeader()
	if err != nil {
		return 0, err
	}
	r := fieldReader{n: oh}
	n := r.uint("Number of Rva And Sizes")
	return int(min(n, numDataDirectories)), r.err
}

// DataDirectory returns the data directory entry at idx, one of the
// IMAGE_DIRECTORY_ENTRY_* constants. It returns ErrIndexOutOfRange for
// entries the image does not declare and ErrNotPresent for empty ones.
func (img *Image) DataDirectory(idx int) (DataDirectoryEntry, error) {
	count, err := img.NumberOfRvaAndSizes()
	if err != nil {
		return DataDirectoryEntry{}, err
	}
	if idx < 0 || idx >= count {
		return DataDirectoryEntry{}, ErrIndexOutOfRange
	}
	oh, _ := img.OptionalHeader()
	n, err := oh.Lookup(fieldDataDirectory, DataDirectoryNames[idx])
	if err != nil {
		return DataDirectoryEntry{}, err
	}
	r := fieldReader{n: n}
	e := DataDirectoryEntry{
		Index:          idx,
		Name:           DataDirectoryNames[idx],
		VirtualAddress: r.u32(fieldVirtualAddress),
		Size:           r.u32(fieldSize),
		Node:           n,
	}
	if r.err != nil {
		return DataDirectoryEntry{}, r.err
	}
	if e.VirtualAddress == 0 || e.Size == 0 {
		return e, ErrNotPresent
	}
	return e, nil
}

// target returns the decoded structure a data directory entry points to.
func (e DataDirectoryEntry) target() (*schema.Node, error) {
	ptr, err := e.Node.Child(fieldVirtualAddress)
	if err != nil {
		return nil, err
	}
	t := ptr.Target()
	if t == nil {
		if err := ptr.Err(); err != nil {
			return nil, fmt.Errorf("%s directory: %w", e.Name, err)
		}
		return nil, fmt.Errorf("%s directory: %w", e.Name, ErrNotPresent)
	}
	return t, nil
}

// LookupAddress maps rva to a file offset, reporting whether a section
// contains it. In a mapped image every address maps to itself.
func (img *Image) LookupAddress(rva uint64) (uint64, bool) {
	if img.cfg.Mapped {
		return rva, true
	}
	s, err := img.nt.Child(fieldSections)
	if err != nil {
		return 0, false
	}
	return LookupAddress(s, rva)
}

// AddressToOffset maps rva to a file offset, or 0 when no section
// contains it.
func (img *Image) AddressToOffset(rva uint64) uint64 {
	off, _ := img.LookupAddress(rva)
	return off
}

// Diagnostics returns every problem recorded in the materialized tree.
func (img *Image) Diagnostics() []schema.Diagnostic {
	return schema.Diagnostics(img.root)
}

// decodeAt decodes t at the file offset off with img's options.
func (img *Image) decodeAt(t schema.Type, off uint64) *schema.Node {
	return schema.DecodeAt(t, img.src, int64(off), img.cfg.Decode)
}

// stringAt decodes the NUL-terminated ASCII string at rva.
func (img *Image) stringAt(rva uint64) (string, error) {
	off, ok := img.LookupAddress(rva)
	if !ok {
		return "", fmt.Errorf("%w: RVA 0x%X", schema.ErrUnresolvedAddress, rva)
	}
	n := img.decodeAt(schema.Std.String(schema.ASCII), off)
	return n.Text(), n.Err()
}

// Validate checks the PE schema for structural errors.
func Validate() error {
	return errors.Join(
		schema.ValidateDefinition(Definition(schema.Std, Config{})),
		schema.ValidateDefinition(Definition(schema.Std, Config{Mapped: true})),
	)
}

// Validate reports every diagnostic recorded in img's materialized tree as
// a single error, or nil if there are none.
func (img *Image) Validate() error {
	diags := img.Diagnostics()
	errs := make([]error, len(diags))
	for i, d := range diags {
		errs[i] = d
	}
	return errors.Join(errs...)
}
