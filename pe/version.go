// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pe

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/dblohm7/pestruct/schema"
)

var (
	errFixedFileInfoTooShort = errors.New("value smaller than VS_FIXEDFILEINFO")
	errFixedFileInfoBadSig   = errors.New("bad VS_FIXEDFILEINFO signature")
)

const (
	sizeFixedFileInfo = 52

	enUS        = 0x0409
	langNeutral = 0
)

// VersionNumber is a four-part file or product version.
type VersionNumber struct {
	Major uint16
	Minor uint16
	Patch uint16
	Build uint16
}

func (vn *VersionNumber) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", vn.Major, vn.Minor, vn.Patch, vn.Build)
}

func versionNumber(ms, ls uint32) VersionNumber {
	return VersionNumber{
		Major: uint16(ms >> 16),
		Minor: uint16(ms & 0xFFFF),
		Patch: uint16(ls >> 16),
		Build: uint16(ls & 0xFFFF),
	}
}

// FixedFileInfo is VS_FIXEDFILEINFO.
type FixedFileInfo struct {
	Signature        uint32
	StrucVersion     uint32
	FileVersionMS    uint32
	FileVersionLS    uint32
	ProductVersionMS uint32
	ProductVersionLS uint32
	FileFlagsMask    uint32
	FileFlags        uint32
	FileOS           uint32
	FileType         uint32
	FileSubtype      uint32
	FileDateMS       uint32
	FileDateLS       uint32
}

// Translation is a language and code page pair.
type Translation struct {
	Language uint16
	CodePage uint16
}

// String returns the string table key for t, such as "040904b0".
func (t Translation) String() string {
	return fmt.Sprintf("%04x%04x", t.Language, t.CodePage)
}

// VersionInfo is the VS_VERSIONINFO resource of an image.
type VersionInfo struct {
	Fixed FixedFileInfo
	// Translations lists the pairs declared by the Translation var.
	Translations []Translation
	// Strings maps a lower-case string table key to the table's entries.
	Strings map[string]map[string]string
	Node    *schema.Node
}

// NewVersionInfo reads the version resource of the file at filepath. It
// returns ErrNotPresent if the file has none.
func NewVersionInfo(filepath string) (*VersionInfo, error) {
	b, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}
	img, err := NewImageFromBytes(b, Config{Decode: schema.Options{Lazy: true}})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath, err)
	}
	return img.VersionInfo()
}

// VersionInfo returns the first language of the first version resource.
func (img *Image) VersionInfo() (*VersionInfo, error) {
	vs, err := img.versionResource()
	if err != nil {
		return nil, err
	}
	return versionInfoFromNode(vs)
}

func (img *Image) versionResource() (*schema.Node, error) {
	dd, err := img.DataDirectory(IMAGE_DIRECTORY_ENTRY_RESOURCE)
	if err != nil {
		return nil, err
	}
	dir, err := dd.target()
	if err != nil {
		return nil, err
	}
	entries, err := dir.Child(fieldEntries)
	if err != nil {
		return nil, err
	}
	for _, e := range entries.Children() {
		sel, err := e.Lookup(fieldOffsetToData, "Entry")
		if err != nil {
			return nil, err
		}
		if sel.Selected() != altVersion {
			continue
		}
		vs, err := sel.Lookup(fieldSubdirectory,
			fieldEntries, "[0]", fieldOffsetToData, "Entry", fieldSubdirectory,
			fieldEntries, "[0]", fieldOffsetToData, "Entry", fieldDataEntry,
			"Data", schema.TargetName)
		if err != nil {
			return nil, fmt.Errorf("version resource: %w", err)
		}
		return vs, nil
	}
	return nil, fmt.Errorf("version resource: %w", ErrNotPresent)
}

func versionInfoFromNode(vs *schema.Node) (*VersionInfo, error) {
	r := fieldReader{n: vs}
	if n := r.uint("Value Length"); r.err == nil && n < sizeFixedFileInfo {
		return nil, errFixedFileInfoTooShort
	}
	fixed := FixedFileInfo{
		Signature:        r.u32("Value", "Fixed File Info", "Signature"),
		StrucVersion:     r.u32("Value", "Fixed File Info", "Struct Version"),
		FileVersionMS:    r.u32("Value", "Fixed File Info", "File Version MS"),
		FileVersionLS:    r.u32("Value", "Fixed File Info", "File Version LS"),
		ProductVersionMS: r.u32("Value", "Fixed File Info", "Product Version MS"),
		ProductVersionLS: r.u32("Value", "Fixed File Info", "Product Version LS"),
		FileFlagsMask:    r.u32("Value", "Fixed File Info", "File Flags Mask"),
		FileFlags:        r.u32("Value", "Fixed File Info", "File Flags"),
		FileOS:           r.u32("Value", "Fixed File Info", "File OS"),
		FileType:         r.u32("Value", "Fixed File Info", "File Type"),
		FileSubtype:      r.u32("Value", "Fixed File Info", "File Subtype"),
		FileDateMS:       r.u32("Value", "Fixed File Info", "File Date MS"),
		FileDateLS:       r.u32("Value", "Fixed File Info", "File Date LS"),
	}
	if r.err != nil {
		return nil, r.err
	}
	if fixed.Signature != versionFixedSig {
		return nil, errFixedFileInfoBadSig
	}

	vi := &VersionInfo{Fixed: fixed, Strings: map[string]map[string]string{}, Node: vs}
	for _, block := range versionItems(vs) {
		switch block.Selected() {
		case versionStringFileInfo:
			for _, table := range versionItems(block) {
				key := strings.ToLower(textAt(table, "Key"))
				strs := vi.Strings[key]
				if strs == nil {
					strs = map[string]string{}
					vi.Strings[key] = strs
				}
				for _, s := range versionItems(table) {
					strs[textAt(s, "Key")] = textAt(s, "Value", "Text")
				}
			}
		case versionVarFileInfo:
			for _, v := range versionItems(block) {
				if textAt(v, "Key") != versionTranslation {
					continue
				}
				values, err := v.Child("Value")
				if err != nil {
					return nil, err
				}
				for _, w := range values.Children() {
					x, err := w.Uint()
					if err != nil {
						return nil, fmt.Errorf("translation %s: %w", w.Path(), err)
					}
					vi.Translations = append(vi.Translations, Translation{Language: uint16(x), CodePage: uint16(x >> 16)})
				}
			}
		}
	}
	return vi, nil
}

// versionItems returns the child blocks of a version block.
func versionItems(block *schema.Node) []*schema.Node {
	items, err := block.Lookup("Children", "Items")
	if err != nil {
		return nil
	}
	return items.Children()
}

func textAt(n *schema.Node, path ...string) string {
	c, err := n.Lookup(path...)
	if err != nil {
		return ""
	}
	return c.Text()
}

// VersionNumber returns the file version from the fixed file info.
func (vi *VersionInfo) VersionNumber() VersionNumber {
	return versionNumber(vi.Fixed.FileVersionMS, vi.Fixed.FileVersionLS)
}

// ProductVersionNumber returns the product version from the fixed file info.
func (vi *VersionInfo) ProductVersionNumber() VersionNumber {
	return versionNumber(vi.Fixed.ProductVersionMS, vi.Fixed.ProductVersionLS)
}

// tableOrder lists the string tables to search: US English and then
// language neutral in any code page, the declared translations, and
// finally every other table.
func (vi *VersionInfo) tableOrder() []string {
	keys := make([]string, 0, len(vi.Strings))
	for k := range vi.Strings {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var order []string
	add := func(k string) {
		if _, ok := vi.Strings[k]; ok && !slices.Contains(order, k) {
			order = append(order, k)
		}
	}
	for _, lang := range []uint16{enUS, langNeutral} {
		prefix := fmt.Sprintf("%04x", lang)
		for _, k := range keys {
			if strings.HasPrefix(k, prefix) {
				add(k)
			}
		}
	}
	for _, t := range vi.Translations {
		add(t.String())
	}
	for _, k := range keys {
		add(k)
	}
	return order
}

// Field returns the string table entry key, trying each table in turn. It
// returns ErrNotPresent if no table has it.
func (vi *VersionInfo) Field(key string) (string, error) {
	for _, table := range vi.tableOrder() {
		if v, ok := vi.Strings[table][key]; ok {
			return v, nil
		}
	}
	return "", ErrNotPresent
}

// CompanyName returns the CompanyName string.
func (vi *VersionInfo) CompanyName() (string, error) {
	return vi.Field("CompanyName")
}
