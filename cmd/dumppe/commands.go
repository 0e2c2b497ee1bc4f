// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dblohm7/pestruct/internal/logging"
	"github.com/dblohm7/pestruct/internal/render"
	"github.com/dblohm7/pestruct/pe"
	"github.com/dblohm7/pestruct/schema"
)

func hex32(v uint32) string { return fmt.Sprintf("0x%08X", v) }
func hex64(v uint64) string { return fmt.Sprintf("0x%X", v) }

func symbolLabel(syms *schema.Symbols, v uint64) string {
	if l, ok := syms.Label(v); ok {
		return l
	}
	return "unknown"
}

func flagLabels(syms *schema.Symbols, v uint64) string {
	labels, rest := syms.Flags(v)
	if rest != 0 {
		labels = append(labels, hex64(rest))
	}
	return strings.Join(labels, " | ")
}

func newTreeCommand(g *globals) *cobra.Command {
	var expand bool
	var path string
	cmd := &cobra.Command{
		Use:   "tree <file>",
		Short: "Print the decoded structure tree",
		Long: `Print the decoded structure tree, optionally starting at a path such as
"Dos Header/New Header Offset/*/Image File Header".`,
		Args: cobra.ExactArgs(1),
	}
	cmd.Flags().BoolVar(&expand, "expand", false, "decode lazy pointer targets while printing")
	cmd.Flags().StringVar(&path, "path", "", "slash separated path of the node to print")
	cmd.RunE = g.withImage(func(_ *cobra.Command, img *pe.Image, r *render.Renderer) error {
		n := img.Root()
		if path != "" {
			var err error
			if n, err = n.Lookup(strings.Split(strings.Trim(path, "/"), "/")...); err != nil {
				return err
			}
		}
		r.Expand = expand
		return r.Node(n)
	})
	return cmd
}

type headerRow struct {
	Field string `json:"field" yaml:"field"`
	Value string `json:"value" yaml:"value"`
}

func newHeadersCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "headers <file>",
		Short: "Print the file header and the optional header summary",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = g.withImage(func(_ *cobra.Command, img *pe.Image, r *render.Renderer) error {
		fh, err := img.FileHeader()
		if err != nil {
			return err
		}
		rows := []headerRow{
			{"Format", img.Format()},
			{"Machine", fmt.Sprintf("0x%04X %s", fh.Machine, symbolLabel(pe.Machine, uint64(fh.Machine)))},
			{"Number of Sections", strconv.Itoa(int(fh.NumberOfSections))},
			{"TimeDateStamp", hex32(fh.TimeDateStamp)},
			{"Size of Optional Header", strconv.Itoa(int(fh.SizeOfOptionalHeader))},
			{"Characteristics", fmt.Sprintf("0x%04X", fh.Characteristics)},
		}
		n, err := img.NumberOfRvaAndSizes()
		if err != nil {
			return err
		}
		for i := range n {
			dd, err := img.DataDirectory(i)
			if errors.Is(err, pe.ErrNotPresent) {
				continue
			}
			if err != nil {
				return err
			}
			rows = append(rows, headerRow{dd.Name, fmt.Sprintf("%s +%d", hex32(dd.VirtualAddress), dd.Size)})
		}
		return r.Table("Headers", []string{"FIELD", "VALUE"}, fieldRows(rows), rows)
	})
	return cmd
}

func fieldRows(rows []headerRow) [][]string {
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = []string{row.Field, row.Value}
	}
	return out
}

type sectionRow struct {
	Name            string `json:"name" yaml:"name"`
	VirtualAddress  uint32 `json:"virtual_address" yaml:"virtual_address"`
	VirtualSize     uint32 `json:"virtual_size" yaml:"virtual_size"`
	SizeOfRawData   uint32 `json:"size_of_raw_data" yaml:"size_of_raw_data"`
	PointerToRaw    uint32 `json:"pointer_to_raw_data" yaml:"pointer_to_raw_data"`
	Characteristics uint32 `json:"characteristics" yaml:"characteristics"`
}

func newSectionsCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sections <file>",
		Short: "Print the section table",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = g.withImage(func(_ *cobra.Command, img *pe.Image, r *render.Renderer) error {
		sections, err := img.Sections()
		if err != nil {
			return err
		}
		rows := make([]sectionRow, 0, len(sections))
		var text [][]string
		for _, s := range sections {
			rows = append(rows, sectionRow{s.Name, s.VirtualAddress, s.VirtualSize, s.Size, s.Offset, s.Characteristics})
			text = append(text, []string{s.Name, hex32(s.VirtualAddress), hex32(s.VirtualSize),
				hex32(s.Size), hex32(s.Offset), flagLabels(pe.SectionCharacteristics, uint64(s.Characteristics))})
		}
		return r.Table(fmt.Sprintf("%d sections", len(rows)),
			[]string{"NAME", "VA", "VSIZE", "RAWSIZE", "RAWPTR", "CHARACTERISTICS"}, text, rows)
	})
	return cmd
}

type importRow struct {
	Module    string   `json:"module" yaml:"module"`
	Functions []string `json:"functions" yaml:"functions"`
}

func newImportsCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "imports <file>",
		Short: "Print imported modules and functions",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = g.withImage(func(_ *cobra.Command, img *pe.Image, r *render.Renderer) error {
		mods, err := img.Imports()
		if err != nil && !errors.Is(err, pe.ErrNotPresent) {
			return err
		}
		var rows []importRow
		var text [][]string
		for _, m := range mods {
			row := importRow{Module: m.Name}
			for _, f := range m.Functions {
				row.Functions = append(row.Functions, f.String())
				hint := ""
				if !f.ByOrdinal {
					hint = strconv.Itoa(int(f.Hint))
				}
				text = append(text, []string{m.Name, f.String(), hint})
			}
			rows = append(rows, row)
		}
		return r.Table("Imports", []string{"MODULE", "FUNCTION", "HINT"}, text, rows)
	})
	return cmd
}

type exportRow struct {
	Ordinal   uint32   `json:"ordinal" yaml:"ordinal"`
	Address   uint32   `json:"address" yaml:"address"`
	Names     []string `json:"names,omitempty" yaml:"names,omitempty"`
	Forwarder string   `json:"forwarder,omitempty" yaml:"forwarder,omitempty"`
}

func newExportsCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exports <file>",
		Short: "Print exported functions",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = g.withImage(func(_ *cobra.Command, img *pe.Image, r *render.Renderer) error {
		exp, err := img.Exports()
		if errors.Is(err, pe.ErrNotPresent) {
			return r.Table("Exports", []string{"ORDINAL", "ADDRESS", "NAME"}, nil, []exportRow{})
		}
		if err != nil {
			return err
		}
		rows := make([]exportRow, 0, len(exp.Functions))
		var text [][]string
		for _, f := range exp.Functions {
			rows = append(rows, exportRow{f.Ordinal, f.Address, f.Names, f.Forwarder})
			name := strings.Join(f.Names, ", ")
			if f.Forwarder != "" {
				name += " -> " + f.Forwarder
			}
			text = append(text, []string{strconv.Itoa(int(f.Ordinal)), hex32(f.Address), name})
		}
		return r.Table("Exports of "+exp.Name, []string{"ORDINAL", "ADDRESS", "NAME"}, text, rows)
	})
	return cmd
}

type debugRow struct {
	Type      string `json:"type" yaml:"type"`
	Size      uint32 `json:"size" yaml:"size"`
	Address   uint32 `json:"address" yaml:"address"`
	Pointer   uint32 `json:"pointer" yaml:"pointer"`
	CodeView  string `json:"codeview,omitempty" yaml:"codeview,omitempty"`
	PDBPath   string `json:"pdb_path,omitempty" yaml:"pdb_path,omitempty"`
	Signature string `json:"signature,omitempty" yaml:"signature,omitempty"`
}

func newDebugInfoCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debuginfo <file>",
		Short: "Print the debug directory and CodeView records",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = g.withImage(func(cmd *cobra.Command, img *pe.Image, r *render.Renderer) error {
		entries, err := img.DebugEntries()
		if err != nil && !errors.Is(err, pe.ErrNotPresent) {
			return err
		}
		rows := make([]debugRow, 0, len(entries))
		var text [][]string
		for _, e := range entries {
			row := debugRow{Type: e.TypeName(), Size: e.SizeOfData, Address: e.AddressOfRawData, Pointer: e.PointerToRawData}
			if e.Type == pe.IMAGE_DEBUG_TYPE_CODEVIEW {
				cv, err := img.ExtractCodeViewInfo(e)
				if err != nil {
					logging.FromContext(cmd.Context()).Warn("unreadable CodeView record", logging.FieldError, err)
				} else {
					row.CodeView, row.PDBPath, row.Signature = cv.String(), cv.PDBPath, cv.Signature
				}
			}
			rows = append(rows, row)
			text = append(text, []string{row.Type, strconv.Itoa(int(row.Size)), hex32(row.Address),
				hex32(row.Pointer), strings.TrimSpace(row.PDBPath + " " + row.CodeView)})
		}
		return r.Table("Debug directory", []string{"TYPE", "SIZE", "RVA", "POINTER", "CODEVIEW"}, text, rows)
	})
	return cmd
}

type relocRow struct {
	Page    uint32 `json:"page" yaml:"page"`
	Offset  uint16 `json:"offset" yaml:"offset"`
	Type    string `json:"type" yaml:"type"`
	Address uint32 `json:"address" yaml:"address"`
}

func newRelocsCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relocs <file>",
		Short: "Print base relocations",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = g.withImage(func(_ *cobra.Command, img *pe.Image, r *render.Renderer) error {
		blocks, err := img.Relocations()
		if err != nil && !errors.Is(err, pe.ErrNotPresent) {
			return err
		}
		var rows []relocRow
		var text [][]string
		for _, b := range blocks {
			for _, rel := range b.Relocations {
				row := relocRow{b.VirtualAddress, rel.Offset, rel.TypeName(), b.VirtualAddress + uint32(rel.Offset)}
				rows = append(rows, row)
				text = append(text, []string{hex32(row.Page), fmt.Sprintf("0x%03X", row.Offset), row.Type, hex32(row.Address)})
			}
		}
		return r.Table(fmt.Sprintf("%d relocation blocks", len(blocks)),
			[]string{"PAGE", "OFFSET", "TYPE", "ADDRESS"}, text, rows)
	})
	return cmd
}

type tlsRow struct {
	StartAddressOfRawData uint64 `json:"start_address_of_raw_data" yaml:"start_address_of_raw_data"`
	EndAddressOfRawData   uint64 `json:"end_address_of_raw_data" yaml:"end_address_of_raw_data"`
	AddressOfIndex        uint64 `json:"address_of_index" yaml:"address_of_index"`
	AddressOfCallBacks    uint64 `json:"address_of_callbacks" yaml:"address_of_callbacks"`
	SizeOfZeroFill        uint32 `json:"size_of_zero_fill" yaml:"size_of_zero_fill"`
	Characteristics       uint32 `json:"characteristics" yaml:"characteristics"`
}

func newTLSCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tls <file>",
		Short: "Print the TLS directory",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = g.withImage(func(_ *cobra.Command, img *pe.Image, r *render.Renderer) error {
		tls, err := img.TLS()
		if err != nil {
			return err
		}
		row := tlsRow{tls.StartAddressOfRawData, tls.EndAddressOfRawData, tls.AddressOfIndex,
			tls.AddressOfCallBacks, tls.SizeOfZeroFill, tls.Characteristics}
		return r.Table("TLS directory", []string{"FIELD", "VALUE"}, fieldRows([]headerRow{
			{"Start Address of Raw Data", hex64(row.StartAddressOfRawData)},
			{"End Address of Raw Data", hex64(row.EndAddressOfRawData)},
			{"Address of Index", hex64(row.AddressOfIndex)},
			{"Address of Callbacks", hex64(row.AddressOfCallBacks)},
			{"Size of Zero Fill", strconv.Itoa(int(row.SizeOfZeroFill))},
			{"Characteristics", hex32(row.Characteristics)},
		}), row)
	})
	return cmd
}

type certRow struct {
	Revision uint16 `json:"revision" yaml:"revision"`
	Type     uint16 `json:"type" yaml:"type"`
	Length   int    `json:"length" yaml:"length"`
}

func newCertsCommand(g *globals) *cobra.Command {
	var dump bool
	cmd := &cobra.Command{
		Use:   "certs <file>",
		Short: "Print the attribute certificate table",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().BoolVar(&dump, "dump", false, "hex dump certificate contents")
	cmd.RunE = g.withImage(func(cmd *cobra.Command, img *pe.Image, r *render.Renderer) error {
		certs, err := img.Certificates()
		if err != nil && !errors.Is(err, pe.ErrNotPresent) {
			return err
		}
		rows := make([]certRow, 0, len(certs))
		var text [][]string
		for _, c := range certs {
			row := certRow{uint16(c.Revision()), uint16(c.Type()), len(c.Data())}
			rows = append(rows, row)
			text = append(text, []string{
				symbolLabel(pe.CertificateRevision, uint64(row.Revision)),
				symbolLabel(pe.CertificateType, uint64(row.Type)),
				strconv.Itoa(row.Length),
			})
		}
		if err := r.Table("Certificates", []string{"REVISION", "TYPE", "LENGTH"}, text, rows); err != nil {
			return err
		}
		if dump {
			for _, c := range certs {
				fmt.Fprint(cmd.OutOrStdout(), hex.Dump(c.Data()))
			}
		}
		return nil
	})
	return cmd
}

func newDiagnosticsCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagnostics <file>",
		Short: "Print every problem found while decoding",
		Long: `Print every problem found while decoding. In lazy mode only the
parts of the tree that have been materialized are checked, so all pointer
targets are forced first.`,
		Args: cobra.ExactArgs(1),
	}
	cmd.RunE = g.withImage(func(_ *cobra.Command, img *pe.Image, r *render.Renderer) error {
		if g.cfg.Lazy {
			forceTargets(img.Root())
		}
		return r.Diagnostics(img.Diagnostics())
	})
	return cmd
}

// forceTargets resolves every pointer reachable from n.
func forceTargets(n *schema.Node) {
	for _, c := range n.Children() {
		forceTargets(c)
	}
	if t := n.Target(); t != nil {
		forceTargets(t)
	}
}

type resourceRow struct {
	Type     string `json:"type" yaml:"type"`
	Name     string `json:"name" yaml:"name"`
	Language uint32 `json:"language" yaml:"language"`
	RVA      uint32 `json:"rva" yaml:"rva"`
	Size     uint32 `json:"size" yaml:"size"`
	CodePage uint32 `json:"code_page" yaml:"code_page"`
}

func newResourcesCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resources <file>",
		Short: "Print the leaves of the resource directory",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = g.withImage(func(_ *cobra.Command, img *pe.Image, r *render.Renderer) error {
		res, err := img.Resources()
		if err != nil && !errors.Is(err, pe.ErrNotPresent) {
			return err
		}
		rows := make([]resourceRow, 0, len(res))
		var text [][]string
		for _, e := range res {
			name := e.Name
			if name == "" {
				name = "#" + strconv.Itoa(int(e.ID))
			}
			rows = append(rows, resourceRow{e.TypeName, name, e.Language, e.RVA, e.Size, e.CodePage})
			text = append(text, []string{e.TypeName, name, fmt.Sprintf("0x%04X", e.Language),
				hex32(e.RVA), strconv.Itoa(int(e.Size)), strconv.Itoa(int(e.CodePage))})
		}
		return r.Table(fmt.Sprintf("%d resources", len(rows)),
			[]string{"TYPE", "NAME", "LANGUAGE", "RVA", "SIZE", "CODEPAGE"}, text, rows)
	})
	return cmd
}

func newVersionCommand(g *globals) *cobra.Command {
	showFile := g.withImage(func(_ *cobra.Command, img *pe.Image, r *render.Renderer) error {
		vi, err := img.VersionInfo()
		if err != nil {
			return fmt.Errorf("version info: %w", err)
		}
		vn, pvn := vi.VersionNumber(), vi.ProductVersionNumber()
		rows := []headerRow{
			{"FileVersion", vn.String()},
			{"ProductVersion", pvn.String()},
			{"FileFlags", flagLabels(pe.VersionFileFlags, uint64(vi.Fixed.FileFlags&vi.Fixed.FileFlagsMask))},
			{"FileType", symbolLabel(pe.VersionFileType, uint64(vi.Fixed.FileType))},
		}
		for _, t := range vi.Translations {
			rows = append(rows, headerRow{"Translation", t.String()})
		}
		for _, key := range []string{"CompanyName", "ProductName", "FileDescription"} {
			v, err := vi.Field(key)
			if errors.Is(err, pe.ErrNotPresent) {
				continue
			}
			if err != nil {
				return err
			}
			rows = append(rows, headerRow{key, v})
		}
		return r.Table("Version", []string{"FIELD", "VALUE"}, fieldRows(rows), rows)
	})
	return &cobra.Command{
		Use:   "version [file]",
		Short: "Print the dumppe version, or the version resource of a file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "dumppe", version)
				return nil
			}
			return showFile(cmd, args)
		},
	}
}
