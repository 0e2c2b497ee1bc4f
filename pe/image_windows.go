// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pe

import (
	"bytes"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

// NewImageFromBaseAddressAndSize decodes a PE binary loaded into the
// current process's address space at address baseAddr with known size. If
// you do not have the size, use NewImageFromBaseAddress instead. cfg.Mapped
// is always set.
// If the module is unloaded while the returned *Image is still in use,
// its behaviour will become undefined.
func NewImageFromBaseAddressAndSize(baseAddr, size uintptr, cfg Config) (*Image, error) {
	slc := unsafe.Slice((*byte)(unsafe.Pointer(baseAddr)), size)
	cfg.Mapped = true
	return newImage(bytes.NewReader(slc), nil, cfg)
}

// NewImageFromBaseAddress decodes a PE binary loaded into the current
// process's address space at address baseAddr.
// If the module is unloaded while the returned *Image is still in use,
// its behaviour will become undefined.
func NewImageFromBaseAddress(baseAddr uintptr, cfg Config) (*Image, error) {
	var modInfo windows.ModuleInfo
	if err := windows.GetModuleInformation(
		windows.CurrentProcess(),
		windows.Handle(baseAddr),
		&modInfo,
		uint32(unsafe.Sizeof(modInfo)),
	); err != nil {
		return nil, fmt.Errorf("querying module handle: %w", err)
	}

	return NewImageFromBaseAddressAndSize(baseAddr, uintptr(modInfo.SizeOfImage), cfg)
}

// NewImageFromHMODULE decodes a PE binary identified by hmodule that is
// currently loaded into the current process's address space.
// If the module is unloaded while the returned *Image is still in use,
// its behaviour will become undefined.
func NewImageFromHMODULE(hmodule windows.Handle, cfg Config) (*Image, error) {
	// Clear the low bits that mark a datafile or image resource mapping.
	return NewImageFromBaseAddress(uintptr(hmodule) & ^uintptr(3), cfg)
}

// NewImageFromDLL decodes the PE binary backing d.
func NewImageFromDLL(d *windows.DLL, cfg Config) (*Image, error) {
	return NewImageFromHMODULE(d.Handle, cfg)
}

// NewImageFromFileHandle decodes the PE file open as hfile, an open Win32
// file handle. It does *not* consume hfile.
// Call Close() on the returned *Image when it is no longer needed.
func NewImageFromFileHandle(hfile windows.Handle, cfg Config) (*Image, error) {
	// Duplicate hfile so that we don't consume it.
	var hfileDup windows.Handle
	cp := windows.CurrentProcess()
	if err := windows.DuplicateHandle(
		cp,
		hfile,
		cp,
		&hfileDup,
		0,
		false,
		windows.DUPLICATE_SAME_ACCESS,
	); err != nil {
		return nil, err
	}

	f := os.NewFile(uintptr(hfileDup), "ImageFromFileHandle")
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	img, err := NewImageFromReaderAt(f, fi.Size(), cfg)
	if err != nil {
		f.Close()
		return nil, err
	}
	img.closer = f
	return img, nil
}
