// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pe

import (
	"fmt"

	"github.com/dblohm7/pestruct/schema"
)

// WIN_CERT_REVISION is an enumeration from the Windows SDK.
type WIN_CERT_REVISION uint16

const (
	WIN_CERT_REVISION_1_0 WIN_CERT_REVISION = 0x0100
	WIN_CERT_REVISION_2_0 WIN_CERT_REVISION = 0x0200
)

// WIN_CERT_TYPE is an enumeration from the Windows SDK.
type WIN_CERT_TYPE uint16

const (
	WIN_CERT_TYPE_X509             WIN_CERT_TYPE = 0x0001
	WIN_CERT_TYPE_PKCS_SIGNED_DATA WIN_CERT_TYPE = 0x0002
	WIN_CERT_TYPE_TS_STACK_SIGNED  WIN_CERT_TYPE = 0x0004
)

const sizeWinCertificateHeader = 8

// AuthenticodeCert represents an authenticode signature that has been extracted
// from a signed PE binary but not fully parsed.
type AuthenticodeCert struct {
	revision WIN_CERT_REVISION
	certType WIN_CERT_TYPE
	data     []byte
	node     *schema.Node
}

// Revision returns the revision of ac.
func (ac *AuthenticodeCert) Revision() WIN_CERT_REVISION {
	return ac.revision
}

// Type returns the type of ac.
func (ac *AuthenticodeCert) Type() WIN_CERT_TYPE {
	return ac.certType
}

// Data returns the raw bytes of ac's cert.
func (ac *AuthenticodeCert) Data() []byte {
	return ac.data
}

// Node returns the decoded WIN_CERTIFICATE.
func (ac *AuthenticodeCert) Node() *schema.Node {
	return ac.node
}

func winCertificate(f schema.Factory) schema.Type {
	length := schema.FieldRef(1, "Length")
	return f.Struct(
		schema.F("Length", f.Primitive(schema.UInt32)),
		schema.F("Revision", f.Enum("WIN_CERT_REVISION", schema.UInt16, CertificateRevision)),
		schema.F("Certificate Type", f.Enum("WIN_CERT_TYPE", schema.UInt16, CertificateType)),
		schema.F("Certificate", f.Array(f.Primitive(schema.UInt8), schema.Computed(func(ctx schema.Context) (int64, error) {
			n, err := length.Uint(ctx)
			if err != nil {
				return 0, err
			}
			return int64(n) - sizeWinCertificateHeader, nil
		}))),
	)
}

// Certificates returns the attribute certificates in the security
// directory. They are only present in files, not in loaded modules.
func (img *Image) Certificates() ([]AuthenticodeCert, error) {
	if img.cfg.Mapped {
		return nil, ErrUnavailableInModule
	}
	dd, err := img.DataDirectory(IMAGE_DIRECTORY_ENTRY_SECURITY)
	if err != nil {
		return nil, err
	}

	// The VirtualAddress is a file offset.
	start, end := uint64(dd.VirtualAddress), uint64(dd.VirtualAddress)+uint64(dd.Size)
	typ := winCertificate(schema.Std)

	var result []AuthenticodeCert
	for off := start; off+sizeWinCertificateHeader <= end; {
		n := img.decodeAt(typ, off)
		r := fieldReader{n: n}
		length := r.u32("Length")
		entry := AuthenticodeCert{
			revision: WIN_CERT_REVISION(r.u16("Revision")),
			certType: WIN_CERT_TYPE(r.u16("Certificate Type")),
			node:     n,
		}
		if r.err != nil {
			return result, r.err
		}
		if length < sizeWinCertificateHeader || off+uint64(length) > end {
			return result, fmt.Errorf("%w: certificate at 0x%X claims %d bytes", ErrBadLength, off, length)
		}
		if entry.data = r.bytes("Certificate"); r.err != nil {
			return result, r.err
		}
		result = append(result, entry)

		off = schema.AlignUp(off+uint64(length), 8)
	}

	return result, nil
}
