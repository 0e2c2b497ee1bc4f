// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package logging

// Keys used for structured log fields.
const (
	FieldError   = "error"
	FieldPath    = "path"
	FieldFile    = "file"
	FieldOffset  = "offset"
	FieldAddress = "address"
	FieldKind    = "kind"
	FieldLength  = "length"
	FieldLimit   = "limit"
	FieldFormat  = "format"
	FieldCount   = "count"
	FieldVersion = "version"
)
