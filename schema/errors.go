// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package schema

import "errors"

// Decoding never fails as a whole. These errors are attached to the
// individual nodes they concern and are reported by Diagnostics.
var (
	ErrOutOfRange        = errors.New("byte range exceeds the source")
	ErrLengthUnderflow   = errors.New("computed length is negative")
	ErrArrayTooLong      = errors.New("array length exceeds limit")
	ErrDepthExceeded     = errors.New("pointer chain exceeds maximum depth")
	ErrUnresolvedAddress = errors.New("address does not map to a file offset")
	ErrFieldNotFound     = errors.New("field not found")
	ErrNotUnsigned       = errors.New("value is not an unsigned integer")
	ErrNoValue           = errors.New("node has no value")
	ErrInvalidSchema     = errors.New("invalid schema")
	ErrBudgetExceeded    = errors.New("decode node budget exhausted")
)
