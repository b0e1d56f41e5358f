// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package base holds the low-level types shared across the zs packages:
// the error taxonomy, byte-slice comparison helpers, and the logger
// interface used by the reader and writer.
package base

import (
	"github.com/cockroachdb/errors"
)

// The error kinds from the zs error taxonomy. Sentinel errors, not
// types: callers compare with errors.Is, and the underlying cause (an
// I/O error, say) is preserved by Wrap.
var (
	// ErrCorrupt marks a structural or integrity failure: bad magic, a
	// checksum mismatch, an out-of-order record, a dangling index
	// reference, and so on.
	ErrCorrupt = errors.New("zs: corrupt file")
	// ErrTransport marks a failure in the underlying transport: a bad
	// HTTP status, a missing or mismatched Content-Range, or a server
	// that doesn't honor Range requests.
	ErrTransport = errors.New("zs: transport error")
	// ErrUsage marks caller misuse: an operation on a closed file, an
	// unsorted write, an invalid codec or parallelism.
	ErrUsage = errors.New("zs: usage error")
	// ErrUnsupportedCodec marks a header naming a codec this build
	// doesn't recognize.
	ErrUnsupportedCodec = errors.New("zs: unsupported codec")
	// ErrIO marks a plain underlying OS error (disk full, permission
	// denied) that isn't itself evidence of file corruption or
	// transport misbehavior.
	ErrIO = errors.New("zs: io error")
)

// CorruptErrorf formats a message and marks it as ErrCorrupt.
func CorruptErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf("zs: corrupt: "+format, args...), ErrCorrupt)
}

// TransportErrorf formats a message and marks it as ErrTransport.
func TransportErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf("zs: transport: "+format, args...), ErrTransport)
}

// UsageErrorf formats a message and marks it as ErrUsage.
func UsageErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf("zs: usage: "+format, args...), ErrUsage)
}

// WrapCorrupt wraps an existing error (e.g. a short-read io.ErrUnexpectedEOF)
// and marks it as ErrCorrupt, so that the original cause remains visible
// through errors.Unwrap/errors.Cause while errors.Is(err, ErrCorrupt) holds.
func WrapCorrupt(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, "zs: corrupt: "+msg), ErrCorrupt)
}

// WrapTransport wraps an existing error and marks it as ErrTransport.
func WrapTransport(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, "zs: transport: "+msg), ErrTransport)
}

// WrapIO wraps a plain OS-level error (not itself corruption or a
// transport protocol violation) and marks it as ErrIO.
func WrapIO(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, "zs: io: "+msg), ErrIO)
}

// IsClosedError reports whether err indicates an operation on a closed
// object; a convenience wrapper so callers needn't hand-format the message.
func IsClosedError(err error) bool {
	return errors.Is(err, errClosed)
}

// errClosed additionally marks the errors built by ClosedErrorf, so
// IsClosedError can tell them apart from other usage errors.
var errClosed = errors.New("zs: operation on closed object")

// ClosedErrorf is the canonical "operation on closed object" usage error.
func ClosedErrorf(what string) error {
	return errors.Mark(UsageErrorf("operation on closed %s", what), errClosed)
}
