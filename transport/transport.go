// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package transport implements the two byte-range data sources a zs
// reader can open (C6): a local file and an HTTP(S) server, grounded
// on zss/transport.py's FileTransport/HTTPTransport pair. Both satisfy
// the same Transport interface so the reader core never special-cases
// its data source beyond checking the Remote flag.
package transport

import "io"

// Transport is a random-access, length-bounded byte source.
type Transport interface {
	// Name identifies the transport in error messages (a file path or
	// a URL).
	Name() string

	// Length returns the exact byte size of the underlying data.
	Length() (uint64, error)

	// ChunkRead returns up to length bytes starting at offset. It may
	// return fewer bytes only when the read hits the end of the
	// underlying data.
	ChunkRead(offset, length uint64) ([]byte, error)

	// StreamRead returns a forward-only reader positioned at offset.
	// stop, if non-nil, is an exclusive upper bound the transport MAY
	// honor (local files ignore it and rely on EOF; HTTP uses it to
	// bound the Range request). The caller must Close the stream.
	StreamRead(offset uint64, stop *uint64) (io.ReadCloser, error)

	// Remote reports whether reads cross a network boundary --
	// controls whether the reader bounds long reads upfront (true) or
	// lets EOF terminate them (false).
	Remote() bool

	Close() error
}
