// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package uleb128 implements the unsigned little-endian base-128 varint
// encoding used to frame every block and every record/index entry in a zs
// file. Each byte carries 7 value bits; the high bit, set on every byte but
// the last, marks continuation.
package uleb128

import (
	"io"

	"github.com/njsmith/zs/internal/base"
)

// MaxLen is the longest possible encoding of a uint64.
const MaxLen = 10

// Append encodes v and appends it to buf, returning the extended slice.
func Append(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// Encode is a convenience wrapper around Append for a fresh buffer.
func Encode(v uint64) []byte {
	return Append(make([]byte, 0, MaxLen), v)
}

// Decode reads a ULEB128-encoded uint64 from the front of buf, returning
// the value and the number of bytes consumed. n == 0 indicates buf did
// not contain a complete encoding (truncated mid-varint); this is distinct
// from "buf is empty", which the caller must check itself.
func Decode(buf []byte) (v uint64, n int) {
	var shift uint
	for i, b := range buf {
		if shift >= 64 {
			return 0, 0
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, i + 1
		}
		shift += 7
	}
	return 0, 0
}

// ReadFrom reads a single ULEB128 value from r, a byte at a time. It
// returns (0, false, nil) if r is at EOF before any byte is read -- the
// canonical "end of stream" signal used by the frame reader to detect EOF
// between blocks and by the writer's length-prefixed input reader to
// detect the end of its input. A partial sequence (high bit set on the last byte
// before EOF) is a corruption error, not an end-of-stream signal.
func ReadFrom(r io.ByteReader) (v uint64, ok bool, err error) {
	var shift uint
	for i := 0; ; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && i == 0 {
				return 0, false, nil
			}
			return 0, false, base.WrapCorrupt(err, "truncated uleb128")
		}
		if i >= MaxLen || shift >= 64 {
			return 0, false, base.CorruptErrorf("uleb128 overflow")
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, true, nil
		}
		shift += 7
	}
}

// WriteTo writes v to w in ULEB128 form.
func WriteTo(w io.ByteWriter, v uint64) error {
	for v >= 0x80 {
		if err := w.WriteByte(byte(v) | 0x80); err != nil {
			return err
		}
		v >>= 7
	}
	return w.WriteByte(byte(v))
}
