// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package block

import (
	"io"

	"github.com/njsmith/zs/codec"
	"github.com/njsmith/zs/internal/base"
	"github.com/njsmith/zs/internal/crc64xz"
	"github.com/njsmith/zs/internal/uleb128"
)

// FirstExtensionLevel is the lowest level reserved for future
// extension blocks; readers skip any block at or above it.
const FirstExtensionLevel = 64

// Frame is one decoded on-disk block: its level and its (still
// compressed) payload. The codec is not recorded here. Decompressing
// and unpacking into records or entries is left to the caller, since
// the data/index payload shapes differ.
type Frame struct {
	Level             uint8
	CompressedPayload []byte
}

// IsExtension reports whether this frame is a reserved extension
// block that the reader must skip.
func (f Frame) IsExtension() bool { return f.Level >= FirstExtensionLevel }

// IsIndex reports whether this frame is an index block (level in
// [1, FirstExtensionLevel)).
func (f Frame) IsIndex() bool { return f.Level >= 1 && f.Level < FirstExtensionLevel }

// IsData reports whether this frame is a data block (level 0).
func (f Frame) IsData() bool { return f.Level == 0 }

// Encode produces the complete on-disk framing of one block:
// uleb128(1+len(zpayload)) || level || zpayload || crc64xz(level||zpayload).
func Encode(level uint8, compressedPayload []byte) []byte {
	body := make([]byte, 0, 1+len(compressedPayload))
	body = append(body, level)
	body = append(body, compressedPayload...)

	out := uleb128.Append(nil, uint64(len(body)))
	out = append(out, body...)
	sum := crc64xz.Encode(body)
	out = append(out, sum[:]...)
	return out
}

// ReadFrame reads one framed block from r, validating its checksum.
// It returns (Frame{}, false, nil) at a clean end-of-stream (EOF
// before the length varint's first byte); any other failure,
// including EOF mid-frame, is a corruption error.
func ReadFrame(r io.Reader) (Frame, bool, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = &byteReader{r: r}
	}

	framedLen, present, err := uleb128.ReadFrom(br)
	if err != nil {
		return Frame{}, false, err
	}
	if !present {
		return Frame{}, false, nil
	}
	if framedLen < 1 {
		return Frame{}, false, base.CorruptErrorf("block framed length %d too small to hold a level byte", framedLen)
	}

	body := make([]byte, framedLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, false, base.WrapCorrupt(err, "truncated block body")
	}

	var sum [8]byte
	if _, err := io.ReadFull(r, sum[:]); err != nil {
		return Frame{}, false, base.WrapCorrupt(err, "truncated block checksum")
	}
	if !crc64xz.Verify(body, sum[:]) {
		return Frame{}, false, base.CorruptErrorf("block checksum mismatch")
	}

	return Frame{Level: body[0], CompressedPayload: body[1:]}, true, nil
}

// Decode decompresses a frame's payload using the named codec.
func Decode(f Frame, codecName string) ([]byte, error) {
	c, err := codec.Get(codecName)
	if err != nil {
		return nil, err
	}
	return c.Decompress(f.CompressedPayload)
}

// byteReader adapts an io.Reader with no ReadByte method to
// io.ByteReader, for streams that don't already implement it (e.g. a
// raw net/http response body).
type byteReader struct {
	r   io.Reader
	buf [1]byte
}

func (b *byteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(b.r, b.buf[:]); err != nil {
		return 0, err
	}
	return b.buf[0], nil
}
