// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package header implements the zs file header codec (C5): the magic
// bytes, the fixed-field + length-prefixed-JSON header payload, and
// its checksum, grounded on the teacher's sstable footer layout in
// sstable/table.go (fixed trailer fields + magic) but restructured to
// match zs's leading-header-with-extensible-tail shape instead of
// pebble's trailing footer.
package header

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/njsmith/zs/internal/base"
	"github.com/njsmith/zs/internal/crc64xz"
)

// CompleteMagic is written by a file whose header and index are valid
// and final.
var CompleteMagic = [8]byte{0xAB, 'Z', 'S', 'f', 'i', 'L', 'e', 0x01}

// IncompleteMagic is written while a file is still under construction;
// readers must refuse to open a file bearing it.
var IncompleteMagic = [8]byte{0xAB, 'Z', 'S', 't', 'o', 'B', 'e', 0x01}

// SizeGuessDefault is the number of bytes speculatively read on open,
// before the header's real length is known; large enough that one
// chunk_read almost always covers header+metadata in a single round
// trip.
const SizeGuessDefault = 8192

// CodecTagLen is the fixed width of the NUL-padded codec name field.
const CodecTagLen = 16

// crcLen is the width of a CRC-64/XZ trailer.
const crcLen = 8

// Header holds the decoded fixed fields of a zs file header plus its
// caller-supplied metadata object.
type Header struct {
	RootIndexOffset uint64
	RootIndexLength uint64
	TotalFileLength uint64
	DataSHA256      [32]byte
	CodecTag        [16]byte
	Metadata        json.RawMessage

	// Extension holds any trailing bytes after the recognized fields
	// that a reader doesn't understand; a writer finalizing a header
	// in place must preserve them verbatim, since the header's total
	// length is fixed at creation time (spec §4.5).
	Extension []byte
}

// Codec returns the header's codec name with NUL padding trimmed.
func (h *Header) Codec() string {
	if i := bytes.IndexByte(h.CodecTag[:], 0); i >= 0 {
		return string(h.CodecTag[:i])
	}
	return string(h.CodecTag[:])
}

// SetCodec writes name into the fixed-width codec tag field.
func (h *Header) SetCodec(name string) error {
	if len(name) > CodecTagLen {
		return base.UsageErrorf("codec name %q exceeds %d bytes", name, CodecTagLen)
	}
	var tag [CodecTagLen]byte
	copy(tag[:], name)
	h.CodecTag = tag
	return nil
}

// Encode serializes the header's fixed fields (without the outer
// length prefix or trailing checksum): root offset/length, total file
// length, data SHA-256, codec tag, length-prefixed metadata JSON, and
// any preserved extension bytes.
func (h *Header) Encode() ([]byte, error) {
	if len(h.Metadata) == 0 {
		h.Metadata = json.RawMessage("{}")
	}
	var buf bytes.Buffer
	var u64 [8]byte

	binary.LittleEndian.PutUint64(u64[:], h.RootIndexOffset)
	buf.Write(u64[:])
	binary.LittleEndian.PutUint64(u64[:], h.RootIndexLength)
	buf.Write(u64[:])
	binary.LittleEndian.PutUint64(u64[:], h.TotalFileLength)
	buf.Write(u64[:])
	buf.Write(h.DataSHA256[:])
	buf.Write(h.CodecTag[:])

	binary.LittleEndian.PutUint64(u64[:], uint64(len(h.Metadata)))
	buf.Write(u64[:])
	buf.Write(h.Metadata)
	buf.Write(h.Extension)

	return buf.Bytes(), nil
}

// fixedFieldsLen is the byte length of every field up to and including
// the metadata length prefix, i.e. everything preceding the metadata
// JSON bytes themselves.
const fixedFieldsLen = 8 + 8 + 8 + 32 + CodecTagLen + 8

// Decode parses a header payload (the bytes between the header-length
// prefix and the header checksum) produced by Encode. It validates
// that metadata decodes as a JSON object; unrecognized trailing bytes
// after the metadata are preserved in Extension, not rejected.
func Decode(data []byte) (*Header, error) {
	if len(data) < fixedFieldsLen {
		return nil, base.CorruptErrorf("header payload too short (%d bytes)", len(data))
	}
	h := &Header{}
	off := 0
	h.RootIndexOffset = binary.LittleEndian.Uint64(data[off:])
	off += 8
	h.RootIndexLength = binary.LittleEndian.Uint64(data[off:])
	off += 8
	h.TotalFileLength = binary.LittleEndian.Uint64(data[off:])
	off += 8
	copy(h.DataSHA256[:], data[off:off+32])
	off += 32
	copy(h.CodecTag[:], data[off:off+CodecTagLen])
	off += CodecTagLen

	metaLen := binary.LittleEndian.Uint64(data[off:])
	off += 8
	if uint64(len(data)-off) < metaLen {
		return nil, base.CorruptErrorf("header metadata length %d exceeds payload", metaLen)
	}
	metaBytes := data[off : off+int(metaLen)]
	off += int(metaLen)

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(metaBytes, &probe); err != nil {
		return nil, base.WrapCorrupt(err, "header metadata is not a JSON object")
	}
	if probe == nil {
		return nil, base.CorruptErrorf("header metadata is not a JSON object")
	}
	h.Metadata = json.RawMessage(metaBytes)
	h.Extension = append([]byte(nil), data[off:]...)

	return h, nil
}

// WriteFile writes the complete on-disk header -- magic, length
// prefix, payload, checksum -- to w.
func WriteFile(w io.Writer, magic [8]byte, h *Header) (int64, error) {
	payload, err := h.Encode()
	if err != nil {
		return 0, err
	}
	var n int64

	if _, err := w.Write(magic[:]); err != nil {
		return n, err
	}
	n += int64(len(magic))

	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], uint64(len(payload)))
	if _, err := w.Write(u64[:]); err != nil {
		return n, err
	}
	n += 8

	if _, err := w.Write(payload); err != nil {
		return n, err
	}
	n += int64(len(payload))

	sum := crc64xz.Encode(payload)
	if _, err := w.Write(sum[:]); err != nil {
		return n, err
	}
	n += int64(len(sum))

	return n, nil
}

// ReadResult is the outcome of reading a file's header: the decoded
// header, whether the file's magic marked it complete, and the byte
// offset immediately following the header (where the first block
// begins).
type ReadResult struct {
	Header   *Header
	Complete bool
	End      uint64
}

// ChunkReader mirrors the one operation header reading actually needs
// from a transport, so this package doesn't need to import the
// transport package (which in turn depends on header for nothing,
// but avoiding the cycle keeps the dependency graph leaf-first).
type ChunkReader interface {
	ChunkRead(offset, length uint64) ([]byte, error)
}

// Read loads and validates a file's header via chunkRead, following
// the spec's two-round-trip protocol: speculatively read sizeGuess
// bytes, and if the header turns out to be longer, issue one more
// read for the remainder.
func Read(cr ChunkReader, sizeGuess uint64) (*ReadResult, error) {
	if sizeGuess == 0 {
		sizeGuess = SizeGuessDefault
	}
	chunk, err := cr.ChunkRead(0, sizeGuess)
	if err != nil {
		return nil, err
	}
	if len(chunk) < len(CompleteMagic) {
		return nil, base.CorruptErrorf("file too short to hold a magic number")
	}

	var magic [8]byte
	copy(magic[:], chunk[:8])
	complete := magic == CompleteMagic
	if !complete {
		if magic == IncompleteMagic {
			return nil, base.CorruptErrorf("file was only partially written (incomplete magic)")
		}
		return nil, base.CorruptErrorf("bad magic number: not a zs file")
	}

	if len(chunk) < 16 {
		return nil, base.CorruptErrorf("file too short to hold a header length")
	}
	headerDataLength := binary.LittleEndian.Uint64(chunk[8:16])
	needed := headerDataLength + crcLen
	haveAfterPrefix := uint64(len(chunk) - 16)

	buf := chunk[16:]
	if haveAfterPrefix < needed {
		rest, err := cr.ChunkRead(uint64(len(chunk)), needed-haveAfterPrefix)
		if err != nil {
			return nil, err
		}
		buf = append(append([]byte(nil), buf...), rest...)
	}
	if uint64(len(buf)) < needed {
		return nil, base.CorruptErrorf("unexpected EOF while reading header")
	}

	payload := buf[:headerDataLength]
	crc := buf[headerDataLength:needed]
	if !crc64xz.Verify(payload, crc) {
		return nil, base.CorruptErrorf("header checksum mismatch")
	}

	h, err := Decode(payload)
	if err != nil {
		return nil, err
	}

	return &ReadResult{
		Header:   h,
		Complete: true,
		End:      uint64(16) + needed,
	}, nil
}
