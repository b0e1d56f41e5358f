// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package codec implements the four block-compression algorithms (C4)
// named in a ZS header's codec tag: "none", "deflate", "bz2", and
// "lzma2;dsize=2^20". The registry used by Get is keyed by those exact
// strings only; Resolve maps the "lzma"/"deflate"/"bz2"/"none"
// shorthands accepted on the CLI to them, grounded on zs/common.py's
// `codecs` / `codec_shorthands` maps.
//
// deflate uses raw DEFLATE (no zlib/gzip framing) via
// github.com/klauspost/compress/flate, matching the Python's use of
// zlib.compressobj(wbits=-15): ZS already has its own per-block
// checksum, so the zlib/gzip wrapper's own checksum would be pure
// overhead. bz2 uses github.com/dsnet/compress/bzip2 because the
// standard library's compress/bzip2 can only decode. lzma2 uses
// github.com/ulikunitz/xz/lzma2's raw (headerless) stream form, the Go
// equivalent of the Python's lzma.FORMAT_RAW with a single LZMA2
// filter.
package codec

import (
	"bytes"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/flate"
	"github.com/ulikunitz/xz/lzma2"

	"github.com/njsmith/zs/internal/base"
)

// DictSize is the fixed LZMA2 dictionary size ZS uses: 1 MiB, the
// "dsize=2^20" half of the codec tag.
const DictSize = 1 << 20

// Codec compresses and decompresses block payloads. Implementations
// must reject trailing garbage and truncated streams on Decompress.
type Codec interface {
	// Name is the exact string stored in a header's 16-byte codec tag.
	Name() string
	Compress(payload []byte) ([]byte, error)
	Decompress(zpayload []byte) ([]byte, error)
}

var registry = map[string]Codec{}

func register(c Codec) { registry[c.Name()] = c }

func init() {
	register(noneCodec{})
	register(deflateCodec{})
	register(bz2Codec{})
	register(lzma2Codec{})
}

// shorthands maps the CLI/convenience names to the on-disk codec tag,
// mirroring zs/common.py's codec_shorthands (plus the identity
// mappings for names that are already full tags).
var shorthands = map[string]string{
	"none":    "none",
	"deflate": "deflate",
	"bz2":     "bz2",
	"lzma":    "lzma2;dsize=2^20",

	"lzma2;dsize=2^20": "lzma2;dsize=2^20",
}

// Resolve expands a shorthand codec name (as accepted by the CLI) to
// its canonical on-disk tag.
func Resolve(name string) (string, error) {
	tag, ok := shorthands[name]
	if !ok {
		return "", errors.Mark(errors.Newf("codec: unknown codec name %q", name), base.ErrUsage)
	}
	return tag, nil
}

// Get returns the Codec registered under the given on-disk tag name
// (after trimming NUL padding).
func Get(name string) (Codec, error) {
	name = trimNUL(name)
	c, ok := registry[name]
	if !ok {
		return nil, errors.Mark(errors.Newf("codec: unsupported codec %q", name), base.ErrUnsupportedCodec)
	}
	return c, nil
}

func trimNUL(s string) string {
	if i := bytes.IndexByte([]byte(s), 0); i >= 0 {
		return s[:i]
	}
	return s
}

type noneCodec struct{}

func (noneCodec) Name() string { return "none" }

func (noneCodec) Compress(payload []byte) ([]byte, error) {
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

func (noneCodec) Decompress(zpayload []byte) ([]byte, error) {
	out := make([]byte, len(zpayload))
	copy(out, zpayload)
	return out, nil
}

type deflateCodec struct{}

func (deflateCodec) Name() string { return "deflate" }

func (deflateCodec) Compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, errors.Wrap(err, "codec: deflate writer")
	}
	if _, err := w.Write(payload); err != nil {
		return nil, errors.Wrap(err, "codec: deflate compress")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "codec: deflate flush")
	}
	return buf.Bytes(), nil
}

// Decompress rejects trailing garbage after the stream's end marker,
// matching the Python's explicit check that the decompressor consumed
// every byte it was handed.
func (deflateCodec) Decompress(zpayload []byte) ([]byte, error) {
	br := bytes.NewReader(zpayload)
	r := flate.NewReader(br)
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "codec: deflate stream truncated or corrupt"), base.ErrCorrupt)
	}
	if br.Len() > 0 {
		return nil, errors.Mark(errors.Newf("codec: deflate stream has %d trailing byte(s)", br.Len()), base.ErrCorrupt)
	}
	return out, nil
}

type bz2Codec struct{}

func (bz2Codec) Name() string { return "bz2" }

// bz2 uses standard bzip2 framing: wasteful (a redundant CRC-32 inside
// the stream on top of ZS's own per-block checksum) but there's no raw
// variant, same tradeoff zs/common.py accepts.
func (bz2Codec) Compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := bzip2.NewWriterLevel(&buf, bzip2.BestCompression)
	if err != nil {
		return nil, errors.Wrap(err, "codec: bz2 writer")
	}
	if _, err := w.Write(payload); err != nil {
		return nil, errors.Wrap(err, "codec: bz2 compress")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "codec: bz2 flush")
	}
	return buf.Bytes(), nil
}

// Decompress rejects trailing garbage after the stream's end marker,
// matching the Python's explicit check that the decompressor consumed
// every byte it was handed.
func (bz2Codec) Decompress(zpayload []byte) ([]byte, error) {
	br := bytes.NewReader(zpayload)
	r, err := bzip2.NewReader(br, nil)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "codec: bz2 stream corrupt"), base.ErrCorrupt)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "codec: bz2 stream truncated or corrupt"), base.ErrCorrupt)
	}
	if br.Len() > 0 {
		return nil, errors.Mark(errors.Newf("codec: bz2 stream has %d trailing byte(s)", br.Len()), base.ErrCorrupt)
	}
	return out, nil
}

type lzma2Codec struct{}

func (lzma2Codec) Name() string { return "lzma2;dsize=2^20" }

func (lzma2Codec) Compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	cfg := lzma2.Writer2Config{DictCap: DictSize}
	w, err := cfg.NewWriter2(&buf)
	if err != nil {
		return nil, errors.Wrap(err, "codec: lzma2 writer")
	}
	if _, err := w.Write(payload); err != nil {
		return nil, errors.Wrap(err, "codec: lzma2 compress")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "codec: lzma2 flush")
	}
	return buf.Bytes(), nil
}

// Decompress rejects dictionaries larger than DictSize and any
// trailing garbage after the stream's end marker, matching the
// Python's explicit post-decode checks on decobj.eof/unused_data.
func (lzma2Codec) Decompress(zpayload []byte) ([]byte, error) {
	br := bytes.NewReader(zpayload)
	cfg := lzma2.Reader2Config{DictCap: DictSize}
	r, err := cfg.NewReader2(br)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "codec: lzma2 stream corrupt"), base.ErrCorrupt)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "codec: lzma2 stream cut off or corrupt"), base.ErrCorrupt)
	}
	if br.Len() > 0 {
		return nil, errors.Mark(errors.Newf("codec: lzma2 stream has %d trailing byte(s)", br.Len()), base.ErrCorrupt)
	}
	return out, nil
}

// EncodeTag returns the 16-byte NUL-padded on-disk representation of a
// codec's on-disk name.
func EncodeTag(name string) ([16]byte, error) {
	var tag [16]byte
	if len(name) > 16 {
		return tag, errors.Mark(errors.Newf("codec: name %q exceeds 16 bytes", name), base.ErrUsage)
	}
	copy(tag[:], name)
	return tag, nil
}

// DecodeTag extracts a codec name from its 16-byte NUL-padded on-disk
// representation.
func DecodeTag(tag [16]byte) string {
	return trimNUL(string(tag[:]))
}
