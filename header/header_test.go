// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package header

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleHeader(t *testing.T) *Header {
	t.Helper()
	h := &Header{
		RootIndexOffset: 123,
		RootIndexLength: 45,
		TotalFileLength: 9999,
		Metadata:        json.RawMessage(`{"hello":"world"}`),
	}
	require.NoError(t, h.SetCodec("deflate"))
	return h
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := sampleHeader(t)
	payload, err := h.Encode()
	require.NoError(t, err)

	got, err := Decode(payload)
	require.NoError(t, err)
	require.Equal(t, h.RootIndexOffset, got.RootIndexOffset)
	require.Equal(t, h.RootIndexLength, got.RootIndexLength)
	require.Equal(t, h.TotalFileLength, got.TotalFileLength)
	require.Equal(t, "deflate", got.Codec())
	require.JSONEq(t, `{"hello":"world"}`, string(got.Metadata))
	require.Empty(t, got.Extension)
}

func TestDecodePreservesExtensionBytes(t *testing.T) {
	h := sampleHeader(t)
	payload, err := h.Encode()
	require.NoError(t, err)
	payload = append(payload, 0xDE, 0xAD, 0xBE, 0xEF)

	got, err := Decode(payload)
	require.NoError(t, err)
	require.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, got.Extension)

	// Re-encoding must reproduce the extension bytes at the tail.
	reEncoded, err := got.Encode()
	require.NoError(t, err)
	require.Equal(t, payload, reEncoded)
}

func TestDecodeRejectsNonObjectMetadata(t *testing.T) {
	h := sampleHeader(t)
	h.Metadata = json.RawMessage(`"just a string"`)
	payload, err := h.Encode()
	require.NoError(t, err)
	_, err = Decode(payload)
	require.Error(t, err)
}

func TestDecodeRejectsNullMetadata(t *testing.T) {
	h := sampleHeader(t)
	h.Metadata = json.RawMessage(`null`)
	payload, err := h.Encode()
	require.NoError(t, err)
	_, err = Decode(payload)
	require.Error(t, err)
}

type fakeChunkReader struct {
	data []byte
}

func (f fakeChunkReader) ChunkRead(offset, length uint64) ([]byte, error) {
	end := offset + length
	if end > uint64(len(f.data)) {
		end = uint64(len(f.data))
	}
	if offset > uint64(len(f.data)) {
		offset = uint64(len(f.data))
	}
	return f.data[offset:end], nil
}

func buildFile(t *testing.T, magic [8]byte, h *Header) []byte {
	t.Helper()
	var buf bytes.Buffer
	_, err := WriteFile(&buf, magic, h)
	require.NoError(t, err)
	return buf.Bytes()
}

func TestReadWithinSingleRoundTrip(t *testing.T) {
	h := sampleHeader(t)
	data := buildFile(t, CompleteMagic, h)

	res, err := Read(fakeChunkReader{data}, SizeGuessDefault)
	require.NoError(t, err)
	require.True(t, res.Complete)
	require.Equal(t, uint64(len(data)), res.End)
	require.Equal(t, h.RootIndexOffset, res.Header.RootIndexOffset)
}

func TestReadRequiringSecondRoundTrip(t *testing.T) {
	h := sampleHeader(t)
	padding := bytes.Repeat([]byte("x"), 100)
	h.Metadata = json.RawMessage(`{"padding":"` + string(padding) + `"}`)
	data := buildFile(t, CompleteMagic, h)

	// A tiny size guess forces Read to issue a second chunk_read.
	res, err := Read(fakeChunkReader{data}, 16)
	require.NoError(t, err)
	require.Equal(t, uint64(len(data)), res.End)
}

func TestReadRejectsIncompleteMagic(t *testing.T) {
	h := sampleHeader(t)
	data := buildFile(t, IncompleteMagic, h)
	_, err := Read(fakeChunkReader{data}, SizeGuessDefault)
	require.Error(t, err)
}

func TestReadRejectsBadMagic(t *testing.T) {
	data := append([]byte("NOTAZSFILE"), make([]byte, 32)...)
	_, err := Read(fakeChunkReader{data}, SizeGuessDefault)
	require.Error(t, err)
}

func TestReadRejectsChecksumMismatch(t *testing.T) {
	h := sampleHeader(t)
	data := buildFile(t, CompleteMagic, h)
	data[len(data)-1] ^= 0xff
	_, err := Read(fakeChunkReader{data}, SizeGuessDefault)
	require.Error(t, err)
}
