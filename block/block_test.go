// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package block

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackUnpackDataRoundTrip(t *testing.T) {
	records := [][]byte{[]byte(""), []byte("a"), []byte("b"), []byte("bb"), []byte("c")}
	payload, err := PackData(records)
	require.NoError(t, err)

	got, err := UnpackData(payload)
	require.NoError(t, err)
	require.Equal(t, records, got)
}

func TestPackDataRejectsUnsorted(t *testing.T) {
	_, err := PackData([][]byte{[]byte("b"), []byte("a")})
	require.Error(t, err)
}

func TestUnpackDataTruncated(t *testing.T) {
	payload, err := PackData([][]byte{[]byte("hello")})
	require.NoError(t, err)
	_, err = UnpackData(payload[:len(payload)-1])
	require.Error(t, err)
}

func TestPackUnpackIndexRoundTrip(t *testing.T) {
	entries := []Entry{
		{Key: []byte("a"), ChildOffset: 100, ChildLength: 10},
		{Key: []byte("m"), ChildOffset: 200, ChildLength: 20},
		{Key: []byte("z"), ChildOffset: 300, ChildLength: 30},
	}
	payload, err := PackIndex(entries)
	require.NoError(t, err)

	got, err := UnpackIndex(payload)
	require.NoError(t, err)
	require.Equal(t, entries, got)
}

func TestPackIndexRejectsNonIncreasingOffsets(t *testing.T) {
	_, err := PackIndex([]Entry{
		{Key: []byte("a"), ChildOffset: 100, ChildLength: 10},
		{Key: []byte("b"), ChildOffset: 100, ChildLength: 10},
	})
	require.Error(t, err)
}

func TestFrameEncodeReadRoundTrip(t *testing.T) {
	framed := Encode(0, []byte("compressed-bytes-here"))
	f, ok, err := ReadFrame(bytes.NewReader(framed))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint8(0), f.Level)
	require.Equal(t, []byte("compressed-bytes-here"), f.CompressedPayload)
}

func TestReadFrameCleanEOF(t *testing.T) {
	_, ok, err := ReadFrame(bytes.NewReader(nil))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReadFrameDetectsChecksumMismatch(t *testing.T) {
	framed := Encode(1, []byte("index-payload"))
	framed[len(framed)-1] ^= 0xff
	_, _, err := ReadFrame(bytes.NewReader(framed))
	require.Error(t, err)
}

func TestReadFrameDetectsTruncation(t *testing.T) {
	framed := Encode(0, []byte("some payload"))
	_, _, err := ReadFrame(bytes.NewReader(framed[:len(framed)-3]))
	require.Error(t, err)
}

func TestFrameLevelClassification(t *testing.T) {
	require.True(t, Frame{Level: 0}.IsData())
	require.True(t, Frame{Level: 1}.IsIndex())
	require.True(t, Frame{Level: 63}.IsIndex())
	require.True(t, Frame{Level: 64}.IsExtension())
	require.False(t, Frame{Level: 64}.IsIndex())
}
