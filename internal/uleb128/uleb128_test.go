// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package uleb128

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	vals := []uint64{0, 1, 127, 128, 129, 16383, 16384, 1 << 32, ^uint64(0)}
	for _, v := range vals {
		enc := Encode(v)
		got, n := Decode(enc)
		require.Equal(t, v, got)
		require.Equal(t, len(enc), n)
	}
}

func TestReadFromEOF(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader(nil))
	_, ok, err := ReadFrom(r)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReadFromTruncated(t *testing.T) {
	// high bit set, then EOF: a genuine corruption, not end-of-stream.
	r := bufio.NewReader(bytes.NewReader([]byte{0x80}))
	_, _, err := ReadFrom(r)
	require.Error(t, err)
}

func TestReadWriteRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	vals := []uint64{0, 1, 300, 1 << 40}
	for _, v := range vals {
		require.NoError(t, WriteTo(&buf, v))
	}
	r := bufio.NewReader(&buf)
	for _, want := range vals {
		got, ok, err := ReadFrom(r)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
}
