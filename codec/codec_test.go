// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripAllCodecs(t *testing.T) {
	payloads := [][]byte{
		nil,
		[]byte(""),
		[]byte("a"),
		[]byte("the quick brown fox jumps over the lazy dog, repeated. "),
	}
	for _, name := range []string{"none", "deflate", "bz2", "lzma2;dsize=2^20"} {
		c, err := Get(name)
		require.NoError(t, err)
		for _, p := range payloads {
			z, err := c.Compress(p)
			require.NoError(t, err, "codec %s compress", name)
			got, err := c.Decompress(z)
			require.NoError(t, err, "codec %s decompress", name)
			require.Equal(t, p, got, "codec %s round trip", name)
		}
	}
}

func TestResolveShorthand(t *testing.T) {
	tag, err := Resolve("lzma")
	require.NoError(t, err)
	require.Equal(t, "lzma2;dsize=2^20", tag)

	_, err = Resolve("not-a-codec")
	require.Error(t, err)
}

func TestGetUnknownCodec(t *testing.T) {
	_, err := Get("not-a-codec")
	require.Error(t, err)
}

func TestTagRoundTrip(t *testing.T) {
	tag, err := EncodeTag("lzma2;dsize=2^20")
	require.NoError(t, err)
	require.Equal(t, "lzma2;dsize=2^20", DecodeTag(tag))

	tag, err = EncodeTag("none")
	require.NoError(t, err)
	require.Equal(t, "none", DecodeTag(tag))
}

func TestDeflateRejectsTruncatedStream(t *testing.T) {
	c, err := Get("deflate")
	require.NoError(t, err)
	z, err := c.Compress([]byte("some moderately long payload to compress"))
	require.NoError(t, err)
	_, err = c.Decompress(z[:len(z)-2])
	require.Error(t, err)
}

func TestCodecsRejectTrailingGarbage(t *testing.T) {
	for _, name := range []string{"deflate", "bz2", "lzma2;dsize=2^20"} {
		c, err := Get(name)
		require.NoError(t, err, "codec %s", name)
		z, err := c.Compress([]byte("some moderately long payload to compress"))
		require.NoError(t, err, "codec %s compress", name)
		z = append(z, 0xDE, 0xAD, 0xBE, 0xEF)
		_, err = c.Decompress(z)
		require.Error(t, err, "codec %s should reject trailing garbage", name)
	}
}
