// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestCompareAndSorted(t *testing.T) {
	require.Less(t, Compare([]byte("a"), []byte("b")), 0)
	require.Equal(t, 0, Compare([]byte("x"), []byte("x")))
	require.Greater(t, Compare([]byte("b"), []byte("a")), 0)

	require.True(t, Sorted([][]byte{}))
	require.True(t, Sorted([][]byte{[]byte("a")}))
	require.True(t, Sorted([][]byte{[]byte(""), []byte("a"), []byte("a"), []byte("b")}))
	require.False(t, Sorted([][]byte{[]byte("b"), []byte("a")}))
}

func TestPrefixSuccessor(t *testing.T) {
	require.Equal(t, []byte("b"), PrefixSuccessor([]byte("a")))
	require.Equal(t, []byte("ac"), PrefixSuccessor([]byte("ab")))
	require.Nil(t, PrefixSuccessor(nil))
	require.Nil(t, PrefixSuccessor([]byte{0xFF}))
	require.Nil(t, PrefixSuccessor([]byte{0x61, 0xFF}))
}

func TestErrorConstructorsMarkSentinels(t *testing.T) {
	cases := []struct {
		err    error
		target error
		prefix string
	}{
		{CorruptErrorf("bad block at %d", 42), ErrCorrupt, "zs: corrupt: "},
		{TransportErrorf("status %d", 500), ErrTransport, "zs: transport: "},
		{UsageErrorf("bad parallelism %d", -1), ErrUsage, "zs: usage: "},
	}
	for _, c := range cases {
		require.True(t, errors.Is(c.err, c.target), "expected %v to be marked %v", c.err, c.target)
		require.Contains(t, c.err.Error(), c.prefix)
	}
}

func TestWrapHelpersPreserveCauseAndMark(t *testing.T) {
	cause := errors.New("short read")

	corrupt := WrapCorrupt(cause, "reading frame")
	require.True(t, errors.Is(corrupt, ErrCorrupt))
	require.True(t, errors.Is(corrupt, cause))

	transport := WrapTransport(cause, "fetching range")
	require.True(t, errors.Is(transport, ErrTransport))
	require.True(t, errors.Is(transport, cause))

	io := WrapIO(cause, "writing header")
	require.True(t, errors.Is(io, ErrIO))
	require.True(t, errors.Is(io, cause))

	require.Nil(t, WrapCorrupt(nil, "unreachable"))
	require.Nil(t, WrapTransport(nil, "unreachable"))
	require.Nil(t, WrapIO(nil, "unreachable"))
}

func TestClosedErrorf(t *testing.T) {
	err := ClosedErrorf("reader")
	require.True(t, errors.Is(err, ErrUsage))
	require.True(t, IsClosedError(err))
	require.Contains(t, err.Error(), "operation on closed reader")
}
