// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package transport

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalFileChunkAndStreamRead(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "zs-local-*")
	require.NoError(t, err)
	content := []byte("0123456789abcdefghij")
	_, err = f.Write(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	lt, err := OpenLocalFile(f.Name())
	require.NoError(t, err)
	defer lt.Close()

	require.False(t, lt.Remote())

	n, err := lt.Length()
	require.NoError(t, err)
	require.Equal(t, uint64(len(content)), n)

	got, err := lt.ChunkRead(5, 5)
	require.NoError(t, err)
	require.Equal(t, []byte("56789"), got)

	// Partial read at EOF.
	got, err = lt.ChunkRead(uint64(len(content)-3), 100)
	require.NoError(t, err)
	require.Equal(t, content[len(content)-3:], got)

	s1, err := lt.StreamRead(3, nil)
	require.NoError(t, err)
	defer s1.Close()
	s2, err := lt.StreamRead(10, nil)
	require.NoError(t, err)
	defer s2.Close()

	b1, err := io.ReadAll(s1)
	require.NoError(t, err)
	require.Equal(t, content[3:], b1, "independent stream cursors must not interfere")

	b2, err := io.ReadAll(s2)
	require.NoError(t, err)
	require.Equal(t, content[10:], b2)
}

func TestHTTPChunkReadHonorsRange(t *testing.T) {
	content := []byte("the quick brown fox jumps over the lazy dog")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var start, end int
		_, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end)
		require.NoError(t, err)
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(content)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(content[start : end+1])
	}))
	defer srv.Close()

	ht := OpenHTTP(srv.URL, nil)
	got, err := ht.ChunkRead(4, 5)
	require.NoError(t, err)
	require.Equal(t, []byte("quick"), got)

	n, err := ht.Length()
	require.NoError(t, err)
	require.Equal(t, uint64(len(content)), n)
}

func TestHTTPRejectsNonCompliantRangeServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Ignores Range and returns the whole body with 200, no
		// Content-Range -- exactly the "server did not respect Range"
		// case.
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("whole body regardless of range"))
	}))
	defer srv.Close()

	ht := OpenHTTP(srv.URL, nil)
	_, err := ht.ChunkRead(10, 5)
	require.Error(t, err)
}

func TestHTTPStreamReadEmptySpanShortCircuits(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ht := OpenHTTP(srv.URL, nil)
	stop := uint64(5)
	rc, err := ht.StreamRead(10, &stop)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Empty(t, b)
	require.False(t, called, "a stop <= offset span must not hit the network")
}
