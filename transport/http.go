// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package transport

import (
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"sync"

	"github.com/njsmith/zs/internal/base"
)

// HTTP is a Transport backed by byte-range requests against an
// HTTP(S) URL, grounded on zss/transport.py's HTTPTransport.
type HTTP struct {
	url    string
	client *http.Client

	mu      sync.Mutex
	length  uint64
	haveLen bool
}

// OpenHTTP constructs an HTTP transport against url. No request is
// made until the first ChunkRead/StreamRead/Length call.
func OpenHTTP(url string, client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{url: url, client: client}
}

func (h *HTTP) Name() string { return h.url }
func (h *HTTP) Remote() bool { return true }
func (h *HTTP) Close() error { return nil }

// crangeRe matches the "bytes X-Y/Z" and "bytes X-Y/*" forms of a
// Content-Range response header (RFC 2616 §14.16); the "bytes */Z"
// form does not match.
var crangeRe = regexp.MustCompile(`^bytes (\d+)-\d+/(\d+|\*)`)

// checkOffset validates that the server honored the requested byte
// range, per zss/transport.py's _check_offset: a server that ignores
// Range and returns 200 OK (which a missing/unparseable Content-Range
// implies) is treated as having answered at offset 0, which only
// matches a request for offset 0.
func (h *HTTP) checkOffset(resp *http.Response, desiredOffset uint64) error {
	crange := resp.Header.Get("Content-Range")
	match := crangeRe.FindStringSubmatch(crange)

	var offset uint64
	if match != nil {
		v, err := strconv.ParseUint(match[1], 10, 64)
		if err != nil {
			return base.TransportErrorf("malformed Content-Range %q", crange)
		}
		offset = v
	}
	if offset != desiredOffset {
		return base.TransportErrorf("server did not respect Range request (wanted offset %d, got %d)", desiredOffset, offset)
	}
	if match != nil && match[2] != "*" {
		total, err := strconv.ParseUint(match[2], 10, 64)
		if err != nil {
			return base.TransportErrorf("malformed Content-Range total %q", crange)
		}
		h.mu.Lock()
		h.length = total
		h.haveLen = true
		h.mu.Unlock()
	}
	return nil
}

// Length returns the resource's total size, fetched via a HEAD
// request the first time it's needed and cached afterward (or learned
// for free from an earlier Content-Range response).
func (h *HTTP) Length() (uint64, error) {
	h.mu.Lock()
	if h.haveLen {
		n := h.length
		h.mu.Unlock()
		return n, nil
	}
	h.mu.Unlock()

	resp, err := h.client.Head(h.url)
	if err != nil {
		return 0, base.WrapTransport(err, "HEAD "+h.url)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, base.TransportErrorf("HEAD %s: status %s", h.url, resp.Status)
	}
	cl := resp.Header.Get("Content-Length")
	n, err := strconv.ParseUint(cl, 10, 64)
	if err != nil {
		return 0, base.TransportErrorf("HEAD %s: missing or invalid Content-Length", h.url)
	}

	h.mu.Lock()
	h.length = n
	h.haveLen = true
	h.mu.Unlock()
	return n, nil
}

func (h *HTTP) rangeGet(rangeHeader string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, h.url, nil)
	if err != nil {
		return nil, base.WrapTransport(err, "building request for "+h.url)
	}
	req.Header.Set("Range", rangeHeader)
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, base.WrapTransport(err, "GET "+h.url)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, base.TransportErrorf("GET %s: status %s", h.url, resp.Status)
	}
	return resp, nil
}

// ChunkRead issues a single bounded Range request and returns its
// entire body.
func (h *HTTP) ChunkRead(offset, length uint64) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	rng := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	resp, err := h.rangeGet(rng)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := h.checkOffset(resp, offset); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, base.WrapTransport(err, "reading response body from "+h.url)
	}
	return body, nil
}

// StreamRead issues a streaming Range request. When stop is given, a
// stop <= offset (an empty requested span) short-circuits to an empty
// stream without making a request -- a real request in that case would
// just draw a 416 from the server, per the original's comment.
func (h *HTTP) StreamRead(offset uint64, stop *uint64) (io.ReadCloser, error) {
	var rng string
	if stop == nil {
		rng = fmt.Sprintf("bytes=%d-", offset)
	} else {
		if *stop <= offset {
			return io.NopCloser(&emptyReader{}), nil
		}
		rng = fmt.Sprintf("bytes=%d-%d", offset, *stop-1)
	}
	resp, err := h.rangeGet(rng)
	if err != nil {
		return nil, err
	}
	if err := h.checkOffset(resp, offset); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

type emptyReader struct{}

func (*emptyReader) Read([]byte) (int, error) { return 0, io.EOF }
