// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package main

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/njsmith/zs"
	"github.com/njsmith/zs/internal/base"
	"github.com/njsmith/zs/transport"
)

// openReader opens pathOrURL as a zs.Reader, treating any argument
// beginning with "http" as a URL and everything else as a local path,
// mirroring the original's open_zs helper.
func openReader(pathOrURL string, parallelism int) (*zs.Reader, error) {
	var t transport.Transport
	if strings.HasPrefix(pathOrURL, "http") {
		t = transport.OpenHTTP(pathOrURL, http.DefaultClient)
	} else {
		lt, err := transport.OpenLocalFile(pathOrURL)
		if err != nil {
			return nil, err
		}
		t = lt
	}
	return zs.Open(t, zs.ReadOptions{Parallelism: parallelism, Logger: base.NoopLogger})
}

// unescape expands the Python-style backslash escapes (\n, \t, \xNN,
// and so on) that the original command line accepts in --terminator,
// --start, --stop, and --prefix arguments, so a shell user can write
// --terminator='\n' without needing a literal newline on the command
// line.
func unescape(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	quoted, err := strconv.Unquote(`"` + strings.ReplaceAll(s, `"`, `\"`) + `"`)
	if err != nil {
		return nil, base.UsageErrorf("invalid escape sequence in %q: %v", s, err)
	}
	return []byte(quoted), nil
}

// nilIfEmpty returns nil when the flag was not given and b otherwise,
// since zs's Search/Dump treat nil as "no bound given". unescape maps
// an empty argument to nil, so an explicitly empty flag also yields nil.
func nilIfEmpty(set bool, b []byte) []byte {
	if !set {
		return nil
	}
	return b
}
