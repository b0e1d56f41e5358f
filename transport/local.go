// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package transport

import (
	"io"
	"os"

	"github.com/njsmith/zs/internal/base"
)

// LocalFile is a Transport backed by a file on local disk.
type LocalFile struct {
	path string
	f    *os.File
}

// OpenLocalFile opens path for reading.
func OpenLocalFile(path string) (*LocalFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, base.WrapTransport(err, "opening "+path)
	}
	return &LocalFile{path: path, f: f}, nil
}

func (l *LocalFile) Name() string { return l.path }
func (l *LocalFile) Remote() bool { return false }
func (l *LocalFile) Close() error { return l.f.Close() }

// Length reports the file's current size via fstat.
func (l *LocalFile) Length() (uint64, error) {
	info, err := l.f.Stat()
	if err != nil {
		return 0, base.WrapTransport(err, "stat "+l.path)
	}
	return uint64(info.Size()), nil
}

// ChunkRead allows a partial read at EOF, exactly like Python's
// file.read(length): ReadAt returns io.EOF alongside whatever bytes it
// did manage to read, which is not itself an error condition here.
func (l *LocalFile) ChunkRead(offset, length uint64) ([]byte, error) {
	buf := make([]byte, length)
	n, err := l.f.ReadAt(buf, int64(offset))
	if err != nil && err != io.EOF {
		return nil, base.WrapTransport(err, "reading "+l.path)
	}
	return buf[:n], nil
}

// StreamRead hands back an independent read cursor on the same
// underlying file, grounded on zss/transport.py's
// os.fdopen(os.dup(...)): reopening the path by name gives the same
// "multiple concurrent streams don't interfere" property without
// needing a raw dup(2) syscall. stop is ignored; local reads rely on
// EOF to terminate.
func (l *LocalFile) StreamRead(offset uint64, stop *uint64) (io.ReadCloser, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, base.WrapTransport(err, "reopening "+l.path)
	}
	if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
		f.Close()
		return nil, base.WrapTransport(err, "seeking "+l.path)
	}
	return f, nil
}
