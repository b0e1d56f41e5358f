// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import (
	"log"
	"os"
)

// Logger is the minimal logging interface threaded through the reader
// and writer, mirroring the teacher's LoggerAndTracer pattern without
// the tracing half (zs has no distributed tracing integration).
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// DefaultLogger writes to the standard library's log package, the way
// pebble's default logger writes to stderr absent an injected one.
var DefaultLogger Logger = stdLogger{log.New(os.Stderr, "", log.LstdFlags)}

type stdLogger struct{ l *log.Logger }

func (s stdLogger) Infof(format string, args ...interface{})  { s.l.Printf(format, args...) }
func (s stdLogger) Errorf(format string, args ...interface{}) { s.l.Printf(format, args...) }

// NoopLogger discards everything; used by default in library code paths
// that shouldn't be chatty unless the caller opts in via Options.Logger.
var NoopLogger Logger = noopLogger{}

type noopLogger struct{}

func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}
