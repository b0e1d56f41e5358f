// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, contents string) error {
	t.Helper()
	return os.WriteFile(path, []byte(contents), 0o644)
}

// corruptFile flips the byte 16 bytes before the end of the file (or
// the middle byte of a file shorter than that), which lands inside the
// last blocks written, so a block checksum no longer matches -- enough
// to make Validate fail without the header becoming unreadable.
func corruptFile(t *testing.T, path string) error {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	target := len(b) - 16
	if target < 0 {
		target = len(b) / 2
	}
	b[target] ^= 0xFF
	return os.WriteFile(path, b, 0o644)
}

func runCmd(t *testing.T, args ...string) (stdout string, err error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), err
}

func TestMakeDumpValidateInfoRoundTrip(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.txt")
	outZS := filepath.Join(dir, "out.zs")

	require.NoError(t, writeFile(t, input, "apple\nbanana\ncherry\n"))

	_, err := runCmd(t, "make", `{"dataset":"fruit"}`, input, outZS, "--codec=none")
	require.NoError(t, err)

	dumped, err := runCmd(t, "dump", outZS)
	require.NoError(t, err)
	require.Equal(t, "apple\nbanana\ncherry\n", dumped)

	validated, err := runCmd(t, "validate", outZS)
	require.NoError(t, err)
	require.Contains(t, validated, "looks good!")

	info, err := runCmd(t, "info", outZS)
	require.NoError(t, err)
	require.Contains(t, info, `"codec": "none"`)
	require.Contains(t, info, `"dataset": "fruit"`)
}

func TestMakeRejectsNonObjectMetadata(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.txt")
	outZS := filepath.Join(dir, "out.zs")
	require.NoError(t, writeFile(t, input, "a\n"))

	_, err := runCmd(t, "make", `"not an object"`, input, outZS)
	require.Error(t, err)
	require.Equal(t, 2, exitCode(err))
}

func TestValidateReportsCorruptionExitCode(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.txt")
	outZS := filepath.Join(dir, "out.zs")
	require.NoError(t, writeFile(t, input, "a\nb\n"))

	_, err := runCmd(t, "make", `{}`, input, outZS, "--codec=none")
	require.NoError(t, err)

	require.NoError(t, corruptFile(t, outZS))

	out, err := runCmd(t, "validate", outZS)
	require.Error(t, err)
	require.NotContains(t, out, "looks good!")
	require.Equal(t, 1, exitCode(err))
}

func TestWrongArgumentCountIsUsageExitCode(t *testing.T) {
	_, err := runCmd(t, "make", `{}`)
	require.Error(t, err)
	require.Equal(t, 2, exitCode(err))
}

func TestExitCodeMapping(t *testing.T) {
	require.Equal(t, 0, exitCode(nil))
	require.Equal(t, 1, exitCode(errSilentExitCode(1)))
	require.Equal(t, 2, exitCode(errSilentExitCode(2)))
}
