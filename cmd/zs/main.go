// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Command zs creates, inspects, and validates .zs record files, the
// command-line counterpart to the reader/writer package at the module
// root, grounded on the original zs/cmdline package's make/dump/info/
// validate subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/njsmith/zs/internal/base"
)

func main() {
	err := newRootCmd().Execute()
	code := exitCode(err)
	if code != 0 {
		if msg := err.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
	}
	os.Exit(code)
}

// exitCode maps an error returned from Execute to the exit codes the
// original cmdline tools use: 0 success, 1 a run-time failure (I/O,
// corruption, transport), 2 a usage error (bad arguments, bad flags,
// malformed metadata).
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if e, ok := err.(errSilentExitCode); ok {
		return int(e)
	}
	if errors.Is(err, base.ErrUsage) {
		return 2
	}
	return 1
}

// exactArgs wraps cobra.ExactArgs so a wrong argument count is reported
// as a usage error (exit code 2), not a generic failure (exit code 1).
func exactArgs(n int) cobra.PositionalArgs {
	wrapped := cobra.ExactArgs(n)
	return func(cmd *cobra.Command, args []string) error {
		if err := wrapped(cmd, args); err != nil {
			return base.UsageErrorf("%v", err)
		}
		return nil
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "zs",
		Short:         "Create and read .zs sorted record files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return base.UsageErrorf("%v", err)
	})
	root.AddCommand(newMakeCmd())
	root.AddCommand(newDumpCmd())
	root.AddCommand(newInfoCmd())
	root.AddCommand(newValidateCmd())
	return root
}
