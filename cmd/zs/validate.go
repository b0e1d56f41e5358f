// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	var parallelism int

	cmd := &cobra.Command{
		Use:   "validate <zs-file>",
		Short: "Check a .zs file for structural errors or data corruption",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openReader(args[0], parallelism)
			if err != nil {
				return err
			}
			defer r.Close()

			if err := r.Validate(); err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), err)
				return errSilentExitCode(1)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "looks good!")
			return nil
		},
	}

	cmd.Flags().IntVarP(&parallelism, "parallelism", "j", 0, "number of CPUs to use for decompression (0 runs inline)")
	return cmd
}

// errSilentExitCode reports failure to cobra's caller without cobra
// also printing the error a second time: command_validate already
// wrote the corruption report to stdout itself, matching the
// original's behavior of returning the given exit code with no extra
// message. main's exitCode reads the int value directly.
type errSilentExitCode int

func (e errSilentExitCode) Error() string { return "" }
