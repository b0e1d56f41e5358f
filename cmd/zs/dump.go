// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/njsmith/zs/internal/base"
)

func newDumpCmd() *cobra.Command {
	var (
		start          string
		stop           string
		prefix         string
		terminator     string
		lengthPrefixed string
		parallelism    int
		outputPath     string
	)

	cmd := &cobra.Command{
		Use:   "dump <zs-file>",
		Short: "Unpack some or all of the records in a .zs file",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()

			startB, err := unescape(start)
			if err != nil {
				return err
			}
			stopB, err := unescape(stop)
			if err != nil {
				return err
			}
			prefixB, err := unescape(prefix)
			if err != nil {
				return err
			}
			var termB []byte
			if lengthPrefixed == "" {
				termB, err = unescape(terminator)
				if err != nil {
					return err
				}
			}

			r, err := openReader(args[0], parallelism)
			if err != nil {
				return err
			}
			defer r.Close()

			var out io.Writer
			if outputPath == "" || outputPath == "-" {
				out = cmd.OutOrStdout()
			} else {
				f, err := os.Create(outputPath)
				if err != nil {
					return base.WrapIO(err, "creating "+outputPath)
				}
				defer f.Close()
				out = f
			}

			return r.Dump(out,
				nilIfEmpty(flags.Changed("start"), startB),
				nilIfEmpty(flags.Changed("stop"), stopB),
				nilIfEmpty(flags.Changed("prefix"), prefixB),
				termB,
				lengthPrefixed,
			)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&start, "start", "", "output only records >= START")
	flags.StringVar(&stop, "stop", "", "do not output records >= STOP")
	flags.StringVar(&prefix, "prefix", "", "output only records with this prefix")
	flags.StringVar(&terminator, "terminator", "\\n", "string used to terminate records in the output")
	flags.StringVar(&lengthPrefixed, "length-prefixed", "", "prefix each record with its length instead of a terminator (uleb128 or u64le)")
	flags.IntVarP(&parallelism, "parallelism", "j", 0, "number of CPUs to use for decompression (0 runs inline)")
	flags.StringVarP(&outputPath, "output", "o", "-", "output file, or \"-\" for stdout")

	return cmd
}
