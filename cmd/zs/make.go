// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/njsmith/zs"
	"github.com/njsmith/zs/internal/base"
)

func newMakeCmd() *cobra.Command {
	var (
		terminator        string
		lengthPrefixed    string
		parallelism       int
		branchingFactor   int
		approxBlockSize   int
		codecName         string
		noDefaultMetadata bool
	)

	cmd := &cobra.Command{
		Use:   "make <metadata> <input-file> <new-zs-file>",
		Short: "Create a new .zs file from a sorted stream of records",
		Args:  exactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			metadataArg, inputPath, outPath := args[0], args[1], args[2]

			var metadata json.RawMessage
			if err := json.Unmarshal([]byte(metadataArg), &metadata); err != nil {
				return base.UsageErrorf("error parsing metadata as JSON: %v", err)
			}

			if parallelism == 0 {
				parallelism = runtime.NumCPU()
			}

			term, err := unescape(terminator)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "zs: Opening new ZS file: %s\n", outPath)
			w, err := zs.Create(outPath, metadata, zs.WriterOptions{
				BranchingFactor:   branchingFactor,
				ApproxBlockSize:   approxBlockSize,
				Codec:             codecName,
				Parallelism:       parallelism,
				NoDefaultMetadata: noDefaultMetadata,
				Logger:            base.DefaultLogger,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "zs: Reading input file: %s\n", inputPath)
			var in io.ReadCloser
			if inputPath == "-" {
				in = io.NopCloser(cmd.InOrStdin())
			} else {
				f, err := os.Open(inputPath)
				if err != nil {
					w.Close()
					return base.WrapIO(err, "opening "+inputPath)
				}
				in = f
			}

			if err := w.AddFileContents(in, approxBlockSize, term, lengthPrefixed); err != nil {
				return err
			}
			if err := w.Finish(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "zs: Done.")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&terminator, "terminator", "\\n", "record terminator in the input file (Python-style escapes allowed)")
	flags.StringVar(&lengthPrefixed, "length-prefixed", "", "read length-prefixed records instead of terminated ones (uleb128 or u64le)")
	flags.IntVarP(&parallelism, "parallelism", "j", 0, "number of compression workers (0 picks the number of CPUs)")
	flags.IntVar(&branchingFactor, "branching-factor", zs.DefaultBranchingFactor, "number of keys per index block")
	flags.IntVar(&approxBlockSize, "approx-block-size", zs.DefaultApproxBlockSize, "approximate uncompressed size of each data block, in bytes")
	flags.StringVar(&codecName, "codec", zs.DefaultWriterCodec, "compression codec: none, deflate, bz2, or lzma")
	flags.BoolVar(&noDefaultMetadata, "no-default-metadata", false, "do not add a build-info object to the metadata")

	return cmd
}
