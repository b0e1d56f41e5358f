// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newInfoCmd() *cobra.Command {
	var (
		metadataOnly bool
		asTable      bool
	)

	cmd := &cobra.Command{
		Use:   "info <zs-file>",
		Short: "Display general information from a .zs file's header",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openReader(args[0], 0)
			if err != nil {
				return err
			}
			defer r.Close()

			if metadataOnly {
				return printJSON(cmd, r.Metadata)
			}

			rootLevel, err := r.RootIndexLevel()
			if err != nil {
				return err
			}

			rows := []struct {
				key, display string
				value        json.RawMessage
			}{
				{"root_index_offset", fmt.Sprint(r.RootIndexOffset), jsonUint(r.RootIndexOffset)},
				{"root_index_length", fmt.Sprint(r.RootIndexLength), jsonUint(r.RootIndexLength)},
				{"total_file_length", fmt.Sprint(r.TotalFileLength), jsonUint(r.TotalFileLength)},
				{"codec", r.CodecName, mustMarshalString(r.CodecName)},
				{"data_sha256", hex.EncodeToString(r.DataSHA256[:]), mustMarshalString(hex.EncodeToString(r.DataSHA256[:]))},
				{"root_index_level", fmt.Sprint(rootLevel), jsonUint(uint64(rootLevel))},
			}

			if asTable {
				table := tablewriter.NewWriter(cmd.OutOrStdout())
				table.SetHeader([]string{"field", "value"})
				for _, row := range rows {
					table.Append([]string{row.key, row.display})
				}
				table.Render()
				return nil
			}

			out := orderedInfo{}
			for _, row := range rows {
				out = append(out, orderedField{row.key, row.value})
			}
			out = append(out, orderedField{"metadata", r.Metadata})
			return printJSON(cmd, out)
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&metadataOnly, "metadata-only", "m", false, "output only the file's metadata")
	flags.BoolVar(&asTable, "table", false, "render as a human-readable table instead of JSON")

	return cmd
}

func mustMarshalString(s string) []byte {
	b, err := json.Marshal(s)
	if err != nil {
		panic(err)
	}
	return b
}

func jsonUint(n uint64) json.RawMessage {
	return json.RawMessage(fmt.Sprint(n))
}

// orderedField and orderedInfo preserve the header-field ordering the
// original's command_info produces with an OrderedDict, since Go maps
// (and hence a plain struct-to-map JSON encode) don't guarantee one.
type orderedField struct {
	key   string
	value json.RawMessage
}

type orderedInfo []orderedField

func (o orderedInfo) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, f := range o {
		if i > 0 {
			buf = append(buf, ',')
		}
		k, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		buf = append(buf, k...)
		buf = append(buf, ':')
		buf = append(buf, f.value...)
	}
	buf = append(buf, '}')
	return buf, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "    ")
	return enc.Encode(v)
}
