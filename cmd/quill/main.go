// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Command quill introspects quill index directories and their files.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/quillindex/quill"
	"github.com/quillindex/quill/blueline"
	"github.com/quillindex/quill/fst"
	"github.com/quillindex/quill/vfs"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "quill",
		Short: "quill index introspection tools",
	}
	root.AddCommand(segmentsCmd(), dumpFSTCmd(), dumpRegionCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func segmentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "segments <dir>",
		Short: "print the committed segment list",
		Long: `
Print the latest committed generation of an index directory: one row per
segment with its document and deletion counts and file sizes.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gen, segs, err := quill.ReadTOC(vfs.Default, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "generation %d, %d segments\n", gen, len(segs))
			tbl := tablewriter.NewWriter(cmd.OutOrStdout())
			tbl.SetHeader([]string{"Segment", "Docs", "Deleted", "Live", "Bytes"})
			for _, si := range segs {
				tbl.Append([]string{
					si.ID.String(),
					fmt.Sprintf("%d", si.DocCount),
					fmt.Sprintf("%d", si.Deleted),
					fmt.Sprintf("%d", si.LiveDocs()),
					fmt.Sprintf("%d", si.Size),
				})
			}
			tbl.Render()
			return nil
		},
	}
}

func dumpFSTCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump-fst <file>",
		Short: "print the terms of a term dictionary file",
		Long: `
Walk a term dictionary file and print every field, term and raw value in
key order.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := vfs.ReadFile(vfs.Default, args[0])
			if err != nil {
				return err
			}
			r, err := fst.NewReader(data)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, field := range r.Fields() {
				fmt.Fprintf(out, "field %q\n", field)
				node, err := r.Root(field)
				if err != nil {
					return err
				}
				c := fst.NewCursor(node, fst.BytesValues{})
				ok, err := c.First()
				for ; ok; ok, err = c.Next() {
					fmt.Fprintf(out, "  %q = %x\n", c.Key(), c.Value())
				}
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func dumpRegionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump-region <toc>",
		Short: "print the contents of a region store",
		Long: `
Open the region store named by its TOC sidecar path and print every key
and value in key order.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := vfs.Default
			name := strings.TrimSuffix(fs.PathBase(args[0]), ".toc")
			dir := strings.TrimSuffix(args[0], fs.PathBase(args[0]))
			if dir == "" {
				dir = "."
			}
			s, err := blueline.Open(fs, dir, name, blueline.StoreOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "generation %d, %d keys\n", s.Gen(), s.Len())
			c := s.NewCursor()
			ok, err := c.First()
			for ; ok; ok, err = c.Next() {
				fmt.Fprintf(out, "%q = %x\n", c.Key(), c.Value())
			}
			return err
		},
	}
}
