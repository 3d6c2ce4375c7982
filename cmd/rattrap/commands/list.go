// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/rattrap/cmd/rattrap/cli"
	"github.com/bureau-foundation/rattrap/lib/archive"
)

type listParams struct {
	cli.CommonParams
	cli.JSONOutput
	Long bool `json:"long" flag:"long,l" desc:"show size and chunk count"`
}

func listCommand(stdout io.Writer) *cli.Command {
	var params listParams

	return &cli.Command{
		Name:    "list",
		Summary: "List or search archived files",
		Usage:   "rattrap list <archive> [query] [flags]",
		Description: `List archived files sorted by path. With a query, list only paths
containing it, compared case-insensitively (Unicode-aware).`,
		Examples: []cli.Example{
			{
				Description: "List every file with sizes",
				Command:     "rattrap list photos.rat -l",
			},
			{
				Description: "Search for paths containing \"2024\"",
				Command:     "rattrap list photos.rat 2024 --json",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) == 1 {
				args = append(args, "")
			}
			if err := cli.RequireArgs(args, "archive", "query"); err != nil {
				return err
			}
			files, err := archive.ListFiles(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			logger.Debug("listed files", "archive", args[0], "query", args[1], "count", len(files))

			if done, err := params.EmitJSON(stdout, files); done {
				return err
			}
			if !params.Long {
				for _, file := range files {
					fmt.Fprintln(stdout, file.Path)
				}
				return nil
			}
			writer := tabwriter.NewWriter(stdout, 2, 0, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(writer, "SIZE\tCHUNKS\t PATH")
			for _, file := range files {
				fmt.Fprintf(writer, "%s\t%d\t %s\n", formatBytes(file.Size), file.ChunkCount, file.Path)
			}
			return writer.Flush()
		},
	}
}
