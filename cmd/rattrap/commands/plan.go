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
	"github.com/bureau-foundation/rattrap/lib/codec"
)

type planParams struct {
	cli.CommonParams
	cli.JSONOutput
	CBOR bool `json:"cbor" flag:"cbor" desc:"print the CBOR encoding served by /api/plan in diagnostic notation"`
}

func planCommand(stdout io.Writer) *cli.Command {
	var params planParams

	return &cli.Command{
		Name:    "plan",
		Summary: "Show the chunks that make up a file",
		Usage:   "rattrap plan <archive> <path> [flags]",
		Description: `Print a file's chunk plan: for each chunk in byte order, its id, the
file offset it covers, its raw length, and its content digest. A chunk
id repeated within or across files is stored once.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("plan", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if err := cli.RequireArgs(args, "archive", "path"); err != nil {
				return err
			}
			opened, err := archive.Open(ctx, args[0], archive.OpenOptions{PoolSize: 1})
			if err != nil {
				return err
			}
			defer opened.Close()

			plan, err := opened.ChunkPlan(ctx, args[1])
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(stdout, plan); done {
				return err
			}
			if params.CBOR {
				data, err := codec.Marshal(plan)
				if err != nil {
					return fmt.Errorf("encoding plan: %w", err)
				}
				notation, err := codec.Diagnose(data)
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "%s\n(%d bytes)\n", notation, len(data))
				return nil
			}

			fmt.Fprintf(stdout, "%s: %s in %d chunks\n", plan.Path, formatBytes(plan.Size), len(plan.Chunks))
			writer := tabwriter.NewWriter(stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintln(writer, "#\tCHUNK\tOFFSET\tLENGTH\tDIGEST")
			for index, chunk := range plan.Chunks {
				fmt.Fprintf(writer, "%d\t%d\t%d\t%d\t%s\n",
					index, chunk.ChunkID, chunk.Offset, chunk.RawLength, chunk.Digest.String()[:16])
			}
			return writer.Flush()
		},
	}
}
