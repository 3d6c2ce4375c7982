// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/rattrap/cmd/rattrap/cli"
	"github.com/bureau-foundation/rattrap/lib/archive"
)

type verifyParams struct {
	cli.CommonParams
	cli.JSONOutput
}

type verifyOutput struct {
	OK            bool     `json:"ok"`
	ChunksChecked int64    `json:"chunks_checked"`
	FilesChecked  int64    `json:"files_checked"`
	BytesChecked  int64    `json:"bytes_checked"`
	Problems      []string `json:"problems"`
}

func verifyCommand(stdout io.Writer) *cli.Command {
	var params verifyParams

	return &cli.Command{
		Name:    "verify",
		Summary: "Check every chunk and checksum in an archive",
		Usage:   "rattrap verify <archive> [flags]",
		Description: `Decode every stored chunk and check it against its content digest,
reconstruct every file and check its checksum, and check the archive
totals and archive checksum against the file index. Nothing is
written. Exits with status 1 when any problem is found.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("verify", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := cli.RequireArgs(args, "archive"); err != nil {
				return err
			}
			opened, err := archive.Open(ctx, args[0], archive.OpenOptions{Logger: logger})
			if err != nil {
				return err
			}
			defer opened.Close()

			report, err := opened.Verify(ctx)
			if err != nil {
				return err
			}
			output := verifyOutput{
				OK:            report.OK(),
				ChunksChecked: report.ChunksChecked,
				FilesChecked:  report.FilesChecked,
				BytesChecked:  report.BytesChecked,
				Problems:      []string{},
			}
			for _, problem := range report.Problems {
				output.Problems = append(output.Problems, problem.Error())
			}

			if done, err := params.EmitJSON(stdout, output); done {
				if err != nil {
					return err
				}
			} else {
				fmt.Fprintf(stdout, "checked %s chunks, %s files, %s\n",
					humanize.Comma(output.ChunksChecked), humanize.Comma(output.FilesChecked), formatBytes(output.BytesChecked))
				for _, problem := range output.Problems {
					fmt.Fprintf(stdout, "  problem: %s\n", problem)
				}
				if output.OK {
					fmt.Fprintln(stdout, "archive OK")
				}
			}
			if !output.OK {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}
