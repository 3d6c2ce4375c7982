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
	"github.com/bureau-foundation/rattrap/lib/config"
)

type extractParams struct {
	cli.CommonParams
	cli.JSONOutput
	Query string `json:"query" flag:"query,q" desc:"extract only paths containing this text (case-insensitive)"`
	Mode  string `json:"mode"  flag:"mode"    desc:"octal permission of extracted files (default from config)"`
}

type extractOutput struct {
	Destination  string        `json:"destination"`
	FilesWritten int64         `json:"files_written"`
	BytesWritten int64         `json:"bytes_written"`
	Failed       []skippedFile `json:"failed"`
}

func extractCommand(stdout io.Writer) *cli.Command {
	var params extractParams

	return &cli.Command{
		Name:    "extract",
		Summary: "Restore an archive's files",
		Usage:   "rattrap extract <archive> [dest-dir] [flags]",
		Description: `Reconstruct the archived tree under dest-dir (default from the
config's extract.dest, normally the current directory).

Each file is streamed chunk by chunk into a temporary file and renamed
into place only after its checksum verifies. Files that fail (corrupt
chunks, checksum mismatches, unsafe paths) are listed and the
remaining files are still extracted; the command then exits with
status 2.`,
		Examples: []cli.Example{
			{
				Description: "Extract everything into ./restored",
				Command:     "rattrap extract photos.rat ./restored",
			},
			{
				Description: "Extract only the raw images",
				Command:     "rattrap extract photos.rat ./raw --query .raw",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("extract", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) == 1 {
				args = append(args, "")
			}
			if err := cli.RequireArgs(args, "archive", "dest-dir"); err != nil {
				return err
			}
			cfg, err := params.LoadConfig()
			if err != nil {
				return err
			}
			extract := cfg.Extract
			if args[1] != "" {
				extract.Dest = args[1]
			}
			if params.Mode != "" {
				extract.FileMode = params.Mode
			}
			mode, err := extract.Mode()
			if err != nil {
				return err
			}

			logger.Debug("extracting", "archive", args[0], "destination", extract.Dest, "query", params.Query)
			opened, err := archive.Open(ctx, args[0], archive.OpenOptions{PoolSize: 1, Logger: logger})
			if err != nil {
				return err
			}
			defer opened.Close()

			result, err := opened.ExtractAll(ctx, extract.Dest, archive.ExtractOptions{
				Query:    params.Query,
				FileMode: mode,
			})
			if err != nil {
				return err
			}
			return reportExtract(stdout, &params.JSONOutput, extract, result)
		},
	}
}

func reportExtract(stdout io.Writer, output *cli.JSONOutput, extract config.ExtractConfig, result *archive.ExtractResult) error {
	report := extractOutput{
		Destination:  extract.Dest,
		FilesWritten: result.FilesWritten,
		BytesWritten: result.BytesWritten,
		Failed:       []skippedFile{},
	}
	for _, failure := range result.Failures {
		report.Failed = append(report.Failed, skippedFile{Path: failure.Path, Error: failure.Err.Error()})
	}

	if done, err := output.EmitJSON(stdout, report); done {
		if err != nil {
			return err
		}
	} else {
		fmt.Fprintf(stdout, "extracted %s files (%s) to %s\n",
			humanize.Comma(report.FilesWritten), formatBytes(report.BytesWritten), report.Destination)
		for _, failed := range report.Failed {
			fmt.Fprintf(stdout, "  failed %s: %s\n", failed.Path, failed.Error)
		}
	}
	if len(report.Failed) > 0 {
		return &cli.ExitError{Code: 2}
	}
	return nil
}
