// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/rattrap/cmd/rattrap/cli"
	"github.com/bureau-foundation/rattrap/lib/archive"
)

type catParams struct {
	cli.CommonParams
	Offset int64 `json:"offset" flag:"offset" desc:"first byte to write"`
	Length int64 `json:"length" flag:"length,n" desc:"number of bytes to write; -1 writes to end of file" default:"-1"`
}

func catCommand(stdout io.Writer) *cli.Command {
	var params catParams

	return &cli.Command{
		Name:    "cat",
		Summary: "Write a file, or a byte range of it, to stdout",
		Usage:   "rattrap cat <archive> <path> [flags]",
		Description: `Write an archived file to stdout. With --offset and --length only
that byte range is read, and only the chunks overlapping it are
decompressed. A range running past the end of the file is cut short
at the end of the file.`,
		Examples: []cli.Example{
			{
				Description: "Print a whole file",
				Command:     "rattrap cat docs.rat guide/intro.md",
			},
			{
				Description: "Read 1 KiB starting at byte 500000",
				Command:     "rattrap cat data.rat big.bin --offset 500000 --length 1024 | xxd",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("cat", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := cli.RequireArgs(args, "archive", "path"); err != nil {
				return err
			}
			if params.Offset < 0 {
				return fmt.Errorf("--offset must not be negative")
			}
			if params.Length < -1 {
				return fmt.Errorf("--length must be -1 or a byte count")
			}

			if params.Offset == 0 && params.Length == -1 {
				written, err := archive.Cat(ctx, args[0], args[1], stdout)
				logger.Debug("wrote file", "path", args[1], "bytes", written)
				return err
			}

			end := int64(math.MaxInt64)
			if params.Length >= 0 && params.Offset <= math.MaxInt64-params.Length {
				end = params.Offset + params.Length
			}
			data, err := archive.ReadRange(ctx, args[0], args[1], params.Offset, end)
			if err != nil {
				return err
			}
			logger.Debug("wrote range", "path", args[1], "start", params.Offset, "bytes", len(data))
			_, err = stdout.Write(data)
			return err
		},
	}
}
