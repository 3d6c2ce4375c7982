// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/rattrap/cmd/rattrap/cli"
	"github.com/bureau-foundation/rattrap/lib/archive"
)

type infoParams struct {
	cli.CommonParams
	cli.JSONOutput
}

func infoCommand(stdout io.Writer) *cli.Command {
	var params infoParams

	return &cli.Command{
		Name:    "info",
		Summary: "Show archive metadata",
		Usage:   "rattrap info <archive> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("info", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if err := cli.RequireArgs(args, "archive"); err != nil {
				return err
			}
			metadata, err := archive.ReadMetadata(ctx, args[0])
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(stdout, metadata); done {
				return err
			}
			printMetadata(stdout, args[0], metadata)
			return nil
		},
	}
}

func printMetadata(w io.Writer, path string, metadata *archive.Metadata) {
	fmt.Fprintf(w, "archive:     %s\n", path)
	fmt.Fprintf(w, "format:      %s\n", metadata.Format)
	fmt.Fprintf(w, "files:       %s\n", humanize.Comma(metadata.FileCount))
	fmt.Fprintf(w, "total size:  %s\n", formatBytes(metadata.TotalBytes))
	fmt.Fprintf(w, "stored:      %s in %s chunks (%s)\n",
		formatBytes(metadata.StoredBytes), humanize.Comma(metadata.ChunkCount),
		formatRatio(metadata.StoredBytes, metadata.TotalBytes))
	fmt.Fprintf(w, "chunk size:  %s\n", formatBytes(metadata.ChunkSize))
	fmt.Fprintf(w, "compressor:  %s level %d\n", metadata.Compressor, metadata.CompressorLevel)
	if metadata.ChecksumAlgorithm.Enabled() {
		fmt.Fprintf(w, "checksum:    %s %s\n", metadata.ChecksumAlgorithm, metadata.Checksum)
	} else {
		fmt.Fprintf(w, "checksum:    none\n")
	}
	fmt.Fprintf(w, "created:     %s (%s)\n",
		metadata.CreatedAt.Local().Format(time.RFC3339), humanize.Time(metadata.CreatedAt))
	fmt.Fprintf(w, "build time:  %s\n", formatDuration(metadata.Elapsed()))
}
