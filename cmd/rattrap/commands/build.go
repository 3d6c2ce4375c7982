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

type buildParams struct {
	cli.CommonParams
	cli.JSONOutput
	ChunkSize  string `json:"chunk_size"  flag:"chunk-size"    desc:"fixed chunk size, e.g. 512KiB or 1MiB (default from config)"`
	Compressor string `json:"compressor"  flag:"compressor,c"  desc:"codec: none, zlib, zstd, lz4 (default from config)"`
	Level      int    `json:"level"       flag:"level,l"       desc:"compressor level; 0 uses the config or codec default"`
	Checksum   string `json:"checksum"    flag:"checksum"      desc:"file checksum: none, sha256, blake3, blake2b (default from config)"`
	Workers    int    `json:"workers"     flag:"workers,j"     desc:"files processed concurrently; 0 uses the config or every CPU"`
	FailFast   bool   `json:"fail_fast"   flag:"fail-fast"     desc:"abort on the first unreadable source file"`
}

// buildOutput is the --json result of "rattrap build".
type buildOutput struct {
	Path            string        `json:"path"`
	FileCount       int64         `json:"file_count"`
	TotalBytes      int64         `json:"total_bytes"`
	StoredBytes     int64         `json:"stored_bytes"`
	ChunkCount      int64         `json:"chunk_count"`
	DedupHits       int64         `json:"dedup_hits"`
	Compressor      archive.Codec `json:"compressor"`
	CompressorLevel int           `json:"compressor_level"`
	ChunkSize       int64         `json:"chunk_size"`
	ElapsedSeconds  float64       `json:"elapsed_seconds"`
	Checksum        string        `json:"checksum,omitempty"`
	Skipped         []skippedFile `json:"skipped"`
}

type skippedFile struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

func buildCommand(stdout io.Writer) *cli.Command {
	var params buildParams

	return &cli.Command{
		Name:    "build",
		Summary: "Archive a directory tree",
		Usage:   "rattrap build <source-dir> <archive> [flags]",
		Description: `Split every regular file under source-dir into fixed-size chunks,
store each distinct chunk once, compressed, and write the archive.

The archive is built beside its destination and renamed into place
only when the build succeeds, so an existing archive is never left
half-written. Unreadable files are skipped and listed; the command
then exits with status 2. Use --fail-fast to abort instead.`,
		Examples: []cli.Example{
			{
				Description: "Build with the configured defaults",
				Command:     "rattrap build ./photos photos.rat",
			},
			{
				Description: "Maximum zstd compression, 1 MiB chunks, BLAKE3 checksums",
				Command:     "rattrap build ./photos photos.rat -c zstd -l 19 --chunk-size 1MiB --checksum blake3",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("build", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := cli.RequireArgs(args, "source-dir", "archive"); err != nil {
				return err
			}
			cfg, err := params.LoadConfig()
			if err != nil {
				return err
			}
			options, err := params.options(cfg)
			if err != nil {
				return err
			}
			options.SourceDir = args[0]
			options.Dest = args[1]
			options.Logger = logger

			result, err := archive.Build(ctx, options)
			if err != nil {
				return err
			}

			output := buildOutput{
				Path:            result.Path,
				FileCount:       result.FileCount,
				TotalBytes:      result.TotalBytes,
				StoredBytes:     result.StoredBytes,
				ChunkCount:      result.ChunkCount,
				DedupHits:       result.DedupHits,
				Compressor:      result.Compressor,
				CompressorLevel: result.CompressorLevel,
				ChunkSize:       result.ChunkSize,
				ElapsedSeconds:  result.Elapsed.Seconds(),
				Skipped:         []skippedFile{},
			}
			if result.Metadata != nil {
				output.Checksum = result.Metadata.Checksum
			}
			for _, failure := range result.Failures {
				output.Skipped = append(output.Skipped, skippedFile{Path: failure.Path, Error: failure.Err.Error()})
			}

			if done, err := params.EmitJSON(stdout, output); done {
				if err != nil {
					return err
				}
			} else {
				printBuildSummary(stdout, output)
			}
			if len(output.Skipped) > 0 {
				return &cli.ExitError{Code: 2}
			}
			return nil
		},
	}
}

// options merges flags over the configuration. A flag left at its
// zero value defers to the configuration.
func (p *buildParams) options(cfg *config.Config) (archive.BuildOptions, error) {
	build := cfg.Build
	if p.ChunkSize != "" {
		build.ChunkSize = p.ChunkSize
	}
	if p.Compressor != "" {
		build.Compressor = p.Compressor
		if p.Level == 0 {
			// The configured level belongs to the configured codec.
			build.Level = 0
		}
	}
	if p.Level != 0 {
		build.Level = p.Level
	}
	if p.Checksum != "" {
		build.Checksum = p.Checksum
	}
	if p.Workers != 0 {
		build.Workers = p.Workers
	}
	build.FailFast = build.FailFast || p.FailFast

	chunkSize, err := build.ChunkSizeBytes()
	if err != nil {
		return archive.BuildOptions{}, err
	}
	codec, err := archive.ParseCodec(build.Compressor)
	if err != nil {
		return archive.BuildOptions{}, err
	}
	algorithm, err := archive.ParseChecksumAlgorithm(build.Checksum)
	if err != nil {
		return archive.BuildOptions{}, err
	}
	return archive.BuildOptions{
		ChunkSize:       chunkSize,
		Compressor:      codec,
		CompressorLevel: build.Level,
		Checksum:        algorithm,
		Workers:         build.Workers,
		FailFast:        build.FailFast,
	}, nil
}

func printBuildSummary(w io.Writer, output buildOutput) {
	fmt.Fprintf(w, "wrote %s\n", output.Path)
	fmt.Fprintf(w, "  files:       %s (%s)\n", humanize.Comma(output.FileCount), formatBytes(output.TotalBytes))
	fmt.Fprintf(w, "  stored:      %s in %s chunks (%s of input)\n",
		formatBytes(output.StoredBytes), humanize.Comma(output.ChunkCount), formatRatio(output.StoredBytes, output.TotalBytes))
	fmt.Fprintf(w, "  dedup hits:  %s\n", humanize.Comma(output.DedupHits))
	fmt.Fprintf(w, "  compressor:  %s level %d, %s chunks\n",
		output.Compressor, output.CompressorLevel, formatBytes(output.ChunkSize))
	if output.Checksum != "" {
		fmt.Fprintf(w, "  checksum:    %s\n", output.Checksum)
	}
	fmt.Fprintf(w, "  elapsed:     %s\n", formatDuration(secondsToDuration(output.ElapsedSeconds)))
	if len(output.Skipped) > 0 {
		fmt.Fprintf(w, "skipped %d unreadable file(s):\n", len(output.Skipped))
		for _, skipped := range output.Skipped {
			fmt.Fprintf(w, "  %s: %s\n", skipped.Path, skipped.Error)
		}
	}
}
