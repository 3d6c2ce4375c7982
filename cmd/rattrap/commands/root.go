// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the rattrap command tree.
package commands

import (
	"io"

	"github.com/bureau-foundation/rattrap/cmd/rattrap/cli"
)

// Root builds the complete command tree. Command output goes to
// stdout; help text and logs go to stderr.
func Root(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name: "rattrap",
		Description: `rattrap: content-addressed chunk archives.

Packs a directory tree into a single SQLite container of deduplicated,
compressed fixed-size chunks. Archives can be extracted, listed,
searched, read by byte range, verified, served over HTTP, or mounted
read-only with FUSE.`,
		Stderr: stderr,
		Subcommands: []*cli.Command{
			buildCommand(stdout),
			extractCommand(stdout),
			listCommand(stdout),
			infoCommand(stdout),
			catCommand(stdout),
			planCommand(stdout),
			verifyCommand(stdout),
			serveCommand(stdout),
			mountCommand(stdout),
			versionCommand(stdout),
		},
		Examples: []cli.Example{
			{
				Description: "Archive a directory with zstd and SHA-256 checksums",
				Command:     "rattrap build ./dataset dataset.rat --checksum sha256",
			},
			{
				Description: "Restore it somewhere else",
				Command:     "rattrap extract dataset.rat ./restored",
			},
			{
				Description: "Read 100 bytes from the middle of an archived file",
				Command:     "rattrap cat dataset.rat images/0001.png --offset 4096 --length 100",
			},
			{
				Description: "Serve the archive over HTTP",
				Command:     "rattrap serve dataset.rat --port 8765",
			},
		},
	}
}
