// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/rattrap/cmd/rattrap/cli"
	"github.com/bureau-foundation/rattrap/lib/archive"
	"github.com/bureau-foundation/rattrap/lib/archivehttp"
)

type serveParams struct {
	cli.CommonParams
	Host        string `json:"host"        flag:"host"        desc:"listen address (default from config)"`
	Port        int    `json:"port"        flag:"port,p"      desc:"listen port; 0 picks a free port (default from config)" default:"-1"`
	Connections int    `json:"connections" flag:"connections" desc:"SQLite connections, bounding concurrent reads (default from config)"`
}

func serveCommand(stdout io.Writer) *cli.Command {
	var params serveParams

	return &cli.Command{
		Name:    "serve",
		Summary: "Serve an archive over HTTP",
		Usage:   "rattrap serve <archive> [flags]",
		Description: `Serve listings, metadata, chunk plans, and file contents over HTTP
until interrupted.

  GET /api/files?q=     listing, optionally filtered
  GET /api/metadata     archive metadata
  GET /api/plan/<path>  chunk plan (CBOR with Accept: application/cbor)
  GET /files/<path>     file contents; Range requests decompress only
                        the chunks they overlap`,
		Examples: []cli.Example{
			{
				Description: "Serve on all interfaces",
				Command:     "rattrap serve photos.rat --host 0.0.0.0 --port 8080",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("serve", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := cli.RequireArgs(args, "archive"); err != nil {
				return err
			}
			cfg, err := params.LoadConfig()
			if err != nil {
				return err
			}
			serve := cfg.Serve
			if params.Host != "" {
				serve.Host = params.Host
			}
			if params.Port >= 0 {
				serve.Port = params.Port
			}
			if params.Connections > 0 {
				serve.Connections = params.Connections
			}
			read, write, shutdown, err := serve.Timeouts()
			if err != nil {
				return err
			}

			opened, err := archive.Open(ctx, args[0], archive.OpenOptions{
				PoolSize: serve.Connections,
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			defer opened.Close()

			server := archivehttp.NewServer(opened, logger)
			return archivehttp.ListenAndServe(ctx, serve.Address(), server,
				archivehttp.Timeouts{Read: read, Write: write, Shutdown: shutdown},
				logger,
				func(address net.Addr) {
					fmt.Fprintf(stdout, "serving %s on http://%s/\n", args[0], address)
				})
		},
	}
}
