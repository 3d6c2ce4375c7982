// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/rattrap/cmd/rattrap/cli"
	"github.com/bureau-foundation/rattrap/lib/archive"
	"github.com/bureau-foundation/rattrap/lib/archivefs"
)

type mountParams struct {
	cli.CommonParams
	AllowOther bool `json:"allow_other" flag:"allow-other" desc:"let other users read the mount (needs user_allow_other in /etc/fuse.conf)"`
}

func mountCommand(stdout io.Writer) *cli.Command {
	var params mountParams

	return &cli.Command{
		Name:    "mount",
		Summary: "Mount an archive read-only with FUSE",
		Usage:   "rattrap mount <archive> <mountpoint> [flags]",
		Description: `Mount the archive as a read-only filesystem and stay in the
foreground until interrupted, then unmount. Reads decompress only the
chunks they touch.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("mount", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := cli.RequireArgs(args, "archive", "mountpoint"); err != nil {
				return err
			}
			cfg, err := params.LoadConfig()
			if err != nil {
				return err
			}
			cacheTimeout, err := cfg.Mount.Timeout()
			if err != nil {
				return err
			}

			opened, err := archive.Open(ctx, args[0], archive.OpenOptions{Logger: logger})
			if err != nil {
				return err
			}
			defer opened.Close()

			server, err := archivefs.Mount(ctx, archivefs.Options{
				Mountpoint:   args[1],
				Archive:      opened,
				CacheTimeout: cacheTimeout,
				AllowOther:   cfg.Mount.AllowOther || params.AllowOther,
				Logger:       logger,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "mounted %s at %s\n", args[0], args[1])

			unmountErr := make(chan error, 1)
			go func() {
				<-ctx.Done()
				unmountErr <- server.Unmount()
			}()
			server.Wait()

			select {
			case err := <-unmountErr:
				if err != nil {
					return fmt.Errorf("unmounting %s: %w", args[1], err)
				}
			default:
				// Unmounted externally (fusermount -u).
			}
			logger.Info("unmounted", "mountpoint", args[1])
			return nil
		},
	}
}
