// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/rattrap/lib/sqlitepool"
)

// container is an archive file under construction. It lives at a
// hidden temporary path in the destination directory and is renamed
// over the destination only by commit. The entire build runs inside a
// single write transaction on a single connection, so an interrupted
// build leaves nothing but an empty schema behind.
type container struct {
	path    string
	partial string
	pool    *sqlitepool.Pool
	logger  *slog.Logger

	// closed is set once the pool is closed; sqlitex pools must not
	// be closed twice.
	closed bool
}

// createContainer creates the temporary container for dest and opens
// the build transaction.
func createContainer(ctx context.Context, dest string, logger *slog.Logger) (*container, error) {
	directory := filepath.Dir(dest)
	file, err := os.CreateTemp(directory, "."+filepath.Base(dest)+".partial-*")
	if err != nil {
		return nil, &ContainerWriteError{Path: dest, Err: err}
	}
	partial := file.Name()
	if err := file.Close(); err != nil {
		os.Remove(partial)
		return nil, &ContainerWriteError{Path: dest, Err: err}
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     partial,
		PoolSize: 1,
		Logger:   logger,
	})
	if err != nil {
		os.Remove(partial)
		return nil, &ContainerWriteError{Path: dest, Err: err}
	}

	c := &container{path: dest, partial: partial, pool: pool, logger: logger}
	err = c.withConn(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.ExecuteScript(conn, schemaSQL, nil); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
		return sqlitex.ExecuteTransient(conn, "BEGIN IMMEDIATE", nil)
	})
	if err != nil {
		c.discard()
		return nil, err
	}
	return c, nil
}

// withConn runs fn on the container's connection. Write failures are
// reported as ContainerWriteError.
func (c *container) withConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := c.pool.Take(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ContainerWriteError{Path: c.path, Err: err}
	}
	defer c.pool.Put(conn)

	if err := fn(conn); err != nil {
		// Take ties the connection's interrupt to ctx.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ContainerWriteError{Path: c.path, Err: err}
	}
	return nil
}

// commit ends the build transaction, converts the file to a single
// self-contained rollback-journal database, and atomically renames it
// over the destination. After commit the container must not be used.
func (c *container) commit(ctx context.Context) error {
	err := c.withConn(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.ExecuteTransient(conn, "COMMIT", nil); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		// Folds the WAL back into the main file and removes it.
		if err := sqlitex.ExecuteTransient(conn, "PRAGMA journal_mode=DELETE", nil); err != nil {
			return fmt.Errorf("leaving WAL mode: %w", err)
		}
		return nil
	})
	if err != nil {
		c.discard()
		return err
	}

	if err := c.closePool(); err != nil {
		c.removeFiles()
		return &ContainerWriteError{Path: c.path, Err: err}
	}
	if err := syncFile(c.partial); err != nil {
		c.removeFiles()
		return &ContainerWriteError{Path: c.path, Err: err}
	}
	if err := os.Rename(c.partial, c.path); err != nil {
		c.removeFiles()
		return &ContainerWriteError{Path: c.path, Err: err}
	}
	c.logger.Debug("container committed", "path", c.path)
	return nil
}

// discard closes the container and removes the temporary files. Safe
// to call after a failed commit.
func (c *container) discard() {
	if err := c.closePool(); err != nil {
		c.logger.Warn("closing discarded container", "path", c.partial, "error", err)
	}
	c.removeFiles()
}

func (c *container) closePool() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.pool.Close()
}

func (c *container) removeFiles() {
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		if err := os.Remove(c.partial + suffix); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("removing partial container", "path", c.partial+suffix, "error", err)
		}
	}
}

func syncFile(path string) error {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
