// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"

	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/rattrap/lib/sqlitepool"
)

// OpenOptions configures Open.
type OpenOptions struct {
	// PoolSize is the number of SQLite connections, bounding the
	// number of concurrent reads. Zero selects the sqlitepool default.
	PoolSize int

	// Logger receives diagnostics. Nil discards.
	Logger *slog.Logger
}

// Archive is an open, committed container. All methods are safe for
// concurrent use; each call borrows its own connection.
type Archive struct {
	path     string
	pool     *sqlitepool.Pool
	metadata *Metadata
	logger   *slog.Logger
}

// Open opens the container at path read-only and loads its metadata.
// Returns InvalidArchiveError when the file is not a complete archive.
func Open(ctx context.Context, path string, opts OpenOptions) (*Archive, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	if info.IsDir() {
		return nil, &InvalidArchiveError{Path: path, Reason: "is a directory"}
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     path,
		PoolSize: opts.PoolSize,
		ReadOnly: true,
		Logger:   logger,
	})
	if err != nil {
		return nil, &InvalidArchiveError{Path: path, Reason: err.Error()}
	}

	archive := &Archive{path: path, pool: pool, logger: logger}
	err = archive.withConn(ctx, func(conn *sqlite.Conn) error {
		metadata, err := loadMetadata(conn, path)
		if err != nil {
			return err
		}
		archive.metadata = metadata
		return nil
	})
	if err != nil {
		pool.Close()
		var invalid *InvalidArchiveError
		if errors.As(err, &invalid) || ctx.Err() != nil {
			return nil, err
		}
		return nil, &InvalidArchiveError{Path: path, Reason: err.Error()}
	}
	return archive, nil
}

// Close releases the archive's connections.
func (a *Archive) Close() error {
	return a.pool.Close()
}

// Path returns the container path.
func (a *Archive) Path() string { return a.path }

// Metadata returns the archive's metadata record. The returned value
// is a copy.
func (a *Archive) Metadata() Metadata { return *a.metadata }

func (a *Archive) withConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := a.pool.Take(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	defer a.pool.Put(conn)
	return fn(conn)
}

// layout loads the file entry for path and computes its chunk spans.
func (a *Archive) layout(ctx context.Context, path string) (*fileLayout, error) {
	var entry *FileEntry
	err := a.withConn(ctx, func(conn *sqlite.Conn) error {
		var err error
		entry, err = loadFile(conn, path)
		return err
	})
	if err != nil {
		return nil, err
	}
	return newFileLayout(entry, a.metadata.ChunkSize), nil
}

// ReadRange returns bytes [start, end) of the file at path. Only the
// chunks overlapping the range are decompressed.
//
// Returns FileNotFoundError for an unknown path and RangeError when
// start > end or start > size. An end beyond the file size is clamped:
// the result is then shorter than end-start and ends at end of file.
func (a *Archive) ReadRange(ctx context.Context, path string, start, end int64) ([]byte, error) {
	layout, err := a.layout(ctx, path)
	if err != nil {
		return nil, err
	}
	size := layout.entry.Size
	if start < 0 || start > end || start > size {
		return nil, &RangeError{Path: path, Start: start, End: end, Size: size}
	}
	end = min(end, size)

	result := make([]byte, end-start)
	if len(result) == 0 {
		return result, nil
	}
	err = a.withConn(ctx, func(conn *sqlite.Conn) error {
		_, err := readSpans(ctx, conn, layout, result, start)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// readSpans fills buffer with file bytes starting at offset, decoding
// each overlapping chunk once. Returns the number of bytes filled,
// which is less than len(buffer) only at end of file.
func readSpans(ctx context.Context, conn *sqlite.Conn, layout *fileLayout, buffer []byte, offset int64) (int, error) {
	filled := 0
	for index := layout.find(offset); index < len(layout.spans) && filled < len(buffer); index++ {
		if err := ctx.Err(); err != nil {
			return filled, err
		}
		span := layout.spans[index]
		raw, err := loadSpan(conn, layout.entry.Path, span)
		if err != nil {
			return filled, err
		}
		position := offset + int64(filled) - span.Offset
		filled += copy(buffer[filled:], raw[position:])
	}
	return filled, nil
}

// loadSpan decodes the chunk behind span and checks its length
// against the file entry.
func loadSpan(conn *sqlite.Conn, path string, span chunkSpan) ([]byte, error) {
	raw, err := loadChunk(conn, span.ChunkID)
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) != span.Size {
		return nil, &CorruptChunkError{
			ChunkID: span.ChunkID,
			Err:     fmt.Errorf("raw length %d, file entry for %s expects %d", len(raw), path, span.Size),
		}
	}
	return raw, nil
}

// WriteFile streams the file at path to w chunk by chunk and returns
// the number of bytes written. When the archive carries checksums the
// streamed content is verified and a mismatch is reported as
// ChecksumMismatchError after all bytes have been written.
func (a *Archive) WriteFile(ctx context.Context, path string, w io.Writer) (int64, error) {
	layout, err := a.layout(ctx, path)
	if err != nil {
		return 0, err
	}

	var hasher hash.Hash
	algorithm := a.metadata.ChecksumAlgorithm
	if algorithm.Enabled() && layout.entry.Checksum != "" {
		hasher = algorithm.New()
		w = io.MultiWriter(w, hasher)
	}

	var written int64
	err = a.withConn(ctx, func(conn *sqlite.Conn) error {
		for _, span := range layout.spans {
			if err := ctx.Err(); err != nil {
				return err
			}
			raw, err := loadSpan(conn, path, span)
			if err != nil {
				return err
			}
			n, err := w.Write(raw)
			written += int64(n)
			if err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}
		}
		return nil
	})
	if err != nil {
		return written, err
	}

	if hasher != nil {
		actual := hex.EncodeToString(hasher.Sum(nil))
		if actual != layout.entry.Checksum {
			return written, &ChecksumMismatchError{
				Path:      path,
				Algorithm: algorithm,
				Expected:  layout.entry.Checksum,
				Actual:    actual,
			}
		}
	}
	return written, nil
}

// eachFileEntry calls fn for every file entry in path order. fn runs
// while a connection is held and must not call back into the Archive.
func (a *Archive) eachFileEntry(ctx context.Context, fn func(*FileEntry) error) error {
	return a.withConn(ctx, func(conn *sqlite.Conn) error {
		return eachFile(conn, fn)
	})
}
