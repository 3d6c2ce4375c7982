// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// FileEntry is one archived file: its path and the ordered chunks
// that reconstruct it.
type FileEntry struct {
	// Path is relative to the archive root with "/" separators.
	Path string `json:"path"`

	// Size is the file's length in bytes. Always the sum of
	// ChunkSizes.
	Size int64 `json:"size"`

	// ChunkIDs lists chunk ids in byte order. The same id may appear
	// more than once.
	ChunkIDs []int64 `json:"chunk_ids"`

	// ChunkSizes holds the raw length of each chunk in ChunkIDs.
	ChunkSizes []int64 `json:"chunk_sizes"`

	// Checksum is the hex whole-file checksum, or "" when the archive
	// was built without checksums.
	Checksum string `json:"checksum,omitempty"`
}

// FileSummary is a listing row.
type FileSummary struct {
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	ChunkCount int    `json:"chunk_count"`
}

// validate checks the structural invariants of the entry.
func (e *FileEntry) validate() error {
	if len(e.ChunkIDs) != len(e.ChunkSizes) {
		return fmt.Errorf("%s: %d chunk ids but %d chunk sizes", e.Path, len(e.ChunkIDs), len(e.ChunkSizes))
	}
	var total int64
	for index, size := range e.ChunkSizes {
		if size <= 0 {
			return fmt.Errorf("%s: chunk %d has size %d", e.Path, index, size)
		}
		total += size
	}
	if total != e.Size {
		return fmt.Errorf("%s: chunk sizes sum to %d, file size is %d", e.Path, total, e.Size)
	}
	return nil
}

// insertFile writes the entry's row.
func insertFile(ctx context.Context, c *container, entry *FileEntry) error {
	chunkIDs, err := json.Marshal(nonNil(entry.ChunkIDs))
	if err != nil {
		return fmt.Errorf("encoding chunk ids for %s: %w", entry.Path, err)
	}
	chunkSizes, err := json.Marshal(nonNil(entry.ChunkSizes))
	if err != nil {
		return fmt.Errorf("encoding chunk sizes for %s: %w", entry.Path, err)
	}
	var checksum any
	if entry.Checksum != "" {
		checksum = entry.Checksum
	}

	return c.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"INSERT INTO files (path, size, chunk_ids, chunk_sizes, checksum) VALUES (?, ?, ?, ?, ?)",
			&sqlitex.ExecOptions{
				Args: []any{entry.Path, entry.Size, string(chunkIDs), string(chunkSizes), checksum},
			})
	})
}

func nonNil(values []int64) []int64 {
	if values == nil {
		return []int64{}
	}
	return values
}

const selectFileSQL = "SELECT path, size, chunk_ids, chunk_sizes, checksum FROM files"

func scanFile(stmt *sqlite.Stmt) (*FileEntry, error) {
	entry := &FileEntry{
		Path:     stmt.ColumnText(0),
		Size:     stmt.ColumnInt64(1),
		Checksum: stmt.ColumnText(4),
	}
	if err := json.Unmarshal([]byte(stmt.ColumnText(2)), &entry.ChunkIDs); err != nil {
		return nil, fmt.Errorf("decoding chunk ids for %s: %w", entry.Path, err)
	}
	if err := json.Unmarshal([]byte(stmt.ColumnText(3)), &entry.ChunkSizes); err != nil {
		return nil, fmt.Errorf("decoding chunk sizes for %s: %w", entry.Path, err)
	}
	if err := entry.validate(); err != nil {
		return nil, err
	}
	return entry, nil
}

// loadFile reads the entry for path. Returns FileNotFoundError when
// the path is not archived.
func loadFile(conn *sqlite.Conn, path string) (*FileEntry, error) {
	var (
		entry   *FileEntry
		scanErr error
	)
	err := sqlitex.Execute(conn, selectFileSQL+" WHERE path = ?", &sqlitex.ExecOptions{
		Args: []any{path},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entry, scanErr = scanFile(stmt)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("loading file %s: %w", path, err)
	}
	if scanErr != nil {
		return nil, scanErr
	}
	if entry == nil {
		return nil, &FileNotFoundError{Path: path}
	}
	return entry, nil
}

// eachFile calls fn for every file entry in path order.
func eachFile(conn *sqlite.Conn, fn func(*FileEntry) error) error {
	return sqlitex.Execute(conn, selectFileSQL+" ORDER BY path", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entry, err := scanFile(stmt)
			if err != nil {
				return err
			}
			return fn(entry)
		},
	})
}

// chunkSpan locates one chunk of a file.
type chunkSpan struct {
	ChunkID int64
	Offset  int64
	Size    int64
}

// fileLayout is a file entry with precomputed chunk offsets for range
// lookups.
type fileLayout struct {
	entry *FileEntry
	spans []chunkSpan

	// fixedSize is the archive chunk size when every chunk but the
	// last is exactly that long, which lets lookups use division.
	// Zero otherwise.
	fixedSize int64
}

func newFileLayout(entry *FileEntry, chunkSize int64) *fileLayout {
	layout := &fileLayout{entry: entry, spans: make([]chunkSpan, len(entry.ChunkIDs))}
	fixed := chunkSize > 0
	var offset int64
	for index, id := range entry.ChunkIDs {
		size := entry.ChunkSizes[index]
		layout.spans[index] = chunkSpan{ChunkID: id, Offset: offset, Size: size}
		offset += size
		last := index == len(entry.ChunkIDs)-1
		if (!last && size != chunkSize) || (last && size > chunkSize) {
			fixed = false
		}
	}
	if fixed {
		layout.fixedSize = chunkSize
	}
	return layout
}

// find returns the index of the chunk containing byte offset, or
// len(spans) when offset is at or beyond the end of the file.
func (l *fileLayout) find(offset int64) int {
	if offset >= l.entry.Size {
		return len(l.spans)
	}
	if l.fixedSize > 0 {
		return int(offset / l.fixedSize)
	}
	// First span whose end is past offset.
	return sort.Search(len(l.spans), func(i int) bool {
		return l.spans[i].Offset+l.spans[i].Size > offset
	})
}
