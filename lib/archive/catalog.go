// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"fmt"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// ListFiles returns a summary of every file whose path contains query,
// compared case-insensitively, sorted by path. An empty query lists
// every file.
//
// Matching is done on Unicode lower-cased strings rather than with
// SQL LIKE, which only folds ASCII.
func (a *Archive) ListFiles(ctx context.Context, query string) ([]FileSummary, error) {
	needle := strings.ToLower(query)
	summaries := []FileSummary{}
	err := a.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"SELECT path, size, json_array_length(chunk_ids) FROM files ORDER BY path",
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					path := stmt.ColumnText(0)
					if needle != "" && !strings.Contains(strings.ToLower(path), needle) {
						return nil
					}
					summaries = append(summaries, FileSummary{
						Path:       path,
						Size:       stmt.ColumnInt64(1),
						ChunkCount: stmt.ColumnInt(2),
					})
					return nil
				},
			})
	})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

// Stat returns the index entry for path, or FileNotFoundError.
func (a *Archive) Stat(ctx context.Context, path string) (*FileEntry, error) {
	var entry *FileEntry
	err := a.withConn(ctx, func(conn *sqlite.Conn) error {
		var err error
		entry, err = loadFile(conn, path)
		return err
	})
	return entry, err
}

// PlannedChunk is one step of a file's chunk plan.
type PlannedChunk struct {
	ChunkID   int64  `json:"chunk_id" cbor:"1,keyasint"`
	Offset    int64  `json:"offset" cbor:"2,keyasint"`
	RawLength int64  `json:"raw_length" cbor:"3,keyasint"`
	Digest    Digest `json:"digest" cbor:"4,keyasint"`
}

// ChunkPlan is the ordered list of chunks that reconstruct a file.
// Clients fetching large files incrementally use it to issue one
// range request per chunk.
type ChunkPlan struct {
	Path   string         `json:"path" cbor:"1,keyasint"`
	Size   int64          `json:"size" cbor:"2,keyasint"`
	Chunks []PlannedChunk `json:"chunks" cbor:"3,keyasint"`
}

// ChunkPlan returns the chunk plan for path, or FileNotFoundError.
// Digests are read from the chunk index without decoding chunk data.
func (a *Archive) ChunkPlan(ctx context.Context, path string) (*ChunkPlan, error) {
	layout, err := a.layout(ctx, path)
	if err != nil {
		return nil, err
	}
	plan := &ChunkPlan{
		Path:   layout.entry.Path,
		Size:   layout.entry.Size,
		Chunks: make([]PlannedChunk, len(layout.spans)),
	}
	digests := make(map[int64]Digest, len(layout.spans))
	err = a.withConn(ctx, func(conn *sqlite.Conn) error {
		for _, span := range layout.spans {
			if _, ok := digests[span.ChunkID]; ok {
				continue
			}
			digest, err := chunkDigest(conn, span.ChunkID)
			if err != nil {
				return err
			}
			digests[span.ChunkID] = digest
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for index, span := range layout.spans {
		plan.Chunks[index] = PlannedChunk{
			ChunkID:   span.ChunkID,
			Offset:    span.Offset,
			RawLength: span.Size,
			Digest:    digests[span.ChunkID],
		}
	}
	return plan, nil
}

func chunkDigest(conn *sqlite.Conn, id int64) (Digest, error) {
	var stored []byte
	found := false
	err := sqlitex.Execute(conn, "SELECT content_digest FROM chunks WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			stored = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, stored)
			return nil
		},
	})
	if err != nil {
		return Digest{}, fmt.Errorf("loading digest of chunk %d: %w", id, err)
	}
	if !found {
		return Digest{}, &ChunkNotFoundError{ChunkID: id}
	}
	digest, err := digestFromBytes(stored)
	if err != nil {
		return Digest{}, &CorruptChunkError{ChunkID: id, Err: err}
	}
	return digest, nil
}
