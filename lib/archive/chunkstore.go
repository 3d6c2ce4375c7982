// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"fmt"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// chunkWriter is the build-side chunk store. It owns the only shared
// mutable build state: the digest→id index. The first writer of a
// digest wins; later callers with the same digest get the winner's id
// and their bytes are never compressed or stored.
type chunkWriter struct {
	container  *container
	compressor *Compressor

	mu          sync.Mutex
	index       map[Digest]int64
	lastID      int64
	storedBytes int64
	dedupHits   int64
}

func newChunkWriter(c *container, compressor *Compressor) *chunkWriter {
	return &chunkWriter{
		container:  c,
		compressor: compressor,
		index:      make(map[Digest]int64),
	}
}

// FindOrInsert returns the id of the chunk whose raw bytes are raw,
// storing it if this is the first time the digest is seen. The codec
// of the first insertion is retained for all later references.
func (w *chunkWriter) FindOrInsert(ctx context.Context, raw []byte) (int64, error) {
	digest := DigestChunk(raw)

	w.mu.Lock()
	if id, ok := w.index[digest]; ok {
		w.dedupHits++
		w.mu.Unlock()
		return id, nil
	}
	w.mu.Unlock()

	// Compression runs unlocked. Two workers racing on the same new
	// digest may both compress; only the first to re-acquire the
	// lock stores its result.
	compressed, codec, err := w.compressor.Compress(raw)
	if err != nil {
		return 0, fmt.Errorf("compressing chunk %s: %w", digest, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if id, ok := w.index[digest]; ok {
		w.dedupHits++
		return id, nil
	}

	id := w.lastID + 1
	err = w.container.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"INSERT INTO chunks (id, content_digest, data, compressor, raw_length) VALUES (?, ?, ?, ?, ?)",
			&sqlitex.ExecOptions{
				Args: []any{id, digest[:], compressed, string(codec), len(raw)},
			})
	})
	if err != nil {
		return 0, err
	}

	w.lastID = id
	w.index[digest] = id
	w.storedBytes += int64(len(compressed))
	return id, nil
}

// chunkStats is a snapshot of the writer's counters.
type chunkStats struct {
	Count       int64
	StoredBytes int64
	DedupHits   int64
}

func (w *chunkWriter) Stats() chunkStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return chunkStats{
		Count:       int64(len(w.index)),
		StoredBytes: w.storedBytes,
		DedupHits:   w.dedupHits,
	}
}

// storedChunk is a chunk row as read from the container.
type storedChunk struct {
	ID        int64
	Digest    []byte
	Data      []byte
	Codec     Codec
	RawLength int
}

// decode decompresses the chunk and checks the result against its
// content digest.
func (c *storedChunk) decode() ([]byte, error) {
	expected, err := digestFromBytes(c.Digest)
	if err != nil {
		return nil, &CorruptChunkError{ChunkID: c.ID, Codec: c.Codec, Err: err}
	}
	raw, err := Decompress(c.Data, c.Codec, c.RawLength)
	if err != nil {
		return nil, &CorruptChunkError{ChunkID: c.ID, Codec: c.Codec, Err: err}
	}
	if actual := DigestChunk(raw); actual != expected {
		return nil, &CorruptChunkError{
			ChunkID: c.ID,
			Codec:   c.Codec,
			Err:     fmt.Errorf("content digest %s does not match stored %s", actual, expected),
		}
	}
	return raw, nil
}

const selectChunkSQL = "SELECT id, content_digest, data, compressor, raw_length FROM chunks"

// scanChunk reads a chunk row produced by selectChunkSQL.
func scanChunk(stmt *sqlite.Stmt) *storedChunk {
	chunk := &storedChunk{
		ID:        stmt.ColumnInt64(0),
		Digest:    make([]byte, stmt.ColumnLen(1)),
		Data:      make([]byte, stmt.ColumnLen(2)),
		Codec:     Codec(stmt.ColumnText(3)),
		RawLength: stmt.ColumnInt(4),
	}
	stmt.ColumnBytes(1, chunk.Digest)
	stmt.ColumnBytes(2, chunk.Data)
	return chunk
}

// loadChunk reads and decodes one chunk. Returns ChunkNotFoundError
// when no row has the id and CorruptChunkError when the stored bytes
// fail to decode or verify.
func loadChunk(conn *sqlite.Conn, id int64) ([]byte, error) {
	var chunk *storedChunk
	err := sqlitex.Execute(conn, selectChunkSQL+" WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			chunk = scanChunk(stmt)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("loading chunk %d: %w", id, err)
	}
	if chunk == nil {
		return nil, &ChunkNotFoundError{ChunkID: id}
	}
	return chunk.decode()
}

// eachChunk calls fn for every stored chunk in id order without
// decoding it.
func eachChunk(conn *sqlite.Conn, fn func(*storedChunk) error) error {
	return sqlitex.Execute(conn, selectChunkSQL+" ORDER BY id", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			return fn(scanChunk(stmt))
		},
	})
}
