// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"errors"
	"fmt"
	"io"
)

// DefaultChunkSize is the chunk size used when a build does not
// specify one.
const DefaultChunkSize = 512 * 1024

// MaxChunkSize bounds the chunk size so a single chunk always fits in
// a SQLite BLOB with room to spare.
const MaxChunkSize = 256 * 1024 * 1024

// Chunk is one fixed-offset slice of a stream.
type Chunk struct {
	// Offset is the byte offset of the first byte of Data within the
	// stream.
	Offset int64

	// Data is the raw chunk content. The slice is owned by the
	// caller after Next returns; the Chunker allocates a fresh buffer
	// for every chunk.
	Data []byte
}

// Chunker splits a stream into fixed-size chunks. Every chunk is
// exactly the configured size except possibly the last, and an empty
// stream yields no chunks. A Chunker is not restartable and not safe
// for concurrent use.
type Chunker struct {
	reader    io.Reader
	chunkSize int
	offset    int64
	done      bool
}

// NewChunker returns a Chunker reading from reader.
func NewChunker(reader io.Reader, chunkSize int) (*Chunker, error) {
	if chunkSize <= 0 || chunkSize > MaxChunkSize {
		return nil, fmt.Errorf("chunk size %d out of range (1..%d)", chunkSize, MaxChunkSize)
	}
	return &Chunker{reader: reader, chunkSize: chunkSize}, nil
}

// Next returns the next chunk. It returns io.EOF after the last chunk.
// Read errors from the underlying reader are returned unwrapped.
func (c *Chunker) Next() (*Chunk, error) {
	if c.done {
		return nil, io.EOF
	}

	buffer := make([]byte, c.chunkSize)
	n, err := io.ReadFull(c.reader, buffer)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		c.done = true
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		c.done = true
		// Short final chunk: release the full-size buffer.
		buffer = append([]byte(nil), buffer[:n]...)
	default:
		return nil, err
	}

	chunk := &Chunk{Offset: c.offset, Data: buffer[:n]}
	c.offset += int64(n)
	return chunk, nil
}
