// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/rattrap/lib/testutil"
)

func newTestChunkWriter(t *testing.T, codec Codec) (*container, *chunkWriter) {
	t.Helper()
	c, err := createContainer(context.Background(), filepath.Join(t.TempDir(), "chunks.rat"), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("createContainer: %v", err)
	}
	t.Cleanup(c.discard)
	compressor, err := NewCompressor(codec, 0)
	if err != nil {
		t.Fatalf("NewCompressor: %v", err)
	}
	return c, newChunkWriter(c, compressor)
}

func TestFindOrInsertFirstWriterWins(t *testing.T) {
	_, writer := newTestChunkWriter(t, CodecZstd)
	data := testutil.Repeated("same bytes everywhere ", 64*1024)

	const goroutines = 16
	ids := make([]int64, goroutines)
	errs := make([]error, goroutines)
	var waitGroup sync.WaitGroup
	for index := range goroutines {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			ids[index], errs[index] = writer.FindOrInsert(context.Background(), data)
		}()
	}
	waitGroup.Wait()

	for index := range goroutines {
		if errs[index] != nil {
			t.Fatalf("goroutine %d: %v", index, errs[index])
		}
		if ids[index] != ids[0] {
			t.Errorf("goroutine %d got id %d, goroutine 0 got %d", index, ids[index], ids[0])
		}
	}
	stats := writer.Stats()
	if stats.Count != 1 {
		t.Errorf("Count = %d, want 1", stats.Count)
	}
	if stats.DedupHits != goroutines-1 {
		t.Errorf("DedupHits = %d, want %d", stats.DedupHits, goroutines-1)
	}
}

func TestFindOrInsertAssignsMonotonicIDs(t *testing.T) {
	c, writer := newTestChunkWriter(t, CodecZlib)
	ctx := context.Background()

	var previous int64
	contents := [][]byte{
		[]byte("first"),
		testutil.PseudoRandom(1, 1000),
		testutil.Repeated("third ", 1000),
	}
	for index, content := range contents {
		id, err := writer.FindOrInsert(ctx, content)
		if err != nil {
			t.Fatalf("FindOrInsert %d: %v", index, err)
		}
		if id <= previous {
			t.Errorf("id %d not greater than previous %d", id, previous)
		}
		previous = id
	}

	// Stored chunks decode back to their content, whatever codec
	// each one ended up with.
	err := c.withConn(ctx, func(conn *sqlite.Conn) error {
		for index, content := range contents {
			raw, err := loadChunk(conn, int64(index+1))
			if err != nil {
				return err
			}
			if !bytes.Equal(raw, content) {
				t.Errorf("chunk %d content mismatch", index+1)
			}
		}

		_, err := loadChunk(conn, 99)
		var missing *ChunkNotFoundError
		if !errors.As(err, &missing) || missing.ChunkID != 99 {
			t.Errorf("loadChunk(99) = %v, want ChunkNotFoundError", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("reading chunks: %v", err)
	}
}

func TestFileLayoutFind(t *testing.T) {
	fixed := newFileLayout(&FileEntry{
		Path:       "fixed",
		Size:       10,
		ChunkIDs:   []int64{1, 2, 3},
		ChunkSizes: []int64{4, 4, 2},
	}, 4)
	if fixed.fixedSize != 4 {
		t.Fatalf("fixedSize = %d, want 4", fixed.fixedSize)
	}

	variable := newFileLayout(&FileEntry{
		Path:       "variable",
		Size:       10,
		ChunkIDs:   []int64{1, 2, 3},
		ChunkSizes: []int64{3, 5, 2},
	}, 4)
	if variable.fixedSize != 0 {
		t.Fatalf("fixedSize = %d for irregular chunks, want 0", variable.fixedSize)
	}

	tests := []struct {
		layout *fileLayout
		offset int64
		want   int
	}{
		{fixed, 0, 0},
		{fixed, 3, 0},
		{fixed, 4, 1},
		{fixed, 9, 2},
		{fixed, 10, 3},
		{variable, 0, 0},
		{variable, 2, 0},
		{variable, 3, 1},
		{variable, 7, 1},
		{variable, 8, 2},
		{variable, 10, 3},
	}
	for _, test := range tests {
		if got := test.layout.find(test.offset); got != test.want {
			t.Errorf("%s.find(%d) = %d, want %d", test.layout.entry.Path, test.offset, got, test.want)
		}
	}
}

func TestFileEntryValidate(t *testing.T) {
	tests := []struct {
		name  string
		entry FileEntry
		ok    bool
	}{
		{"empty file", FileEntry{Path: "e"}, true},
		{"consistent", FileEntry{Path: "c", Size: 5, ChunkIDs: []int64{1, 2}, ChunkSizes: []int64{3, 2}}, true},
		{"size mismatch", FileEntry{Path: "s", Size: 6, ChunkIDs: []int64{1, 2}, ChunkSizes: []int64{3, 2}}, false},
		{"length mismatch", FileEntry{Path: "l", Size: 3, ChunkIDs: []int64{1, 2}, ChunkSizes: []int64{3}}, false},
		{"zero chunk", FileEntry{Path: "z", Size: 3, ChunkIDs: []int64{1, 2}, ChunkSizes: []int64{3, 0}}, false},
	}
	for _, test := range tests {
		err := test.entry.validate()
		if (err == nil) != test.ok {
			t.Errorf("%s: validate() = %v, want ok=%v", test.name, err, test.ok)
		}
	}
}
