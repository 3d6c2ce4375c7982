// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"zombiezen.com/go/sqlite"
)

// File is a read-only view of one archived file. It implements
// io.ReaderAt and io.ReadSeeker, decompressing chunks on demand, and
// keeps the most recently decoded chunk so sequential reads decode
// each chunk once.
//
// ReadAt is safe for concurrent use. Read and Seek share a cursor and
// must not be called concurrently with each other.
type File struct {
	archive *Archive
	layout  *fileLayout
	ctx     context.Context

	offset int64

	cacheMu    sync.Mutex
	cacheIndex int
	cacheData  []byte
}

// OpenFile returns a File for path. ctx bounds every read made
// through the File.
func (a *Archive) OpenFile(ctx context.Context, path string) (*File, error) {
	layout, err := a.layout(ctx, path)
	if err != nil {
		return nil, err
	}
	return &File{archive: a, layout: layout, ctx: ctx, cacheIndex: -1}, nil
}

// Name returns the archive-relative path.
func (f *File) Name() string { return f.layout.entry.Path }

// Size returns the file length.
func (f *File) Size() int64 { return f.layout.entry.Size }

// Entry returns the file's index entry.
func (f *File) Entry() FileEntry { return *f.layout.entry }

// ReadAt implements io.ReaderAt.
func (f *File) ReadAt(buffer []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("%s: negative offset %d", f.Name(), offset)
	}
	size := f.Size()
	if offset >= size {
		return 0, io.EOF
	}

	filled := 0
	for index := f.layout.find(offset); index < len(f.layout.spans) && filled < len(buffer); index++ {
		span := f.layout.spans[index]
		raw, err := f.chunk(index)
		if err != nil {
			return filled, err
		}
		position := offset + int64(filled) - span.Offset
		filled += copy(buffer[filled:], raw[position:])
	}
	if filled < len(buffer) {
		return filled, io.EOF
	}
	return filled, nil
}

// chunk returns the decoded bytes of span index, from the cache when
// possible.
func (f *File) chunk(index int) ([]byte, error) {
	f.cacheMu.Lock()
	if f.cacheIndex == index {
		data := f.cacheData
		f.cacheMu.Unlock()
		return data, nil
	}
	f.cacheMu.Unlock()

	span := f.layout.spans[index]
	var raw []byte
	err := f.archive.withConn(f.ctx, func(conn *sqlite.Conn) error {
		var err error
		raw, err = loadSpan(conn, f.Name(), span)
		return err
	})
	if err != nil {
		return nil, err
	}

	f.cacheMu.Lock()
	f.cacheIndex = index
	f.cacheData = raw
	f.cacheMu.Unlock()
	return raw, nil
}

// Read implements io.Reader.
func (f *File) Read(buffer []byte) (int, error) {
	n, err := f.ReadAt(buffer, f.offset)
	f.offset += int64(n)
	if errors.Is(err, io.EOF) && n > 0 {
		err = nil
	}
	return n, err
}

// Seek implements io.Seeker.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = f.offset + offset
	case io.SeekEnd:
		target = f.Size() + offset
	default:
		return 0, fmt.Errorf("%s: invalid whence %d", f.Name(), whence)
	}
	if target < 0 {
		return 0, fmt.Errorf("%s: seek to negative offset %d", f.Name(), target)
	}
	f.offset = target
	return target, nil
}
