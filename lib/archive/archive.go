// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"io"
)

// The functions below open the container, perform one operation, and
// close it again. Callers doing more than one operation should Open
// the archive once instead.

// ReadMetadata returns the metadata record of the container at path.
func ReadMetadata(ctx context.Context, path string) (*Metadata, error) {
	archive, err := Open(ctx, path, OpenOptions{PoolSize: 1})
	if err != nil {
		return nil, err
	}
	defer archive.Close()
	metadata := archive.Metadata()
	return &metadata, nil
}

// Extract reconstructs the container at path into destDir.
func Extract(ctx context.Context, path, destDir string, opts ExtractOptions) (*ExtractResult, error) {
	archive, err := Open(ctx, path, OpenOptions{PoolSize: 1})
	if err != nil {
		return nil, err
	}
	defer archive.Close()
	return archive.ExtractAll(ctx, destDir, opts)
}

// ListFiles lists the files of the container at path whose paths
// contain query (case-insensitive). An empty query lists everything.
func ListFiles(ctx context.Context, path, query string) ([]FileSummary, error) {
	archive, err := Open(ctx, path, OpenOptions{PoolSize: 1})
	if err != nil {
		return nil, err
	}
	defer archive.Close()
	return archive.ListFiles(ctx, query)
}

// ReadRange returns bytes [start, end) of file within the container at
// path. See Archive.ReadRange for the clamping rules.
func ReadRange(ctx context.Context, path, file string, start, end int64) ([]byte, error) {
	archive, err := Open(ctx, path, OpenOptions{PoolSize: 1})
	if err != nil {
		return nil, err
	}
	defer archive.Close()
	return archive.ReadRange(ctx, file, start, end)
}

// Cat streams file within the container at path to w.
func Cat(ctx context.Context, path, file string, w io.Writer) (int64, error) {
	archive, err := Open(ctx, path, OpenOptions{PoolSize: 1})
	if err != nil {
		return 0, err
	}
	defer archive.Close()
	return archive.WriteFile(ctx, file, w)
}
