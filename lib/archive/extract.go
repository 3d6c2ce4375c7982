// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/google/renameio"
)

// ExtractOptions configures ExtractAll.
type ExtractOptions struct {
	// Query restricts extraction to paths containing it, with the
	// same matching as ListFiles. Empty extracts everything.
	Query string

	// FileMode is the permission of extracted files. Zero selects
	// 0o644.
	FileMode os.FileMode
}

// ExtractFailure records one file that could not be extracted.
type ExtractFailure struct {
	Path string
	Err  error
}

// ExtractResult reports an extraction.
type ExtractResult struct {
	FilesWritten int64
	BytesWritten int64

	// Failures lists files that were not written. A file with a
	// ChecksumMismatchError is never left at its destination.
	Failures []ExtractFailure
}

// ExtractAll reconstructs the archived tree under destRoot, streaming
// each file chunk by chunk. Each file is written to a temporary file
// beside its destination and renamed into place only after its
// checksum (when present) verifies.
//
// Per-file failures, including checksum mismatches and unsafe paths,
// are collected in the result and do not stop the remaining files.
// The returned error is non-nil only when extraction could not run at
// all or ctx was cancelled.
func (a *Archive) ExtractAll(ctx context.Context, destRoot string, opts ExtractOptions) (*ExtractResult, error) {
	mode := opts.FileMode
	if mode == 0 {
		mode = 0o644
	}
	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", destRoot, err)
	}

	files, err := a.ListFiles(ctx, opts.Query)
	if err != nil {
		return nil, err
	}

	result := &ExtractResult{}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		written, err := a.extractFile(ctx, destRoot, file.Path, mode)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			a.logger.Warn("extract failed", "path", file.Path, "error", err)
			result.Failures = append(result.Failures, ExtractFailure{Path: file.Path, Err: err})
			continue
		}
		result.FilesWritten++
		result.BytesWritten += written
		a.logger.Debug("extracted file", "path", file.Path, "size", written)
	}
	return result, nil
}

func (a *Archive) extractFile(ctx context.Context, destRoot, archivePath string, mode os.FileMode) (int64, error) {
	if !safeArchivePath(archivePath) {
		return 0, fmt.Errorf("refusing unsafe path %q", archivePath)
	}
	target := filepath.Join(destRoot, filepath.FromSlash(archivePath))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}

	pending, err := renameio.TempFile(filepath.Dir(target), target)
	if err != nil {
		return 0, err
	}
	defer pending.Cleanup()

	written, err := a.WriteFile(ctx, archivePath, pending)
	if err != nil {
		return written, err
	}
	if err := pending.Chmod(mode); err != nil {
		return written, err
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return written, err
	}
	return written, nil
}

// safeArchivePath reports whether p is a clean, relative, slash
// separated path that stays inside the extraction root.
func safeArchivePath(p string) bool {
	if p == "" || path.Clean(p) != p || path.IsAbs(p) {
		return false
	}
	return filepath.IsLocal(filepath.FromSlash(p))
}

// ChecksumFailures returns the failures caused by checksum mismatches.
func (r *ExtractResult) ChecksumFailures() []ExtractFailure {
	var mismatches []ExtractFailure
	for _, failure := range r.Failures {
		var mismatch *ChecksumMismatchError
		if errors.As(failure.Err, &mismatch) {
			mismatches = append(mismatches, failure)
		}
	}
	return mismatches
}
