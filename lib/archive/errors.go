// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"errors"
	"fmt"
)

// SourceReadError reports a source file that could not be read during
// a build. The build skips the file and continues; the error is
// collected in BuildResult.Failures.
type SourceReadError struct {
	// Path is the archive-relative path of the file.
	Path string
	Err  error
}

func (err *SourceReadError) Error() string {
	return fmt.Sprintf("reading source %s: %v", err.Path, err.Err)
}

func (err *SourceReadError) Unwrap() error { return err.Err }

// ChunkNotFoundError reports a file entry that references a chunk id
// absent from the chunk table.
type ChunkNotFoundError struct {
	ChunkID int64
}

func (err *ChunkNotFoundError) Error() string {
	return fmt.Sprintf("chunk %d not found", err.ChunkID)
}

// CorruptChunkError reports a stored chunk that does not decode under
// its recorded codec, decodes to the wrong length, or whose decoded
// bytes do not match the stored content digest.
type CorruptChunkError struct {
	ChunkID int64
	Codec   Codec
	Err     error
}

func (err *CorruptChunkError) Error() string {
	return fmt.Sprintf("chunk %d (%s) is corrupt: %v", err.ChunkID, err.Codec, err.Err)
}

func (err *CorruptChunkError) Unwrap() error { return err.Err }

// FileNotFoundError reports a path that is not in the archive.
type FileNotFoundError struct {
	Path string
}

func (err *FileNotFoundError) Error() string {
	return fmt.Sprintf("file %q not found in archive", err.Path)
}

// RangeError reports a byte range that is invalid for a file.
type RangeError struct {
	Path  string
	Start int64
	End   int64
	Size  int64
}

func (err *RangeError) Error() string {
	return fmt.Sprintf("invalid range [%d, %d) for %s (size %d)", err.Start, err.End, err.Path, err.Size)
}

// ChecksumMismatchError reports reconstructed content whose checksum
// differs from the one recorded at build time. Path is empty for the
// archive-level checksum.
type ChecksumMismatchError struct {
	Path      string
	Algorithm ChecksumAlgorithm
	Expected  string
	Actual    string
}

func (err *ChecksumMismatchError) Error() string {
	subject := "archive"
	if err.Path != "" {
		subject = err.Path
	}
	return fmt.Sprintf("%s checksum mismatch for %s: expected %s, got %s",
		err.Algorithm, subject, err.Expected, err.Actual)
}

// ContainerWriteError reports a failure writing the destination
// container. It is fatal to the build: no metadata is committed and
// the partial container is removed.
type ContainerWriteError struct {
	Path string
	Err  error
}

func (err *ContainerWriteError) Error() string {
	return fmt.Sprintf("writing container %s: %v", err.Path, err.Err)
}

func (err *ContainerWriteError) Unwrap() error { return err.Err }

// InvalidArchiveError reports a container that is not a readable
// archive: missing tables, missing metadata row, or an unknown format.
type InvalidArchiveError struct {
	Path   string
	Reason string
}

func (err *InvalidArchiveError) Error() string {
	return fmt.Sprintf("%s is not a valid archive: %s", err.Path, err.Reason)
}

// IsNotFound reports whether err is a FileNotFoundError.
func IsNotFound(err error) bool {
	var target *FileNotFoundError
	return errors.As(err, &target)
}

// IsRangeError reports whether err is a RangeError.
func IsRangeError(err error) bool {
	var target *RangeError
	return errors.As(err, &target)
}

// IsCorrupt reports whether err indicates stored data that failed an
// integrity check: a corrupt chunk, a missing chunk, or a checksum
// mismatch.
func IsCorrupt(err error) bool {
	var (
		corrupt  *CorruptChunkError
		missing  *ChunkNotFoundError
		mismatch *ChecksumMismatchError
	)
	return errors.As(err, &corrupt) || errors.As(err, &missing) || errors.As(err, &mismatch)
}
