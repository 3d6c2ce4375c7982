// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"fmt"
	"io"

	"zombiezen.com/go/sqlite"
)

// VerifyReport summarizes an integrity check. Problems holds one
// typed error per defect found; an empty list means the archive is
// intact.
type VerifyReport struct {
	ChunksChecked int64
	FilesChecked  int64
	BytesChecked  int64
	Problems      []error
}

// OK reports whether no problems were found.
func (r *VerifyReport) OK() bool { return len(r.Problems) == 0 }

// Verify checks the whole archive without writing anything: every
// chunk must decode under its codec and match its digest, every file
// entry must reference existing chunks, per-file checksums must match
// the reconstructed content, and the metadata totals and archive
// checksum must agree with the file index.
//
// The returned error is non-nil only when the check itself could not
// run; defects are reported in VerifyReport.Problems.
func (a *Archive) Verify(ctx context.Context) (*VerifyReport, error) {
	report := &VerifyReport{}
	chunkLengths := make(map[int64]int64)

	err := a.withConn(ctx, func(conn *sqlite.Conn) error {
		return eachChunk(conn, func(chunk *storedChunk) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			report.ChunksChecked++
			chunkLengths[chunk.ID] = int64(chunk.RawLength)
			if _, err := chunk.decode(); err != nil {
				report.Problems = append(report.Problems, err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("scanning chunks: %w", err)
	}

	var (
		entries    []*FileEntry
		totalBytes int64
		checksums  []fileChecksum
	)
	if err := a.eachFileEntry(ctx, func(entry *FileEntry) error {
		entries = append(entries, entry)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("scanning files: %w", err)
	}

	algorithm := a.metadata.ChecksumAlgorithm
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.FilesChecked++
		totalBytes += entry.Size
		checksums = append(checksums, fileChecksum{path: entry.Path, checksum: entry.Checksum})

		if problem := checkReferences(entry, chunkLengths); problem != nil {
			report.Problems = append(report.Problems, problem)
			continue
		}
		if algorithm.Enabled() && entry.Checksum == "" {
			report.Problems = append(report.Problems, fmt.Errorf("%s: no %s checksum recorded", entry.Path, algorithm))
		}

		// WriteFile verifies the checksum while streaming.
		n, err := a.WriteFile(ctx, entry.Path, io.Discard)
		report.BytesChecked += n
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			report.Problems = append(report.Problems, err)
		}
	}

	metadata := a.metadata
	if metadata.FileCount != report.FilesChecked {
		report.Problems = append(report.Problems,
			fmt.Errorf("metadata file_count %d, index holds %d files", metadata.FileCount, report.FilesChecked))
	}
	if metadata.TotalBytes != totalBytes {
		report.Problems = append(report.Problems,
			fmt.Errorf("metadata total_bytes %d, index holds %d bytes", metadata.TotalBytes, totalBytes))
	}
	if metadata.ChunkCount != report.ChunksChecked {
		report.Problems = append(report.Problems,
			fmt.Errorf("metadata chunk_count %d, container holds %d chunks", metadata.ChunkCount, report.ChunksChecked))
	}
	if algorithm.Enabled() {
		if actual := archiveChecksum(algorithm, checksums); actual != metadata.Checksum {
			report.Problems = append(report.Problems, &ChecksumMismatchError{
				Algorithm: algorithm,
				Expected:  metadata.Checksum,
				Actual:    actual,
			})
		}
	}

	a.logger.Info("archive verified",
		"path", a.path,
		"chunks", report.ChunksChecked,
		"files", report.FilesChecked,
		"problems", len(report.Problems),
	)
	return report, nil
}

// checkReferences reports the first chunk id in entry that is missing
// from the container or whose length disagrees with the entry.
func checkReferences(entry *FileEntry, chunkLengths map[int64]int64) error {
	for index, id := range entry.ChunkIDs {
		length, ok := chunkLengths[id]
		if !ok {
			return fmt.Errorf("%s: %w", entry.Path, &ChunkNotFoundError{ChunkID: id})
		}
		if length != entry.ChunkSizes[index] {
			return fmt.Errorf("%s: chunk %d has raw length %d, entry records %d",
				entry.Path, id, length, entry.ChunkSizes[index])
		}
	}
	return nil
}
