// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"fmt"
	"math"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Metadata is the archive's single metadata record.
type Metadata struct {
	Format            string            `json:"format"`
	FileCount         int64             `json:"file_count"`
	TotalBytes        int64             `json:"total_bytes"`
	Compressor        Codec             `json:"compressor"`
	CompressorLevel   int               `json:"compressor_level"`
	ChunkSize         int64             `json:"chunk_size"`
	ChunkCount        int64             `json:"chunk_count"`
	StoredBytes       int64             `json:"stored_bytes"`
	ChecksumAlgorithm ChecksumAlgorithm `json:"checksum_algorithm"`
	Checksum          string            `json:"checksum,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	ElapsedSeconds    float64           `json:"elapsed_seconds"`
}

// Elapsed returns the build duration.
func (m *Metadata) Elapsed() time.Duration {
	return time.Duration(m.ElapsedSeconds * float64(time.Second))
}

// indexSnapshot is the completed file index of a build: one
// fileChecksum per indexed file plus the byte total. It is the only
// input from which metadata is sealed.
type indexSnapshot struct {
	files      []fileChecksum
	totalBytes int64
}

// sealSettings carries the build parameters recorded in metadata.
type sealSettings struct {
	compressor *Compressor
	chunkSize  int64
	algorithm  ChecksumAlgorithm
	chunks     chunkStats
	createdAt  time.Time
}

// sealMetadata produces the metadata record from a completed index.
// elapsed is measured by the caller up to the metadata commit.
func sealMetadata(snapshot indexSnapshot, settings sealSettings, elapsed time.Duration) *Metadata {
	algorithm := settings.algorithm
	if algorithm == "" {
		algorithm = ChecksumNone
	}
	return &Metadata{
		Format:            FormatTag,
		FileCount:         int64(len(snapshot.files)),
		TotalBytes:        snapshot.totalBytes,
		Compressor:        settings.compressor.Codec(),
		CompressorLevel:   settings.compressor.Level(),
		ChunkSize:         settings.chunkSize,
		ChunkCount:        settings.chunks.Count,
		StoredBytes:       settings.chunks.StoredBytes,
		ChecksumAlgorithm: algorithm,
		Checksum:          archiveChecksum(algorithm, snapshot.files),
		CreatedAt:         settings.createdAt,
		ElapsedSeconds:    elapsed.Seconds(),
	}
}

func insertMetadata(ctx context.Context, c *container, metadata *Metadata) error {
	var checksum any
	if metadata.Checksum != "" {
		checksum = metadata.Checksum
	}
	return c.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO metadata (
				format, file_count, total_bytes, compressor, compressor_level,
				chunk_size, chunk_count, stored_bytes, checksum_algorithm,
				checksum, created_at, elapsed_seconds
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{
					metadata.Format,
					metadata.FileCount,
					metadata.TotalBytes,
					string(metadata.Compressor),
					metadata.CompressorLevel,
					metadata.ChunkSize,
					metadata.ChunkCount,
					metadata.StoredBytes,
					string(metadata.ChecksumAlgorithm),
					checksum,
					unixSeconds(metadata.CreatedAt),
					metadata.ElapsedSeconds,
				},
			})
	})
}

// loadMetadata reads the metadata row. Returns InvalidArchiveError
// when the table is missing, empty, holds more than one row, or names
// an unknown format.
func loadMetadata(conn *sqlite.Conn, path string) (*Metadata, error) {
	var rows []*Metadata
	err := sqlitex.Execute(conn, `
		SELECT format, file_count, total_bytes, compressor, compressor_level,
		       chunk_size, chunk_count, stored_bytes, checksum_algorithm,
		       checksum, created_at, elapsed_seconds
		FROM metadata`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				rows = append(rows, &Metadata{
					Format:            stmt.ColumnText(0),
					FileCount:         stmt.ColumnInt64(1),
					TotalBytes:        stmt.ColumnInt64(2),
					Compressor:        Codec(stmt.ColumnText(3)),
					CompressorLevel:   stmt.ColumnInt(4),
					ChunkSize:         stmt.ColumnInt64(5),
					ChunkCount:        stmt.ColumnInt64(6),
					StoredBytes:       stmt.ColumnInt64(7),
					ChecksumAlgorithm: ChecksumAlgorithm(stmt.ColumnText(8)),
					Checksum:          stmt.ColumnText(9),
					CreatedAt:         fromUnixSeconds(stmt.ColumnFloat(10)),
					ElapsedSeconds:    stmt.ColumnFloat(11),
				})
				return nil
			},
		})
	if err != nil {
		return nil, &InvalidArchiveError{Path: path, Reason: fmt.Sprintf("reading metadata: %v", err)}
	}

	switch len(rows) {
	case 0:
		return nil, &InvalidArchiveError{Path: path, Reason: "no metadata record (incomplete build?)"}
	case 1:
	default:
		return nil, &InvalidArchiveError{Path: path, Reason: fmt.Sprintf("%d metadata records", len(rows))}
	}

	metadata := rows[0]
	if metadata.Format != FormatTag {
		return nil, &InvalidArchiveError{Path: path, Reason: fmt.Sprintf("unsupported format %q", metadata.Format)}
	}
	if metadata.ChunkSize <= 0 {
		return nil, &InvalidArchiveError{Path: path, Reason: fmt.Sprintf("chunk size %d", metadata.ChunkSize)}
	}
	if _, err := ParseChecksumAlgorithm(string(metadata.ChecksumAlgorithm)); err != nil {
		return nil, &InvalidArchiveError{Path: path, Reason: err.Error()}
	}
	return metadata, nil
}

// Timestamps are stored as REAL seconds. A float64 cannot hold
// nanoseconds at present-day epochs, so both directions work in whole
// microseconds, which round-trip exactly.
func unixSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

func fromUnixSeconds(seconds float64) time.Time {
	return time.UnixMicro(int64(math.Round(seconds * 1e6))).UTC()
}
