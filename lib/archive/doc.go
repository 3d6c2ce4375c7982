// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive implements rattrap's content-addressed chunk archive.
//
// An archive is a single SQLite file holding three tables: unique
// compressed chunks, per-file chunk lists, and one metadata row. A
// directory tree is split into fixed-size chunks; each chunk's raw
// bytes are digested with a keyed BLAKE3 hash and the digest is the
// deduplication key, so identical chunks anywhere in the tree are
// stored once. Each unique chunk is compressed independently and
// carries its own codec tag, so an archive may mix codecs.
//
// # Building
//
// [Build] walks a source directory, chunks every regular file on a
// bounded worker pool, and writes the container at a temporary path
// next to the destination. The metadata row is sealed only after all
// workers finish, and the temporary file is renamed over the
// destination only after the metadata commit. A cancelled or failed
// build never leaves a container at the destination path.
//
// Source files that cannot be read are skipped: the build continues
// and the failures are returned in [BuildResult.Failures].
//
// # Reading
//
// [Open] returns an [Archive] for listing, searching, range reads, and
// extraction. Range reads decompress only the chunks that overlap the
// requested span, so reading a few bytes from a large file costs at
// most two chunk decodes. Every decoded chunk is re-digested and
// compared with its stored digest; a mismatch is a [CorruptChunkError],
// never silent wrong output.
//
// # Container layout
//
//	chunks(id INTEGER PRIMARY KEY, content_digest BLOB UNIQUE,
//	       data BLOB, compressor TEXT, raw_length INTEGER)
//	files(path TEXT PRIMARY KEY, size INTEGER, chunk_ids TEXT,
//	      chunk_sizes TEXT, checksum TEXT)
//	metadata(format TEXT, file_count INTEGER, total_bytes INTEGER,
//	         compressor TEXT, compressor_level INTEGER,
//	         chunk_size INTEGER, chunk_count INTEGER,
//	         stored_bytes INTEGER, checksum_algorithm TEXT,
//	         checksum TEXT, created_at REAL, elapsed_seconds REAL)
//
// chunk_ids and chunk_sizes are JSON arrays of integers.
package archive
