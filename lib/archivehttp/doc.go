// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package archivehttp serves an open archive over HTTP.
//
// Routes:
//
//	GET /                 file listing (JSON), same as /api/files
//	GET /api/files?q=     listing filtered by a case-insensitive substring
//	GET /api/metadata     the archive metadata record
//	GET /api/plan/{path}  chunk plan; CBOR when Accept: application/cbor
//	GET /files/{path}     file content, honoring Range and If-None-Match
//
// File content is served through http.ServeContent over an
// [archive.File], so a Range request decompresses only the chunks it
// overlaps. When the archive carries per-file checksums they are sent
// as strong ETags.
//
// Every archive in a server is immutable, which is why handlers never
// take locks: concurrency is bounded by the archive's connection pool.
package archivehttp
