// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

// FormatTag identifies the container layout. Readers reject any other
// value.
const FormatTag = "rattrap/1"

const schemaSQL = `
CREATE TABLE chunks (
	id             INTEGER PRIMARY KEY,
	content_digest BLOB    NOT NULL UNIQUE,
	data           BLOB    NOT NULL,
	compressor     TEXT    NOT NULL,
	raw_length     INTEGER NOT NULL
);

CREATE TABLE files (
	path        TEXT    PRIMARY KEY,
	size        INTEGER NOT NULL,
	chunk_ids   TEXT    NOT NULL,
	chunk_sizes TEXT    NOT NULL,
	checksum    TEXT
);

CREATE TABLE metadata (
	format             TEXT    NOT NULL,
	file_count         INTEGER NOT NULL,
	total_bytes        INTEGER NOT NULL,
	compressor         TEXT    NOT NULL,
	compressor_level   INTEGER NOT NULL,
	chunk_size         INTEGER NOT NULL,
	chunk_count        INTEGER NOT NULL,
	stored_bytes       INTEGER NOT NULL,
	checksum_algorithm TEXT    NOT NULL,
	checksum           TEXT,
	created_at         REAL    NOT NULL,
	elapsed_seconds    REAL    NOT NULL
);
`
