// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Digest is the 32-byte content digest of a chunk's raw bytes. It is
// the sole deduplication key: two chunks with equal digests are the
// same chunk.
type Digest [32]byte

// chunkDomainKey keys the BLAKE3 hash so chunk digests never collide
// with BLAKE3 digests computed for other purposes (such as the blake3
// file checksum). ASCII name, zero-padded to 32 bytes. Changing it
// invalidates every existing archive.
var chunkDomainKey = [32]byte{
	'r', 'a', 't', 't', 'r', 'a', 'p', '.', 'a', 'r', 'c', 'h', 'i', 'v', 'e', '.',
	'c', 'h', 'u', 'n', 'k', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// DigestChunk computes the content digest of raw chunk bytes. Safe for
// concurrent use.
func DigestChunk(raw []byte) Digest {
	hasher, err := blake3.NewKeyed(chunkDomainKey[:])
	if err != nil {
		// NewKeyed only fails on a wrong key length.
		panic("archive: blake3 keyed hasher: " + err.Error())
	}
	hasher.Write(raw)
	var digest Digest
	hasher.Sum(digest[:0])
	return digest
}

// String returns the lowercase hex encoding of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ParseDigest parses a 64-character hex string.
func ParseDigest(s string) (Digest, error) {
	var digest Digest
	if len(s) != 64 {
		return digest, fmt.Errorf("digest must be 64 hex characters, got %d", len(s))
	}
	if _, err := hex.Decode(digest[:], []byte(s)); err != nil {
		return digest, fmt.Errorf("invalid digest hex: %w", err)
	}
	return digest, nil
}

// digestFromBytes converts a stored BLOB into a Digest.
func digestFromBytes(b []byte) (Digest, error) {
	var digest Digest
	if len(b) != len(digest) {
		return digest, fmt.Errorf("stored digest is %d bytes, want %d", len(b), len(digest))
	}
	copy(digest[:], b)
	return digest, nil
}

// MarshalText encodes the digest as hex in JSON and CBOR.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses the hex form produced by MarshalText.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
