// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"sort"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

// ChecksumAlgorithm names the whole-file checksum recorded per file
// and for the archive as a whole. Persisted in
// metadata.checksum_algorithm.
type ChecksumAlgorithm string

const (
	ChecksumNone    ChecksumAlgorithm = "none"
	ChecksumSHA256  ChecksumAlgorithm = "sha256"
	ChecksumBLAKE3  ChecksumAlgorithm = "blake3"
	ChecksumBLAKE2b ChecksumAlgorithm = "blake2b"
)

// ChecksumAlgorithms lists every supported algorithm in display order.
var ChecksumAlgorithms = []ChecksumAlgorithm{ChecksumNone, ChecksumSHA256, ChecksumBLAKE3, ChecksumBLAKE2b}

// ParseChecksumAlgorithm parses an algorithm name. The empty string
// parses as ChecksumNone.
func ParseChecksumAlgorithm(name string) (ChecksumAlgorithm, error) {
	switch ChecksumAlgorithm(name) {
	case "":
		return ChecksumNone, nil
	case ChecksumNone, ChecksumSHA256, ChecksumBLAKE3, ChecksumBLAKE2b:
		return ChecksumAlgorithm(name), nil
	default:
		return "", fmt.Errorf("unknown checksum algorithm %q (want none, sha256, blake3, or blake2b)", name)
	}
}

// Enabled reports whether the algorithm produces checksums.
func (a ChecksumAlgorithm) Enabled() bool {
	return a != "" && a != ChecksumNone
}

// New returns a fresh hash for the algorithm, or nil for ChecksumNone.
func (a ChecksumAlgorithm) New() hash.Hash {
	switch a {
	case ChecksumSHA256:
		return sha256.New()
	case ChecksumBLAKE3:
		return blake3.New()
	case ChecksumBLAKE2b:
		h, err := blake2b.New256(nil)
		if err != nil {
			// Only fails for an oversized key.
			panic("archive: blake2b: " + err.Error())
		}
		return h
	default:
		return nil
	}
}

// Sum returns the hex checksum of data, or "" for ChecksumNone.
func (a ChecksumAlgorithm) Sum(data []byte) string {
	h := a.New()
	if h == nil {
		return ""
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SumReader returns the hex checksum of everything read from reader.
func (a ChecksumAlgorithm) SumReader(reader io.Reader) (string, error) {
	h := a.New()
	if h == nil {
		return "", nil
	}
	if _, err := io.Copy(h, reader); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// fileChecksum pairs a path with its hex checksum for the archive
// checksum computation.
type fileChecksum struct {
	path     string
	checksum string
}

// archiveChecksum computes the archive-level checksum: the algorithm
// applied to "path\x00checksum\n" for every file in path order. Files
// without a checksum contribute an empty checksum field. Returns ""
// when the algorithm is disabled.
func archiveChecksum(algorithm ChecksumAlgorithm, files []fileChecksum) string {
	h := algorithm.New()
	if h == nil {
		return ""
	}
	sorted := make([]fileChecksum, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].path < sorted[j].path })

	for _, file := range sorted {
		io.WriteString(h, file.path)
		h.Write([]byte{0})
		io.WriteString(h, file.checksum)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
