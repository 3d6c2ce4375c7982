// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides rattrap's CBOR encoding configuration.
//
// JSON is the default for CLI --json output and the HTTP API. CBOR is
// offered on the chunk-plan endpoint for clients that fetch chunk
// layouts in bulk: a plan for a large file is a long list of small
// integer records, which CBOR encodes far more compactly than JSON.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same plan always produces identical bytes and responses can be
// cached or compared byte for byte.
//
//	data, err := codec.Marshal(plan)
//	err = codec.Unmarshal(data, &plan)
//
// # Struct tags
//
// fxamacker/cbor reads `json` tags when `cbor` tags are absent, so
// types shared between JSON and CBOR carry only `json` tags. Types that
// want integer map keys on the wire add `cbor:"N,keyasint"` alongside.
package codec
