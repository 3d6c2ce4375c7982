// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for rattrap packages.
//
// [WriteTree] and [ReadTree] convert between a directory on disk and a
// map of slash-separated relative paths to contents, so archive tests
// can express a source tree as a literal and compare an extracted tree
// against it. [PseudoRandom] produces deterministic incompressible
// content of any length for chunk-boundary and codec tests.
//
// [RequireReceive] and [RequireClosed] encapsulate the timeout safety
// valve pattern (select with time.After fallback) so that individual
// tests do not need direct time.After calls.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no rattrap-internal dependencies.
package testutil
