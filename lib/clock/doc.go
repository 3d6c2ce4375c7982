// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Archive builds record their start time and duration in the
// container's metadata and log progress on a ticker. Both go through
// a Clock so tests can pin created_at and elapsed_seconds to exact
// values and drive progress reporting deterministically:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	result, err := archive.Build(ctx, archive.BuildOptions{
//	    SourceDir: source,
//	    Dest:      dest,
//	    Clock:     c,
//	})
//
// In production, Real() provides the standard library behavior.
package clock
