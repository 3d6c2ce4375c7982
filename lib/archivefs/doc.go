// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package archivefs mounts an archive as a read-only FUSE filesystem.
//
// The directory tree is built once at mount time from the file index.
// Archives are immutable, so every inode is persistent and the kernel
// may cache attributes, entries, and page contents for as long as
// [Options.CacheTimeout] allows. Reads are served by
// [archive.Archive.ReadRange], decompressing only the chunks that
// overlap the requested window.
//
// Any attempt to open a file for writing fails with EROFS.
package archivefs
