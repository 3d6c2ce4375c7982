// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archivefs

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bureau-foundation/rattrap/lib/archive"
)

// dirEntry is one directory in the mount tree.
type dirEntry struct {
	dirs  map[string]*dirEntry
	files map[string]archive.FileSummary
}

func newDirEntry() *dirEntry {
	return &dirEntry{
		dirs:  make(map[string]*dirEntry),
		files: make(map[string]archive.FileSummary),
	}
}

// buildTree arranges listing rows into a directory hierarchy. Rows
// whose path collides with an existing file or directory are returned
// as conflicts and left out of the tree.
func buildTree(files []archive.FileSummary) (*dirEntry, []error) {
	root := newDirEntry()
	var conflicts []error
	for _, file := range files {
		components := strings.Split(file.Path, "/")
		if err := root.insert(components, file); err != nil {
			conflicts = append(conflicts, fmt.Errorf("%s: %w", file.Path, err))
		}
	}
	return root, conflicts
}

func (d *dirEntry) insert(components []string, file archive.FileSummary) error {
	name := components[0]
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("invalid path component %q", name)
	}
	if len(components) == 1 {
		if _, ok := d.dirs[name]; ok {
			return fmt.Errorf("%q is already a directory", name)
		}
		if _, ok := d.files[name]; ok {
			return fmt.Errorf("duplicate file %q", name)
		}
		d.files[name] = file
		return nil
	}
	if _, ok := d.files[name]; ok {
		return fmt.Errorf("%q is already a file", name)
	}
	child, ok := d.dirs[name]
	if !ok {
		child = newDirEntry()
		d.dirs[name] = child
	}
	return child.insert(components[1:], file)
}

// names returns the entry's children in sorted order.
func (d *dirEntry) names() (dirs, files []string) {
	for name := range d.dirs {
		dirs = append(dirs, name)
	}
	for name := range d.files {
		files = append(files, name)
	}
	sort.Strings(dirs)
	sort.Strings(files)
	return dirs, files
}
