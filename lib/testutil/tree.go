// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

// WriteTree creates every file in files under root. Keys are
// slash-separated paths relative to root; parent directories are
// created as needed.
func WriteTree(t testing.TB, root string, files map[string][]byte) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("creating parent of %s: %v", name, err)
		}
		if err := os.WriteFile(path, content, 0o644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
}

// ReadTree returns every regular file under root keyed by its
// slash-separated relative path.
func ReadTree(t testing.TB, root string) map[string][]byte {
	t.Helper()
	files := make(map[string][]byte)
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		relative, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(relative)] = content
		return nil
	})
	if err != nil {
		t.Fatalf("reading tree %s: %v", root, err)
	}
	return files
}

// RequireSameTree fails the test unless got and want hold the same
// paths with byte-identical contents.
func RequireSameTree(t testing.TB, got, want map[string][]byte) {
	t.Helper()
	for name, wantContent := range want {
		gotContent, ok := got[name]
		if !ok {
			t.Errorf("missing file %s", name)
			continue
		}
		if string(gotContent) != string(wantContent) {
			t.Errorf("%s: content differs (got %d bytes, want %d)", name, len(gotContent), len(wantContent))
		}
	}
	for name := range got {
		if _, ok := want[name]; !ok {
			t.Errorf("unexpected file %s", name)
		}
	}
	if t.Failed() {
		t.FailNow()
	}
}
