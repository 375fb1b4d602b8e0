// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile creates path (and any missing parents) with size bytes of
// deterministic content and returns the content.
func WriteFile(t testing.TB, path string, size int) []byte {
	t.Helper()
	content := Content(size)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating parent of %s: %v", path, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return content
}

// AppendFile appends size bytes to path, which must exist.
func AppendFile(t testing.TB, path string, size int) {
	t.Helper()
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		t.Fatalf("opening %s for append: %v", path, err)
	}
	defer file.Close()
	if _, err := file.Write(Content(size)); err != nil {
		t.Fatalf("appending to %s: %v", path, err)
	}
}

// Content returns size bytes of a repeating, non-trivial pattern.
func Content(size int) []byte {
	pattern := []byte("sealdrop test payload 0123456789\n")
	return bytes.Repeat(pattern, size/len(pattern)+1)[:size]
}
