// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Kind distinguishes files from directories.
type Kind int

const (
	// File is a single regular file, encrypted on its own.
	File Kind = iota

	// Directory is a directory tree, packed into one archive and
	// encrypted as a unit.
	Directory
)

func (k Kind) String() string {
	switch k {
	case File:
		return "file"
	case Directory:
		return "directory"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Entry is one candidate for encryption: an absolute path inside the
// input root, its path relative to that root, and its kind.
type Entry struct {
	Path         string
	RelativePath string
	Kind         Kind
}

// NewEntry builds an Entry for path under inputRoot. Both are cleaned.
// Returns an error if path is the root itself or lies outside it.
func NewEntry(inputRoot, path string, kind Kind) (Entry, error) {
	inputRoot = filepath.Clean(inputRoot)
	path = filepath.Clean(path)
	relative, err := filepath.Rel(inputRoot, path)
	if err != nil {
		return Entry{}, fmt.Errorf("relating %s to %s: %w", path, inputRoot, err)
	}
	if relative == "." || relative == ".." || strings.HasPrefix(relative, ".."+string(filepath.Separator)) {
		return Entry{}, fmt.Errorf("%s is not inside input root %s", path, inputRoot)
	}
	return Entry{Path: path, RelativePath: relative, Kind: kind}, nil
}
