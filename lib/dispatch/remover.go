// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/sealdrop/lib/atomicfile"
)

// FileRemover deletes originals from the input tree. When BackupRoot is
// set, the original (file or whole tree) is first copied to the same
// relative path under BackupRoot; a failed backup aborts the removal.
type FileRemover struct {
	InputRoot  string
	BackupRoot string
}

// Remove deletes path, which may be a file or a directory tree. A path
// that no longer exists is not an error.
func (r FileRemover) Remove(ctx context.Context, path string) error {
	if r.BackupRoot != "" {
		if err := r.backup(ctx, path); err != nil {
			return fmt.Errorf("backing up %s: %w", path, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

func (r FileRemover) backup(ctx context.Context, path string) error {
	relative, err := filepath.Rel(r.InputRoot, path)
	if err != nil {
		return err
	}
	destination := filepath.Join(r.BackupRoot, relative)

	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(ctx, path, destination, info.Mode().Perm())
	}

	return filepath.WalkDir(path, func(current string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		inner, err := filepath.Rel(path, current)
		if err != nil {
			return err
		}
		target := filepath.Join(destination, inner)
		info, err := entry.Info()
		if err != nil {
			return err
		}
		switch {
		case entry.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case info.Mode().IsRegular():
			return copyFile(ctx, current, target, info.Mode().Perm())
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(current)
			if err != nil {
				return err
			}
			os.Remove(target)
			return os.Symlink(link, target)
		default:
			return nil
		}
	})
}

// copyFile copies source to destination atomically, so an interrupted
// copy never looks like a complete backup.
func copyFile(ctx context.Context, source, destination string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return err
	}
	input, err := os.Open(source)
	if err != nil {
		return err
	}
	defer input.Close()
	return atomicfile.Write(destination, mode, func(w io.Writer) error {
		_, err := io.Copy(w, atomicfile.NewContextReader(ctx, input))
		return err
	})
}
