// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package atomicfile

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Write creates finalPath with the given permission bits by letting
// fill write into a temporary file in the same directory, then syncing
// and renaming it into place. On any failure the temporary file is
// removed and finalPath is left as it was. The parent directory must
// already exist.
//
// The temporary name starts with "." and ends in ".partial", so the
// path filter ignores it if the directory is ever watched.
func Write(finalPath string, mode os.FileMode, fill func(io.Writer) error) error {
	directory := filepath.Dir(finalPath)
	file, err := os.CreateTemp(directory, "."+filepath.Base(finalPath)+".*.partial")
	if err != nil {
		return fmt.Errorf("creating temporary file for %s: %w", finalPath, err)
	}
	temporaryPath := file.Name()

	fail := func(err error) error {
		file.Close()
		os.Remove(temporaryPath)
		return err
	}

	if err := fill(file); err != nil {
		return fail(err)
	}
	if err := file.Chmod(mode); err != nil {
		return fail(fmt.Errorf("setting mode on %s: %w", temporaryPath, err))
	}
	if err := file.Sync(); err != nil {
		return fail(fmt.Errorf("syncing %s: %w", temporaryPath, err))
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing %s: %w", temporaryPath, err)
	}
	if err := os.Rename(temporaryPath, finalPath); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming into %s: %w", finalPath, err)
	}

	// Make the rename durable. Failure here does not undo the write.
	if parent, err := os.Open(directory); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}

// WriteBytes is Write for content already in memory.
func WriteBytes(finalPath string, mode os.FileMode, data []byte) error {
	return Write(finalPath, mode, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// NewContextReader returns a reader that fails once ctx is done, so
// long copies stop at the next buffer boundary after cancellation.
func NewContextReader(ctx context.Context, reader io.Reader) io.Reader {
	return contextReader{ctx: ctx, reader: reader}
}

type contextReader struct {
	ctx    context.Context
	reader io.Reader
}

func (r contextReader) Read(buffer []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.reader.Read(buffer)
}
