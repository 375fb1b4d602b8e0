// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package seal

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/bureau-foundation/sealdrop/lib/atomicfile"
)

// Compression selects how a directory archive is compressed before
// encryption.
type Compression string

const (
	// CompressionNone writes a plain tar stream.
	CompressionNone Compression = "none"

	// CompressionZstd compresses with zstd at the default level. Good
	// ratios for the text-heavy batches people usually drop.
	CompressionZstd Compression = "zstd"

	// CompressionLZ4 trades ratio for speed.
	CompressionLZ4 Compression = "lz4"
)

// ParseCompression parses a compression name. The empty string selects
// zstd.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case "", CompressionZstd:
		return CompressionZstd, nil
	case CompressionLZ4:
		return CompressionLZ4, nil
	case CompressionNone:
		return CompressionNone, nil
	default:
		return "", fmt.Errorf("unknown compression %q (want zstd, lz4, or none)", name)
	}
}

// Extension returns the archive file extension for c, including the
// ".tar" part.
func (c Compression) Extension() string {
	switch c {
	case CompressionZstd:
		return ".tar.zst"
	case CompressionLZ4:
		return ".tar.lz4"
	default:
		return ".tar"
	}
}

func (c Compression) newWriter(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CompressionZstd:
		encoder, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		return encoder, nil
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	case CompressionNone:
		return nopWriteCloser{w}, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", string(c))
	}
}

// NewReader wraps r in the decompressor for c.
func (c Compression) NewReader(r io.Reader) (io.Reader, func(), error) {
	switch c {
	case CompressionZstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		return decoder, decoder.Close, nil
	case CompressionLZ4:
		return lz4.NewReader(r), func() {}, nil
	case CompressionNone:
		return r, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown compression %q", string(c))
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// Archive is a packed directory waiting in the staging area.
type Archive struct {
	// Path is the archive file. Its base name is the source
	// directory's name plus the compression extension, so the
	// encrypted artifact ends up as e.g. "batch.tar.zst.age".
	Path string

	// Entries is the number of tar entries written, including the
	// top-level directory itself.
	Entries int

	staging string
}

// Remove deletes the archive and its private staging subdirectory.
// Safe to call more than once.
func (a *Archive) Remove() error {
	if a.staging == "" {
		return nil
	}
	err := os.RemoveAll(a.staging)
	a.staging = ""
	return err
}

// Pack writes directory into a new tar archive under stagingDir.
// Each call gets its own subdirectory of stagingDir so concurrent packs
// of identically named directories cannot collide. Entry names inside
// the archive are rooted at the directory's base name. Regular files,
// directories, and symlinks are archived; other file types are
// skipped. Entries removed while the walk is in progress are skipped.
//
// On error nothing is left behind in stagingDir.
func Pack(ctx context.Context, directory, stagingDir string, compression Compression) (*Archive, error) {
	info, err := os.Stat(directory)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", directory)
	}

	if err := os.MkdirAll(stagingDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	private, err := os.MkdirTemp(stagingDir, "pack-*")
	if err != nil {
		return nil, fmt.Errorf("creating staging subdirectory: %w", err)
	}
	archive := &Archive{
		Path:    filepath.Join(private, filepath.Base(directory)+compression.Extension()),
		staging: private,
	}

	if err := archive.write(ctx, directory, compression); err != nil {
		archive.Remove()
		return nil, err
	}
	return archive, nil
}

func (a *Archive) write(ctx context.Context, directory string, compression Compression) error {
	file, err := os.OpenFile(a.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer file.Close()

	compressor, err := compression.newWriter(file)
	if err != nil {
		return err
	}
	writer := tar.NewWriter(compressor)

	base := filepath.Base(directory)
	walkErr := filepath.WalkDir(directory, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		relative, err := filepath.Rel(directory, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(filepath.Join(base, relative))
		added, err := addEntry(ctx, writer, path, name, entry)
		if err != nil {
			return err
		}
		if added {
			a.Entries++
		}
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("archiving %s: %w", directory, walkErr)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("finishing tar stream: %w", err)
	}
	if err := compressor.Close(); err != nil {
		return fmt.Errorf("finishing %s stream: %w", compression, err)
	}
	return file.Close()
}

func addEntry(ctx context.Context, writer *tar.Writer, path, name string, entry fs.DirEntry) (bool, error) {
	info, err := entry.Info()
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var link string
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		if link, err = os.Readlink(path); err != nil {
			if os.IsNotExist(err) {
				return false, nil
			}
			return false, err
		}
	case info.IsDir(), info.Mode().IsRegular():
	default:
		return false, nil
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return false, err
	}
	header.Name = name
	if info.IsDir() {
		header.Name += "/"
	}
	// Ownership is meaningless to recipients on other machines.
	header.Uid, header.Gid = 0, 0
	header.Uname, header.Gname = "", ""

	if !info.Mode().IsRegular() {
		return true, writer.WriteHeader(header)
	}

	source, err := os.Open(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer source.Close()

	if err := writer.WriteHeader(header); err != nil {
		return false, err
	}
	// The header commits to info.Size(). If the file changed after the
	// stat, copy exactly that many bytes; tar rejects anything else.
	copied, err := io.Copy(writer, io.LimitReader(atomicfile.NewContextReader(ctx, source), header.Size))
	if err != nil {
		return false, err
	}
	if copied < header.Size {
		return false, fmt.Errorf("%s shrank while archiving (%d of %d bytes)", path, copied, header.Size)
	}
	return true, nil
}
