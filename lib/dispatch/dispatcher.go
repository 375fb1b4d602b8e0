// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/sealdrop/lib/seal"
	"github.com/bureau-foundation/sealdrop/lib/stability"
)

// ErrChangedDuringEncryption is the Outcome.DeleteErr of an entry that
// was modified while its artifact was being written. The original is
// kept; the modification produces another event and a later pass
// encrypts and removes the new version.
var ErrChangedDuringEncryption = errors.New("original changed during encryption")

// Encryptor writes the artifact for one source into outputDir.
// Implementations must leave no partial artifact at the final path on
// error and must honour ctx while streaming. [seal.Sealer] is the
// production implementation.
type Encryptor interface {
	EncryptFile(ctx context.Context, sourcePath, outputDir string) (seal.Result, error)
	EncryptDirectory(ctx context.Context, sourcePath, outputDir string) (seal.Result, error)
}

// Remover deletes an original after it has been encrypted.
type Remover interface {
	Remove(ctx context.Context, path string) error
}

// Config configures a Dispatcher.
type Config struct {
	// OutputRoot is the root of the mirrored artifact tree.
	OutputRoot string

	// DeleteAfterEncrypt removes the original once its artifact is
	// written. Requires a Remover.
	DeleteAfterEncrypt bool

	// MaxFileSize rejects regular files larger than this many bytes.
	// Zero disables the limit. Directories are not size-limited.
	MaxFileSize int64

	Logger *slog.Logger
}

// Dispatcher encrypts one entry, optionally deletes the original, and
// reports what happened. It keeps no state between calls: dispatching
// the same entry twice produces the same outcome and overwrites the
// artifact atomically. Safe for concurrent use.
type Dispatcher struct {
	outputRoot  string
	deleteAfter bool
	maxFileSize int64
	encryptor   Encryptor
	remover     Remover
	logger      *slog.Logger
}

// New creates a Dispatcher. remover may be nil when
// config.DeleteAfterEncrypt is false.
func New(config Config, encryptor Encryptor, remover Remover) (*Dispatcher, error) {
	if config.OutputRoot == "" {
		return nil, errors.New("output root is required")
	}
	if encryptor == nil {
		return nil, errors.New("encryptor is required")
	}
	if config.DeleteAfterEncrypt && remover == nil {
		return nil, errors.New("delete-after-encrypt requires a remover")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		outputRoot:  filepath.Clean(config.OutputRoot),
		deleteAfter: config.DeleteAfterEncrypt,
		maxFileSize: config.MaxFileSize,
		encryptor:   encryptor,
		remover:     remover,
		logger:      logger,
	}, nil
}

// OutputDir returns the directory an entry's artifact is written to:
// the output root joined with the directory part of the entry's
// relative path.
func (d *Dispatcher) OutputDir(entry Entry) string {
	return filepath.Join(d.outputRoot, filepath.Dir(entry.RelativePath))
}

// Dispatch handles one entry that has already passed filtering and
// stabilization.
func (d *Dispatcher) Dispatch(ctx context.Context, entry Entry) Outcome {
	if err := ctx.Err(); err != nil {
		return Skip(entry, ReasonCancelled, err)
	}

	info, err := os.Lstat(entry.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Skip(entry, ReasonVanished, nil)
	}
	if err != nil {
		return Skip(entry, ReasonStatError, err)
	}

	var before version
	if d.deleteAfter {
		before, err = snapshot(entry.Path)
		if errors.Is(err, os.ErrNotExist) {
			return Skip(entry, ReasonVanished, nil)
		}
		if err != nil {
			return Skip(entry, ReasonStatError, err)
		}
	}

	var result seal.Result
	outputDir := d.OutputDir(entry)
	switch {
	case entry.Kind == File && info.Mode().IsRegular():
		if d.maxFileSize > 0 && info.Size() > d.maxFileSize {
			return Skip(entry, ReasonTooLarge,
				fmt.Errorf("%d bytes exceeds the %d byte limit", info.Size(), d.maxFileSize))
		}
		result, err = d.encryptor.EncryptFile(ctx, entry.Path, outputDir)
	case entry.Kind == Directory && info.IsDir():
		result, err = d.encryptor.EncryptDirectory(ctx, entry.Path, outputDir)
	default:
		return Skip(entry, ReasonUnsupported, fmt.Errorf("%s is a %s, expected a %s", entry.Path, describeMode(info.Mode()), entry.Kind))
	}

	if err != nil {
		switch {
		case ctx.Err() != nil:
			return Skip(entry, ReasonCancelled, err)
		case errors.Is(err, os.ErrNotExist):
			if _, statErr := os.Lstat(entry.Path); errors.Is(statErr, os.ErrNotExist) {
				return Skip(entry, ReasonVanished, nil)
			}
		}
		return failed(entry, err)
	}

	outcome := Outcome{
		Entry:    entry,
		Status:   Encrypted,
		Artifact: result.Artifact,
		Bytes:    result.Bytes,
		Digest:   result.Digest,
	}
	if !d.deleteAfter {
		return outcome
	}

	after, err := snapshot(entry.Path)
	if errors.Is(err, os.ErrNotExist) {
		return outcome
	}
	if err == nil && after != before {
		err = ErrChangedDuringEncryption
	}
	if err != nil {
		d.logger.Warn("keeping original after encryption",
			"path", entry.Path,
			"artifact", result.Artifact,
			"error", err,
		)
		outcome.DeleteErr = err
		return outcome
	}

	if err := d.remover.Remove(ctx, entry.Path); err != nil {
		d.logger.Error("removing original after encryption",
			"path", entry.Path,
			"artifact", result.Artifact,
			"error", err,
		)
		outcome.DeleteErr = err
		return outcome
	}
	outcome.Deleted = true
	return outcome
}

// version identifies the content of an entry closely enough to tell
// whether it was written to between two snapshots.
type version struct {
	measure stability.Measure
	modTime int64
}

// snapshot measures path and records the latest modification time of
// it and everything below it.
func snapshot(path string) (version, error) {
	measure, err := stability.MeasurePath(path)
	if err != nil {
		return version{}, err
	}
	current := version{measure: measure}
	err = filepath.WalkDir(path, func(walked string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if walked != path && errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		info, err := entry.Info()
		if err != nil {
			if walked != path && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if modTime := info.ModTime().UnixNano(); modTime > current.modTime {
			current.modTime = modTime
		}
		return nil
	})
	if err != nil {
		return version{}, err
	}
	return current, nil
}

func describeMode(mode os.FileMode) string {
	switch {
	case mode.IsRegular():
		return "regular file"
	case mode.IsDir():
		return "directory"
	case mode&os.ModeSymlink != 0:
		return "symlink"
	case mode&os.ModeNamedPipe != 0:
		return "named pipe"
	case mode&os.ModeSocket != 0:
		return "socket"
	case mode&os.ModeDevice != 0:
		return "device"
	default:
		return "special file"
	}
}
