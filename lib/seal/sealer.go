// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package seal

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"
	"filippo.io/age/armor"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/sealdrop/lib/atomicfile"
)

// DefaultArtifactSuffix is appended to a source's base name to form the
// artifact name.
const DefaultArtifactSuffix = ".age"

// Options configures a Sealer.
type Options struct {
	// Recipients are the parsed age recipients every artifact is
	// encrypted to. Required.
	Recipients []age.Recipient

	// ArtifactSuffix is appended to the source base name. Defaults to
	// DefaultArtifactSuffix.
	ArtifactSuffix string

	// Armor writes PEM-style ASCII armored ciphertext instead of
	// binary.
	Armor bool

	// PreservePermissions copies the source's permission bits onto the
	// artifact. When false artifacts are created 0600.
	PreservePermissions bool

	// StagingDir holds intermediate directory archives. Required for
	// EncryptDirectory.
	StagingDir string

	// Compression applies to directory archives.
	Compression Compression
}

// Result describes one written artifact.
type Result struct {
	// Source is the file or directory that was encrypted.
	Source string

	// Artifact is the final path of the ciphertext.
	Artifact string

	// Bytes is the number of plaintext bytes encrypted. For a
	// directory this is the size of the packed archive.
	Bytes int64

	// Digest is the BLAKE3 digest of the plaintext.
	Digest Digest
}

// Sealer encrypts files and directories into an output directory. A
// Sealer is safe for concurrent use; concurrent calls for different
// sources never share temporary files.
type Sealer struct {
	recipients  []age.Recipient
	suffix      string
	armor       bool
	preserve    bool
	stagingDir  string
	compression Compression
}

// New validates options and returns a Sealer.
func New(options Options) (*Sealer, error) {
	if len(options.Recipients) == 0 {
		return nil, ErrNoRecipients
	}
	suffix := options.ArtifactSuffix
	if suffix == "" {
		suffix = DefaultArtifactSuffix
	}
	compression := options.Compression
	if compression == "" {
		compression = CompressionZstd
	}
	if _, err := ParseCompression(string(compression)); err != nil {
		return nil, err
	}
	return &Sealer{
		recipients:  options.Recipients,
		suffix:      suffix,
		armor:       options.Armor,
		preserve:    options.PreservePermissions,
		stagingDir:  options.StagingDir,
		compression: compression,
	}, nil
}

// ArtifactSuffix returns the suffix this Sealer appends.
func (s *Sealer) ArtifactSuffix() string { return s.suffix }

// ArtifactName returns the artifact base name for a source base name.
// Directories pick up their archive extension before the suffix.
func (s *Sealer) ArtifactName(base string, isDir bool) string {
	if isDir {
		return base + s.compression.Extension() + s.suffix
	}
	return base + s.suffix
}

// EncryptFile encrypts the regular file at sourcePath into outputDir,
// creating outputDir if needed. The artifact is named after the
// source's base name plus the artifact suffix and replaces any existing
// artifact of that name atomically. On error no artifact is created or
// changed and the source is untouched.
func (s *Sealer) EncryptFile(ctx context.Context, sourcePath, outputDir string) (Result, error) {
	source, err := os.Open(sourcePath)
	if err != nil {
		return Result{}, fmt.Errorf("opening source: %w", err)
	}
	defer source.Close()

	info, err := source.Stat()
	if err != nil {
		return Result{}, fmt.Errorf("stat source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return Result{}, fmt.Errorf("%s is not a regular file", sourcePath)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("creating output directory: %w", err)
	}

	mode := os.FileMode(0o600)
	if s.preserve {
		mode = info.Mode().Perm()
	}

	result := Result{
		Source:   sourcePath,
		Artifact: filepath.Join(outputDir, s.ArtifactName(filepath.Base(sourcePath), false)),
	}
	hasher := blake3.New()

	err = atomicfile.Write(result.Artifact, mode, func(w io.Writer) error {
		written, err := s.encryptStream(w, io.TeeReader(atomicfile.NewContextReader(ctx, source), hasher))
		result.Bytes = written
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("encrypting %s: %w", sourcePath, err)
	}
	result.Digest = digestOf(hasher)
	return result, nil
}

func (s *Sealer) encryptStream(destination io.Writer, plaintext io.Reader) (int64, error) {
	var armorWriter io.WriteCloser
	if s.armor {
		armorWriter = armor.NewWriter(destination)
		destination = armorWriter
	}

	encrypter, err := age.Encrypt(destination, s.recipients...)
	if err != nil {
		return 0, fmt.Errorf("starting age stream: %w", err)
	}
	written, err := io.Copy(encrypter, plaintext)
	if err != nil {
		return written, err
	}
	if err := encrypter.Close(); err != nil {
		return written, fmt.Errorf("finishing age stream: %w", err)
	}
	if armorWriter != nil {
		if err := armorWriter.Close(); err != nil {
			return written, fmt.Errorf("finishing armor: %w", err)
		}
	}
	return written, nil
}

// EncryptDirectory packs the directory at sourcePath into a staging
// archive, encrypts the archive into outputDir, and removes the
// archive. The staging archive is removed whether or not encryption
// succeeded.
func (s *Sealer) EncryptDirectory(ctx context.Context, sourcePath, outputDir string) (Result, error) {
	if s.stagingDir == "" {
		return Result{}, fmt.Errorf("encrypting directory %s: no staging directory configured", sourcePath)
	}
	archive, err := Pack(ctx, sourcePath, s.stagingDir, s.compression)
	if err != nil {
		return Result{}, fmt.Errorf("packing %s: %w", sourcePath, err)
	}
	defer archive.Remove()

	result, err := s.EncryptFile(ctx, archive.Path, outputDir)
	if err != nil {
		return Result{}, err
	}
	result.Source = sourcePath
	return result, nil
}
