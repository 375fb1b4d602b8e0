// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"filippo.io/age"

	"github.com/bureau-foundation/sealdrop/lib/seal"
	"github.com/bureau-foundation/sealdrop/lib/testutil"
)

// fakeEncryptor writes a plaintext "artifact" so tests can observe
// dispatch without real encryption, or fails with err.
type fakeEncryptor struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeEncryptor) EncryptFile(ctx context.Context, sourcePath, outputDir string) (seal.Result, error) {
	return f.encrypt(sourcePath, outputDir, "")
}

func (f *fakeEncryptor) EncryptDirectory(ctx context.Context, sourcePath, outputDir string) (seal.Result, error) {
	return f.encrypt(sourcePath, outputDir, ".tar")
}

func (f *fakeEncryptor) encrypt(sourcePath, outputDir, extension string) (seal.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, sourcePath)
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return seal.Result{}, err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return seal.Result{}, err
	}
	artifact := filepath.Join(outputDir, filepath.Base(sourcePath)+extension+".age")
	if err := os.WriteFile(artifact, []byte("sealed"), 0o600); err != nil {
		return seal.Result{}, err
	}
	return seal.Result{Source: sourcePath, Artifact: artifact, Bytes: 6}, nil
}

func (f *fakeEncryptor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type failingRemover struct{ err error }

func (r failingRemover) Remove(context.Context, string) error { return r.err }

type trees struct {
	input  string
	output string
}

func newTrees(t *testing.T) trees {
	t.Helper()
	root := t.TempDir()
	return trees{input: filepath.Join(root, "input"), output: filepath.Join(root, "output")}
}

func (tr trees) entry(t *testing.T, relative string, kind Kind) Entry {
	t.Helper()
	entry, err := NewEntry(tr.input, filepath.Join(tr.input, relative), kind)
	if err != nil {
		t.Fatalf("NewEntry: %v", err)
	}
	return entry
}

func newDispatcher(t *testing.T, config Config, encryptor Encryptor, remover Remover) *Dispatcher {
	t.Helper()
	dispatcher, err := New(config, encryptor, remover)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return dispatcher
}

func newSealer(t *testing.T) (*seal.Sealer, *age.X25519Identity) {
	t.Helper()
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}
	sealer, err := seal.New(seal.Options{
		Recipients: []age.Recipient{identity.Recipient()},
		StagingDir: t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return sealer, identity
}

func decryptArtifact(t *testing.T, path string, identity age.Identity) []byte {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening artifact: %v", err)
	}
	defer file.Close()
	plaintext, err := seal.Decrypt(file, identity)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	data, err := io.ReadAll(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestNewEntry(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		relative string
		wantErr  bool
	}{
		{"top level", "/in/report.csv", "report.csv", false},
		{"nested", "/in/a/b/report.csv", "a/b/report.csv", false},
		{"unclean", "/in/a/../b/./x", "b/x", false},
		{"root itself", "/in", "", true},
		{"outside", "/elsewhere/x", "", true},
		{"sibling prefix", "/input2/x", "", true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			entry, err := NewEntry("/in/", test.path, File)
			if test.wantErr {
				if err == nil {
					t.Fatalf("NewEntry(%q) = %+v, want error", test.path, entry)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewEntry(%q): %v", test.path, err)
			}
			if entry.RelativePath != test.relative {
				t.Errorf("RelativePath = %q, want %q", entry.RelativePath, test.relative)
			}
		})
	}
}

func TestDispatchMirrorsRelativePath(t *testing.T) {
	tr := newTrees(t)
	content := testutil.WriteFile(t, filepath.Join(tr.input, "a", "report.csv"), 2048)
	sealer, identity := newSealer(t)
	dispatcher := newDispatcher(t, Config{OutputRoot: tr.output}, sealer, nil)

	outcome := dispatcher.Dispatch(context.Background(), tr.entry(t, "a/report.csv", File))
	if outcome.Status != Encrypted {
		t.Fatalf("Status = %v (reason %q, err %v), want encrypted", outcome.Status, outcome.Reason, outcome.Err)
	}
	if want := filepath.Join(tr.output, "a", "report.csv.age"); outcome.Artifact != want {
		t.Errorf("Artifact = %q, want %q", outcome.Artifact, want)
	}
	if outcome.Digest.IsZero() || outcome.Bytes != int64(len(content)) {
		t.Errorf("outcome Bytes = %d Digest = %q, want %d bytes and a digest", outcome.Bytes, outcome.Digest, len(content))
	}
	if got := decryptArtifact(t, outcome.Artifact, identity); !bytes.Equal(got, content) {
		t.Error("artifact does not decrypt to the original")
	}
	if _, err := os.Stat(filepath.Join(tr.input, "a", "report.csv")); err != nil {
		t.Errorf("original removed without delete-after-encrypt: %v", err)
	}
}

func TestDispatchTwiceIsIdempotent(t *testing.T) {
	tr := newTrees(t)
	content := testutil.WriteFile(t, filepath.Join(tr.input, "x.bin"), 500)
	sealer, identity := newSealer(t)
	dispatcher := newDispatcher(t, Config{OutputRoot: tr.output}, sealer, nil)
	entry := tr.entry(t, "x.bin", File)

	first := dispatcher.Dispatch(context.Background(), entry)
	second := dispatcher.Dispatch(context.Background(), entry)
	if first.Status != Encrypted || second.Status != Encrypted {
		t.Fatalf("statuses = %v, %v, want encrypted twice", first.Status, second.Status)
	}
	if first.Artifact != second.Artifact || first.Digest != second.Digest {
		t.Errorf("second dispatch produced %q/%s, want %q/%s", second.Artifact, second.Digest, first.Artifact, first.Digest)
	}
	if got := decryptArtifact(t, second.Artifact, identity); !bytes.Equal(got, content) {
		t.Error("artifact after re-dispatch does not decrypt to the original")
	}
	entries, err := os.ReadDir(tr.output)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("output holds %d entries, want 1", len(entries))
	}
}

func TestDispatchFailurePreservesOriginal(t *testing.T) {
	tr := newTrees(t)
	content := testutil.WriteFile(t, filepath.Join(tr.input, "keep.txt"), 100)
	cause := errors.New("recipient unreachable")
	encryptor := &fakeEncryptor{err: cause}
	removerCalled := false
	remover := removerFunc(func(context.Context, string) error {
		removerCalled = true
		return nil
	})
	dispatcher := newDispatcher(t, Config{OutputRoot: tr.output, DeleteAfterEncrypt: true}, encryptor, remover)

	outcome := dispatcher.Dispatch(context.Background(), tr.entry(t, "keep.txt", File))
	if outcome.Status != Failed || !errors.Is(outcome.Err, cause) {
		t.Fatalf("outcome = %v / %v, want failed with the encryption error", outcome.Status, outcome.Err)
	}
	if removerCalled {
		t.Error("remover called after a failed encryption")
	}
	got, err := os.ReadFile(filepath.Join(tr.input, "keep.txt"))
	if err != nil || !bytes.Equal(got, content) {
		t.Errorf("original changed after failed encryption (err %v)", err)
	}
}

type removerFunc func(context.Context, string) error

func (f removerFunc) Remove(ctx context.Context, path string) error { return f(ctx, path) }

func TestDispatchDeleteAfterEncrypt(t *testing.T) {
	tr := newTrees(t)
	testutil.WriteFile(t, filepath.Join(tr.input, "b", "c.txt"), 10)
	dispatcher := newDispatcher(t,
		Config{OutputRoot: tr.output, DeleteAfterEncrypt: true},
		&fakeEncryptor{}, FileRemover{InputRoot: tr.input})

	outcome := dispatcher.Dispatch(context.Background(), tr.entry(t, "b/c.txt", File))
	if outcome.Status != Encrypted || !outcome.Deleted || outcome.DeleteErr != nil {
		t.Fatalf("outcome = %+v, want encrypted and deleted", outcome)
	}
	if _, err := os.Stat(filepath.Join(tr.input, "b", "c.txt")); !os.IsNotExist(err) {
		t.Errorf("original still present after delete-after-encrypt (stat err %v)", err)
	}
	if _, err := os.Stat(filepath.Join(tr.output, "b", "c.txt.age")); err != nil {
		t.Errorf("artifact missing: %v", err)
	}
}

func TestDispatchDeleteFailureStaysEncrypted(t *testing.T) {
	tr := newTrees(t)
	testutil.WriteFile(t, filepath.Join(tr.input, "locked.txt"), 10)
	cause := errors.New("permission denied")
	dispatcher := newDispatcher(t,
		Config{OutputRoot: tr.output, DeleteAfterEncrypt: true},
		&fakeEncryptor{}, failingRemover{err: cause})

	outcome := dispatcher.Dispatch(context.Background(), tr.entry(t, "locked.txt", File))
	if outcome.Status != Encrypted {
		t.Fatalf("Status = %v, want encrypted despite the removal failure", outcome.Status)
	}
	if outcome.Deleted || !errors.Is(outcome.DeleteErr, cause) {
		t.Errorf("Deleted = %v DeleteErr = %v, want false and the removal error", outcome.Deleted, outcome.DeleteErr)
	}
}

// writingEncryptor runs write against the source after the artifact
// has been produced, as a writer that resumed mid-encryption would.
type writingEncryptor struct {
	fakeEncryptor
	write func(sourcePath string) error
}

func (w *writingEncryptor) EncryptFile(ctx context.Context, sourcePath, outputDir string) (seal.Result, error) {
	result, err := w.fakeEncryptor.EncryptFile(ctx, sourcePath, outputDir)
	if err != nil {
		return result, err
	}
	return result, w.write(sourcePath)
}

func (w *writingEncryptor) EncryptDirectory(ctx context.Context, sourcePath, outputDir string) (seal.Result, error) {
	result, err := w.fakeEncryptor.EncryptDirectory(ctx, sourcePath, outputDir)
	if err != nil {
		return result, err
	}
	return result, w.write(sourcePath)
}

func TestDispatchKeepsFileWrittenDuringEncryption(t *testing.T) {
	tr := newTrees(t)
	path := filepath.Join(tr.input, "growing.log")
	testutil.WriteFile(t, path, 64)
	encryptor := &writingEncryptor{write: func(sourcePath string) error {
		file, err := os.OpenFile(sourcePath, os.O_WRONLY|os.O_APPEND, 0)
		if err != nil {
			return err
		}
		_, writeErr := file.WriteString("late bytes")
		return errors.Join(writeErr, file.Close())
	}}
	dispatcher := newDispatcher(t,
		Config{OutputRoot: tr.output, DeleteAfterEncrypt: true},
		encryptor, FileRemover{InputRoot: tr.input})

	outcome := dispatcher.Dispatch(context.Background(), tr.entry(t, "growing.log", File))
	if outcome.Status != Encrypted {
		t.Fatalf("Status = %v (err %v), want encrypted", outcome.Status, outcome.Err)
	}
	if outcome.Deleted || !errors.Is(outcome.DeleteErr, ErrChangedDuringEncryption) {
		t.Errorf("Deleted = %v DeleteErr = %v, want false and ErrChangedDuringEncryption", outcome.Deleted, outcome.DeleteErr)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("original removed although it changed during encryption: %v", err)
	}
	if info.Size() != 64+int64(len("late bytes")) {
		t.Errorf("original size = %d, want the appended version", info.Size())
	}

	// The next pass sees a quiet file and removes it.
	encryptor.write = func(string) error { return nil }
	outcome = dispatcher.Dispatch(context.Background(), tr.entry(t, "growing.log", File))
	if !outcome.Deleted || outcome.DeleteErr != nil {
		t.Errorf("second pass Deleted = %v DeleteErr = %v, want the original removed", outcome.Deleted, outcome.DeleteErr)
	}
}

func TestDispatchKeepsDirectoryWrittenDuringArchiving(t *testing.T) {
	tr := newTrees(t)
	testutil.WriteFile(t, filepath.Join(tr.input, "batch", "one.txt"), 10)
	late := filepath.Join(tr.input, "batch", "late.txt")
	encryptor := &writingEncryptor{write: func(string) error {
		return os.WriteFile(late, []byte("not archived"), 0o644)
	}}
	dispatcher := newDispatcher(t,
		Config{OutputRoot: tr.output, DeleteAfterEncrypt: true},
		encryptor, FileRemover{InputRoot: tr.input})

	outcome := dispatcher.Dispatch(context.Background(), tr.entry(t, "batch", Directory))
	if outcome.Status != Encrypted {
		t.Fatalf("Status = %v (err %v), want encrypted", outcome.Status, outcome.Err)
	}
	if outcome.Deleted || !errors.Is(outcome.DeleteErr, ErrChangedDuringEncryption) {
		t.Errorf("Deleted = %v DeleteErr = %v, want false and ErrChangedDuringEncryption", outcome.Deleted, outcome.DeleteErr)
	}
	if _, err := os.Stat(late); err != nil {
		t.Errorf("file added during archiving was removed: %v", err)
	}
}

func TestDispatchSkips(t *testing.T) {
	tr := newTrees(t)
	testutil.WriteFile(t, filepath.Join(tr.input, "big.bin"), 2000)
	testutil.WriteFile(t, filepath.Join(tr.input, "target.txt"), 1)
	if err := os.Symlink("target.txt", filepath.Join(tr.input, "link.txt")); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(tr.input, "dir"), 0o755); err != nil {
		t.Fatal(err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name     string
		ctx      context.Context
		relative string
		kind     Kind
		reason   string
	}{
		{"too large", context.Background(), "big.bin", File, ReasonTooLarge},
		{"vanished", context.Background(), "missing.txt", File, ReasonVanished},
		{"symlink", context.Background(), "link.txt", File, ReasonUnsupported},
		{"directory as file", context.Background(), "dir", File, ReasonUnsupported},
		{"file as directory", context.Background(), "target.txt", Directory, ReasonUnsupported},
		{"cancelled", cancelled, "target.txt", File, ReasonCancelled},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			encryptor := &fakeEncryptor{}
			dispatcher := newDispatcher(t, Config{OutputRoot: tr.output, MaxFileSize: 1024}, encryptor, nil)
			outcome := dispatcher.Dispatch(test.ctx, tr.entry(t, test.relative, test.kind))
			if outcome.Status != Skipped || outcome.Reason != test.reason {
				t.Fatalf("outcome = %v/%q, want skipped/%q", outcome.Status, outcome.Reason, test.reason)
			}
			if encryptor.callCount() != 0 {
				t.Errorf("encryptor called %d times for a skipped entry", encryptor.callCount())
			}
		})
	}
}

func TestDispatchDirectory(t *testing.T) {
	tr := newTrees(t)
	testutil.WriteFile(t, filepath.Join(tr.input, "batch", "one.txt"), 10)
	encryptor := &fakeEncryptor{}
	dispatcher := newDispatcher(t,
		Config{OutputRoot: tr.output, DeleteAfterEncrypt: true},
		encryptor, FileRemover{InputRoot: tr.input})

	outcome := dispatcher.Dispatch(context.Background(), tr.entry(t, "batch", Directory))
	if outcome.Status != Encrypted || !outcome.Deleted {
		t.Fatalf("outcome = %+v, want encrypted and deleted", outcome)
	}
	if want := filepath.Join(tr.output, "batch.tar.age"); outcome.Artifact != want {
		t.Errorf("Artifact = %q, want %q", outcome.Artifact, want)
	}
	if _, err := os.Stat(filepath.Join(tr.input, "batch")); !os.IsNotExist(err) {
		t.Errorf("directory still present after delete-after-encrypt")
	}
}

func TestFileRemoverBackup(t *testing.T) {
	tr := newTrees(t)
	backupRoot := filepath.Join(filepath.Dir(tr.input), "backup")
	fileContent := testutil.WriteFile(t, filepath.Join(tr.input, "a", "report.csv"), 300)
	treeContent := testutil.WriteFile(t, filepath.Join(tr.input, "batch", "nested", "b.txt"), 40)
	remover := FileRemover{InputRoot: tr.input, BackupRoot: backupRoot}

	for _, relative := range []string{"a/report.csv", "batch"} {
		if err := remover.Remove(context.Background(), filepath.Join(tr.input, relative)); err != nil {
			t.Fatalf("Remove(%s): %v", relative, err)
		}
		if _, err := os.Stat(filepath.Join(tr.input, relative)); !os.IsNotExist(err) {
			t.Errorf("%s still present after Remove", relative)
		}
	}

	backups := map[string][]byte{}
	backups[filepath.Join(backupRoot, "a", "report.csv")] = fileContent
	backups[filepath.Join(backupRoot, "batch", "nested", "b.txt")] = treeContent
	for path, want := range backups {
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("reading backup: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("backup %s differs from the original", path)
		}
	}

	if err := remover.Remove(context.Background(), filepath.Join(tr.input, "never-existed")); err != nil {
		t.Errorf("Remove of a missing path = %v, want nil", err)
	}
}

func TestFileRemoverBackupFailureKeepsOriginal(t *testing.T) {
	tr := newTrees(t)
	testutil.WriteFile(t, filepath.Join(tr.input, "x.txt"), 10)
	// The backup root is a regular file, so the copy cannot be made.
	blocked := filepath.Join(filepath.Dir(tr.input), "blocked")
	testutil.WriteFile(t, blocked, 1)

	remover := FileRemover{InputRoot: tr.input, BackupRoot: blocked}
	if err := remover.Remove(context.Background(), filepath.Join(tr.input, "x.txt")); err == nil {
		t.Fatal("Remove succeeded although the backup could not be written")
	}
	if _, err := os.Stat(filepath.Join(tr.input, "x.txt")); err != nil {
		t.Errorf("original removed after a failed backup: %v", err)
	}
}
