// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/bureau-foundation/sealdrop/lib/codec"
	"github.com/bureau-foundation/sealdrop/lib/report"
)

// ErrTruncated is returned by Read when the file ends partway through a
// record, typically because the process died mid-write. Records before
// the truncation have already been delivered. The next Open cuts the
// partial record off.
var ErrTruncated = errors.New("ledger ends with a truncated record")

// Writer appends records to a ledger file. It implements report.Sink.
type Writer struct {
	logger *slog.Logger

	mu      sync.Mutex
	file    *os.File
	encoder *codec.Encoder
}

// Open opens (creating if needed) the ledger at path for appending.
// A record left half-written by a crash is cut off first, so new
// records follow the last complete one. Any other damage fails Open
// rather than burying new records behind unreadable bytes.
func Open(path string, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	if err := repairTail(file, logger); err != nil {
		file.Close()
		return nil, err
	}
	return &Writer{
		logger:  logger,
		file:    file,
		encoder: codec.NewEncoder(file),
	}, nil
}

// repairTail truncates file after its last complete record if it ends
// partway through one.
func repairTail(file *os.File, logger *slog.Logger) error {
	decoder := codec.NewDecoder(bufio.NewReader(file))
	for {
		err := decoder.Skip()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("ledger %s is damaged after byte %d: %w", file.Name(), decoder.NumBytesRead(), err)
		}
	}

	complete := int64(decoder.NumBytesRead())
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("inspecting ledger: %w", err)
	}
	if err := file.Truncate(complete); err != nil {
		return fmt.Errorf("truncating torn ledger record: %w", err)
	}
	logger.Warn("dropped truncated record at end of ledger",
		"ledger", file.Name(),
		"offset", complete,
		"bytes", info.Size()-complete,
	)
	return nil
}

// Record appends one record. Write failures are logged; a ledger
// problem never stops the pipeline.
func (w *Writer) Record(ctx context.Context, record report.Record) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		w.logger.Warn("ledger closed, dropping record", "path", record.Path)
		return
	}
	if err := w.encoder.Encode(record); err != nil {
		w.logger.Error("appending to ledger", "ledger", w.file.Name(), "path", record.Path, "error", err)
	}
}

// Close syncs and closes the file. Later Records are dropped.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	file := w.file
	w.file = nil
	syncErr := file.Sync()
	closeErr := file.Close()
	return errors.Join(syncErr, closeErr)
}

// Read calls visit for each record in the ledger at path, oldest
// first. Stops at the first error visit returns.
func Read(path string, visit func(report.Record) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer file.Close()
	return Decode(file, visit)
}

// Decode reads a CBOR record sequence from r.
func Decode(r io.Reader, visit func(report.Record) error) error {
	decoder := codec.NewDecoder(bufio.NewReader(r))
	for index := 0; ; index++ {
		var record report.Record
		err := decoder.Decode(&record)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("record %d: %w", index, ErrTruncated)
		}
		if err != nil {
			return fmt.Errorf("decoding record %d: %w", index, err)
		}
		if err := visit(record); err != nil {
			return err
		}
	}
}
