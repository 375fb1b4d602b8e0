// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package report

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bureau-foundation/sealdrop/lib/dispatch"
)

// Record is the report for one handled path. It is serialized as CBOR
// in the ledger and as JSON by `sealdrop ledger --json`, so it carries
// json tags only (see lib/codec).
type Record struct {
	// PassID correlates the log lines of one handling pass.
	PassID string `json:"pass_id"`

	// Time is when handling concluded.
	Time time.Time `json:"time"`

	// Duration covers filtering, the stability wait and dispatch.
	Duration time.Duration `json:"duration_ns"`

	Path         string `json:"path"`
	RelativePath string `json:"relative_path"`
	Kind         string `json:"kind"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`

	// Detail is the error text for failed outcomes and error-derived
	// skips.
	Detail string `json:"detail,omitempty"`

	Artifact string `json:"artifact,omitempty"`
	Digest   string `json:"digest,omitempty"`
	Bytes    int64  `json:"bytes,omitempty"`

	Deleted     bool   `json:"deleted,omitempty"`
	DeleteError string `json:"delete_error,omitempty"`
}

// FromOutcome builds the Record for a dispatch outcome.
func FromOutcome(passID string, at time.Time, elapsed time.Duration, outcome dispatch.Outcome) Record {
	record := Record{
		PassID:       passID,
		Time:         at,
		Duration:     elapsed,
		Path:         outcome.Entry.Path,
		RelativePath: outcome.Entry.RelativePath,
		Kind:         outcome.Entry.Kind.String(),
		Status:       outcome.Status.String(),
		Reason:       outcome.Reason,
		Artifact:     outcome.Artifact,
		Digest:       outcome.Digest.String(),
		Bytes:        outcome.Bytes,
		Deleted:      outcome.Deleted,
	}
	if outcome.Err != nil {
		record.Detail = outcome.Err.Error()
	}
	if outcome.DeleteErr != nil {
		record.DeleteError = outcome.DeleteErr.Error()
	}
	return record
}

// Sink receives one Record per handled path. Implementations must be
// safe for concurrent use and must not block for long: they are called
// from the handling goroutines.
type Sink interface {
	Record(ctx context.Context, record Record)
}

// Multi fans a record out to several sinks in order.
type Multi []Sink

func (m Multi) Record(ctx context.Context, record Record) {
	for _, sink := range m {
		sink.Record(ctx, record)
	}
}

// LogSink writes records as structured log lines. Filter rejections
// log at debug, other skips and successes at info, failures at error.
// A failed removal after a successful encryption logs at warn here; the
// dispatcher has already logged it at error.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Record(ctx context.Context, record Record) {
	attributes := []any{
		"pass_id", record.PassID,
		"path", record.Path,
		"status", record.Status,
		"duration", record.Duration.String(),
	}
	level := slog.LevelInfo
	message := "handled path"

	switch record.Status {
	case dispatch.Encrypted.String():
		message = "encrypted"
		attributes = append(attributes,
			"artifact", record.Artifact,
			"bytes", record.Bytes,
			"size", humanize.IBytes(uint64(max(record.Bytes, 0))),
			"digest", record.Digest,
			"deleted", record.Deleted,
		)
		if record.DeleteError != "" {
			level = slog.LevelWarn
			attributes = append(attributes, "delete_error", record.DeleteError)
		}
	case dispatch.Skipped.String():
		message = "skipped"
		if record.Reason == dispatch.ReasonFiltered {
			level = slog.LevelDebug
		}
		attributes = append(attributes, "reason", record.Reason)
		if record.Detail != "" {
			attributes = append(attributes, "detail", record.Detail)
		}
	case dispatch.Failed.String():
		message = "encryption failed"
		level = slog.LevelError
		attributes = append(attributes, "error", record.Detail)
	}

	s.Logger.Log(ctx, level, message, attributes...)
}
