// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"fmt"

	"github.com/bureau-foundation/sealdrop/lib/seal"
)

// Status is the result class of handling one entry.
type Status int

const (
	// Encrypted means an artifact was written. Deletion of the
	// original, if configured, may still have failed; see
	// Outcome.DeleteErr.
	Encrypted Status = iota

	// Skipped means processing stopped before an artifact was
	// produced, for a reason that is not a fault (see Reason).
	Skipped

	// Failed means encryption was attempted and failed. The original
	// is untouched.
	Failed
)

func (s Status) String() string {
	switch s {
	case Encrypted:
		return "encrypted"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Skip reasons.
const (
	ReasonFiltered    = "filtered"
	ReasonVanished    = "vanished"
	ReasonTooLarge    = "too_large"
	ReasonUnsupported = "unsupported"
	ReasonCancelled   = "cancelled"
	ReasonStatError   = "stat_error"
)

// Outcome is the result of one dispatch.
type Outcome struct {
	Entry  Entry
	Status Status

	// Reason is set for Skipped outcomes.
	Reason string

	// Err is the cause for Failed outcomes, and for Skipped outcomes
	// whose reason came from an error (stat_error, cancelled).
	Err error

	// Artifact, Bytes and Digest describe the written artifact for
	// Encrypted outcomes.
	Artifact string
	Bytes    int64
	Digest   seal.Digest

	// Deleted reports that the original was removed after encryption.
	Deleted bool

	// DeleteErr is the removal (or backup) failure when
	// delete-after-encrypt was configured and did not succeed.
	DeleteErr error
}

func failed(entry Entry, err error) Outcome {
	return Outcome{Entry: entry, Status: Failed, Err: err}
}

// Skip builds a Skipped outcome. Used by callers that reject an entry
// before it reaches the dispatcher (filter, stability).
func Skip(entry Entry, reason string, err error) Outcome {
	return Outcome{Entry: entry, Status: Skipped, Reason: reason, Err: err}
}
