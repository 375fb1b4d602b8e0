// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stability

import (
	"fmt"
	"time"
)

// Phase is the state of one in-flight stabilization wait.
type Phase int

const (
	// Growing means the entry has not yet held the same measure for a
	// full window.
	Growing Phase = iota

	// Stable means the measure has been unchanged for at least the
	// window. Terminal.
	Stable

	// Vanished means the entry disappeared before it became stable.
	// Terminal.
	Vanished
)

// String returns the phase name used in log records.
func (phase Phase) String() string {
	switch phase {
	case Growing:
		return "growing"
	case Stable:
		return "stable"
	case Vanished:
		return "vanished"
	default:
		return fmt.Sprintf("phase(%d)", int(phase))
	}
}

// Measure is what the detector compares between polls. For a regular
// file Entries is zero and Bytes is the file size. For a directory
// Bytes is the total size of its regular files and Entries counts
// everything below it, so creating an empty file still counts as
// change.
type Measure struct {
	Bytes   int64
	Entries int64
}

// Tracker is the per-path state machine behind [Detector]. It holds
// the last observed measure and when that measure was first seen. It
// contains no timers; the caller feeds it observations.
type Tracker struct {
	window         time.Duration
	phase          Phase
	observed       bool
	last           Measure
	unchangedSince time.Time
}

// NewTracker returns a tracker in the Growing phase.
func NewTracker(window time.Duration) *Tracker {
	return &Tracker{window: window}
}

// Phase returns the current phase.
func (t *Tracker) Phase() Phase { return t.phase }

// Last returns the most recent measure.
func (t *Tracker) Last() Measure { return t.last }

// UnchangedSince returns when the current measure was first observed.
func (t *Tracker) UnchangedSince() time.Time { return t.unchangedSince }

// Observe records one sample taken at now and returns the resulting
// phase. exists=false moves the tracker to Vanished no matter how long
// the entry had been stable. Observations after a terminal phase are
// ignored.
func (t *Tracker) Observe(measure Measure, exists bool, now time.Time) Phase {
	if t.phase != Growing {
		return t.phase
	}
	if !exists {
		t.phase = Vanished
		return t.phase
	}
	if !t.observed || measure != t.last {
		t.observed = true
		t.last = measure
		t.unchangedSince = now
		// A zero window means the first sample is already stable.
		if t.window > 0 {
			return t.phase
		}
	}
	if now.Sub(t.unchangedSince) >= t.window {
		t.phase = Stable
	}
	return t.phase
}
