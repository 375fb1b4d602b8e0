// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package stability decides when a file in the input tree has finished
// being written.
//
// A single logical write produces a burst of inotify events, and the
// writer may hold the file open for minutes. Without file locks the
// only dependable signal is that the size stops moving, so
// [Detector.WaitUntilStable] polls the size and reports stable once it
// has held for a full window. A file that disappears mid-wait resolves
// immediately to "not stable" rather than an error.
//
// The decision logic is a small explicit state machine, [Tracker], with
// phases Growing, Stable and Vanished. The detector only feeds it
// samples on a [clock.Clock] timer, which lets tests drive it with a
// fake clock.
package stability
