// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package coordinator runs the sealdrop pipeline.
//
// A [Coordinator] owns the lifecycle (Idle, Watching, Stopped), the
// intake goroutine that drains the event source's bounded channel, and
// one goroutine per in-flight path. Each path goes through the same
// steps whether it came from a live event or the startup sweep:
//
//  1. path filter (rejections are reported as skipped/filtered)
//  2. stability wait, with no lock held
//  3. dispatch, bounded by a weighted semaphore of Workers slots
//  4. one report.Record to the configured sink
//
// Events for a path that is already in flight do not start a second
// handler. They set a re-run mark that is cleared when the current
// pass's stabilization concludes: events during the wait are absorbed,
// and events during dispatch cause exactly one more pass. A file that
// keeps growing is therefore dispatched once, after it stops.
//
// In archive mode every event below a top-level directory of the input
// root is mapped to that directory, which is stabilized and dispatched
// as a whole.
//
// Stop stops the source and lets intake drain, so every event delivered
// before the stop gets a handler. It then cancels in-flight waits and
// dispatches and waits for all handlers; interrupted passes are
// reported as skipped/cancelled.
package coordinator
