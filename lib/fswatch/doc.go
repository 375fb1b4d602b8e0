// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fswatch watches a directory tree with inotify and reports
// entries that appear or change.
//
// A [Watcher] installs a watch on the root and on every non-hidden
// subdirectory, and adds watches for directories created later. When a
// new directory appears its existing contents are reported as Create
// events, so files written between the directory's creation and the
// watch install are not missed. If the kernel event queue overflows,
// the whole tree is re-swept and every entry reported as Modify.
//
// Delivery goes through a bounded channel. A slow consumer blocks the
// read loop rather than dropping events; the kernel's own queue absorbs
// bursts until it overflows, at which point the re-sweep recovers.
//
// Linux only.
package fswatch
