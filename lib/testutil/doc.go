// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for sealdrop packages.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so tests that wait on goroutines never hang the suite.
// Timing under test goes through a fake clock wherever the code takes
// one; only end-to-end pipeline tests poll on the wall clock.
//
// [WriteFile] and [AppendFile] build input trees under t.TempDir().
//
// All helpers call t.Fatalf on failure.
package testutil
