// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package atomicfile writes files so that readers see either the old
// content or the complete new content, never a partial write.
//
// [Write] fills a temporary file in the destination directory, fsyncs
// it, renames it into place and fsyncs the parent directory. Artifacts,
// decrypted output, backup copies and the PID file all go through it.
//
// This package has no dependencies on other sealdrop packages.
package atomicfile
