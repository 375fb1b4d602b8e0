// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helpers for the sealdrop binary:
// reporting an error from run() to stderr before the structured logger
// exists (or after it has been torn down) and exiting with the right
// status.
//
// cmd/sealdrop funnels every exit through [Fatal] or [Exit]. No other
// package writes to stderr directly or calls os.Exit.
package process
