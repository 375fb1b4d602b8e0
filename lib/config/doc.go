// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for sealdrop.
//
// Configuration is loaded from a single file specified by either the
// SEALDROP_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. Environment variables never override
// values; the only expansion is ${VAR} and ${VAR:-default} inside path
// and recipient fields.
//
// The file is YAML. Files named *.json or *.jsonc are accepted too and
// may carry comments and trailing commas. Unknown keys are rejected so
// typos fail loudly. Durations are strings ("3s", "250ms").
//
// [LoadFile] validates before returning. Validation collects every
// problem into one joined error: missing or overlapping roots, a
// staging, backup or ledger path inside the input root, no recipients,
// non-positive timings or limits, and unknown enum values.
//
// Key exports:
//
//   - [Config] -- the whole file, one struct per section
//   - [Default] -- every optional field at its default
//   - [Load] and [LoadFile] -- the two entry points for loading
package config
