// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package report defines the per-path outcome record and the sinks
// that receive it: structured logging ([LogSink]), the CBOR ledger
// (lib/ledger), or several at once ([Multi]).
package report
