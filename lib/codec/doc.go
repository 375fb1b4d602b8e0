// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides sealdrop's standard CBOR encoding
// configuration.
//
// sealdrop uses CBOR for the outcome ledger, an append-only CBOR
// sequence (RFC 8742) on disk, and JSON for CLI output. The encoder
// uses Core Deterministic Encoding (RFC 8949 §4.2), so the same record
// always produces identical bytes.
//
//	encoder := codec.NewEncoder(file)
//	err := encoder.Encode(record)
//
// # Struct Tag Rules
//
// A `cbor` tag marks a type that is only ever CBOR. A `json` tag marks
// a type that is serialized as both: fxamacker/cbor reads `json` tags
// when `cbor` tags are absent, so one tag governs field names for the
// ledger file and for `sealdrop ledger --json`. Never put both tags on
// the same field.
package codec
