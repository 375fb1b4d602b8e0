// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ledger keeps an append-only audit trail of handled paths.
//
// The ledger file is a CBOR sequence (RFC 8742) of [report.Record]
// values encoded with lib/codec. It records completed outcomes only. It
// is not a work queue and is never replayed: after a restart the
// startup sweep rediscovers anything still waiting in the input tree.
//
// [Writer] is a report.Sink; [Read] and [Decode] serve `sealdrop
// ledger`.
package ledger
