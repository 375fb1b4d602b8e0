// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch turns one stable entry into an encrypted artifact.
//
// [Dispatcher.Dispatch] mirrors the entry's relative location under the
// output root, hands the file or directory to an [Encryptor], and on
// success optionally removes the original through a [Remover]. The
// result is an [Outcome]: Encrypted, Skipped with a reason, or Failed
// with the encryption error. A failed encryption never touches the
// original; a failed removal is logged and recorded on the outcome but
// leaves the status Encrypted. An original that changed while it was
// being encrypted is kept and reported with [ErrChangedDuringEncryption].
//
// The dispatcher is stateless, so dispatching the same entry twice is
// harmless: the second artifact replaces the first atomically.
//
// [RetryingEncryptor] is an opt-in decorator that retries transient
// encryption failures with exponential backoff on an injected clock.
package dispatch
