// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package seal is sealdrop's encryption collaborator. It wraps
// filippo.io/age for the operations the pipeline needs: encrypt one
// file to a set of recipients, pack and encrypt a whole directory,
// decrypt an artifact for recovery, and generate X25519 identities.
//
// Artifacts are written atomically. Ciphertext is streamed into a
// hidden temporary file next to the final name, fsynced and renamed
// into place, so a failed or cancelled encryption never leaves a
// partial artifact at the final path, and re-encrypting the same
// source replaces the previous artifact in one step.
//
// Directories are packed into a tar stream (optionally zstd or lz4
// compressed) inside a private staging directory, encrypted through
// the file path, and the intermediate archive removed whether or not
// encryption succeeded.
//
// Every [Result] carries the BLAKE3 digest of the plaintext that went
// into the artifact, which the pipeline records in its outcome log.
//
// Key exports:
//
//   - [New] / [Sealer.EncryptFile] / [Sealer.EncryptDirectory]
//   - [ParseRecipients] / [ReadRecipientsFile] -- age1... and ssh-* keys
//   - [DecryptFile] / [ReadIdentitiesFile]
//   - [GenerateIdentity]
//   - [Pack] -- directory archives
package seal
