// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// sealdrop watches a directory tree and encrypts every file that lands
// in it with age, once the file has stopped changing. Ciphertext goes to
// a mirrored output tree; originals are optionally deleted.
//
// Subcommands:
//
//	sealdrop [watch] [--config FILE]     run the pipeline until SIGINT/SIGTERM
//	sealdrop keygen [-o FILE]            generate an age X25519 identity
//	sealdrop decrypt -i FILE ARTIFACT    decrypt one artifact
//	sealdrop ledger [--json] [FILE]      print the outcome ledger
//	sealdrop version                     print build information
//
// The configuration file is named by --config or SEALDROP_CONFIG; see
// lib/config for the keys. Logs are structured (JSON by default) on
// stderr.
package main
