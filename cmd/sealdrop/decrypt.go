// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/bureau-foundation/sealdrop/lib/process"
	"github.com/bureau-foundation/sealdrop/lib/seal"
)

func runDecrypt(args []string, stdout, stderr io.Writer) error {
	flagSet := newFlagSet("decrypt", "-i FILE [-o FILE] ARTIFACT", stderr)
	var identityPath, output string
	var force bool
	flagSet.StringVarP(&identityPath, "identity", "i", "", "age identity file or OpenSSH private key (required)")
	flagSet.StringVarP(&output, "output", "o", "", "plaintext destination (default: ARTIFACT without its suffix)")
	flagSet.BoolVar(&force, "force", false, "replace an existing destination")
	suffix := flagSet.String("suffix", seal.DefaultArtifactSuffix, "artifact suffix stripped to derive the default destination")
	if err := parseFlags(flagSet, args); err != nil {
		return err
	}
	if identityPath == "" {
		return process.Usagef("--identity is required")
	}
	if flagSet.NArg() != 1 {
		return process.Usagef("expected exactly one artifact, got %d arguments", flagSet.NArg())
	}
	artifact := flagSet.Arg(0)

	if output == "" {
		if !strings.HasSuffix(artifact, *suffix) || artifact == *suffix {
			return process.Usagef("%s does not end in %s; pass --output", artifact, *suffix)
		}
		output = strings.TrimSuffix(artifact, *suffix)
	}
	if !force {
		if _, err := os.Lstat(output); err == nil {
			return fmt.Errorf("%s already exists; pass --force to replace it", output)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	identities, err := seal.ReadIdentitiesFile(identityPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	written, err := seal.DecryptFile(ctx, identities, artifact, output)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s -> %s (%s)\n", artifact, output, humanize.IBytes(uint64(written)))
	return nil
}
