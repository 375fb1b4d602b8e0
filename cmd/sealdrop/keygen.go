// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/bureau-foundation/sealdrop/lib/process"
	"github.com/bureau-foundation/sealdrop/lib/seal"
)

func runKeygen(args []string, stdout, stderr io.Writer) error {
	flagSet := newFlagSet("keygen", "[-o FILE]", stderr)
	var output string
	flagSet.StringVarP(&output, "output", "o", "", "write the identity to FILE (created 0600, never overwritten)")
	if err := parseFlags(flagSet, args); err != nil {
		return err
	}
	if flagSet.NArg() > 0 {
		return process.Usagef("unexpected argument: %s", flagSet.Arg(0))
	}

	identity, err := seal.GenerateIdentity()
	if err != nil {
		return err
	}
	contents := identity.File(time.Now())

	if output == "" {
		if _, err := stdout.Write(contents); err != nil {
			return err
		}
		// The public key is in the file's header; repeat it on stderr
		// when that header is not on screen.
		if !isTerminal(stdout) {
			fmt.Fprintf(stderr, "Public key: %s\n", identity.Recipient)
		}
		return nil
	}

	file, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%s already exists; refusing to overwrite an identity", output)
	}
	if err != nil {
		return fmt.Errorf("creating identity file: %w", err)
	}
	_, writeErr := file.Write(contents)
	if err := errors.Join(writeErr, file.Close()); err != nil {
		os.Remove(output)
		return fmt.Errorf("writing identity file: %w", err)
	}
	fmt.Fprintf(stderr, "Public key: %s\n", identity.Recipient)
	return nil
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}
