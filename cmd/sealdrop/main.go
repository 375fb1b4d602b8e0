// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/sealdrop/lib/process"
	"github.com/bureau-foundation/sealdrop/lib/version"
)

func main() {
	process.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// errHelp is returned by parseFlags after usage has been printed for
// -h/--help. run treats it as success.
var errHelp = errors.New("help requested")

type subcommand struct {
	name    string
	summary string
	run     func(args []string, stdout, stderr io.Writer) error
}

var subcommands = []subcommand{
	{"watch", "watch the input root and encrypt stable files (default)", runWatch},
	{"keygen", "generate an age X25519 identity", runKeygen},
	{"decrypt", "decrypt one artifact", runDecrypt},
	{"ledger", "print the outcome ledger", runLedger},
	{"version", "print build information", runVersion},
}

func run(args []string, stdout, stderr io.Writer) error {
	err := dispatchSubcommand(args, stdout, stderr)
	if errors.Is(err, errHelp) {
		return nil
	}
	return err
}

func dispatchSubcommand(args []string, stdout, stderr io.Writer) error {
	// No subcommand (or only flags) means watch.
	if len(args) == 0 || (strings.HasPrefix(args[0], "-") && args[0] != "-h" && args[0] != "--help" && args[0] != "--version") {
		return runWatch(args, stdout, stderr)
	}
	switch args[0] {
	case "-h", "--help", "help":
		printUsage(stdout)
		return nil
	case "--version":
		return runVersion(nil, stdout, stderr)
	}
	for _, command := range subcommands {
		if command.name == args[0] {
			return command.run(args[1:], stdout, stderr)
		}
	}
	printUsage(stderr)
	return process.Usagef("unknown subcommand %q", args[0])
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "sealdrop encrypts files dropped into a watched directory.\n\nUsage:\n  sealdrop <command> [flags]\n\nCommands:\n")
	for _, command := range subcommands {
		fmt.Fprintf(w, "  %-9s %s\n", command.name, command.summary)
	}
	fmt.Fprintf(w, "\nRun \"sealdrop <command> --help\" for the flags of a command.\n")
}

// newFlagSet returns a ContinueOnError flag set that prints usage to
// stderr.
func newFlagSet(name, usage string, stderr io.Writer) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("sealdrop "+name, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.Usage = func() {
		fmt.Fprintf(stderr, "Usage:\n  sealdrop %s %s\n\nFlags:\n", name, usage)
		flagSet.PrintDefaults()
	}
	return flagSet
}

// parseFlags parses args into flagSet. Parse failures become usage
// errors; -h/--help becomes errHelp.
func parseFlags(flagSet *pflag.FlagSet, args []string) error {
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return errHelp
		}
		return &process.UsageError{Err: err}
	}
	return nil
}

func runVersion(args []string, stdout, stderr io.Writer) error {
	flagSet := newFlagSet("version", "", stderr)
	if err := parseFlags(flagSet, args); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "sealdrop %s\n", version.Full())
	return nil
}
