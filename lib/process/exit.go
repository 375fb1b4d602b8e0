// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Exit statuses.
const (
	ExitFailure = 1

	// ExitUsage is used for bad flags and arguments.
	ExitUsage = 2
)

// UsageError marks an error caused by how the binary was invoked.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

// Usagef returns a *UsageError with a formatted message.
func Usagef(format string, args ...any) error {
	return &UsageError{Err: fmt.Errorf(format, args...)}
}

// ExitCode returns the exit status for an error returned by run():
// 0 for nil, ExitUsage for a *UsageError, ExitFailure otherwise.
func ExitCode(err error) int {
	var usage *UsageError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &usage):
		return ExitUsage
	default:
		return ExitFailure
	}
}

// Report writes "error: err" to w.
func Report(w io.Writer, err error) {
	fmt.Fprintf(w, "error: %v\n", err)
}

// Fatal writes "error: err" to stderr and exits with ExitCode(err).
// Use it in main() for errors from run(), where the structured logger
// may not be initialized.
func Fatal(err error) {
	Report(os.Stderr, err)
	os.Exit(ExitCode(err))
}

// Exit ends the process: silently with status 0 when err is nil,
// otherwise through Fatal.
func Exit(err error) {
	if err == nil {
		os.Exit(0)
	}
	Fatal(err)
}
