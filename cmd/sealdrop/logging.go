// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/bureau-foundation/sealdrop/lib/config"
)

// newLogger builds the process logger from the logging section. This is
// the only place a slog handler is constructed; library packages get
// the logger passed in.
func newLogger(logging config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	level, err := logging.SlogLevel()
	if err != nil {
		return nil, err
	}
	options := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch logging.Format {
	case "", "json":
		handler = slog.NewJSONHandler(w, options)
	case "text":
		handler = slog.NewTextHandler(w, options)
	default:
		return nil, fmt.Errorf("unknown log format %q", logging.Format)
	}
	return slog.New(handler), nil
}
