// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bureau-foundation/sealdrop/lib/atomicfile"
)

// writePIDFile writes pid to path atomically, so a reader never sees a
// partial number.
func writePIDFile(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating pid file directory: %w", err)
	}
	if err := atomicfile.WriteBytes(path, 0o644, []byte(strconv.Itoa(pid)+"\n")); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	return nil
}

// removePIDFile removes path if it still holds pid. A file rewritten by
// another instance is left alone.
func removePIDFile(path string, pid int) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading pid file: %w", err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(pid) {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing pid file: %w", err)
	}
	return nil
}
