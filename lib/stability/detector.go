// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stability

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/sealdrop/lib/clock"
)

// Detector waits for entries to stop changing. It is safe to call
// WaitUntilStable from many goroutines at once; each call owns its own
// [Tracker].
type Detector struct {
	window   time.Duration
	interval time.Duration
	clock    clock.Clock
	measure  func(path string) (Measure, error)
}

// New returns a Detector that reports an entry stable once its measure
// has held for window, sampling every interval.
func New(window, interval time.Duration, clk clock.Clock) *Detector {
	return &Detector{
		window:   window,
		interval: interval,
		clock:    clk,
		measure:  MeasurePath,
	}
}

// WaitUntilStable samples path immediately and then once per poll
// interval until one of:
//
//   - the measure has been unchanged for the window: (true, nil)
//   - the entry no longer exists: (false, nil)
//   - ctx is done: (false, ctx.Err())
//   - the entry cannot be measured for any other reason: (false, err)
//
// There is no overall timeout. A file that keeps growing keeps the
// caller waiting; wrap ctx to bound it.
func (d *Detector) WaitUntilStable(ctx context.Context, path string) (bool, error) {
	tracker := NewTracker(d.window)
	for {
		measure, err := d.measure(path)
		exists := true
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return false, fmt.Errorf("measuring %s: %w", path, err)
			}
			exists = false
		}

		switch tracker.Observe(measure, exists, d.clock.Now()) {
		case Stable:
			return true, nil
		case Vanished:
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-d.clock.After(d.interval):
		}
	}
}

// MeasurePath returns the measure of the entry at path. Symlinks are
// not followed. Entries below a directory that disappear mid-walk are
// ignored; the next poll sees the new shape.
func MeasurePath(path string) (Measure, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return Measure{}, err
	}
	if !info.IsDir() {
		return Measure{Bytes: info.Size()}, nil
	}

	var measure Measure
	err = filepath.WalkDir(path, func(current string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if current == path {
				return walkErr
			}
			if errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if current == path {
			return nil
		}
		measure.Entries++
		if entry.Type().IsRegular() {
			entryInfo, err := entry.Info()
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			measure.Bytes += entryInfo.Size()
		}
		return nil
	})
	return measure, err
}
