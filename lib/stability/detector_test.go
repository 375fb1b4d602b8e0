// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stability

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/sealdrop/lib/clock"
	"github.com/bureau-foundation/sealdrop/lib/testutil"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type waitResult struct {
	stable bool
	err    error
}

func startWait(ctx context.Context, detector *Detector, path string) <-chan waitResult {
	results := make(chan waitResult, 1)
	go func() {
		stable, err := detector.WaitUntilStable(ctx, path)
		results <- waitResult{stable, err}
	}()
	return results
}

// poll lets the detector park on its timer, then fires one interval.
func poll(fake *clock.FakeClock) {
	fake.WaitForTimers(1)
	fake.Advance(time.Second)
}

func TestTrackerPhases(t *testing.T) {
	tracker := NewTracker(3 * time.Second)
	size := func(n int64) Measure { return Measure{Bytes: n} }

	steps := []struct {
		at      time.Duration
		measure Measure
		exists  bool
		want    Phase
	}{
		{0, size(10), true, Growing},
		{time.Second, size(20), true, Growing},
		{2 * time.Second, size(20), true, Growing},
		{3 * time.Second, size(20), true, Growing},
		{4 * time.Second, size(20), true, Stable},
		{6 * time.Second, size(0), false, Stable}, // terminal
	}
	for _, step := range steps {
		if got := tracker.Observe(step.measure, step.exists, epoch.Add(step.at)); got != step.want {
			t.Fatalf("Observe at +%v = %v, want %v", step.at, got, step.want)
		}
	}
	if !tracker.UnchangedSince().Equal(epoch.Add(time.Second)) {
		t.Errorf("UnchangedSince = %v, want %v", tracker.UnchangedSince(), epoch.Add(time.Second))
	}
}

func TestTrackerVanishesRegardlessOfHistory(t *testing.T) {
	tracker := NewTracker(10 * time.Second)
	tracker.Observe(Measure{Bytes: 5}, true, epoch)
	tracker.Observe(Measure{Bytes: 5}, true, epoch.Add(9*time.Second))
	if got := tracker.Observe(Measure{}, false, epoch.Add(9500*time.Millisecond)); got != Vanished {
		t.Fatalf("Observe(missing) = %v, want %v", got, Vanished)
	}
}

func TestTrackerZeroWindow(t *testing.T) {
	tracker := NewTracker(0)
	if got := tracker.Observe(Measure{Bytes: 1}, true, epoch); got != Stable {
		t.Fatalf("first observation with zero window = %v, want %v", got, Stable)
	}
}

func TestPhaseString(t *testing.T) {
	for phase, want := range map[Phase]string{Growing: "growing", Stable: "stable", Vanished: "vanished", Phase(9): "phase(9)"} {
		if got := phase.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", int(phase), got, want)
		}
	}
}

func TestWaitUntilStableUnchangedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.csv")
	testutil.WriteFile(t, path, 500)

	fake := clock.Fake(epoch)
	detector := New(3*time.Second, time.Second, fake)
	results := startWait(context.Background(), detector, path)

	poll(fake)
	poll(fake)
	poll(fake)

	result := testutil.RequireReceive(t, results, 5*time.Second, "stability result")
	if !result.stable || result.err != nil {
		t.Fatalf("WaitUntilStable = (%v, %v), want (true, nil)", result.stable, result.err)
	}
	if elapsed := fake.Now().Sub(epoch); elapsed != 3*time.Second {
		t.Errorf("became stable after %v, want 3s", elapsed)
	}
}

func TestWaitUntilStableWaitsOutGrowth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "large.bin")
	testutil.WriteFile(t, path, 1024)

	fake := clock.Fake(epoch)
	detector := New(3*time.Second, time.Second, fake)
	results := startWait(context.Background(), detector, path)

	// The file grows on every poll for 40 seconds.
	for second := 1; second <= 40; second++ {
		fake.WaitForTimers(1)
		testutil.AppendFile(t, path, 4096)
		fake.Advance(time.Second)
	}

	// Two more unchanged polls are not enough; the detector must still
	// be parked on a timer after each.
	poll(fake)
	poll(fake)
	fake.WaitForTimers(1)
	select {
	case result := <-results:
		t.Fatalf("WaitUntilStable returned %+v before the window elapsed", result)
	default:
	}

	fake.Advance(time.Second)
	result := testutil.RequireReceive(t, results, 5*time.Second, "stability result")
	if !result.stable || result.err != nil {
		t.Fatalf("WaitUntilStable = (%v, %v), want (true, nil)", result.stable, result.err)
	}
	if elapsed := fake.Now().Sub(epoch); elapsed != 43*time.Second {
		t.Errorf("became stable after %v, want 43s (40s growth + 3s window)", elapsed)
	}
}

func TestWaitUntilStableVanished(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.txt")
	testutil.WriteFile(t, path, 10)

	fake := clock.Fake(epoch)
	detector := New(10*time.Second, time.Second, fake)
	results := startWait(context.Background(), detector, path)

	for i := 0; i < 9; i++ {
		poll(fake)
	}
	fake.WaitForTimers(1)
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	fake.Advance(time.Second)

	result := testutil.RequireReceive(t, results, 5*time.Second, "stability result")
	if result.stable || result.err != nil {
		t.Fatalf("WaitUntilStable = (%v, %v), want (false, nil)", result.stable, result.err)
	}
}

func TestWaitUntilStableMissingFromStart(t *testing.T) {
	fake := clock.Fake(epoch)
	detector := New(3*time.Second, time.Second, fake)

	stable, err := detector.WaitUntilStable(context.Background(), filepath.Join(t.TempDir(), "gone"))
	if stable || err != nil {
		t.Fatalf("WaitUntilStable = (%v, %v), want (false, nil)", stable, err)
	}
	if pending := fake.Pending(); pending != 0 {
		t.Errorf("Pending() = %d, want no timer for a missing entry", pending)
	}
}

func TestWaitUntilStableCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slow.bin")
	testutil.WriteFile(t, path, 10)

	fake := clock.Fake(epoch)
	detector := New(time.Hour, time.Second, fake)
	ctx, cancel := context.WithCancel(context.Background())
	results := startWait(ctx, detector, path)

	fake.WaitForTimers(1)
	cancel()

	result := testutil.RequireReceive(t, results, 5*time.Second, "stability result")
	if result.stable || !errors.Is(result.err, context.Canceled) {
		t.Fatalf("WaitUntilStable = (%v, %v), want (false, context.Canceled)", result.stable, result.err)
	}
}

func TestMeasurePathDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "batch")
	testutil.WriteFile(t, filepath.Join(root, "a.txt"), 100)
	testutil.WriteFile(t, filepath.Join(root, "nested", "b.txt"), 50)

	measure, err := MeasurePath(root)
	if err != nil {
		t.Fatalf("MeasurePath: %v", err)
	}
	// a.txt, nested/, nested/b.txt
	want := Measure{Bytes: 150, Entries: 3}
	if measure != want {
		t.Errorf("MeasurePath = %+v, want %+v", measure, want)
	}

	testutil.WriteFile(t, filepath.Join(root, "empty"), 0)
	measure, err = MeasurePath(root)
	if err != nil {
		t.Fatalf("MeasurePath: %v", err)
	}
	if measure.Entries != 4 || measure.Bytes != 150 {
		t.Errorf("after adding an empty file MeasurePath = %+v, want 4 entries / 150 bytes", measure)
	}
}
