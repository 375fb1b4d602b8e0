// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time source for sealdrop's polling and backoff
// loops.
//
// The stability detector and the retrying encryptor never call the
// time package directly. They take a [Clock]: [Real] in the binary,
// [Fake] in tests. A fake clock stands still until the test calls
// [FakeClock.Advance], so a stability window of three seconds can be
// exercised without sleeping:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	detector := stability.New(3*time.Second, time.Second, fake)
//	go detector.WaitUntilStable(ctx, path)
//	fake.WaitForTimers(1)      // the detector is parked on its poll timer
//	fake.Advance(time.Second)  // one poll
//
// [FakeClock.WaitForTimers] closes the race between a goroutine
// registering its timer and the test advancing time.
package clock
