// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/bureau-foundation/sealdrop/lib/clock"
	"github.com/bureau-foundation/sealdrop/lib/seal"
)

// maxRetryDelay caps the exponential backoff.
const maxRetryDelay = 5 * time.Minute

// RetryingEncryptor wraps an Encryptor and retries failed encryptions
// with exponential backoff. Errors caused by cancellation or by the
// source disappearing are not retried.
type RetryingEncryptor struct {
	Encryptor Encryptor

	// Attempts is the number of retries after the first failure.
	Attempts int

	// Delay is the wait before the first retry; it doubles for each
	// further retry, up to five minutes.
	Delay time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

func (r *RetryingEncryptor) EncryptFile(ctx context.Context, sourcePath, outputDir string) (seal.Result, error) {
	return r.retry(ctx, sourcePath, func() (seal.Result, error) {
		return r.Encryptor.EncryptFile(ctx, sourcePath, outputDir)
	})
}

func (r *RetryingEncryptor) EncryptDirectory(ctx context.Context, sourcePath, outputDir string) (seal.Result, error) {
	return r.retry(ctx, sourcePath, func() (seal.Result, error) {
		return r.Encryptor.EncryptDirectory(ctx, sourcePath, outputDir)
	})
}

func (r *RetryingEncryptor) retry(ctx context.Context, sourcePath string, attempt func() (seal.Result, error)) (seal.Result, error) {
	delay := r.Delay
	for retry := 0; ; retry++ {
		result, err := attempt()
		if err == nil || retry >= r.Attempts || !retryable(ctx, err) {
			return result, err
		}

		if r.Logger != nil {
			r.Logger.Warn("encryption failed, retrying",
				"path", sourcePath,
				"attempt", retry+1,
				"delay", delay.String(),
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return seal.Result{}, errors.Join(err, ctx.Err())
		case <-r.Clock.After(delay):
		}
		delay = min(delay*2, maxRetryDelay)
	}
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, os.ErrNotExist) && !errors.Is(err, context.Canceled)
}
