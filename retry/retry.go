// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package retry runs operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrInvalidMaxAttempts is returned when maxAttempts is not positive.
var ErrInvalidMaxAttempts = errors.New("max attempts must be greater than 0")

// MaxDelay caps the wait between two attempts.
const MaxDelay = 5 * time.Second

// WithBackoff calls operation up to maxAttempts times, waiting baseDelay,
// then twice that, and so on (capped at MaxDelay) between attempts.
//
// retryable decides whether a failure is worth another attempt; nil retries
// every error. The first rejected error, or the error of the final attempt,
// is returned as is. Cancelling ctx aborts the wait and returns ctx.Err().
func WithBackoff(ctx context.Context, operation func() error, maxAttempts int, baseDelay time.Duration, retryable func(error) bool) error {
	if maxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation()
		switch {
		case err == nil:
			if attempt > 1 {
				slog.Debug("retry succeeded", "attempt", attempt)
			}
			return nil
		case retryable != nil && !retryable(err):
			return err
		case attempt == maxAttempts:
			slog.Debug("retries exhausted", "attempts", attempt, "err", err)
			return err
		}

		wait := delayFor(baseDelay, attempt)
		slog.Debug("retrying", "attempt", attempt, "of", maxAttempts, "wait", wait, "err", err)
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// delayFor returns the wait after the given failed attempt.
func delayFor(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt && d < MaxDelay; i++ {
		d *= 2
	}
	return min(d, MaxDelay)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
