package llm

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"
)

// backoffSchedule holds the fixed base delays tried in order on successive
// rate-limit retries. jitter is added on top of each to avoid synchronised
// retry storms across sessions sharing the same provider.
var backoffSchedule = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}

// maxRetryAttempts is the hard cap on attempts within one round: the first
// call plus up to four rate-limit retries.
const maxRetryAttempts = 5

// backoffDelay returns the delay before retry number attempt (0-based),
// picking the last schedule entry once attempt runs past its length, plus
// jitter in the range [0.1s, 0.3s).
func backoffDelay(attempt int) time.Duration {
	idx := attempt
	if idx >= len(backoffSchedule) {
		idx = len(backoffSchedule) - 1
	}
	jitter := 100*time.Millisecond + time.Duration(rand.IntN(200))*time.Millisecond
	return backoffSchedule[idx] + jitter
}

// retryRateLimited runs fn up to maxRetryAttempts times, sleeping with
// backoffDelay between attempts whenever fn's error is a *RateLimitError.
// Any other error returns immediately without retry, matching the policy
// that only rate-limit errors are internally retried.
func retryRateLimited(ctx context.Context, logger *slog.Logger, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxRetryAttempts; attempt++ {
		err = fn()
		var rle *RateLimitError
		if !errors.As(err, &rle) {
			return err
		}
		if attempt == maxRetryAttempts-1 {
			break
		}
		delay := backoffDelay(attempt)
		logger.Warn("llm: rate limited, retrying after backoff", "attempt", attempt+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
