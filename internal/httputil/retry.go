// Package httputil downloads channel metadata, package archives and remote
// lockfiles, retrying transient failures.
package httputil

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// RetryableError marks a failure worth another attempt, such as a network
// timeout or a 5xx response. After carries the server's Retry-After hint.
type RetryableError struct {
	Err   error
	After time.Duration
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Backoff retries a download with a doubling delay. A server asking for a
// longer wait through Retry-After gets it, up to MaxDelay.
type Backoff struct {
	Attempts int
	Delay    time.Duration
	MaxDelay time.Duration
	Logger   *log.Logger
}

// Do runs fn until it succeeds, fails with an error that is not a
// RetryableError, or runs out of attempts. what names the resource in the
// retry log.
func (b Backoff) Do(ctx context.Context, what string, fn func() error) error {
	attempts := max(b.Attempts, 1)
	delay := b.Delay

	for attempt := 1; ; attempt++ {
		err := fn()
		var retryable *RetryableError
		if err == nil || !errors.As(err, &retryable) || attempt == attempts {
			return err
		}

		wait := max(delay, retryable.After)
		if b.MaxDelay > 0 {
			wait = min(wait, b.MaxDelay)
		}
		if b.Logger != nil {
			b.Logger.Warn("retrying download", "url", what, "attempt", attempt+1, "of", attempts, "wait", wait, "error", retryable.Err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
	}
}

// retryAfter reads a Retry-After header given in seconds or as an HTTP
// date. Unparseable or past values give 0.
func retryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(max(secs, 0)) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
