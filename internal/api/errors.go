package api

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy for server responses. The polling loop and the outbox
// decide retry behavior from these categories, never from raw status codes.
var (
	// ErrUnauthorized is returned when a request still fails authorization
	// after a refresh-and-retry-once cycle.
	ErrUnauthorized = errors.New("api: unauthorized")

	// ErrRefreshRejected is returned by RefreshToken when the server
	// definitively rejects the refresh token (401/403).
	ErrRefreshRejected = errors.New("api: refresh token rejected")
)

// RateLimitedError reports a 429. RetryAfter is zero when the server did
// not send a Retry-After header.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("api: rate limited, retry after %s", e.RetryAfter)
	}
	return "api: rate limited"
}

// TransientError covers conditions worth retrying: no connectivity,
// timeouts and 5xx responses.
type TransientError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("api: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("api: %s: server returned %d", e.Op, e.Status)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError covers non-retryable rejections (4xx other than 401/429).
// Callers must not enqueue these for redelivery.
type PermanentError struct {
	Op     string
	Status int
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("api: %s: server returned %d", e.Op, e.Status)
}

// IsTransient reports whether err is a retryable delivery failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsRateLimited reports whether err is a 429 and returns the server's
// Retry-After if it sent one.
func IsRateLimited(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
