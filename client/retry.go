package client

import (
	"math/rand"
	"time"
)

// --------------------------------------------------------------------------
// Retry Strategy
// --------------------------------------------------------------------------

// IRetryStrategy decides whether a failed dispatch attempt is tried again.
// It is only consulted for retryable failure reasons; business statuses and
// protocol errors complete the operation immediately.
type IRetryStrategy interface {
	// ShouldRetry returns the backoff to wait before the next attempt, or
	// false to complete the operation with the terminal error instead
	ShouldRetry(attempt int, reason error) (time.Duration, bool)
}

// bestEffortRetryStrategy retries up to maxAttempts with exponential
// backoff and a small random jitter
type bestEffortRetryStrategy struct {
	maxAttempts int
	baseBackoff time.Duration
}

// NewBestEffortRetryStrategy creates the default retry strategy: up to
// maxAttempts dispatches with 50ms base backoff doubling per attempt,
// jittered by +-10%.
func NewBestEffortRetryStrategy(maxAttempts int) IRetryStrategy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &bestEffortRetryStrategy{
		maxAttempts: maxAttempts,
		baseBackoff: 50 * time.Millisecond,
	}
}

func (s *bestEffortRetryStrategy) ShouldRetry(attempt int, reason error) (time.Duration, bool) {
	if attempt >= s.maxAttempts {
		return 0, false
	}

	backoff := s.baseBackoff << (attempt - 1)

	// Exponential backoff with a small random jitter (+-10%)
	jitter := float64(backoff) * (0.9 + 0.2*rand.Float64())
	return time.Duration(jitter), true
}

// failFastRetryStrategy never retries
type failFastRetryStrategy struct{}

// NewFailFastRetryStrategy creates a strategy that completes the operation
// with the first failure
func NewFailFastRetryStrategy() IRetryStrategy {
	return failFastRetryStrategy{}
}

func (failFastRetryStrategy) ShouldRetry(int, error) (time.Duration, bool) {
	return 0, false
}
