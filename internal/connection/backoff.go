package connection

import "time"

// maxShift keeps BaseDelay << attempt from overflowing.
const maxShift = 30

// ReconnectPolicy decides whether and when to retry after an unexpected close.
type ReconnectPolicy struct {
	BaseDelay   time.Duration
	MaxAttempts int
}

// Delay returns BaseDelay * 2^attempt.
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxShift {
		attempt = maxShift
	}
	return p.BaseDelay << attempt
}

// ShouldRetry reports whether another attempt is allowed after attempt
// attempts have already been made.
func (p ReconnectPolicy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxAttempts
}
