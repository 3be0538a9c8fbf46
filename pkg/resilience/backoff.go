package resilience

import "time"

// Backoff computes exponential reconnect delays: attempt k (0-indexed)
// waits Base * 2^k. MaxAttempts bounds how many attempts are allowed
// before giving up.
type Backoff struct {
	Base        time.Duration
	MaxAttempts int
}

func NewBackoff(base time.Duration, maxAttempts int) Backoff {
	if base <= 0 {
		base = 2 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return Backoff{Base: base, MaxAttempts: maxAttempts}
}

// Delay returns the wait before attempt k. Attempts past MaxAttempts keep
// the last delay; callers are expected to check Exhausted first.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= b.MaxAttempts {
		attempt = b.MaxAttempts - 1
	}
	return b.Base << uint(attempt)
}

// Exhausted reports whether attemptsSoFar has reached the attempt cap.
func (b Backoff) Exhausted(attemptsSoFar int) bool {
	return attemptsSoFar >= b.MaxAttempts
}
