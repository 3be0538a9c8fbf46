package resilience

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitError is returned by the transcription, dialogue and speech
// clients when the backend answers 429. RetryAfter carries the server's
// Retry-After hint when one was sent.
type RateLimitError struct {
	Provider   string
	Message    string
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Provider != "" {
		return e.Provider + " rate limited"
	}
	return "rate limited"
}

// IsRateLimit reports whether err is, or wraps, a RateLimitError.
func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

// RetryAfterHint parses a Retry-After header value given in seconds.
// Anything unparseable counts as no hint.
func RetryAfterHint(value string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// CircuitOpenError is returned by Allow while a component's requests are
// suspended.
type CircuitOpenError struct {
	Component string
	Until     time.Time
}

func (e CircuitOpenError) Error() string {
	return fmt.Sprintf("%s requests suspended until %s", e.Component, e.Until.Format(time.RFC3339))
}

// CircuitBreaker suspends one component's requests after repeated rate
// limit responses. Only rate limits count toward the threshold; when the
// tripping error carries a Retry-After hint longer than the configured
// cooldown, the hint wins.
type CircuitBreaker struct {
	component string
	threshold int
	cooldown  time.Duration

	mu        sync.Mutex
	failures  int
	openUntil time.Time
}

func NewCircuitBreaker(component string, threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{component: component, threshold: threshold, cooldown: cooldown}
}

// Allow returns nil when a request may proceed, or a CircuitOpenError
// while the breaker is open.
func (c *CircuitBreaker) Allow() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Now().Before(c.openUntil) {
		return CircuitOpenError{Component: c.component, Until: c.openUntil}
	}
	return nil
}

// OnSuccess closes the breaker and clears the failure count.
func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	c.failures = 0
	c.openUntil = time.Time{}
	c.mu.Unlock()
}

// OnError counts a rate limit toward the threshold. Other errors leave
// the breaker alone.
func (c *CircuitBreaker) OnError(err error) {
	var rl RateLimitError
	if !errors.As(err, &rl) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	if c.failures < c.threshold {
		return
	}
	wait := c.cooldown
	if rl.RetryAfter > wait {
		wait = rl.RetryAfter
	}
	c.openUntil = time.Now().Add(wait)
}
