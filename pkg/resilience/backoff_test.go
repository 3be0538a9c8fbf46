package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestBackoffDoublesPerAttempt(t *testing.T) {
	b := NewBackoff(2*time.Second, 5)
	want := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
	}
	for k, w := range want {
		if got := b.Delay(k); got != w {
			t.Fatalf("attempt %d: expected %v, got %v", k, w, got)
		}
	}
}

func TestBackoffExhaustion(t *testing.T) {
	b := NewBackoff(time.Second, 5)
	if b.Exhausted(4) {
		t.Fatalf("attempt 4 should still be allowed")
	}
	if !b.Exhausted(5) {
		t.Fatalf("attempt 5 should be exhausted")
	}
}

func TestBackoffDefaults(t *testing.T) {
	b := NewBackoff(0, 0)
	if b.Base != 2*time.Second || b.MaxAttempts != 5 {
		t.Fatalf("unexpected defaults: %+v", b)
	}
	if b.Delay(-1) != b.Base {
		t.Fatalf("negative attempt should clamp to base delay")
	}
}

func TestCircuitBreakerOpensOnRateLimits(t *testing.T) {
	cb := NewCircuitBreaker("synthesis", 2, time.Minute)
	if err := cb.Allow(); err != nil {
		t.Fatalf("breaker should start closed: %v", err)
	}
	cb.OnError(RateLimitError{Provider: "tts"})
	if err := cb.Allow(); err != nil {
		t.Fatalf("breaker should stay closed below threshold: %v", err)
	}
	cb.OnError(RateLimitError{Provider: "tts"})
	err := cb.Allow()
	var open CircuitOpenError
	if !errors.As(err, &open) {
		t.Fatalf("breaker should open at threshold, got %v", err)
	}
	if open.Component != "synthesis" {
		t.Fatalf("open component = %q", open.Component)
	}
	cb.OnSuccess()
	if err := cb.Allow(); err != nil {
		t.Fatalf("breaker should reset on success: %v", err)
	}
}

func TestCircuitBreakerIgnoresOtherErrors(t *testing.T) {
	cb := NewCircuitBreaker("synthesis", 1, time.Minute)
	cb.OnError(errTest)
	if err := cb.Allow(); err != nil {
		t.Fatalf("non rate-limit errors must not trip the breaker: %v", err)
	}
}

func TestCircuitBreakerHonorsRetryAfter(t *testing.T) {
	cb := NewCircuitBreaker("synthesis", 1, time.Millisecond)
	cb.OnError(RateLimitError{Provider: "tts", RetryAfter: time.Hour})

	err := cb.Allow()
	var open CircuitOpenError
	if !errors.As(err, &open) {
		t.Fatalf("breaker should be open, got %v", err)
	}
	if until := time.Until(open.Until); until < 30*time.Minute {
		t.Fatalf("suspension ends in %v, want the server's longer hint to win", until)
	}
}

func TestRetryAfterHint(t *testing.T) {
	if got := RetryAfterHint("7"); got != 7*time.Second {
		t.Fatalf("hint = %v, want 7s", got)
	}
	if got := RetryAfterHint(" 3 "); got != 3*time.Second {
		t.Fatalf("padded hint = %v, want 3s", got)
	}
	for _, bad := range []string{"", "soon", "-2", "Wed, 21 Oct 2026 07:28:00 GMT"} {
		if got := RetryAfterHint(bad); got != 0 {
			t.Fatalf("RetryAfterHint(%q) = %v, want 0", bad, got)
		}
	}
}

type testErr struct{}

func (testErr) Error() string { return "boom" }

var errTest = testErr{}
