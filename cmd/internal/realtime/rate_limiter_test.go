package realtime

import (
	"testing"
	"time"
)

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	t.Parallel()

	now := time.Now()
	rl := NewRateLimiter(5, 10*time.Second)

	for i := 0; i < 5; i++ {
		if !rl.Allow(now.Add(time.Duration(i) * time.Millisecond)) {
			t.Fatalf("event %d denied under limit", i)
		}
	}
	if rl.Allow(now.Add(6 * time.Millisecond)) {
		t.Fatalf("event over limit allowed")
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	t.Parallel()

	now := time.Now()
	rl := NewRateLimiter(2, 10*time.Second)

	if !rl.Allow(now) {
		t.Fatalf("first event denied")
	}
	if !rl.Allow(now.Add(time.Second)) {
		t.Fatalf("second event denied")
	}
	if rl.Allow(now.Add(2 * time.Second)) {
		t.Fatalf("third event inside window allowed")
	}

	// Both events age out of the window, freeing the slots.
	if !rl.Allow(now.Add(11 * time.Second)) {
		t.Fatalf("event after window slide denied")
	}
	if !rl.Allow(now.Add(11*time.Second + time.Millisecond)) {
		t.Fatalf("second event after window slide denied")
	}
	if rl.Allow(now.Add(11*time.Second + 2*time.Millisecond)) {
		t.Fatalf("window refilled past the limit")
	}
}

func TestRateLimiter_DefaultsOnInvalidInput(t *testing.T) {
	t.Parallel()

	now := time.Now()
	rl := NewRateLimiter(0, 0)

	for i := 0; i < rateLimitEvents; i++ {
		if !rl.Allow(now.Add(time.Duration(i) * time.Millisecond)) {
			t.Fatalf("event %d denied under default limit", i)
		}
	}
	if rl.Allow(now.Add(time.Second)) {
		t.Fatalf("event over default limit allowed")
	}
}
