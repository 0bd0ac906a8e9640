package testutil

import (
	"testing"
	"time"
)

// WaitForMessage waits for a message matching pattern and returns the latest one.
func WaitForMessage(t testing.TB, bus *Bus, pattern string, timeout time.Duration) Record {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if msgs := bus.Messages(pattern); len(msgs) > 0 {
			return msgs[len(msgs)-1]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for message on %s", pattern)
	return Record{}
}

// WaitForMessageCount waits until at least count messages match pattern.
func WaitForMessageCount(t testing.TB, bus *Bus, pattern string, count int, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if bus.Count(pattern) >= count {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d messages on %s (got %d)", count, pattern, bus.Count(pattern))
}

// AssertNoMessages fails if any recorded message matches pattern.
func AssertNoMessages(t testing.TB, bus *Bus, pattern string) {
	t.Helper()

	if n := bus.Count(pattern); n > 0 {
		t.Fatalf("expected no messages on %s, got %d", pattern, n)
	}
}
