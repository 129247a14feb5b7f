// ABOUTME: Tests for the settled-request cache.
// ABOUTME: Covers TTL expiry, capacity eviction, and re-marking.

package dedupe

import (
	"fmt"
	"testing"
	"time"
)

func TestSeenAndMark(t *testing.T) {
	c := New(time.Minute, 10)
	defer c.Close()

	if c.Seen("req-1") {
		t.Error("unmarked id should not be seen")
	}

	c.Mark("req-1")
	if !c.Seen("req-1") {
		t.Error("marked id should be seen")
	}
}

func TestExpiry(t *testing.T) {
	c := New(10*time.Millisecond, 10)
	defer c.Close()

	c.Mark("req-1")
	time.Sleep(20 * time.Millisecond)

	if c.Seen("req-1") {
		t.Error("expired id should not be seen")
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	c := New(10*time.Millisecond, 10)
	defer c.Close()

	c.Mark("req-1")
	time.Sleep(20 * time.Millisecond)
	c.sweep()

	c.mu.RLock()
	_, exists := c.settled["req-1"]
	c.mu.RUnlock()
	if exists {
		t.Error("sweep should remove expired entries")
	}
}

func TestCapacityEvictsOldestFirst(t *testing.T) {
	c := New(time.Minute, 3)
	defer c.Close()

	for i := 0; i < 3; i++ {
		c.Mark(fmt.Sprintf("req-%d", i))
	}
	c.Mark("req-3")

	if c.Seen("req-0") {
		t.Error("oldest entry should be evicted at capacity")
	}
	for i := 1; i <= 3; i++ {
		if !c.Seen(fmt.Sprintf("req-%d", i)) {
			t.Errorf("req-%d should still be present", i)
		}
	}
}

func TestRemarkMovesToBack(t *testing.T) {
	c := New(time.Minute, 2)
	defer c.Close()

	c.Mark("req-a")
	c.Mark("req-b")
	c.Mark("req-a") // refresh, req-b is now oldest
	c.Mark("req-c")

	if c.Seen("req-b") {
		t.Error("req-b should be evicted after req-a was refreshed")
	}
	if !c.Seen("req-a") || !c.Seen("req-c") {
		t.Error("req-a and req-c should survive")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close()
}
