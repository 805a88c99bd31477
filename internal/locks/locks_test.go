package locks

/*
 * locks_test.go
 * Tests for the named Lock Registry (C5)
 * By J. Stuart McMurray
 * Created 20250101
 * Last Modified 20250101
 */

import (
	"testing"
	"time"

	"github.com/sysopnet/bbsmux/lib/chanlog"
)

func TestRegistry_AcquireRelease(t *testing.T) {
	r := New(nil)

	if !r.Acquire("room", 0, false) {
		t.Fatalf("first acquire of free lock failed")
	}
	if r.Acquire("room", 0, false) {
		t.Fatalf("acquire of held lock with no staleness succeeded")
	}
	r.Release("room")
	if 0 != r.Len() {
		t.Fatalf("Len() = %d after release, want 0", r.Len())
	}
	if !r.Acquire("room", 0, false) {
		t.Fatalf("acquire after release failed")
	}
}

func TestRegistry_StaleOverride(t *testing.T) {
	r := New(nil)

	if !r.Acquire("x", 0, false) {
		t.Fatalf("first acquire failed")
	}
	time.Sleep(10 * time.Millisecond)

	if r.Acquire("x", 1, true) {
		t.Fatalf("acquire with stale=1s granted after only 10ms")
	}
	if !r.Acquire("x", 0.001, true) {
		t.Fatalf("acquire with stale=1ms not granted after 10ms held")
	}
}

func TestRegistry_ReleaseUnheld(t *testing.T) {
	r := New(nil)
	r.Release("never-held") /* Must not panic; only logs. */
	if 0 != r.Len() {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
}

// TestRegistry_RoundTrip verifies spec.md §8's "acquire(name) followed by
// release(name) returns the lock registry to its prior state" property.
func TestRegistry_RoundTrip(t *testing.T) {
	r := New(nil)
	before := r.Len()
	if !r.Acquire("room", 0, false) {
		t.Fatalf("acquire failed")
	}
	r.Release("room")
	if after := r.Len(); before != after {
		t.Fatalf("Len() = %d after round trip, want %d", after, before)
	}
}

func TestRegistry_LogLines(t *testing.T) {
	cl, sl := chanlog.New()
	r := New(sl)

	r.Acquire("room", 0, false)
	cl.Expect(t, `{"time":"","level":"DEBUG","msg":"lock granted","name":"room"}`)

	r.Acquire("room", 0, false)
	cl.Expect(t, `{"time":"","level":"WARN","msg":"lock acquire failed","name":"room"}`)

	r.Release("room")
	cl.Expect(t, `{"time":"","level":"DEBUG","msg":"lock released","name":"room"}`)

	r.Release("room")
	cl.Expect(t, `{"time":"","level":"ERROR","msg":"lock release of unheld lock","name":"room"}`)
}
