package decaymap

import (
	"testing"
	"time"
)

func TestImpl(t *testing.T) {
	dm := New[string, string]()

	dm.Set("test", "hi", 5*time.Minute)

	val, ok := dm.Get("test")
	if !ok {
		t.Error("somehow the test key was not set")
	}

	if val != "hi" {
		t.Errorf("wanted value %q, got: %q", "hi", val)
	}

	ok = dm.expire("test")
	if !ok {
		t.Fatal("test was not set, somehow")
	}

	if _, ok := dm.Get("test"); ok {
		t.Error("got value even though it was supposed to be expired")
	}
}

func TestCleanup(t *testing.T) {
	dm := New[string, string]()

	dm.Set("test1", "hi1", 1*time.Second)
	dm.Set("test2", "hi2", 2*time.Second)
	dm.Set("test3", "hi3", 3*time.Second)

	dm.expire("test1")
	dm.expire("test2")

	dm.Cleanup()

	if got := dm.Len(); got != 1 {
		t.Fatalf("wanted 1 live entry after cleanup, got %d", got)
	}

	if _, ok := dm.Get("test3"); !ok {
		t.Error("test3 should still be present")
	}
}

func TestDelete(t *testing.T) {
	dm := New[string, int]()

	if dm.Delete("missing") {
		t.Error("deleting a missing key reported success")
	}

	dm.Set("live", 1, time.Minute)
	if !dm.Delete("live") {
		t.Error("deleting a live key reported failure")
	}

	dm.Set("stale", 1, time.Minute)
	dm.expire("stale")
	if dm.Delete("stale") {
		t.Error("deleting an expired key reported success")
	}
}

func TestUpdate(t *testing.T) {
	now := time.Now()
	dm := New[string, int]()
	dm.now = func() time.Time { return now }

	incr := func(cur int, ok bool) (int, time.Duration) {
		if !ok {
			return 1, time.Minute
		}
		return cur + 1, time.Minute
	}

	for want := 1; want <= 3; want++ {
		if got := dm.Update("k", incr); got != want {
			t.Errorf("update %d: got %d", want, got)
		}
	}

	now = now.Add(2 * time.Minute)

	if got := dm.Update("k", incr); got != 1 {
		t.Errorf("wanted counter to restart after expiry, got %d", got)
	}
}

func TestTake(t *testing.T) {
	dm := New[string, int]()

	if _, ok := dm.Take("missing"); ok {
		t.Error("took a missing key")
	}

	dm.Set("live", 1, time.Minute)
	dm.Set("dead", 2, time.Minute)
	dm.expire("dead")

	if v, ok := dm.Take("live"); !ok || v != 1 {
		t.Errorf("wanted (1, true), got: (%d, %v)", v, ok)
	}

	if _, ok := dm.Take("live"); ok {
		t.Error("took the same key twice")
	}

	if _, ok := dm.Take("dead"); ok {
		t.Error("took an expired key")
	}

	if got := dm.Len(); got != 0 {
		t.Errorf("Take should remove entries, %d left", got)
	}
}
