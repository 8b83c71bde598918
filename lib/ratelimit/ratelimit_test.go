package ratelimit

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type clock struct {
	lock sync.Mutex
	now  time.Time
}

func (c *clock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(d)
}

func newLimiter(t *testing.T, opts Options) (*Limiter, *clock) {
	t.Helper()

	c := &clock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	opts.now = c.Now

	l, err := New(t.Context(), opts)
	if err != nil {
		t.Fatal(err)
	}

	return l, c
}

func TestAllow(t *testing.T) {
	l, _ := newLimiter(t, Options{})

	for i := range 20 {
		if !l.Allow("203.0.113.7") {
			t.Fatalf("request %d was limited", i+1)
		}
	}

	if l.Allow("203.0.113.7") {
		t.Error("21st request in the window was allowed")
	}

	if !l.Allow("198.51.100.1") {
		t.Error("windows are per key")
	}
}

func TestWindowResets(t *testing.T) {
	l, c := newLimiter(t, Options{Limit: 2, Window: time.Minute})

	l.Allow("a")
	l.Allow("a")
	if l.Allow("a") {
		t.Fatal("third request should be limited")
	}

	c.Advance(time.Minute)
	if l.Allow("a") {
		t.Error("window is still open exactly at its reset time")
	}

	c.Advance(time.Millisecond)
	if !l.Allow("a") {
		t.Error("request after the reset time should open a new window")
	}

	if !l.Allow("a") {
		t.Error("second request of the new window should be allowed")
	}
}

func TestAllowConcurrent(t *testing.T) {
	l, _ := newLimiter(t, Options{Limit: 20})

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("shared") {
				allowed.Add(1)
			}
		}()
	}

	wg.Wait()

	if n := allowed.Load(); n != 20 {
		t.Errorf("wanted exactly 20 allowed requests, got: %d", n)
	}
}

func TestExempt(t *testing.T) {
	l, _ := newLimiter(t, Options{Limit: 1, Exempt: []string{"10.0.0.0/8", "2001:db8::/32"}})

	for _, tt := range []struct {
		ip   string
		want bool
	}{
		{ip: "10.1.2.3", want: true},
		{ip: "::ffff:10.1.2.3", want: true},
		{ip: "2001:db8::1", want: true},
		{ip: "192.0.2.1", want: false},
		{ip: "unknown", want: false},
	} {
		t.Run(tt.ip, func(t *testing.T) {
			if got := l.Exempt(tt.ip); got != tt.want {
				t.Errorf("wanted %v, got: %v", tt.want, got)
			}
		})
	}

	for range 5 {
		if !l.AllowIP("10.1.2.3") {
			t.Fatal("exempt address was limited")
		}
	}

	l.AllowIP("192.0.2.1")
	if l.AllowIP("192.0.2.1") {
		t.Error("non-exempt address was not limited")
	}
}

func TestNewInvalid(t *testing.T) {
	for _, tt := range []struct {
		name string
		opts Options
		err  error
	}{
		{name: "negative limit", opts: Options{Limit: -1}, err: ErrBadLimit},
		{name: "negative window", opts: Options{Window: -time.Second}, err: ErrBadWindow},
		{name: "bad cidr", opts: Options{Exempt: []string{"10.0.0.0/33"}}, err: ErrBadCIDR},
		{name: "bare address", opts: Options{Exempt: []string{"10.0.0.1"}}, err: ErrBadCIDR},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(t.Context(), tt.opts); !errors.Is(err, tt.err) {
				t.Errorf("wanted error %v, got: %v", tt.err, err)
			}
		})
	}
}
