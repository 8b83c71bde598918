// Package ratelimit implements a fixed-window request limiter keyed by client.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/gaissmai/bart"
	"github.com/oldschoolag/Faivr"
	"github.com/oldschoolag/Faivr/decaymap"
	"github.com/oldschoolag/Faivr/internal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ErrBadLimit  = errors.New("ratelimit: limit must be positive")
	ErrBadWindow = errors.New("ratelimit: window must be positive")
	ErrBadCIDR   = errors.New("ratelimit: invalid exempt CIDR")

	rateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "faivr_rate_limited_total",
		Help: "The total number of requests rejected by the rate limiter",
	})
)

type Options struct {
	Limit  int           // Requests allowed per window. Defaults to faivr.ChatRateLimit
	Window time.Duration // Defaults to faivr.ChatRateWindow
	Exempt []string      // CIDRs that are never limited

	now func() time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

type Limiter struct {
	limit   int
	window  time.Duration
	windows *decaymap.Impl[string, window]
	exempt  *bart.Table[struct{}]
	now     func() time.Time
}

// New creates a Limiter. Expired windows are swept until ctx is cancelled.
func New(ctx context.Context, opts Options) (*Limiter, error) {
	if opts.Limit == 0 {
		opts.Limit = faivr.ChatRateLimit
	}

	if opts.Window == 0 {
		opts.Window = faivr.ChatRateWindow
	}

	var errs []error

	if opts.Limit < 0 {
		errs = append(errs, fmt.Errorf("%w, got: %d", ErrBadLimit, opts.Limit))
	}

	if opts.Window < 0 {
		errs = append(errs, fmt.Errorf("%w, got: %s", ErrBadWindow, opts.Window))
	}

	result := &Limiter{
		limit:   opts.Limit,
		window:  opts.Window,
		windows: decaymap.New[string, window](),
		exempt:  &bart.Table[struct{}]{},
		now:     opts.now,
	}

	for _, cidr := range opts.Exempt {
		pfx, err := netip.ParsePrefix(cidr)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w %q: %w", ErrBadCIDR, cidr, err))
			continue
		}
		result.exempt.Insert(pfx, struct{}{})
	}

	if len(errs) != 0 {
		return nil, errors.Join(errs...)
	}

	if result.now == nil {
		result.now = time.Now
	}

	go result.cleanupThread(ctx)

	return result, nil
}

// Exempt reports whether ip is inside one of the exempt CIDRs. Strings that
// are not IP addresses are never exempt.
func (l *Limiter) Exempt(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}

	return l.exempt.Contains(addr.Unmap())
}

// Allow counts a request from key against its window and reports whether it
// is within the limit. The first request opens a window; once the window's
// reset time has passed the next request opens a fresh one.
func (l *Limiter) Allow(key string) bool {
	now := l.now()

	// The map TTL only bounds memory; resetAt decides when a window closes.
	w := l.windows.Update(internal.FastHash(key), func(cur window, ok bool) (window, time.Duration) {
		if !ok || now.After(cur.resetAt) {
			return window{count: 1, resetAt: now.Add(l.window)}, l.window
		}

		cur.count++
		return cur, l.window
	})

	if w.count > l.limit {
		rateLimited.Inc()
		return false
	}

	return true
}

// AllowIP is Allow keyed by client IP with exemptions applied.
func (l *Limiter) AllowIP(ip string) bool {
	if l.Exempt(ip) {
		return true
	}

	return l.Allow(ip)
}

func (l *Limiter) cleanupThread(ctx context.Context) {
	t := time.NewTicker(l.window)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.windows.Cleanup()
		}
	}
}
