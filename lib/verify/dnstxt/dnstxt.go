// Package dnstxt verifies challenges by looking for a TXT record on the
// claimed domain.
package dnstxt

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/oldschoolag/Faivr"
	"github.com/oldschoolag/Faivr/lib/verify"
	"golang.org/x/net/idna"
)

func init() {
	verify.Register(verify.MethodDNS, New(Options{}))
}

// Resolver is the subset of *net.Resolver the checker needs.
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

type Options struct {
	Resolver Resolver      // Defaults to net.DefaultResolver
	Timeout  time.Duration // Defaults to faivr.CheckTimeout
}

type Checker struct {
	resolver Resolver
	timeout  time.Duration
}

func New(opts Options) *Checker {
	result := &Checker{
		resolver: opts.Resolver,
		timeout:  opts.Timeout,
	}

	if result.resolver == nil {
		result.resolver = net.DefaultResolver
	}

	if result.timeout == 0 {
		result.timeout = faivr.CheckTimeout
	}

	return result
}

func (c *Checker) Verify(ctx context.Context, lg *slog.Logger, ch *verify.Challenge) bool {
	// TXT records belong to the name, whatever port the site is served on.
	name, _ := verify.SplitDomain(ch.Domain)

	host, err := idna.Lookup.ToASCII(name)
	if err != nil {
		lg.Debug("dns: domain is not a valid hostname", "err", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	records, err := c.resolver.LookupTXT(ctx, host)
	if err != nil {
		lg.Info("dns: TXT lookup failed", "host", host, "err", err)
		return false
	}

	want := verify.DNSRecordValue(ch.Token)
	for _, record := range records {
		if record == want {
			return true
		}
	}

	lg.Debug("dns: no matching TXT record", "host", host, "records", len(records))
	return false
}
