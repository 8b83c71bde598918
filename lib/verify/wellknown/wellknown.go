// Package wellknown verifies challenges by fetching a JSON document the agent
// owner hosts under /.well-known on the claimed domain.
package wellknown

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/oldschoolag/Faivr"
	"github.com/oldschoolag/Faivr/lib/verify"
	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

// MaxDocumentSize caps how much of the verification document is read.
const MaxDocumentSize = 64 << 10

var (
	ErrBadStatus = errors.New("wellknown: non-2xx status")
	ErrTooLarge  = errors.New("wellknown: document too large")
)

func init() {
	verify.Register(verify.MethodFile, New(Options{}))
}

type Options struct {
	Client  *http.Client  // Defaults to a client that does not follow redirects off-site
	Timeout time.Duration // Defaults to faivr.CheckTimeout
}

type Checker struct {
	client  *http.Client
	timeout time.Duration
}

func New(opts Options) *Checker {
	result := &Checker{
		client:  opts.Client,
		timeout: opts.Timeout,
	}

	if result.client == nil {
		result.client = &http.Client{CheckRedirect: sameSite}
	}

	if result.timeout == 0 {
		result.timeout = faivr.CheckTimeout
	}

	return result
}

// sameSite stops redirects that leave the registrable domain of the first
// request, so example.com may hand off to www.example.com but not elsewhere.
func sameSite(req *http.Request, via []*http.Request) error {
	if len(via) >= 5 {
		return errors.New("wellknown: too many redirects")
	}

	from, to := via[0].URL.Hostname(), req.URL.Hostname()
	if site(from) != site(to) {
		return fmt.Errorf("wellknown: redirect to other site %q", to)
	}

	return nil
}

// site is the registrable domain of host. Hosts without one, such as IP
// addresses or bare public suffixes, are their own site.
func site(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))

	if net.ParseIP(host) != nil {
		return host
	}

	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}

	return etld1
}

type document struct {
	Token string `json:"token"`
}

func (c *Checker) Verify(ctx context.Context, lg *slog.Logger, ch *verify.Challenge) bool {
	name, port := verify.SplitDomain(ch.Domain)

	host, err := idna.Lookup.ToASCII(name)
	if err != nil {
		lg.Debug("wellknown: domain is not a valid hostname", "err", err)
		return false
	}

	if port != "" {
		host = net.JoinHostPort(host, port)
	}

	u := verify.WellKnownURL(host)

	token, err := c.fetch(ctx, u)
	if err != nil {
		lg.Info("wellknown: can't fetch verification document", "url", u, "err", err)
		return false
	}

	if token != ch.Token {
		lg.Debug("wellknown: token mismatch", "url", u)
		return false
	}

	return true
}

func (c *Checker) fetch(ctx context.Context, u string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create http request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "FAIVR-Verifier/"+faivr.Version)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http get failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxDocumentSize+1))
	if err != nil {
		return "", fmt.Errorf("can't read body: %w", err)
	}

	if len(body) > MaxDocumentSize {
		return "", fmt.Errorf("%w: exceeded %d bytes", ErrTooLarge, MaxDocumentSize)
	}

	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("can't decode document: %w", err)
	}

	return doc.Token, nil
}
