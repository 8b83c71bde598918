package lib

import (
	"errors"
	"net/http"
	"strings"

	"github.com/oldschoolag/Faivr"
	"github.com/oldschoolag/Faivr/internal"
	"github.com/oldschoolag/Faivr/lib/ratelimit"
	"github.com/oldschoolag/Faivr/lib/support"
	"github.com/oldschoolag/Faivr/lib/support/learnings"
	"github.com/oldschoolag/Faivr/lib/verify"

	// checker implementations
	_ "github.com/oldschoolag/Faivr/lib/verify/dnstxt"
	_ "github.com/oldschoolag/Faivr/lib/verify/social"
	_ "github.com/oldschoolag/Faivr/lib/verify/wellknown"
)

var (
	ErrNoVerifier   = errors.New("lib: Options.Verifier is required")
	ErrNoResponder  = errors.New("lib: Options.Responder is required")
	ErrNoLearnings  = errors.New("lib: Options.Learnings is required")
	ErrNoRateLimits = errors.New("lib: Options.RateLimiter is required")
)

type Options struct {
	Verifier    *verify.Service
	Responder   *support.Responder
	Learnings   *learnings.FileStore
	RateLimiter *ratelimit.Limiter

	// AdminSecret protects the admin and feedback listing endpoints with
	// HS512 bearer tokens. Empty leaves them open.
	AdminSecret []byte
	BasePrefix  string
}

func New(opts Options) (*Server, error) {
	var errs []error

	if opts.Verifier == nil {
		errs = append(errs, ErrNoVerifier)
	}

	if opts.Responder == nil {
		errs = append(errs, ErrNoResponder)
	}

	if opts.Learnings == nil {
		errs = append(errs, ErrNoLearnings)
	}

	if opts.RateLimiter == nil {
		errs = append(errs, ErrNoRateLimits)
	}

	if len(errs) != 0 {
		return nil, errors.Join(errs...)
	}

	faivr.BasePrefix = opts.BasePrefix

	result := &Server{
		verifier:    opts.Verifier,
		responder:   opts.Responder,
		learnings:   opts.Learnings,
		limiter:     opts.RateLimiter,
		adminSecret: opts.AdminSecret,
		opts:        opts,
	}

	mux := http.NewServeMux()

	// Helper to add global prefix
	registerWithPrefix := func(pattern string, handler http.Handler, method string) {
		if method != "" {
			method = method + " " // methods must end with a space to register with them
		}

		// Ensure there's no double slash when concatenating BasePrefix and pattern
		basePrefix := strings.TrimSuffix(faivr.BasePrefix, "/")
		prefix := method + basePrefix

		// If pattern doesn't start with a slash, add one
		if !strings.HasPrefix(pattern, "/") {
			pattern = "/" + pattern
		}

		mux.Handle(prefix+pattern, handler)
	}

	registerWithPrefix(faivr.APIPrefix+"verify/challenge", http.HandlerFunc(result.IssueChallenge), "POST")
	registerWithPrefix(faivr.APIPrefix+"verify/check", http.HandlerFunc(result.CheckChallenge), "POST")
	registerWithPrefix(faivr.APIPrefix+"verify/status/{agentId}", http.HandlerFunc(result.VerificationStatus), "GET")

	registerWithPrefix(faivr.APIPrefix+"support/chat", http.HandlerFunc(result.Chat), "POST")
	registerWithPrefix(faivr.APIPrefix+"support/feedback", http.HandlerFunc(result.LogFeedback), "POST")
	registerWithPrefix(faivr.APIPrefix+"support/feedback", result.requireAdmin(internal.GzipMiddleware(1, http.HandlerFunc(result.ListFeedback))), "GET")
	registerWithPrefix(faivr.APIPrefix+"support/admin/qa", result.requireAdmin(http.HandlerFunc(result.AddCustomQA)), "POST")
	registerWithPrefix(faivr.APIPrefix+"support/admin/qa", result.requireAdmin(internal.GzipMiddleware(1, http.HandlerFunc(result.ListCustomQAs))), "GET")

	registerWithPrefix("/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}), "GET")

	result.mux = mux

	return result, nil
}
