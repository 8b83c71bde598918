// Package verify issues domain ownership challenges for agents and checks
// whether their proofs have been published.
package verify

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oldschoolag/Faivr"
	"github.com/oldschoolag/Faivr/lib/store"
)

// StorePrefix namespaces challenge keys in a shared backend.
const StorePrefix = "challenge:"

type Options struct {
	// Store keeps pending challenges. Required.
	Store store.Interface

	// Checkers overrides the registered checker per method. Methods missing
	// here fall back to the registry.
	Checkers map[Method]Checker

	// Recorder is told about every successful verification. Defaults to
	// LogRecorder.
	Recorder Recorder

	// Expiry is the window in which a challenge may be checked. Defaults to
	// faivr.ChallengeExpiry.
	Expiry time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

type Service struct {
	store    *store.JSON[Challenge]
	checkers map[Method]Checker
	recorder Recorder
	expiry   time.Duration
	now      func() time.Time
	locks    *keyLock
}

func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("verify: Options.Store is required")
	}

	result := &Service{
		store:    &store.JSON[Challenge]{Underlying: opts.Store, Prefix: StorePrefix},
		checkers: map[Method]Checker{},
		recorder: opts.Recorder,
		expiry:   opts.Expiry,
		now:      opts.Now,
		locks:    newKeyLock(),
	}

	if result.recorder == nil {
		result.recorder = LogRecorder{}
	}

	if result.expiry == 0 {
		result.expiry = faivr.ChallengeExpiry
	}

	if result.now == nil {
		result.now = time.Now
	}

	for _, method := range Methods {
		if impl, ok := opts.Checkers[method]; ok {
			result.checkers[method] = impl
			continue
		}

		if impl, ok := Get(method); ok {
			result.checkers[method] = impl
		}
	}

	return result, nil
}

type IssueRequest struct {
	AgentID string
	Domain  string
	Method  string
}

type Issued struct {
	Token        string
	Instructions string
	Challenge    *Challenge
}

// Issue creates a challenge for (AgentID, Method), superseding any pending one.
func (s *Service) Issue(ctx context.Context, lg *slog.Logger, req IssueRequest) (*Issued, error) {
	agentID := strings.TrimSpace(req.AgentID)
	domain := strings.TrimSpace(req.Domain)

	if agentID == "" || domain == "" || req.Method == "" {
		return nil, invalidRequest("issue", "missing_challenge_fields", errors.New("agentId, domain and method are required"))
	}

	method, err := ParseMethod(req.Method)
	if err != nil {
		return nil, invalidRequest("issue", "invalid_method", err)
	}

	token, err := NewToken()
	if err != nil {
		return nil, NewError("issue", "internal_server_error", err, http.StatusInternalServerError)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, NewError("issue", "internal_server_error", fmt.Errorf("can't make challenge id: %w", err), http.StatusInternalServerError)
	}

	ch := &Challenge{
		ID:        id.String(),
		AgentID:   agentID,
		Domain:    domain,
		Method:    method,
		Token:     token,
		CreatedAt: s.now().UnixMilli(),
	}

	key := storeKey(agentID, method)
	unlock := s.locks.Lock(key)
	defer unlock()

	// Keep the record past its window so a late check reports expiry instead of
	// a missing challenge. The backend sweeps it after that.
	if err := s.store.Set(ctx, key, *ch, 2*s.expiry); err != nil {
		return nil, NewError("issue", "internal_server_error", fmt.Errorf("can't store challenge: %w", err), http.StatusInternalServerError)
	}

	challengesIssued.WithLabelValues(string(method)).Inc()
	lg.Debug("issued challenge", "challenge_id", ch.ID, "agent_id", agentID, "domain", domain, "method", method)

	return &Issued{
		Token:        token,
		Instructions: method.Instructions(agentID, domain, token),
		Challenge:    ch,
	}, nil
}

type CheckRequest struct {
	AgentID string
	Token   string
	Method  string
}

// Result is the outcome of a check that found a live challenge. When Verified
// is false the challenge is still pending and the owner may retry.
type Result struct {
	Verified bool
	AgentID  string
	Domain   string
	Method   Method
}

// Check looks for the proof of the pending challenge for (AgentID, Method) and
// consumes the challenge when the proof is found.
func (s *Service) Check(ctx context.Context, lg *slog.Logger, req CheckRequest) (*Result, error) {
	agentID := strings.TrimSpace(req.AgentID)

	if agentID == "" || req.Token == "" || req.Method == "" {
		return nil, invalidRequest("check", "missing_required_fields", errors.New("agentId, challengeToken and method are required"))
	}

	method, err := ParseMethod(req.Method)
	if err != nil {
		return nil, invalidRequest("check", "invalid_method", err)
	}

	key := storeKey(agentID, method)
	unlock := s.locks.Lock(key)
	defer unlock()

	ch, err := s.store.Get(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, NewError("check", "challenge_not_found", fmt.Errorf("%w: %s", ErrNotFound, key), http.StatusNotFound)
	case err != nil:
		return nil, NewError("check", "internal_server_error", fmt.Errorf("can't load challenge: %w", err), http.StatusInternalServerError)
	}

	if subtle.ConstantTimeCompare([]byte(ch.Token), []byte(req.Token)) != 1 {
		return nil, NewError("check", "challenge_not_found", fmt.Errorf("%w: token mismatch for %s", ErrNotFound, key), http.StatusNotFound)
	}

	lg = lg.With("challenge_id", ch.ID, "agent_id", ch.AgentID, "domain", ch.Domain, "method", ch.Method)

	if ch.Expired(s.now(), s.expiry) {
		challengesExpired.WithLabelValues(string(method)).Inc()
		if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, store.ErrNotFound) {
			lg.Error("can't delete expired challenge", "err", err)
		}
		return nil, NewError("check", "challenge_expired", fmt.Errorf("%w: issued at %s", ErrExpired, ch.IssuedAt().UTC().Format(time.RFC3339)), http.StatusGone)
	}

	checker, ok := s.checkers[method]
	if !ok {
		return nil, NewError("check", "internal_server_error", fmt.Errorf("%w: %s", ErrNoChecker, method), http.StatusInternalServerError)
	}

	t0 := time.Now()
	verified := checker.Verify(ctx, lg, &ch)
	checkDuration.WithLabelValues(string(method)).Observe(time.Since(t0).Seconds())

	if !verified {
		failedValidations.WithLabelValues(string(method)).Inc()
		lg.Debug("proof not found")
		return &Result{Verified: false, Method: method}, nil
	}

	// Another instance sharing the backend may have consumed or replaced the
	// challenge while the proof was being looked up.
	taken, err := s.store.Take(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, NewError("check", "challenge_not_found", fmt.Errorf("%w: %s was consumed concurrently", ErrNotFound, key), http.StatusNotFound)
	case err != nil:
		return nil, NewError("check", "internal_server_error", fmt.Errorf("can't consume challenge: %w", err), http.StatusInternalServerError)
	case taken.ID != ch.ID:
		if err := s.store.Set(ctx, key, taken, 2*s.expiry); err != nil {
			lg.Error("can't restore superseding challenge", "superseded_by", taken.ID, "err", err)
		}
		return nil, NewError("check", "challenge_not_found", fmt.Errorf("%w: %s was reissued concurrently", ErrNotFound, key), http.StatusNotFound)
	}

	challengesValidated.WithLabelValues(string(method)).Inc()

	if err := s.recorder.Record(ctx, lg, &ch); err != nil {
		lg.Error("can't record verification", "err", err)
	}

	return &Result{
		Verified: true,
		AgentID:  ch.AgentID,
		Domain:   ch.Domain,
		Method:   ch.Method,
	}, nil
}

// Status is the verification state of an agent as published on chain.
type Status struct {
	AgentID    string
	Verified   bool
	Domain     *string
	Method     *Method
	VerifiedAt *time.Time
	ExpiresAt  *time.Time
}

// Status reports the verification state of agentID. Verifications live on
// chain and are not read back yet, so every agent is reported unverified.
func (s *Service) Status(_ context.Context, agentID string) (*Status, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, invalidRequest("status", "missing_agent_id", errors.New("agentId is required"))
	}

	return &Status{AgentID: agentID}, nil
}
