package verify

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oldschoolag/Faivr/lib/store/memory"
)

var tokenRegex = regexp.MustCompile(`^[0-9a-f]{32}$`)

type fakeClock struct {
	lock sync.Mutex
	now  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.now = f.now.Add(d)
}

func always(result bool) Checker {
	return CheckerFunc(func(context.Context, *slog.Logger, *Challenge) bool { return result })
}

type recorderFunc func(*Challenge) error

func (f recorderFunc) Record(_ context.Context, _ *slog.Logger, ch *Challenge) error { return f(ch) }

func newTestService(t *testing.T, checker Checker) (*Service, *fakeClock) {
	t.Helper()

	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	svc, err := New(Options{
		Store: memory.New(t.Context()),
		Checkers: map[Method]Checker{
			MethodDNS:    checker,
			MethodFile:   checker,
			MethodSocial: checker,
		},
		Now: clock.Now,
	})
	if err != nil {
		t.Fatal(err)
	}

	return svc, clock
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func wantError(t *testing.T, err error, sentinel error, status int) {
	t.Helper()

	if !errors.Is(err, sentinel) {
		t.Fatalf("wanted error %v, got: %v", sentinel, err)
	}

	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("error is not a *verify.Error: %v", err)
	}

	if verr.StatusCode != status {
		t.Errorf("wanted status %d, got: %d", status, verr.StatusCode)
	}
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("New without a store should fail")
	}
}

func TestIssue(t *testing.T) {
	for _, method := range Methods {
		t.Run(string(method), func(t *testing.T) {
			svc, _ := newTestService(t, always(true))
			lg := discard()

			first, err := svc.Issue(t.Context(), lg, IssueRequest{AgentID: "42", Domain: "example.com", Method: string(method)})
			if err != nil {
				t.Fatal(err)
			}

			if !tokenRegex.MatchString(first.Token) {
				t.Errorf("token %q does not look like 32 hex characters", first.Token)
			}

			second, err := svc.Issue(t.Context(), lg, IssueRequest{AgentID: "42", Domain: "example.com", Method: string(method)})
			if err != nil {
				t.Fatal(err)
			}

			if first.Token == second.Token {
				t.Fatal("reissue returned the same token")
			}

			_, err = svc.Check(t.Context(), lg, CheckRequest{AgentID: "42", Token: first.Token, Method: string(method)})
			wantError(t, err, ErrNotFound, http.StatusNotFound)

			res, err := svc.Check(t.Context(), lg, CheckRequest{AgentID: "42", Token: second.Token, Method: string(method)})
			if err != nil {
				t.Fatal(err)
			}

			if !res.Verified {
				t.Error("current token should verify")
			}
		})
	}
}

func TestIssueInvalid(t *testing.T) {
	svc, _ := newTestService(t, always(true))

	for _, tt := range []struct {
		name string
		req  IssueRequest
	}{
		{name: "missing agent", req: IssueRequest{Domain: "example.com", Method: "dns"}},
		{name: "blank agent", req: IssueRequest{AgentID: "   ", Domain: "example.com", Method: "dns"}},
		{name: "missing domain", req: IssueRequest{AgentID: "42", Method: "dns"}},
		{name: "missing method", req: IssueRequest{AgentID: "42", Domain: "example.com"}},
		{name: "unknown method", req: IssueRequest{AgentID: "42", Domain: "example.com", Method: "carrier-pigeon"}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Issue(t.Context(), discard(), tt.req)
			wantError(t, err, ErrInvalidRequest, http.StatusBadRequest)
		})
	}
}

func TestMethodsCoexist(t *testing.T) {
	svc, _ := newTestService(t, always(true))
	lg := discard()

	dns, err := svc.Issue(t.Context(), lg, IssueRequest{AgentID: "7", Domain: "example.com", Method: "dns"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Issue(t.Context(), lg, IssueRequest{AgentID: "7", Domain: "example.com", Method: "file"}); err != nil {
		t.Fatal(err)
	}

	res, err := svc.Check(t.Context(), lg, CheckRequest{AgentID: "7", Token: dns.Token, Method: "dns"})
	if err != nil {
		t.Fatal(err)
	}

	if !res.Verified {
		t.Error("issuing a file challenge must not supersede the dns one")
	}
}

func TestCheckUnknownPair(t *testing.T) {
	svc, _ := newTestService(t, always(true))

	for _, token := range []string{"deadbeef", "00000000000000000000000000000000", "x"} {
		t.Run(token, func(t *testing.T) {
			_, err := svc.Check(t.Context(), discard(), CheckRequest{AgentID: "404", Token: token, Method: "dns"})
			wantError(t, err, ErrNotFound, http.StatusNotFound)
		})
	}
}

func TestCheckInvalid(t *testing.T) {
	svc, _ := newTestService(t, always(true))

	for _, tt := range []struct {
		name string
		req  CheckRequest
	}{
		{name: "missing agent", req: CheckRequest{Token: "abc", Method: "dns"}},
		{name: "missing token", req: CheckRequest{AgentID: "42", Method: "dns"}},
		{name: "missing method", req: CheckRequest{AgentID: "42", Token: "abc"}},
		{name: "unknown method", req: CheckRequest{AgentID: "42", Token: "abc", Method: "fax"}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Check(t.Context(), discard(), tt.req)
			wantError(t, err, ErrInvalidRequest, http.StatusBadRequest)
		})
	}
}

func TestCheckTokenIsCaseSensitive(t *testing.T) {
	svc, _ := newTestService(t, always(true))

	iss, err := svc.Issue(t.Context(), discard(), IssueRequest{AgentID: "42", Domain: "example.com", Method: "dns"})
	if err != nil {
		t.Fatal(err)
	}

	upper := []byte(iss.Token)
	for i, c := range upper {
		if c >= 'a' && c <= 'f' {
			upper[i] = c - 'a' + 'A'
		}
	}

	if string(upper) == iss.Token {
		t.Skip("token happened to be all digits")
	}

	_, err = svc.Check(t.Context(), discard(), CheckRequest{AgentID: "42", Token: string(upper), Method: "dns"})
	wantError(t, err, ErrNotFound, http.StatusNotFound)
}

func TestCheckConsumes(t *testing.T) {
	var recorded atomic.Int32
	svc, _ := newTestService(t, always(true))
	svc.recorder = recorderFunc(func(ch *Challenge) error {
		recorded.Add(1)
		return nil
	})
	lg := discard()

	iss, err := svc.Issue(t.Context(), lg, IssueRequest{AgentID: "42", Domain: "example.com", Method: "file"})
	if err != nil {
		t.Fatal(err)
	}

	res, err := svc.Check(t.Context(), lg, CheckRequest{AgentID: "42", Token: iss.Token, Method: "file"})
	if err != nil {
		t.Fatal(err)
	}

	want := Result{Verified: true, AgentID: "42", Domain: "example.com", Method: MethodFile}
	if *res != want {
		t.Errorf("wanted %+v, got: %+v", want, *res)
	}

	if n := recorded.Load(); n != 1 {
		t.Errorf("recorder called %d times, wanted 1", n)
	}

	_, err = svc.Check(t.Context(), lg, CheckRequest{AgentID: "42", Token: iss.Token, Method: "file"})
	wantError(t, err, ErrNotFound, http.StatusNotFound)
}

func TestCheckFailureKeepsChallenge(t *testing.T) {
	var found atomic.Bool
	svc, _ := newTestService(t, CheckerFunc(func(context.Context, *slog.Logger, *Challenge) bool {
		return found.Load()
	}))
	lg := discard()

	iss, err := svc.Issue(t.Context(), lg, IssueRequest{AgentID: "42", Domain: "example.com", Method: "dns"})
	if err != nil {
		t.Fatal(err)
	}

	for range 3 {
		res, err := svc.Check(t.Context(), lg, CheckRequest{AgentID: "42", Token: iss.Token, Method: "dns"})
		if err != nil {
			t.Fatal(err)
		}
		if res.Verified {
			t.Fatal("check verified without a proof")
		}
		if res.Method != MethodDNS {
			t.Errorf("wanted method dns in failure result, got: %q", res.Method)
		}
	}

	found.Store(true)

	res, err := svc.Check(t.Context(), lg, CheckRequest{AgentID: "42", Token: iss.Token, Method: "dns"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Verified {
		t.Error("retry after publishing the proof should verify")
	}
}

func TestCheckExpired(t *testing.T) {
	svc, clock := newTestService(t, always(true))
	lg := discard()

	iss, err := svc.Issue(t.Context(), lg, IssueRequest{AgentID: "42", Domain: "example.com", Method: "dns"})
	if err != nil {
		t.Fatal(err)
	}

	clock.Advance(3601 * time.Second)

	_, err = svc.Check(t.Context(), lg, CheckRequest{AgentID: "42", Token: iss.Token, Method: "dns"})
	wantError(t, err, ErrExpired, http.StatusGone)

	_, err = svc.Check(t.Context(), lg, CheckRequest{AgentID: "42", Token: iss.Token, Method: "dns"})
	wantError(t, err, ErrNotFound, http.StatusNotFound)

	fresh, err := svc.Issue(t.Context(), lg, IssueRequest{AgentID: "42", Domain: "example.com", Method: "dns"})
	if err != nil {
		t.Fatal(err)
	}

	res, err := svc.Check(t.Context(), lg, CheckRequest{AgentID: "42", Token: fresh.Token, Method: "dns"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Verified {
		t.Error("fresh challenge after expiry should verify")
	}
}

func TestCheckAtExactExpiry(t *testing.T) {
	svc, clock := newTestService(t, always(true))
	lg := discard()

	iss, err := svc.Issue(t.Context(), lg, IssueRequest{AgentID: "42", Domain: "example.com", Method: "dns"})
	if err != nil {
		t.Fatal(err)
	}

	clock.Advance(time.Hour)

	res, err := svc.Check(t.Context(), lg, CheckRequest{AgentID: "42", Token: iss.Token, Method: "dns"})
	if err != nil {
		t.Fatalf("challenge exactly one window old should still be live: %v", err)
	}
	if !res.Verified {
		t.Error("wanted verified")
	}
}

func TestTwitterAlias(t *testing.T) {
	svc, _ := newTestService(t, always(true))
	lg := discard()

	iss, err := svc.Issue(t.Context(), lg, IssueRequest{AgentID: "42", Domain: "example.com", Method: "twitter"})
	if err != nil {
		t.Fatal(err)
	}

	if iss.Challenge.Method != MethodSocial {
		t.Errorf("twitter should map to social, got: %q", iss.Challenge.Method)
	}

	res, err := svc.Check(t.Context(), lg, CheckRequest{AgentID: "42", Token: iss.Token, Method: "social"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Verified {
		t.Error("wanted verified")
	}
}

func TestRecorderFailureIsNotFatal(t *testing.T) {
	svc, _ := newTestService(t, always(true))
	svc.recorder = recorderFunc(func(*Challenge) error { return errors.New("chain is down") })
	lg := discard()

	iss, err := svc.Issue(t.Context(), lg, IssueRequest{AgentID: "42", Domain: "example.com", Method: "dns"})
	if err != nil {
		t.Fatal(err)
	}

	res, err := svc.Check(t.Context(), lg, CheckRequest{AgentID: "42", Token: iss.Token, Method: "dns"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Verified {
		t.Error("recorder failure should not change the outcome")
	}
}

func TestNoChecker(t *testing.T) {
	svc, err := New(Options{Store: memory.New(t.Context()), Checkers: map[Method]Checker{}})
	if err != nil {
		t.Fatal(err)
	}
	delete(svc.checkers, MethodDNS)

	iss, err := svc.Issue(t.Context(), discard(), IssueRequest{AgentID: "42", Domain: "example.com", Method: "dns"})
	if err != nil {
		t.Fatal(err)
	}

	_, err = svc.Check(t.Context(), discard(), CheckRequest{AgentID: "42", Token: iss.Token, Method: "dns"})
	wantError(t, err, ErrNoChecker, http.StatusInternalServerError)
}

func TestConcurrentChecksConsumeOnce(t *testing.T) {
	svc, _ := newTestService(t, always(true))
	lg := discard()

	iss, err := svc.Issue(t.Context(), lg, IssueRequest{AgentID: "42", Domain: "example.com", Method: "dns"})
	if err != nil {
		t.Fatal(err)
	}

	var (
		wg       sync.WaitGroup
		verified atomic.Int32
	)

	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Check(t.Context(), lg, CheckRequest{AgentID: "42", Token: iss.Token, Method: "dns"})
			if err == nil && res.Verified {
				verified.Add(1)
			}
		}()
	}

	wg.Wait()

	if n := verified.Load(); n != 1 {
		t.Errorf("challenge verified %d times, wanted exactly once", n)
	}

	if n := svc.locks.len(); n != 0 {
		t.Errorf("%d key locks leaked", n)
	}
}

// Two services sharing one backend stand in for two instances behind a load
// balancer: they do not share key locks.
func TestSharedStoreConsumesOnce(t *testing.T) {
	shared := memory.New(t.Context())

	var arrived sync.WaitGroup
	arrived.Add(2)
	barrier := CheckerFunc(func(context.Context, *slog.Logger, *Challenge) bool {
		arrived.Done()
		arrived.Wait()
		return true
	})

	var recorded atomic.Int32
	rec := recorderFunc(func(*Challenge) error {
		recorded.Add(1)
		return nil
	})

	var svcs []*Service
	for range 2 {
		svc, err := New(Options{
			Store:    shared,
			Checkers: map[Method]Checker{MethodDNS: barrier},
			Recorder: rec,
		})
		if err != nil {
			t.Fatal(err)
		}
		svcs = append(svcs, svc)
	}

	iss, err := svcs[0].Issue(t.Context(), discard(), IssueRequest{AgentID: "42", Domain: "example.com", Method: "dns"})
	if err != nil {
		t.Fatal(err)
	}

	var (
		wg       sync.WaitGroup
		verified atomic.Int32
		notFound atomic.Int32
	)

	for _, svc := range svcs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Check(t.Context(), discard(), CheckRequest{AgentID: "42", Token: iss.Token, Method: "dns"})
			switch {
			case errors.Is(err, ErrNotFound):
				notFound.Add(1)
			case err == nil && res.Verified:
				verified.Add(1)
			}
		}()
	}

	wg.Wait()

	if verified.Load() != 1 || notFound.Load() != 1 {
		t.Errorf("wanted one verified and one not found, got %d verified and %d not found", verified.Load(), notFound.Load())
	}

	if n := recorded.Load(); n != 1 {
		t.Errorf("verification recorded %d times, wanted once", n)
	}
}

func TestStatus(t *testing.T) {
	svc, _ := newTestService(t, always(true))

	st, err := svc.Status(t.Context(), "42")
	if err != nil {
		t.Fatal(err)
	}

	if st.AgentID != "42" || st.Verified || st.Domain != nil || st.Method != nil || st.VerifiedAt != nil || st.ExpiresAt != nil {
		t.Errorf("unexpected placeholder status: %+v", st)
	}

	_, err = svc.Status(t.Context(), "")
	wantError(t, err, ErrInvalidRequest, http.StatusBadRequest)
}
