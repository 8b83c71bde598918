package lib

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oldschoolag/Faivr/lib/support/learnings"
)

func chat(t *testing.T, env *testEnv, ip string, body any) (int, map[string]any) {
	t.Helper()
	return env.do(t, http.MethodPost, "/api/support/chat", body, map[string]string{"X-Forwarded-For": ip})
}

func TestChat(t *testing.T) {
	env := spawnServer(t, envOpts{})

	for _, tt := range []struct {
		name      string
		body      any
		status    int
		wantMatch string
		wantText  string
		wantErr   string
	}{
		{
			name:      "known question",
			body:      map[string]any{"message": "What is FAIVR?"},
			status:    http.StatusOK,
			wantMatch: "what-is-faivr",
		},
		{
			name:      "history is accepted",
			body:      map[string]any{"message": "how do I verify my domain", "history": []map[string]string{{"role": "user", "content": "hi"}, {"role": "assistant", "content": "hello"}}},
			status:    http.StatusOK,
			wantMatch: "verification",
		},
		{
			name:     "off topic",
			body:     map[string]any{"message": "zzz qqq"},
			status:   http.StatusOK,
			wantText: "FAIVR",
		},
		{
			name:     "blank message gets the greeting",
			body:     map[string]any{"message": "   "},
			status:   http.StatusOK,
			wantText: "FAIVR",
		},
		{
			name:    "missing message",
			body:    map[string]any{"history": []any{}},
			status:  http.StatusBadRequest,
			wantErr: "Message required",
		},
		{
			name:    "empty message",
			body:    map[string]any{"message": ""},
			status:  http.StatusBadRequest,
			wantErr: "Message required",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := chat(t, env, "198.51.100.1", tt.body)
			if status != tt.status {
				t.Fatalf("wanted status %d, got: %d (%v)", tt.status, status, resp)
			}

			if tt.wantErr != "" {
				if resp["error"] != tt.wantErr {
					t.Errorf("wanted error %q, got: %v", tt.wantErr, resp["error"])
				}
				return
			}

			if resp["mode"] != "rules" {
				t.Errorf("wanted rules mode without a completer, got: %v", resp["mode"])
			}

			reply, _ := resp["reply"].(string)
			if reply == "" {
				t.Fatal("empty reply")
			}

			if tt.wantText != "" && !strings.Contains(reply, tt.wantText) {
				t.Errorf("reply %q does not mention %q", reply, tt.wantText)
			}

			matchID, _ := resp["matchId"].(string)
			if matchID != tt.wantMatch {
				t.Errorf("wanted match %q, got: %q", tt.wantMatch, matchID)
			}
		})
	}
}

func TestChatRateLimit(t *testing.T) {
	env := spawnServer(t, envOpts{})

	for i := range 20 {
		status, resp := chat(t, env, "203.0.113.7", map[string]any{"message": "fees"})
		if status != http.StatusOK {
			t.Fatalf("request %d: wanted 200, got: %d %v", i+1, status, resp)
		}
	}

	status, resp := chat(t, env, "203.0.113.7", map[string]any{"message": "fees"})
	if status != http.StatusTooManyRequests || resp["error"] != "Rate limited. Please wait a moment." {
		t.Errorf("21st request: wanted 429, got: %d %v", status, resp)
	}

	status, _ = chat(t, env, "203.0.113.8", map[string]any{"message": "fees"})
	if status != http.StatusOK {
		t.Errorf("other clients should not be limited, got: %d", status)
	}
}

func TestChatRateLimitRunsBeforeDecoding(t *testing.T) {
	env := spawnServer(t, envOpts{limit: 1})

	if status, _ := chat(t, env, "203.0.113.9", "not json"); status != http.StatusInternalServerError {
		t.Fatalf("wanted 500, got: %d", status)
	}

	if status, _ := chat(t, env, "203.0.113.9", "not json"); status != http.StatusTooManyRequests {
		t.Errorf("wanted 429, got: %d", status)
	}
}

func TestFeedback(t *testing.T) {
	env := spawnServer(t, envOpts{})

	for _, tt := range []struct {
		name   string
		body   any
		status int
	}{
		{
			name:   "helpful",
			body:   map[string]any{"id": "fees", "question": "what are the fees", "answer": "2.5%", "helpful": true, "sessionId": "s1"},
			status: http.StatusOK,
		},
		{
			name:   "not helpful",
			body:   map[string]any{"id": "off-topic", "question": "weather", "answer": "...", "helpful": false},
			status: http.StatusOK,
		},
		{
			name:   "missing helpful",
			body:   map[string]any{"id": "fees", "question": "what are the fees"},
			status: http.StatusBadRequest,
		},
		{
			name:   "missing id",
			body:   map[string]any{"question": "what are the fees", "helpful": true},
			status: http.StatusBadRequest,
		},
		{
			name:   "missing question",
			body:   map[string]any{"id": "fees", "helpful": true},
			status: http.StatusBadRequest,
		},
		{
			name:   "not json",
			body:   "{not json",
			status: http.StatusInternalServerError,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := env.post(t, "/api/support/feedback", tt.body)
			if status != tt.status {
				t.Fatalf("wanted status %d, got: %d (%v)", tt.status, status, resp)
			}

			if status == http.StatusOK && resp["ok"] != true {
				t.Errorf("wanted ok, got: %v", resp)
			}

			if status == http.StatusBadRequest && resp["error"] != "Invalid feedback" {
				t.Errorf("wanted invalid feedback error, got: %v", resp)
			}
		})
	}

	status, resp := env.do(t, http.MethodGet, "/api/support/feedback", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("wanted 200, got: %d %v", status, resp)
	}

	entries, _ := resp["entries"].([]any)
	if len(entries) != 2 {
		t.Fatalf("wanted 2 entries, got: %d", len(entries))
	}

	first := entries[0].(map[string]any)
	if first["id"] != "fees" || first["helpful"] != true || first["sessionId"] != "s1" {
		t.Errorf("unexpected first entry: %v", first)
	}

	if ts, _ := first["timestamp"].(float64); ts <= 0 {
		t.Errorf("entry was not timestamped: %v", first)
	}
}

func TestFeedbackListSurvivesCorruption(t *testing.T) {
	env := spawnServer(t, envOpts{})

	if err := os.MkdirAll(env.learnings.Dir(), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(env.learnings.Dir(), learnings.FeedbackFile), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}

	status, resp := env.do(t, http.MethodGet, "/api/support/feedback", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("wanted 200, got: %d %v", status, resp)
	}

	if entries, ok := resp["entries"].([]any); !ok || len(entries) != 0 {
		t.Errorf("wanted an empty list, got: %v", resp["entries"])
	}
}

func TestCustomQA(t *testing.T) {
	env := spawnServer(t, envOpts{})

	status, resp := env.post(t, "/api/support/admin/qa", map[string]any{"question": "Do you support refunds for cancelled subscriptions?", "answer": "No subscriptions exist on FAIVR."})
	if status != http.StatusOK || resp["ok"] != true {
		t.Fatalf("wanted 200 ok, got: %d %v", status, resp)
	}

	qa, _ := resp["qa"].(map[string]any)
	id, _ := qa["id"].(string)
	if !strings.HasPrefix(id, "custom-") {
		t.Errorf("unexpected custom id %q", id)
	}

	for _, body := range []map[string]any{
		{"question": "only a question"},
		{"answer": "only an answer"},
		{"question": "", "answer": ""},
	} {
		t.Run(fmt.Sprint(body), func(t *testing.T) {
			status, resp := env.post(t, "/api/support/admin/qa", body)
			if status != http.StatusBadRequest || resp["error"] != "Question and answer required" {
				t.Errorf("wanted 400, got: %d %v", status, resp)
			}
		})
	}

	status, resp = env.do(t, http.MethodGet, "/api/support/admin/qa", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("wanted 200, got: %d %v", status, resp)
	}

	qas, _ := resp["qas"].([]any)
	if len(qas) != 1 || qas[0].(map[string]any)["id"] != id {
		t.Fatalf("unexpected listing: %v", resp)
	}

	status, resp = chat(t, env, "198.51.100.2", map[string]any{"message": "refunds cancelled subscriptions"})
	if status != http.StatusOK {
		t.Fatalf("wanted 200, got: %d %v", status, resp)
	}

	if resp["matchId"] != id || resp["reply"] != "No subscriptions exist on FAIVR." {
		t.Errorf("custom answer not used: %v", resp)
	}
}

func TestListEndpointsGzip(t *testing.T) {
	env := spawnServer(t, envOpts{})

	for _, path := range []string{"/api/support/feedback", "/api/support/admin/qa"} {
		t.Run(path, func(t *testing.T) {
			req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, env.ts.URL+path, nil)
			if err != nil {
				t.Fatal(err)
			}
			req.Header.Set("Accept-Encoding", "gzip")

			resp, err := env.ts.Client().Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()

			if got := resp.Header.Get("Content-Encoding"); got != "gzip" {
				t.Errorf("wanted gzip encoding, got: %q", got)
			}
		})
	}
}
