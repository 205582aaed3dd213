package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/waypost-app/waypost-go/internal/auth/cookies"
	"github.com/waypost-app/waypost-go/internal/auth/pkce"
)

func TestParseCallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		url     string
		want    *CallbackPayload
		wantErr bool
	}{
		{
			"exchange code",
			"waypost://auth?code=s1",
			&CallbackPayload{Kind: CallbackExchangeCode, Code: "s1"},
			false,
		},
		{
			"sealed session",
			"waypost://auth?did=did:plc:abc&session_token=tok123",
			&CallbackPayload{Kind: CallbackSealedSession, DID: "did:plc:abc", SessionToken: "tok123"},
			false,
		},
		{
			"sealed session wins over stray code",
			"waypost://auth?code=s1&did=did:plc:abc&session_token=tok123",
			&CallbackPayload{Kind: CallbackSealedSession, DID: "did:plc:abc", SessionToken: "tok123"},
			false,
		},
		{"did without token falls back to nothing", "waypost://auth?did=did:plc:abc", nil, true},
		{"neither shape", "waypost://auth?foo=bar", nil, true},
		{"empty url", "", nil, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseCallback(tt.url)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCallback) {
					t.Fatalf("ParseCallback() error = %v, want ErrInvalidCallback", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCallback() error = %v", err)
			}
			if *got != *tt.want {
				t.Errorf("ParseCallback() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func newTestCoordinator(t *testing.T, handler http.Handler) (*OAuthCoordinator, *pkce.MemoryVerifierStore, *cookies.Manager) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	verifiers := pkce.NewMemoryVerifierStore()
	cookieMgr := cookies.NewManager(cookies.NewMemoryJar(), "api.waypost.example", "sid")
	coord := NewOAuthCoordinator(server.Client(), server.URL, verifiers, cookieMgr, 24*time.Hour)
	return coord, verifiers, cookieMgr
}

func TestStartFlowStoresVerifier(t *testing.T) {
	t.Parallel()

	var gotBody map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc(flowStartPath, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode flow-start body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"authUrl":    "https://x/cb",
			"handle":     "alice.example",
			"did":        "did:plc:alice",
			"session_id": "s1",
		})
	})

	coord, verifiers, _ := newTestCoordinator(t, mux)

	authURL, err := coord.StartFlow(context.Background(), "alice.example")
	if err != nil {
		t.Fatalf("StartFlow() error = %v", err)
	}
	if authURL != "https://x/cb" {
		t.Errorf("authURL = %q, want https://x/cb", authURL)
	}

	verifier, ok := verifiers.Retrieve("s1")
	if !ok || verifier == "" {
		t.Fatal("no verifier stored under session id s1")
	}
	if gotBody["handle"] != "alice.example" {
		t.Errorf("request handle = %q, want alice.example", gotBody["handle"])
	}
	if gotBody["code_challenge"] != pkce.ChallengeFor(verifier) {
		t.Error("sent code_challenge does not match the stored verifier")
	}
}

func TestStartFlowServerError(t *testing.T) {
	t.Parallel()

	coord, _, _ := newTestCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))

	_, err := coord.StartFlow(context.Background(), "alice.example")
	var authErr *Error
	if !errors.As(err, &authErr) || authErr.HTTPStatus != http.StatusBadGateway {
		t.Fatalf("StartFlow() error = %v, want server error with status 502", err)
	}
}

func TestCompleteFlowSealedSession(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc(sessionCheckPath, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok123" {
			t.Errorf("session check Authorization = %q, want Bearer tok123", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"userHandle": "bob.example",
			"did":        "did:plc:abc",
		})
	})

	coord, _, cookieMgr := newTestCoordinator(t, mux)

	cred, err := coord.CompleteFlow(context.Background(), "waypost://auth?did=did:plc:abc&session_token=tok123")
	if err != nil {
		t.Fatalf("CompleteFlow() error = %v", err)
	}
	if cred.Handle != "bob.example" || cred.SessionToken != "tok123" || cred.DID != "did:plc:abc" {
		t.Errorf("credential = %+v", cred)
	}
	if !cred.IsValid(time.Now()) {
		t.Error("sealed-session credential should be valid")
	}
	if token, ok := cookieMgr.Current(); !ok || token != "tok123" {
		t.Errorf("session cookie = (%q, %v), want (tok123, true)", token, ok)
	}
}

func TestCompleteFlowInvalidCallback(t *testing.T) {
	t.Parallel()

	coord, _, _ := newTestCoordinator(t, http.NewServeMux())

	_, err := coord.CompleteFlow(context.Background(), "waypost://auth?state=xyz")
	if !errors.Is(err, ErrInvalidCallback) {
		t.Fatalf("CompleteFlow() error = %v, want ErrInvalidCallback", err)
	}
}

func TestCompleteFlowExchange(t *testing.T) {
	t.Parallel()

	var gotExchange map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc(exchangePath, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotExchange); err != nil {
			t.Errorf("decode exchange body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-upstream",
			"refresh_token": "rt-upstream",
			"expires_in":    3600,
			"token_type":    "Bearer",
			"scope":         "atproto",
			"did":           "did:plc:alice",
			"handle":        "alice.example",
			"pds_url":       "https://pds.example",
			"session_id":    "sess-9",
		})
	})

	coord, verifiers, _ := newTestCoordinator(t, mux)
	if err := verifiers.Store("code-1", "verifier-1"); err != nil {
		t.Fatal(err)
	}

	cred, err := coord.CompleteFlow(context.Background(), "waypost://auth?code=code-1")
	if err != nil {
		t.Fatalf("CompleteFlow() error = %v", err)
	}
	if cred.Handle != "alice.example" || cred.DID != "did:plc:alice" || cred.SessionToken != "sess-9" {
		t.Errorf("credential = %+v", cred)
	}
	if cred.PDSURL != "https://pds.example" {
		t.Errorf("PDSURL = %q", cred.PDSURL)
	}
	if gotExchange["code"] != "code-1" || gotExchange["code_verifier"] != "verifier-1" {
		t.Errorf("exchange request = %+v", gotExchange)
	}
	if _, ok := verifiers.Retrieve("code-1"); ok {
		t.Error("verifier not cleared after successful exchange")
	}
}

func TestCompleteFlowExchangeMissingVerifier(t *testing.T) {
	t.Parallel()

	coord, _, _ := newTestCoordinator(t, http.NewServeMux())

	_, err := coord.CompleteFlow(context.Background(), "waypost://auth?code=unknown")
	if !errors.Is(err, ErrMissingVerifier) {
		t.Fatalf("CompleteFlow() error = %v, want ErrMissingVerifier", err)
	}
}

func TestCompleteFlowExchangeClearsVerifierOnFailure(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc(exchangePath, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "exchange rejected", http.StatusBadRequest)
	})

	coord, verifiers, _ := newTestCoordinator(t, mux)
	if err := verifiers.Store("code-2", "verifier-2"); err != nil {
		t.Fatal(err)
	}

	if _, err := coord.CompleteFlow(context.Background(), "waypost://auth?code=code-2"); err == nil {
		t.Fatal("CompleteFlow() succeeded against a rejecting exchange endpoint")
	}
	// Clear-on-consume: the verifier must be gone even though the exchange
	// failed, so the code cannot be replayed.
	if _, ok := verifiers.Retrieve("code-2"); ok {
		t.Error("verifier survived a failed exchange")
	}
}
