package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestValidator(t *testing.T, handler http.Handler) (*SessionValidator, *[]ValidationState) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	var states []ValidationState
	coord := NewSessionCoordinator(server.Client(), server.URL, false, nil, 24*time.Hour)
	validator := NewSessionValidator(server.Client(), server.URL, coord, func(s ValidationState) {
		states = append(states, s)
	})
	return validator, &states
}

func TestValidatePassesWithoutRefresh(t *testing.T) {
	t.Parallel()

	refreshCalled := false
	mux := http.NewServeMux()
	mux.HandleFunc(sessionCheckPath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"userHandle":"alice.example","did":"did:plc:alice"}`))
	})
	mux.HandleFunc(refreshPath, func(w http.ResponseWriter, r *http.Request) {
		refreshCalled = true
	})

	validator, states := newTestValidator(t, mux)

	cred := testCredential("tok", time.Now().Add(time.Hour))
	got, err := validator.Validate(context.Background(), cred, "launch")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got != cred {
		t.Error("a passing check must return the credential unchanged")
	}
	if refreshCalled {
		t.Error("a passing check must not trigger a refresh")
	}
	if len(*states) != 0 {
		t.Errorf("states = %v, want none", *states)
	}
}

func TestValidateFallsBackToRefresh(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc(sessionCheckPath, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	})
	mux.HandleFunc(refreshPath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"payload":{"sid":"new-token","did":"did:plc:alice"}}`))
	})

	validator, states := newTestValidator(t, mux)

	got, err := validator.Validate(context.Background(), testCredential("tok", time.Now()), "resume")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got == nil || got.SessionToken != "new-token" {
		t.Fatalf("Validate() = %+v, want refreshed credential", got)
	}
	if len(*states) != 1 || (*states)[0] != StateRefreshing {
		t.Errorf("states = %v, want [StateRefreshing]", *states)
	}
}

func TestValidateRefreshFailure(t *testing.T) {
	t.Parallel()

	validator, states := newTestValidator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusUnauthorized)
	}))

	got, err := validator.Validate(context.Background(), testCredential("tok", time.Now()), "resume")
	if err != nil {
		t.Fatalf("Validate() error = %v, want nil (expiry is a state, not an error)", err)
	}
	if got != nil {
		t.Fatalf("Validate() = %+v, want nil", got)
	}
	want := []ValidationState{StateRefreshing, StateRefreshFailed}
	if len(*states) != len(want) || (*states)[0] != want[0] || (*states)[1] != want[1] {
		t.Errorf("states = %v, want %v", *states, want)
	}
}

func TestValidateNilCredential(t *testing.T) {
	t.Parallel()

	validator, _ := newTestValidator(t, http.NewServeMux())
	got, err := validator.Validate(context.Background(), nil, "launch")
	if got != nil || err != nil {
		t.Fatalf("Validate(nil) = (%v, %v), want (nil, nil)", got, err)
	}
}

func TestRefreshCredentialsPropagatesError(t *testing.T) {
	t.Parallel()

	validator, states := newTestValidator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusUnauthorized)
	}))

	_, err := validator.RefreshCredentials(context.Background(), testCredential("tok", time.Now()))
	if err == nil {
		t.Fatal("RefreshCredentials() error = nil, want refresh failure")
	}
	want := []ValidationState{StateRefreshing, StateRefreshFailed}
	if len(*states) != len(want) || (*states)[0] != want[0] || (*states)[1] != want[1] {
		t.Errorf("states = %v, want %v", *states, want)
	}
}
