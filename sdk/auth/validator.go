package auth

import (
	"context"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/waypost-app/waypost-go/internal/auth/credentials"
)

// ValidationState is a transitional state emitted while a credential is
// being validated or refreshed, for UI observation.
type ValidationState int

const (
	// StateRefreshing signals that validation failed and a refresh round
	// trip is in flight.
	StateRefreshing ValidationState = iota
	// StateRefreshFailed signals that the fallback refresh did not produce
	// a usable session.
	StateRefreshFailed
)

// StateObserver receives transitional validation states. Observers must be
// cheap; they are called synchronously.
type StateObserver func(ValidationState)

// SessionValidator checks a credential against the backend's lightweight
// session-check endpoint and falls back to a full refresh when the check
// fails. Validation is cheaper than refresh (no state mutation on the
// backend), and most app-resume checks pass without a refresh round trip.
type SessionValidator struct {
	httpClient  *http.Client
	baseURL     string
	coordinator *SessionCoordinator
	observer    StateObserver
}

// NewSessionValidator constructs a validator. observer may be nil.
func NewSessionValidator(httpClient *http.Client, baseURL string, coordinator *SessionCoordinator, observer StateObserver) *SessionValidator {
	return &SessionValidator{
		httpClient:  httpClient,
		baseURL:     strings.TrimRight(baseURL, "/"),
		coordinator: coordinator,
		observer:    observer,
	}
}

// Validate checks the credential with the backend. When the check passes the
// credential is returned unchanged and no states are emitted. On any check
// failure it emits StateRefreshing and attempts a refresh; a successful
// refresh returns the new credential, a failed one emits StateRefreshFailed
// and returns (nil, nil) so the caller can transition to its expired state.
func (v *SessionValidator) Validate(ctx context.Context, cred *credentials.Credential, reason string) (*credentials.Credential, error) {
	if cred == nil {
		return nil, nil
	}

	if v.checkSession(ctx, cred) {
		return cred, nil
	}

	log.WithField("reason", reason).Debug("session check failed, refreshing")
	v.emit(StateRefreshing)

	refreshed, err := v.coordinator.Refresh(ctx, cred)
	if err != nil {
		log.WithFields(log.Fields{"reason": reason, "error": err}).Warn("session refresh failed during validation")
		v.emit(StateRefreshFailed)
		return nil, nil
	}
	return refreshed, nil
}

// RefreshCredentials forces a refresh without the validate-first step. It
// emits the same transitional states and returns the coordinator's error on
// failure.
func (v *SessionValidator) RefreshCredentials(ctx context.Context, cred *credentials.Credential) (*credentials.Credential, error) {
	v.emit(StateRefreshing)
	refreshed, err := v.coordinator.Refresh(ctx, cred)
	if err != nil {
		v.emit(StateRefreshFailed)
		return nil, err
	}
	return refreshed, nil
}

// checkSession calls the session-check endpoint; any transport error,
// non-200 status or unusable body counts as a failed check.
func (v *SessionValidator) checkSession(ctx context.Context, cred *credentials.Credential) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+sessionCheckPath, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+cred.SessionToken)
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

func (v *SessionValidator) emit(state ValidationState) {
	if v.observer != nil {
		v.observer(state)
	}
}
