package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/waypost-app/waypost-go/internal/auth/cookies"
	"github.com/waypost-app/waypost-go/internal/auth/credentials"
)

// refreshPath is the backend session refresh endpoint.
const refreshPath = "/mobile/refresh-token"

// SessionCoordinator performs the backend session refresh call and rebuilds
// the credential around the newly issued session token.
type SessionCoordinator struct {
	httpClient *http.Client
	baseURL    string
	cookieMode bool
	cookieMgr  *cookies.Manager
	sessionTTL time.Duration
	now        func() time.Time
}

// NewSessionCoordinator constructs a coordinator. When cookieMode is set the
// refresh call authenticates via the mirrored session cookie and the new
// token is re-applied to the jar before returning.
func NewSessionCoordinator(httpClient *http.Client, baseURL string, cookieMode bool, cookieMgr *cookies.Manager, sessionTTL time.Duration) *SessionCoordinator {
	return &SessionCoordinator{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		cookieMode: cookieMode,
		cookieMgr:  cookieMgr,
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

// Refresh exchanges the current session for a fresh one. HTTP 401 and 404
// mean the session is gone for good and map to
// ErrSessionExpiredUnrecoverable; an unusable response envelope maps to
// ErrRefreshFailed. On success the returned credential reuses the handle and
// endpoint of current, carries the new session token, and expires after the
// configured session TTL (the cookie variant of the backend does not report
// an expiry of its own).
func (s *SessionCoordinator) Refresh(ctx context.Context, current *credentials.Credential) (*credentials.Credential, error) {
	if current == nil {
		return nil, ErrNotAuthenticated
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+refreshPath, nil)
	if err != nil {
		return nil, fmt.Errorf("session: create refresh request failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.cookieMode && s.cookieMgr != nil {
		if token, ok := s.cookieMgr.Current(); ok {
			req.AddCookie(&http.Cookie{Name: s.cookieMgr.Name(), Value: token})
		} else {
			// Cookie jar lost the token (fresh process); fall back to the
			// stored one so the refresh can still succeed.
			req.AddCookie(&http.Cookie{Name: s.cookieMgr.Name(), Value: current.SessionToken})
		}
	} else {
		req.Header.Set("Authorization", "Bearer "+current.SessionToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, NetworkError(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NetworkError(err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusNotFound:
		return nil, &Error{
			Code:       ErrSessionExpiredUnrecoverable.Code,
			Message:    fmt.Sprintf("refresh rejected with status %d", resp.StatusCode),
			HTTPStatus: resp.StatusCode,
		}
	default:
		return nil, ServerError(resp.StatusCode, body)
	}

	if !gjson.GetBytes(body, "success").Bool() {
		return nil, ErrRefreshFailed
	}
	sid := gjson.GetBytes(body, "payload.sid").String()
	did := gjson.GetBytes(body, "payload.did").String()
	if sid == "" || did == "" {
		return nil, ErrRefreshFailed
	}

	refreshed := current.Clone()
	refreshed.DID = did
	refreshed.SessionToken = sid
	refreshed.SetExpiresAt(s.now().Add(s.sessionTTL))

	if s.cookieMode && s.cookieMgr != nil {
		expiresAt, _ := refreshed.ExpiresAt()
		if err = s.cookieMgr.Apply(sid, expiresAt); err != nil {
			return nil, fmt.Errorf("session: re-applying cookie after refresh failed: %w", err)
		}
	}

	log.WithFields(log.Fields{"handle": refreshed.Handle, "did": refreshed.DID}).Debug("session refreshed")
	return refreshed, nil
}
