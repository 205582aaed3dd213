package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/waypost-app/waypost-go/internal/auth/cookies"
	"github.com/waypost-app/waypost-go/internal/auth/credentials"
	"github.com/waypost-app/waypost-go/internal/auth/pkce"
)

// Backend endpoints consumed by the OAuth coordinator.
const (
	flowStartPath    = "/api/auth/mobile-start"
	exchangePath     = "/api/auth/exchange"
	sessionCheckPath = "/api/auth/session"
)

// CallbackKind discriminates the two supported OAuth callback shapes.
type CallbackKind int

const (
	// CallbackExchangeCode is the PKCE exchange path: the redirect carries a
	// code identifying the flow session.
	CallbackExchangeCode CallbackKind = iota
	// CallbackSealedSession is the session-sealing path: the backend
	// completed OAuth server-side and handed back a ready session token.
	CallbackSealedSession
)

// CallbackPayload is the parsed form of an OAuth redirect URL. The query is
// parsed exactly once and then dispatched on Kind, so the two shapes can
// never be confused by parsing order.
type CallbackPayload struct {
	Kind         CallbackKind
	Code         string
	DID          string
	SessionToken string
}

// ParseCallback parses the redirect URL delivered to the app's custom scheme
// into a tagged payload. A URL carrying neither a code nor a did plus
// session_token pair yields ErrInvalidCallback.
func ParseCallback(callbackURL string) (*CallbackPayload, error) {
	u, err := url.Parse(strings.TrimSpace(callbackURL))
	if err != nil {
		return nil, ErrInvalidCallback
	}
	query := u.Query()

	did := strings.TrimSpace(query.Get("did"))
	sessionToken := strings.TrimSpace(query.Get("session_token"))
	if did != "" && sessionToken != "" {
		return &CallbackPayload{Kind: CallbackSealedSession, DID: did, SessionToken: sessionToken}, nil
	}

	if code := strings.TrimSpace(query.Get("code")); code != "" {
		return &CallbackPayload{Kind: CallbackExchangeCode, Code: code}, nil
	}

	return nil, ErrInvalidCallback
}

// flowStartResponse is the backend's answer to a flow-start request.
type flowStartResponse struct {
	AuthURL   string `json:"authUrl"`
	Handle    string `json:"handle"`
	DID       string `json:"did"`
	SessionID string `json:"session_id"`
}

// exchangeResponse is the OAuth-2.1-shaped token response from the exchange
// endpoint.
type exchangeResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	DID          string `json:"did"`
	Handle       string `json:"handle"`
	PDSURL       string `json:"pds_url"`
	SessionID    string `json:"session_id"`
}

// OAuthCoordinator drives the PKCE-protected flow-start and callback
// completion against the backend. The backend talks to the identity
// provider; this coordinator only ever sees the backend.
type OAuthCoordinator struct {
	httpClient *http.Client
	baseURL    string
	verifiers  pkce.VerifierStore
	cookieMgr  *cookies.Manager
	sessionTTL time.Duration
	now        func() time.Time
}

// NewOAuthCoordinator constructs a coordinator. verifiers holds in-flight
// PKCE secrets; cookieMgr mirrors sealed-session tokens for cookie-based
// transports.
func NewOAuthCoordinator(httpClient *http.Client, baseURL string, verifiers pkce.VerifierStore, cookieMgr *cookies.Manager, sessionTTL time.Duration) *OAuthCoordinator {
	return &OAuthCoordinator{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		verifiers:  verifiers,
		cookieMgr:  cookieMgr,
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

// StartFlow generates PKCE parameters, registers the flow with the backend
// and returns the authorization URL the caller should present in an external
// web-authentication surface. The verifier is stored under the backend's
// flow session identifier until the callback completes.
func (c *OAuthCoordinator) StartFlow(ctx context.Context, handle string) (string, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return "", fmt.Errorf("oauth: handle is empty")
	}

	codes, err := pkce.Generate()
	if err != nil {
		return "", err
	}

	payload := map[string]string{
		"handle":         handle,
		"code_challenge": codes.CodeChallenge,
	}
	body, err := c.postJSON(ctx, flowStartPath, payload)
	if err != nil {
		return "", err
	}

	var start flowStartResponse
	if err = json.Unmarshal(body, &start); err != nil {
		return "", ProtocolError(fmt.Sprintf("flow-start response is not valid JSON: %v", err))
	}
	if start.AuthURL == "" || start.SessionID == "" {
		return "", ProtocolError("flow-start response missing authUrl or session_id")
	}

	if err = c.verifiers.Store(start.SessionID, codes.CodeVerifier); err != nil {
		return "", fmt.Errorf("oauth: storing verifier failed: %w", err)
	}

	log.WithField("handle", handle).Debug("oauth flow started")
	return start.AuthURL, nil
}

// CompleteFlow finishes an authorization attempt from the redirect URL. Both
// callback shapes are handled: a code is exchanged with the stored PKCE
// verifier, while a sealed session is applied as a cookie and then validated
// with the backend.
func (c *OAuthCoordinator) CompleteFlow(ctx context.Context, callbackURL string) (*credentials.Credential, error) {
	payload, err := ParseCallback(callbackURL)
	if err != nil {
		return nil, err
	}

	switch payload.Kind {
	case CallbackSealedSession:
		return c.completeSealedSession(ctx, payload)
	default:
		return c.completeExchange(ctx, payload)
	}
}

// completeExchange runs the PKCE token exchange for callback shape (a).
func (c *OAuthCoordinator) completeExchange(ctx context.Context, payload *CallbackPayload) (*credentials.Credential, error) {
	verifier, ok := c.verifiers.Retrieve(payload.Code)
	if !ok {
		return nil, ErrMissingVerifier
	}
	// Consume the verifier now, success or not: a verifier must never be
	// usable for a second exchange after a failed one.
	if err := c.verifiers.Clear(payload.Code); err != nil {
		log.Warnf("oauth: clearing consumed verifier failed: %v", err)
	}

	body, err := c.postJSON(ctx, exchangePath, map[string]string{
		"code":          payload.Code,
		"code_verifier": verifier,
	})
	if err != nil {
		return nil, err
	}

	var token exchangeResponse
	if err = json.Unmarshal(body, &token); err != nil {
		return nil, ProtocolError(fmt.Sprintf("exchange response is not valid JSON: %v", err))
	}
	if token.DID == "" || token.Handle == "" || token.SessionID == "" {
		return nil, ProtocolError("exchange response missing did, handle or session_id")
	}

	cred := &credentials.Credential{
		Handle:       token.Handle,
		DID:          token.DID,
		AccessToken:  orMarker(token.AccessToken),
		RefreshToken: orMarker(token.RefreshToken),
		SessionToken: token.SessionID,
		PDSURL:       orPlaceholder(token.PDSURL),
	}
	expiresIn := time.Duration(token.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = c.sessionTTL
	}
	cred.SetExpiresAt(c.now().Add(expiresIn))

	log.WithFields(log.Fields{"handle": cred.Handle, "did": cred.DID}).Info("oauth exchange completed")
	return cred, nil
}

// completeSealedSession handles callback shape (b): the backend finished the
// OAuth dance server-side and handed back a session token directly. The
// redirect surface cannot share a cookie jar with our network stack, so the
// token is re-applied as a cookie before the validating session check.
func (c *OAuthCoordinator) completeSealedSession(ctx context.Context, payload *CallbackPayload) (*credentials.Credential, error) {
	expiresAt := c.now().Add(c.sessionTTL)
	if c.cookieMgr != nil {
		if err := c.cookieMgr.Apply(payload.SessionToken, expiresAt); err != nil {
			return nil, fmt.Errorf("oauth: applying session cookie failed: %w", err)
		}
	}

	body, err := c.getSession(ctx, payload.SessionToken)
	if err != nil {
		return nil, err
	}

	userHandle := gjson.GetBytes(body, "userHandle").String()
	did := gjson.GetBytes(body, "did").String()
	if userHandle == "" {
		return nil, ProtocolError("session check response missing userHandle")
	}
	if did == "" {
		did = payload.DID
	}

	cred := &credentials.Credential{
		Handle:       userHandle,
		DID:          did,
		AccessToken:  credentials.ServerManagedMarker,
		RefreshToken: credentials.ServerManagedMarker,
		SessionToken: payload.SessionToken,
		PDSURL:       credentials.PDSPlaceholder,
	}
	cred.SetExpiresAt(expiresAt)

	log.WithFields(log.Fields{"handle": cred.Handle, "did": cred.DID}).Info("sealed session accepted")
	return cred, nil
}

// postJSON issues a JSON POST to the backend and returns the 200 body.
func (c *OAuthCoordinator) postJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("oauth: marshal request failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("oauth: create request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
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
	if resp.StatusCode != http.StatusOK {
		return nil, ServerError(resp.StatusCode, body)
	}
	return body, nil
}

// getSession calls the lightweight session-check endpoint with the given
// token.
func (c *OAuthCoordinator) getSession(ctx context.Context, sessionToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+sessionCheckPath, nil)
	if err != nil {
		return nil, fmt.Errorf("oauth: create request failed: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+sessionToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
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
	if resp.StatusCode != http.StatusOK {
		return nil, ServerError(resp.StatusCode, body)
	}
	return body, nil
}

func orMarker(token string) string {
	if strings.TrimSpace(token) == "" {
		return credentials.ServerManagedMarker
	}
	return token
}

func orPlaceholder(pdsURL string) string {
	if strings.TrimSpace(pdsURL) == "" {
		return credentials.PDSPlaceholder
	}
	return pdsURL
}
