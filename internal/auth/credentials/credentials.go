// Package credentials defines the session credential issued by the waypost
// backend and its durable storage. The backend performs the upstream OAuth
// exchange itself; the client only ever holds the opaque session token, so
// the upstream access and refresh token fields carry placeholder markers.
package credentials

import (
	"strings"
	"time"

	"github.com/waypost-app/waypost-go/internal/auth/lifecycle"
)

const (
	// ServerManagedMarker fills the upstream token fields of a sealed
	// session. The real provider tokens never reach the client.
	ServerManagedMarker = "server-managed"

	// PDSPlaceholder marks a credential whose backend endpoint is resolved
	// server-side rather than carried by the client.
	PDSPlaceholder = "resolve-server-side"
)

// Credential is the session record for one signed-in account. SessionToken
// is the sole bearer of authorization; without it the credential is unusable
// regardless of the other fields.
type Credential struct {
	// Handle is the user-facing account identifier (e.g. "alice.example").
	Handle string `json:"handle"`

	// DID is the stable decentralized identifier for the account.
	DID string `json:"did"`

	// AccessToken mirrors the upstream OAuth access token slot. Under
	// session sealing it holds ServerManagedMarker.
	AccessToken string `json:"access_token"`

	// RefreshToken mirrors the upstream OAuth refresh token slot. Under
	// session sealing it holds ServerManagedMarker.
	RefreshToken string `json:"refresh_token"`

	// SessionToken is the opaque backend-issued token used for authorization.
	SessionToken string `json:"session_token"`

	// PDSURL is the resolved backend endpoint, or PDSPlaceholder.
	PDSURL string `json:"pds_url"`

	// Expire is the RFC3339 timestamp when the session expires.
	Expire string `json:"expired"`
}

// ExpiresAt parses the credential expiry. An absent or malformed timestamp
// reports ok == false and the caller should treat the credential as expired.
func (c *Credential) ExpiresAt() (time.Time, bool) {
	if c == nil || c.Expire == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, c.Expire)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SetExpiresAt stores the expiry timestamp in the persisted RFC3339 form.
func (c *Credential) SetExpiresAt(t time.Time) {
	c.Expire = t.UTC().Format(time.RFC3339)
}

// IsExpired reports whether the credential is within the buffer window of
// its expiry (or has no parseable expiry at all).
func (c *Credential) IsExpired(now time.Time) bool {
	expiresAt, ok := c.ExpiresAt()
	if !ok {
		return true
	}
	return lifecycle.IsExpired(expiresAt, now)
}

// IsValid reports whether the credential can authorize a request right now:
// handle, DID and session token present, and not expired.
func (c *Credential) IsValid(now time.Time) bool {
	if c == nil {
		return false
	}
	if strings.TrimSpace(c.Handle) == "" || strings.TrimSpace(c.DID) == "" || strings.TrimSpace(c.SessionToken) == "" {
		return false
	}
	return !c.IsExpired(now)
}

// Clone returns a copy of the credential. Components receive copies for the
// duration of one operation and write changes back through the store.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	copyCred := *c
	return &copyCred
}
