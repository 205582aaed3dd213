// Package cookies mirrors the stored session token as an HTTP cookie for
// transports that authenticate via cookie rather than Authorization header.
// The external web-authentication surface cannot share a cookie jar with the
// client's own network stack, so after a sealed-session callback the token
// has to be re-applied here before the first cookie-authenticated request.
package cookies

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultCookieName is the session cookie name used unless configured.
const DefaultCookieName = "sid"

// Jar is the minimal cookie jar capability the session layer needs. The
// platform jar is injected; tests use MemoryJar.
type Jar interface {
	// Set stores a cookie for the given domain, replacing any cookie with
	// the same name.
	Set(domain string, cookie *http.Cookie) error
	// Get returns the named cookie for the domain, if present.
	Get(domain, name string) (*http.Cookie, bool)
	// Delete removes the named cookie for the domain. Deleting an absent
	// cookie is a no-op.
	Delete(domain, name string) error
}

// MemoryJar is a mutex-guarded in-memory Jar.
type MemoryJar struct {
	mu      sync.Mutex
	cookies map[string]*http.Cookie
}

// NewMemoryJar creates an empty in-memory jar.
func NewMemoryJar() *MemoryJar {
	return &MemoryJar{cookies: make(map[string]*http.Cookie)}
}

func jarKey(domain, name string) string {
	return strings.ToLower(domain) + "|" + name
}

// Set stores a cookie for domain.
func (j *MemoryJar) Set(domain string, cookie *http.Cookie) error {
	if cookie == nil || cookie.Name == "" {
		return fmt.Errorf("cookie jar: cookie has no name")
	}
	j.mu.Lock()
	j.cookies[jarKey(domain, cookie.Name)] = cookie
	j.mu.Unlock()
	return nil
}

// Get returns the named cookie for domain.
func (j *MemoryJar) Get(domain, name string) (*http.Cookie, bool) {
	j.mu.Lock()
	cookie, ok := j.cookies[jarKey(domain, name)]
	j.mu.Unlock()
	return cookie, ok
}

// Delete removes the named cookie for domain.
func (j *MemoryJar) Delete(domain, name string) error {
	j.mu.Lock()
	delete(j.cookies, jarKey(domain, name))
	j.mu.Unlock()
	return nil
}

// Manager maintains the session cookie for one backend host.
type Manager struct {
	jar    Jar
	domain string
	name   string
}

// NewManager creates a manager writing the named cookie for domain into jar.
// An empty name falls back to DefaultCookieName.
func NewManager(jar Jar, domain, name string) *Manager {
	if name == "" {
		name = DefaultCookieName
	}
	return &Manager{jar: jar, domain: domain, name: name}
}

// Apply writes the session cookie for the given token and expiry. Secure and
// path "/" match what the backend itself would have set.
func (m *Manager) Apply(token string, expiresAt time.Time) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("cookie manager: session token is empty")
	}
	cookie := &http.Cookie{
		Name:    m.name,
		Value:   token,
		Domain:  m.domain,
		Path:    "/",
		Secure:  true,
		Expires: expiresAt,
	}
	if err := m.jar.Set(m.domain, cookie); err != nil {
		return fmt.Errorf("cookie manager: set failed: %w", err)
	}
	log.Debugf("cookie manager: applied %s cookie for %s", m.name, m.domain)
	return nil
}

// Current returns the session token currently mirrored in the jar.
func (m *Manager) Current() (string, bool) {
	cookie, ok := m.jar.Get(m.domain, m.name)
	if !ok || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// Drop removes the session cookie. Safe to call when none is set.
func (m *Manager) Drop() error {
	if err := m.jar.Delete(m.domain, m.name); err != nil {
		return fmt.Errorf("cookie manager: delete failed: %w", err)
	}
	return nil
}

// Name returns the configured cookie name.
func (m *Manager) Name() string {
	return m.name
}
