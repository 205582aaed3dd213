package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/waypost-app/waypost-go/internal/auth/cookies"
	"github.com/waypost-app/waypost-go/internal/auth/credentials"
	"github.com/waypost-app/waypost-go/internal/auth/lifecycle"
)

// State is the authentication state observed by the host application. It is
// derived, never persisted; only AuthStore operations drive transitions.
type State int

const (
	// StateUnauthenticated means no usable session is present.
	StateUnauthenticated State = iota
	// StateAuthenticating means an OAuth flow is in progress.
	StateAuthenticating
	// StateAuthenticated means a valid session credential is held.
	StateAuthenticated
	// StateSessionExpired means the stored session lapsed and silent
	// re-authentication has not (yet) recovered it.
	StateSessionExpired
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateSessionExpired:
		return "sessionExpired"
	default:
		return "unauthenticated"
	}
}

// AuthStore composes the OAuth coordinator, session coordinator, validator
// and storage into the single surface the host application talks to. It owns
// the authentication state machine and funnels every refresh through a
// per-DID single-flight guard so concurrent callers share one refresh
// instead of racing.
type AuthStore struct {
	store         credentials.Store
	cookieMgr     *cookies.Manager
	oauth         *OAuthCoordinator
	sessions      *SessionCoordinator
	validator     *SessionValidator
	refreshWindow time.Duration
	now           func() time.Time

	refreshGroup singleflight.Group

	mu        sync.Mutex
	state     State
	cred      *credentials.Credential
	onChange  func(State)
	lastError error
}

// AuthStoreArgs carries the collaborators for NewAuthStore.
type AuthStoreArgs struct {
	Store         credentials.Store
	CookieManager *cookies.Manager
	OAuth         *OAuthCoordinator
	Sessions      *SessionCoordinator
	Validator     *SessionValidator
	RefreshWindow time.Duration
	// OnStateChange, when set, observes every state transition. Called
	// synchronously without internal locks held.
	OnStateChange func(State)
}

// NewAuthStore constructs the façade.
func NewAuthStore(args AuthStoreArgs) (*AuthStore, error) {
	if args.Store == nil {
		return nil, fmt.Errorf("auth store: credential store is required")
	}
	if args.OAuth == nil || args.Sessions == nil || args.Validator == nil {
		return nil, fmt.Errorf("auth store: coordinators are required")
	}
	refreshWindow := args.RefreshWindow
	if refreshWindow <= 0 {
		refreshWindow = lifecycle.ProactiveWindow
	}
	return &AuthStore{
		store:         args.Store,
		cookieMgr:     args.CookieManager,
		oauth:         args.OAuth,
		sessions:      args.Sessions,
		validator:     args.Validator,
		refreshWindow: refreshWindow,
		now:           time.Now,
		state:         StateUnauthenticated,
		onChange:      args.OnStateChange,
	}, nil
}

// State returns the current authentication state.
func (a *AuthStore) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// LastError returns the most recent operation error, for UI surfaces that
// want a reason alongside the state.
func (a *AuthStore) LastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastError
}

// CurrentHandle returns the handle of the signed-in account, if any.
func (a *AuthStore) CurrentHandle() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cred == nil {
		return "", false
	}
	return a.cred.Handle, true
}

// LoadStoredCredentials reads the durable store and derives the initial
// state: authenticated when a valid credential is present, sessionExpired
// when one is present but lapsed, unauthenticated otherwise. It never
// returns an error; storage failures count as an absent session.
func (a *AuthStore) LoadStoredCredentials(ctx context.Context) {
	cred, err := a.store.Load(ctx)
	if err != nil {
		log.WithField("error", err).Warn("auth store: loading stored credentials failed")
		a.transition(StateUnauthenticated, nil, err)
		return
	}
	if cred == nil {
		a.transition(StateUnauthenticated, nil, nil)
		return
	}
	if cred.IsValid(a.now()) {
		a.transition(StateAuthenticated, cred, nil)
		return
	}
	a.transition(StateSessionExpired, cred, nil)
}

// StartDirectOAuthFlow begins a PKCE flow for the handle and returns the
// authorization URL to present externally. The state moves to
// authenticating; a failure reverts to unauthenticated and propagates so the
// caller can retry immediately.
func (a *AuthStore) StartDirectOAuthFlow(ctx context.Context, handle string) (string, error) {
	a.transition(StateAuthenticating, nil, nil)

	authURL, err := a.oauth.StartFlow(ctx, handle)
	if err != nil {
		a.transition(StateUnauthenticated, nil, err)
		return "", err
	}
	return authURL, nil
}

// HandleOAuthCallback completes the flow from the redirect URL, persists the
// issued credential and moves to authenticated. Any error leaves the store
// unauthenticated (not an error state, so the user can immediately retry)
// and is propagated.
func (a *AuthStore) HandleOAuthCallback(ctx context.Context, callbackURL string) error {
	cred, err := a.oauth.CompleteFlow(ctx, callbackURL)
	if err != nil {
		a.transition(StateUnauthenticated, nil, err)
		return err
	}
	if err = a.store.Save(ctx, cred); err != nil {
		a.transition(StateUnauthenticated, nil, err)
		return fmt.Errorf("auth store: persisting credentials failed: %w", err)
	}
	a.transition(StateAuthenticated, cred, nil)
	return nil
}

// GetValidCredentials is the single choke point every authenticated call
// routes through. It returns the stored credential when it is fresh; when
// the credential is inside the refresh window (or expired) it refreshes
// through the single-flight guard, persists and returns the result. With no
// stored credential it fails with ErrNotAuthenticated; a refresh failure on
// an already-expired credential fails with ErrSessionExpiredUnrecoverable.
func (a *AuthStore) GetValidCredentials(ctx context.Context) (*credentials.Credential, error) {
	cred, err := a.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth store: loading credentials failed: %w", err)
	}
	if cred == nil {
		return nil, ErrNotAuthenticated
	}

	expiresAt, hasExpiry := cred.ExpiresAt()
	if hasExpiry && !lifecycle.NeedsRefresh(expiresAt, a.now(), a.refreshWindow) {
		return cred, nil
	}

	result, err, _ := a.refreshGroup.Do(cred.DID, func() (any, error) {
		// Re-load inside the flight: a caller that queued behind an earlier
		// refresh must not refresh again with the stale token.
		latest, errLoad := a.store.Load(ctx)
		if errLoad != nil {
			return nil, errLoad
		}
		if latest == nil {
			return nil, ErrNotAuthenticated
		}
		if latestExpiry, ok := latest.ExpiresAt(); ok && !lifecycle.NeedsRefresh(latestExpiry, a.now(), a.refreshWindow) {
			return latest, nil
		}

		refreshed, errRefresh := a.sessions.Refresh(ctx, latest)
		if errRefresh != nil {
			return nil, errRefresh
		}
		// A refreshed-but-unpersisted credential is a correctness hazard:
		// the next launch would resurrect the stale one. Propagate.
		if errSave := a.store.Save(ctx, refreshed); errSave != nil {
			return nil, fmt.Errorf("auth store: persisting refreshed credentials failed: %w", errSave)
		}
		return refreshed, nil
	})
	if err != nil {
		// A proactive refresh failing on a still-valid credential must not
		// block the caller; the existing token keeps working.
		if cred.IsValid(a.now()) {
			log.WithField("error", err).Warn("auth store: proactive refresh failed, serving current credential")
			return cred, nil
		}
		a.transition(StateSessionExpired, cred, err)
		return nil, &Error{
			Code:    ErrSessionExpiredUnrecoverable.Code,
			Message: fmt.Sprintf("session could not be refreshed: %v", err),
			Cause:   err,
		}
	}

	refreshed := result.(*credentials.Credential)
	a.transition(StateAuthenticated, refreshed, nil)
	return refreshed, nil
}

// RefreshNow forces a session refresh regardless of remaining lifetime and
// persists the result.
func (a *AuthStore) RefreshNow(ctx context.Context) (*credentials.Credential, error) {
	cred, err := a.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth store: loading credentials failed: %w", err)
	}
	if cred == nil {
		return nil, ErrNotAuthenticated
	}

	refreshed, err := a.sessions.Refresh(ctx, cred)
	if err != nil {
		if !cred.IsValid(a.now()) {
			a.transition(StateSessionExpired, cred, err)
		}
		return nil, err
	}
	if err = a.store.Save(ctx, refreshed); err != nil {
		return nil, fmt.Errorf("auth store: persisting refreshed credentials failed: %w", err)
	}
	a.transition(StateAuthenticated, refreshed, nil)
	return refreshed, nil
}

// SignOut clears the stored credential and session cookie. Storage failures
// are logged but never block the transition: signing out must always
// complete locally.
func (a *AuthStore) SignOut(ctx context.Context) {
	if err := a.store.Clear(ctx); err != nil {
		log.WithField("error", err).Warn("auth store: clearing credentials failed during sign-out")
	}
	if a.cookieMgr != nil {
		if err := a.cookieMgr.Drop(); err != nil {
			log.WithField("error", err).Warn("auth store: dropping session cookie failed during sign-out")
		}
	}
	a.transition(StateUnauthenticated, nil, nil)
}

// ValidateSessionOnAppLaunch validates the stored session at process start.
func (a *AuthStore) ValidateSessionOnAppLaunch(ctx context.Context) {
	a.validateSession(ctx, "launch")
}

// ValidateSessionOnAppResume validates the stored session when the host
// returns to the foreground.
func (a *AuthStore) ValidateSessionOnAppResume(ctx context.Context) {
	a.validateSession(ctx, "resume")
}

func (a *AuthStore) validateSession(ctx context.Context, reason string) {
	cred, err := a.store.Load(ctx)
	if err != nil || cred == nil {
		a.transition(StateUnauthenticated, nil, err)
		return
	}

	validated, err := a.validator.Validate(ctx, cred, reason)
	if err != nil || validated == nil {
		a.transition(StateSessionExpired, cred, err)
		return
	}
	if validated != cred {
		if errSave := a.store.Save(ctx, validated); errSave != nil {
			log.WithField("error", errSave).Warn("auth store: persisting validated credentials failed")
		}
	}
	a.transition(StateAuthenticated, validated, nil)
}

// transition records the new state and notifies the observer outside the
// lock.
func (a *AuthStore) transition(state State, cred *credentials.Credential, err error) {
	a.mu.Lock()
	changed := a.state != state
	a.state = state
	a.cred = cred
	a.lastError = err
	onChange := a.onChange
	a.mu.Unlock()

	if changed {
		log.WithField("status", state.String()).Debug("auth state changed")
		if onChange != nil {
			onChange(state)
		}
	}
}
