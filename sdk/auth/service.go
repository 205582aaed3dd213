package auth

import (
	"net/http"

	"github.com/waypost-app/waypost-go/internal/auth/cookies"
	"github.com/waypost-app/waypost-go/internal/auth/credentials"
	"github.com/waypost-app/waypost-go/internal/auth/pkce"
	"github.com/waypost-app/waypost-go/internal/config"
)

// Service bundles the fully wired authentication surface: the state-owning
// store for lifecycle operations and the request client for authenticated
// API calls.
type Service struct {
	// Auth owns the session lifecycle and state machine.
	Auth *AuthStore
	// Requests performs authenticated backend calls with retry.
	Requests *RequestClient
	// Cookies mirrors the session token for cookie-based transports.
	Cookies *cookies.Manager
}

// ServiceArgs overrides collaborators when building a Service. Every field
// is optional; zero values wire the production defaults from the config.
type ServiceArgs struct {
	// HTTPClient overrides the backend HTTP client.
	HTTPClient *http.Client
	// Store overrides the durable credential store.
	Store credentials.Store
	// Verifiers overrides the PKCE verifier store.
	Verifiers pkce.VerifierStore
	// Jar overrides the cookie jar.
	Jar cookies.Jar
	// Observer receives transitional validation states.
	Observer StateObserver
	// OnStateChange receives auth state transitions.
	OnStateChange func(State)
}

// NewService wires the whole subsystem from configuration: file-backed
// credential and verifier storage under the auth directory, an in-process
// cookie jar, and coordinators sharing one HTTP client.
func NewService(cfg *config.Config, args ServiceArgs) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := args.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout()}
	}

	store := args.Store
	if store == nil {
		store = credentials.NewFileStore(cfg.CredentialFile())
	}

	verifiers := args.Verifiers
	if verifiers == nil {
		verifiers = pkce.NewFileVerifierStore(cfg.VerifierDir())
	}

	jar := args.Jar
	if jar == nil {
		jar = cookies.NewMemoryJar()
	}
	cookieMgr := cookies.NewManager(jar, cfg.BackendHost(), cfg.CookieName)

	oauth := NewOAuthCoordinator(httpClient, cfg.BackendURL, verifiers, cookieMgr, cfg.SessionTTL())
	sessions := NewSessionCoordinator(httpClient, cfg.BackendURL, cfg.CookieMode, cookieMgr, cfg.SessionTTL())
	validator := NewSessionValidator(httpClient, cfg.BackendURL, sessions, args.Observer)

	authStore, err := NewAuthStore(AuthStoreArgs{
		Store:         store,
		CookieManager: cookieMgr,
		OAuth:         oauth,
		Sessions:      sessions,
		Validator:     validator,
		RefreshWindow: cfg.RefreshWindow(),
		OnStateChange: args.OnStateChange,
	})
	if err != nil {
		return nil, err
	}

	requests := NewRequestClient(
		httpClient,
		cfg.BackendURL,
		store,
		sessions,
		RetryPolicy{MaxAttempts: cfg.RequestRetry, Cap: cfg.BackoffCap()},
		cfg.RefreshWindow(),
	)

	return &Service{Auth: authStore, Requests: requests, Cookies: cookieMgr}, nil
}
