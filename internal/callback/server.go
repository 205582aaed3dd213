// Package callback runs the loopback HTTP server that receives the browser
// redirect at the end of an OAuth flow. The backend redirects here with either
// an exchange code or a sealed session; the server captures the raw query for
// the coordinator and shows the user a small confirmation page.
package callback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// CallbackPath is the path the backend redirects to on the loopback server.
const CallbackPath = "/auth/callback"

// Result carries one captured callback.
type Result struct {
	// URL is the full callback URL as received, query string included. It is
	// handed to the OAuth coordinator unparsed; the coordinator owns the
	// interpretation of the two callback shapes.
	URL string

	// Error holds the provider error parameter, when the flow was denied.
	Error string
}

// Server is the loopback HTTP server awaiting the OAuth redirect.
type Server struct {
	server     *http.Server
	listener   net.Listener
	port       int
	resultChan chan *Result
	errorChan  chan error

	mu      sync.Mutex
	running bool
}

// NewServer creates a callback server. Port 0 picks a free ephemeral port;
// call Port after Start to learn which one.
func NewServer(port int) *Server {
	return &Server{
		port:       port,
		resultChan: make(chan *Result, 1),
		errorChan:  make(chan error, 1),
	}
}

// Start binds the listener and begins serving in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("callback server: already running")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return fmt.Errorf("callback server: listen on port %d failed: %w", s.port, err)
	}
	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc(CallbackPath, s.handleCallback)
	mux.HandleFunc("/success", s.handleSuccess)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.running = true

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errorChan <- fmt.Errorf("callback server: serve failed: %w", err)
		}
	}()

	log.WithField("status", s.port).Debug("callback server listening")
	return nil
}

// Port returns the bound port. Only meaningful after Start.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// RedirectURL returns the URL the backend should redirect the browser to.
func (s *Server) RedirectURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", s.Port(), CallbackPath)
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(shutdownCtx)
	s.running = false
	s.server = nil
	s.listener = nil
	return err
}

// WaitForCallback blocks until a callback arrives, the server fails, or the
// timeout elapses.
func (s *Server) WaitForCallback(timeout time.Duration) (*Result, error) {
	select {
	case result := <-s.resultChan:
		return result, nil
	case err := <-s.errorChan:
		return nil, err
	case <-time.After(timeout):
		return nil, fmt.Errorf("callback server: timeout waiting for callback")
	}
}

// IsRunning reports whether the server is currently serving.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	if errParam := query.Get("error"); errParam != "" {
		log.Errorf("callback server: flow denied: %s", errParam)
		s.sendResult(&Result{Error: errParam})
		http.Error(w, fmt.Sprintf("authentication error: %s", errParam), http.StatusBadRequest)
		return
	}

	// Either shape will do; the coordinator rejects anything that carries
	// neither a code nor a sealed session.
	if query.Get("code") == "" && query.Get("session_token") == "" {
		log.Error("callback server: redirect carried no code and no session token")
		s.sendResult(&Result{Error: "invalid_callback"})
		http.Error(w, "missing callback parameters", http.StatusBadRequest)
		return
	}

	s.sendResult(&Result{URL: s.RedirectURL() + "?" + r.URL.RawQuery})
	http.Redirect(w, r, "/success", http.StatusFound)
}

func (s *Server) handleSuccess(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(successHTML)); err != nil {
		log.Errorf("callback server: write success page failed: %v", err)
	}
}

// sendResult delivers the result without blocking the HTTP handler. Only the
// first callback counts; duplicates from browser refreshes are dropped.
func (s *Server) sendResult(result *Result) {
	select {
	case s.resultChan <- result:
	default:
		log.Warn("callback server: duplicate callback dropped")
	}
}

const successHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Signed in</title>
  <style>
    body { font-family: -apple-system, sans-serif; display: flex; align-items: center; justify-content: center; height: 100vh; margin: 0; background: #f5f5f7; }
    .card { background: #fff; border-radius: 12px; padding: 2.5rem 3rem; box-shadow: 0 2px 12px rgba(0,0,0,.08); text-align: center; }
    h1 { font-size: 1.3rem; margin: 0 0 .5rem; }
    p { color: #666; margin: 0; }
  </style>
</head>
<body>
  <div class="card">
    <h1>Signed in</h1>
    <p>You can close this window and return to the app.</p>
  </div>
</body>
</html>`
