package callback

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func startedServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer(0)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		_ = s.Stop(context.Background())
	})
	return s
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() {
		_ = resp.Body.Close()
	})
	return resp
}

func TestCallbackWithExchangeCode(t *testing.T) {
	s := startedServer(t)

	resp := get(t, s.RedirectURL()+"?code=sess-1")
	if resp.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want 302", resp.StatusCode)
	}

	result, err := s.WaitForCallback(2 * time.Second)
	if err != nil {
		t.Fatalf("WaitForCallback() error = %v", err)
	}
	if !strings.HasSuffix(result.URL, "?code=sess-1") {
		t.Errorf("result URL = %q, want trailing ?code=sess-1", result.URL)
	}
	if result.Error != "" {
		t.Errorf("result error = %q, want empty", result.Error)
	}
}

func TestCallbackWithSealedSession(t *testing.T) {
	s := startedServer(t)

	get(t, s.RedirectURL()+"?did=did%3Aplc%3Aabc&session_token=tok123")

	result, err := s.WaitForCallback(2 * time.Second)
	if err != nil {
		t.Fatalf("WaitForCallback() error = %v", err)
	}
	if !strings.Contains(result.URL, "session_token=tok123") {
		t.Errorf("result URL = %q, want sealed-session parameters", result.URL)
	}
}

func TestCallbackDenied(t *testing.T) {
	s := startedServer(t)

	resp := get(t, s.RedirectURL()+"?error=access_denied")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	result, err := s.WaitForCallback(2 * time.Second)
	if err != nil {
		t.Fatalf("WaitForCallback() error = %v", err)
	}
	if result.Error != "access_denied" {
		t.Errorf("result error = %q, want access_denied", result.Error)
	}
}

func TestCallbackMissingParameters(t *testing.T) {
	s := startedServer(t)

	resp := get(t, s.RedirectURL()+"?state=only")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestWaitForCallbackTimeout(t *testing.T) {
	s := startedServer(t)

	if _, err := s.WaitForCallback(50 * time.Millisecond); err == nil {
		t.Fatal("WaitForCallback() did not time out")
	}
}

func TestDuplicateCallbackDropped(t *testing.T) {
	s := startedServer(t)

	get(t, s.RedirectURL()+"?code=first")
	get(t, s.RedirectURL()+"?code=second")

	result, err := s.WaitForCallback(2 * time.Second)
	if err != nil {
		t.Fatalf("WaitForCallback() error = %v", err)
	}
	if !strings.HasSuffix(result.URL, "?code=first") {
		t.Errorf("result URL = %q, want the first callback", result.URL)
	}
}

func TestSuccessPage(t *testing.T) {
	s := startedServer(t)

	resp := get(t, fmt.Sprintf("http://127.0.0.1:%d/success", s.Port()))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "Signed in") {
		t.Error("success page missing confirmation text")
	}
}

func TestStopIdempotent(t *testing.T) {
	s := startedServer(t)
	if !s.IsRunning() {
		t.Fatal("IsRunning() = false after Start")
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}
