package pkce

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// VerifierStore persists code verifiers keyed by the backend-issued flow
// session identifier, for the lifetime of a single authorization attempt.
// Retrieve on an unknown or already-cleared key reports not-found rather
// than an error, and Clear is idempotent so cancellation handlers can call
// it unconditionally.
type VerifierStore interface {
	// Store records a verifier under the given flow session key.
	Store(key, verifier string) error
	// Retrieve returns the verifier for key and whether one was found.
	Retrieve(key string) (string, bool)
	// Clear removes the verifier for key. Clearing an absent key is a no-op.
	Clear(key string) error
}

// MemoryVerifierStore keeps verifiers in process memory. An in-flight
// authorization attempt does not need to survive a restart, so this is the
// default implementation.
type MemoryVerifierStore struct {
	mu        sync.Mutex
	verifiers map[string]string
}

// NewMemoryVerifierStore creates an empty in-memory verifier store.
func NewMemoryVerifierStore() *MemoryVerifierStore {
	return &MemoryVerifierStore{verifiers: make(map[string]string)}
}

// Store records a verifier under the given key.
func (s *MemoryVerifierStore) Store(key, verifier string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("pkce store: key is empty")
	}
	s.mu.Lock()
	s.verifiers[key] = verifier
	s.mu.Unlock()
	return nil
}

// Retrieve returns the verifier stored under key, if any.
func (s *MemoryVerifierStore) Retrieve(key string) (string, bool) {
	s.mu.Lock()
	verifier, ok := s.verifiers[key]
	s.mu.Unlock()
	return verifier, ok
}

// Clear removes the verifier stored under key.
func (s *MemoryVerifierStore) Clear(key string) error {
	s.mu.Lock()
	delete(s.verifiers, key)
	s.mu.Unlock()
	return nil
}

// FileVerifierStore persists verifiers as one 0600 JSON file per key under
// a private state directory. It is the durable variant for hosts where the
// process may be restarted mid-flow.
type FileVerifierStore struct {
	mu      sync.Mutex
	baseDir string
}

// NewFileVerifierStore creates a store rooted at dir. The directory is
// created on first write.
func NewFileVerifierStore(dir string) *FileVerifierStore {
	return &FileVerifierStore{baseDir: dir}
}

type verifierRecord struct {
	CodeVerifier string `json:"code_verifier"`
}

// Store writes the verifier for key to disk.
func (s *FileVerifierStore) Store(key, verifier string) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = os.MkdirAll(s.baseDir, 0o700); err != nil {
		return fmt.Errorf("pkce store: create dir failed: %w", err)
	}
	raw, err := json.Marshal(verifierRecord{CodeVerifier: verifier})
	if err != nil {
		return fmt.Errorf("pkce store: marshal failed: %w", err)
	}
	if err = os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("pkce store: write failed: %w", err)
	}
	return nil
}

// Retrieve reads the verifier for key from disk.
func (s *FileVerifierStore) Retrieve(key string) (string, bool) {
	path, err := s.pathFor(key)
	if err != nil {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	var record verifierRecord
	if err = json.Unmarshal(data, &record); err != nil {
		log.Warnf("pkce store: unreadable verifier file %s: %v", path, err)
		return "", false
	}
	if record.CodeVerifier == "" {
		return "", false
	}
	return record.CodeVerifier, true
}

// Clear removes the verifier file for key. A missing file is not an error.
func (s *FileVerifierStore) Clear(key string) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("pkce store: clear failed: %w", err)
	}
	return nil
}

func (s *FileVerifierStore) pathFor(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("pkce store: key is empty")
	}
	return filepath.Join(s.baseDir, sanitizeKey(key)+".json"), nil
}

// sanitizeKey strips characters that are unsafe in file names. Flow session
// identifiers are expected to be URL-safe already; anything else is dropped.
func sanitizeKey(key string) string {
	var result strings.Builder
	for _, r := range key {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
