package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Store is the durable home of the current session credential. It is the
// single source of truth: every other component works on a copy and writes
// back through Save. Load with nothing stored returns (nil, nil).
type Store interface {
	Save(ctx context.Context, cred *Credential) error
	Load(ctx context.Context) (*Credential, error)
	Clear(ctx context.Context) error
}

// FileStore persists the credential as a single 0600 JSON file. Writes are
// serialized by a mutex and staged through a temporary file so a crash can
// not leave a partially written credential behind.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store backed by the given file path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save writes the credential to disk, replacing any previous one.
func (s *FileStore) Save(ctx context.Context, cred *Credential) error {
	if cred == nil {
		return fmt.Errorf("credential store: credential is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("credential store: create dir failed: %w", err)
	}

	raw, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("credential store: marshal failed: %w", err)
	}

	tmp := s.path + ".tmp"
	if err = os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("credential store: write failed: %w", err)
	}
	if err = os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("credential store: rename failed: %w", err)
	}

	log.Debugf("credential store: saved session for %s", cred.Handle)
	return nil
}

// Load reads the stored credential. A missing file is not an error; the
// caller receives (nil, nil) and decides what an absent session means.
func (s *FileStore) Load(ctx context.Context) (*Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("credential store: read failed: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var cred Credential
	if err = json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("credential store: unmarshal failed: %w", err)
	}
	return &cred, nil
}

// Clear removes the stored credential. A missing file is not an error.
func (s *FileStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("credential store: clear failed: %w", err)
	}
	return nil
}

// Path returns the backing file path, for components that watch the file.
func (s *FileStore) Path() string {
	return s.path
}

// MemoryStore is an in-memory Store used by tests and by hosts that manage
// persistence themselves.
type MemoryStore struct {
	mu   sync.Mutex
	cred *Credential
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save stores a copy of the credential.
func (s *MemoryStore) Save(ctx context.Context, cred *Credential) error {
	if cred == nil {
		return fmt.Errorf("credential store: credential is nil")
	}
	s.mu.Lock()
	s.cred = cred.Clone()
	s.mu.Unlock()
	return nil
}

// Load returns a copy of the stored credential, or (nil, nil) when empty.
func (s *MemoryStore) Load(ctx context.Context) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred.Clone(), nil
}

// Clear drops the stored credential.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.cred = nil
	s.mu.Unlock()
	return nil
}
