package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Store provides persistent file-based storage for launcher state.
type Store struct {
	dataDir string
	mu      sync.RWMutex
}

// NewStore creates a Store rooted at dataDir, ensuring the directory exists.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	return &Store{dataDir: dataDir}, nil
}

// Session reads the persisted session token, or "" if none exists.
func (s *Store) Session() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readSession()
}

func (s *Store) readSession() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dataDir, "session"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// SaveSession persists the session token.
func (s *Store) SaveSession(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.WriteFile(filepath.Join(s.dataDir, "session"), []byte(token), 0o600)
}

// SaveSessionIfAbsent persists token only when no session is stored yet.
// It reports whether the token was written.
func (s *Store) SaveSessionIfAbsent(token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.readSession()
	if err != nil {
		return false, err
	}
	if current != "" {
		return false, nil
	}
	if err := os.WriteFile(filepath.Join(s.dataDir, "session"), []byte(token), 0o600); err != nil {
		return false, err
	}
	return true, nil
}

// ClearSession removes the persisted session token.
func (s *Store) ClearSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(filepath.Join(s.dataDir, "session")); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Manifest records where a materialized file was copied from.
type Manifest struct {
	Source   string    `json:"source"`
	Version  string    `json:"version"`
	CopiedAt time.Time `json:"copied_at"`
}

func manifestPath(target string) string {
	return target + ".json"
}

// LoadManifest reads the side-car manifest of target, or nil if none exists.
func (s *Store) LoadManifest(target string) (*Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := os.ReadFile(manifestPath(target))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return &m, nil
}

// SaveManifest writes the side-car manifest of target.
func (s *Store) SaveManifest(target string, m Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return os.WriteFile(manifestPath(target), data, 0o644)
}
