package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileStore keeps one user on disk for the CLI.
type FileStore struct {
	path string
}

// NewFileStore creates a store at path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultPath returns ~/.maatri/session.json
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".maatri-session.json"
	}
	return filepath.Join(home, ".maatri", "session.json")
}

// Path returns the file location
func (s *FileStore) Path() string { return s.path }

// Load reads the stored user, returning ErrNotLoggedIn if there is none
func (s *FileStore) Load() (User, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return User{}, ErrNotLoggedIn
	}
	if err != nil {
		return User{}, fmt.Errorf("read session: %w", err)
	}

	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return User{}, fmt.Errorf("decode session: %w", err)
	}
	return u, nil
}

// Save writes u with owner-only permissions
func (s *FileStore) Save(u User) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// Clear removes the stored user
func (s *FileStore) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

type entry struct {
	user     User
	lastSeen time.Time
}

// MemoryStore maps opaque tokens to users for the HTTP surface.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates a store whose sessions expire after ttl of
// inactivity. A zero ttl never expires.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Create stores u under a new opaque session token. u.Token keeps the
// backend token and is never handed to clients of the store.
func (s *MemoryStore) Create(u User) string {
	token := uuid.New().String()

	s.mu.Lock()
	s.entries[token] = &entry{user: u, lastSeen: s.now()}
	s.mu.Unlock()
	return token
}

// Get resolves a token, refreshing its idle timer
func (s *MemoryStore) Get(token string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[token]
	if !ok {
		return User{}, ErrSessionNotFound
	}
	if s.ttl > 0 && s.now().Sub(e.lastSeen) > s.ttl {
		delete(s.entries, token)
		return User{}, ErrSessionNotFound
	}
	e.lastSeen = s.now()
	return e.user, nil
}

// Delete ends a session
func (s *MemoryStore) Delete(token string) {
	s.mu.Lock()
	delete(s.entries, token)
	s.mu.Unlock()
}

// Len returns the number of live sessions
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
