// Package memory provides an in-memory implementation of the credential
// store port. Sessions kept here do not survive a process restart; it backs
// the "memory" store backend and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/medcontrol/sessiongate/internal/domain/credential"
)

// CredStore implements credential.Store with a mutex-guarded map.
// Thread-safe for concurrent access.
type CredStore struct {
	mu           sync.RWMutex
	entries      map[credential.Kind]string
	lastActivity time.Time
}

// NewCredStore creates an empty in-memory credential store.
func NewCredStore() *CredStore {
	return &CredStore{
		entries: make(map[credential.Kind]string),
	}
}

// Get returns the stored token of the given kind, or credential.ErrNotFound.
func (s *CredStore) Get(ctx context.Context, kind credential.Kind) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.entries[kind]
	if !ok || token == "" {
		return "", credential.ErrNotFound
	}
	return token, nil
}

// Set stores or replaces the token of the given kind.
func (s *CredStore) Set(ctx context.Context, kind credential.Kind, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[kind] = token
	return nil
}

// LastActivity returns the recorded activity timestamp.
func (s *CredStore) LastActivity(ctx context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastActivity.IsZero() {
		return time.Time{}, credential.ErrNotFound
	}
	return s.lastActivity, nil
}

// SetLastActivity records the activity timestamp.
func (s *CredStore) SetLastActivity(ctx context.Context, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = at.UTC()
	return nil
}

// Clear removes all entries together.
func (s *CredStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[credential.Kind]string)
	s.lastActivity = time.Time{}
	return nil
}

// Compile-time check that CredStore implements credential.Store.
var _ credential.Store = (*CredStore)(nil)
