// Package credfile persists credentials in a JSON file so a session
// survives process restarts. Writes are atomic (write-tmp-then-rename) and
// guarded by flock for cross-process safety plus a mutex for in-process
// safety. The file is kept at 0600; no backup copies are made, since Clear
// must leave no recoverable token material behind.
package credfile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/medcontrol/sessiongate/internal/domain/credential"
)

// fileState is the on-disk layout: the three entries from the persisted
// contract, all cleared together on session end.
type fileState struct {
	AccessToken    string `json:"access_token,omitempty"`
	RefreshToken   string `json:"refresh_token,omitempty"`
	LastActivityAt string `json:"last_activity_at,omitempty"`
}

// Store implements credential.Store on top of a single JSON file.
type Store struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewStore creates a file-backed credential store at the given path.
// The parent directory is created on first write.
func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger,
	}
}

// Get returns the stored token of the given kind, or credential.ErrNotFound.
func (s *Store) Get(ctx context.Context, kind credential.Kind) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return "", err
	}

	var token string
	switch kind {
	case credential.KindAccess:
		token = state.AccessToken
	case credential.KindRefresh:
		token = state.RefreshToken
	default:
		return "", fmt.Errorf("unknown credential kind %q", kind)
	}
	if token == "" {
		return "", credential.ErrNotFound
	}
	return token, nil
}

// Set stores or replaces the token of the given kind.
func (s *Store) Set(ctx context.Context, kind credential.Kind, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return err
	}

	switch kind {
	case credential.KindAccess:
		state.AccessToken = token
	case credential.KindRefresh:
		state.RefreshToken = token
	default:
		return fmt.Errorf("unknown credential kind %q", kind)
	}
	return s.save(state)
}

// LastActivity returns the persisted activity timestamp.
func (s *Store) LastActivity(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return time.Time{}, err
	}
	if state.LastActivityAt == "" {
		return time.Time{}, credential.ErrNotFound
	}
	at, err := time.Parse(time.RFC3339, state.LastActivityAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last activity: %w", err)
	}
	return at.UTC(), nil
}

// SetLastActivity records the activity timestamp.
func (s *Store) SetLastActivity(ctx context.Context, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return err
	}
	state.LastActivityAt = at.UTC().Format(time.RFC3339)
	return s.save(state)
}

// Clear removes the credential file entirely. Removing the file (rather than
// writing an empty one) leaves no token material on disk.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credential file: %w", err)
	}
	return nil
}

// load reads and parses the credential file. A missing file is an empty
// session, not an error.
func (s *Store) load() (*fileState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &fileState{}, nil
		}
		return nil, fmt.Errorf("read credential file: %w", err)
	}

	// Warn if the file is readable by group or other. Skip on Windows where
	// Unix permission bits are not supported.
	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(s.path); statErr == nil {
			mode := info.Mode().Perm()
			if mode&0077 != 0 {
				s.logger.Warn("credential file has too-open permissions, should be 0600",
					"path", s.path, "current_mode", fmt.Sprintf("%04o", mode))
			}
		}
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse credential file: %w", err)
	}
	return &state, nil
}

// save writes the state to disk atomically.
//
// The write sequence is:
//  1. Ensure the parent directory exists (0700)
//  2. Acquire flock on path+".lock"
//  3. Marshal state as JSON
//  4. Write to path+".tmp" with 0600 permissions
//  5. Fsync the temp file
//  6. Rename path+".tmp" -> path
//  7. Release flock
func (s *Store) save(state *fileState) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create credential directory: %w", err)
	}

	lockPath := s.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer flockUnlock(lockFile.Fd()) //nolint:errcheck

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credential state: %w", err)
	}
	data = append(data, '\n')

	tmpPath := s.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename credential file: %w", err)
	}

	// Safety net in case the umask widened the temp file permissions.
	if err := os.Chmod(s.path, 0600); err != nil {
		s.logger.Warn("failed to set permissions on credential file", "error", err)
	}
	return nil
}

// Compile-time check that Store implements credential.Store.
var _ credential.Store = (*Store)(nil)
