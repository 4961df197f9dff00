// Package credential contains the domain types for the access and refresh
// credentials issued by the medication API, plus the codec that reads a
// token's expiry without verifying its signature.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Kind identifies which credential a store operation refers to.
type Kind string

const (
	// KindAccess is the short-lived token attached to individual requests.
	KindAccess Kind = "access"
	// KindRefresh is the longer-lived token exchanged for new access tokens.
	KindRefresh Kind = "refresh"
)

// IsValid returns true if the kind is a known credential kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindAccess, KindRefresh:
		return true
	default:
		return false
	}
}

// Persisted entry names. Every store backend uses the same three keys so a
// session written by one backend reads back identically from another.
const (
	StorageKeyAccess       = "access_token"
	StorageKeyRefresh      = "refresh_token"
	StorageKeyLastActivity = "last_activity_at"
)

// Pair holds both credentials as returned by a successful login exchange.
// At issuance the refresh token's expiry is at or after the access token's,
// but the two are always checked independently.
type Pair struct {
	Access  string
	Refresh string
}

// Store errors.
var (
	// ErrNotFound is returned when the requested entry is absent.
	ErrNotFound = errors.New("credential not found")
)

// Store is the durable key/value persistence port for credentials and the
// last-activity timestamp. Implementations carry no expiry logic and do no
// network I/O; persisted state outlives a single process run.
type Store interface {
	// Get returns the stored token of the given kind, or ErrNotFound.
	Get(ctx context.Context, kind Kind) (string, error)
	// Set stores or replaces the token of the given kind.
	Set(ctx context.Context, kind Kind, token string) error
	// LastActivity returns the persisted activity timestamp, or ErrNotFound
	// if none has been recorded.
	LastActivity(ctx context.Context) (time.Time, error)
	// SetLastActivity records the activity timestamp.
	SetLastActivity(ctx context.Context, at time.Time) error
	// Clear removes all three entries together.
	Clear(ctx context.Context) error
}

// Fingerprint returns a short non-reversible identifier for a token, safe to
// include in log output. Raw token material must never be logged.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(token))
}
