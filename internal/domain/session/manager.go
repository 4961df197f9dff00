// Package session owns the credential lifecycle: login, logout, renewal,
// and the observable logged-in state. It is the single writer of the
// credential store; no other component touches persisted credentials.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/medcontrol/sessiongate/internal/domain/credential"
	"github.com/medcontrol/sessiongate/internal/signal"
)

// Renewal errors. Both are resolved before any network call is made.
var (
	// ErrNoRefreshToken is returned by Refresh when no refresh token is stored.
	ErrNoRefreshToken = errors.New("no refresh token available")
	// ErrRefreshExpired is returned by Refresh when the stored refresh token
	// is itself expired (or malformed, which counts as expired).
	ErrRefreshExpired = errors.New("refresh token expired")
)

// AuthRejectedError reports an explicit server rejection of login
// credentials, carrying the human-readable reason so the caller can show
// "wrong username or password" instead of a generic failure.
type AuthRejectedError struct {
	Reason     string
	StatusCode int
}

func (e *AuthRejectedError) Error() string {
	return fmt.Sprintf("login rejected: %s", e.Reason)
}

// TokenService is the outbound port to the credential-issuing endpoints.
// Implementations distinguish explicit rejection (*AuthRejectedError) from
// transport failure.
type TokenService interface {
	// IssueTokens exchanges username/password for a credential pair.
	IssueTokens(ctx context.Context, username, password string) (credential.Pair, error)
	// RenewAccess exchanges a refresh token for a new access token.
	// The refresh token is never replaced by this call.
	RenewAccess(ctx context.Context, refreshToken string) (string, error)
	// RevokeSession invalidates the refresh token server-side.
	RevokeSession(ctx context.Context, refreshToken string) error
}

// Manager composes the credential store and codec into the session
// lifecycle. All state transitions flow through it, and it publishes the
// logged-in signal consumed by the shell.
type Manager struct {
	store  credential.Store
	tokens TokenService
	logger *slog.Logger
	now    func() time.Time

	// renew serializes concurrent renewals: while one is in flight, callers
	// that also need renewal join it and observe the same outcome.
	renew    singleflight.Group
	loggedIn *signal.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source, for deterministic expiry tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a session manager over the given store and token
// service. The logged-in signal starts from whatever session the store
// already holds, so a restart does not log the user out.
func NewManager(store credential.Store, tokens TokenService, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		tokens: tokens,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.loggedIn = signal.NewBool(m.HasSession(context.Background()))
	return m
}

// Login exchanges the credentials for a token pair. On success it stores
// both tokens and a fresh activity timestamp and flips the logged-in signal
// to true. On failure the existing state is left untouched and the error is
// returned as-is: *AuthRejectedError for an explicit rejection, a wrapped
// transport error otherwise. No retry is attempted.
func (m *Manager) Login(ctx context.Context, username, password string) error {
	pair, err := m.tokens.IssueTokens(ctx, username, password)
	if err != nil {
		return err
	}

	if err := m.store.Set(ctx, credential.KindAccess, pair.Access); err != nil {
		return fmt.Errorf("store access token: %w", err)
	}
	if err := m.store.Set(ctx, credential.KindRefresh, pair.Refresh); err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	if err := m.store.SetLastActivity(ctx, m.now()); err != nil {
		return fmt.Errorf("store activity timestamp: %w", err)
	}

	m.loggedIn.Set(true)
	m.logger.Info("session established",
		"user", username,
		"access_fp", credential.Fingerprint(pair.Access),
	)
	return nil
}

// Logout ends the session. When an unexpired refresh token is present it
// first fires a best-effort revoke call whose outcome is ignored; logout
// always proceeds locally. Logging out with no session is a no-op: no
// network call, no signal emission.
func (m *Manager) Logout(ctx context.Context) error {
	if !m.HasSession(ctx) {
		return nil
	}

	if refresh, err := m.store.Get(ctx, credential.KindRefresh); err == nil &&
		!credential.Expired(refresh, m.now()) {
		if err := m.tokens.RevokeSession(ctx, refresh); err != nil {
			m.logger.Debug("session revoke failed, proceeding with local logout", "error", err)
		}
	}
	return m.endLocal(ctx)
}

// EndSession discards local session state without notifying the server.
// Used to drop possibly-stale credentials before a fresh login attempt, so
// a session belonging to a just-submitted login is never revoked, and by
// the gateway on forced logout.
func (m *Manager) EndSession(ctx context.Context) error {
	return m.endLocal(ctx)
}

func (m *Manager) endLocal(ctx context.Context) error {
	err := m.store.Clear(ctx)
	m.loggedIn.Set(false)
	if err != nil {
		return fmt.Errorf("clear credential store: %w", err)
	}
	m.logger.Info("session ended")
	return nil
}

// HasSession reports whether either credential is present. It never decodes
// tokens; expiry is evaluated lazily on use.
func (m *Manager) HasSession(ctx context.Context) bool {
	if _, err := m.store.Get(ctx, credential.KindAccess); err == nil {
		return true
	}
	if _, err := m.store.Get(ctx, credential.KindRefresh); err == nil {
		return true
	}
	return false
}

// AccessToken returns the stored access token, or credential.ErrNotFound.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	return m.store.Get(ctx, credential.KindAccess)
}

// AccessExpired reports whether the stored access token is expired.
// Missing or malformed tokens count as expired.
func (m *Manager) AccessExpired(ctx context.Context) bool {
	access, err := m.store.Get(ctx, credential.KindAccess)
	if err != nil {
		return true
	}
	return credential.Expired(access, m.now())
}

// ValidRefresh reports whether a usable refresh token is stored.
// Missing or malformed tokens count as invalid.
func (m *Manager) ValidRefresh(ctx context.Context) bool {
	refresh, err := m.store.Get(ctx, credential.KindRefresh)
	if err != nil {
		return false
	}
	return !credential.Expired(refresh, m.now())
}

// Refresh exchanges the refresh token for a new access token. It fails fast
// with ErrNoRefreshToken or ErrRefreshExpired without touching the network.
// Concurrent callers share a single in-flight renewal and observe the same
// outcome. On success the new access token is stored (the refresh token is
// untouched) and the logged-in signal is re-asserted. On failure the session
// is NOT cleared here; the caller decides whether failure forces a logout.
// A renewal that resolves after the session was ended is discarded and fails
// with ErrNoRefreshToken, so a forced logout is never undone by a late
// renewal response.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	refresh, err := m.store.Get(ctx, credential.KindRefresh)
	if errors.Is(err, credential.ErrNotFound) {
		return "", ErrNoRefreshToken
	}
	if err != nil {
		return "", fmt.Errorf("read refresh token: %w", err)
	}
	if credential.Expired(refresh, m.now()) {
		return "", ErrRefreshExpired
	}

	v, err, shared := m.renew.Do("renew-access", func() (any, error) {
		access, err := m.tokens.RenewAccess(ctx, refresh)
		if err != nil {
			return nil, err
		}
		// The session may have been ended while the renewal was in
		// flight. The renewed token must not be stored then: writing it
		// would leave a half-session (access present, refresh gone) and
		// flip the logged-in signal back on. Discard it and fail so the
		// caller's retry fails too.
		if _, err := m.store.Get(ctx, credential.KindRefresh); err != nil {
			if errors.Is(err, credential.ErrNotFound) {
				m.logger.Debug("session ended during renewal, discarding renewed token")
				return nil, ErrNoRefreshToken
			}
			return nil, fmt.Errorf("read refresh token: %w", err)
		}
		if err := m.store.Set(ctx, credential.KindAccess, access); err != nil {
			return nil, fmt.Errorf("store renewed access token: %w", err)
		}
		m.loggedIn.Set(true)
		m.logger.Debug("access token renewed",
			"access_fp", credential.Fingerprint(access),
		)
		return access, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		m.logger.Debug("joined in-flight renewal")
	}
	return v.(string), nil
}

// Touch records the current instant as the last activity time. A no-op when
// no session exists.
func (m *Manager) Touch(ctx context.Context) error {
	if !m.HasSession(ctx) {
		return nil
	}
	return m.store.SetLastActivity(ctx, m.now())
}

// LastActivity returns the persisted activity timestamp, or
// credential.ErrNotFound when none is recorded.
func (m *Manager) LastActivity(ctx context.Context) (time.Time, error) {
	return m.store.LastActivity(ctx)
}

// LoggedIn returns an observer of the logged-in state. The channel carries
// the current value immediately, then one value per transition. Callers
// must pass the channel to UnsubscribeLoggedIn when done.
func (m *Manager) LoggedIn() <-chan bool {
	return m.loggedIn.Subscribe()
}

// UnsubscribeLoggedIn releases an observer obtained from LoggedIn.
func (m *Manager) UnsubscribeLoggedIn(ch <-chan bool) {
	m.loggedIn.Unsubscribe(ch)
}

// IsLoggedIn returns the current logged-in state synchronously.
func (m *Manager) IsLoggedIn() bool {
	return m.loggedIn.Get()
}
