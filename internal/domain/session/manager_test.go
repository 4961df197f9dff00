package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/medcontrol/sessiongate/internal/domain/credential"
)

// mockStore is an in-memory credential.Store for testing.
type mockStore struct {
	mu           sync.Mutex
	entries      map[credential.Kind]string
	lastActivity time.Time
}

func newMockStore() *mockStore {
	return &mockStore{entries: make(map[credential.Kind]string)}
}

func (s *mockStore) Get(ctx context.Context, kind credential.Kind) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.entries[kind]
	if !ok {
		return "", credential.ErrNotFound
	}
	return token, nil
}

func (s *mockStore) Set(ctx context.Context, kind credential.Kind, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[kind] = token
	return nil
}

func (s *mockStore) LastActivity(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastActivity.IsZero() {
		return time.Time{}, credential.ErrNotFound
	}
	return s.lastActivity, nil
}

func (s *mockStore) SetLastActivity(ctx context.Context, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = at
	return nil
}

func (s *mockStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[credential.Kind]string)
	s.lastActivity = time.Time{}
	return nil
}

// mockTokens is a scriptable TokenService that counts calls.
type mockTokens struct {
	mu          sync.Mutex
	issuePair   credential.Pair
	issueErr    error
	renewAccess string
	renewErr    error
	renewGate   chan struct{} // when non-nil, RenewAccess blocks until closed
	revokeErr   error

	issueCalls  int
	renewCalls  int
	revokeCalls int
	revokedWith string
}

func (m *mockTokens) IssueTokens(ctx context.Context, username, password string) (credential.Pair, error) {
	m.mu.Lock()
	m.issueCalls++
	m.mu.Unlock()
	if m.issueErr != nil {
		return credential.Pair{}, m.issueErr
	}
	return m.issuePair, nil
}

func (m *mockTokens) RenewAccess(ctx context.Context, refreshToken string) (string, error) {
	m.mu.Lock()
	m.renewCalls++
	gate := m.renewGate
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if m.renewErr != nil {
		return "", m.renewErr
	}
	return m.renewAccess, nil
}

func (m *mockTokens) RevokeSession(ctx context.Context, refreshToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokeCalls++
	m.revokedWith = refreshToken
	return m.revokeErr
}

func (m *mockTokens) counts() (issue, renew, revoke int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.issueCalls, m.renewCalls, m.revokeCalls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// signedish builds an unsigned JWT-shaped token with the given expiry.
func signedish(exp time.Time) string {
	enc := base64.RawURLEncoding.EncodeToString
	header := enc([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload := enc([]byte(fmt.Sprintf(`{"exp":%d}`, exp.Unix())))
	return header + "." + payload + ".c2ln"
}

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() func() time.Time {
	return func() time.Time { return testNow }
}

func TestLoginStoresPairAndSignals(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	access := signedish(testNow.Add(5 * time.Minute))
	refresh := signedish(testNow.Add(24 * time.Hour))
	tokens := &mockTokens{issuePair: credential.Pair{Access: access, Refresh: refresh}}

	m := NewManager(store, tokens, testLogger(), WithClock(fixedClock()))

	if m.HasSession(ctx) {
		t.Fatal("fresh manager should have no session")
	}
	if err := m.Login(ctx, "ana", "secret"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if !m.HasSession(ctx) {
		t.Error("HasSession() should be true after login")
	}
	if !m.IsLoggedIn() {
		t.Error("IsLoggedIn() should be true after login")
	}
	got, err := store.Get(ctx, credential.KindRefresh)
	if err != nil || got != refresh {
		t.Errorf("refresh token stored = %q, %v", got, err)
	}
	if _, err := store.LastActivity(ctx); err != nil {
		t.Errorf("activity timestamp should be set, got %v", err)
	}
}

func TestLoginRejectedLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	rejected := &AuthRejectedError{Reason: "bad credentials", StatusCode: 401}
	tokens := &mockTokens{issueErr: rejected}

	m := NewManager(store, tokens, testLogger(), WithClock(fixedClock()))

	err := m.Login(ctx, "ana", "wrong")
	var authErr *AuthRejectedError
	if !errors.As(err, &authErr) {
		t.Fatalf("Login() error = %v, want *AuthRejectedError", err)
	}
	if authErr.Reason != "bad credentials" {
		t.Errorf("Reason = %q, want bad credentials", authErr.Reason)
	}
	if m.HasSession(ctx) {
		t.Error("HasSession() should remain false after rejected login")
	}
	if m.IsLoggedIn() {
		t.Error("IsLoggedIn() should remain false after rejected login")
	}
}

func TestLogoutRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	refresh := signedish(testNow.Add(24 * time.Hour))
	tokens := &mockTokens{issuePair: credential.Pair{
		Access:  signedish(testNow.Add(5 * time.Minute)),
		Refresh: refresh,
	}}

	m := NewManager(store, tokens, testLogger(), WithClock(fixedClock()))
	if err := m.Login(ctx, "ana", "secret"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if err := m.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	if m.HasSession(ctx) {
		t.Error("HasSession() should be false after logout")
	}
	if _, _, revoke := tokens.counts(); revoke != 1 {
		t.Errorf("revoke calls = %d, want 1", revoke)
	}
	if tokens.revokedWith != refresh {
		t.Error("revoke should be called with the stored refresh token")
	}
	if _, err := store.LastActivity(ctx); !errors.Is(err, credential.ErrNotFound) {
		t.Errorf("activity timestamp should be cleared, got %v", err)
	}
}

func TestLogoutWithoutSessionIsNoop(t *testing.T) {
	ctx := context.Background()
	tokens := &mockTokens{}
	m := NewManager(newMockStore(), tokens, testLogger(), WithClock(fixedClock()))

	ch := m.LoggedIn()
	defer m.UnsubscribeLoggedIn(ch)
	<-ch // initial false

	if err := m.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	if _, _, revoke := tokens.counts(); revoke != 0 {
		t.Errorf("revoke calls = %d, want 0", revoke)
	}
	select {
	case v := <-ch:
		t.Errorf("unexpected signal emission %v", v)
	default:
	}
}

func TestLogoutSkipsRevokeWhenRefreshExpired(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	_ = store.Set(ctx, credential.KindRefresh, signedish(testNow.Add(-time.Hour)))
	tokens := &mockTokens{}

	m := NewManager(store, tokens, testLogger(), WithClock(fixedClock()))
	if err := m.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	if _, _, revoke := tokens.counts(); revoke != 0 {
		t.Errorf("revoke calls = %d, want 0 for expired refresh", revoke)
	}
	if m.HasSession(ctx) {
		t.Error("session should still be cleared locally")
	}
}

func TestLogoutProceedsWhenRevokeFails(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	_ = store.Set(ctx, credential.KindRefresh, signedish(testNow.Add(time.Hour)))
	tokens := &mockTokens{revokeErr: errors.New("server unreachable")}

	m := NewManager(store, tokens, testLogger(), WithClock(fixedClock()))
	if err := m.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if m.HasSession(ctx) {
		t.Error("logout must proceed locally even when revoke fails")
	}
}

func TestEndSessionNeverNotifiesServer(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	_ = store.Set(ctx, credential.KindRefresh, signedish(testNow.Add(time.Hour)))
	tokens := &mockTokens{}

	m := NewManager(store, tokens, testLogger(), WithClock(fixedClock()))
	if err := m.EndSession(ctx); err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}

	if _, _, revoke := tokens.counts(); revoke != 0 {
		t.Errorf("revoke calls = %d, want 0 for EndSession", revoke)
	}
	if m.HasSession(ctx) {
		t.Error("EndSession should clear the store")
	}
}

func TestRefreshFailsFastWithoutNetwork(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		refresh string // empty means absent
		wantErr error
	}{
		{name: "no refresh token", refresh: "", wantErr: ErrNoRefreshToken},
		{name: "expired refresh token", refresh: signedish(testNow.Add(-time.Minute)), wantErr: ErrRefreshExpired},
		{name: "malformed refresh token", refresh: "garbage", wantErr: ErrRefreshExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore()
			if tt.refresh != "" {
				_ = store.Set(ctx, credential.KindRefresh, tt.refresh)
			}
			tokens := &mockTokens{}
			m := NewManager(store, tokens, testLogger(), WithClock(fixedClock()))

			_, err := m.Refresh(ctx)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Refresh() error = %v, want %v", err, tt.wantErr)
			}
			if _, renew, _ := tokens.counts(); renew != 0 {
				t.Errorf("renew calls = %d, want 0", renew)
			}
		})
	}
}

func TestRefreshReplacesAccessOnly(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	refresh := signedish(testNow.Add(24 * time.Hour))
	_ = store.Set(ctx, credential.KindAccess, signedish(testNow.Add(-time.Minute)))
	_ = store.Set(ctx, credential.KindRefresh, refresh)

	newAccess := signedish(testNow.Add(5 * time.Minute))
	tokens := &mockTokens{renewAccess: newAccess}
	m := NewManager(store, tokens, testLogger(), WithClock(fixedClock()))

	got, err := m.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got != newAccess {
		t.Errorf("Refresh() = %q, want the new access token", got)
	}

	stored, _ := store.Get(ctx, credential.KindAccess)
	if stored != newAccess {
		t.Error("access token should be replaced in the store")
	}
	storedRefresh, _ := store.Get(ctx, credential.KindRefresh)
	if storedRefresh != refresh {
		t.Error("refresh token must never be replaced by a renewal")
	}
}

func TestRefreshFailureDoesNotClearSession(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	_ = store.Set(ctx, credential.KindRefresh, signedish(testNow.Add(time.Hour)))
	tokens := &mockTokens{renewErr: errors.New("boom")}

	m := NewManager(store, tokens, testLogger(), WithClock(fixedClock()))
	if _, err := m.Refresh(ctx); err == nil {
		t.Fatal("Refresh() should propagate the renewal error")
	}
	if !m.HasSession(ctx) {
		t.Error("refresh failure must not clear the session; the caller decides")
	}
}

func TestRefreshSingleFlight(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	_ = store.Set(ctx, credential.KindRefresh, signedish(testNow.Add(time.Hour)))

	newAccess := signedish(testNow.Add(5 * time.Minute))
	gate := make(chan struct{})
	tokens := &mockTokens{renewAccess: newAccess, renewGate: gate}
	m := NewManager(store, tokens, testLogger(), WithClock(fixedClock()))

	const n = 8
	results := make(chan string, n)
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			access, err := m.Refresh(ctx)
			results <- access
			errs <- err
		}()
	}

	// Let every goroutine reach the flight before releasing the renewal.
	time.Sleep(100 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
	}
	for access := range results {
		if access != newAccess {
			t.Errorf("Refresh() = %q, want shared outcome %q", access, newAccess)
		}
	}
	if _, renew, _ := tokens.counts(); renew != 1 {
		t.Errorf("renew calls = %d, want exactly 1", renew)
	}
}

// A renewal that resolves after the session was force-ended must not write
// the renewed token back or re-assert the logged-in signal.
func TestRefreshAfterSessionEndDiscardsRenewedToken(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	_ = store.Set(ctx, credential.KindAccess, signedish(testNow.Add(-time.Minute)))
	_ = store.Set(ctx, credential.KindRefresh, signedish(testNow.Add(time.Hour)))

	gate := make(chan struct{})
	tokens := &mockTokens{
		renewAccess: signedish(testNow.Add(5 * time.Minute)),
		renewGate:   gate,
	}
	m := NewManager(store, tokens, testLogger(), WithClock(fixedClock()))

	errc := make(chan error, 1)
	go func() {
		_, err := m.Refresh(ctx)
		errc <- err
	}()

	// Wait for the renewal call to be in flight before ending the session.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, renew, _ := tokens.counts(); renew == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("renewal call never started")
		}
		time.Sleep(time.Millisecond)
	}

	if err := m.EndSession(ctx); err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}
	close(gate)

	if err := <-errc; !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("Refresh() after session end error = %v, want ErrNoRefreshToken", err)
	}
	if m.HasSession(ctx) {
		t.Error("HasSession() = true, want false after session end")
	}
	if m.IsLoggedIn() {
		t.Error("IsLoggedIn() = true, want false after session end")
	}
	if _, err := store.Get(ctx, credential.KindAccess); !errors.Is(err, credential.ErrNotFound) {
		t.Errorf("access token survived discarded renewal, Get error = %v", err)
	}
}

func TestLoggedInSignalTransitions(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	tokens := &mockTokens{issuePair: credential.Pair{
		Access:  signedish(testNow.Add(5 * time.Minute)),
		Refresh: signedish(testNow.Add(24 * time.Hour)),
	}}
	m := NewManager(store, tokens, testLogger(), WithClock(fixedClock()))

	ch := m.LoggedIn()
	defer m.UnsubscribeLoggedIn(ch)

	if v := <-ch; v {
		t.Fatal("initial signal value should be false")
	}

	if err := m.Login(ctx, "ana", "secret"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if v := <-ch; !v {
		t.Fatal("expected true after login")
	}

	if err := m.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if v := <-ch; v {
		t.Fatal("expected false after logout")
	}
}
