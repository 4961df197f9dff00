package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/medcontrol/sessiongate/internal/domain/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIssueTokens(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access":  "new-access",
			"refresh": "new-refresh",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api/auth", testLogger())
	pair, err := c.IssueTokens(context.Background(), "ana", "secret")
	if err != nil {
		t.Fatalf("IssueTokens() error = %v", err)
	}

	if gotPath != "/api/auth/token/" {
		t.Errorf("path = %q, want /api/auth/token/", gotPath)
	}
	if gotBody["username"] != "ana" || gotBody["password"] != "secret" {
		t.Errorf("request body = %v", gotBody)
	}
	if pair.Access != "new-access" || pair.Refresh != "new-refresh" {
		t.Errorf("pair = %+v", pair)
	}
}

func TestIssueTokensRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"detail": "No active account found with the given credentials",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	_, err := c.IssueTokens(context.Background(), "ana", "wrong")

	var rejected *session.AuthRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("IssueTokens() error = %v, want *session.AuthRejectedError", err)
	}
	if rejected.Reason != "No active account found with the given credentials" {
		t.Errorf("Reason = %q", rejected.Reason)
	}
	if rejected.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", rejected.StatusCode)
	}
}

func TestIssueTokensServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	_, err := c.IssueTokens(context.Background(), "ana", "secret")

	var rejected *session.AuthRejectedError
	if errors.As(err, &rejected) {
		t.Fatal("5xx must not be reported as an explicit rejection")
	}
	if err == nil {
		t.Fatal("IssueTokens() should fail on 5xx")
	}
}

func TestIssueTokensMissingCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"access": "only-access"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	if _, err := c.IssueTokens(context.Background(), "ana", "secret"); err == nil {
		t.Fatal("IssueTokens() should fail when the refresh token is missing")
	}
}

func TestRenewAccess(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]string{"access": "renewed-access"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	access, err := c.RenewAccess(context.Background(), "the-refresh")
	if err != nil {
		t.Fatalf("RenewAccess() error = %v", err)
	}

	if gotPath != "/token/refresh/" {
		t.Errorf("path = %q, want /token/refresh/", gotPath)
	}
	if gotBody["refresh"] != "the-refresh" {
		t.Errorf("request body = %v", gotBody)
	}
	if access != "renewed-access" {
		t.Errorf("access = %q", access)
	}
}

func TestRenewAccessFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Token is invalid or expired"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	if _, err := c.RenewAccess(context.Background(), "stale"); err == nil {
		t.Fatal("RenewAccess() should fail on 401")
	}
}

func TestRevokeSession(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	if err := c.RevokeSession(context.Background(), "the-refresh"); err != nil {
		t.Fatalf("RevokeSession() error = %v", err)
	}
	if gotPath != "/logout/" {
		t.Errorf("path = %q, want /logout/", gotPath)
	}
}

func TestTransportFailure(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", testLogger()) // nothing listening

	if _, err := c.IssueTokens(context.Background(), "ana", "secret"); err == nil {
		t.Error("IssueTokens() should surface transport failures")
	}
	if _, err := c.RenewAccess(context.Background(), "r"); err == nil {
		t.Error("RenewAccess() should surface transport failures")
	}
	if err := c.RevokeSession(context.Background(), "r"); err == nil {
		t.Error("RevokeSession() should surface transport failures")
	}
}

func TestWithTimeoutAppliesRegardlessOfOptionOrder(t *testing.T) {
	custom := &http.Client{}

	before := NewClient("http://example.invalid", testLogger(),
		WithTimeout(3*time.Second), WithHTTPClient(custom))
	if before.httpClient.Timeout != 3*time.Second {
		t.Errorf("timeout before custom client = %v, want 3s", before.httpClient.Timeout)
	}

	custom2 := &http.Client{}
	after := NewClient("http://example.invalid", testLogger(),
		WithHTTPClient(custom2), WithTimeout(3*time.Second))
	if after.httpClient.Timeout != 3*time.Second {
		t.Errorf("timeout after custom client = %v, want 3s", after.httpClient.Timeout)
	}
}
