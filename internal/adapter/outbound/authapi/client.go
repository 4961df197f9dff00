// Package authapi is the HTTP adapter for the credential-issuing endpoints
// of the medication API: token issue, token refresh, and logout (revoke).
package authapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/medcontrol/sessiongate/internal/domain/credential"
	"github.com/medcontrol/sessiongate/internal/domain/session"
)

// maxResponseBodySize bounds response bodies from the auth endpoints.
// Token responses are tiny; anything larger is not worth reading.
const maxResponseBodySize = 1 * 1024 * 1024 // 1MB

// Endpoint paths, relative to the auth base URL. The trailing slashes match
// the server's route table; without them the server answers with a redirect
// that would drop the POST body.
const (
	tokenPath   = "/token/"
	refreshPath = "/token/refresh/"
	logoutPath  = "/logout/"
)

// Client calls the auth endpoints. It implements session.TokenService.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

// ClientOption is a functional option for configuring Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the request timeout. It is applied to whichever HTTP
// client the Client ends up with, regardless of option order.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// NewClient creates a client for the auth base URL (e.g. "https://host/api/auth").
func NewClient(baseURL string, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		c.httpClient.Timeout = c.timeout
	}

	return c
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access string `json:"access"`
}

// rejectionBody is the error shape the auth endpoints answer with.
type rejectionBody struct {
	Detail string `json:"detail"`
}

// IssueTokens exchanges username/password for a credential pair. An explicit
// server rejection (4xx) is returned as *session.AuthRejectedError carrying
// the server's reason; anything else is a transport error.
func (c *Client) IssueTokens(ctx context.Context, username, password string) (credential.Pair, error) {
	resp, body, err := c.post(ctx, tokenPath, tokenRequest{Username: username, Password: password})
	if err != nil {
		return credential.Pair{}, fmt.Errorf("token endpoint: %w", err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return credential.Pair{}, &session.AuthRejectedError{
			Reason:     rejectionReason(body),
			StatusCode: resp.StatusCode,
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return credential.Pair{}, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tokens tokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return credential.Pair{}, fmt.Errorf("decode token response: %w", err)
	}
	if tokens.Access == "" || tokens.Refresh == "" {
		return credential.Pair{}, fmt.Errorf("token response missing credentials")
	}
	return credential.Pair{Access: tokens.Access, Refresh: tokens.Refresh}, nil
}

// RenewAccess exchanges a refresh token for a new access token.
func (c *Client) RenewAccess(ctx context.Context, refreshToken string) (string, error) {
	resp, body, err := c.post(ctx, refreshPath, refreshRequest{Refresh: refreshToken})
	if err != nil {
		return "", fmt.Errorf("refresh endpoint: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("refresh endpoint returned status %d: %s", resp.StatusCode, rejectionReason(body))
	}

	var renewed refreshResponse
	if err := json.Unmarshal(body, &renewed); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}
	if renewed.Access == "" {
		return "", fmt.Errorf("refresh response missing access token")
	}
	return renewed.Access, nil
}

// RevokeSession invalidates the refresh token server-side. Callers treat the
// outcome as best-effort.
func (c *Client) RevokeSession(ctx context.Context, refreshToken string) error {
	resp, body, err := c.post(ctx, logoutPath, refreshRequest{Refresh: refreshToken})
	if err != nil {
		return fmt.Errorf("logout endpoint: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("logout endpoint returned status %d: %s", resp.StatusCode, rejectionReason(body))
	}
	return nil
}

// post sends a JSON body and returns the response with its (bounded) body
// already read and closed.
func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	return resp, body, nil
}

// rejectionReason extracts the server's detail message, falling back to a
// generic reason when the body is not the expected shape.
func rejectionReason(body []byte) string {
	var rejection rejectionBody
	if err := json.Unmarshal(body, &rejection); err == nil && rejection.Detail != "" {
		return rejection.Detail
	}
	return "authentication failed"
}

// Compile-time check that Client implements session.TokenService.
var _ session.TokenService = (*Client)(nil)
