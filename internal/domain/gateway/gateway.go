// Package gateway wraps every outbound API call: it attaches the access
// credential, detects expiry proactively and reactively, drives renewal
// through the session manager, and publishes the loading signal.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medcontrol/sessiongate/internal/domain/credential"
	"github.com/medcontrol/sessiongate/internal/domain/session"
	"github.com/medcontrol/sessiongate/internal/metrics"
)

// ErrUnauthenticated is returned when no usable credential exists or renewal
// failed; the session has been cleared and the caller must log in again.
var ErrUnauthenticated = errors.New("authentication required")

// DefaultAuthBasePath is the path prefix of the credential endpoints.
// Requests under it bypass credential attachment and renewal, so the
// gateway can never recurse into renewing a renewal call.
const DefaultAuthBasePath = "/api/auth"

// requestClass tells the gateway how to treat a request.
type requestClass int

const (
	classResource requestClass = iota // ordinary API call
	classLogin                        // token issue call
	classRenewal                      // token refresh call
	classRevoke                       // logout/revoke call
)

// Session is the contract the gateway needs from the session manager.
type Session interface {
	AccessToken(ctx context.Context) (string, error)
	AccessExpired(ctx context.Context) bool
	ValidRefresh(ctx context.Context) bool
	Refresh(ctx context.Context) (string, error)
	EndSession(ctx context.Context) error
}

// Gateway dispatches outbound API requests. Construct with NewGateway.
type Gateway struct {
	session  Session
	client   *http.Client
	loading  *LoadingTracker
	metrics  *metrics.Metrics
	logger   *slog.Logger
	authBase string

	// onUnauthenticated is invoked after a forced logout so the shell can
	// switch to its login surface.
	onUnauthenticated func()
}

// Option is a functional option for configuring Gateway.
type Option func(*Gateway)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) { g.client = client }
}

// WithAuthBasePath overrides the auth endpoint prefix used to classify
// requests.
func WithAuthBasePath(base string) Option {
	return func(g *Gateway) { g.authBase = strings.TrimRight(base, "/") }
}

// WithLoadingDelay overrides the trailing delay of the loading counter.
func WithLoadingDelay(delay time.Duration) Option {
	return func(g *Gateway) { g.loading = NewLoadingTracker(delay) }
}

// WithOnUnauthenticated registers the forced-logout hook.
func WithOnUnauthenticated(fn func()) Option {
	return func(g *Gateway) { g.onUnauthenticated = fn }
}

// NewGateway creates a request gateway over the given session manager.
func NewGateway(sess Session, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		session:  sess,
		client:   &http.Client{Timeout: 30 * time.Second},
		loading:  NewLoadingTracker(DefaultLoadingDelay),
		metrics:  m,
		logger:   logger,
		authBase: DefaultAuthBasePath,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Loading returns an observer of the derived busy state.
func (g *Gateway) Loading() <-chan bool { return g.loading.Loading() }

// UnsubscribeLoading releases an observer obtained from Loading.
func (g *Gateway) UnsubscribeLoading(ch <-chan bool) { g.loading.Unsubscribe(ch) }

// IsLoading reports whether any tracked request is outstanding.
func (g *Gateway) IsLoading() bool { return g.loading.IsLoading() }

// ResetLoading cancels pending decrements and zeroes the loading counter.
func (g *Gateway) ResetLoading() { g.loading.Reset() }

// Do dispatches an outbound request according to the credential state.
//
// Auth calls (login, renewal, revoke) pass through untouched: attaching or
// renewing credentials for them would recurse. Every other call is tracked
// by the loading counter, gets the access credential attached, and is
// retried exactly once after a renewal when the credential turns out to be
// expired, proactively or reactively. When no usable credential remains the
// session is force-ended and ErrUnauthenticated is returned.
func (g *Gateway) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	switch g.classify(req.URL.Path) {
	case classLogin, classRenewal:
		return g.client.Do(req.WithContext(ctx))
	case classRevoke:
		// A rejected revoke must never block logout or trigger renewal;
		// the response is handed back as-is and the caller ignores it.
		resp, err := g.client.Do(req.WithContext(ctx))
		if err == nil && resp.StatusCode == http.StatusUnauthorized {
			g.logger.Debug("revoke call rejected, ignoring")
		}
		return resp, err
	}

	if err := ensureReplayable(req); err != nil {
		return nil, fmt.Errorf("buffer request body: %w", err)
	}

	reqID := uuid.NewString()
	g.loading.Start()
	g.metrics.InFlightRequests.Inc()
	start := time.Now()
	defer func() {
		g.metrics.InFlightRequests.Dec()
		g.metrics.RequestDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
		g.loading.Finish()
	}()

	resp, err := g.dispatch(ctx, req, reqID)
	switch {
	case err == nil:
		g.metrics.RequestsTotal.WithLabelValues(metrics.OutcomeOK).Inc()
	case errors.Is(err, ErrUnauthenticated):
		g.metrics.RequestsTotal.WithLabelValues(metrics.OutcomeUnauthenticated).Inc()
	default:
		g.metrics.RequestsTotal.WithLabelValues(metrics.OutcomeTransportError).Inc()
	}
	return resp, err
}

// dispatch runs the per-request decision procedure. At most one renewal is
// attempted per dispatched request; renewal is never retried recursively.
func (g *Gateway) dispatch(ctx context.Context, req *http.Request, reqID string) (*http.Response, error) {
	access, err := g.session.AccessToken(ctx)
	if err != nil {
		// No access credential. Without a usable refresh credential the
		// request short-circuits before touching the network; with one,
		// renew first so no request ever goes out bare.
		if !g.session.ValidRefresh(ctx) {
			return nil, g.forceLogout(ctx, reqID, "no usable credential")
		}
		return g.renewAndSend(ctx, req, reqID)
	}

	if g.session.AccessExpired(ctx) {
		return g.renewAndSend(ctx, req, reqID)
	}

	resp, err := g.send(ctx, req, access, reqID)
	if err != nil {
		// Transport failure: surfaced as-is, never a forced logout.
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// Reactive path: the server rejected a credential we believed valid
	// (clock skew, revocation, expiry in flight).
	drainAndClose(resp)
	g.logger.Debug("request rejected with expired credential, renewing",
		"request_id", reqID,
		"access_fp", credential.Fingerprint(access),
	)
	return g.renewAndSend(ctx, req, reqID)
}

// renewAndSend performs the single renewal attempt and the single retry.
func (g *Gateway) renewAndSend(ctx context.Context, req *http.Request, reqID string) (*http.Response, error) {
	access, err := g.session.Refresh(ctx)
	if err != nil {
		g.metrics.RenewalsTotal.WithLabelValues(metrics.ResultError).Inc()
		g.logger.Debug("renewal failed", "request_id", reqID, "error", err)
		return nil, g.forceLogout(ctx, reqID, "renewal failed")
	}
	g.metrics.RenewalsTotal.WithLabelValues(metrics.ResultOK).Inc()

	resp, err := g.send(ctx, req, access, reqID)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		// The renewed credential was rejected too; only one renewal is
		// allowed per request, so the session is not recoverable here.
		drainAndClose(resp)
		return nil, g.forceLogout(ctx, reqID, "renewed credential rejected")
	}
	return resp, nil
}

// send issues one attempt with the credential attached. The original request
// is never consumed directly so the body can be replayed on retry.
func (g *Gateway) send(ctx context.Context, req *http.Request, access, reqID string) (*http.Response, error) {
	attempt := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("replay request body: %w", err)
		}
		attempt.Body = body
	}
	attempt.Header.Set("Authorization", "Bearer "+access)
	attempt.Header.Set("X-Request-Id", reqID)
	return g.client.Do(attempt)
}

// forceLogout clears the session locally, notifies the shell, and returns
// the ErrUnauthenticated the caller surfaces.
func (g *Gateway) forceLogout(ctx context.Context, reqID, reason string) error {
	g.metrics.ForcedLogouts.Inc()
	g.logger.Warn("forcing logout", "request_id", reqID, "reason", reason)
	if err := g.session.EndSession(ctx); err != nil {
		g.logger.Error("failed to clear session", "error", err)
	}
	if g.onUnauthenticated != nil {
		g.onUnauthenticated()
	}
	return fmt.Errorf("%s: %w", reason, ErrUnauthenticated)
}

// classify decides how a request path is handled. The renewal path is
// checked first because the login path is its prefix.
func (g *Gateway) classify(path string) requestClass {
	switch {
	case strings.Contains(path, g.authBase+"/token/refresh/"):
		return classRenewal
	case strings.Contains(path, g.authBase+"/token/"):
		return classLogin
	case strings.Contains(path, g.authBase+"/logout/"):
		return classRevoke
	default:
		return classResource
	}
}

// ensureReplayable buffers the request body when the caller did not provide
// GetBody, so the retry after a renewal can resend it.
func ensureReplayable(req *http.Request) error {
	if req.Body == nil || req.GetBody != nil {
		return nil
	}
	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return err
	}
	req.Body = io.NopCloser(bytes.NewReader(data))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return nil
}

// drainAndClose discards a response body so the connection can be reused.
func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	_ = resp.Body.Close()
}

// SafeErrorMessage returns a user-facing message for a gateway error.
// Internal detail is logged, not shown.
func SafeErrorMessage(err error) string {
	var rejected *session.AuthRejectedError
	switch {
	case errors.As(err, &rejected):
		return rejected.Reason
	case errors.Is(err, ErrUnauthenticated):
		return "Session expired, please log in again"
	default:
		return "Request failed"
	}
}
