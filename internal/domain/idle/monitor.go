// Package idle force-ends a session after a configurable window without
// user activity, independent of credential expiry.
package idle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/medcontrol/sessiongate/internal/domain/credential"
)

// DefaultTimeout is the default inactivity window.
const DefaultTimeout = 5 * time.Minute

// Session is the contract the monitor needs from the session manager.
type Session interface {
	HasSession(ctx context.Context) bool
	LastActivity(ctx context.Context) (time.Time, error)
	Touch(ctx context.Context) error
	// Logout ends the session with server notification: an idle timeout is
	// a genuine expiry, so the server should be told (unlike EndSession).
	Logout(ctx context.Context) error
}

// Config holds monitor configuration.
type Config struct {
	// Timeout is the inactivity window. Default: 5 minutes.
	Timeout time.Duration
}

// Monitor owns the idle deadline. Every observed activity re-arms a single
// timer; the last-activity instant is persisted through the session manager
// so a restart does not reset the clock.
type Monitor struct {
	session Session
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	// onTimeout is invoked after an idle logout so the shell can switch to
	// its login surface.
	onTimeout func()

	mu      sync.Mutex
	timer   *time.Timer
	started bool

	stopChan chan struct{}
	once     sync.Once
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) { m.now = now }
}

// WithOnTimeout registers the idle-logout hook.
func WithOnTimeout(fn func()) MonitorOption {
	return func(m *Monitor) { m.onTimeout = fn }
}

// NewMonitor creates an idle monitor over the given session.
func NewMonitor(sess Session, cfg Config, logger *slog.Logger, opts ...MonitorOption) *Monitor {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	m := &Monitor{
		session:  sess,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins watching. The persisted activity timestamp is consulted
// first, so a session that sat idle across a restart expires immediately.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	m.Touch(ctx)
}

// Touch records an observed activity event: key press, pointer input,
// scroll, completed navigation. If the elapsed time since the last recorded
// activity already exceeds the window the session is force-ended; otherwise
// the current instant becomes the new last-activity time and the timer is
// re-armed for a full window. No session means nothing to do.
func (m *Monitor) Touch(ctx context.Context) {
	if !m.running() {
		return
	}
	if !m.session.HasSession(ctx) {
		return
	}

	now := m.now()
	last, err := m.session.LastActivity(ctx)
	switch {
	case err == nil && now.Sub(last) > m.timeout:
		m.expire(ctx)
		return
	case err != nil && !errors.Is(err, credential.ErrNotFound):
		m.logger.Warn("failed to read activity timestamp", "error", err)
	}

	if err := m.session.Touch(ctx); err != nil {
		m.logger.Warn("failed to record activity", "error", err)
	}
	m.rearm()
}

// rearm cancels any pending deadline and schedules a fresh one.
func (m *Monitor) rearm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.timeout, m.onDeadline)
}

// onDeadline fires when the window elapses with no Touch in between.
func (m *Monitor) onDeadline() {
	select {
	case <-m.stopChan:
		return
	default:
	}
	m.expire(context.Background())
}

// expire force-ends the session and notifies the shell.
func (m *Monitor) expire(ctx context.Context) {
	if !m.session.HasSession(ctx) {
		return
	}
	m.logger.Info("session ended by inactivity timeout", "timeout", m.timeout)
	if err := m.session.Logout(ctx); err != nil {
		m.logger.Warn("idle logout failed to clear session", "error", err)
	}
	if m.onTimeout != nil {
		m.onTimeout()
	}
}

// Stop cancels the pending deadline. Safe to call multiple times.
func (m *Monitor) Stop() {
	m.once.Do(func() {
		close(m.stopChan)
	})
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = false
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Monitor) running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}
