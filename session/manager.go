package session

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/auth"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/backoff"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/clock"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/errors"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/events"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/metrics"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/transport"
)

var (
	// ErrClosed is returned by Login and Relogin after Close.
	ErrClosed = stderrors.New("session manager is closed")

	// ErrNoBackend is returned by Relogin before any Login call.
	ErrNoBackend = stderrors.New("no login backend configured")
)

// Manager owns the session token and its renewal timer.
type Manager struct {
	transport transport.Transport
	bus       *events.Bus
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics
	fraction  float64

	// ctx scopes background renewals and is cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	group singleflight.Group

	mu          sync.Mutex
	state       State
	session     *Session
	backend     auth.Backend
	retry       backoff.Config
	timer       *clock.Timer
	nextRenewal time.Time
	failures    int
	generation  uint64
	closed      bool
}

// managerOptions holds configuration options for a Manager.
type managerOptions struct {
	logger   *slog.Logger
	clock    clock.Clock
	metrics  *metrics.Metrics
	fraction float64
}

// Option is a functional option for configuring a Manager.
type Option func(*managerOptions)

// WithLogger configures the manager with a custom logger.
// If logger is nil, logging will be disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *managerOptions) {
		opts.logger = logger
	}
}

// WithClock sets the time source for expiry checks and renewal timers.
func WithClock(c clock.Clock) Option {
	return func(opts *managerOptions) {
		opts.clock = c
	}
}

// WithMetrics records login and renewal outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(opts *managerOptions) {
		opts.metrics = m
	}
}

// WithRenewFraction sets the share of the lease that elapses before renewal.
func WithRenewFraction(f float64) Option {
	return func(opts *managerOptions) {
		opts.fraction = f
	}
}

// NewManager creates a Manager that installs tokens on t and reports on bus.
func NewManager(t transport.Transport, bus *events.Bus, opts ...Option) *Manager {
	options := &managerOptions{
		clock:    clock.Real(),
		fraction: backoff.DefaultRenewFraction,
	}
	for _, opt := range opts {
		opt(options)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		transport: t,
		bus:       bus,
		clock:     options.clock,
		logger:    options.logger,
		metrics:   options.metrics,
		fraction:  options.fraction,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Login authenticates through backend, retrying transient failures per retry.
// It blocks until the login succeeds, fails terminally or ctx is done.
//
// An HTTP 400 from the backend is reported as UNAUTHORIZED with status 401.
// Every failure is also emitted on events.TopicLoginError.
func (m *Manager) Login(ctx context.Context, backend auth.Backend, retry backoff.Config) (*Session, error) {
	if err := retry.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.generation++
	gen := m.generation
	m.timer.Stop()
	m.timer = nil
	m.nextRenewal = time.Time{}
	m.backend = backend
	m.retry = retry
	m.state = StateAuthenticating
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.InfoContext(ctx, "logging in", "backend", backend.Name())
	}

	failures := 0
	for {
		a, err := backend.Login(ctx, m.transport)
		m.metrics.ObserveLogin(backend.Name(), err == nil)
		if err == nil {
			return m.establish(ctx, gen, backend, a, false)
		}

		err = relabel(err, backend.Name())
		failures++

		if ctx.Err() != nil {
			return nil, m.fail(ctx, gen, backend.Name(), failures, false, ctx.Err())
		}
		if !errors.IsRetryable(err) {
			return nil, m.fail(ctx, gen, backend.Name(), failures, false, err)
		}
		delay, derr := backoff.NextDelay(failures, retry)
		if derr != nil {
			return nil, m.fail(ctx, gen, backend.Name(), failures, false, exhausted(err, failures))
		}

		m.metrics.IncrementRetry("login")
		if m.logger != nil {
			m.logger.WarnContext(ctx, "login failed, retrying",
				"backend", backend.Name(),
				"attempt", failures,
				"delay", delay,
				"error", err)
		}

		select {
		case <-ctx.Done():
			return nil, m.fail(ctx, gen, backend.Name(), failures, false, ctx.Err())
		case <-m.clock.After(delay):
		}
	}
}

// Relogin repeats the last Login with the same backend and retry policy.
// Concurrent calls share one login.
func (m *Manager) Relogin(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	backend, retry, closed := m.backend, m.retry, m.closed
	m.mu.Unlock()

	if closed {
		return nil, ErrClosed
	}
	if backend == nil {
		return nil, errors.Wrap(ErrNoBackend, errors.CodeUnauthorized, "cannot re-login")
	}

	v, err, _ := m.group.Do("relogin", func() (any, error) {
		return m.Login(ctx, backend, retry)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session).clone(), nil
}

// IsAuthenticated reports whether a session exists and has not expired.
// A session with a zero lease never expires.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.ValidAt(m.clock.Now())
}

// Session returns a copy of the current session, or nil.
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.clone()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns a diagnostic snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		State:           m.state,
		Authenticated:   m.session.ValidAt(m.clock.Now()),
		NextRenewal:     m.nextRenewal,
		RenewalFailures: m.failures,
	}
	if m.backend != nil {
		st.Backend = m.backend.Name()
	}
	if m.session != nil {
		st.LeaseDuration = m.session.LeaseDuration
		st.Renewable = m.session.Renewable
		st.AuthenticatedAt = m.session.AuthenticatedAt
		st.ExpiresAt = m.session.ExpiresAt()
	}
	return st
}

// Close cancels the renewal timer and any renewal in progress. The token is
// removed from the transport. Close is idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.generation++
	m.timer.Stop()
	m.timer = nil
	m.nextRenewal = time.Time{}
	m.session = nil
	m.state = StateUnauthenticated
	m.mu.Unlock()

	m.cancel()
	m.transport.ClearToken()
	m.metrics.SetAuthenticated(false)
}

// establish installs a fresh session unless a newer login superseded gen.
func (m *Manager) establish(ctx context.Context, gen uint64, backend auth.Backend, a *transport.Auth, renewal bool) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if gen != m.generation {
		// A later Login owns the session now.
		m.mu.Unlock()
		return m.sessionFrom(a), nil
	}

	s := m.sessionFrom(a)
	m.generation++
	gen = m.generation
	m.session = s
	m.state = StateAuthenticated
	m.failures = 0
	m.transport.SetToken(a.ClientToken)

	m.timer.Stop()
	m.timer = nil
	m.nextRenewal = time.Time{}
	if s.LeaseDuration > 0 && s.Renewable {
		delay := backoff.RenewAfter(s.LeaseDuration, m.fraction)
		m.nextRenewal = s.AuthenticatedAt.Add(delay)
		m.timer = m.clock.AfterFunc(delay, func() { m.renew(gen) })
	}
	next := m.nextRenewal
	result := s.clone()
	m.mu.Unlock()

	m.metrics.SetAuthenticated(true)
	if m.logger != nil {
		m.logger.InfoContext(ctx, "authenticated",
			"backend", backend.Name(),
			"lease_duration", s.LeaseDuration,
			"renewable", s.Renewable,
			"next_renewal", next,
			"renewal", renewal)
	}
	m.bus.Emit(ctx, events.TopicLogin, events.LoginPayload{
		Backend:       backend.Name(),
		LeaseDuration: s.LeaseDuration,
		Renewable:     s.Renewable,
		Renewal:       renewal,
	})
	return result, nil
}

func (m *Manager) sessionFrom(a *transport.Auth) *Session {
	return &Session{
		Token:           a.ClientToken,
		Accessor:        a.Accessor,
		Policies:        append([]string(nil), a.Policies...),
		LeaseDuration:   a.LeaseDuration,
		Renewable:       a.Renewable,
		AuthenticatedAt: m.clock.Now(),
	}
}

// fail drops the session owned by gen and reports err.
func (m *Manager) fail(ctx context.Context, gen uint64, backend string, attempts int, renewal bool, err error) error {
	m.mu.Lock()
	owned := gen == m.generation && !m.closed
	if owned {
		m.generation++
		m.timer.Stop()
		m.timer = nil
		m.nextRenewal = time.Time{}
		m.session = nil
		m.state = StateUnauthenticated
		m.transport.ClearToken()
	}
	m.mu.Unlock()

	if owned {
		m.metrics.SetAuthenticated(false)
	}
	if m.logger != nil {
		m.logger.ErrorContext(ctx, "login failed",
			"backend", backend,
			"attempts", attempts,
			"renewal", renewal,
			"error", err)
	}
	m.bus.Emit(ctx, events.TopicLoginError, events.LoginErrorPayload{
		Backend:  backend,
		Attempts: attempts,
		Renewal:  renewal,
		Err:      err,
	})
	return err
}

// renew runs one renewal attempt for the session installed under gen. Failed
// attempts reschedule themselves through the backoff policy.
func (m *Manager) renew(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.nextRenewal = time.Time{}
	m.state = StateRenewing
	backend, retry := m.backend, m.retry
	m.mu.Unlock()

	ctx := m.ctx
	a, err := m.renewOnce(ctx, backend)
	m.metrics.ObserveRenewal(err == nil)
	if err == nil {
		_, _ = m.establish(ctx, gen, backend, a, true)
		return
	}
	err = relabel(err, backend.Name())

	m.mu.Lock()
	if m.closed || gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.failures++
	failures := m.failures

	delay, derr := backoff.NextDelay(failures, retry)
	if errors.IsRetryable(err) && derr == nil {
		m.nextRenewal = m.clock.Now().Add(delay)
		m.timer = m.clock.AfterFunc(delay, func() { m.renew(gen) })
		m.mu.Unlock()

		m.metrics.IncrementRetry("login")
		if m.logger != nil {
			m.logger.WarnContext(ctx, "session renewal failed, retrying",
				"backend", backend.Name(),
				"attempt", failures,
				"delay", delay,
				"error", err)
		}
		return
	}
	m.mu.Unlock()

	if derr != nil {
		err = exhausted(err, failures)
	}
	_ = m.fail(ctx, gen, backend.Name(), failures, true, err)
}

// renewOnce extends the session through the backend's Renewer, falling back
// to a full login when renewal is refused.
func (m *Manager) renewOnce(ctx context.Context, backend auth.Backend) (*transport.Auth, error) {
	if r, ok := backend.(auth.Renewer); ok {
		a, err := r.Renew(ctx, m.transport)
		if err == nil || errors.IsRetryable(err) {
			return a, err
		}
		if m.logger != nil {
			m.logger.WarnContext(ctx, "token renewal refused, logging in again",
				"backend", backend.Name(),
				"error", err)
		}
	}
	return backend.Login(ctx, m.transport)
}

// relabel reports a rejected login request as an authorization failure.
func relabel(err error, backend string) error {
	if errors.StatusOf(err) != http.StatusBadRequest {
		return err
	}
	return &errors.Error{
		Code:    errors.CodeUnauthorized,
		Message: "login rejected",
		Status:  http.StatusUnauthorized,
		Context: map[string]any{"backend": backend},
		Err:     err,
	}
}

// exhausted wraps the last failure of a login that ran out of attempts.
func exhausted(err error, attempts int) error {
	return errors.Wrap(backoff.ExhaustedError(err, attempts), errors.CodeUnauthorized, "login failed")
}
