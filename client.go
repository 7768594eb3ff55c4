// Package vaultclient keeps an application logged in to HashiCorp Vault and
// holds a local, automatically renewed cache of the secrets it reads.
//
// A Client logs in through one auth backend, renews the session token before
// it expires and re-fetches every watched secret before its lease runs out.
// Transient failures are retried with exponential backoff. Every successful
// fetch is published on the topic "secret:<address>"; failures that happen in
// the background are published on "error" and "error:login".
//
// # Usage
//
//	client, err := vaultclient.New()
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	_, err = client.Login(ctx, vaultclient.LoginOptions{
//	    Backend: "approle",
//	    Options: map[string]any{"role_id": roleID, "secret_id": secretID},
//	})
//
//	client.Subscribe(vaultclient.SecretTopic("db"), func(ctx context.Context, e vaultclient.Event) error {
//	    p := e.Payload.(vaultclient.SecretPayload)
//	    return pool.Rotate(p.Value)
//	})
//
//	err = client.Watch(ctx,
//	    vaultclient.Entry{Address: ".", Path: "secret/data/app"},
//	    vaultclient.Entry{Address: "db", Path: "database/creds/app"},
//	)
//
//	creds, err := client.Secret("db")
//
// # Security Considerations
//
// Secret values and tokens are never logged. Values returned by Secret and
// carried by events are private copies; mutating them does not affect the
// cache.
//
// # Thread Safety
//
// All Client methods are safe for concurrent use by multiple goroutines.
package vaultclient

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"

	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/auth"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/awssm"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/backoff"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/errors"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/events"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/metrics"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/session"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/transport"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/watch"
)

// Event topics.
const (
	TopicError      = events.TopicError
	TopicLoginError = events.TopicLoginError
	TopicLogin      = events.TopicLogin
)

type (
	// Entry names a secret to watch. See watch.Entry.
	Entry = watch.Entry

	// Event is delivered to subscribers.
	Event = events.Event

	// Handler receives events.
	Handler = events.Handler

	// SecretPayload is the payload of secret:<address> events.
	SecretPayload = events.SecretPayload

	// ErrorPayload is the payload of error events.
	ErrorPayload = events.ErrorPayload

	// LoginErrorPayload is the payload of error:login events.
	LoginErrorPayload = events.LoginErrorPayload

	// LoginPayload is the payload of login events.
	LoginPayload = events.LoginPayload

	// Session describes the current login.
	Session = session.Session
)

// SecretTopic returns the topic on which updates of address are published.
func SecretTopic(address string) string {
	return events.SecretTopic(address)
}

// LoginOptions selects the auth backend and its credentials.
type LoginOptions struct {
	// Backend is one of auth.Names(), e.g. "approle".
	Backend string `json:"backend" yaml:"backend"`

	// Options holds the backend-specific credentials.
	Options map[string]any `json:"options" yaml:"options"`

	// Retry overrides the client's backoff policy for this login and its
	// renewals.
	Retry *backoff.Config `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// Status is a diagnostic snapshot of a Client.
type Status struct {
	Session session.Status
	Secrets []watch.EntryStatus
}

// Client is a Vault session plus a lease-aware secret cache.
type Client struct {
	logger     *slog.Logger
	bus        *events.Bus
	transport  transport.Transport
	session    *session.Manager
	engine     *watch.Engine
	retry      backoff.Config
	minVersion string
	authOpts   []auth.Option

	mu     sync.Mutex
	closed bool
}

// New creates a Client. It performs no network I/O.
//
// Example usage:
//
//	client, err := New(
//	    WithLogger(slog.Default()),
//	    WithMinServerVersion(">= 1.12"),
//	)
func New(opts ...Option) (*Client, error) {
	options := defaultOptions()
	applyOptions(options, opts)

	if options.renewFraction <= 0 || options.renewFraction > 1 {
		return nil, errors.Newf(errors.CodeInvalidInput, "renew fraction must be in (0, 1], got %v", options.renewFraction)
	}
	if err := options.retry.Validate(); err != nil {
		return nil, err
	}

	t := options.transport
	if t == nil {
		var topts []transport.Option
		topts = append(topts, transport.WithLogger(options.logger))
		if options.namespace != "" {
			topts = append(topts, transport.WithNamespace(options.namespace))
		}
		v, err := transport.NewVault(options.vaultConfig, topts...)
		if err != nil {
			return nil, err
		}
		t = v
	}

	var m *metrics.Metrics
	if options.registerer != nil {
		var err error
		m, err = metrics.New(options.registerer)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidInput, "failed to register metrics")
		}
	}

	bus := events.NewBus(options.logger)
	bus.SetTimeSource(options.clock.Now)

	manager := session.NewManager(t, bus,
		session.WithLogger(options.logger),
		session.WithClock(options.clock),
		session.WithMetrics(m),
		session.WithRenewFraction(options.renewFraction))

	engine, err := watch.NewEngine(t, bus,
		watch.WithLogger(options.logger),
		watch.WithClock(options.clock),
		watch.WithMetrics(m),
		watch.WithRetry(options.retry),
		watch.WithRenewFraction(options.renewFraction),
		watch.WithAuthenticator(manager))
	if err != nil {
		return nil, err
	}

	// Fetches that failed while the session was down are retried as soon as
	// a login or token renewal succeeds.
	bus.Subscribe(events.TopicLogin, func(context.Context, events.Event) error {
		engine.Refetch()
		return nil
	})

	resolver := options.resolver
	if resolver == nil && options.awsSecrets {
		awsOpts := append([]awssm.Option{awssm.WithLogger(options.logger), awssm.WithClock(options.clock)}, options.awsOptions...)
		resolver = awssm.NewSource(awsOpts...)
	}

	authOpts := []auth.Option{auth.WithLogger(options.logger)}
	if resolver != nil {
		authOpts = append(authOpts, auth.WithSecretResolver(resolver))
	}
	if options.awsCredentials != nil {
		authOpts = append(authOpts, auth.WithAWSCredentials(options.awsCredentials))
	}

	return &Client{
		logger:     options.logger,
		bus:        bus,
		transport:  t,
		session:    manager,
		engine:     engine,
		retry:      options.retry,
		minVersion: options.minVersion,
		authOpts:   authOpts,
	}, nil
}

// Login validates opts, checks the server version when configured and logs
// in. It blocks until the login succeeds or fails terminally. Failures are
// also emitted on TopicLoginError. A successful login restarts, in the
// background, every watched secret whose last fetch failed.
func (c *Client) Login(ctx context.Context, opts LoginOptions) (*Session, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}

	backend, err := auth.New(opts.Backend, opts.Options, c.authOpts...)
	if err != nil {
		return nil, c.loginFailed(ctx, opts.Backend, err)
	}

	if c.minVersion != "" {
		hc, ok := c.transport.(transport.HealthChecker)
		if !ok {
			return nil, c.loginFailed(ctx, opts.Backend,
				errors.New(errors.CodeInvalidInput, "transport cannot report the server version"))
		}
		if _, err := transport.CheckServer(ctx, hc, c.minVersion); err != nil {
			return nil, c.loginFailed(ctx, opts.Backend, err)
		}
	}

	retry := c.retry
	if opts.Retry != nil {
		retry = *opts.Retry
	}

	s, err := c.session.Login(ctx, backend, retry)
	if stderrors.Is(err, session.ErrClosed) {
		return nil, ErrClosed
	}
	return s, err
}

// loginFailed reports a login that failed before reaching the server.
func (c *Client) loginFailed(ctx context.Context, backend string, err error) error {
	if c.logger != nil {
		c.logger.ErrorContext(ctx, "login rejected before request", "backend", backend, "error", err)
	}
	c.bus.Emit(ctx, events.TopicLoginError, events.LoginErrorPayload{Backend: backend, Err: err})
	return err
}

// Relogin repeats the last login, then waits for every watched secret whose
// last fetch failed to be fetched again.
func (c *Client) Relogin(ctx context.Context) (*Session, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	s, err := c.session.Relogin(ctx)
	if err != nil {
		return nil, err
	}
	return s, c.engine.Resume(ctx)
}

// Watch starts watching entries and blocks until each has been fetched once.
// The error joins one error per address that could not be fetched.
func (c *Client) Watch(ctx context.Context, entries ...Entry) error {
	if c.isClosed() {
		return ErrClosed
	}
	err := c.engine.Watch(ctx, entries...)
	if stderrors.Is(err, watch.ErrClosed) {
		return ErrClosed
	}
	return err
}

// Unwatch stops renewing address. The cached value stays readable.
func (c *Client) Unwatch(address string) bool {
	return c.engine.Unwatch(address)
}

// Secret returns a copy of the cached value at address, or of the whole
// cache when address is empty or ".".
func (c *Client) Secret(address string) (any, error) {
	return c.engine.Secret(address)
}

// Subscribe registers h for topic and returns a function that removes it.
func (c *Client) Subscribe(topic string, h Handler) (cancel func()) {
	return c.bus.Subscribe(topic, h)
}

// IsAuthenticated reports whether the session token is currently valid.
func (c *Client) IsAuthenticated() bool {
	return c.session.IsAuthenticated()
}

// Session returns a copy of the current session, or nil.
func (c *Client) Session() *Session {
	return c.session.Session()
}

// Status returns a diagnostic snapshot.
func (c *Client) Status() Status {
	return Status{
		Session: c.session.Status(),
		Secrets: c.engine.Status(),
	}
}

// Close stops every timer and cancels requests on the wire. Cached values stay
// readable. Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.engine.Close()
	c.session.Close()
	if c.logger != nil {
		c.logger.Debug("client closed")
	}
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
