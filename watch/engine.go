// Package watch implements the secret cache: it fetches secrets into a tree,
// renews each one before its lease runs out and retries failed fetches with
// backoff.
//
// Each watched address owns at most one outstanding fetch. A Watch call for an
// address that is already being fetched waits for that fetch instead of
// issuing a second request, and every waiter sees the same outcome.
//
// Successful fetches are emitted on events.SecretTopic(address). Fetches that
// give up are emitted on events.TopicError. A failed renewal never removes the
// value already cached at an address.
//
// # Thread Safety
//
// All Engine methods are safe for concurrent use. Operations on one address
// are serialized; different addresses proceed independently.
package watch

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/backoff"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/clock"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/errors"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/events"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/metrics"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/transport"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/tree"
)

var (
	// ErrClosed is returned by Watch after Close.
	ErrClosed = stderrors.New("watch engine is closed")

	// ErrNotAuthenticated is the cause of fetches attempted without a valid
	// session.
	ErrNotAuthenticated = stderrors.New("not authenticated")

	// ErrStopped settles fetches whose retries were cancelled by Unwatch or
	// Close.
	ErrStopped = stderrors.New("watch stopped")
)

// Authenticator reports whether the session token may be used.
type Authenticator interface {
	IsAuthenticated() bool
}

// Engine fetches, caches and renews watched secrets.
type Engine struct {
	transport transport.Transport
	auth      Authenticator
	bus       *events.Bus
	tree      *tree.Tree
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics
	retry     backoff.Config
	fraction  float64

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// engineOptions holds configuration options for an Engine.
type engineOptions struct {
	logger   *slog.Logger
	clock    clock.Clock
	metrics  *metrics.Metrics
	retry    backoff.Config
	fraction float64
	auth     Authenticator
	tree     *tree.Tree
}

// Option is a functional option for configuring an Engine.
type Option func(*engineOptions)

// WithLogger configures the engine with a custom logger.
// If logger is nil, logging will be disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *engineOptions) {
		opts.logger = logger
	}
}

// WithClock sets the time source for renewal and retry timers.
func WithClock(c clock.Clock) Option {
	return func(opts *engineOptions) {
		opts.clock = c
	}
}

// WithMetrics records fetch outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(opts *engineOptions) {
		opts.metrics = m
	}
}

// WithRetry sets the backoff policy for failed fetches.
func WithRetry(c backoff.Config) Option {
	return func(opts *engineOptions) {
		opts.retry = c
	}
}

// WithRenewFraction sets the share of a lease that elapses before renewal.
func WithRenewFraction(f float64) Option {
	return func(opts *engineOptions) {
		opts.fraction = f
	}
}

// WithAuthenticator makes fetches fail fast while a is not authenticated.
func WithAuthenticator(a Authenticator) Option {
	return func(opts *engineOptions) {
		opts.auth = a
	}
}

// WithTree caches into t instead of a fresh tree.
func WithTree(t *tree.Tree) Option {
	return func(opts *engineOptions) {
		opts.tree = t
	}
}

// NewEngine creates an Engine that reads through t and reports on bus.
func NewEngine(t transport.Transport, bus *events.Bus, opts ...Option) (*Engine, error) {
	options := &engineOptions{
		clock:    clock.Real(),
		retry:    backoff.DefaultConfig(),
		fraction: backoff.DefaultRenewFraction,
	}
	for _, opt := range opts {
		opt(options)
	}
	if err := options.retry.Validate(); err != nil {
		return nil, err
	}
	if options.tree == nil {
		options.tree = tree.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		transport: t,
		auth:      options.auth,
		bus:       bus,
		tree:      options.tree,
		clock:     options.clock,
		logger:    options.logger,
		metrics:   options.metrics,
		retry:     options.retry,
		fraction:  options.fraction,
		ctx:       ctx,
		cancel:    cancel,
		entries:   make(map[string]*entry),
	}, nil
}

// Watch starts watching entries and blocks until each has completed its
// initial fetch. Entries already being fetched are joined rather than
// fetched again; entries already cached and scheduled return at once.
//
// The returned error joins one error per failed address. Renewals that run
// after Watch returns report only through the event bus.
func (e *Engine) Watch(ctx context.Context, entries ...Entry) error {
	for _, target := range entries {
		if err := target.Validate(); err != nil {
			return err
		}
	}

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}

	var flights []*flight
	seen := make(map[*flight]bool, len(entries))
	for _, target := range entries {
		f := e.track(target)
		if f == nil || seen[f] {
			continue
		}
		seen[f] = true
		flights = append(flights, f)
	}

	var errs []error
	for _, f := range flights {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
		}
		if f.err != nil {
			errs = append(errs, f.err)
		}
	}
	return stderrors.Join(errs...)
}

// track registers target and returns the flight the caller must wait for, or
// nil when the address is already cached and scheduled.
func (e *Engine) track(target Entry) *flight {
	e.mu.Lock()
	en, ok := e.entries[target.Address]
	if !ok {
		en = &entry{target: target}
		e.entries[target.Address] = en
		e.metrics.SetWatched(len(e.entries))
	}
	e.mu.Unlock()

	en.mu.Lock()
	defer en.mu.Unlock()

	if en.flight != nil {
		// The running fetch keeps its path; a changed path applies next time.
		en.target = target
		en.flight.waiters++
		return en.flight
	}
	if en.target == target && en.idle() {
		return nil
	}

	en.target = target
	en.stopped = false
	en.cancelTimer()
	f := e.begin(en, false)
	f.waiters++
	go e.attempt(en, f)
	return f
}

// begin opens a new flight on en. The caller holds en.mu.
func (e *Engine) begin(en *entry, renewal bool) *flight {
	f := newFlight(renewal)
	en.flight = f
	en.failures = 0
	return f
}

// renew is the renewal timer callback.
func (e *Engine) renew(en *entry, seq uint64) {
	en.mu.Lock()
	if en.stopped || en.seq != seq || en.flight != nil {
		en.mu.Unlock()
		return
	}
	en.timer = nil
	en.nextRenewal = time.Time{}
	f := e.begin(en, true)
	en.mu.Unlock()

	e.attempt(en, f)
}

// retryAttempt is the retry timer callback.
func (e *Engine) retryAttempt(en *entry, f *flight, seq uint64) {
	en.mu.Lock()
	if en.seq != seq || en.flight != f {
		en.mu.Unlock()
		return
	}
	en.timer = nil
	en.retrying = false
	en.mu.Unlock()

	e.attempt(en, f)
}

// attempt performs one fetch for flight f and then either settles f or
// schedules the next retry.
func (e *Engine) attempt(en *entry, f *flight) {
	en.mu.Lock()
	if en.flight != f {
		en.mu.Unlock()
		return
	}
	target := en.target
	en.mu.Unlock()

	ctx := e.ctx
	value, resp, err := e.fetch(ctx, target)
	e.metrics.ObserveFetch(f.renewal, err == nil)

	en.mu.Lock()
	if en.flight != f {
		en.mu.Unlock()
		return
	}
	if err != nil && ctx.Err() != nil {
		// Close cancelled the request.
		en.flight = nil
		en.mu.Unlock()
		f.settle(errors.Wrap(ErrStopped, errors.CodeFetchFailed, "fetch cancelled"))
		return
	}
	if err == nil {
		// Stored under en.mu so concurrent renewals of this address cannot
		// interleave their writes.
		err = e.tree.Set(target.Address, value)
	}
	if err == nil {
		e.succeed(ctx, en, f, target, value, resp)
		return
	}

	en.failures++
	failures := en.failures
	if errors.IsRetryable(err) && !en.stopped {
		delay, derr := backoff.NextDelay(failures, e.retry)
		if derr == nil {
			en.schedule(e.clock, delay, true, func(seq uint64) { e.retryAttempt(en, f, seq) })
			en.mu.Unlock()

			e.metrics.IncrementRetry("fetch")
			if e.logger != nil {
				e.logger.WarnContext(ctx, "secret fetch failed, retrying",
					"address", target.Address,
					"path", target.Path,
					"attempt", failures,
					"delay", delay,
					"error", err)
			}
			return
		}
		err = backoff.ExhaustedError(err, failures)
	}
	e.giveUp(ctx, en, f, target, failures, err)
}

// succeed records a stored value, schedules its renewal and notifies
// subscribers. It is called with en.mu held and releases it.
func (e *Engine) succeed(ctx context.Context, en *entry, f *flight, target Entry, value map[string]any, resp *transport.Response) {
	now := e.clock.Now()
	en.failures = 0
	en.lease = resp.LeaseDuration
	en.renewable = resp.Renewable
	en.cached = true
	en.lastErr = nil
	en.lastFetch = now
	en.flight = nil
	en.cancelTimer()
	if en.lease > 0 && !en.stopped {
		delay := backoff.RenewAfter(en.lease, e.fraction)
		en.schedule(e.clock, delay, false, func(seq uint64) { e.renew(en, seq) })
	}
	next := en.nextRenewal
	en.mu.Unlock()

	if e.logger != nil {
		e.logger.DebugContext(ctx, "secret fetched",
			"address", target.Address,
			"path", target.Path,
			"lease_duration", resp.LeaseDuration,
			"renewal", f.renewal,
			"next_renewal", next)
	}
	e.bus.Emit(ctx, events.SecretTopic(target.Address), events.SecretPayload{
		Address:       target.Address,
		Path:          target.Path,
		Value:         tree.DeepCopy(tree.StoredValue(target.Address, value)),
		LeaseDuration: resp.LeaseDuration,
		Renewable:     resp.Renewable,
		Renewal:       f.renewal,
	})
	f.settle(nil)
}

// giveUp ends flight f with err. It is called with en.mu held and releases
// it. The cached value is left untouched.
func (e *Engine) giveUp(ctx context.Context, en *entry, f *flight, target Entry, attempts int, cause error) {
	err := errors.WrapWithContext(cause, errors.CodeFetchFailed, "failed to fetch secret",
		map[string]any{"address": target.Address, "path": target.Path})
	en.lastErr = err
	en.flight = nil
	en.cancelTimer()
	en.mu.Unlock()

	if e.logger != nil {
		e.logger.ErrorContext(ctx, "secret fetch failed",
			"address", target.Address,
			"path", target.Path,
			"attempts", attempts,
			"renewal", f.renewal,
			"error", cause)
	}
	e.bus.Emit(ctx, events.TopicError, events.ErrorPayload{
		Address:  target.Address,
		Path:     target.Path,
		Attempts: attempts,
		Renewal:  f.renewal,
		Err:      err,
	})
	f.settle(err)
}

// fetch reads target.Path and returns the object to cache.
func (e *Engine) fetch(ctx context.Context, target Entry) (map[string]any, *transport.Response, error) {
	if e.auth != nil && !e.auth.IsAuthenticated() {
		return nil, nil, errors.Wrap(ErrNotAuthenticated, errors.CodeUnauthorized, "no valid session")
	}

	resp, err := e.transport.Request(ctx, &transport.Request{
		Method: transport.MethodGet,
		Path:   target.Path,
	})
	if err != nil {
		return nil, nil, err
	}

	data := resp.Data
	if !target.Raw {
		data = unwrapKV2(data)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, resp, nil
}

// unwrapKV2 returns the inner data of a KV version 2 read response, or data
// unchanged when it does not have that shape.
func unwrapKV2(data map[string]any) map[string]any {
	if len(data) != 2 {
		return data
	}
	if _, ok := data["metadata"]; !ok {
		return data
	}
	inner, ok := data["data"]
	if !ok {
		return data
	}
	switch v := inner.(type) {
	case map[string]any:
		return v
	case nil:
		return map[string]any{}
	default:
		return data
	}
}

// Secret returns a deep copy of the cached value at address, or of the whole
// cache when address is empty or ".".
func (e *Engine) Secret(address string) (any, error) {
	if address == "" {
		return e.tree.Snapshot(), nil
	}
	return e.tree.Get(address)
}

// Unwatch stops renewing address. The cached value stays readable. A fetch
// waiting for its next retry is settled with ErrStopped; a fetch already on
// the wire completes but schedules nothing further.
func (e *Engine) Unwatch(address string) bool {
	e.mu.Lock()
	en, ok := e.entries[address]
	if ok {
		delete(e.entries, address)
		e.metrics.SetWatched(len(e.entries))
	}
	e.mu.Unlock()

	if !ok {
		return false
	}
	e.stop(en)
	return true
}

func (e *Engine) stop(en *entry) {
	en.mu.Lock()
	en.stopped = true
	var f *flight
	if en.retrying && en.flight != nil {
		f = en.flight
		en.flight = nil
	}
	en.cancelTimer()
	en.mu.Unlock()

	if f != nil {
		f.settle(errors.Wrap(ErrStopped, errors.CodeFetchFailed, "fetch cancelled"))
	}
}

// Resume refetches every watched address whose last fetch failed, e.g. after
// a re-login. It returns once those fetches complete. Addresses already being
// refetched are waited for, not fetched twice.
func (e *Engine) Resume(ctx context.Context) error {
	failed := e.failed(true)
	if len(failed) == 0 {
		return nil
	}
	return e.Watch(ctx, failed...)
}

// Refetch starts a fetch for every idle watched address whose last fetch
// failed and returns the number started. It does not wait for them, so it is
// safe to call from an event handler or timer callback.
func (e *Engine) Refetch() int {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return 0
	}

	started := 0
	for _, target := range e.failed(false) {
		if e.track(target) != nil {
			started++
		}
	}
	if started > 0 && e.logger != nil {
		e.logger.Info("refetching failed secrets", "count", started)
	}
	return started
}

// failed returns the entries whose last fetch ended in an error, optionally
// including those already being refetched.
func (e *Engine) failed(inFlight bool) []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Entry
	for _, en := range e.entries {
		en.mu.Lock()
		if en.lastErr != nil && (inFlight || en.flight == nil) {
			out = append(out, en.target)
		}
		en.mu.Unlock()
	}
	return out
}

// Status returns a snapshot of every watched address, sorted by address.
func (e *Engine) Status() []EntryStatus {
	e.mu.Lock()
	list := make([]*entry, 0, len(e.entries))
	for _, en := range e.entries {
		list = append(list, en)
	}
	e.mu.Unlock()

	out := make([]EntryStatus, 0, len(list))
	for _, en := range list {
		en.mu.Lock()
		out = append(out, en.status())
		en.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Close stops every timer and cancels fetches on the wire. The cache stays
// readable. Close is idempotent.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	list := make([]*entry, 0, len(e.entries))
	for _, en := range e.entries {
		list = append(list, en)
	}
	e.mu.Unlock()

	e.cancel()
	for _, en := range list {
		e.stop(en)
	}
}
