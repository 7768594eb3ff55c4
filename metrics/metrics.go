// Package metrics provides Prometheus metrics for the vault client.
//
// A nil *Metrics is valid and records nothing, so components can hold one
// unconditionally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Result labels for metrics.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Fetch kinds.
const (
	KindInitial = "initial"
	KindRenewal = "renewal"
)

const namespace = "vaultclient"

// Metrics holds the collectors of one client instance.
type Metrics struct {
	// LoginTotal counts login attempts by backend and result.
	LoginTotal *prometheus.CounterVec

	// TokenRenewalTotal counts scheduled session renewals by result.
	TokenRenewalTotal *prometheus.CounterVec

	// SecretFetchTotal counts secret fetch attempts by kind and result.
	SecretFetchTotal *prometheus.CounterVec

	// RetryTotal counts retries scheduled by the backoff policy.
	RetryTotal *prometheus.CounterVec

	// WatchedSecrets tracks the number of addresses being watched.
	WatchedSecrets prometheus.Gauge

	// Authenticated is 1 while the session holds a valid token, 0 otherwise.
	Authenticated prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is handy in tests.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		LoginTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "login_total",
				Help:      "Total number of login attempts",
			},
			[]string{"backend", "result"},
		),
		TokenRenewalTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "renewal_total",
				Help:      "Total number of scheduled session renewals",
			},
			[]string{"result"},
		),
		SecretFetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "watch",
				Name:      "fetch_total",
				Help:      "Total number of secret fetch attempts",
			},
			[]string{"kind", "result"},
		),
		RetryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_total",
				Help:      "Total number of retries scheduled after a transient failure",
			},
			[]string{"operation"},
		),
		WatchedSecrets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "watch",
				Name:      "secrets",
				Help:      "Number of watched secret addresses",
			},
		),
		Authenticated: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "authenticated",
				Help:      "Session state (1=authenticated, 0=unauthenticated)",
			},
		),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.LoginTotal,
		m.TokenRenewalTotal,
		m.SecretFetchTotal,
		m.RetryTotal,
		m.WatchedSecrets,
		m.Authenticated,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func result(success bool) string {
	if success {
		return ResultSuccess
	}
	return ResultFailure
}

// ObserveLogin records a login attempt.
func (m *Metrics) ObserveLogin(backend string, success bool) {
	if m == nil {
		return
	}
	m.LoginTotal.WithLabelValues(backend, result(success)).Inc()
}

// ObserveRenewal records a session renewal attempt.
func (m *Metrics) ObserveRenewal(success bool) {
	if m == nil {
		return
	}
	m.TokenRenewalTotal.WithLabelValues(result(success)).Inc()
}

// ObserveFetch records a secret fetch attempt.
func (m *Metrics) ObserveFetch(renewal, success bool) {
	if m == nil {
		return
	}
	kind := KindInitial
	if renewal {
		kind = KindRenewal
	}
	m.SecretFetchTotal.WithLabelValues(kind, result(success)).Inc()
}

// IncrementRetry records a scheduled retry of operation ("login" or "fetch").
func (m *Metrics) IncrementRetry(operation string) {
	if m == nil {
		return
	}
	m.RetryTotal.WithLabelValues(operation).Inc()
}

// SetWatched sets the number of watched addresses.
func (m *Metrics) SetWatched(n int) {
	if m == nil {
		return
	}
	m.WatchedSecrets.Set(float64(n))
}

// SetAuthenticated sets the session state gauge.
func (m *Metrics) SetAuthenticated(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.Authenticated.Set(1)
		return
	}
	m.Authenticated.Set(0)
}
