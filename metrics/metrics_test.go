package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ObserveLogin("approle", true)
	m.SetAuthenticated(true)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "vaultclient_session_login_total")
	assert.Contains(t, names, "vaultclient_session_authenticated")
}

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}

func TestObserveFetch(t *testing.T) {
	tests := []struct {
		name    string
		renewal bool
		success bool
		kind    string
		result  string
	}{
		{name: "initial success", success: true, kind: KindInitial, result: ResultSuccess},
		{name: "initial failure", kind: KindInitial, result: ResultFailure},
		{name: "renewal success", renewal: true, success: true, kind: KindRenewal, result: ResultSuccess},
		{name: "renewal failure", renewal: true, kind: KindRenewal, result: ResultFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(nil)
			require.NoError(t, err)

			m.ObserveFetch(tt.renewal, tt.success)
			m.ObserveFetch(tt.renewal, tt.success)

			assert.Equal(t, 2.0, testutil.ToFloat64(m.SecretFetchTotal.WithLabelValues(tt.kind, tt.result)))
		})
	}
}

func TestGauges(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)

	m.SetWatched(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.WatchedSecrets))

	m.SetAuthenticated(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Authenticated))
	m.SetAuthenticated(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Authenticated))

	m.IncrementRetry("fetch")
	m.ObserveRenewal(false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetryTotal.WithLabelValues("fetch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenRenewalTotal.WithLabelValues(ResultFailure)))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveLogin("token", true)
		m.ObserveRenewal(true)
		m.ObserveFetch(true, false)
		m.IncrementRetry("login")
		m.SetWatched(1)
		m.SetAuthenticated(true)
	})
}
