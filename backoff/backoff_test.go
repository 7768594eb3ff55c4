package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/errors"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()

	assert.Equal(t, 10, c.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, c.InitialDelay)
	assert.Equal(t, 30*time.Second, c.MaxDelay)
	assert.NoError(t, c.Validate())
}

func TestNextDelay(t *testing.T) {
	c := Config{
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     10 * time.Second,
		MaxAttempts:  6,
	}

	tests := []struct {
		name     string
		failures int
		want     time.Duration
		wantErr  error
	}{
		{name: "first retry uses the initial delay", failures: 1, want: time.Second},
		{name: "second retry doubles", failures: 2, want: 2 * time.Second},
		{name: "third retry doubles again", failures: 3, want: 4 * time.Second},
		{name: "capped at max delay", failures: 5, want: 10 * time.Second},
		{name: "zero failures behaves like one", failures: 0, want: time.Second},
		{name: "exhausted at max attempts", failures: 6, wantErr: ErrExhausted},
		{name: "exhausted beyond max attempts", failures: 9, wantErr: ErrExhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextDelay(tt.failures, c)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextDelay_Forever(t *testing.T) {
	c := Config{InitialDelay: time.Millisecond, Multiplier: 3, MaxDelay: time.Minute, Forever: true}

	got, err := NextDelay(10_000, c)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, got)
}

func TestNextDelay_SingleAttempt(t *testing.T) {
	_, err := NextDelay(1, Config{InitialDelay: time.Second, MaxAttempts: 1})
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "valid", config: DefaultConfig()},
		{name: "forever without attempts", config: Config{InitialDelay: time.Second, Forever: true}},
		{name: "negative delay", config: Config{InitialDelay: -1, MaxAttempts: 1}, wantErr: true},
		{name: "negative cap", config: Config{MaxDelay: -1, MaxAttempts: 1}, wantErr: true},
		{name: "negative multiplier", config: Config{Multiplier: -2, MaxAttempts: 1}, wantErr: true},
		{name: "zero attempts", config: Config{InitialDelay: time.Second}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNextDelay_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := Config{
			InitialDelay: time.Duration(rapid.Int64Range(0, int64(time.Minute)).Draw(t, "initial")),
			Multiplier:   rapid.Float64Range(0, 8).Draw(t, "multiplier"),
			MaxDelay:     time.Duration(rapid.Int64Range(1, int64(time.Hour)).Draw(t, "max")),
			MaxAttempts:  rapid.IntRange(1, 64).Draw(t, "attempts"),
		}
		failures := rapid.IntRange(1, 128).Draw(t, "failures")

		delay, err := NextDelay(failures, c)
		if failures >= c.MaxAttempts {
			if err == nil {
				t.Fatalf("expected exhaustion at %d/%d failures", failures, c.MaxAttempts)
			}
			return
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if delay < 0 || delay > c.MaxDelay {
			t.Fatalf("delay %v outside [0, %v]", delay, c.MaxDelay)
		}

		again, _ := NextDelay(failures, c)
		if again != delay {
			t.Fatalf("not deterministic: %v != %v", again, delay)
		}

		if failures > 1 {
			prev, _ := NextDelay(failures-1, c)
			if prev > delay {
				t.Fatalf("delay decreased from %v to %v", prev, delay)
			}
		}
	})
}

func TestRenewAfter(t *testing.T) {
	tests := []struct {
		name     string
		lease    time.Duration
		fraction float64
		want     time.Duration
	}{
		{name: "zero lease", lease: 0, fraction: 0.75, want: 0},
		{name: "negative lease", lease: -time.Second, fraction: 0.75, want: 0},
		{name: "default fraction", lease: time.Hour, fraction: 0.75, want: 45 * time.Minute},
		{name: "half", lease: time.Minute, fraction: 0.5, want: 30 * time.Second},
		{name: "whole lease keeps a margin", lease: time.Minute, fraction: 1, want: 59 * time.Second},
		{name: "invalid fraction falls back", lease: 100 * time.Second, fraction: 1.5, want: 75 * time.Second},
		{name: "zero fraction falls back", lease: 100 * time.Second, fraction: 0, want: 75 * time.Second},
		{name: "short fraction clamps to minimum", lease: 2 * time.Second, fraction: 0.1, want: MinRenewDelay},
		{name: "one second lease renews before expiry", lease: time.Second, fraction: 0.75, want: 750 * time.Millisecond},
		{name: "one second lease whole fraction", lease: time.Second, fraction: 1, want: 500 * time.Millisecond},
		{name: "sub-second lease uses half the lease as floor", lease: 500 * time.Millisecond, fraction: 0.1, want: 250 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RenewAfter(tt.lease, tt.fraction))
		})
	}
}

func TestRenewAfter_BeforeExpiry(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lease := time.Duration(rapid.Int64Range(int64(time.Millisecond), int64(24*time.Hour)).Draw(t, "lease"))
		fraction := rapid.Float64Range(0.01, 1).Draw(t, "fraction")

		d := RenewAfter(lease, fraction)
		if d <= 0 || d >= lease {
			t.Fatalf("RenewAfter(%v, %v) = %v, want within (0, lease)", lease, fraction, d)
		}
	})
}

func TestExhaustedError(t *testing.T) {
	last := errors.New(errors.CodeUnavailable, "sealed").WithStatus(503)
	err := ExhaustedError(last, 3)

	assert.Equal(t, errors.CodeRetriesExhausted, errors.CodeOf(err))
	assert.Equal(t, 503, errors.StatusOf(err))
	assert.ErrorIs(t, err, last)
	assert.Contains(t, err.Error(), "gave up after 3 attempts")
}
