package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/errors"
)

func TestIsCompatible(t *testing.T) {
	tests := []struct {
		name       string
		version    string
		constraint string
		want       bool
		wantErr    bool
	}{
		{name: "newer minor", version: "1.15.2", constraint: ">= 1.12.0", want: true},
		{name: "exact", version: "1.12.0", constraint: ">= 1.12.0", want: true},
		{name: "too old", version: "1.11.9", constraint: ">= 1.12.0", want: false},
		{name: "enterprise build", version: "1.15.2+ent", constraint: "^1.15", want: true},
		{name: "caret excludes next major", version: "2.0.0", constraint: "^1.15", want: false},
		{name: "invalid version", version: "latest", constraint: ">= 1.0.0", wantErr: true},
		{name: "invalid constraint", version: "1.0.0", constraint: "bogus", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IsCompatible(tt.version, tt.constraint)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.CodeInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type stubHealth struct {
	status *HealthStatus
	err    error
}

func (s stubHealth) Health(context.Context) (*HealthStatus, error) { return s.status, s.err }

func TestCheckServer(t *testing.T) {
	tests := []struct {
		name    string
		status  *HealthStatus
		err     error
		code    errors.ErrorCode
		wantErr bool
	}{
		{
			name:   "healthy without constraint",
			status: &HealthStatus{Initialized: true, Version: "1.0.0"},
		},
		{
			name:    "sealed",
			status:  &HealthStatus{Initialized: true, Sealed: true, Version: "1.15.0"},
			code:    errors.CodeUnavailable,
			wantErr: true,
		},
		{
			name:    "not initialized",
			status:  &HealthStatus{Version: "1.15.0"},
			code:    errors.CodeUnavailable,
			wantErr: true,
		},
		{
			name:    "health call fails",
			err:     errors.New(errors.CodeNetwork, "refused"),
			code:    errors.CodeNetwork,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CheckServer(context.Background(), stubHealth{status: tt.status, err: tt.err}, "")
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))
		})
	}
}
