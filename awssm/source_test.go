package awssm

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/clock"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/errors"
)

// mockManagerAPI implements ManagerAPI for testing
type mockManagerAPI struct {
	getSecretValueFunc func(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	calls              int
}

func (m *mockManagerAPI) GetSecretValue(
	ctx context.Context,
	params *secretsmanager.GetSecretValueInput,
	optFns ...func(*secretsmanager.Options),
) (*secretsmanager.GetSecretValueOutput, error) {
	m.calls++
	if m.getSecretValueFunc != nil {
		return m.getSecretValueFunc(ctx, params, optFns...)
	}
	return nil, fmt.Errorf("GetSecretValue not implemented")
}

func secretString(s string) func(context.Context, *secretsmanager.GetSecretValueInput, ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	return func(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
		return &secretsmanager.GetSecretValueOutput{Name: in.SecretId, SecretString: aws.String(s)}, nil
	}
}

func apiError(code string) func(context.Context, *secretsmanager.GetSecretValueInput, ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	return func(context.Context, *secretsmanager.GetSecretValueInput, ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
		return nil, &smithy.GenericAPIError{Code: code, Message: "test error"}
	}
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		ref     string
		name    string
		key     string
		wantErr bool
	}{
		{ref: "vault/approle", name: "vault/approle"},
		{ref: "vault/approle#secret_id", name: "vault/approle", key: "secret_id"},
		{ref: "", wantErr: true},
		{ref: "#key", wantErr: true},
		{ref: "name#", wantErr: true},
		{ref: "name#a#b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			name, key, err := ParseRef(tt.ref)
			if tt.wantErr {
				assert.True(t, errors.Is(err, errors.CodeInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestSource_Resolve(t *testing.T) {
	tests := []struct {
		name     string
		ref      string
		api      *mockManagerAPI
		want     string
		code     errors.ErrorCode
		sentinel error
	}{
		{
			name: "whole secret string",
			ref:  "vault/approle",
			api:  &mockManagerAPI{getSecretValueFunc: secretString("plain-value")},
			want: "plain-value",
		},
		{
			name: "json key",
			ref:  "vault/approle#secret_id",
			api:  &mockManagerAPI{getSecretValueFunc: secretString(`{"secret_id":"abc","role_id":"r"}`)},
			want: "abc",
		},
		{
			name: "numeric json key",
			ref:  "db#port",
			api:  &mockManagerAPI{getSecretValueFunc: secretString(`{"port":5432}`)},
			want: "5432",
		},
		{
			name:     "missing json key",
			ref:      "vault/approle#nope",
			api:      &mockManagerAPI{getSecretValueFunc: secretString(`{"secret_id":"abc"}`)},
			code:     errors.CodeNotFound,
			sentinel: ErrKeyNotFound,
		},
		{
			name: "not json",
			ref:  "vault/approle#secret_id",
			api:  &mockManagerAPI{getSecretValueFunc: secretString("plain")},
			code: errors.CodeInvalidInput,
		},
		{
			name: "binary secret",
			ref:  "bin",
			api: &mockManagerAPI{getSecretValueFunc: func(context.Context, *secretsmanager.GetSecretValueInput, ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
				return &secretsmanager.GetSecretValueOutput{SecretBinary: []byte("raw")}, nil
			}},
			want: "raw",
		},
		{
			name: "empty secret",
			ref:  "empty",
			api: &mockManagerAPI{getSecretValueFunc: func(context.Context, *secretsmanager.GetSecretValueInput, ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
				return &secretsmanager.GetSecretValueOutput{}, nil
			}},
			code:     errors.CodeNotFound,
			sentinel: ErrSecretEmpty,
		},
		{
			name:     "not found",
			ref:      "missing",
			api:      &mockManagerAPI{getSecretValueFunc: apiError(ResourceNotFoundException)},
			code:     errors.CodeNotFound,
			sentinel: ErrSecretNotFound,
		},
		{
			name:     "access denied",
			ref:      "locked",
			api:      &mockManagerAPI{getSecretValueFunc: apiError(AccessDeniedException)},
			code:     errors.CodeForbidden,
			sentinel: ErrAccessDenied,
		},
		{
			name: "throttled",
			ref:  "busy",
			api:  &mockManagerAPI{getSecretValueFunc: apiError("ThrottlingException")},
			code: errors.CodeRateLimit,
		},
		{
			name: "unknown api error",
			ref:  "odd",
			api:  &mockManagerAPI{getSecretValueFunc: apiError("SomethingElse")},
			code: errors.CodeUnknown,
		},
		{
			name: "network error",
			ref:  "net",
			api: &mockManagerAPI{getSecretValueFunc: func(context.Context, *secretsmanager.GetSecretValueInput, ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
				return nil, stderrors.New("dial tcp: connection refused")
			}},
			code: errors.CodeNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSource(WithAPI(tt.api))
			got, err := s.Resolve(context.Background(), tt.ref)

			if tt.code != "" {
				require.Error(t, err)
				assert.Equal(t, tt.code, errors.CodeOf(err))
				if tt.sentinel != nil {
					assert.ErrorIs(t, err, tt.sentinel)
				}
				assert.NotContains(t, err.Error(), "abc", "errors never carry secret values")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSource_Cache(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	api := &mockManagerAPI{getSecretValueFunc: secretString(`{"k":"v"}`)}
	s := NewSource(WithAPI(api), WithCacheTTL(time.Minute), WithClock(fake))

	for i := 0; i < 3; i++ {
		got, err := s.Resolve(context.Background(), "name#k")
		require.NoError(t, err)
		assert.Equal(t, "v", got)
	}
	assert.Equal(t, 1, api.calls)

	fake.Advance(time.Minute)
	_, err := s.Resolve(context.Background(), "name#k")
	require.NoError(t, err)
	assert.Equal(t, 2, api.calls)

	s.Invalidate()
	_, err = s.Resolve(context.Background(), "name#k")
	require.NoError(t, err)
	assert.Equal(t, 3, api.calls)
}

func TestSource_CacheDisabled(t *testing.T) {
	api := &mockManagerAPI{getSecretValueFunc: secretString("v")}
	s := NewSource(WithAPI(api), WithCacheTTL(0))

	_, err := s.Resolve(context.Background(), "name")
	require.NoError(t, err)
	_, err = s.Resolve(context.Background(), "name")
	require.NoError(t, err)
	assert.Equal(t, 2, api.calls)
}

func TestSource_ContextCanceled(t *testing.T) {
	api := &mockManagerAPI{getSecretValueFunc: func(ctx context.Context, _ *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
		return nil, ctx.Err()
	}}
	s := NewSource(WithAPI(api))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Resolve(ctx, "name")
	assert.ErrorIs(t, err, context.Canceled)
}
