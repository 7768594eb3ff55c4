package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/errors"
)

// Vault is a Transport backed by the official Vault API client.
//
// Thread Safety: Vault is safe for concurrent use. The underlying api.Client
// guards its token with its own lock.
type Vault struct {
	client *api.Client
	logger *slog.Logger
}

// vaultOptions holds configuration options for the Vault transport.
type vaultOptions struct {
	logger    *slog.Logger
	namespace string
	token     string
}

// Option is a functional option for configuring the Vault transport.
type Option func(*vaultOptions)

// WithLogger configures the transport with a logger.
// If logger is nil, logging will be disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *vaultOptions) {
		opts.logger = logger
	}
}

// WithNamespace sets the Vault Enterprise namespace sent with every request.
func WithNamespace(namespace string) Option {
	return func(opts *vaultOptions) {
		opts.namespace = namespace
	}
}

// WithToken sets the initial session token.
func WithToken(token string) Option {
	return func(opts *vaultOptions) {
		opts.token = token
	}
}

// NewVault creates a Vault transport. A nil cfg uses api.DefaultConfig, which
// honours VAULT_ADDR, VAULT_CACERT and the other standard environment variables.
//
// The api client picks up VAULT_TOKEN from the environment; it is cleared here
// so that the session manager stays the only source of the session token.
// The api client's built-in retries are disabled (cfg.MaxRetries is set to 0):
// retries belong to the caller's backoff policy.
func NewVault(cfg *api.Config, opts ...Option) (*Vault, error) {
	if cfg == nil {
		cfg = api.DefaultConfig()
		if cfg.Error != nil {
			return nil, errors.Wrap(cfg.Error, errors.CodeInvalidInput, "failed to read vault configuration from environment")
		}
	}
	cfg.MaxRetries = 0

	options := &vaultOptions{}
	for _, opt := range opts {
		opt(options)
	}

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "failed to create vault client")
	}
	client.ClearToken()
	if options.token != "" {
		client.SetToken(options.token)
	}
	if options.namespace != "" {
		client.SetNamespace(options.namespace)
	}

	return &Vault{client: client, logger: options.logger}, nil
}

// Address returns the server address requests are sent to.
func (v *Vault) Address() string {
	return v.client.Address()
}

// SetToken implements Transport.
func (v *Vault) SetToken(token string) {
	v.client.SetToken(token)
}

// ClearToken implements Transport.
func (v *Vault) ClearToken() {
	v.client.ClearToken()
}

// Request implements Transport.
func (v *Vault) Request(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New(errors.CodeInvalidInput, "request cannot be nil")
	}
	path := strings.TrimPrefix(req.Path, "/")
	if path == "" {
		return nil, errors.New(errors.CodeInvalidInput, "request path cannot be empty")
	}

	client := v.client
	if req.Token != "" {
		clone, err := v.client.Clone()
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "failed to clone vault client")
		}
		clone.SetToken(req.Token)
		client = clone
	}

	if v.logger != nil {
		v.logger.DebugContext(ctx, "vault request", "method", req.Method, "path", path)
	}

	logical := client.Logical()
	var (
		secret *api.Secret
		err    error
	)
	switch req.Method {
	case MethodGet:
		secret, err = logical.ReadWithContext(ctx, path)
	case MethodList:
		secret, err = logical.ListWithContext(ctx, path)
	case MethodPost, MethodPut:
		secret, err = logical.WriteWithContext(ctx, path, req.Body)
	case MethodDelete:
		secret, err = logical.DeleteWithContext(ctx, path)
	default:
		return nil, errors.Newf(errors.CodeInvalidInput, "unsupported method %q", req.Method)
	}

	if err != nil {
		err = classify(ctx, err, req.Method, path)
		if v.logger != nil {
			v.logger.DebugContext(ctx, "vault request failed",
				"method", req.Method,
				"path", path,
				"status", errors.StatusOf(err),
				"error", err)
		}
		return nil, err
	}

	// Logical reads report 404 as an empty result.
	if secret == nil && (req.Method == MethodGet || req.Method == MethodList) {
		return nil, &errors.Error{
			Code:    errors.CodeNotFound,
			Message: "no secret at path",
			Status:  404,
			Context: map[string]any{"method": req.Method, "path": path},
		}
	}

	return fromSecret(secret), nil
}

// Health reports the server's health, including its version.
func (v *Vault) Health(ctx context.Context) (*HealthStatus, error) {
	health, err := v.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return nil, classify(ctx, err, MethodGet, "sys/health")
	}
	return &HealthStatus{
		Initialized: health.Initialized,
		Sealed:      health.Sealed,
		Standby:     health.Standby,
		Version:     health.Version,
	}, nil
}

func fromSecret(s *api.Secret) *Response {
	if s == nil {
		return &Response{}
	}

	resp := &Response{
		Data:          s.Data,
		LeaseID:       s.LeaseID,
		LeaseDuration: seconds(s.LeaseDuration),
		Renewable:     s.Renewable,
		Warnings:      s.Warnings,
	}
	if s.Auth != nil {
		policies := s.Auth.Policies
		if len(policies) == 0 {
			policies = s.Auth.TokenPolicies
		}
		resp.Auth = &Auth{
			ClientToken:   s.Auth.ClientToken,
			Accessor:      s.Auth.Accessor,
			Policies:      policies,
			Metadata:      s.Auth.Metadata,
			LeaseDuration: seconds(s.Auth.LeaseDuration),
			Renewable:     s.Auth.Renewable,
		}
	}
	return resp
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// String is used by %v in logs and never includes the token.
func (v *Vault) String() string {
	return fmt.Sprintf("vault(%s)", v.client.Address())
}
