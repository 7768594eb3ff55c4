// Package awssm reads login secrets from AWS Secrets Manager.
//
// A Source resolves references of the form "secret-name" (the whole secret
// string) or "secret-name#key" (one string key of a JSON secret). It is
// plugged into the auth backends so that an AppRole secret_id or a userpass
// password never has to appear in a configuration file.
//
// # Security Considerations
//
// The IAM principal needs secretsmanager:GetSecretValue on the referenced
// secrets, plus kms:Decrypt when a customer-managed key is used. Secret values
// are never logged; only secret names are.
//
// # Thread Safety
//
// All Source methods are safe for concurrent use by multiple goroutines.
package awssm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/clock"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/errors"
)

// Source resolves secret references against AWS Secrets Manager.
type Source struct {
	logger   *slog.Logger
	region   string
	endpoint string
	cache    *valueCache

	mu  sync.Mutex
	api ManagerAPI
}

// sourceOptions holds configuration options for a Source.
type sourceOptions struct {
	logger   *slog.Logger
	api      ManagerAPI
	region   string
	endpoint string
	cacheTTL time.Duration
	clock    clock.Clock
}

// Option is a functional option for configuring a Source.
type Option func(*sourceOptions)

// WithLogger configures the source with a custom logger.
// If logger is nil, logging will be disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *sourceOptions) {
		opts.logger = logger
	}
}

// WithAPI sets the Secrets Manager client. When unset, a client is built from
// the AWS SDK default configuration on first use.
func WithAPI(api ManagerAPI) Option {
	return func(opts *sourceOptions) {
		opts.api = api
	}
}

// WithRegion sets the AWS region used when building the default client.
func WithRegion(region string) Option {
	return func(opts *sourceOptions) {
		opts.region = region
	}
}

// WithEndpoint overrides the Secrets Manager endpoint, e.g. for LocalStack.
func WithEndpoint(url string) Option {
	return func(opts *sourceOptions) {
		opts.endpoint = url
	}
}

// WithCacheTTL keeps resolved values for ttl. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(opts *sourceOptions) {
		opts.cacheTTL = ttl
	}
}

// WithClock sets the time source used for cache expiry.
func WithClock(c clock.Clock) Option {
	return func(opts *sourceOptions) {
		opts.clock = c
	}
}

// defaultOptions returns the default configuration options.
func defaultOptions() *sourceOptions {
	return &sourceOptions{
		cacheTTL: time.Minute,
		clock:    clock.Real(),
	}
}

// NewSource creates a Source. It performs no I/O.
func NewSource(opts ...Option) *Source {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	s := &Source{
		logger:   options.logger,
		region:   options.region,
		endpoint: options.endpoint,
		api:      options.api,
	}
	if options.cacheTTL > 0 {
		s.cache = newValueCache(options.cacheTTL, options.clock)
	}
	return s
}

// client returns the Secrets Manager client, building it on first use.
func (s *Source) client(ctx context.Context) (ManagerAPI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.api != nil {
		return s.api, nil
	}

	var loadOpts []func(*config.LoadOptions) error
	if s.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(s.region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "failed to load AWS config")
	}

	s.api = secretsmanager.NewFromConfig(cfg, func(o *secretsmanager.Options) {
		if s.endpoint != "" {
			o.BaseEndpoint = aws.String(s.endpoint)
		}
	})
	return s.api, nil
}

// ParseRef splits a reference into the secret name and the optional JSON key.
func ParseRef(ref string) (name, key string, err error) {
	name, key, hasKey := strings.Cut(ref, "#")
	if name == "" || (hasKey && key == "") || strings.Contains(key, "#") {
		return "", "", errors.Newf(errors.CodeInvalidInput, "invalid secret reference %q", ref)
	}
	return name, key, nil
}

// Resolve returns the value behind ref.
func (s *Source) Resolve(ctx context.Context, ref string) (string, error) {
	name, key, err := ParseRef(ref)
	if err != nil {
		return "", err
	}

	if value, ok := s.cache.get(ref); ok {
		return value, nil
	}

	raw, err := s.getSecret(ctx, name)
	if err != nil {
		return "", err
	}

	value := raw
	if key != "" {
		value, err = extractKey(raw, name, key)
		if err != nil {
			return "", err
		}
	}

	s.cache.set(ref, value)
	return value, nil
}

// Invalidate drops every cached value so the next Resolve reads from AWS.
func (s *Source) Invalidate() {
	s.cache.clear()
}

func (s *Source) getSecret(ctx context.Context, name string) (string, error) {
	api, err := s.client(ctx)
	if err != nil {
		return "", err
	}

	// Log the operation start (without sensitive data)
	if s.logger != nil {
		s.logger.DebugContext(ctx, "retrieving secret", "secret_name", name)
	}

	output, err := api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(name)})
	if err != nil {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to retrieve secret",
				"secret_name", name,
				"error", err)
		}
		return "", handleError(err, name)
	}

	switch {
	case output.SecretString != nil && *output.SecretString != "":
		return *output.SecretString, nil
	case len(output.SecretBinary) > 0:
		return string(output.SecretBinary), nil
	default:
		return "", errors.WrapWithContext(ErrSecretEmpty, errors.CodeNotFound, "GetSecretValue operation failed",
			map[string]any{"secret_name": name})
	}
}

// extractKey reads one key of a JSON object secret. Non-string scalars are
// formatted with their JSON representation.
func extractKey(raw, name, key string) (string, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return "", errors.WrapWithContext(err, errors.CodeInvalidInput, "secret is not a JSON object",
			map[string]any{"secret_name": name})
	}

	v, ok := obj[key]
	if !ok || v == nil {
		return "", errors.WrapWithContext(ErrKeyNotFound, errors.CodeNotFound, "secret key lookup failed",
			map[string]any{"secret_name": name, "key": key})
	}

	switch val := v.(type) {
	case string:
		return val, nil
	case float64, bool:
		return fmt.Sprint(val), nil
	default:
		return "", &errors.Error{
			Code:    errors.CodeInvalidInput,
			Message: "secret key does not hold a scalar value",
			Context: map[string]any{"secret_name": name, "key": key},
		}
	}
}
