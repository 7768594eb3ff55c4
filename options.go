package vaultclient

import (
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/hashicorp/vault/api"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/auth"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/awssm"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/backoff"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/clock"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/transport"
)

// clientOptions holds configuration options for the Client.
type clientOptions struct {
	logger         *slog.Logger
	clock          clock.Clock
	transport      transport.Transport
	vaultConfig    *api.Config
	namespace      string
	retry          backoff.Config
	registerer     prometheus.Registerer
	renewFraction  float64
	minVersion     string
	resolver       auth.SecretResolver
	awsSecrets     bool
	awsOptions     []awssm.Option
	awsCredentials aws.CredentialsProvider
}

// Option is a functional option for configuring the Client.
type Option func(*clientOptions)

// WithLogger configures the client with a custom logger.
// If logger is nil, logging will be disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *clientOptions) {
		opts.logger = logger
	}
}

// WithClock sets the time source for every renewal and retry timer.
// Tests pass a clock.Fake to drive lease expiry.
func WithClock(c clock.Clock) Option {
	return func(opts *clientOptions) {
		opts.clock = c
	}
}

// WithTransport replaces the Vault transport. WithVaultConfig and
// WithNamespace are ignored when it is set.
func WithTransport(t transport.Transport) Option {
	return func(opts *clientOptions) {
		opts.transport = t
	}
}

// WithVaultConfig sets the Vault API configuration. The default is
// api.DefaultConfig(), which reads VAULT_ADDR and the TLS environment.
func WithVaultConfig(cfg *api.Config) Option {
	return func(opts *clientOptions) {
		opts.vaultConfig = cfg
	}
}

// WithNamespace sets the Vault Enterprise namespace.
func WithNamespace(namespace string) Option {
	return func(opts *clientOptions) {
		opts.namespace = namespace
	}
}

// WithRetry sets the default backoff policy for logins and fetches.
func WithRetry(c backoff.Config) Option {
	return func(opts *clientOptions) {
		opts.retry = c
	}
}

// WithMetrics registers the client's Prometheus collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(opts *clientOptions) {
		opts.registerer = reg
	}
}

// WithRenewFraction sets the share of a lease that elapses before it is
// renewed. It must be in (0, 1].
func WithRenewFraction(f float64) Option {
	return func(opts *clientOptions) {
		opts.renewFraction = f
	}
}

// WithMinServerVersion makes Login check the server version against a
// semver constraint such as ">= 1.12" first.
func WithMinServerVersion(constraint string) Option {
	return func(opts *clientOptions) {
		opts.minVersion = constraint
	}
}

// WithSecretResolver resolves *_aws_secret login options. It takes
// precedence over WithAWSSecrets.
func WithSecretResolver(r auth.SecretResolver) Option {
	return func(opts *clientOptions) {
		opts.resolver = r
	}
}

// WithAWSSecrets resolves *_aws_secret login options from AWS Secrets
// Manager, configured by opts.
func WithAWSSecrets(opts ...awssm.Option) Option {
	return func(o *clientOptions) {
		o.awsSecrets = true
		o.awsOptions = append(o.awsOptions, opts...)
	}
}

// WithAWSCredentials sets the credentials used by the aws login backend.
func WithAWSCredentials(p aws.CredentialsProvider) Option {
	return func(opts *clientOptions) {
		opts.awsCredentials = p
	}
}

// defaultOptions returns the default configuration options.
func defaultOptions() *clientOptions {
	return &clientOptions{
		clock:         clock.Real(),
		retry:         backoff.DefaultConfig(),
		renewFraction: backoff.DefaultRenewFraction,
	}
}

// applyOptions applies the given options to the client options.
func applyOptions(opts *clientOptions, options []Option) {
	for _, option := range options {
		option(opts)
	}
}
