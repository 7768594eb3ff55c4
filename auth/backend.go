// Package auth implements the login backends a session can authenticate with.
//
// Each backend validates its options against an embedded CUE schema before any
// network call is made, so a missing field or a type mismatch surfaces as an
// INVALID_INPUT error and never reaches the server.
//
// Supported backends:
//
//	token       static token, verified with auth/token/lookup-self
//	approle     role_id + secret_id
//	userpass    username + password
//	kubernetes  service account JWT
//	aws         IAM principal, signed sts:GetCallerIdentity request
//
// Secret inputs (AppRole secret_id, userpass password) may be read from AWS
// Secrets Manager instead of being passed inline; see WithSecretResolver.
package auth

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/errors"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/transport"
)

// Backend names accepted by New.
const (
	BackendToken      = "token"
	BackendAppRole    = "approle"
	BackendUserPass   = "userpass"
	BackendKubernetes = "kubernetes"
	BackendAWS        = "aws"
)

// Backend performs a login against the server.
type Backend interface {
	// Name returns the backend name, e.g. "approle".
	Name() string

	// Login authenticates and returns the issued token.
	Login(ctx context.Context, t transport.Transport) (*transport.Auth, error)
}

// Renewer is implemented by backends whose sessions are extended in place
// rather than by logging in again.
type Renewer interface {
	Renew(ctx context.Context, t transport.Transport) (*transport.Auth, error)
}

// SecretResolver fetches a secret login input by reference. References have
// the form "name" or "name#key".
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// backendOptions holds configuration shared by the backends.
type backendOptions struct {
	logger         *slog.Logger
	resolver       SecretResolver
	awsCredentials aws.CredentialsProvider
}

// Option is a functional option for configuring a Backend.
type Option func(*backendOptions)

// WithLogger configures the backend with a logger.
// If logger is nil, logging will be disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *backendOptions) {
		opts.logger = logger
	}
}

// WithSecretResolver sets the resolver used for *_aws_secret options.
func WithSecretResolver(r SecretResolver) Option {
	return func(opts *backendOptions) {
		opts.resolver = r
	}
}

// WithAWSCredentials sets the credentials the aws backend signs with. By
// default they come from the AWS SDK's default credential chain.
func WithAWSCredentials(p aws.CredentialsProvider) Option {
	return func(opts *backendOptions) {
		opts.awsCredentials = p
	}
}

type factory func(options map[string]any, o *backendOptions) (Backend, error)

var factories = map[string]factory{
	BackendToken:      newToken,
	BackendAppRole:    newAppRole,
	BackendUserPass:   newUserPass,
	BackendKubernetes: newKubernetes,
	BackendAWS:        newAWSIAM,
}

// Names returns the supported backend names in sorted order.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New validates options for the named backend and returns a ready Backend.
// It performs no network I/O.
func New(name string, options map[string]any, opts ...Option) (Backend, error) {
	f, ok := factories[name]
	if !ok {
		return nil, &errors.Error{
			Code:    errors.CodeInvalidInput,
			Message: "unknown login backend",
			Context: map[string]any{"backend": name, "supported": strings.Join(Names(), ",")},
		}
	}

	o := &backendOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return f(options, o)
}

// loginPath returns the login endpoint of an auth mount.
func loginPath(mount string) string {
	return "auth/" + strings.Trim(mount, "/") + "/login"
}

// issue posts body to a login endpoint and checks that a token came back.
func issue(ctx context.Context, t transport.Transport, backend, path string, body map[string]any) (*transport.Auth, error) {
	resp, err := t.Request(ctx, &transport.Request{
		Method: transport.MethodPost,
		Path:   path,
		Body:   body,
	})
	if err != nil {
		return nil, err
	}
	if resp.Auth == nil || resp.Auth.ClientToken == "" {
		return nil, &errors.Error{
			Code:    errors.CodeUnauthorized,
			Message: "login response carried no token",
			Context: map[string]any{"backend": backend, "path": path},
		}
	}
	return resp.Auth, nil
}

// resolveSecret returns inline when set, otherwise the value behind ref.
func resolveSecret(ctx context.Context, o *backendOptions, field, inline, ref string) (string, error) {
	switch {
	case inline != "":
		return inline, nil
	case ref == "":
		return "", nil
	case o.resolver == nil:
		return "", errors.Newf(errors.CodeInvalidInput, "%s_aws_secret is set but no secret resolver is configured", field)
	}

	if o.logger != nil {
		o.logger.DebugContext(ctx, "resolving login secret", "field", field)
	}
	value, err := o.resolver.Resolve(ctx, ref)
	if err != nil {
		return "", errors.WrapWithContext(err, errors.CodeOf(err), "failed to resolve login secret",
			map[string]any{"field": field})
	}
	return value, nil
}

// exclusive rejects options that set both the inline and the referenced form.
func exclusive(field, inline, ref string, required bool) error {
	switch {
	case inline != "" && ref != "":
		return errors.Newf(errors.CodeInvalidInput, "only one of %s and %s_aws_secret may be set", field, field)
	case required && inline == "" && ref == "":
		return errors.Newf(errors.CodeInvalidInput, "one of %s or %s_aws_secret is required", field, field)
	}
	return nil
}
