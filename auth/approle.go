package auth

import (
	"context"

	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/transport"
)

type appRoleOptions struct {
	RoleID            string `json:"role_id"`
	SecretID          string `json:"secret_id"`
	SecretIDAWSSecret string `json:"secret_id_aws_secret"`
	Mount             string `json:"mount"`
}

// AppRole logs in with a role_id and an optional secret_id.
type AppRole struct {
	opts appRoleOptions
	o    *backendOptions
}

func newAppRole(options map[string]any, o *backendOptions) (Backend, error) {
	var opts appRoleOptions
	if err := schemas.decode("#AppRole", options, &opts); err != nil {
		return nil, err
	}
	// Roles created with bind_secret_id=false log in with role_id alone.
	if err := exclusive("secret_id", opts.SecretID, opts.SecretIDAWSSecret, false); err != nil {
		return nil, err
	}
	return &AppRole{opts: opts, o: o}, nil
}

// Name implements Backend.
func (b *AppRole) Name() string { return BackendAppRole }

// Login implements Backend.
func (b *AppRole) Login(ctx context.Context, t transport.Transport) (*transport.Auth, error) {
	secretID, err := resolveSecret(ctx, b.o, "secret_id", b.opts.SecretID, b.opts.SecretIDAWSSecret)
	if err != nil {
		return nil, err
	}

	body := map[string]any{"role_id": b.opts.RoleID}
	if secretID != "" {
		body["secret_id"] = secretID
	}
	return issue(ctx, t, BackendAppRole, loginPath(b.opts.Mount), body)
}
