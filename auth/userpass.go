package auth

import (
	"context"
	"net/url"

	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/transport"
)

type userPassOptions struct {
	Username          string `json:"username"`
	Password          string `json:"password"`
	PasswordAWSSecret string `json:"password_aws_secret"`
	Mount             string `json:"mount"`
}

// UserPass logs in with a username and password.
type UserPass struct {
	opts userPassOptions
	o    *backendOptions
}

func newUserPass(options map[string]any, o *backendOptions) (Backend, error) {
	var opts userPassOptions
	if err := schemas.decode("#UserPass", options, &opts); err != nil {
		return nil, err
	}
	if err := exclusive("password", opts.Password, opts.PasswordAWSSecret, true); err != nil {
		return nil, err
	}
	return &UserPass{opts: opts, o: o}, nil
}

// Name implements Backend.
func (b *UserPass) Name() string { return BackendUserPass }

// Login implements Backend.
func (b *UserPass) Login(ctx context.Context, t transport.Transport) (*transport.Auth, error) {
	password, err := resolveSecret(ctx, b.o, "password", b.opts.Password, b.opts.PasswordAWSSecret)
	if err != nil {
		return nil, err
	}

	path := loginPath(b.opts.Mount) + "/" + url.PathEscape(b.opts.Username)
	return issue(ctx, t, BackendUserPass, path, map[string]any{"password": password})
}
