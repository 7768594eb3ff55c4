package auth

import (
	"context"
	"os"
	"strings"

	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/errors"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/transport"
)

type kubernetesOptions struct {
	Role    string `json:"role"`
	JWT     string `json:"jwt"`
	JWTPath string `json:"jwt_path"`
	Mount   string `json:"mount"`
}

// Kubernetes logs in with a service account token. Unless a JWT is given
// inline, the token file is re-read on every login so rotated tokens are
// picked up.
type Kubernetes struct {
	opts kubernetesOptions
}

func newKubernetes(options map[string]any, _ *backendOptions) (Backend, error) {
	var opts kubernetesOptions
	if err := schemas.decode("#Kubernetes", options, &opts); err != nil {
		return nil, err
	}
	return &Kubernetes{opts: opts}, nil
}

// Name implements Backend.
func (b *Kubernetes) Name() string { return BackendKubernetes }

// Login implements Backend.
func (b *Kubernetes) Login(ctx context.Context, t transport.Transport) (*transport.Auth, error) {
	jwt := b.opts.JWT
	if jwt == "" {
		raw, err := os.ReadFile(b.opts.JWTPath)
		if err != nil {
			return nil, errors.WrapWithContext(err, errors.CodeInvalidInput, "failed to read service account token",
				map[string]any{"jwt_path": b.opts.JWTPath})
		}
		jwt = strings.TrimSpace(string(raw))
	}

	return issue(ctx, t, BackendKubernetes, loginPath(b.opts.Mount), map[string]any{
		"role": b.opts.Role,
		"jwt":  jwt,
	})
}
