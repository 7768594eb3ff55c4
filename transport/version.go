package transport

import (
	"context"

	"github.com/Masterminds/semver/v3"

	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/errors"
)

// IsCompatible checks serverVersion against a semver constraint such as
// ">= 1.12.0" or "^1.15". Build metadata such as the enterprise suffix in
// "1.15.2+ent" is ignored.
//
// Returns false (with no error) if the version does not satisfy the constraint.
// Returns an error if either string is invalid.
func IsCompatible(serverVersion, constraint string) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, errors.WrapWithContext(err, errors.CodeInvalidInput, "invalid server version constraint",
			map[string]any{"constraint": constraint})
	}

	v, err := semver.NewVersion(serverVersion)
	if err != nil {
		return false, errors.WrapWithContext(err, errors.CodeInvalidInput, "invalid server version",
			map[string]any{"version": serverVersion})
	}

	return c.Check(v), nil
}

// CheckServer verifies that the server is initialized, unsealed and, when
// constraint is non-empty, running a compatible version.
func CheckServer(ctx context.Context, hc HealthChecker, constraint string) (*HealthStatus, error) {
	health, err := hc.Health(ctx)
	if err != nil {
		return nil, err
	}

	switch {
	case !health.Initialized:
		return health, errors.New(errors.CodeUnavailable, "vault server is not initialized")
	case health.Sealed:
		return health, errors.New(errors.CodeUnavailable, "vault server is sealed")
	}

	if constraint == "" {
		return health, nil
	}

	ok, err := IsCompatible(health.Version, constraint)
	if err != nil {
		return health, err
	}
	if !ok {
		return health, &errors.Error{
			Code:    errors.CodeInvalidInput,
			Message: "vault server version is not supported",
			Context: map[string]any{"version": health.Version, "constraint": constraint},
		}
	}
	return health, nil
}
