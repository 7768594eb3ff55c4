package awssm

import (
	"context"
	stderrors "errors"

	"github.com/aws/smithy-go"

	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/errors"
)

// AWS error code constants
const (
	ResourceNotFoundException = "ResourceNotFoundException"
	AccessDeniedException     = "AccessDeniedException"
	DecryptionFailure         = "DecryptionFailure"
	InternalServiceError      = "InternalServiceError"
)

var (
	// ErrSecretNotFound is returned when the referenced secret does not exist.
	ErrSecretNotFound = stderrors.New("secret not found")

	// ErrSecretEmpty is returned when a secret exists but contains no value.
	ErrSecretEmpty = stderrors.New("secret value is empty")

	// ErrAccessDenied is returned when the AWS credentials may not read the secret.
	ErrAccessDenied = stderrors.New("access denied to secret")

	// ErrKeyNotFound is returned when a "name#key" reference names a key the
	// secret's JSON object does not have.
	ErrKeyNotFound = stderrors.New("key not found in secret")
)

// handleError classifies an error from the Secrets Manager API. The secret name
// is recorded as context; values never are.
func handleError(err error, name string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}

	fields := map[string]any{"secret_name": name}

	var apiErr smithy.APIError
	if !stderrors.As(err, &apiErr) {
		return errors.WrapWithContext(err, errors.CodeNetwork, "secrets manager request failed", fields)
	}

	switch apiErr.ErrorCode() {
	case ResourceNotFoundException:
		return errors.WrapWithContext(ErrSecretNotFound, errors.CodeNotFound, "GetSecretValue operation failed", fields)
	case AccessDeniedException, DecryptionFailure:
		return errors.WrapWithContext(ErrAccessDenied, errors.CodeForbidden, "GetSecretValue operation failed", fields)
	case "ThrottlingException",
		"ProvisionedThroughputExceededException",
		"RequestLimitExceeded",
		"TooManyRequestsException":
		return errors.WrapWithContext(err, errors.CodeRateLimit, "GetSecretValue operation throttled", fields)
	case InternalServiceError:
		return errors.WrapWithContext(err, errors.CodeUnavailable, "GetSecretValue operation failed", fields)
	}

	return &errors.Error{
		Code:    errors.CodeUnknown,
		Message: "GetSecretValue operation failed: " + apiErr.ErrorCode() + ": " + apiErr.ErrorMessage(),
		Context: fields,
		Err:     err,
	}
}
