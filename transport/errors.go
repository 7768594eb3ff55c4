package transport

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/url"
	"strings"

	"github.com/hashicorp/vault/api"

	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/errors"
)

// classify converts an error from the api client into an *errors.Error.
//
// Cancellation of the caller's context is returned unchanged so callers can
// tell a shutdown from a server failure.
func classify(ctx context.Context, err error, method, path string) error {
	if ctx.Err() != nil && (stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)) {
		return err
	}

	fields := map[string]any{"method": method, "path": path}

	var respErr *api.ResponseError
	if stderrors.As(err, &respErr) {
		msg := strings.Join(respErr.Errors, "; ")
		if msg == "" {
			msg = "request failed"
		}
		return &errors.Error{
			Code:    errors.CodeForStatus(respErr.StatusCode),
			Message: msg,
			Status:  respErr.StatusCode,
			Context: fields,
			Err:     err,
		}
	}

	var (
		urlErr *url.Error
		netErr net.Error
	)
	if stderrors.As(err, &urlErr) || stderrors.As(err, &netErr) ||
		stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF) {
		return &errors.Error{
			Code:    errors.CodeNetwork,
			Message: "request did not complete",
			Context: fields,
			Err:     err,
		}
	}

	return &errors.Error{
		Code:    errors.CodeUnknown,
		Message: "request failed",
		Context: fields,
		Err:     err,
	}
}
