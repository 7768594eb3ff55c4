package vaultclient

import (
	stderrors "errors"

	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/watch"
)

var (
	// ErrClosed is returned by Login, Relogin and Watch after Close.
	ErrClosed = stderrors.New("vault client is closed")

	// ErrNotAuthenticated is the cause of fetches attempted without a valid
	// session. Check with errors.Is.
	ErrNotAuthenticated = watch.ErrNotAuthenticated
)
