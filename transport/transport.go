// Package transport issues requests against a Vault server and normalizes the
// results for the session manager and the watch engine.
//
// Callers work with Request and Response values instead of the Vault API types,
// which keeps the rest of the client testable against a plain interface.
// Every error returned by a Transport is an *errors.Error whose Status carries
// the HTTP status code, or 0 for failures that never produced a response.
//
// # Security Considerations
//
// Request bodies and response data may hold credentials. This package logs only
// methods, paths and status codes, never bodies or tokens.
package transport

import (
	"context"
	"time"
)

// HTTP methods understood by Transport implementations.
const (
	MethodGet    = "GET"
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodList   = "LIST"
	MethodDelete = "DELETE"
)

// Request describes a single call to the server.
type Request struct {
	// Method is one of the Method* constants.
	Method string

	// Path is relative to the API root, e.g. "secret/data/db" or
	// "auth/approle/login". A leading slash is ignored.
	Path string

	// Body is sent as a JSON object for POST and PUT requests.
	Body map[string]any

	// Token, when set, is used for this request instead of the session token.
	Token string
}

// Auth is the authentication block of a login or token lookup response.
type Auth struct {
	ClientToken   string
	Accessor      string
	Policies      []string
	Metadata      map[string]string
	LeaseDuration time.Duration
	Renewable     bool
}

// Response is the normalized body of a successful request.
type Response struct {
	Data          map[string]any
	Auth          *Auth
	LeaseID       string
	LeaseDuration time.Duration
	Renewable     bool
	Warnings      []string
}

// Transport issues authenticated requests. Implementations attach the current
// session token to every request made without an explicit Request.Token.
//
// Implementations must be safe for concurrent use.
type Transport interface {
	// Request issues req and returns the parsed response.
	Request(ctx context.Context, req *Request) (*Response, error)

	// SetToken sets the session token attached to subsequent requests.
	SetToken(token string)

	// ClearToken removes the session token.
	ClearToken()
}

// HealthStatus is the subset of the server health report the client uses.
type HealthStatus struct {
	Initialized bool
	Sealed      bool
	Standby     bool
	Version     string
}

// HealthChecker is implemented by transports that can report server health.
type HealthChecker interface {
	Health(ctx context.Context) (*HealthStatus, error)
}
