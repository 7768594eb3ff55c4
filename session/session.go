// Package session owns the client's authentication token and keeps it valid.
//
// A Manager logs in through an auth.Backend, installs the resulting token on
// the transport and schedules a renewal before the lease runs out. Renewals
// retry through the backoff policy; when they give up the session drops to
// unauthenticated and an event is emitted on events.TopicLoginError. A new
// Login or Relogin is then required.
//
// # State Machine
//
//	Unauthenticated -> Authenticating -> Authenticated
//	Authenticated -> Renewing -> Authenticated
//	Renewing -> Unauthenticated (retries exhausted)
//
// Unauthenticated and Authenticated are the rest states. A Manager is reusable
// for the whole process lifetime until Close is called.
//
// # Thread Safety
//
// All Manager methods are safe for concurrent use.
package session

import (
	"time"
)

// State is the lifecycle state of a Manager.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
	StateRenewing
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRenewing:
		return "renewing"
	default:
		return "unknown"
	}
}

// Session is the result of a successful login. It is replaced wholesale on
// every renewal.
type Session struct {
	Token           string
	Accessor        string
	Policies        []string
	LeaseDuration   time.Duration
	Renewable       bool
	AuthenticatedAt time.Time
}

// ExpiresAt returns the expiry deadline, or the zero time for a
// non-expiring session.
func (s *Session) ExpiresAt() time.Time {
	if s.LeaseDuration <= 0 {
		return time.Time{}
	}
	return s.AuthenticatedAt.Add(s.LeaseDuration)
}

// ValidAt reports whether the session is still usable at now.
func (s *Session) ValidAt(now time.Time) bool {
	if s == nil {
		return false
	}
	if s.LeaseDuration <= 0 {
		return true
	}
	return now.Before(s.ExpiresAt())
}

// clone returns a copy that shares nothing with s.
func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Policies = append([]string(nil), s.Policies...)
	return &c
}

// String never includes the token.
func (s *Session) String() string {
	if s == nil {
		return "Session{<nil>}"
	}
	return "Session{lease=" + s.LeaseDuration.String() + ", renewable=" + boolString(s.Renewable) + "}"
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Status is a read-only snapshot of a Manager for diagnostics.
type Status struct {
	State           State
	Backend         string
	Authenticated   bool
	LeaseDuration   time.Duration
	Renewable       bool
	AuthenticatedAt time.Time
	ExpiresAt       time.Time
	NextRenewal     time.Time
	RenewalFailures int
}
