package events

import "time"

// SecretPayload is emitted on SecretTopic(address) after each successful
// fetch or renewal. Value is a private copy owned by the receiver.
type SecretPayload struct {
	Address       string
	Path          string
	Value         any
	LeaseDuration time.Duration
	Renewable     bool
	Renewal       bool
}

// ErrorPayload is emitted on TopicError when a fetch gives up.
type ErrorPayload struct {
	Address  string
	Path     string
	Attempts int
	Renewal  bool
	Err      error
}

// LoginErrorPayload is emitted on TopicLoginError.
type LoginErrorPayload struct {
	Backend  string
	Attempts int
	Renewal  bool
	Err      error
}

// LoginPayload is emitted on TopicLogin.
type LoginPayload struct {
	Backend       string
	LeaseDuration time.Duration
	Renewable     bool
	Renewal       bool
}
