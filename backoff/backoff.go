// Package backoff provides the retry delay policy shared by authentication and
// secret fetches.
//
// The policy is a pure function: the same attempt number and Config always yield
// the same delay. Callers own the attempt counter and reset it on success.
package backoff

import (
	stderrors "errors"
	"fmt"
	"math"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/errors"
)

// Default policy values. These match the retryer used by the secrets manager
// client: 10 attempts (including the initial one), 100ms base delay, 30s cap.
const (
	DefaultInitialDelay = 100 * time.Millisecond
	DefaultMultiplier   = 2.0
	DefaultMaxDelay     = 30 * time.Second
	DefaultMaxAttempts  = 10
)

// ErrExhausted is returned by NextDelay when no further attempt is allowed.
var ErrExhausted = stderrors.New("retry attempts exhausted")

// Config configures the exponential backoff policy.
type Config struct {
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`

	// Multiplier is the factor by which the delay grows per attempt.
	// Values below 1 are treated as 1.
	Multiplier float64 `json:"multiplier" yaml:"multiplier"`

	// MaxDelay caps every computed delay. Zero means no cap.
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay"`

	// MaxAttempts is the total number of attempts, the initial one included.
	// It is ignored when Forever is set.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// Forever disables the attempt limit.
	Forever bool `json:"forever" yaml:"forever"`
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		InitialDelay: DefaultInitialDelay,
		Multiplier:   DefaultMultiplier,
		MaxDelay:     DefaultMaxDelay,
		MaxAttempts:  DefaultMaxAttempts,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	switch {
	case c.InitialDelay < 0:
		return errors.New(errors.CodeInvalidInput, "retry initial delay cannot be negative")
	case c.MaxDelay < 0:
		return errors.New(errors.CodeInvalidInput, "retry max delay cannot be negative")
	case c.Multiplier < 0:
		return errors.New(errors.CodeInvalidInput, "retry multiplier cannot be negative")
	case !c.Forever && c.MaxAttempts < 1:
		return errors.New(errors.CodeInvalidInput, "retry max attempts must be at least 1")
	}
	return nil
}

// Exhausted reports whether another attempt is forbidden after the given number
// of failed attempts.
func (c Config) Exhausted(failures int) bool {
	if c.Forever {
		return false
	}
	return failures >= c.MaxAttempts
}

// NextDelay returns how long to wait before the next attempt, given the number
// of attempts that have failed so far (1 after the first failure).
//
// The delay is InitialDelay * Multiplier^(failures-1), capped at MaxDelay.
// If the configured attempts are used up it returns ErrExhausted instead.
func NextDelay(failures int, c Config) (time.Duration, error) {
	if failures < 1 {
		failures = 1
	}
	if c.Exhausted(failures) {
		return 0, ErrExhausted
	}

	multiplier := c.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(c.InitialDelay) * math.Pow(multiplier, float64(failures-1))

	// Cap before converting so huge exponents cannot overflow time.Duration.
	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		return c.MaxDelay, nil
	}
	if delay > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64), nil
	}
	return time.Duration(delay), nil
}

// ExhaustedError wraps the last failure of an operation that ran out of
// attempts. The HTTP status of last, if any, is kept.
func ExhaustedError(last error, attempts int) error {
	return &errors.Error{
		Code:    errors.CodeRetriesExhausted,
		Message: fmt.Sprintf("gave up after %d attempts", attempts),
		Status:  errors.StatusOf(last),
		Err:     last,
	}
}
