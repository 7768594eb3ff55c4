package watch

import (
	"strings"
	"sync"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/clock"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/errors"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/tree"
)

// Entry names a secret to watch and where to cache it.
type Entry struct {
	// Address is the dotted cache path, or "." to merge into the root.
	Address string `json:"address" yaml:"address"`

	// Path is the server path to read, e.g. "secret/data/db".
	Path string `json:"path" yaml:"path"`

	// Raw disables KV version 2 unwrapping.
	Raw bool `json:"raw,omitempty" yaml:"raw,omitempty"`
}

// Validate checks the entry shape.
func (e Entry) Validate() error {
	if _, err := tree.ParseAddress(e.Address); err != nil {
		return err
	}
	if strings.Trim(e.Path, "/") == "" {
		return &errors.Error{
			Code:    errors.CodeInvalidInput,
			Message: "watch entry path cannot be empty",
			Context: map[string]any{"address": e.Address},
		}
	}
	return nil
}

// EntryStatus is a diagnostic snapshot of one watched address.
type EntryStatus struct {
	Address       string
	Path          string
	LeaseDuration time.Duration
	Renewable     bool
	Cached        bool
	InFlight      bool
	Waiters       int
	Failures      int
	LastFetch     time.Time
	NextRenewal   time.Time
	LastError     error
}

// flight is the outcome of one fetch, including its retries. Every waiter
// attached before it settles observes the same err.
type flight struct {
	done    chan struct{}
	err     error
	waiters int
	renewal bool
}

func newFlight(renewal bool) *flight {
	return &flight{done: make(chan struct{}), renewal: renewal}
}

func (f *flight) settle(err error) {
	f.err = err
	close(f.done)
}

// entry is the per-address state. Its mutex serializes every fetch, store and
// timer change for the address.
type entry struct {
	mu   sync.Mutex
	target Entry

	// flight is non-nil while a fetch or its retries are outstanding.
	flight *flight

	// timer is the single pending renewal or retry for the address; seq
	// identifies it so a stale callback can recognize itself.
	timer    *clock.Timer
	seq      uint64
	retrying bool

	failures    int
	lease       time.Duration
	renewable   bool
	cached      bool
	lastErr     error
	lastFetch   time.Time
	nextRenewal time.Time
	stopped     bool
}

// schedule replaces the pending timer with one that runs f after d.
func (en *entry) schedule(c clock.Clock, d time.Duration, retry bool, f func(seq uint64)) {
	en.cancelTimer()
	en.seq++
	seq := en.seq
	en.retrying = retry
	en.nextRenewal = c.Now().Add(d)
	en.timer = c.AfterFunc(d, func() { f(seq) })
}

func (en *entry) cancelTimer() {
	en.timer.Stop()
	en.timer = nil
	en.retrying = false
	en.nextRenewal = time.Time{}
}

// idle reports whether the entry holds a good value and needs no fetch.
func (en *entry) idle() bool {
	return en.flight == nil && en.cached && en.lastErr == nil && !en.stopped &&
		(en.timer != nil || en.lease <= 0)
}

func (en *entry) status() EntryStatus {
	st := EntryStatus{
		Address:       en.target.Address,
		Path:          en.target.Path,
		LeaseDuration: en.lease,
		Renewable:     en.renewable,
		Cached:        en.cached,
		InFlight:      en.flight != nil,
		Failures:      en.failures,
		LastFetch:     en.lastFetch,
		NextRenewal:   en.nextRenewal,
		LastError:     en.lastErr,
	}
	if en.flight != nil {
		st.Waiters = en.flight.waiters
	}
	return st
}
