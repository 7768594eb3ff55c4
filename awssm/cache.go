package awssm

import (
	"sync"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/clock"
)

// cacheEntry represents a single resolved value with its expiration time.
type cacheEntry struct {
	value      string
	expiration time.Time
}

// valueCache keeps resolved secret values for a short TTL so that a renewal
// storm does not turn into a Secrets Manager request storm.
//
// Thread Safety: all methods are safe for concurrent use.
type valueCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	clock   clock.Clock
}

func newValueCache(ttl time.Duration, c clock.Clock) *valueCache {
	return &valueCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		clock:   c,
	}
}

// get returns the cached value for ref unless it has expired.
func (c *valueCache) get(ref string) (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[ref]
	if !ok {
		return "", false
	}
	if !c.clock.Now().Before(entry.expiration) {
		delete(c.entries, ref)
		return "", false
	}
	return entry.value, true
}

func (c *valueCache) set(ref, value string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ref] = cacheEntry{value: value, expiration: c.clock.Now().Add(c.ttl)}
}

// clear drops every cached value.
func (c *valueCache) clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
