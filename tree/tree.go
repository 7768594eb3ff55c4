// Package tree implements the hierarchical secret cache addressed by dotted
// paths such as "db.creds". The root address "." addresses the whole tree.
//
// Every value that enters or leaves a Tree is deep-copied, so callers can never
// observe or cause mutation of the cached data.
package tree

import (
	"strings"
	"sync"

	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/errors"
)

// Root is the address of the whole tree.
const Root = "."

// ParseAddress splits a dotted address into its segments. The root address
// yields no segments.
func ParseAddress(address string) ([]string, error) {
	if address == Root {
		return nil, nil
	}
	if address == "" {
		return nil, errors.New(errors.CodeInvalidInput, "address cannot be empty")
	}

	segments := strings.Split(address, ".")
	for _, s := range segments {
		if s == "" {
			return nil, &errors.Error{
				Code:    errors.CodeInvalidInput,
				Message: "address has an empty segment",
				Context: map[string]any{"address": address},
			}
		}
	}
	return segments, nil
}

// Tree is a concurrency-safe nested map. Writes replace exactly one subtree and
// are atomic with respect to readers.
type Tree struct {
	mu   sync.RWMutex
	root map[string]any
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{root: make(map[string]any)}
}

// Set stores value at address.
//
// At the root the value must be an object and its keys are merged into the top
// level of the tree, each key replacing what was there. Anywhere else the value
// replaces the subtree at address, and missing or non-object intermediate
// levels are replaced by empty objects. An object whose only key is the last
// segment of address is stored as that key's value, so {bar: baz} written at
// "bar" yields bar = baz rather than bar.bar = baz.
func (t *Tree) Set(address string, value any) error {
	segments, err := ParseAddress(address)
	if err != nil {
		return err
	}

	if len(segments) > 0 {
		value = unwrapNamed(segments[len(segments)-1], value)
	}
	value = DeepCopy(value)

	if len(segments) == 0 {
		obj, ok := value.(map[string]any)
		if !ok {
			return errors.Newf(errors.CodeInvalidInput, "value stored at the root must be an object, got %T", value)
		}

		t.mu.Lock()
		defer t.mu.Unlock()
		for k, v := range obj {
			t.root[k] = v
		}
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	node := t.root
	for _, s := range segments[:len(segments)-1] {
		child, ok := node[s].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[s] = child
		}
		node = child
	}
	node[segments[len(segments)-1]] = value
	return nil
}

// StoredValue returns the value Set keeps for value at address. The result
// shares memory with value.
func StoredValue(address string, value any) any {
	segments, err := ParseAddress(address)
	if err != nil || len(segments) == 0 {
		return value
	}
	return unwrapNamed(segments[len(segments)-1], value)
}

func unwrapNamed(name string, value any) any {
	obj, ok := value.(map[string]any)
	if !ok || len(obj) != 1 {
		return value
	}
	if v, ok := obj[name]; ok {
		return v
	}
	return value
}

// Get returns a deep copy of the value at address, or of the whole tree for
// the root address. An address that does not exist yields a NOT_FOUND error;
// an existing empty object is returned as such.
func (t *Tree) Get(address string) (any, error) {
	segments, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	var current any = t.root
	for _, s := range segments {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, notFound(address)
		}
		current, ok = obj[s]
		if !ok {
			return nil, notFound(address)
		}
	}
	return DeepCopy(current), nil
}

// Has reports whether address exists in the tree.
func (t *Tree) Has(address string) bool {
	_, err := t.Get(address)
	return err == nil
}

// Snapshot returns a deep copy of the whole tree.
func (t *Tree) Snapshot() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return DeepCopy(t.root).(map[string]any)
}

func notFound(address string) error {
	return &errors.Error{
		Code:    errors.CodeNotFound,
		Message: "no value at address",
		Context: map[string]any{"address": address},
	}
}
