package tree

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/errors"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		address string
		want    []string
		wantErr bool
	}{
		{address: ".", want: nil},
		{address: "db", want: []string{"db"}},
		{address: "db.creds.user", want: []string{"db", "creds", "user"}},
		{address: "", wantErr: true},
		{address: ".db", wantErr: true},
		{address: "db.", wantErr: true},
		{address: "db..creds", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.address), func(t *testing.T) {
			got, err := ParseAddress(tt.address)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.CodeInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTree_RootMergeAndSubtree(t *testing.T) {
	tr := New()

	require.NoError(t, tr.Set(".", map[string]any{"foo": "bar"}))
	require.NoError(t, tr.Set("bar", "baz"))

	got, err := tr.Get(".")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"foo": "bar", "bar": "baz"}, got)

	// An object named after its address is stored as its single value.
	require.NoError(t, tr.Set("bar", map[string]any{"bar": "baz"}))
	got, err = tr.Get(".")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"foo": "bar", "bar": "baz"}, got)
}

func TestTree_SelfNamedObject(t *testing.T) {
	tests := []struct {
		name    string
		address string
		value   any
		want    any
	}{
		{name: "single self-named key", address: "bar", value: map[string]any{"bar": "baz"}, want: "baz"},
		{name: "nested address", address: "db.pass", value: map[string]any{"pass": "x"}, want: "x"},
		{name: "self-named object value", address: "db", value: map[string]any{"db": map[string]any{"u": "a"}}, want: map[string]any{"u": "a"}},
		{name: "other single key", address: "bar", value: map[string]any{"qux": "baz"}, want: map[string]any{"qux": "baz"}},
		{name: "self-named key among others", address: "bar", value: map[string]any{"bar": "baz", "x": 1}, want: map[string]any{"bar": "baz", "x": 1}},
		{name: "scalar", address: "bar", value: "baz", want: "baz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New()
			require.NoError(t, tr.Set(tt.address, tt.value))

			got, err := tr.Get(tt.address)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, StoredValue(tt.address, tt.value))
		})
	}

	assert.Equal(t, map[string]any{"foo": "bar"}, StoredValue(".", map[string]any{"foo": "bar"}))
}

func TestTree_SiblingsSurviveNestedWrite(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Set("a.c", map[string]any{"keep": true}))
	require.NoError(t, tr.Set("a.b", map[string]any{"v": 1}))
	require.NoError(t, tr.Set("a.b", map[string]any{"v": 2}))

	got, err := tr.Get("a")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"b": map[string]any{"v": 2},
		"c": map[string]any{"keep": true},
	}, got)
}

func TestTree_SetReplacesOnlyItsSubtree(t *testing.T) {
	tr := New()

	require.NoError(t, tr.Set("db", map[string]any{"user": "a", "pass": "b"}))
	require.NoError(t, tr.Set("db.extra", map[string]any{"x": 1}))
	require.NoError(t, tr.Set("cache", "redis://"))

	// Replacing db.extra leaves db.user and siblings alone.
	require.NoError(t, tr.Set("db.extra", map[string]any{"y": 2}))

	got, err := tr.Get(".")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"db": map[string]any{
			"user":  "a",
			"pass":  "b",
			"extra": map[string]any{"y": 2},
		},
		"cache": "redis://",
	}, got)

	// A full replace at db drops the keys it no longer carries.
	require.NoError(t, tr.Set("db", map[string]any{"user": "c"}))
	got, err = tr.Get("db")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"user": "c"}, got)
}

func TestTree_SetCreatesIntermediates(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Set("a", "scalar"))
	require.NoError(t, tr.Set("a.b.c", 42))

	got, err := tr.Get("a")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"b": map[string]any{"c": 42}}, got)
}

func TestTree_RootRejectsNonObject(t *testing.T) {
	tr := New()
	err := tr.Set(".", "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeInvalidInput))
}

func TestTree_Get(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Set("empty", map[string]any{}))
	require.NoError(t, tr.Set("leaf", "v"))

	got, err := tr.Get("empty")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, got, "empty subtree is not an error")

	_, err = tr.Get("missing")
	assert.True(t, errors.Is(err, errors.CodeNotFound))

	_, err = tr.Get("leaf.child")
	assert.True(t, errors.Is(err, errors.CodeNotFound))

	assert.True(t, tr.Has("leaf"))
	assert.False(t, tr.Has("missing"))
}

func TestTree_CopyIsolation(t *testing.T) {
	tr := New()
	input := map[string]any{"list": []any{"a", map[string]any{"k": "v"}}}
	require.NoError(t, tr.Set("x", input))

	// Mutating the input after Set does not reach the tree.
	input["list"].([]any)[0] = "mutated"

	got, err := tr.Get("x")
	require.NoError(t, err)
	got.(map[string]any)["list"].([]any)[1].(map[string]any)["k"] = "changed"

	again, err := tr.Get("x")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"list": []any{"a", map[string]any{"k": "v"}}}, again)

	snap := tr.Snapshot()
	delete(snap, "x")
	assert.True(t, tr.Has("x"))
}

func TestDeepCopy(t *testing.T) {
	src := map[string]any{
		"strings": []string{"a"},
		"labels":  map[string]string{"k": "v"},
		"bytes":   []byte("raw"),
		"n":       1.5,
	}
	dst := DeepCopy(src).(map[string]any)

	dst["strings"].([]string)[0] = "b"
	dst["labels"].(map[string]string)["k"] = "w"
	dst["bytes"].([]byte)[0] = 'R'

	assert.Equal(t, []string{"a"}, src["strings"])
	assert.Equal(t, map[string]string{"k": "v"}, src["labels"])
	assert.Equal(t, []byte("raw"), src["bytes"])
	assert.Nil(t, DeepCopy(nil))
}

func segmentGen() *rapid.Generator[string] {
	return rapid.StringMatching(`[a-z]{1,4}`)
}

func addressGen() *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		segs := rapid.SliceOfN(segmentGen(), 1, 3).Draw(t, "segments")
		out := segs[0]
		for _, s := range segs[1:] {
			out += "." + s
		}
		return out
	})
}

func TestTree_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tr := New()
		writes := rapid.SliceOfN(addressGen(), 1, 8).Draw(t, "addresses")

		for i, addr := range writes {
			value := map[string]any{"_i": i}
			if err := tr.Set(addr, value); err != nil {
				t.Fatalf("Set(%q): %v", addr, err)
			}

			// The last write at an address is always readable verbatim.
			got, err := tr.Get(addr)
			if err != nil {
				t.Fatalf("Get(%q) after Set: %v", addr, err)
			}
			if got.(map[string]any)["_i"] != i {
				t.Fatalf("Get(%q) = %v, want i=%d", addr, got, i)
			}

			// Reads are copies.
			got.(map[string]any)["_i"] = -1
			again, _ := tr.Get(addr)
			if again.(map[string]any)["_i"] != i {
				t.Fatalf("mutation of a read leaked into the tree at %q", addr)
			}
		}
	})
}
