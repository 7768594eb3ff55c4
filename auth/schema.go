package auth

import (
	_ "embed"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/errors"
)

// BackendSchemas is the CUE source defining the accepted login options of each
// backend.
//
//go:embed schema/backends.cue
var BackendSchemas []byte

// validator compiles the embedded schemas once and serializes access to the
// CUE context, which is not safe for concurrent use.
type validator struct {
	once   sync.Once
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
	err    error
}

var schemas = &validator{}

func (v *validator) init() {
	v.once.Do(func() {
		v.ctx = cuecontext.New()
		v.schema = v.ctx.CompileBytes(BackendSchemas, cue.Filename("backends.cue"))
		if err := v.schema.Err(); err != nil {
			v.err = errors.Wrap(err, errors.CodeInternal, "failed to compile login option schemas")
		}
	})
}

// decode validates options against the named definition and decodes the
// result, defaults applied, into out.
func (v *validator) decode(definition string, options map[string]any, out any) error {
	v.init()
	if v.err != nil {
		return v.err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	def := v.schema.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return errors.Newf(errors.CodeInternal, "no schema for %s", definition)
	}

	if options == nil {
		options = map[string]any{}
	}
	value := v.ctx.Encode(options)
	if err := value.Err(); err != nil {
		return errors.Wrap(err, errors.CodeInvalidInput, "login options cannot be encoded")
	}

	unified := def.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &errors.Error{
			Code:    errors.CodeInvalidInput,
			Message: "invalid login options: " + strings.TrimSpace(cueerrors.Details(err, nil)),
			Context: map[string]any{"schema": definition},
		}
	}

	if err := unified.Decode(out); err != nil {
		return errors.Wrap(err, errors.CodeInvalidInput, "login options cannot be decoded")
	}
	return nil
}
