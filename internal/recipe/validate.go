package recipe

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

// ValidationError lists every problem found in a payload.
type ValidationError struct {
	Name     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid recipe %q: %s", e.Name, strings.Join(e.Problems, "; "))
}

// cue.Values built from one Context are not safe for concurrent use,
// so every schema operation holds schemaMu.
var (
	schemaMu  sync.Mutex
	schemaCtx *cue.Context
	schemaDef cue.Value
	schemaErr error
)

func loadSchema() {
	schemaCtx = cuecontext.New()
	v := schemaCtx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		schemaErr = fmt.Errorf("compile recipe schema: %w", err)
		return
	}
	schemaDef = v.LookupPath(cue.ParsePath("#Recipe"))
	if err := schemaDef.Err(); err != nil {
		schemaErr = fmt.Errorf("lookup #Recipe: %w", err)
	}
}

// Validate checks the payload against the embedded #Recipe schema.
// Returns *ValidationError when the payload is rejected.
func (p Payload) Validate() error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("validate %q: %w", p.Name, err)
	}

	schemaMu.Lock()
	defer schemaMu.Unlock()

	if schemaCtx == nil {
		loadSchema()
	}
	if schemaErr != nil {
		return schemaErr
	}

	value := schemaCtx.CompileBytes(data, cue.Filename(p.Name+".json"))
	if err := value.Err(); err != nil {
		return fmt.Errorf("validate %q: %w", p.Name, err)
	}

	unified := schemaDef.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Name: p.Name, Problems: problems(err)}
	}
	return nil
}

// Validate checks the payload and the queue-level fields.
func (m Mutation) Validate() error {
	if m.Status != "" && !m.Status.Valid() {
		return &ValidationError{Name: m.Name, Problems: []string{fmt.Sprintf("status: unknown value %q", m.Status)}}
	}
	return m.Payload.Validate()
}

func problems(err error) []string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return []string{err.Error()}
	}

	out := make([]string, 0, len(errs))
	for _, e := range errs {
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if path := strings.Join(e.Path(), "."); path != "" {
			msg = path + ": " + msg
		}
		out = append(out, msg)
	}
	return out
}
