package settings

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/autostack/pkg/engine"
)

// Schema names of the built-in definitions.
const (
	ProjectSchema = "#Project"
	StackSchema   = "#Stack"
)

// SchemaRegistry holds CUE definitions settings documents are checked against.
type SchemaRegistry struct {
	ctx       *cue.Context
	schemas   map[string]cue.Value
	validator *validator.Validate
	mu        sync.RWMutex
}

// NewSchemaRegistry creates a registry with the built-in project and stack
// definitions.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:       cuecontext.New(),
		schemas:   make(map[string]cue.Value),
		validator: validator.New(),
	}
	if err := sr.Register(builtinSchemas); err != nil {
		panic(fmt.Sprintf("built-in settings schemas do not compile: %v", err))
	}
	return sr
}

// Register compiles src and registers every top-level definition in it.
// Definitions already registered under the same name are replaced.
func (sr *SchemaRegistry) Register(src string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(src)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}

	iter, err := val.Fields(cue.Definitions(true))
	if err != nil {
		return fmt.Errorf("failed to list schema definitions: %w", err)
	}
	found := 0
	for iter.Next() {
		if !iter.Selector().IsDefinition() {
			continue
		}
		sr.schemas[iter.Selector().String()] = iter.Value()
		found++
	}
	if found == 0 {
		return fmt.Errorf("schema declares no definitions")
	}
	return nil
}

// Lookup returns a registered definition.
func (sr *SchemaRegistry) Lookup(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Names returns the registered definition names in sorted order.
func (sr *SchemaRegistry) Names() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate unifies doc with the named definition. doc is encoded through its
// JSON form so custom marshalers decide the shape CUE sees. The JSON text is
// compiled as CUE so integers stay ints.
func (sr *SchemaRegistry) Validate(name string, doc interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	// cue.Context is not safe for concurrent use
	sr.mu.Lock()
	defer sr.mu.Unlock()

	schema, ok := sr.schemas[name]
	if !ok {
		return fmt.Errorf("schema %s not found", name)
	}
	data := sr.ctx.CompileBytes(raw)
	if err := data.Err(); err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	if err := schema.Unify(data).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("does not match %s: %w", name, err)
	}
	return nil
}

// ValidateProject checks struct constraints and the project schema.
func (sr *SchemaRegistry) ValidateProject(p *Project) error {
	if err := sr.validator.Struct(p); err != nil {
		return invalid("project settings", err)
	}
	if err := sr.Validate(ProjectSchema, p); err != nil {
		return invalid("project settings", err)
	}
	return nil
}

// ValidateStack checks the stack schema.
func (sr *SchemaRegistry) ValidateStack(s *Stack) error {
	if err := sr.Validate(StackSchema, s); err != nil {
		return invalid("stack settings", err)
	}
	return nil
}

func invalid(what string, err error) *engine.Error {
	return engine.NewParseError(fmt.Sprintf("invalid %s", what), err).WithCode(engine.CodeInvalidSettings)
}

const builtinSchemas = `
#Project: {
	// Name doubles as the config namespace, so it may not contain ':'
	name: string & =~"^[A-Za-z0-9_.-]+$"

	runtime: string & !="" | {
		name:     string & !=""
		options?: {...}
	}

	main?:        string
	description?: string

	backend?: {
		url?: string
	}

	config?: {...}
}

#Stack: {
	secretsprovider?: string
	encryptedkey?:    string
	encryptionsalt?:  string

	config?: {[string]: _}
}
`
