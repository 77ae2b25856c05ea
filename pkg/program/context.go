// Package program hosts inline programs: Go functions (or starlark scripts)
// that the engine calls back into over a local gRPC connection instead of
// launching a program from the work directory.
//
// The callback is the ProgramHost service in this package, spoken as JSON over
// gRPC at RunMethod. It is not the engine's own language host protocol, so a
// stock engine binary cannot run inline programs: the binary set with
// auto.WithEngineBinary must dial the address passed in --client and call
// RunMethod. Programs in the work directory need no such support.
package program

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/openfroyo/autostack/pkg/engine"
)

// RunFunc is an inline program. It declares stack outputs through ctx.
type RunFunc func(ctx *Context) error

var (
	// ErrDuplicateInstance is returned when a second run starts for a session
	// that already has an active run.
	ErrDuplicateInstance = errors.New("program: another run is already active for this session")

	// ErrContextClosed is returned when a Context is used after its run ended.
	ErrContextClosed = errors.New("program: context used after its run completed")
)

// Context is the program's view of the stack being deployed. It is valid only
// for the duration of the run it was created for.
type Context struct {
	ctx      context.Context
	session  string
	project  string
	stack    string
	dryRun   bool
	config   map[string]string
	secrets  map[string]bool
	mu       sync.Mutex
	outputs  engine.OutputMap
	closed   bool
	registry *Registry
}

func newContext(ctx context.Context, session string, registry *Registry, req *RunRequest) *Context {
	secrets := make(map[string]bool, len(req.SecretKeys))
	for _, k := range req.SecretKeys {
		secrets[k] = true
	}
	config := make(map[string]string, len(req.Config))
	for k, v := range req.Config {
		config[k] = v
	}
	return &Context{
		ctx:      ctx,
		session:  session,
		project:  req.Project,
		stack:    req.Stack,
		dryRun:   req.DryRun,
		config:   config,
		secrets:  secrets,
		outputs:  engine.OutputMap{},
		registry: registry,
	}
}

// Context returns the context of the engine callback.
func (c *Context) Context() context.Context {
	return c.ctx
}

// Project returns the project name.
func (c *Context) Project() string {
	return c.project
}

// Stack returns the stack name.
func (c *Context) Stack() string {
	return c.stack
}

// DryRun is true during previews.
func (c *Context) DryRun() bool {
	return c.dryRun
}

func (c *Context) qualify(key string) string {
	if strings.Contains(key, ":") {
		return key
	}
	return c.project + ":" + key
}

// Config returns the value of key. Bare keys are looked up in the project
// namespace.
func (c *Context) Config(key string) (string, bool) {
	v, ok := c.config[c.qualify(key)]
	return v, ok
}

// RequireConfig returns the value of key or an error when it is not set.
func (c *Context) RequireConfig(key string) (string, error) {
	v, ok := c.Config(key)
	if !ok {
		return "", fmt.Errorf("missing required configuration variable %q", c.qualify(key))
	}
	return v, nil
}

// ConfigBool parses key as a boolean.
func (c *Context) ConfigBool(key string) (bool, error) {
	v, err := c.RequireConfig(key)
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(v)
}

// ConfigObject decodes the JSON value of key into target.
func (c *Context) ConfigObject(key string, target interface{}) error {
	v, err := c.RequireConfig(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(v), target); err != nil {
		return fmt.Errorf("failed to decode configuration variable %q: %w", c.qualify(key), err)
	}
	return nil
}

// IsSecret reports whether key holds a secret value.
func (c *Context) IsSecret(key string) bool {
	return c.secrets[c.qualify(key)]
}

// Export declares a stack output.
func (c *Context) Export(name string, value interface{}) error {
	return c.export(name, value, false)
}

// ExportSecret declares a stack output the engine stores encrypted.
func (c *Context) ExportSecret(name string, value interface{}) error {
	return c.export(name, value, true)
}

func (c *Context) export(name string, value interface{}, secret bool) error {
	if err := c.checkActive(); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("output name must not be empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs[name] = engine.OutputValue{Value: value, Secret: secret}
	return nil
}

// Outputs returns a copy of the declared outputs.
func (c *Context) Outputs() engine.OutputMap {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(engine.OutputMap, len(c.outputs))
	for k, v := range c.outputs {
		out[k] = v
	}
	return out
}

func (c *Context) checkActive() error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrContextClosed
	}
	if c.registry != nil && !c.registry.owns(c.session, c) {
		return ErrDuplicateInstance
	}
	return nil
}

func (c *Context) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}
