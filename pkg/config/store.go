package config

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/autostack/pkg/engine"
)

// Backend persists configuration for named stacks. Keys passed to a Backend
// are always fully qualified.
type Backend interface {
	Get(ctx context.Context, stack, key string, path bool) (Value, error)
	GetAll(ctx context.Context, stack string) (Map, error)
	Set(ctx context.Context, stack, key string, value Value, path bool) error
	SetAll(ctx context.Context, stack string, values Map, path bool) error
	Remove(ctx context.Context, stack, key string, path bool) error
	RemoveAll(ctx context.Context, stack string, keys []string, path bool) error
}

// Option configures a single store call.
type Option func(*callOptions)

type callOptions struct {
	path bool
}

// WithPath treats keys as paths into structured values (`outer.inner`).
func WithPath() Option {
	return func(o *callOptions) {
		o.path = true
	}
}

func applyOptions(opts []Option) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Store reads and writes the configuration of one stack.
type Store struct {
	backend Backend
	project string
	stack   string
	logger  zerolog.Logger
}

// NewStore creates a store for stack in project.
func NewStore(backend Backend, project, stack string, logger zerolog.Logger) *Store {
	return &Store{
		backend: backend,
		project: project,
		stack:   stack,
		logger:  logger.With().Str("component", "config-store").Str("stack", stack).Logger(),
	}
}

// Stack returns the stack the store is bound to.
func (s *Store) Stack() string {
	return s.stack
}

// Project returns the namespace used to qualify bare keys.
func (s *Store) Project() string {
	return s.project
}

// Get returns the value for key. A missing key is a NotFound error.
func (s *Store) Get(ctx context.Context, key string, opts ...Option) (Value, error) {
	o := applyOptions(opts)
	qualified := QualifyKey(s.project, key)
	if err := ValidateKey(qualified, o.path); err != nil {
		return Value{}, err
	}
	v, err := s.backend.Get(ctx, s.stack, qualified, o.path)
	if err != nil {
		return Value{}, err
	}
	return v, nil
}

// GetAll returns every stored value keyed by qualified key. The map is never
// nil, even for a stack without configuration.
func (s *Store) GetAll(ctx context.Context) (Map, error) {
	values, err := s.backend.GetAll(ctx, s.stack)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = Map{}
	}
	return values, nil
}

// Set stores a single value. The secret flag is passed through unchanged.
func (s *Store) Set(ctx context.Context, key string, value Value, opts ...Option) error {
	o := applyOptions(opts)
	qualified := QualifyKey(s.project, key)
	if err := ValidateKey(qualified, o.path); err != nil {
		return err
	}
	if err := s.backend.Set(ctx, s.stack, qualified, value, o.path); err != nil {
		return err
	}
	s.logger.Debug().Str("key", qualified).Bool("secret", value.Secret).Msg("Config value set")
	return nil
}

// SetAll stores every value in one backend call. Invalid keys are rejected
// before anything is written; the returned *SetAllError names each of them.
func (s *Store) SetAll(ctx context.Context, values Map, opts ...Option) error {
	o := applyOptions(opts)
	qualified, failed := s.qualifyAll(values, o.path)
	if len(failed) > 0 {
		return &SetAllError{Stack: s.stack, Failed: failed}
	}
	if len(qualified) == 0 {
		return nil
	}
	if err := s.backend.SetAll(ctx, s.stack, qualified, o.path); err != nil {
		failed = make(map[string]error, len(qualified))
		for key := range qualified {
			failed[key] = err
		}
		return &SetAllError{Stack: s.stack, Failed: failed}
	}
	s.logger.Debug().Int("count", len(qualified)).Msg("Config values set")
	return nil
}

// Remove deletes key. Removing a key that is not set is not an error unless
// the backend reports one.
func (s *Store) Remove(ctx context.Context, key string, opts ...Option) error {
	o := applyOptions(opts)
	qualified := QualifyKey(s.project, key)
	if err := ValidateKey(qualified, o.path); err != nil {
		return err
	}
	return s.backend.Remove(ctx, s.stack, qualified, o.path)
}

// RemoveKeys deletes the given keys in one backend call.
func (s *Store) RemoveKeys(ctx context.Context, keys []string, opts ...Option) error {
	o := applyOptions(opts)
	qualified := make([]string, 0, len(keys))
	for _, key := range keys {
		q := QualifyKey(s.project, key)
		if err := ValidateKey(q, o.path); err != nil {
			return err
		}
		qualified = append(qualified, q)
	}
	if len(qualified) == 0 {
		return nil
	}
	return s.backend.RemoveAll(ctx, s.stack, qualified, o.path)
}

// RemoveAll deletes every stored value.
func (s *Store) RemoveAll(ctx context.Context) error {
	current, err := s.GetAll(ctx)
	if err != nil {
		return err
	}
	if len(current) == 0 {
		return nil
	}
	return s.backend.RemoveAll(ctx, s.stack, current.Keys(), false)
}

// Apply makes the stored configuration equal to desired. Only added and
// changed keys are written and keys absent from desired are removed.
func (s *Store) Apply(ctx context.Context, desired Map) (ChangeSet, error) {
	want, failed := s.qualifyAll(desired, false)
	if len(failed) > 0 {
		return ChangeSet{}, &SetAllError{Stack: s.stack, Failed: failed}
	}
	current, err := s.GetAll(ctx)
	if err != nil {
		return ChangeSet{}, err
	}

	cs := Diff(current, want)
	if cs.Empty() {
		return cs, nil
	}

	writes := make(Map, len(cs.Added)+len(cs.Changed))
	for _, key := range append(append([]string{}, cs.Added...), cs.Changed...) {
		writes[key] = want[key]
	}
	if len(writes) > 0 {
		if err := s.SetAll(ctx, writes); err != nil {
			return cs, err
		}
	}
	if len(cs.Removed) > 0 {
		if err := s.backend.RemoveAll(ctx, s.stack, cs.Removed, false); err != nil {
			return cs, fmt.Errorf("failed to remove stale config keys: %w", err)
		}
	}

	s.logger.Info().
		Int("added", len(cs.Added)).
		Int("changed", len(cs.Changed)).
		Int("removed", len(cs.Removed)).
		Msg("Config applied")
	return cs, nil
}

// qualifyAll qualifies and validates every key. A bare key that collides with
// an explicitly qualified one is reported as failed.
func (s *Store) qualifyAll(values Map, path bool) (Map, map[string]error) {
	out := make(Map, len(values))
	failed := make(map[string]error)
	for key, v := range values {
		q := QualifyKey(s.project, key)
		if err := ValidateKey(q, path); err != nil {
			failed[key] = err
			continue
		}
		if q != key {
			if _, dup := values[q]; dup {
				failed[key] = engine.NewParseError(
					fmt.Sprintf("config key %q duplicates %q", key, q), nil).
					WithCode(engine.CodeInvalidConfigKey)
				continue
			}
		}
		out[q] = v
	}
	return out, failed
}

// SetAllError reports the keys a bulk write could not store.
type SetAllError struct {
	Stack  string
	Failed map[string]error
}

// Keys returns the failed keys in sorted order.
func (e *SetAllError) Keys() []string {
	keys := make([]string, 0, len(e.Failed))
	for k := range e.Failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *SetAllError) Error() string {
	keys := e.Keys()
	return fmt.Sprintf("failed to set %d config key(s) on stack %s: %s",
		len(keys), e.Stack, strings.Join(keys, ", "))
}

// Unwrap exposes the per-key causes to errors.Is and errors.As.
func (e *SetAllError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, k := range e.Keys() {
		errs = append(errs, e.Failed[k])
	}
	return errs
}

// IsSetAllError reports whether err is a bulk write failure.
func IsSetAllError(err error) bool {
	var e *SetAllError
	return errors.As(err, &e)
}
