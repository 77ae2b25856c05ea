package program

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/autostack/pkg/telemetry"
)

// DefaultScriptTimeout bounds a starlark program that ignores cancellation.
const DefaultScriptTimeout = 30 * time.Second

// FromStarlark returns a RunFunc that executes a starlark script. The script
// sees these builtins:
//
//	project()                      project name
//	stack()                        stack name
//	dry_run()                      True during previews
//	config(key, default=None)      config value or default
//	require_config(key)            config value, fails when unset
//	is_secret(key)                 whether key holds a secret
//	export(name, value)            declare an output
//	export_secret(name, value)     declare a secret output
func FromStarlark(name, script string) RunFunc {
	return FromStarlarkWithTimeout(name, script, DefaultScriptTimeout)
}

// FromStarlarkWithTimeout is FromStarlark with an explicit timeout.
func FromStarlarkWithTimeout(name, script string, timeout time.Duration) RunFunc {
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}
	return func(ctx *Context) error {
		logger := telemetry.FromContext(ctx.Context()).WithField("program", name)
		thread := &starlark.Thread{
			Name:  name,
			Print: func(_ *starlark.Thread, msg string) { logger.Debug(msg) },
		}

		timer := time.AfterFunc(timeout, func() {
			thread.Cancel(fmt.Sprintf("execution timeout after %v", timeout))
		})
		defer timer.Stop()

		stopCancel := context.AfterFunc(ctx.Context(), func() {
			thread.Cancel(context.Cause(ctx.Context()).Error())
		})
		defer stopCancel()

		if _, err := starlark.ExecFile(thread, name, script, builtins(ctx)); err != nil {
			return fmt.Errorf("starlark program %s failed: %w", name, err)
		}
		return nil
	}
}

func builtins(ctx *Context) starlark.StringDict {
	return starlark.StringDict{
		"struct":  starlarkstruct.Default,
		"project": nullary("project", func() starlark.Value { return starlark.String(ctx.Project()) }),
		"stack":   nullary("stack", func() starlark.Value { return starlark.String(ctx.Stack()) }),
		"dry_run": nullary("dry_run", func() starlark.Value { return starlark.Bool(ctx.DryRun()) }),
		"config": starlark.NewBuiltin("config", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var key string
			var fallback starlark.Value = starlark.None
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "key", &key, "default?", &fallback); err != nil {
				return nil, err
			}
			if v, ok := ctx.Config(key); ok {
				return starlark.String(v), nil
			}
			return fallback, nil
		}),
		"require_config": keyed("require_config", func(key string) (starlark.Value, error) {
			v, err := ctx.RequireConfig(key)
			return starlark.String(v), err
		}),
		"is_secret": keyed("is_secret", func(key string) (starlark.Value, error) {
			return starlark.Bool(ctx.IsSecret(key)), nil
		}),
		"export":        exportBuiltin("export", ctx.Export),
		"export_secret": exportBuiltin("export_secret", ctx.ExportSecret),
	}
}

func nullary(name string, fn func() starlark.Value) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
			return nil, err
		}
		return fn(), nil
	})
}

func keyed(name string, fn func(key string) (starlark.Value, error)) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var key string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "key", &key); err != nil {
			return nil, err
		}
		v, err := fn(key)
		if err != nil {
			return nil, err
		}
		return v, nil
	})
}

func exportBuiltin(name string, export func(string, any) error) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var output string
		var value starlark.Value
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &output, "value", &value); err != nil {
			return nil, err
		}
		v, err := toOutputValue(value)
		if err != nil {
			return nil, fmt.Errorf("%s: output %s: %w", b.Name(), output, err)
		}
		if err := export(output, v); err != nil {
			return nil, err
		}
		return starlark.None, nil
	})
}

// toOutputValue converts a starlark value into the JSON-compatible shape
// outputs are stored in. Lists and tuples become slices; dicts and structs
// become maps with string keys.
func toOutputValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return i, nil
		}
		return nil, fmt.Errorf("integer %s overflows int64", val)
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case starlark.Bytes:
		return string(val), nil
	case starlark.Indexable: // list, tuple
		out := make([]any, 0, val.Len())
		for i := range val.Len() {
			item, err := toOutputValue(val.Index(i))
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out = append(out, item)
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]any, val.Len())
		for _, kv := range val.Items() {
			key, ok := starlark.AsString(kv[0])
			if !ok {
				return nil, fmt.Errorf("dict key %s is not a string", kv[0])
			}
			item, err := toOutputValue(kv[1])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = item
		}
		return out, nil
	case *starlarkstruct.Struct:
		out := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				return nil, err
			}
			if out[name], err = toOutputValue(attr); err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type %s", v.Type())
	}
}
