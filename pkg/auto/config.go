package auto

import (
	"context"
	"strings"

	"github.com/openfroyo/autostack/pkg/config"
)

// engineConfig is the config.Backend that reads and writes stack
// configuration through engine commands.
type engineConfig struct {
	ws *LocalWorkspace
}

var _ config.Backend = engineConfig{}

func pathArgs(args []string, path bool) []string {
	if path {
		return append(args, "--path")
	}
	return args
}

func (b engineConfig) Get(ctx context.Context, stack, key string, path bool) (config.Value, error) {
	var v config.Value
	args := pathArgs([]string{"config", "get", key, "--json", "--stack", stack}, path)
	if err := b.ws.runJSON(ctx, stack, "config get", &v, args...); err != nil {
		return config.Value{}, err
	}
	return v, nil
}

func (b engineConfig) GetAll(ctx context.Context, stack string) (config.Map, error) {
	values := config.Map{}
	if err := b.ws.runJSON(ctx, stack, "config", &values,
		"config", "--json", "--show-secrets", "--stack", stack); err != nil {
		return nil, err
	}
	return values, nil
}

func (b engineConfig) Set(ctx context.Context, stack, key string, value config.Value, path bool) error {
	args := pathArgs([]string{"config", "set", key, "--stack", stack}, path)
	if value.Secret {
		args = append(args, "--secret")
	} else {
		args = append(args, "--plaintext")
	}
	// Values may start with a dash; everything after -- is positional.
	args = append(args, "--", value.Value)

	if _, err := b.ws.runCommand(ctx, stack, "config set", args...); err != nil {
		return err
	}
	b.ws.recordConfigWrite(ctx, stack, "set", []string{key})
	return nil
}

func (b engineConfig) SetAll(ctx context.Context, stack string, values config.Map, path bool) error {
	args := pathArgs([]string{"config", "set-all", "--stack", stack}, path)
	for _, key := range values.Keys() {
		flag := "--plaintext"
		if values[key].Secret {
			flag = "--secret"
		}
		args = append(args, flag, key+"="+values[key].Value)
	}

	if _, err := b.ws.runCommand(ctx, stack, "config set-all", args...); err != nil {
		return err
	}
	b.ws.recordConfigWrite(ctx, stack, "set", values.Keys())
	return nil
}

func (b engineConfig) Remove(ctx context.Context, stack, key string, path bool) error {
	args := pathArgs([]string{"config", "rm", key, "--stack", stack}, path)
	if _, err := b.ws.runCommand(ctx, stack, "config rm", args...); err != nil {
		return err
	}
	b.ws.recordConfigWrite(ctx, stack, "remove", []string{key})
	return nil
}

func (b engineConfig) RemoveAll(ctx context.Context, stack string, keys []string, path bool) error {
	args := pathArgs([]string{"config", "rm-all", "--stack", stack}, path)
	if _, err := b.ws.runCommand(ctx, stack, "config rm-all", append(args, keys...)...); err != nil {
		return err
	}
	b.ws.recordConfigWrite(ctx, stack, "remove", keys)
	return nil
}

// recordConfigWrite counts a config write and journals the keys it touched.
// Values are never journaled.
func (w *LocalWorkspace) recordConfigWrite(ctx context.Context, stack, op string, keys []string) {
	w.tel.Metrics.RecordConfigWrite(op, len(keys))

	action := "config.set"
	if op == "remove" {
		action = "config.removed"
	}
	w.audit(ctx, action, stack, map[string]interface{}{"keys": keys})
}

// ConfigStore returns a config store for stack that qualifies bare keys with
// the workspace's project name.
func (w *LocalWorkspace) ConfigStore(ctx context.Context, stack string) (*config.Store, error) {
	p, err := w.ProjectSettings(ctx)
	if err != nil {
		return nil, err
	}
	return config.NewStore(engineConfig{ws: w}, p.Name, stack, w.logger.Zerolog()), nil
}

// GetConfig returns the value of key on stack. A missing key fails with
// KindNotFound.
func (w *LocalWorkspace) GetConfig(ctx context.Context, stack, key string, opts ...config.Option) (config.Value, error) {
	store, err := w.ConfigStore(ctx, stack)
	if err != nil {
		return config.Value{}, err
	}
	return store.Get(ctx, key, opts...)
}

// GetAllConfig returns every config value of stack, secrets unmasked.
func (w *LocalWorkspace) GetAllConfig(ctx context.Context, stack string) (config.Map, error) {
	store, err := w.ConfigStore(ctx, stack)
	if err != nil {
		return nil, err
	}
	return store.GetAll(ctx)
}

// SetConfig sets key on stack.
func (w *LocalWorkspace) SetConfig(ctx context.Context, stack, key string, value config.Value, opts ...config.Option) error {
	store, err := w.ConfigStore(ctx, stack)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, value, opts...)
}

// SetAllConfig sets every value on stack in one engine call.
func (w *LocalWorkspace) SetAllConfig(ctx context.Context, stack string, values config.Map, opts ...config.Option) error {
	store, err := w.ConfigStore(ctx, stack)
	if err != nil {
		return err
	}
	return store.SetAll(ctx, values, opts...)
}

// RemoveConfig removes key from stack.
func (w *LocalWorkspace) RemoveConfig(ctx context.Context, stack, key string, opts ...config.Option) error {
	store, err := w.ConfigStore(ctx, stack)
	if err != nil {
		return err
	}
	return store.Remove(ctx, key, opts...)
}

// RemoveAllConfig removes the given keys from stack in one engine call.
func (w *LocalWorkspace) RemoveAllConfig(ctx context.Context, stack string, keys []string, opts ...config.Option) error {
	store, err := w.ConfigStore(ctx, stack)
	if err != nil {
		return err
	}
	return store.RemoveKeys(ctx, keys, opts...)
}

// RefreshConfig replaces the local config of stack with the config recorded
// by its last update and returns the result.
func (w *LocalWorkspace) RefreshConfig(ctx context.Context, stack string) (config.Map, error) {
	if _, err := w.runCommand(ctx, stack, "config refresh",
		"config", "refresh", "--force", "--stack", stack); err != nil {
		return nil, err
	}
	return w.GetAllConfig(ctx, stack)
}

// GetTag returns the value of a stack tag.
func (w *LocalWorkspace) GetTag(ctx context.Context, stack, key string) (string, error) {
	res, err := w.runCommand(ctx, stack, "stack tag get", "stack", "tag", "get", key, "--stack", stack)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// SetTag sets a stack tag.
func (w *LocalWorkspace) SetTag(ctx context.Context, stack, key, value string) error {
	_, err := w.runCommand(ctx, stack, "stack tag set",
		"stack", "tag", "set", key, value, "--stack", stack)
	return err
}

// RemoveTag removes a stack tag.
func (w *LocalWorkspace) RemoveTag(ctx context.Context, stack, key string) error {
	_, err := w.runCommand(ctx, stack, "stack tag rm", "stack", "tag", "rm", key, "--stack", stack)
	return err
}

// ListTags returns every tag of stack, including the ones the engine sets
// itself.
func (w *LocalWorkspace) ListTags(ctx context.Context, stack string) (map[string]string, error) {
	tags := map[string]string{}
	if err := w.runJSON(ctx, stack, "stack tag ls", &tags,
		"stack", "tag", "ls", "--json", "--stack", stack); err != nil {
		return nil, err
	}
	return tags, nil
}
