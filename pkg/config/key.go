package config

import (
	"fmt"
	"strings"

	"github.com/openfroyo/autostack/pkg/engine"
)

// QualifyKey returns key with the project namespace added when it has none.
// Keys that already carry a namespace are returned unchanged.
func QualifyKey(project, key string) string {
	if strings.Contains(key, ":") || project == "" {
		return key
	}
	return project + ":" + key
}

// SplitKey separates a qualified key into namespace and name.
func SplitKey(key string) (namespace, name string, err error) {
	idx := strings.Index(key, ":")
	if idx < 0 {
		return "", "", invalidKey(key, "missing namespace")
	}
	return key[:idx], key[idx+1:], nil
}

// ValidateKey checks a qualified key. In path mode the name may address a
// nested value (`outer.inner`, `list[0]`) and may contain quoted colons.
func ValidateKey(key string, path bool) error {
	if strings.TrimSpace(key) == "" {
		return invalidKey(key, "empty key")
	}
	namespace, name, err := SplitKey(key)
	if err != nil {
		return err
	}
	if namespace == "" {
		return invalidKey(key, "empty namespace")
	}
	if name == "" {
		return invalidKey(key, "empty name")
	}
	if strings.ContainsAny(namespace, " \t\n") {
		return invalidKey(key, "namespace contains whitespace")
	}
	if !path && strings.Contains(name, ":") {
		return invalidKey(key, "keys should be of the form <namespace>:<name>")
	}
	return nil
}

func invalidKey(key, reason string) *engine.Error {
	return engine.NewParseError(fmt.Sprintf("invalid config key %q", key), fmt.Errorf("%s", reason)).
		WithCode(engine.CodeInvalidConfigKey)
}
