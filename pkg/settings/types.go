// Package settings reads and writes project and stack settings files
// (Pulumi.yaml, Pulumi.<stack>.yaml and their .yml/.json variants).
package settings

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Project describes a project settings file.
type Project struct {
	// Name is the project name
	Name string `yaml:"name" json:"name" validate:"required"`

	// Runtime is the language runtime the engine launches the program with
	Runtime Runtime `yaml:"runtime" json:"runtime"`

	// Main is an optional path to the program entry point
	Main string `yaml:"main,omitempty" json:"main,omitempty"`

	// Description is a human-readable description
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Backend overrides where state is stored
	Backend *Backend `yaml:"backend,omitempty" json:"backend,omitempty"`

	// Config declares project-level configuration
	Config map[string]interface{} `yaml:"config,omitempty" json:"config,omitempty"`
}

// Backend configures the state backend.
type Backend struct {
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
}

// Runtime is either a bare runtime name or a name with options. It is written
// back in the short form when there are no options.
type Runtime struct {
	Name    string                 `validate:"required"`
	Options map[string]interface{} `validate:"-"`
}

type runtimeLong struct {
	Name    string                 `yaml:"name" json:"name"`
	Options map[string]interface{} `yaml:"options,omitempty" json:"options,omitempty"`
}

// NewRuntime returns a runtime without options.
func NewRuntime(name string) Runtime {
	return Runtime{Name: name}
}

// MarshalYAML implements yaml.Marshaler.
func (r Runtime) MarshalYAML() (interface{}, error) {
	if len(r.Options) == 0 {
		return r.Name, nil
	}
	return runtimeLong{Name: r.Name, Options: r.Options}, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *Runtime) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		r.Name = node.Value
		r.Options = nil
		return nil
	case yaml.MappingNode:
		var long runtimeLong
		if err := node.Decode(&long); err != nil {
			return err
		}
		r.Name, r.Options = long.Name, long.Options
		return nil
	default:
		return fmt.Errorf("runtime must be a string or a mapping with name and options")
	}
}

// MarshalJSON implements json.Marshaler.
func (r Runtime) MarshalJSON() ([]byte, error) {
	if len(r.Options) == 0 {
		return json.Marshal(r.Name)
	}
	return json.Marshal(runtimeLong{Name: r.Name, Options: r.Options})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Runtime) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		r.Name, r.Options = name, nil
		return nil
	}
	var long runtimeLong
	if err := json.Unmarshal(data, &long); err != nil {
		return fmt.Errorf("runtime must be a string or an object with name and options: %w", err)
	}
	r.Name, r.Options = long.Name, long.Options
	return nil
}

// Stack describes a stack settings file.
type Stack struct {
	SecretsProvider string                `yaml:"secretsprovider,omitempty" json:"secretsprovider,omitempty"`
	EncryptedKey    string                `yaml:"encryptedkey,omitempty" json:"encryptedkey,omitempty"`
	EncryptionSalt  string                `yaml:"encryptionsalt,omitempty" json:"encryptionsalt,omitempty"`
	Config          map[string]StackValue `yaml:"config,omitempty" json:"config,omitempty"`
}

// StackValue is one entry of a stack's config: a plain value, an encrypted
// {secure: ...} value, or a structured object.
type StackValue struct {
	// Value holds plain scalar values
	Value string

	// Secure holds the ciphertext of a secret value
	Secure string

	// Object holds structured values
	Object interface{}
}

// PlainValue returns a plain stack value.
func PlainValue(v string) StackValue {
	return StackValue{Value: v}
}

// SecureValue returns an encrypted stack value.
func SecureValue(ciphertext string) StackValue {
	return StackValue{Secure: ciphertext}
}

// IsSecure reports whether the value is encrypted.
func (v StackValue) IsSecure() bool {
	return v.Secure != ""
}

// IsObject reports whether the value is structured.
func (v StackValue) IsObject() bool {
	return v.Object != nil
}

func (v StackValue) encode() interface{} {
	switch {
	case v.Secure != "":
		return map[string]string{"secure": v.Secure}
	case v.Object != nil:
		return v.Object
	default:
		return v.Value
	}
}

// MarshalYAML implements yaml.Marshaler.
func (v StackValue) MarshalYAML() (interface{}, error) {
	return v.encode(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (v *StackValue) UnmarshalYAML(node *yaml.Node) error {
	*v = StackValue{}
	switch node.Kind {
	case yaml.ScalarNode:
		v.Value = node.Value
		return nil
	case yaml.MappingNode:
		if len(node.Content) == 2 && node.Content[0].Value == "secure" && node.Content[1].Kind == yaml.ScalarNode {
			v.Secure = node.Content[1].Value
			return nil
		}
	}
	var obj interface{}
	if err := node.Decode(&obj); err != nil {
		return err
	}
	v.Object = obj
	return nil
}

// MarshalJSON implements json.Marshaler.
func (v StackValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.encode())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *StackValue) UnmarshalJSON(data []byte) error {
	*v = StackValue{}
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch val := raw.(type) {
	case string:
		v.Value = val
	case nil:
	case bool, float64:
		v.Value = string(data)
	case map[string]interface{}:
		if s, ok := val["secure"].(string); ok && len(val) == 1 {
			v.Secure = s
			return nil
		}
		v.Object = val
	default:
		v.Object = val
	}
	return nil
}
