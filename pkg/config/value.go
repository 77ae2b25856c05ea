package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Value is a single configuration value.
type Value struct {
	// Value is the text of the value. Objects and lists are JSON text.
	Value string `json:"value"`

	// Secret marks values the engine encrypts at rest and masks in output.
	Secret bool `json:"secret"`

	// Object marks structured values. The engine reports them with an
	// objectValue field; ObjectValue sets it for values built locally.
	Object bool `json:"-"`
}

// wireValue is the shape of a value in the engine's config --json output.
type wireValue struct {
	Value       string          `json:"value"`
	Secret      bool            `json:"secret"`
	ObjectValue json.RawMessage `json:"objectValue,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	w := wireValue{Value: v.Value, Secret: v.Secret}
	if v.Object && json.Valid([]byte(v.Value)) {
		w.ObjectValue = json.RawMessage(v.Value)
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler. When the engine omits value for
// an object, Value is filled from objectValue.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*v = Value{Value: w.Value, Secret: w.Secret}
	if len(w.ObjectValue) == 0 || bytes.Equal(w.ObjectValue, []byte("null")) {
		return nil
	}
	v.Object = true
	if v.Value == "" {
		var buf bytes.Buffer
		if err := json.Compact(&buf, w.ObjectValue); err != nil {
			return err
		}
		v.Value = buf.String()
	}
	return nil
}

// Map maps fully qualified keys to values.
type Map map[string]Value

// StringValue returns a plain text value.
func StringValue(s string) Value {
	return Value{Value: s}
}

// SecretValue returns a secret text value.
func SecretValue(s string) Value {
	return Value{Value: s, Secret: true}
}

// BoolValue returns a plain boolean value.
func BoolValue(b bool) Value {
	return Value{Value: strconv.FormatBool(b)}
}

// NumberValue returns a plain numeric value.
func NumberValue(f float64) Value {
	return Value{Value: strconv.FormatFloat(f, 'f', -1, 64)}
}

// ObjectValue encodes v as JSON text.
func ObjectValue(v interface{}) (Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("failed to encode config object: %w", err)
	}
	return Value{Value: string(data), Object: true}, nil
}

// IsObject reports whether the value is structured. Plain text that happens
// to look like JSON is not an object.
func (v Value) IsObject() bool {
	return v.Object
}

// Unmarshal decodes the JSON text of the value into target.
func (v Value) Unmarshal(target interface{}) error {
	if err := json.Unmarshal([]byte(v.Value), target); err != nil {
		return fmt.Errorf("failed to decode config value: %w", err)
	}
	return nil
}

// Bool parses the value as a boolean.
func (v Value) Bool() (bool, error) {
	return strconv.ParseBool(v.Value)
}

// Keys returns the map keys in sorted order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy of the map. A nil map clones to an empty map.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Qualify returns a copy of the map with every key qualified by project.
func (m Map) Qualify(project string) Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[QualifyKey(project, k)] = v
	}
	return out
}
