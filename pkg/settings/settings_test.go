package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/autostack/pkg/engine"
)

const projectYAML = `name: testproj
runtime: go
description: A minimal Go program
`

const projectJSON = `{
    "name": "testproj",
    "runtime": "go",
    "description": "A minimal Go program"
}
`

const stackYAML = `secretsprovider: abc
config:
  plain: plain
  secure:
    secure: secret
  nested:
    inner: value
`

const stackJSON = `{
    "secretsprovider": "abc",
    "config": {
        "plain": "plain",
        "secure": {"secure": "secret"},
        "nested": {"inner": "value"}
    }
}
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func TestLoader_ProjectAndStackFormats(t *testing.T) {
	tests := []struct {
		ext     string
		project string
		stack   string
	}{
		{ext: ".yaml", project: projectYAML, stack: stackYAML},
		{ext: ".yml", project: projectYAML, stack: stackYAML},
		{ext: ".json", project: projectJSON, stack: stackJSON},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "Pulumi"+tt.ext, tt.project)
			writeFile(t, dir, "Pulumi.dev"+tt.ext, tt.stack)

			loader := NewLoader(nil)
			p, err := loader.LoadProject(dir)
			if err != nil {
				t.Fatalf("LoadProject failed: %v", err)
			}
			if p.Name != "testproj" || p.Runtime.Name != "go" || p.Description != "A minimal Go program" {
				t.Errorf("Unexpected project: %+v", p)
			}

			s, err := loader.LoadStack(dir, "org/testproj/dev")
			if err != nil {
				t.Fatalf("LoadStack failed: %v", err)
			}
			if s.SecretsProvider != "abc" {
				t.Errorf("Expected secrets provider abc, got %q", s.SecretsProvider)
			}
			if s.Config["plain"].Value != "plain" {
				t.Errorf("Unexpected plain value: %+v", s.Config["plain"])
			}
			if !s.Config["secure"].IsSecure() || s.Config["secure"].Secure != "secret" {
				t.Errorf("Unexpected secure value: %+v", s.Config["secure"])
			}
			if !s.Config["nested"].IsObject() {
				t.Errorf("Expected nested object, got %+v", s.Config["nested"])
			}
		})
	}
}

func TestLoader_LookupOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Pulumi.json", `{"name": "fromjson", "runtime": "go"}`)
	writeFile(t, dir, "Pulumi.yml", "name: fromyml\nruntime: go\n")

	p, err := NewLoader(nil).LoadProject(dir)
	if err != nil {
		t.Fatalf("LoadProject failed: %v", err)
	}
	if p.Name != "fromyml" {
		t.Errorf("Expected .yml to win over .json, got %q", p.Name)
	}
}

func TestLoader_Errors(t *testing.T) {
	loader := NewLoader(nil)

	t.Run("missing project", func(t *testing.T) {
		_, err := loader.LoadProject(t.TempDir())
		if !engine.IsNotFound(err) {
			t.Errorf("Expected not found, got %v", err)
		}
	})

	t.Run("missing stack", func(t *testing.T) {
		_, err := loader.LoadStack(t.TempDir(), "dev")
		if !engine.IsNotFound(err) {
			t.Errorf("Expected not found, got %v", err)
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "Pulumi.yaml", "name: [unterminated\n")
		_, err := loader.LoadProject(dir)
		if !engine.IsParse(err) {
			t.Errorf("Expected parse error, got %v", err)
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "Pulumi.json", "{")
		_, err := loader.LoadProject(dir)
		if !engine.IsParse(err) {
			t.Errorf("Expected parse error, got %v", err)
		}
	})

	t.Run("missing name", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "Pulumi.yaml", "runtime: go\n")
		_, err := loader.LoadProject(dir)
		if !engine.IsParse(err) || engine.CodeOf(err) != engine.CodeInvalidSettings {
			t.Errorf("Expected invalid settings, got %v", err)
		}
	})

	t.Run("name with colon", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "Pulumi.yaml", "name: \"a:b\"\nruntime: go\n")
		_, err := loader.LoadProject(dir)
		if !engine.IsParse(err) {
			t.Errorf("Expected schema violation, got %v", err)
		}
	})
}

func TestLoader_SavePreservesFormat(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Pulumi.json", projectJSON)
	loader := NewLoader(nil)

	p, err := loader.LoadProject(dir)
	if err != nil {
		t.Fatalf("LoadProject failed: %v", err)
	}
	p.Description = "updated"
	if err := loader.SaveProject(dir, p); err != nil {
		t.Fatalf("SaveProject failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "Pulumi.yaml")); !os.IsNotExist(err) {
		t.Errorf("Expected no yaml file to be created")
	}
	reloaded, err := loader.LoadProject(dir)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Description != "updated" {
		t.Errorf("Expected updated description, got %q", reloaded.Description)
	}
}

func TestLoader_SaveDefaultsToYAML(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(nil)

	p := &Project{Name: "inline", Runtime: NewRuntime("go")}
	if err := loader.SaveProject(dir, p); err != nil {
		t.Fatalf("SaveProject failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "Pulumi.yaml"))
	if err != nil {
		t.Fatalf("expected Pulumi.yaml: %v", err)
	}
	if !strings.Contains(string(data), "runtime: go") {
		t.Errorf("Expected short runtime form, got:\n%s", data)
	}

	s := &Stack{Config: map[string]StackValue{
		"inline:plain":  PlainValue("v"),
		"inline:secret": SecureValue("v1:abc"),
	}}
	if err := loader.SaveStack(dir, "org/inline/dev", s); err != nil {
		t.Fatalf("SaveStack failed: %v", err)
	}
	loaded, err := loader.LoadStack(dir, "dev")
	if err != nil {
		t.Fatalf("LoadStack failed: %v", err)
	}
	if loaded.Config["inline:secret"].Secure != "v1:abc" || loaded.Config["inline:plain"].Value != "v" {
		t.Errorf("Unexpected round trip: %+v", loaded.Config)
	}
}

func TestRuntime_LongForm(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Pulumi.yaml", "name: proj\nruntime:\n  name: go\n  options:\n    binary: ./bin/app\n")
	loader := NewLoader(nil)

	p, err := loader.LoadProject(dir)
	if err != nil {
		t.Fatalf("LoadProject failed: %v", err)
	}
	if p.Runtime.Name != "go" || p.Runtime.Options["binary"] != "./bin/app" {
		t.Errorf("Unexpected runtime: %+v", p.Runtime)
	}

	if err := loader.SaveProject(dir, p); err != nil {
		t.Fatalf("SaveProject failed: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "Pulumi.yaml"))
	if !strings.Contains(string(data), "options:") {
		t.Errorf("Expected long runtime form to be preserved, got:\n%s", data)
	}
}

func TestSchemaRegistry(t *testing.T) {
	sr := NewSchemaRegistry()

	names := sr.Names()
	if len(names) != 2 || names[0] != ProjectSchema || names[1] != StackSchema {
		t.Errorf("Unexpected built-in schemas: %v", names)
	}

	if err := sr.Register("#Extra: {size: int & >0}"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := sr.Validate("#Extra", map[string]int{"size": 3}); err != nil {
		t.Errorf("Expected valid document, got %v", err)
	}
	if err := sr.Validate("#Extra", map[string]int{"size": 0}); err == nil {
		t.Errorf("Expected constraint violation")
	}
	if err := sr.Validate("#Missing", nil); err == nil {
		t.Errorf("Expected unknown schema error")
	}
	if err := sr.Register("plain: 1"); err == nil {
		t.Errorf("Expected error for schema without definitions")
	}
}

func TestLoader_CustomSchemaIntegerConfig(t *testing.T) {
	sr := NewSchemaRegistry()
	if err := sr.Register("#Project: {name: string, config?: {replicas?: int & >0}, ...}"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	loader := NewLoader(sr)

	tests := []struct {
		name     string
		replicas string
		wantErr  bool
	}{
		{name: "int", replicas: "3"},
		{name: "below minimum", replicas: "0", wantErr: true},
		{name: "float", replicas: "1.5", wantErr: true},
		{name: "string", replicas: "three", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "Pulumi.yaml", "name: testproj\nruntime: go\nconfig:\n  replicas: "+tt.replicas+"\n")

			_, err := loader.LoadProject(dir)
			if tt.wantErr {
				if !engine.IsParse(err) {
					t.Errorf("Expected parse error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Expected valid project, got %v", err)
			}
		})
	}
}
