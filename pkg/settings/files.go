package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/autostack/pkg/engine"
)

// Extensions lists settings file extensions in lookup order.
var Extensions = []string{".yaml", ".yml", ".json"}

const projectBase = "Pulumi"

// Format is the encoding of a settings file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

func formatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// StackFileName returns the base name (without extension) of the settings
// file for stack. Only the last segment of a fully qualified name is used.
func StackFileName(stack string) string {
	if i := strings.LastIndex(stack, "/"); i >= 0 {
		stack = stack[i+1:]
	}
	return projectBase + "." + stack
}

// find returns the first existing file named base+ext in dir.
func find(dir, base string) (string, bool, error) {
	for _, ext := range Extensions {
		path := filepath.Join(dir, base+ext)
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, true, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}
	return filepath.Join(dir, base+Extensions[0]), false, nil
}

// ProjectPath returns the project file in dir, or the default path when none
// exists yet.
func ProjectPath(dir string) (string, bool, error) {
	return find(dir, projectBase)
}

// StackPath returns the settings file of stack in dir, or the default path
// when none exists yet.
func StackPath(dir, stack string) (string, bool, error) {
	return find(dir, StackFileName(stack))
}

// Loader reads and writes settings files and validates them.
type Loader struct {
	schemas *SchemaRegistry
}

// NewLoader creates a loader. A nil registry uses the built-in schemas.
func NewLoader(schemas *SchemaRegistry) *Loader {
	if schemas == nil {
		schemas = NewSchemaRegistry()
	}
	return &Loader{schemas: schemas}
}

// Schemas returns the registry the loader validates against.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

// LoadProject reads the project settings in dir.
func (l *Loader) LoadProject(dir string) (*Project, error) {
	path, ok, err := ProjectPath(dir)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, engine.NewNotFoundError(
			fmt.Sprintf("no project settings file found in %s", dir), nil,
		).WithCode(engine.CodeSettingsNotFound)
	}

	var p Project
	if err := decodeFile(path, &p); err != nil {
		return nil, err
	}
	if err := l.schemas.ValidateProject(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveProject writes p to dir, keeping the format of an existing file.
func (l *Loader) SaveProject(dir string, p *Project) error {
	if err := l.schemas.ValidateProject(p); err != nil {
		return err
	}
	path, _, err := ProjectPath(dir)
	if err != nil {
		return err
	}
	return encodeFile(path, p)
}

// LoadStack reads the settings of stack in dir. A missing file is reported
// as KindNotFound.
func (l *Loader) LoadStack(dir, stack string) (*Stack, error) {
	path, ok, err := StackPath(dir, stack)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, engine.NewNotFoundError(
			fmt.Sprintf("no settings file found for stack %s in %s", stack, dir), nil,
		).WithCode(engine.CodeSettingsNotFound).WithStack(stack)
	}

	var s Stack
	if err := decodeFile(path, &s); err != nil {
		return nil, err
	}
	if err := l.schemas.ValidateStack(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SaveStack writes the settings of stack to dir, keeping the format of an
// existing file.
func (l *Loader) SaveStack(dir, stack string, s *Stack) error {
	if err := l.schemas.ValidateStack(s); err != nil {
		return err
	}
	path, _, err := StackPath(dir, stack)
	if err != nil {
		return err
	}
	return encodeFile(path, s)
}

func decodeFile(path string, target interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	switch formatOf(path) {
	case FormatJSON:
		err = json.Unmarshal(data, target)
	default:
		err = yaml.Unmarshal(data, target)
	}
	if err != nil {
		return engine.NewParseError(
			fmt.Sprintf("failed to parse %s", filepath.Base(path)), err,
		).WithCode(engine.CodeInvalidSettings)
	}
	return nil
}

func encodeFile(path string, doc interface{}) error {
	var (
		data []byte
		err  error
	)
	switch formatOf(path) {
	case FormatJSON:
		data, err = json.MarshalIndent(doc, "", "    ")
		data = append(data, '\n')
	default:
		data, err = yaml.Marshal(doc)
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
