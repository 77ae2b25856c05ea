package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/autostack/pkg/engine"
)

// reloadDelay coalesces the burst of events an editor save produces.
const reloadDelay = 500 * time.Millisecond

// Policy files are either a bare Rego module or a definition document that
// embeds one.
var policyDecoders = map[string]func([]byte, any) error{
	".json": json.Unmarshal,
	".yaml": yaml.Unmarshal,
	".yml":  yaml.Unmarshal,
}

func isPolicyFile(path string) bool {
	ext := filepath.Ext(path)
	_, ok := policyDecoders[ext]
	return ok || ext == ".rego"
}

// Loader reads policy files and reloads them when they change on disk.
type Loader struct {
	logger zerolog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{logger: logger.With().Str("component", "policy-loader").Logger()}
}

// LoadFromPaths reads every policy file named by paths. Directories are
// walked recursively in lexical order and their unreadable files are
// skipped with a warning. A missing path, or an explicitly named file that
// fails to parse, is an error.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var policies []Policy
	for _, root := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		files, explicit, err := policyFiles(root)
		if err != nil {
			return nil, err
		}
		for _, path := range files {
			p, err := l.loadFile(path)
			if err == nil {
				policies = append(policies, *p)
				continue
			}
			if explicit {
				return nil, err
			}
			l.logger.Warn().Err(err).Str("path", path).Msg("Skipping policy file")
		}
	}

	l.logger.Debug().Int("policies", len(policies)).Strs("paths", paths).Msg("Policies read")
	return policies, nil
}

// policyFiles expands root into the policy files it names. explicit is true
// when root is itself a file.
func policyFiles(root string) (files []string, explicit bool, err error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, false, engine.NewNotFoundError(fmt.Sprintf("policy path %s", root), err)
	}
	if !info.IsDir() {
		return []string{root}, true, nil
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && isPolicyFile(path) {
			files = append(files, path)
		}
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to walk policy directory %s: %w", root, err)
	}
	slices.Sort(files)
	return files, false, nil
}

func (l *Loader) loadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}

	ext := filepath.Ext(path)
	var p *Policy
	if ext == ".rego" {
		p = &Policy{
			Name:        strings.TrimSuffix(filepath.Base(path), ext),
			Description: leadingComment(string(data)),
			Rego:        string(data),
			Severity:    SeverityError,
			Enabled:     true,
		}
	} else if decode, ok := policyDecoders[ext]; ok {
		if p, err = decodeDefinition(decode, data); err != nil {
			return nil, engine.NewParseError(fmt.Sprintf("invalid policy file %s", path), err)
		}
	} else {
		return nil, engine.NewParseError(fmt.Sprintf("unsupported policy file type: %s", path), nil)
	}

	p.Source = path
	l.logger.Debug().Str("path", path).Str("policy", p.Name).Msg("Policy read")
	return p, nil
}

// decodeDefinition reads a JSON or YAML policy definition. Severity defaults
// to error.
func decodeDefinition(decode func([]byte, any) error, data []byte) (*Policy, error) {
	var p Policy
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, errors.New("policy name is required")
	}
	if p.Severity == "" {
		p.Severity = SeverityError
	}
	return &p, nil
}

// leadingComment joins the first block of # comment lines in a Rego module.
func leadingComment(content string) string {
	var parts []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "" && len(parts) == 0:
			continue
		case !strings.HasPrefix(line, "#"):
			return strings.Join(parts, " ")
		}
		if c := strings.TrimSpace(strings.TrimPrefix(line, "#")); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, " ")
}

// Watch reloads the policies under paths whenever a policy file is written,
// created or renamed, and hands them to apply. It returns once the watches
// are registered; watching stops with ctx or StopWatching.
func (l *Loader) Watch(ctx context.Context, paths []string, apply func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}
	if err := addWatches(watcher, paths); err != nil {
		_ = watcher.Close()
		return err
	}

	l.mu.Lock()
	if l.watcher != nil {
		_ = l.watcher.Close()
	}
	l.watcher = watcher
	l.mu.Unlock()

	reload := func() {
		policies, err := l.LoadFromPaths(ctx, paths)
		if err == nil {
			err = apply(policies)
		}
		if err != nil {
			l.logger.Error().Err(err).Msg("Failed to reload policies")
		}
	}
	go l.watchLoop(ctx, watcher, reload)

	l.logger.Info().Int("paths", len(paths)).Msg("Watching policy paths")
	return nil
}

// addWatches registers every directory under paths. Files are watched through
// their parent since editors replace them on save.
func addWatches(watcher *fsnotify.Watcher, paths []string) error {
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return engine.NewNotFoundError(fmt.Sprintf("policy path %s", path), err)
		}
		if !info.IsDir() {
			path = filepath.Dir(path)
		}
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return err
			}
			return watcher.Add(p)
		})
		if err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
	}
	return nil
}

func (l *Loader) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, reload func()) {
	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			if !isPolicyFile(ev.Name) {
				continue
			}
			l.logger.Debug().Str("file", ev.Name).Stringer("op", ev.Op).Msg("Policy file changed")
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(reloadDelay, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Policy watcher error")
		}
	}
}

// StopWatching closes the active watcher, if any.
func (l *Loader) StopWatching() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	l.watcher = nil
	return err
}
