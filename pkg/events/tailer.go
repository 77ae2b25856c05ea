package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/autostack/pkg/runner"
)

// Handler receives decoded events. It is invoked synchronously in emission
// order; the next line is not read until it returns.
type Handler func(EngineEvent)

// LogFileName is the name of the event log inside the tailer's directory.
const LogFileName = "events.ndjson"

// TailerOption configures a Tailer.
type TailerOption func(*Tailer)

// WithDir places the event log in dir instead of a fresh temporary directory.
// The directory is not removed on Stop.
func WithDir(dir string) TailerOption {
	return func(t *Tailer) {
		t.dir = dir
	}
}

// WithPollInterval sets how often the log is read when no file system
// notification arrives.
func WithPollInterval(d time.Duration) TailerOption {
	return func(t *Tailer) {
		t.pollInterval = d
	}
}

// Tailer follows the engine's event log for the lifetime of one engine
// process. It implements runner.Attachment: Start hands the engine an
// --event-log path and Stop drains every complete line written before the
// process exited.
type Tailer struct {
	handler      Handler
	logger       zerolog.Logger
	dir          string
	ownDir       bool
	pollInterval time.Duration

	path     string
	watcher  *fsnotify.Watcher
	file     *os.File
	decoder  *Decoder
	done     chan struct{}
	group    errgroup.Group
	stopOnce sync.Once
	stopErr  error

	mu        sync.Mutex
	delivered int
}

var _ runner.Attachment = (*Tailer)(nil)

// NewTailer creates a tailer that passes every event to handler.
func NewTailer(handler Handler, logger zerolog.Logger, opts ...TailerOption) *Tailer {
	t := &Tailer{
		handler:      handler,
		logger:       logger.With().Str("component", "event-tailer").Logger(),
		pollInterval: 100 * time.Millisecond,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Path returns the event log path once Start has run.
func (t *Tailer) Path() string {
	return t.path
}

// Delivered returns how many events reached the handler.
func (t *Tailer) Delivered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delivered
}

// Skipped returns how many lines could not be decoded. It is exact once Stop
// has returned.
func (t *Tailer) Skipped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.decoder == nil {
		return 0
	}
	return t.decoder.Skipped()
}

// Start prepares the log location and begins following it.
func (t *Tailer) Start(_ context.Context) (runner.Binding, error) {
	if t.dir == "" {
		dir, err := os.MkdirTemp("", "autostack-events-")
		if err != nil {
			return runner.Binding{}, fmt.Errorf("failed to create event log directory: %w", err)
		}
		t.dir = dir
		t.ownDir = true
	}
	t.path = filepath.Join(t.dir, LogFileName)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.cleanup()
		return runner.Binding{}, fmt.Errorf("failed to create event log watcher: %w", err)
	}
	if err := watcher.Add(t.dir); err != nil {
		watcher.Close()
		t.cleanup()
		return runner.Binding{}, fmt.Errorf("failed to watch event log directory: %w", err)
	}
	t.watcher = watcher

	t.group.Go(t.follow)

	t.logger.Debug().Str("path", t.path).Msg("Following event log")
	return runner.Binding{Args: []string{"--event-log", t.path}}, nil
}

// Stop drains the remaining events and releases the watcher and log file.
func (t *Tailer) Stop(_ context.Context) error {
	t.stopOnce.Do(func() {
		close(t.done)
		t.stopErr = t.group.Wait()
		if t.watcher != nil {
			t.watcher.Close()
		}
		t.cleanup()
		t.logger.Debug().
			Int("delivered", t.Delivered()).
			Int("skipped", t.Skipped()).
			Msg("Event log closed")
	})
	return t.stopErr
}

func (t *Tailer) follow() error {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return t.drain(true)
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return t.drain(true)
			}
			if ev.Name == t.path && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := t.drain(false); err != nil {
					return err
				}
			}
		case err, ok := <-t.watcher.Errors:
			if ok {
				t.logger.Warn().Err(err).Msg("Event log watcher error")
			}
		case <-ticker.C:
			if err := t.drain(false); err != nil {
				return err
			}
		}
	}
}

// drain delivers every complete line currently in the log. The final drain
// also delivers an unterminated last line.
func (t *Tailer) drain(final bool) error {
	if t.file == nil {
		f, err := os.Open(t.path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("failed to open event log: %w", err)
		}
		t.mu.Lock()
		t.file = f
		t.decoder = NewDecoder(f, t.logger)
		t.mu.Unlock()
	}

	for {
		ev, err := t.decoder.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return fmt.Errorf("failed to read event log: %w", err)
			}
			break
		}
		t.deliver(ev)
	}
	if final {
		if ev, ok := t.decoder.Flush(); ok {
			t.deliver(ev)
		}
	}
	return nil
}

func (t *Tailer) deliver(ev EngineEvent) {
	if t.handler != nil {
		t.handler(ev)
	}
	t.mu.Lock()
	t.delivered++
	t.mu.Unlock()
}

func (t *Tailer) cleanup() {
	if t.file != nil {
		t.file.Close()
	}
	if t.ownDir && t.dir != "" {
		os.RemoveAll(t.dir)
	}
}
