package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the structured logger handed to workspaces, stacks and
// operations. Child loggers carry the stack and operation being worked on.
type Logger struct {
	zlog zerolog.Logger
}

type loggerKey struct{}

// NewLogger builds a logger from cfg. Output is "stderr" (the default),
// "stdout" or a file path opened for append.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	out, err := openLogOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	return NewLoggerWithWriter(out, cfg), nil
}

// NewLoggerWithWriter builds a logger writing to w and ignores cfg.Output.
func NewLoggerWithWriter(w io.Writer, cfg LoggingConfig) *Logger {
	zerolog.TimeFieldFormat = timeFieldFormat(cfg.TimeFormat)

	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat(cfg.TimeFormat)}
	}

	zctx := zerolog.New(w).Level(logLevel(cfg.Level)).With().Timestamp()
	if cfg.EnableCaller {
		zctx = zctx.Caller()
	}
	zlog := zctx.Logger()

	if cfg.EnableSampling {
		zlog = zlog.Sample(&zerolog.BurstSampler{
			Burst:       uint32(cfg.SamplingInitial),
			Period:      time.Second,
			NextSampler: &zerolog.BasicSampler{N: uint32(cfg.SamplingThereafter)},
		})
	}
	return &Logger{zlog: zlog}
}

func openLogOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// NewNopLogger returns a logger that writes nothing.
func NewNopLogger() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// FromZerolog wraps zlog.
func FromZerolog(zlog zerolog.Logger) *Logger {
	return &Logger{zlog: zlog}
}

// Zerolog exposes the underlying logger to packages that log through zerolog
// events directly, such as the config store and the policy guard.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// WithContext stores l in ctx.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logger stored in ctx, or a nop logger so library
// code stays quiet unless the caller configured logging.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey{}).(*Logger); ok {
		return l
	}
	return NewNopLogger()
}

func (l *Logger) with(fn func(zerolog.Context) zerolog.Context) *Logger {
	return &Logger{zlog: fn(l.zlog.With()).Logger()}
}

// NewComponentLogger tags every entry with the component name.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("component", component) })
}

// WithStack tags every entry with the fully qualified stack name.
func (l *Logger) WithStack(stack string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("stack", stack) })
}

// WithOperation tags every entry with the operation kind and its journal id.
func (l *Logger) WithOperation(kind, id string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context {
		return c.Str("operation", kind).Str("operation_id", id)
	})
}

func (l *Logger) WithField(key string, value any) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Interface(key, value) })
}

func (l *Logger) WithError(err error) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Err(err) })
}

func (l *Logger) Debug(msg string) { l.zlog.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.zlog.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.zlog.Warn().Msg(msg) }
func (l *Logger) Error(msg string) { l.zlog.Error().Msg(msg) }

// logLevel maps a level name to zerolog. Empty and unknown names fall back to
// info.
func logLevel(name string) zerolog.Level {
	if name == "disabled" {
		return zerolog.Disabled
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func timeFieldFormat(format string) string {
	switch format {
	case "unix":
		return zerolog.TimeFormatUnix
	case "unixms":
		return zerolog.TimeFormatUnixMs
	case "unixmicro":
		return zerolog.TimeFormatUnixMicro
	default:
		return time.RFC3339
	}
}

func consoleTimeFormat(format string) string {
	if format == "unix" {
		return zerolog.TimeFormatUnix
	}
	return time.Kitchen
}
