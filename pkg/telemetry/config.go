package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config selects the logging, tracing, metrics and notification backends
// used by a workspace and the CLI.
type Config struct {
	ServiceName    string `validate:"required"`
	ServiceVersion string `validate:"required"`
	Environment    string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig

	// ResourceAttributes are attached to every exported span.
	ResourceAttributes map[string]string
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `validate:"oneof=console json"`

	// Output is stdout, stderr or a file path.
	Output string

	EnableCaller bool

	// With EnableSampling, SamplingInitial entries per second are kept and
	// then every SamplingThereafter-th one.
	EnableSampling     bool
	SamplingInitial    int `validate:"gte=0"`
	SamplingThereafter int `validate:"gte=0"`

	// TimeFormat is unix, unixms, unixmicro or rfc3339.
	TimeFormat string
}

// TracingConfig configures span export for operations and engine calls.
type TracingConfig struct {
	Enabled  bool
	Exporter string `validate:"oneof=otlp stdout none"`

	// Endpoint is the OTLP gRPC collector address, such as localhost:4317.
	Endpoint string `validate:"required_if=Enabled true Exporter otlp"`

	SamplingRate       float64 `validate:"gte=0,lte=1"`
	MaxExportBatchSize int     `validate:"gte=0"`
	ExportTimeout      time.Duration
	Headers            map[string]string
	Insecure           bool
}

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	Enabled bool

	// ListenAddress serves Path over HTTP. Empty keeps the collectors in
	// process only.
	ListenAddress string
	Path          string
	Namespace     string

	// DefaultHistogramBuckets are operation and engine call latency buckets
	// in seconds.
	DefaultHistogramBuckets []float64
}

// EventsConfig configures stack and operation notifications.
type EventsConfig struct {
	Enabled      bool
	BufferSize   int `validate:"required_if=Enabled true,gte=0"`
	MaxBatchSize int `validate:"gte=0"`
	EnableAsync  bool
}

// DefaultConfig is what the CLI starts from: console logs on stderr,
// in-process metrics and no span export.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "autostack",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            map[string]string{},
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "autostack",
			// engine runs range from sub-second previews to long destroys
			DefaultHistogramBuckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 900},
		},
		Events: EventsConfig{
			Enabled:      true,
			BufferSize:   256,
			MaxBatchSize: 32,
		},
		ResourceAttributes: map[string]string{},
	}
}

// ProductionConfig suits long-running services that drive many stacks.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Format = "json"
	cfg.Logging.EnableSampling = true
	cfg.Logging.TimeFormat = "unix"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.SamplingRate = 0.1
	cfg.Tracing.Insecure = false
	cfg.Metrics.ListenAddress = ":9090"
	cfg.Events.EnableAsync = true
	return cfg
}

// DevelopmentConfig logs at debug level with callers and prints spans to
// stdout.
func DevelopmentConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.EnableCaller = true
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "stdout"
	return cfg
}

var configValidator = validator.New()

// Validate reports every invalid field in one error.
func (c *Config) Validate() error {
	err := configValidator.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid telemetry config: %s", strings.Join(msgs, "; "))
}
