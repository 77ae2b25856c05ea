package telemetry

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openfroyo/autostack/pkg/engine"
)

// Metrics provides Prometheus metrics for stack operations and engine
// invocations. A disabled Metrics is a valid no-op.
type Metrics struct {
	config MetricsConfig

	// Operation metrics
	operationsStarted   *prometheus.CounterVec
	operationsCompleted *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
	activeOperations    prometheus.Gauge

	// Engine process metrics
	engineInvocations *prometheus.CounterVec
	engineDuration    *prometheus.HistogramVec

	// Event stream metrics
	eventsDecoded *prometheus.CounterVec
	eventsSkipped prometheus.Counter

	// Configuration metrics
	configWrites *prometheus.CounterVec

	// Guard metrics
	policyDecisions *prometheus.CounterVec

	// Error metrics
	errorsByKind *prometheus.CounterVec
	errorsByCode *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics registers the collectors in a private registry so several
// workspaces in one process do not collide.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	registry := prometheus.NewRegistry()
	f := promFactory{namespace: cfg.Namespace, registry: registry}

	return &Metrics{
		config:   cfg,
		registry: registry,

		operationsStarted:   f.counterVec("operations_started_total", "Stack operations started.", "kind"),
		operationsCompleted: f.counterVec("operations_completed_total", "Stack operations finished, by status.", "kind", "status"),
		operationDuration:   f.histogramVec("operation_duration_seconds", "Wall time of stack operations.", buckets, "kind", "status"),
		activeOperations:    f.gauge("active_operations", "Stack operations currently running."),

		engineInvocations: f.counterVec("engine_invocations_total", "Engine processes run, by exit code.", "command", "exit_code"),
		engineDuration:    f.histogramVec("engine_invocation_duration_seconds", "Wall time of engine processes.", buckets, "command"),

		eventsDecoded: f.counterVec("engine_events_total", "Engine events decoded from the event log.", "type"),
		eventsSkipped: f.counter("engine_events_skipped_total", "Event log lines that were not valid events."),

		configWrites:    f.counterVec("config_writes_total", "Configuration keys written or removed.", "op"),
		policyDecisions: f.counterVec("policy_decisions_total", "Guard decisions taken before lifecycle operations.", "result"),

		errorsByKind: f.counterVec("errors_by_kind_total", "Errors by kind.", "kind"),
		errorsByCode: f.counterVec("errors_by_code_total", "Errors by code.", "code"),
	}, nil
}

// promFactory creates collectors under one namespace and registers them.
type promFactory struct {
	namespace string
	registry  *prometheus.Registry
}

func (f promFactory) counter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: f.namespace, Name: name, Help: help})
	f.registry.MustRegister(c)
	return c
}

func (f promFactory) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: f.namespace, Name: name, Help: help}, labels)
	f.registry.MustRegister(c)
	return c
}

func (f promFactory) gauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: f.namespace, Name: name, Help: help})
	f.registry.MustRegister(g)
	return g
}

func (f promFactory) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: f.namespace, Name: name, Help: help, Buckets: buckets}, labels)
	f.registry.MustRegister(h)
	return h
}

// Registry returns the registry metrics are registered in, or nil when
// metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordOperationStarted counts a started operation.
func (m *Metrics) RecordOperationStarted(kind string) {
	if m.operationsStarted == nil {
		return
	}
	m.operationsStarted.WithLabelValues(kind).Inc()
	m.activeOperations.Inc()
}

// RecordOperationCompleted records a finished operation with its status and
// duration.
func (m *Metrics) RecordOperationCompleted(kind, status string, duration time.Duration) {
	if m.operationsCompleted == nil {
		return
	}
	m.operationsCompleted.WithLabelValues(kind, status).Inc()
	m.operationDuration.WithLabelValues(kind, status).Observe(duration.Seconds())
	m.activeOperations.Dec()
}

// RecordInvocation records a finished engine process. It satisfies
// runner.Recorder.
func (m *Metrics) RecordInvocation(command string, exitCode int, duration time.Duration) {
	if m.engineInvocations == nil {
		return
	}
	m.engineInvocations.WithLabelValues(command, strconv.Itoa(exitCode)).Inc()
	m.engineDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordEvent counts a decoded engine event.
func (m *Metrics) RecordEvent(eventType string) {
	if m.eventsDecoded == nil {
		return
	}
	m.eventsDecoded.WithLabelValues(eventType).Inc()
}

// RecordEventsSkipped counts undecodable event log lines.
func (m *Metrics) RecordEventsSkipped(n int) {
	if m.eventsSkipped == nil || n <= 0 {
		return
	}
	m.eventsSkipped.Add(float64(n))
}

// RecordConfigWrite counts configuration keys touched by op (set, remove).
func (m *Metrics) RecordConfigWrite(op string, keys int) {
	if m.configWrites == nil || keys <= 0 {
		return
	}
	m.configWrites.WithLabelValues(op).Add(float64(keys))
}

// RecordPolicyDecision counts a guard decision.
func (m *Metrics) RecordPolicyDecision(allowed bool) {
	if m.policyDecisions == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	m.policyDecisions.WithLabelValues(result).Inc()
}

// RecordError records an error by kind and, when present, by code.
func (m *Metrics) RecordError(err error) {
	if m.errorsByKind == nil || err == nil {
		return
	}
	kind := string(engine.KindOf(err))
	if kind == "" {
		kind = "unclassified"
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
	if code := engine.CodeOf(err); code != "" {
		m.errorsByCode.WithLabelValues(code).Inc()
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves metrics on the configured address. It returns a
// nil server when metrics are disabled or no address is configured.
func (m *Metrics) StartMetricsServer(logger *Logger) (*http.Server, error) {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil, nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	lis, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return nil, err
	}

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()

	return server, nil
}
