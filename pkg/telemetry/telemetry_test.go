package telemetry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/openfroyo/autostack/pkg/engine"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "development", mutate: func(c *Config) { *c = *DevelopmentConfig() }},
		{name: "missing service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "bad exporter", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger"
		}, wantErr: true},
		{name: "otlp without endpoint", mutate: func(c *Config) { *c = *ProductionConfig() }, wantErr: true},
		{name: "otlp with endpoint", mutate: func(c *Config) {
			*c = *ProductionConfig()
			c.Tracing.Endpoint = "localhost:4317"
		}},
		{name: "bad sampling rate", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
		{name: "zero buffer", mutate: func(c *Config) { c.Events.BufferSize = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, LoggingConfig{Level: "debug", Format: "json"})

	logger.NewComponentLogger("workspace").
		WithStack("org/proj/dev").
		WithOperation("update", "op-1").
		Info("Starting operation")

	out := buf.String()
	for _, want := range []string{`"component":"workspace"`, `"stack":"org/proj/dev"`, `"operation":"update"`, `"operation_id":"op-1"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}

	buf.Reset()
	logger.Debug("visible")
	quiet := NewLoggerWithWriter(&buf, LoggingConfig{Level: "warn", Format: "json"})
	quiet.Info("hidden")
	if !strings.Contains(buf.String(), "visible") || strings.Contains(buf.String(), "hidden") {
		t.Errorf("unexpected level filtering: %s", buf.String())
	}
}

func TestFromContextWithoutLogger(t *testing.T) {
	// must not panic and must not write anywhere
	FromContext(context.Background()).Info("discarded")

	logger := NewNopLogger()
	if got := FromContext(logger.WithContext(context.Background())); got != logger {
		t.Errorf("expected logger from context")
	}
}

func TestMetricsRecording(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	m.RecordOperationStarted("update")
	m.RecordOperationCompleted("update", "succeeded", time.Second)
	m.RecordInvocation("up", 0, time.Second)
	m.RecordInvocation("up", 255, time.Second)
	m.RecordEvent("summaryEvent")
	m.RecordEventsSkipped(2)
	m.RecordConfigWrite("set", 3)
	m.RecordPolicyDecision(false)
	m.RecordError(engine.NewNotFoundError("missing", nil).WithCode(engine.CodeStackNotFound))
	m.RecordError(errors.New("plain"))

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"started", testutil.ToFloat64(m.operationsStarted.WithLabelValues("update")), 1},
		{"completed", testutil.ToFloat64(m.operationsCompleted.WithLabelValues("update", "succeeded")), 1},
		{"active", testutil.ToFloat64(m.activeOperations), 0},
		{"invocations ok", testutil.ToFloat64(m.engineInvocations.WithLabelValues("up", "0")), 1},
		{"invocations failed", testutil.ToFloat64(m.engineInvocations.WithLabelValues("up", "255")), 1},
		{"events", testutil.ToFloat64(m.eventsDecoded.WithLabelValues("summaryEvent")), 1},
		{"skipped", testutil.ToFloat64(m.eventsSkipped), 2},
		{"config", testutil.ToFloat64(m.configWrites.WithLabelValues("set")), 3},
		{"denied", testutil.ToFloat64(m.policyDecisions.WithLabelValues("denied")), 1},
		{"not found", testutil.ToFloat64(m.errorsByKind.WithLabelValues("not_found")), 1},
		{"unclassified", testutil.ToFloat64(m.errorsByKind.WithLabelValues("unclassified")), 1},
		{"code", testutil.ToFloat64(m.errorsByCode.WithLabelValues(engine.CodeStackNotFound)), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestMetricsDisabledIsNoop(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	m.RecordOperationStarted("update")
	m.RecordInvocation("up", 0, time.Second)
	m.RecordError(errors.New("x"))
	if m.Registry() != nil {
		t.Errorf("expected no registry for disabled metrics")
	}
	srv, err := m.StartMetricsServer(NewNopLogger())
	if err != nil || srv != nil {
		t.Errorf("expected no server for disabled metrics")
	}
}

func TestPublisherSync(t *testing.T) {
	p := NewPublisher(EventsConfig{Enabled: true, BufferSize: 4})

	var got []Notification
	p.Subscribe(func(n Notification) { got = append(got, n) }, FilterByType(NotifyOperationFailed, NotifyStackCreated))

	_ = p.OperationStarted("dev", "update", "op-1")
	_ = p.OperationFinished("dev", "update", "op-1", time.Second, errors.New("boom"))
	_ = p.StackChanged("dev", false)

	if len(got) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(got))
	}
	if got[0].Type != NotifyOperationFailed || got[0].Level != LevelError || got[0].ID == "" {
		t.Errorf("unexpected failure notification: %+v", got[0])
	}
	if got[1].Type != NotifyStackCreated {
		t.Errorf("unexpected notification: %+v", got[1])
	}
}

func TestPublisherAsyncDrainsOnShutdown(t *testing.T) {
	p := NewPublisher(EventsConfig{Enabled: true, EnableAsync: true, BufferSize: 64, MaxBatchSize: 8})

	var mu sync.Mutex
	count := 0
	p.Subscribe(func(Notification) {
		mu.Lock()
		count++
		mu.Unlock()
	}, FilterByStack("prod"))

	for i := 0; i < 20; i++ {
		stack := "prod"
		if i%2 == 0 {
			stack = "dev"
		}
		if err := p.StackChanged(stack, true); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 10 {
		t.Errorf("expected 10 prod notifications, got %d", count)
	}
	if err := p.StackChanged("prod", false); err == nil {
		t.Errorf("expected publish after shutdown to fail")
	}
}

func TestOperationScope(t *testing.T) {
	tel := NewNop()
	metrics, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "scope"})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	tel.Metrics = metrics
	tel.Events = NewPublisher(EventsConfig{Enabled: true, BufferSize: 4})

	var types []string
	tel.Events.Subscribe(func(n Notification) { types = append(types, n.Type) }, nil)

	scope := tel.StartOperation(context.Background(), "dev", "destroy", "op-9")
	if FromContext(scope.Ctx) != scope.Logger {
		t.Errorf("expected scope logger in context")
	}
	scope.End(engine.NewExecutionError("cancelled", context.Canceled).WithCode(engine.CodeCancelled))

	if len(types) != 2 || types[0] != NotifyOperationStarted || types[1] != NotifyOperationFailed {
		t.Errorf("unexpected notifications: %v", types)
	}
	if v := testutil.ToFloat64(metrics.operationsCompleted.WithLabelValues("destroy", "cancelled")); v != 1 {
		t.Errorf("expected cancelled operation to be counted, got %v", v)
	}
}

func TestOperationStatus(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "succeeded"},
		{errors.New("x"), "failed"},
		{context.Canceled, "cancelled"},
		{engine.NewExecutionError("x", nil).WithCode(engine.CodeCancelled), "cancelled"},
		{engine.NewExecutionError("x", nil).WithCode(engine.CodeNonZeroExit), "failed"},
	}
	for _, tt := range tests {
		if got := OperationStatus(tt.err); got != tt.want {
			t.Errorf("OperationStatus(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
