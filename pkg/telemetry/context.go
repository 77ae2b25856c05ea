package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/autostack/pkg/engine"
)

// Telemetry is the set of backends a workspace reports through. Every field
// is non-nil.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *Publisher
	Config  *Config
}

type telemetryKey struct{}

// NewTelemetry validates cfg and builds every backend it enables.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Telemetry{Config: cfg, Events: NewPublisher(cfg.Events)}
	var err error
	if t.Logger, err = NewLogger(cfg.Logging); err != nil {
		return nil, err
	}
	if t.Metrics, err = NewMetrics(cfg.Metrics); err != nil {
		return nil, err
	}
	if t.Tracer, err = NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment); err != nil {
		return nil, err
	}
	return t, nil
}

// NewNop returns telemetry that records nothing. Workspaces use it when the
// caller does not configure telemetry.
func NewNop() *Telemetry {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Events.Enabled = false
	metrics, _ := NewMetrics(cfg.Metrics)
	return &Telemetry{
		Logger:  NewNopLogger(),
		Tracer:  NewNopTracer(),
		Metrics: metrics,
		Events:  NewPublisher(cfg.Events),
		Config:  cfg,
	}
}

// WithContext stores t and its logger in ctx.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return t.Logger.WithContext(context.WithValue(ctx, telemetryKey{}, t))
}

// FromTelemetryContext returns the telemetry stored in ctx, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown drains pending notifications and spans. Both are attempted even
// when the first fails.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Events.Shutdown(ctx), t.Tracer.Shutdown(ctx))
}

// Flush forces all pending spans to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// OperationScope instruments one stack lifecycle operation: a span, a logger
// carrying the stack and operation id, metrics and notifications.
type OperationScope struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger

	tel     *Telemetry
	stack   string
	kind    string
	id      string
	started time.Time
}

// StartOperation begins an instrumented operation.
func (t *Telemetry) StartOperation(ctx context.Context, stack, kind, operationID string) *OperationScope {
	spanCtx, span := t.Tracer.StartOperationSpan(ctx, stack, kind, operationID)

	logger := t.Logger.WithStack(stack).WithOperation(kind, operationID)
	if span.SpanContext().IsValid() {
		logger = logger.WithField("trace_id", span.SpanContext().TraceID().String())
	}
	spanCtx = logger.WithContext(spanCtx)

	t.Metrics.RecordOperationStarted(kind)
	if err := t.Events.OperationStarted(stack, kind, operationID); err != nil {
		logger.WithError(err).Debug("Dropped operation notification")
	}

	return &OperationScope{
		Ctx:     spanCtx,
		Span:    span,
		Logger:  logger,
		tel:     t,
		stack:   stack,
		kind:    kind,
		id:      operationID,
		started: time.Now(),
	}
}

// Duration returns the time since the operation started.
func (s *OperationScope) Duration() time.Duration {
	return time.Since(s.started)
}

// End finishes the operation, recording success or failure.
func (s *OperationScope) End(err error) {
	duration := time.Since(s.started)
	status := OperationStatus(err)

	if err != nil {
		RecordError(s.Span, err)
		s.tel.Metrics.RecordError(err)
		s.Logger.WithError(err).Debug("Operation failed")
	} else {
		RecordSuccess(s.Span)
		s.Logger.Debug("Operation succeeded")
	}
	s.Span.End()

	s.tel.Metrics.RecordOperationCompleted(s.kind, status, duration)
	if nerr := s.tel.Events.OperationFinished(s.stack, s.kind, s.id, duration, err); nerr != nil {
		s.Logger.WithError(nerr).Debug("Dropped operation notification")
	}
}

// OperationStatus maps an operation error to the status label used in
// metrics and the journal.
func OperationStatus(err error) string {
	switch {
	case err == nil:
		return "succeeded"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded),
		engine.CodeOf(err) == engine.CodeCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

func errorAttributes(err error) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if kind := engine.KindOf(err); kind != "" {
		attrs = append(attrs, AttrErrorKind.String(string(kind)))
	}
	if code := engine.CodeOf(err); code != "" {
		attrs = append(attrs, AttrErrorCode.String(code))
	}
	return attrs
}
