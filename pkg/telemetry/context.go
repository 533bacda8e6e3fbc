package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides a unified telemetry interface combining logging,
// tracing, metrics, and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	// Shutdown in reverse order of initialization
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}

	if err := t.Tracer.Shutdown(ctx); err != nil {
		return err
	}

	return nil
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// InstrumentedContext bundles a context, span and timer for one operation.
type InstrumentedContext struct {
	Ctx   context.Context
	Span  trace.Span
	timer *Timer
}

// StartProvisionerOperation opens a traced, timed provisioner operation.
// Callers must invoke End exactly once.
func (t *Telemetry) StartProvisionerOperation(ctx context.Context, operation, workspace string) *InstrumentedContext {
	spanCtx, span := t.Tracer.StartProvisionerSpan(ctx, operation, workspace)
	return &InstrumentedContext{
		Ctx:   spanCtx,
		Span:  span,
		timer: NewTimer(),
	}
}

// End completes the operation, recording its duration and outcome.
func (ic *InstrumentedContext) End(t *Telemetry, operation string, err error) {
	duration := ic.timer.Duration()
	t.Metrics.RecordProvisionerCall(operation, duration)
	if err != nil {
		t.Metrics.RecordProvisionerError(operation)
		RecordError(ic.Span, err)
	} else {
		RecordSuccess(ic.Span)
	}
	ic.Span.End()
}

// Elapsed returns how long the operation has been running.
func (ic *InstrumentedContext) Elapsed() time.Duration {
	return ic.timer.Duration()
}
