// Package telemetry supplies the observability seam shared by the session
// engine, the per-app session registry, and the gateway: a small
// Logger/Metrics/Tracer backend interface plus a Recorder that turns the
// runtime's own events (a tick finishing, a tool call, a dispatched RPC)
// into calls against that backend. Components depend on *Recorder, never on
// a concrete backend, so a test can wire a no-op Recorder and a production
// binary can wire one backed by goa.design/clue and OpenTelemetry.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tickline/tickline/adapter"
)

// Logger is the structured-logging backend a Recorder writes through.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics is the counter/timer/gauge backend a Recorder writes through.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer is the span backend a Recorder writes through.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span is an in-flight trace span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// Recorder turns session/gateway lifecycle moments into Logger, Metrics and
// Tracer calls. The zero value is not usable; construct with NewRecorder.
type Recorder struct {
	logger  Logger
	metrics Metrics
	tracer  Tracer
}

// NewRecorder builds a Recorder from the three backend seams. A nil argument
// is replaced by its no-op implementation, so callers can wire only the
// backends they have configured.
func NewRecorder(logger Logger, metrics Metrics, tracer Tracer) *Recorder {
	if logger == nil {
		logger = NewNoopLogger()
	}
	if metrics == nil {
		metrics = NewNoopMetrics()
	}
	if tracer == nil {
		tracer = NewNoopTracer()
	}
	return &Recorder{logger: logger, metrics: metrics, tracer: tracer}
}

// Noop returns a Recorder that discards everything, for callers that have
// not configured an observability backend.
func Noop() *Recorder { return NewRecorder(nil, nil, nil) }

// TickStarted opens a span for one session tick and returns the derived
// context callers must thread through the rest of the tick.
func (r *Recorder) TickStarted(ctx context.Context, sessionID string, tick int) (context.Context, Span) {
	ctx, span := r.tracer.Start(ctx, "session.tick")
	r.logger.Debug(ctx, "tick started", "session_id", sessionID, "tick", tick)
	r.metrics.IncCounter("session.tick.started", 1, "session_id", sessionID)
	return ctx, span
}

// TickOutcome summarizes one completed tick for TickFinished.
type TickOutcome struct {
	Tick       int
	Duration   time.Duration
	Usage      adapter.Usage
	Model      string
	ToolCalls  int
	StopReason adapter.StopReason
	Err        error
}

// TickFinished records the outcome of a tick started with TickStarted: a
// timer sample, token/tool-call counters, and a closed span. span may be nil
// if the caller never started one (e.g. the context was already canceled).
func (r *Recorder) TickFinished(ctx context.Context, span Span, sessionID string, out TickOutcome) {
	r.metrics.RecordTimer("session.tick.duration", out.Duration, "session_id", sessionID)
	r.metrics.IncCounter("session.tick.input_tokens", float64(out.Usage.InputTokens), "session_id", sessionID)
	r.metrics.IncCounter("session.tick.output_tokens", float64(out.Usage.OutputTokens), "session_id", sessionID)
	if out.ToolCalls > 0 {
		r.metrics.IncCounter("session.tick.tool_calls", float64(out.ToolCalls), "session_id", sessionID)
	}
	if out.Err != nil {
		r.logger.Error(ctx, "tick failed", "session_id", sessionID, "tick", out.Tick, "error", out.Err)
		if span != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, out.Err.Error())
		}
	} else {
		r.logger.Info(ctx, "tick finished", "session_id", sessionID, "tick", out.Tick,
			"duration_ms", out.Duration.Milliseconds(), "model", out.Model,
			"input_tokens", out.Usage.InputTokens, "output_tokens", out.Usage.OutputTokens,
			"tool_calls", out.ToolCalls, "stop_reason", out.StopReason)
	}
	if span != nil {
		span.End()
	}
}

// ToolInvoked records one tool-call execution.
func (r *Recorder) ToolInvoked(ctx context.Context, sessionID, toolName string, duration time.Duration, err error) {
	r.metrics.RecordTimer("session.tool.duration", duration, "session_id", sessionID, "tool", toolName)
	if err != nil {
		r.metrics.IncCounter("session.tool.errors", 1, "tool", toolName)
		r.logger.Warn(ctx, "tool call failed", "session_id", sessionID, "tool", toolName, "error", err)
		return
	}
	r.logger.Debug(ctx, "tool call finished", "session_id", sessionID, "tool", toolName, "duration_ms", duration.Milliseconds())
}

// RPCHandled records one gateway method dispatch (a built-in method or a
// namespace:name custom method).
func (r *Recorder) RPCHandled(ctx context.Context, method string, duration time.Duration, err error) {
	r.metrics.RecordTimer("gateway.rpc.duration", duration, "method", method)
	if err != nil {
		r.metrics.IncCounter("gateway.rpc.errors", 1, "method", method)
		r.logger.Warn(ctx, "rpc failed", "method", method, "error", err)
		return
	}
	r.metrics.IncCounter("gateway.rpc.ok", 1, "method", method)
	r.logger.Debug(ctx, "rpc handled", "method", method, "duration_ms", duration.Milliseconds())
}

// SessionLifecycle records a session being created, resumed, hibernated, or
// closed within an App.
func (r *Recorder) SessionLifecycle(ctx context.Context, appID, sessionID, event string) {
	r.metrics.IncCounter("app.session."+event, 1, "app_id", appID)
	r.logger.Info(ctx, "session "+event, "app_id", appID, "session_id", sessionID)
}

// Logger exposes the underlying Logger, for call sites that need to log
// something this Recorder has no dedicated method for.
func (r *Recorder) Logger() Logger { return r.logger }
