package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/foglamp"

// Span attribute keys for turn telemetry.
const (
	AttrTurnID    = attribute.Key("foglamp.turn.id")
	AttrPlayerID  = attribute.Key("foglamp.turn.player_id")
	AttrStream    = attribute.Key("foglamp.turn.stream")
	AttrStage     = attribute.Key("foglamp.turn.stage")
	AttrErrorKind = attribute.Key("foglamp.error.kind")
)

// Tracer returns the foglamp tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. The caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartTurnSpan starts the root span of one turn.
func StartTurnSpan(ctx context.Context, turnID int, playerID string, stream bool) (context.Context, trace.Span) {
	return StartSpan(ctx, "turn", trace.WithAttributes(
		AttrTurnID.Int(turnID),
		AttrPlayerID.String(playerID),
		AttrStream.Bool(stream),
	))
}

// StartStageSpan starts a child span for one pipeline stage, named
// "turn.<stage>".
func StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return StartSpan(ctx, "turn."+stage, trace.WithAttributes(AttrStage.String(stage)))
}

// FailSpan records err on span and marks it failed with kind as both the
// status description and an attribute.
func FailSpan(span trace.Span, err error, kind string) {
	span.RecordError(err)
	span.SetAttributes(AttrErrorKind.String(kind))
	span.SetStatus(codes.Error, kind)
}

// CorrelationID returns the trace ID of the active span in ctx, or "" when
// there is none. HTTP responses carry it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id attached when
// ctx carries a span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
