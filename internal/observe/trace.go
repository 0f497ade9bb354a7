package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the Aide tracer.
const tracerName = "github.com/MrWong99/aide"

// Span attribute keys for the request path. Kept next to the tracer so every
// span describes routing outcomes with the same vocabulary.
const (
	// AttrKeyProvider is the logical provider name that served the request.
	AttrKeyProvider = "aide.provider"

	// AttrKeyCacheTier names the cache tier that answered
	// ("template", "memory", "persistent", "semantic"); empty for live replies.
	AttrKeyCacheTier = "aide.cache.tier"

	// AttrKeyCached is whether the reply came from the cache at all.
	AttrKeyCached = "aide.cached"
)

// Tracer returns the package-level [trace.Tracer] for Aide. It uses the
// globally registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// AnnotateRoute records the routing outcome of one request on span: which
// provider answered, and through which cache tier if any.
func AnnotateRoute(span trace.Span, provider, cacheTier string, cached bool) {
	span.SetAttributes(
		attribute.String(AttrKeyProvider, provider),
		attribute.String(AttrKeyCacheTier, cacheTier),
		attribute.Bool(AttrKeyCached, cached),
	)
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
// The trace ID doubles as the request correlation identifier in logs and
// response headers.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns an [slog.Logger] enriched with trace_id and span_id from
// the OTel span context in ctx. When no active span is present, the returned
// logger is the default slog logger without extra attributes.
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
