package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	correlationIDKey
	commandIDKey
	tenantIDKey
)

// WithLogger attaches a logger to the context.
func WithLogger(ctx context.Context, log *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, log)
}

// FromContext returns the logger attached to the context, or a no-op
// logger when none is attached.
func FromContext(ctx context.Context) *zap.Logger {
	if log, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return log
	}
	return zap.NewNop()
}

// WithCorrelationID records the correlation ID a command chain runs
// under. Everything logged downstream of this context can carry it.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationID returns the correlation ID from the context, if any.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// WithCommandID records the command currently being processed.
func WithCommandID(ctx context.Context, commandID string) context.Context {
	return context.WithValue(ctx, commandIDKey, commandID)
}

// CommandID returns the command ID from the context, if any.
func CommandID(ctx context.Context) string {
	if id, ok := ctx.Value(commandIDKey).(string); ok {
		return id
	}
	return ""
}

// WithTenantID records the tenant the request acts for.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// TenantID returns the tenant ID from the context, if any.
func TenantID(ctx context.Context) string {
	if id, ok := ctx.Value(tenantIDKey).(string); ok {
		return id
	}
	return ""
}

// Enrich returns the logger with every identifier present in the
// context added as a field: correlation_id, command_id, tenant_id and
// the active span's trace_id/span_id.
func Enrich(ctx context.Context, log *zap.Logger) *zap.Logger {
	if id := CorrelationID(ctx); id != "" {
		log = log.With(zap.String("correlation_id", id))
	}
	if id := CommandID(ctx); id != "" {
		log = log.With(zap.String("command_id", id))
	}
	if id := TenantID(ctx); id != "" {
		log = log.With(zap.String("tenant_id", id))
	}

	if spanCtx := trace.SpanFromContext(ctx).SpanContext(); spanCtx.IsValid() {
		log = log.With(
			zap.String("trace_id", spanCtx.TraceID().String()),
			zap.String("span_id", spanCtx.SpanID().String()),
		)
	}
	return log
}
