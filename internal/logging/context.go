// internal/logging/context.go
package logging

import (
	"context"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if modelID := ModelIDFromContext(ctx); modelID != "" {
		fields = append(fields, zap.String("model.id", modelID))
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}

type modelCtxKey struct{}
type requestCtxKey struct{}

const maxIDLen = 128

// Model ids are artifact names like 20240101-120000.tar.gz; request ids
// are uuids or echo request ids.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

func validID(id string) bool {
	return id != "" && len(id) <= maxIDLen && idPattern.MatchString(id)
}

// WithModelID adds a model id to context. Invalid ids are ignored.
func WithModelID(ctx context.Context, modelID string) context.Context {
	if !validID(modelID) {
		return ctx
	}
	return context.WithValue(ctx, modelCtxKey{}, modelID)
}

// ModelIDFromContext extracts the model id from context.
func ModelIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(modelCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithRequestID adds a request id to context. Invalid ids are ignored.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if !validID(requestID) {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext extracts the request id from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}
