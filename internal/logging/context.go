package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Context key types
type requestCtxKey struct{}
type conversationCtxKey struct{}
type shapeCtxKey struct{}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	// Trace correlation (from OpenTelemetry)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}
	if conversationID := ConversationIDFromContext(ctx); conversationID != "" {
		fields = append(fields, zap.String("conversation.id", conversationID))
	}
	if shape := ShapeFromContext(ctx); shape != "" {
		fields = append(fields, zap.String("pipeline.shape", shape))
	}

	return fields
}

// WithRequestID adds a request ID to context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext extracts the request ID, or "" if unset.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return id
	}
	return ""
}

// WithConversationID adds a conversation ID to context.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationCtxKey{}, id)
}

// ConversationIDFromContext extracts the conversation ID, or "" if unset.
func ConversationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(conversationCtxKey{}).(string); ok {
		return id
	}
	return ""
}

// WithShape records the routed pipeline shape in context.
func WithShape(ctx context.Context, shape string) context.Context {
	return context.WithValue(ctx, shapeCtxKey{}, shape)
}

// ShapeFromContext extracts the pipeline shape, or "" if unset.
func ShapeFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(shapeCtxKey{}).(string); ok {
		return s
	}
	return ""
}
