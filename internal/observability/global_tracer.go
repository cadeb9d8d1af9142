package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var globalTracer trace.Tracer

// InitGlobalTracer initializes the global tracer for the application.
func InitGlobalTracer() {
	globalTracer = otel.Tracer("qbank")
}

// GetGlobalTracer returns the global tracer instance for the application.
func GetGlobalTracer() trace.Tracer {
	if globalTracer == nil {
		// Fallback to default tracer if not initialized
		globalTracer = otel.Tracer("qbank")
	}
	return globalTracer
}

// TraceFunction starts a new span with a descriptive name for the given service and function.
func TraceFunction(ctx context.Context, serviceName, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := GetGlobalTracer()
	spanName := fmt.Sprintf("%s.%s", serviceName, functionName)
	return tracer.Start(ctx, spanName, trace.WithAttributes(attributes...))
}

// TraceIndexFunction starts a new span for an aggregate index function.
func TraceIndexFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "aggindex", functionName, attributes...)
}

// TraceQueryFunction starts a new span for a counting/sampling function.
func TraceQueryFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "query", functionName, attributes...)
}

// TraceRepairFunction starts a new span for a repair workflow function.
func TraceRepairFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "repair", functionName, attributes...)
}

// TraceQuestionFunction starts a new span for a question service function.
func TraceQuestionFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "question", functionName, attributes...)
}

// TraceTaxonomyFunction starts a new span for a taxonomy service function.
func TraceTaxonomyFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "taxonomy", functionName, attributes...)
}

// TraceDatabaseFunction starts a new span for a database function.
func TraceDatabaseFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "database", functionName, attributes...)
}

// TraceHandlerFunction starts a new span for a handler function.
func TraceHandlerFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "handler", functionName, attributes...)
}

// AttributeNamespace returns a tracing attribute for an aggregate namespace.
func AttributeNamespace(ns string) attribute.KeyValue {
	return attribute.String("aggindex.namespace", ns)
}

// AttributePartition returns a tracing attribute for an aggregate partition.
func AttributePartition(name string) attribute.KeyValue {
	return attribute.String("aggindex.partition", name)
}

// AttributeUserID returns a tracing attribute for a user id.
func AttributeUserID(id string) attribute.KeyValue {
	return attribute.String("user.id", id)
}

// AttributeQuestionID returns a tracing attribute for a question id.
func AttributeQuestionID(id string) attribute.KeyValue {
	return attribute.String("question.id", id)
}

// AttributeFilterMode returns a tracing attribute for a filter mode.
func AttributeFilterMode(mode string) attribute.KeyValue {
	return attribute.String("filter.mode", mode)
}

// AttributeSampleSize returns a tracing attribute for a requested sample size.
func AttributeSampleSize(k int) attribute.KeyValue {
	return attribute.Int("sample.size", k)
}

// AttributeRepairRun returns a tracing attribute for a repair run id.
func AttributeRepairRun(id string) attribute.KeyValue {
	return attribute.String("repair.run_id", id)
}
