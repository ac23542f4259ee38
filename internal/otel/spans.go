package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for batchweave spans.
var (
	AttrRunID      = attribute.Key("batchweave.run.id")
	AttrJobID      = attribute.Key("batchweave.job.id")
	AttrTaskID     = attribute.Key("batchweave.task.id")
	AttrUnit       = attribute.Key("batchweave.unit")
	AttrUnitCount  = attribute.Key("batchweave.unit.count")
	AttrChunkIndex = attribute.Key("batchweave.merge.chunk")
	AttrChunkSize  = attribute.Key("batchweave.merge.chunk_size")
	AttrBranch     = attribute.Key("batchweave.branch")
)

// StartSpan starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan starts a span for an outbound call (scheduler command,
// version-control operation).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
