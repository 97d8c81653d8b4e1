package exporter

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/fllarpy/callprobe/calltree"
	"github.com/fllarpy/callprobe/domain/calls"
)

const instrumentationName = "github.com/fllarpy/callprobe/exporter"

const (
	selfTimeKey   = attribute.Key("calltree.self_time_ns")
	ioTimeKey     = attribute.Key("calltree.io_time_ns")
	ioCountKey    = attribute.Key("calltree.io_call_count")
	incompleteKey = attribute.Key("calltree.incomplete")
	ioDurationKey = attribute.Key("calltree.io.duration_ns")
)

// SpanReporter replays a finished call tree as a tree of OpenTelemetry spans
// carrying the recorded timestamps. IO calls become span events.
type SpanReporter struct {
	tracer trace.Tracer
}

func NewSpanReporter(tp trace.TracerProvider) *SpanReporter {
	return &SpanReporter{tracer: tp.Tracer(instrumentationName)}
}

// Report emits the spans under the span found in ctx, if any.
func (r *SpanReporter) Report(ctx context.Context, record calls.Record) error {
	if record.Root == nil {
		return nil
	}
	base := record.Timestamp
	if base.IsZero() {
		base = time.Now().Add(-record.Duration())
	}
	r.emit(ctx, base, record.Root, attribute.String("calltree.label", record.Label))
	return nil
}

func (r *SpanReporter) emit(ctx context.Context, base time.Time, c *calltree.Call, extra ...attribute.KeyValue) {
	start := base.Add(time.Duration(c.StartOffsetNs))
	attrs := append([]attribute.KeyValue{
		semconv.CodeFunction(c.Signature),
		selfTimeKey.Int64(c.NetExecutionTimeNs),
		ioTimeKey.Int64(c.IOTimeNs),
		ioCountKey.Int(c.IOCallCount),
	}, extra...)
	if c.Incomplete {
		attrs = append(attrs, incompleteKey.Bool(true))
	}

	ctx, span := r.tracer.Start(ctx, c.Label(),
		trace.WithTimestamp(start),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	for _, io := range c.IOCalls {
		span.AddEvent(io.Description, trace.WithTimestamp(start), trace.WithAttributes(ioDurationKey.Int64(io.DurationNs)))
	}
	for _, child := range c.Children {
		r.emit(ctx, base, child)
	}
	span.End(trace.WithTimestamp(start.Add(time.Duration(c.ExecutionTimeNs))))
}
