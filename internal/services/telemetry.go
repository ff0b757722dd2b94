package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/soochol/convograph/internal/services"

// telemetry records a span, a duration and a failure count per service
// operation. Without an installed SDK the global providers are no-ops.
type telemetry struct {
	tracer   trace.Tracer
	ops      metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
}

func newTelemetry() *telemetry {
	meter := otel.Meter(instrumentationName)
	t := &telemetry{tracer: otel.Tracer(instrumentationName)}
	// Instrument creation only fails on invalid names; the no-op
	// instruments returned alongside the error are still usable.
	t.ops, _ = meter.Int64Counter("convograph.conversation.operations",
		metric.WithDescription("Conversation service operations"))
	t.failures, _ = meter.Int64Counter("convograph.conversation.failures",
		metric.WithDescription("Conversation service operations that returned an error"))
	t.duration, _ = meter.Float64Histogram("convograph.conversation.duration",
		metric.WithDescription("Duration of conversation service operations"),
		metric.WithUnit("s"))
	return t
}

// start opens a span for op on threadID. The returned function ends it and
// records the outcome.
func (t *telemetry) start(ctx context.Context, op, threadID string) (context.Context, func(err error)) {
	began := time.Now()
	ctx, span := t.tracer.Start(ctx, "conversation."+op,
		trace.WithAttributes(attribute.String("thread.id", threadID)))
	return ctx, func(err error) {
		attrs := metric.WithAttributes(attribute.String("op", op))
		t.ops.Add(ctx, 1, attrs)
		t.duration.Record(ctx, time.Since(began).Seconds(), attrs)
		if err != nil {
			t.failures.Add(ctx, 1, attrs)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
