package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chronicle-io/chronicle"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var _ chronicle.EventBus = (*TelemetryEventBus)(nil)

// TelemetryEventBus wraps an EventBus with OpenTelemetry tracing and
// metrics. Every subscription registered through it gets a consumer span
// per delivered event, linked to the producing trace when the event
// metadata carries one.
type TelemetryEventBus struct {
	next chronicle.EventBus
}

// WithEventBusTelemetry wraps next with tracing and metrics.
func WithEventBusTelemetry(next chronicle.EventBus) *TelemetryEventBus {
	return &TelemetryEventBus{next: next}
}

func (t *TelemetryEventBus) Subscribe(ctx context.Context, name string, filter func(chronicle.Event) bool, handler chronicle.EventHandler, options ...chronicle.SubscriberOption) error {
	instrumented := chronicle.NewEventHandlerFunc(func(ctx context.Context, event chronicle.Event) error {
		attr := []attribute.KeyValue{
			AttrEventType.String(event.EventType()),
			AttrEventID.String(chronicle.EventIDFromContext(ctx).String()),
			AttrEventGlobalPos.Int64(int64(chronicle.GlobalSeqFromContext(ctx))),
			AttrEventStreamPos.Int64(int64(chronicle.VersionFromContext(ctx))),
			AttrStreamID.String(chronicle.StreamIDFromContext(ctx)),
			AttrSubscriberName.String(name),
		}

		// Link back to the producing trace carried in the event metadata.
		carrier := make(propagation.MapCarrier)
		for k, v := range chronicle.MetadataFromContext(ctx) {
			if s, ok := v.(string); ok && s != "" {
				carrier[k] = s
			}
		}
		producerCtx := otel.GetTextMapPropagator().Extract(context.Background(), carrier)
		link := trace.LinkFromContext(producerCtx)

		ctx, span := tracer.Start(ctx, fmt.Sprintf("subscription.receive %s", name),
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(attr...),
			trace.WithLinks(link),
		)
		defer span.End()

		EventBusHandled.Add(ctx, 1, metric.WithAttributes(
			AttrSubscriberName.String(name),
			AttrEventType.String(event.EventType()),
		))

		start := time.Now()
		err := handler.Handle(ctx, event)

		EventBusDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(AttrSubscriberName.String(name)))

		var skipped *chronicle.ErrSkippedEvent
		switch {
		case err == nil, errors.As(err, &skipped):
			span.SetStatus(codes.Ok, "")
			return err
		default:
			EventBusErrors.Add(ctx, 1, metric.WithAttributes(
				AttrSubscriberName.String(name),
				AttrEventType.String(event.EventType()),
			))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	})

	return t.next.Subscribe(ctx, name, filter, instrumented, options...)
}

func (t *TelemetryEventBus) Dispatch(ctx context.Context, envelope *chronicle.Envelope) error {
	return t.next.Dispatch(ctx, envelope)
}

func (t *TelemetryEventBus) Errors() <-chan error {
	return t.next.Errors()
}

func (t *TelemetryEventBus) Close() error {
	return t.next.Close()
}
