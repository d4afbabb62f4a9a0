package otel

import (
	"context"
	"io"
	"time"

	"github.com/chronicle-io/chronicle"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var _ chronicle.EventStore = (*TelemetryStore)(nil)

// TelemetryStore wraps an EventStore with OpenTelemetry tracing and metrics.
// Save operations additionally inject the current trace context into event
// metadata, so consumers on the other side of the bus can link back to the
// producing trace.
type TelemetryStore struct {
	next chronicle.EventStore
	cfg  *config
}

// WithEventStoreTelemetry wraps next with tracing and metrics.
func WithEventStoreTelemetry(next chronicle.EventStore, options ...Option) chronicle.EventStore {
	return &TelemetryStore{next: next, cfg: newConfig(options...)}
}

func (t *TelemetryStore) Save(ctx context.Context, events []chronicle.Envelope, revision chronicle.StreamState) (chronicle.AppendResult, error) {
	var streamID string
	if len(events) > 0 {
		streamID = events[0].StreamID
	}

	attrs := append([]attribute.KeyValue{
		AttrOperation.String("save"),
		AttrStreamID.String(streamID),
		AttrEventCount.Int64(int64(len(events))),
	}, t.cfg.Attributes...)
	if t.cfg.GetAttributes != nil {
		attrs = append(attrs, t.cfg.GetAttributes(ctx)...)
	}

	ctx, span := tracer.Start(ctx, "EventStore.Save",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	causationID := chronicle.CausationFromContext(ctx)
	for i := range events {
		if events[i].Metadata == nil {
			events[i].Metadata = make(map[string]any)
		}
		if causationID != uuid.Nil {
			events[i].Metadata["causationId"] = causationID.String()
		}
		if span.SpanContext().HasTraceID() {
			events[i].Metadata["traceId"] = span.SpanContext().TraceID().String()
		}
		for key, value := range carrier {
			events[i].Metadata[key] = value
		}
	}

	start := time.Now()
	result, err := t.next.Save(ctx, events, revision)

	EventStoreDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(AttrOperation.String("save")),
	)
	EventStoreSaves.Add(ctx, 1)
	EventsAppended.Add(ctx, int64(len(events)))

	if err != nil {
		EventStoreErrors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return result, err
}

func (t *TelemetryStore) LoadStream(ctx context.Context, id string) (*chronicle.Iterator[*chronicle.Envelope], error) {
	iter, err := t.next.LoadStream(ctx, id)
	if err != nil {
		EventStoreErrors.Add(ctx, 1)
		return iter, err
	}
	return t.traceIterator(iter, "EventStore.LoadStream", AttrStreamID.String(id)), nil
}

func (t *TelemetryStore) LoadStreamFrom(ctx context.Context, id string, version uint64) (*chronicle.Iterator[*chronicle.Envelope], error) {
	iter, err := t.next.LoadStreamFrom(ctx, id, version)
	if err != nil {
		EventStoreErrors.Add(ctx, 1)
		return iter, err
	}
	return t.traceIterator(iter, "EventStore.LoadStreamFrom",
		AttrStreamID.String(id),
		AttrStreamVersion.Int64(int64(version)),
	), nil
}

func (t *TelemetryStore) LoadByEventType(ctx context.Context, eventType string) (*chronicle.Iterator[*chronicle.Envelope], error) {
	iter, err := t.next.LoadByEventType(ctx, eventType)
	if err != nil {
		EventStoreErrors.Add(ctx, 1)
		return iter, err
	}
	return t.traceIterator(iter, "EventStore.LoadByEventType", AttrEventType.String(eventType)), nil
}

func (t *TelemetryStore) LoadFromAll(ctx context.Context, seq uint64) (*chronicle.Iterator[*chronicle.Envelope], error) {
	iter, err := t.next.LoadFromAll(ctx, seq)
	if err != nil {
		EventStoreErrors.Add(ctx, 1)
		return iter, err
	}
	return t.traceIterator(iter, "EventStore.LoadFromAll",
		AttrEventGlobalPos.Int64(int64(seq)),
	), nil
}

func (t *TelemetryStore) Events() <-chan *chronicle.Envelope {
	return t.next.Events()
}

func (t *TelemetryStore) Close() error {
	return t.next.Close()
}

// traceIterator wraps iter so that the whole read, first Next to exhaustion,
// is covered by a single span with an event count attribute.
func (t *TelemetryStore) traceIterator(iter *chronicle.Iterator[*chronicle.Envelope], operation string, attrs ...attribute.KeyValue) *chronicle.Iterator[*chronicle.Envelope] {
	started := false
	var startedAt time.Time
	var span trace.Span
	var eventCount int64

	return chronicle.NewIteratorFunc(func(ctx context.Context) (*chronicle.Envelope, error) {
		if !started {
			started = true
			startedAt = time.Now()
			ctx, span = tracer.Start(ctx, operation,
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(append(attrs, t.cfg.Attributes...)...),
			)
		}

		if !iter.Next(ctx) {
			span.SetAttributes(AttrEventCount.Int64(eventCount))

			err := iter.Err()
			if err == nil {
				EventStoreDuration.Record(ctx, float64(time.Since(startedAt).Milliseconds()),
					metric.WithAttributes(AttrOperation.String(operation)),
				)
				span.End()
				return nil, io.EOF
			}

			EventStoreErrors.Add(ctx, 1)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return nil, err
		}

		eventCount++
		EventsLoaded.Add(ctx, 1)
		return iter.Value(), nil
	})
}
