package otel

import (
	"github.com/chronicle-io/chronicle"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/chronicle-io/chronicle/otel"
)

// Semantic attribute keys following OpenTelemetry conventions
const (
	// Command attributes
	AttrCommandType = attribute.Key("chronicle.command.type")
	AttrAggregateID = attribute.Key("chronicle.aggregate.id")

	// Stream attributes
	AttrStreamID      = attribute.Key("chronicle.stream.id")
	AttrStreamVersion = attribute.Key("chronicle.stream.version")

	// Event attributes
	AttrEventType      = attribute.Key("chronicle.event.type")
	AttrEventID        = attribute.Key("chronicle.event.id")
	AttrEventCount     = attribute.Key("chronicle.events.count")
	AttrEventGlobalPos = attribute.Key("chronicle.event.global_position")
	AttrEventStreamPos = attribute.Key("chronicle.event.stream_position")

	// EventBus attributes
	AttrSubscriberName = attribute.Key("chronicle.subscriber.name")
	AttrHandlerName    = attribute.Key("chronicle.handler.name")

	// Error attributes
	AttrErrorType = attribute.Key("chronicle.error.type")

	// Operation attributes
	AttrOperation = attribute.Key("chronicle.operation")
)

var (
	meter  = otel.Meter(instrumentationName, metric.WithInstrumentationVersion(chronicle.InstrumentationVersion))
	tracer = otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(chronicle.InstrumentationVersion))

	// Command metrics
	CommandsHandled, _ = meter.Int64Counter(
		"chronicle.commands.handled",
		metric.WithDescription("Total number of commands handled"),
		metric.WithUnit("{command}"),
	)

	CommandsDuration, _ = meter.Float64Histogram(
		"chronicle.commands.duration",
		metric.WithDescription("Command handling duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000),
	)

	CommandsInFlight, _ = meter.Int64UpDownCounter(
		"chronicle.commands.in_flight",
		metric.WithDescription("Number of commands currently being processed"),
		metric.WithUnit("{command}"),
	)

	CommandsFailed, _ = meter.Int64Counter(
		"chronicle.commands.failed",
		metric.WithDescription("Number of failed commands"),
		metric.WithUnit("{command}"),
	)

	// Event metrics
	EventsAppended, _ = meter.Int64Counter(
		"chronicle.events.appended",
		metric.WithDescription("Number of events appended to streams"),
		metric.WithUnit("{event}"),
	)

	EventsLoaded, _ = meter.Int64Counter(
		"chronicle.events.loaded",
		metric.WithDescription("Number of events loaded from streams"),
		metric.WithUnit("{event}"),
	)

	// EventBus metrics
	EventBusHandled, _ = meter.Int64Counter(
		"chronicle.eventbus.handled",
		metric.WithDescription("Number of events handled by subscribers"),
		metric.WithUnit("{event}"),
	)

	EventBusErrors, _ = meter.Int64Counter(
		"chronicle.eventbus.errors",
		metric.WithDescription("Number of event bus handler errors"),
		metric.WithUnit("{error}"),
	)

	EventBusDuration, _ = meter.Float64Histogram(
		"chronicle.eventbus.duration",
		metric.WithDescription("Event bus handler duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)

	// EventStore metrics
	EventStoreSaves, _ = meter.Int64Counter(
		"chronicle.eventstore.saves",
		metric.WithDescription("Number of save operations"),
		metric.WithUnit("{operation}"),
	)

	EventStoreDuration, _ = meter.Float64Histogram(
		"chronicle.eventstore.duration",
		metric.WithDescription("Event store operation duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)

	EventStoreErrors, _ = meter.Int64Counter(
		"chronicle.eventstore.errors",
		metric.WithDescription("Number of event store errors"),
		metric.WithUnit("{error}"),
	)

	// System metrics
	ConcurrencyConflicts, _ = meter.Int64Counter(
		"chronicle.concurrency.conflicts",
		metric.WithDescription("Number of concurrency conflicts"),
		metric.WithUnit("{conflict}"),
	)
)
