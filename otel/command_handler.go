package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chronicle-io/chronicle"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// WithCommandTelemetry wraps a CommandHandler with OpenTelemetry tracing and
// metrics. Each invocation produces a span carrying the command type,
// aggregate ID, and the resulting stream position, plus counters for
// handled, failed, and conflicting commands.
//
// Concurrency conflicts and business rule violations are recorded as span
// events rather than error status: the operation itself executed as
// designed.
func WithCommandTelemetry[C chronicle.Command](next chronicle.CommandHandler[C]) chronicle.CommandHandler[C] {
	var zero C
	commandType := fmt.Sprintf("%T", zero)

	baseAttributes := []attribute.KeyValue{
		AttrCommandType.String(commandType),
	}

	return func(ctx context.Context, cmd C) (chronicle.AppendResult, error) {
		attr := append(baseAttributes, AttrAggregateID.String(cmd.AggregateID()))

		ctx, span := tracer.Start(ctx, fmt.Sprintf("command.handle %s", commandType),
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(attr...),
		)
		defer span.End()

		CommandsInFlight.Add(ctx, 1, metric.WithAttributes(AttrCommandType.String(commandType)))
		defer CommandsInFlight.Add(ctx, -1, metric.WithAttributes(AttrCommandType.String(commandType)))

		startTime := time.Now()
		result, err := next(ctx, cmd)

		span.SetAttributes(
			AttrStreamID.String(result.StreamID),
			AttrStreamVersion.Int64(int64(result.NextExpectedVersion)),
		)

		CommandsDuration.Record(ctx, float64(time.Since(startTime).Milliseconds()),
			metric.WithAttributes(AttrCommandType.String(commandType)))

		if err != nil {
			var conflict *chronicle.StreamRevisionConflictError
			if errors.As(err, &conflict) {
				ConcurrencyConflicts.Add(ctx, 1, metric.WithAttributes(AttrCommandType.String(commandType)))
				span.AddEvent("concurrency_conflict", trace.WithAttributes(
					AttrStreamID.String(result.StreamID),
				))
			}

			if chronicle.IsBusinessRuleViolation(err) {
				span.SetStatus(codes.Ok, "")
				span.AddEvent("business_rule_violation", trace.WithAttributes(
					AttrCommandType.String(commandType),
					AttrAggregateID.String(cmd.AggregateID()),
				))
				CommandsFailed.Add(ctx, 1, metric.WithAttributes(AttrCommandType.String(commandType)))
				return result, err
			}

			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
			CommandsFailed.Add(ctx, 1, metric.WithAttributes(AttrCommandType.String(commandType)))
			return result, err
		}

		span.SetStatus(codes.Ok, "")
		CommandsHandled.Add(ctx, 1, metric.WithAttributes(AttrCommandType.String(commandType)))

		return result, nil
	}
}
