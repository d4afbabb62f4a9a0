package logging

import (
	"context"
	"log/slog"

	"github.com/chronicle-io/chronicle"
)

// WithEventLogging wraps an EventHandler so that every delivered event is
// logged together with its stream position and correlation data.
func WithEventLogging(logger *slog.Logger, next chronicle.EventHandler) chronicle.EventHandler {
	return chronicle.NewEventHandlerFunc(func(ctx context.Context, event chronicle.Event) error {
		l := logger.With(
			"stream-id", chronicle.StreamIDFromContext(ctx),
			"event-id", chronicle.EventIDFromContext(ctx),
			"causation", chronicle.CausationFromContext(ctx),
			"correlation", chronicle.CorrelationFromContext(ctx),
			"version", chronicle.VersionFromContext(ctx),
			"global-seq", chronicle.GlobalSeqFromContext(ctx),
		)

		l.DebugContext(ctx, "event processing started")

		err := next.Handle(ctx, event)

		if err != nil {
			l.ErrorContext(ctx, "error processing event", "error", err)
		} else {
			l.DebugContext(ctx, "event processed successfully")
		}

		return err
	})
}
