package chronicle

import (
	"context"
	"log/slog"
)

// Dispatcher pumps an event store's committed-event feed into an event bus,
// enriching each delivery's context with the envelope so handlers and
// middleware can read stream, version and correlation data.
type Dispatcher struct {
	feed <-chan *Envelope
	bus  EventBus
	log  *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the dispatcher's logger.
func WithDispatcherLogger(log *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = log }
}

// NewDispatcher connects a committed-event feed (usually store.Events()) to
// a bus.
func NewDispatcher(feed <-chan *Envelope, bus EventBus, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		feed: feed,
		bus:  bus,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run forwards envelopes until the feed closes or ctx is done. Dispatch
// errors are logged and do not stop the pump; the pull API remains the
// replayable source of truth for consumers that fall behind.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case envelope, ok := <-d.feed:
			if !ok {
				return nil
			}
			eventCtx := WithEnvelope(ctx, envelope)
			if err := d.bus.Dispatch(eventCtx, envelope); err != nil {
				d.log.ErrorContext(eventCtx, "event dispatch failed",
					"stream_id", envelope.StreamID,
					"event_type", envelope.Event.EventType(),
					"version", envelope.Version,
					"error", err)
			}
		}
	}
}
