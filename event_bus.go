package chronicle

import "context"

// SubscriberOption configures a subscription; concrete buses define their
// own options.
type SubscriberOption func(cfg any)

// EventBus fans committed events out to registered subscribers. Delivery to
// each subscriber preserves per-stream version order; ordering across
// streams is not guaranteed. Subscribers receive committed events at least
// once and must project idempotently.
type EventBus interface {
	// Subscribe registers a named handler with a filter deciding which
	// events it receives. The subscription is removed when ctx is done.
	Subscribe(ctx context.Context, name string, filter func(Event) bool, handler EventHandler, options ...SubscriberOption) error

	// Dispatch delivers one committed envelope to all matching subscribers.
	Dispatch(ctx context.Context, envelope *Envelope) error

	// Errors returns the channel where asynchronous handler errors are sent.
	Errors() <-chan error

	// Close shuts the bus down and waits for in-flight handlers to finish.
	Close() error
}
