package chronicle

import (
	"context"
	"fmt"
	"sort"
)

// EventHandler processes a single event, typically to update a projection.
// Committed events are delivered at least once, so handlers must be
// idempotent.
type EventHandler interface {
	Handle(ctx context.Context, event Event) error
}

// NewEventHandlerFunc wraps a plain function as an EventHandler. The
// function receives every event it is invoked with; use OnEvent for
// type-filtered handling.
func NewEventHandlerFunc(fn func(ctx context.Context, event Event) error) EventHandler {
	return eventHandlerFunc(fn)
}

type eventHandlerFunc func(ctx context.Context, event Event) error

func (h eventHandlerFunc) Handle(ctx context.Context, event Event) error {
	return h(ctx, event)
}

// typedEventHandler is a strongly typed event handler for a specific Event type T.
type typedEventHandler[T Event] func(ctx context.Context, ev T) error

// EventName returns the stable event type name of T, used for routing.
func (h typedEventHandler[T]) EventName() string {
	var zero T
	return zero.EventType()
}

func (h typedEventHandler[T]) Handle(ctx context.Context, event Event) error {
	ev, ok := event.(T)
	if !ok {
		return &ErrSkippedEvent{Event: event}
	}
	return h(ctx, ev)
}

// OnEvent creates a strongly typed EventHandler for one event type. Inside
// an EventGroupProcessor the handler only ever sees events of type T; called
// directly with anything else it returns *ErrSkippedEvent.
//
//	group := NewEventGroupProcessor(
//	    OnEvent(p.OnAccountOpened),
//	    OnEvent(p.OnMoneyDeposited),
//	)
func OnEvent[T Event](fn func(ctx context.Context, ev T) error) EventHandler {
	return typedEventHandler[T](fn)
}

// EventGroupProcessor routes incoming events to the typed handler registered
// for their event type. Events without a handler are skipped, which lets one
// group subscribe to a stream that also carries event kinds it does not
// project.
type EventGroupProcessor struct {
	handlers map[string]EventHandler
}

// NewEventGroupProcessor builds a group from typed handlers created with
// OnEvent. It panics on handlers without an EventName and on duplicates;
// both are startup wiring mistakes.
func NewEventGroupProcessor(handlers ...EventHandler) *EventGroupProcessor {
	m := make(map[string]EventHandler, len(handlers))
	for _, h := range handlers {
		u, ok := h.(interface{ EventName() string })
		if !ok {
			panic(fmt.Errorf("handler %T does not expose EventName()", h))
		}

		name := u.EventName()
		if _, exists := m[name]; exists {
			panic(fmt.Errorf("duplicate handler for event %s: %w", name, ErrDuplicateHandler))
		}
		m[name] = h
	}

	return &EventGroupProcessor{
		handlers: m,
	}
}

// Handle routes the event to its typed handler, or returns *ErrSkippedEvent
// when no handler covers its type.
func (p *EventGroupProcessor) Handle(ctx context.Context, ev Event) error {
	h, ok := p.handlers[ev.EventType()]
	if !ok {
		return &ErrSkippedEvent{Event: ev}
	}
	return h.Handle(ctx, ev)
}

// StreamFilter returns the sorted list of event type names this group
// handles, for use as a subscription filter.
func (p *EventGroupProcessor) StreamFilter() []string {
	out := make([]string, 0, len(p.handlers))
	for name := range p.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
