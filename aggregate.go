package chronicle

import (
	"context"
	"time"

	"github.com/google/uuid"
)

var now = time.Now

// StreamName derives the stream identifier for an aggregate instance. The
// mapping is deterministic and collision-free as long as aggregate type
// names do not contain "-" followed by another type's ID space, which the
// "{Type}-{id}" convention avoids in practice.
func StreamName(aggregateType, id string) string {
	return aggregateType + "-" + id
}

// Aggregate is the interface that all event-sourced aggregates implement.
// Aggregates are private, single-owner, in-process objects: the repository
// constructs a fresh instance per load and they are never shared across
// goroutines.
type Aggregate interface {
	// EntityID returns the unique identifier of the aggregate instance.
	EntityID() string

	// AggregateType returns the stable type name used in stream naming.
	AggregateType() string

	// AggregateVersion returns the version of the aggregate, equal to the
	// highest applied event's version.
	AggregateVersion() uint64

	// SetAggregateVersion sets the version of the aggregate.
	SetAggregateVersion(version uint64)

	// UncommittedEvents returns the events staged during the current unit
	// of work, in the order they were recorded.
	UncommittedEvents() []Envelope

	// ClearUncommittedEvents drops the staged events after a successful
	// save.
	ClearUncommittedEvents()

	// ApplyEvent is the single state-transition entry point. It must be
	// deterministic, free of I/O, and tolerant of event kinds it does not
	// recognize (they leave state unchanged).
	ApplyEvent(event Event)
}

// AggregateBase is the embeddable bookkeeping half of an aggregate: identity,
// version and the uncommitted-events buffer. Concrete aggregates embed a
// *AggregateBase and implement ApplyEvent plus their business methods.
type AggregateBase struct {
	id     string
	typ    string
	v      uint64
	events []Envelope
}

// NewAggregateBase creates the base for an aggregate instance.
func NewAggregateBase(aggregateType, id string) *AggregateBase {
	return &AggregateBase{
		id:     id,
		typ:    aggregateType,
		events: make([]Envelope, 0),
	}
}

// EntityID implements Aggregate.
func (a *AggregateBase) EntityID() string {
	return a.id
}

// AggregateType implements Aggregate.
func (a *AggregateBase) AggregateType() string {
	return a.typ
}

// AggregateVersion implements Aggregate.
func (a *AggregateBase) AggregateVersion() uint64 {
	return a.v
}

// SetAggregateVersion implements Aggregate.
func (a *AggregateBase) SetAggregateVersion(v uint64) {
	a.v = v
}

// UncommittedEvents implements Aggregate.
func (a *AggregateBase) UncommittedEvents() []Envelope {
	return a.events
}

// ClearUncommittedEvents implements Aggregate.
func (a *AggregateBase) ClearUncommittedEvents() {
	a.events = nil
}

// Record is called by business methods after their invariants have passed:
// it applies the event to the owner, bumps the version, and stages the
// envelope in the uncommitted buffer. The owner argument is the embedding
// aggregate itself, so Record can reach its ApplyEvent.
func (a *AggregateBase) Record(owner Aggregate, event Event, options ...EventOption) {
	owner.ApplyEvent(event)
	a.v++

	envelope := Envelope{
		EventID:    uuid.New(),
		StreamID:   StreamName(a.typ, a.id),
		Metadata:   make(map[string]any),
		Event:      event,
		Version:    a.v,
		OccurredAt: now().UTC(),
	}
	for _, option := range options {
		option(&envelope)
	}

	a.events = append(a.events, envelope)
}

// LoadFromHistory replays envelopes onto the aggregate in ascending version
// order, tracking the version and bypassing the uncommitted buffer. Replay
// is side-effect-free: it only calls ApplyEvent.
func LoadFromHistory(ctx context.Context, agg Aggregate, iter *Iterator[*Envelope]) error {
	for iter.Next(ctx) {
		envelope := iter.Value()
		agg.ApplyEvent(envelope.Event)
		agg.SetAggregateVersion(envelope.Version)
	}
	return iter.Err()
}
