package chronicle

import (
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Event is a domain event describing a change that has happened to an aggregate.
type Event interface {
	AggregateID() string
	EventType() string
}

// Envelope carries an Event together with the storage-level facts about it.
// Version and GlobalSeq are assigned by the event store at append time and
// are zero on envelopes that have not been committed yet.
type Envelope struct {
	EventID       uuid.UUID
	StreamID      string
	CorrelationID uuid.UUID
	CausationID   uuid.UUID
	SchemaVersion int
	Metadata      map[string]any
	Event         Event
	Version       uint64
	GlobalSeq     uint64
	OccurredAt    time.Time
}

// EventOption mutates an envelope at construction time.
type EventOption func(*Envelope)

// WithMetadata adds a single metadata key to the envelope.
func WithMetadata(key string, value any) EventOption {
	return func(env *Envelope) {
		if env.Metadata == nil {
			env.Metadata = make(map[string]any)
		}
		env.Metadata[key] = value
	}
}

// WithCorrelationID tags the envelope with the ID shared by a whole
// command/event/downstream-command chain.
func WithCorrelationID(id uuid.UUID) EventOption {
	return func(env *Envelope) { env.CorrelationID = id }
}

// WithCausationID tags the envelope with the ID of the message that directly
// caused it.
func WithCausationID(id uuid.UUID) EventOption {
	return func(env *Envelope) { env.CausationID = id }
}

// WithSchemaVersion overrides the payload schema version. When left unset,
// the registry's latest known version for the event type is recorded at
// encode time.
func WithSchemaVersion(v int) EventOption {
	return func(env *Envelope) { env.SchemaVersion = v }
}

// TypeName returns the bare type name of v, used as the routing key for
// commands and queries. Events use their stable EventType() instead.
func TypeName(v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return ""
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
