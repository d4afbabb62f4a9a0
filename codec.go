package chronicle

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// StoredEvent is the durable record shape shared by the persistent stores.
type StoredEvent struct {
	EventID       uuid.UUID       `json:"event_id"`
	StreamID      string          `json:"stream_id"`
	EventType     string          `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	Version       uint64          `json:"version"`
	GlobalSeq     uint64          `json:"global_seq"`
	Data          json.RawMessage `json:"data"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	CausationID   uuid.UUID       `json:"causation_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Codec converts between in-memory envelopes and stored records using a
// registry for type resolution and schema upcasting.
type Codec struct {
	registry *Registry
}

// NewCodec binds a codec to a registry.
func NewCodec(registry *Registry) *Codec {
	return &Codec{registry: registry}
}

// Registry returns the registry the codec resolves event types against.
func (c *Codec) Registry() *Registry {
	return c.registry
}

// Encode serializes an envelope into its stored record. An envelope without
// an explicit schema version is stamped with the registry's latest version
// for its event type.
func (c *Codec) Encode(env *Envelope) (*StoredEvent, error) {
	data, err := json.Marshal(env.Event)
	if err != nil {
		return nil, WrapEventStoreError(fmt.Errorf("marshal event %q: %w", env.Event.EventType(), err))
	}

	schemaVersion := env.SchemaVersion
	if schemaVersion <= 0 {
		schemaVersion = c.registry.SchemaVersion(env.Event.EventType())
	}

	return &StoredEvent{
		EventID:       env.EventID,
		StreamID:      env.StreamID,
		EventType:     env.Event.EventType(),
		SchemaVersion: schemaVersion,
		Version:       env.Version,
		GlobalSeq:     env.GlobalSeq,
		Data:          data,
		Metadata:      env.Metadata,
		CorrelationID: env.CorrelationID,
		CausationID:   env.CausationID,
		OccurredAt:    env.OccurredAt,
	}, nil
}

// Decode deserializes a stored record back into an envelope, upcasting the
// payload to the latest schema so aggregates only ever apply the current
// in-memory shape.
//
// An unregistered event type returns *UnknownEventTypeError; callers consult
// the registry's UnknownEventMode to decide between skipping the event with
// a warning and failing the replay.
func (c *Codec) Decode(rec *StoredEvent) (*Envelope, error) {
	prototype, err := c.registry.New(rec.EventType)
	if err != nil {
		var unknown *UnknownEventTypeError
		if errors.As(err, &unknown) {
			return nil, &UnknownEventTypeError{EventType: rec.EventType, Stream: rec.StreamID}
		}
		return nil, WrapEventStoreError(err)
	}

	data, _, err := c.registry.Upcast(rec.EventType, rec.SchemaVersion, rec.Data)
	if err != nil {
		return nil, WrapEventStoreError(err)
	}

	// Unmarshal through a pointer to the prototype's dynamic type, then
	// hand back the value so decoded events compare equal to recorded ones.
	ptr := reflect.New(reflect.TypeOf(prototype))
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, WrapEventStoreError(fmt.Errorf("unmarshal event %q: %w", rec.EventType, err))
	}
	event, ok := ptr.Elem().Interface().(Event)
	if !ok {
		return nil, WrapEventStoreError(fmt.Errorf("decoded %q does not implement Event", rec.EventType))
	}

	return &Envelope{
		EventID:       rec.EventID,
		StreamID:      rec.StreamID,
		CorrelationID: rec.CorrelationID,
		CausationID:   rec.CausationID,
		SchemaVersion: c.registry.SchemaVersion(rec.EventType),
		Metadata:      rec.Metadata,
		Event:         event,
		Version:       rec.Version,
		GlobalSeq:     rec.GlobalSeq,
		OccurredAt:    rec.OccurredAt,
	}, nil
}
