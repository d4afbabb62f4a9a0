package fixtures

import (
	"time"

	"github.com/google/uuid"

	"github.com/chronicle-io/chronicle"
)

// EnvelopeOption is a functional option for configuring an Envelope.
type EnvelopeOption func(*chronicle.Envelope)

// NewEnvelope creates an Envelope with the given event and options. The
// stream ID defaults to the Account stream for the event's aggregate.
func NewEnvelope(event chronicle.Event, opts ...EnvelopeOption) *chronicle.Envelope {
	env := &chronicle.Envelope{
		EventID:    uuid.New(),
		StreamID:   chronicle.StreamName(AggregateTypeAccount, event.AggregateID()),
		Event:      event,
		Version:    1,
		GlobalSeq:  1,
		OccurredAt: time.Now().UTC(),
		Metadata:   make(map[string]any),
	}

	for _, opt := range opts {
		opt(env)
	}

	return env
}

// WithEventID sets a specific event ID.
func WithEventID(id uuid.UUID) EnvelopeOption {
	return func(e *chronicle.Envelope) {
		e.EventID = id
	}
}

// WithStreamID overrides the stream ID.
func WithStreamID(id string) EnvelopeOption {
	return func(e *chronicle.Envelope) {
		e.StreamID = id
	}
}

// WithVersion sets the stream version.
func WithVersion(v uint64) EnvelopeOption {
	return func(e *chronicle.Envelope) {
		e.Version = v
	}
}

// WithGlobalSeq sets the global sequence number.
func WithGlobalSeq(v uint64) EnvelopeOption {
	return func(e *chronicle.Envelope) {
		e.GlobalSeq = v
	}
}

// WithTimestamp sets the occurred-at timestamp.
func WithTimestamp(t time.Time) EnvelopeOption {
	return func(e *chronicle.Envelope) {
		e.OccurredAt = t
	}
}

// EnvelopesFromEvents wraps events as envelopes with contiguous versions
// starting at 1.
func EnvelopesFromEvents(events ...chronicle.Event) []*chronicle.Envelope {
	envelopes := make([]*chronicle.Envelope, 0, len(events))
	for i, event := range events {
		envelopes = append(envelopes, NewEnvelope(event,
			WithVersion(uint64(i+1)),
			WithGlobalSeq(uint64(i+1)),
		))
	}
	return envelopes
}
