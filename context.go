package chronicle

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ctxKey string

const (
	streamIDKey    ctxKey = "streamID"
	eventIDKey     ctxKey = "eventID"
	versionKey     ctxKey = "version"
	globalSeqKey   ctxKey = "globalSeq"
	occurredAtKey  ctxKey = "occurredAt"
	metadataKey    ctxKey = "metadata"
	correlationKey ctxKey = "correlationID"
	causationKey   ctxKey = "causationID"
)

// WithEnvelope records the envelope's facts in the context for handlers and
// middleware downstream of a dispatch.
func WithEnvelope(ctx context.Context, env *Envelope) context.Context {
	ctx = context.WithValue(ctx, streamIDKey, env.StreamID)
	ctx = context.WithValue(ctx, eventIDKey, env.EventID)
	ctx = context.WithValue(ctx, versionKey, env.Version)
	ctx = context.WithValue(ctx, globalSeqKey, env.GlobalSeq)
	ctx = context.WithValue(ctx, occurredAtKey, env.OccurredAt)
	ctx = context.WithValue(ctx, metadataKey, env.Metadata)
	ctx = context.WithValue(ctx, correlationKey, env.CorrelationID)
	ctx = context.WithValue(ctx, causationKey, env.EventID)
	return ctx
}

// WithCorrelation seeds the correlation and causation IDs for a command
// chain that did not originate from an event.
func WithCorrelation(ctx context.Context, correlationID, causationID uuid.UUID) context.Context {
	ctx = context.WithValue(ctx, correlationKey, correlationID)
	ctx = context.WithValue(ctx, causationKey, causationID)
	return ctx
}

// StreamIDFromContext returns the stream ID or "" if not present.
func StreamIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(streamIDKey).(string); ok {
		return s
	}
	return ""
}

// EventIDFromContext returns the event ID or uuid.Nil if not present.
func EventIDFromContext(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(eventIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// VersionFromContext returns the stream version or 0 if not present.
func VersionFromContext(ctx context.Context) uint64 {
	if v, ok := ctx.Value(versionKey).(uint64); ok {
		return v
	}
	return 0
}

// GlobalSeqFromContext returns the global sequence or 0 if not present.
func GlobalSeqFromContext(ctx context.Context) uint64 {
	if v, ok := ctx.Value(globalSeqKey).(uint64); ok {
		return v
	}
	return 0
}

// OccurredAtFromContext returns the event timestamp or the zero time.
func OccurredAtFromContext(ctx context.Context) time.Time {
	if t, ok := ctx.Value(occurredAtKey).(time.Time); ok {
		return t
	}
	return time.Time{}
}

// MetadataFromContext returns the envelope metadata or nil.
func MetadataFromContext(ctx context.Context) map[string]any {
	if md, ok := ctx.Value(metadataKey).(map[string]any); ok {
		return md
	}
	return nil
}

// CorrelationFromContext returns the chain's correlation ID or uuid.Nil.
func CorrelationFromContext(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(correlationKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// CausationFromContext returns the causing message's ID or uuid.Nil. Inside
// an event-triggered handler this is the triggering event's ID, so commands
// issued from projections carry the full causal chain.
func CausationFromContext(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(causationKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}
