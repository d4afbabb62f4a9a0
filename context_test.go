package chronicle_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	chronicle "github.com/chronicle-io/chronicle"
)

func TestWithEnvelopeContext(t *testing.T) {
	env := &chronicle.Envelope{
		EventID:       uuid.New(),
		StreamID:      "Task-t1",
		CorrelationID: uuid.New(),
		Metadata:      map[string]any{"tenant": "acme"},
		Event:         TaskCreated{ID: "t1"},
		Version:       7,
		GlobalSeq:     42,
		OccurredAt:    time.Now().UTC(),
	}

	ctx := chronicle.WithEnvelope(context.Background(), env)

	if got := chronicle.StreamIDFromContext(ctx); got != "Task-t1" {
		t.Errorf("StreamIDFromContext = %q, want %q", got, "Task-t1")
	}
	if got := chronicle.EventIDFromContext(ctx); got != env.EventID {
		t.Errorf("EventIDFromContext = %v, want %v", got, env.EventID)
	}
	if got := chronicle.VersionFromContext(ctx); got != 7 {
		t.Errorf("VersionFromContext = %d, want 7", got)
	}
	if got := chronicle.GlobalSeqFromContext(ctx); got != 42 {
		t.Errorf("GlobalSeqFromContext = %d, want 42", got)
	}
	if got := chronicle.OccurredAtFromContext(ctx); !got.Equal(env.OccurredAt) {
		t.Errorf("OccurredAtFromContext = %v, want %v", got, env.OccurredAt)
	}
	if got := chronicle.CorrelationFromContext(ctx); got != env.CorrelationID {
		t.Errorf("CorrelationFromContext = %v, want %v", got, env.CorrelationID)
	}
	md := chronicle.MetadataFromContext(ctx)
	if md["tenant"] != "acme" {
		t.Errorf("MetadataFromContext = %v", md)
	}

	// Commands issued while handling this event are caused by it.
	if got := chronicle.CausationFromContext(ctx); got != env.EventID {
		t.Errorf("CausationFromContext = %v, want the event ID %v", got, env.EventID)
	}
}

func TestContextDefaults(t *testing.T) {
	ctx := context.Background()

	if chronicle.StreamIDFromContext(ctx) != "" {
		t.Error("StreamIDFromContext on empty context must be empty")
	}
	if chronicle.EventIDFromContext(ctx) != uuid.Nil {
		t.Error("EventIDFromContext on empty context must be uuid.Nil")
	}
	if chronicle.VersionFromContext(ctx) != 0 {
		t.Error("VersionFromContext on empty context must be 0")
	}
	if chronicle.MetadataFromContext(ctx) != nil {
		t.Error("MetadataFromContext on empty context must be nil")
	}
}

func TestWithCorrelation(t *testing.T) {
	correlation := uuid.New()
	causation := uuid.New()

	ctx := chronicle.WithCorrelation(context.Background(), correlation, causation)

	if got := chronicle.CorrelationFromContext(ctx); got != correlation {
		t.Errorf("CorrelationFromContext = %v, want %v", got, correlation)
	}
	if got := chronicle.CausationFromContext(ctx); got != causation {
		t.Errorf("CausationFromContext = %v, want %v", got, causation)
	}
}
