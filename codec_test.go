package chronicle_test

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	chronicle "github.com/chronicle-io/chronicle"
)

func TestCodecRoundTrip(t *testing.T) {
	codec := chronicle.NewCodec(newTaskRegistry())

	original := &chronicle.Envelope{
		EventID:       uuid.New(),
		StreamID:      "Task-t1",
		CorrelationID: uuid.New(),
		CausationID:   uuid.New(),
		Metadata:      map[string]any{"tenant": "acme"},
		Event:         TaskCreated{ID: "t1", Title: "write docs"},
		Version:       4,
		GlobalSeq:     17,
		OccurredAt:    time.Now().UTC().Truncate(time.Millisecond),
	}

	record, err := codec.Encode(original)
	if err != nil {
		t.Fatal(err)
	}
	if record.EventType != "TaskCreated" {
		t.Errorf("EventType = %q, want %q", record.EventType, "TaskCreated")
	}
	if record.SchemaVersion != 1 {
		t.Errorf("SchemaVersion = %d, want 1", record.SchemaVersion)
	}

	decoded, err := codec.Decode(record)
	if err != nil {
		t.Fatal(err)
	}

	if decoded.EventID != original.EventID {
		t.Errorf("EventID = %v, want %v", decoded.EventID, original.EventID)
	}
	if decoded.Version != original.Version || decoded.GlobalSeq != original.GlobalSeq {
		t.Errorf("position = (%d,%d), want (%d,%d)",
			decoded.Version, decoded.GlobalSeq, original.Version, original.GlobalSeq)
	}
	if !reflect.DeepEqual(decoded.Event, original.Event) {
		t.Errorf("Event = %#v, want %#v", decoded.Event, original.Event)
	}
	if !decoded.OccurredAt.Equal(original.OccurredAt) {
		t.Errorf("OccurredAt = %v, want %v", decoded.OccurredAt, original.OccurredAt)
	}
}

func TestCodecDecodeUpcasts(t *testing.T) {
	r := chronicle.NewRegistry()
	r.Register(func() chronicle.Event { return TaskCreated{} }, chronicle.AtSchemaVersion(2))
	r.RegisterUpcaster("TaskCreated", 1, func(data json.RawMessage) (json.RawMessage, error) {
		var v1 struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		if err := json.Unmarshal(data, &v1); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"id": v1.ID, "title": v1.Name})
	})

	codec := chronicle.NewCodec(r)
	record := &chronicle.StoredEvent{
		EventID:       uuid.New(),
		StreamID:      "Task-t1",
		EventType:     "TaskCreated",
		SchemaVersion: 1,
		Version:       1,
		Data:          json.RawMessage(`{"id":"t1","name":"old shape"}`),
		OccurredAt:    time.Now().UTC(),
	}

	decoded, err := codec.Decode(record)
	if err != nil {
		t.Fatal(err)
	}

	ev, ok := decoded.Event.(TaskCreated)
	if !ok {
		t.Fatalf("Event = %T, want TaskCreated", decoded.Event)
	}
	if ev.Title != "old shape" {
		t.Errorf("Title = %q, want %q", ev.Title, "old shape")
	}
	if decoded.SchemaVersion != 2 {
		t.Errorf("SchemaVersion = %d, want 2", decoded.SchemaVersion)
	}
}

func TestCodecDecodeUnknownType(t *testing.T) {
	codec := chronicle.NewCodec(newTaskRegistry())

	record := &chronicle.StoredEvent{
		EventID:   uuid.New(),
		StreamID:  "Task-t1",
		EventType: "RetiredEvent",
		Version:   1,
		Data:      json.RawMessage(`{}`),
	}

	_, err := codec.Decode(record)
	var unknown *chronicle.UnknownEventTypeError
	if !errors.As(err, &unknown) {
		t.Fatalf("error = %v, want *UnknownEventTypeError", err)
	}
	if unknown.EventType != "RetiredEvent" || unknown.Stream != "Task-t1" {
		t.Errorf("unknown = %+v", unknown)
	}
}

func TestCodecEncodeKeepsExplicitSchemaVersion(t *testing.T) {
	r := chronicle.NewRegistry()
	r.Register(func() chronicle.Event { return TaskCreated{} }, chronicle.AtSchemaVersion(3))
	codec := chronicle.NewCodec(r)

	env := &chronicle.Envelope{
		EventID:       uuid.New(),
		StreamID:      "Task-t1",
		SchemaVersion: 2,
		Event:         TaskCreated{ID: "t1"},
		Version:       1,
	}
	record, err := codec.Encode(env)
	if err != nil {
		t.Fatal(err)
	}
	if record.SchemaVersion != 2 {
		t.Errorf("SchemaVersion = %d, want the explicit 2", record.SchemaVersion)
	}
}
