package chronicle_test

import (
	"encoding/json"
	"errors"
	"testing"

	chronicle "github.com/chronicle-io/chronicle"
)

func TestRegistryRegisterAndNew(t *testing.T) {
	r := newTaskRegistry()

	ev, err := r.New("TaskCreated")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ev.(TaskCreated); !ok {
		t.Fatalf("expected TaskCreated, got %T", ev)
	}
}

func TestRegistryUnknownType(t *testing.T) {
	r := newTaskRegistry()

	_, err := r.New("NeverRegistered")
	if err == nil {
		t.Fatal("expected error for unregistered event type")
	}

	var unknown *chronicle.UnknownEventTypeError
	if !errors.As(err, &unknown) {
		t.Fatalf("error = %T, want *UnknownEventTypeError", err)
	}
	if unknown.EventType != "NeverRegistered" {
		t.Errorf("EventType = %q, want %q", unknown.EventType, "NeverRegistered")
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	r := newTaskRegistry()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	r.Register(func() chronicle.Event { return TaskCreated{} })
}

func TestRegistryNilFactoryPanics(t *testing.T) {
	r := chronicle.NewRegistry()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on nil factory")
		}
	}()
	r.Register(nil)
}

func TestRegistrySchemaVersionDefaults(t *testing.T) {
	r := chronicle.NewRegistry()
	r.Register(func() chronicle.Event { return TaskCreated{} })
	r.Register(func() chronicle.Event { return TaskCompleted{} }, chronicle.AtSchemaVersion(3))

	if got := r.SchemaVersion("TaskCreated"); got != 1 {
		t.Errorf("SchemaVersion(TaskCreated) = %d, want 1", got)
	}
	if got := r.SchemaVersion("TaskCompleted"); got != 3 {
		t.Errorf("SchemaVersion(TaskCompleted) = %d, want 3", got)
	}
}

func TestRegistryUpcastChain(t *testing.T) {
	r := chronicle.NewRegistry()
	r.Register(func() chronicle.Event { return TaskCreated{} }, chronicle.AtSchemaVersion(3))

	// v1 -> v2: rename "name" to "label"
	r.RegisterUpcaster("TaskCreated", 1, func(data json.RawMessage) (json.RawMessage, error) {
		var v1 struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		if err := json.Unmarshal(data, &v1); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"id": v1.ID, "label": v1.Name})
	})

	// v2 -> v3: rename "label" to "title"
	r.RegisterUpcaster("TaskCreated", 2, func(data json.RawMessage) (json.RawMessage, error) {
		var v2 struct {
			ID    string `json:"id"`
			Label string `json:"label"`
		}
		if err := json.Unmarshal(data, &v2); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"id": v2.ID, "title": v2.Label})
	})

	data, version, err := r.Upcast("TaskCreated", 1, json.RawMessage(`{"id":"t1","name":"write tests"}`))
	if err != nil {
		t.Fatal(err)
	}
	if version != 3 {
		t.Errorf("upcast ended at schema %d, want 3", version)
	}

	var ev TaskCreated
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Title != "write tests" {
		t.Errorf("Title = %q, want %q", ev.Title, "write tests")
	}
}

func TestRegistryUpcastLatestIsNoop(t *testing.T) {
	r := chronicle.NewRegistry()
	r.Register(func() chronicle.Event { return TaskCreated{} }, chronicle.AtSchemaVersion(2))

	in := json.RawMessage(`{"id":"t1","title":"done"}`)
	out, version, err := r.Upcast("TaskCreated", 2, in)
	if err != nil {
		t.Fatal(err)
	}
	if version != 2 {
		t.Errorf("version = %d, want 2", version)
	}
	if string(out) != string(in) {
		t.Errorf("payload changed on noop upcast: %s", out)
	}
}

func TestRegistryDuplicateUpcasterPanics(t *testing.T) {
	r := chronicle.NewRegistry()
	up := func(data json.RawMessage) (json.RawMessage, error) { return data, nil }
	r.RegisterUpcaster("TaskCreated", 1, up)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate upcaster")
		}
	}()
	r.RegisterUpcaster("TaskCreated", 1, up)
}
