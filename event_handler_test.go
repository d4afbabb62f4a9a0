package chronicle_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	chronicle "github.com/chronicle-io/chronicle"
)

func TestOnEventHandlesMatchingType(t *testing.T) {
	var got TaskCreated
	handler := chronicle.OnEvent(func(ctx context.Context, ev TaskCreated) error {
		got = ev
		return nil
	})

	if err := handler.Handle(context.Background(), TaskCreated{ID: "t1", Title: "x"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "t1" {
		t.Errorf("handler saw %+v", got)
	}
}

func TestOnEventSkipsOtherTypes(t *testing.T) {
	handler := chronicle.OnEvent(func(ctx context.Context, ev TaskCreated) error {
		t.Fatal("handler must not run for foreign event type")
		return nil
	})

	err := handler.Handle(context.Background(), TaskCompleted{ID: "t1"})

	var skipped *chronicle.ErrSkippedEvent
	if !errors.As(err, &skipped) {
		t.Fatalf("error = %v, want *ErrSkippedEvent", err)
	}
}

func TestOnEventExposesEventName(t *testing.T) {
	handler := chronicle.OnEvent(func(ctx context.Context, ev TaskCreated) error { return nil })

	named, ok := handler.(interface{ EventName() string })
	if !ok {
		t.Fatalf("handler %T does not expose EventName()", handler)
	}
	if named.EventName() != "TaskCreated" {
		t.Errorf("EventName() = %q, want %q", named.EventName(), "TaskCreated")
	}
}

func TestEventGroupProcessorRoutes(t *testing.T) {
	var created, completed int
	group := chronicle.NewEventGroupProcessor(
		chronicle.OnEvent(func(ctx context.Context, ev TaskCreated) error {
			created++
			return nil
		}),
		chronicle.OnEvent(func(ctx context.Context, ev TaskCompleted) error {
			completed++
			return nil
		}),
	)

	ctx := context.Background()
	if err := group.Handle(ctx, TaskCreated{ID: "t1"}); err != nil {
		t.Fatal(err)
	}
	if err := group.Handle(ctx, TaskCompleted{ID: "t1"}); err != nil {
		t.Fatal(err)
	}
	if created != 1 || completed != 1 {
		t.Errorf("created=%d completed=%d, want 1 and 1", created, completed)
	}
}

func TestEventGroupProcessorSkipsUnhandled(t *testing.T) {
	group := chronicle.NewEventGroupProcessor(
		chronicle.OnEvent(func(ctx context.Context, ev TaskCreated) error { return nil }),
	)

	err := group.Handle(context.Background(), TaskCompleted{ID: "t1"})

	var skipped *chronicle.ErrSkippedEvent
	if !errors.As(err, &skipped) {
		t.Fatalf("error = %v, want *ErrSkippedEvent", err)
	}
}

func TestEventGroupProcessorDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate handler")
		}
	}()
	chronicle.NewEventGroupProcessor(
		chronicle.OnEvent(func(ctx context.Context, ev TaskCreated) error { return nil }),
		chronicle.OnEvent(func(ctx context.Context, ev TaskCreated) error { return nil }),
	)
}

func TestEventGroupProcessorStreamFilter(t *testing.T) {
	group := chronicle.NewEventGroupProcessor(
		chronicle.OnEvent(func(ctx context.Context, ev TaskCompleted) error { return nil }),
		chronicle.OnEvent(func(ctx context.Context, ev TaskCreated) error { return nil }),
	)

	want := []string{"TaskCompleted", "TaskCreated"}
	if got := group.StreamFilter(); !reflect.DeepEqual(got, want) {
		t.Errorf("StreamFilter() = %v, want %v", got, want)
	}
}
