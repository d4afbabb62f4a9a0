package chronicle_test

import (
	"testing"

	chronicle "github.com/chronicle-io/chronicle"
)

func TestApplyRouterDispatchesByType(t *testing.T) {
	router := chronicle.NewApplyRouter()

	var created, completed int
	chronicle.OnAggregateEvent(router, func(e TaskCreated) { created++ })
	chronicle.OnAggregateEvent(router, func(e TaskCompleted) { completed++ })

	if !router.Apply(TaskCreated{ID: "t-1", Title: "write docs"}) {
		t.Fatal("TaskCreated route did not match")
	}
	if !router.Apply(TaskCompleted{ID: "t-1"}) {
		t.Fatal("TaskCompleted route did not match")
	}
	if created != 1 || completed != 1 {
		t.Fatalf("created = %d, completed = %d, want 1 and 1", created, completed)
	}
}

func TestApplyRouterUnmatchedEventReportsFalse(t *testing.T) {
	router := chronicle.NewApplyRouter()
	chronicle.OnAggregateEvent(router, func(e TaskCreated) {
		t.Fatal("route ran for a foreign event type")
	})

	if router.Apply(TaskCompleted{ID: "t-1"}) {
		t.Fatal("unregistered event type reported as matched")
	}
}

func TestApplyRouterCarriesEventPayload(t *testing.T) {
	router := chronicle.NewApplyRouter()

	var title string
	chronicle.OnAggregateEvent(router, func(e TaskCreated) { title = e.Title })

	router.Apply(TaskCreated{ID: "t-1", Title: "ship release"})
	if title != "ship release" {
		t.Fatalf("title = %q, want %q", title, "ship release")
	}
}
