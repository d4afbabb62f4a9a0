package memory_test

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/chronicle-io/chronicle"
	"github.com/chronicle-io/chronicle/eventbus/memory"
	"github.com/chronicle-io/chronicle/fixtures"
)

func allEvents(chronicle.Event) bool { return true }

func onlyDeposits(event chronicle.Event) bool {
	return event.EventType() == "MoneyDeposited"
}

func collectingHandler(ch chan<- chronicle.Event) chronicle.EventHandler {
	return chronicle.NewEventHandlerFunc(func(ctx context.Context, event chronicle.Event) error {
		ch <- event
		return nil
	})
}

func TestDispatchFansOutToAllMatchingSubscribers(t *testing.T) {
	bus := memory.NewEventBus(8)
	defer bus.Close()

	first := make(chan chronicle.Event, 4)
	second := make(chan chronicle.Event, 4)

	if err := bus.Subscribe(context.Background(), "first", allEvents, collectingHandler(first)); err != nil {
		t.Fatalf("subscribe first: %v", err)
	}
	if err := bus.Subscribe(context.Background(), "second", allEvents, collectingHandler(second)); err != nil {
		t.Fatalf("subscribe second: %v", err)
	}

	env := fixtures.NewEnvelope(fixtures.MoneyDeposited{ID: "acc-1", Amount: 10})
	if err := bus.Dispatch(context.Background(), env); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	for name, ch := range map[string]chan chronicle.Event{"first": first, "second": second} {
		select {
		case event := <-ch:
			if event.EventType() != "MoneyDeposited" {
				t.Fatalf("%s received %s", name, event.EventType())
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s never received the event", name)
		}
	}
}

func TestFilterLimitsDelivery(t *testing.T) {
	bus := memory.NewEventBus(8)
	defer bus.Close()

	received := make(chan chronicle.Event, 4)
	if err := bus.Subscribe(context.Background(), "deposits", onlyDeposits, collectingHandler(received)); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.Dispatch(context.Background(), fixtures.NewEnvelope(fixtures.AccountOpened{ID: "acc-1", Owner: "ada", InitialBalance: 100})); err != nil {
		t.Fatalf("dispatch opened: %v", err)
	}
	if err := bus.Dispatch(context.Background(), fixtures.NewEnvelope(fixtures.MoneyDeposited{ID: "acc-1", Amount: 10})); err != nil {
		t.Fatalf("dispatch deposit: %v", err)
	}

	select {
	case event := <-received:
		if event.EventType() != "MoneyDeposited" {
			t.Fatalf("filter leaked a %s event", event.EventType())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("deposit never arrived")
	}

	select {
	case event := <-received:
		t.Fatalf("unexpected second delivery: %s", event.EventType())
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDuplicateSubscriberNameRejected(t *testing.T) {
	bus := memory.NewEventBus(8)
	defer bus.Close()

	handler := collectingHandler(make(chan chronicle.Event, 1))
	if err := bus.Subscribe(context.Background(), "projector", allEvents, handler); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	err := bus.Subscribe(context.Background(), "projector", allEvents, handler)
	if !errors.Is(err, chronicle.ErrDuplicateHandler) {
		t.Fatalf("err = %v, want ErrDuplicateHandler", err)
	}
}

func TestHandlerContextCarriesEnvelope(t *testing.T) {
	bus := memory.NewEventBus(8)
	defer bus.Close()

	type seen struct {
		streamID  string
		version   uint64
		globalSeq uint64
	}
	received := make(chan seen, 1)

	err := bus.Subscribe(context.Background(), "ctx-reader", allEvents,
		chronicle.NewEventHandlerFunc(func(ctx context.Context, event chronicle.Event) error {
			received <- seen{
				streamID:  chronicle.StreamIDFromContext(ctx),
				version:   chronicle.VersionFromContext(ctx),
				globalSeq: chronicle.GlobalSeqFromContext(ctx),
			}
			return nil
		}))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	env := fixtures.NewEnvelope(fixtures.MoneyDeposited{ID: "acc-1", Amount: 10},
		fixtures.WithVersion(7), fixtures.WithGlobalSeq(42))
	if err := bus.Dispatch(context.Background(), env); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	select {
	case got := <-received:
		if got.streamID != "Account-acc-1" || got.version != 7 || got.globalSeq != 42 {
			t.Fatalf("context carried %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never arrived")
	}
}

func TestHandlerErrorsSurfaceOnErrorsChannel(t *testing.T) {
	bus := memory.NewEventBus(8)
	defer bus.Close()

	boom := errors.New("projection broken")
	err := bus.Subscribe(context.Background(), "broken", allEvents,
		chronicle.NewEventHandlerFunc(func(ctx context.Context, event chronicle.Event) error {
			return boom
		}))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.Dispatch(context.Background(), fixtures.NewEnvelope(fixtures.MoneyDeposited{ID: "acc-1", Amount: 10})); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	select {
	case err := <-bus.Errors():
		if !errors.Is(err, boom) {
			t.Fatalf("errors channel carried %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler error never surfaced")
	}
}

func TestSkippedEventsAreNotErrors(t *testing.T) {
	bus := memory.NewEventBus(8)
	defer bus.Close()

	err := bus.Subscribe(context.Background(), "deposits-only", allEvents,
		chronicle.OnEvent(func(ctx context.Context, ev fixtures.MoneyDeposited) error {
			return nil
		}))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.Dispatch(context.Background(), fixtures.NewEnvelope(fixtures.AccountOpened{ID: "acc-1", Owner: "ada", InitialBalance: 100})); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	select {
	case err := <-bus.Errors():
		t.Fatalf("skipped event surfaced as error: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscriptionEndsWithItsContext(t *testing.T) {
	bus := memory.NewEventBus(8)
	defer bus.Close()

	received := make(chan chronicle.Event, 4)
	ctx, cancel := context.WithCancel(context.Background())
	if err := bus.Subscribe(ctx, "short-lived", allEvents, collectingHandler(received)); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	cancel()

	// The removal is asynchronous; dispatch until the subscriber is gone,
	// then verify nothing more arrives.
	deadline := time.After(2 * time.Second)
	for {
		if err := bus.Dispatch(context.Background(), fixtures.NewEnvelope(fixtures.MoneyDeposited{ID: "acc-1", Amount: 10})); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		select {
		case <-received:
			select {
			case <-deadline:
				t.Fatal("subscriber kept receiving after its context ended")
			case <-time.After(10 * time.Millisecond):
			}
			continue
		case <-time.After(200 * time.Millisecond):
		}
		return
	}
}

func TestCloseWaitsForInFlightHandlers(t *testing.T) {
	bus := memory.NewEventBus(8)

	started := make(chan struct{})
	var finished sync.WaitGroup
	finished.Add(1)

	err := bus.Subscribe(context.Background(), "slow", allEvents,
		chronicle.NewEventHandlerFunc(func(ctx context.Context, event chronicle.Event) error {
			close(started)
			time.Sleep(200 * time.Millisecond)
			finished.Done()
			return nil
		}))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.Dispatch(context.Background(), fixtures.NewEnvelope(fixtures.MoneyDeposited{ID: "acc-1", Amount: 10})); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	<-started
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	finished.Wait()

	if err := bus.Dispatch(context.Background(), fixtures.NewEnvelope(fixtures.MoneyDeposited{ID: "acc-1", Amount: 10})); err == nil {
		t.Fatal("dispatch on closed bus succeeded")
	}
}

func TestCloseReleasesBackgroundContextWatchers(t *testing.T) {
	baseline := runtime.NumGoroutine()

	bus := memory.NewEventBus(2)
	sink := make(chan chronicle.Event, 64)
	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("watcher-%d", i)
		// A background ctx never cancels; only Close may end the
		// subscription's goroutines.
		if err := bus.Subscribe(context.Background(), name, allEvents, collectingHandler(sink)); err != nil {
			t.Fatalf("subscribe %s: %v", name, err)
		}
	}

	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > baseline {
		if time.Now().After(deadline) {
			t.Fatalf("goroutines = %d, want at most the pre-bus %d", runtime.NumGoroutine(), baseline)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
