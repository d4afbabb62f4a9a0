package otel_test

import (
	"context"
	"errors"
	"testing"

	"github.com/chronicle-io/chronicle"
	busmemory "github.com/chronicle-io/chronicle/eventbus/memory"
	"github.com/chronicle-io/chronicle/fixtures"
	"github.com/chronicle-io/chronicle/otel"
)

func TestTelemetryStorePassesSavesThrough(t *testing.T) {
	spy := fixtures.NewStoreSpy()
	store := otel.WithEventStoreTelemetry(spy, otel.WithOperation("test"))

	events := fixtures.EnvelopesFromEvents(
		fixtures.AccountOpened{ID: "acc-1", Owner: "ada", InitialBalance: 100},
	)

	result, err := store.Save(context.Background(), []chronicle.Envelope{*events[0]}, chronicle.Revision(0))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !result.Successful {
		t.Fatalf("unexpected result: %+v", result)
	}
	if spy.SaveCalls != 1 {
		t.Fatalf("save calls = %d, want 1", spy.SaveCalls)
	}
	if spy.LastSaveRevision != chronicle.Revision(0) {
		t.Fatalf("revision = %v, want Revision(0)", spy.LastSaveRevision)
	}
	// Metadata is initialized for trace propagation even when the caller
	// left it nil.
	if spy.LastSaveEvents[0].Metadata == nil {
		t.Fatal("metadata not initialized")
	}
}

func TestTelemetryStoreLoadIteratesAll(t *testing.T) {
	spy := fixtures.NewStoreSpy().WithEventsFromSlice("Account-acc-1",
		fixtures.AccountOpened{ID: "acc-1", Owner: "ada", InitialBalance: 100},
		fixtures.MoneyDeposited{ID: "acc-1", Amount: 50},
	)
	store := otel.WithEventStoreTelemetry(spy)

	iter, err := store.LoadStream(context.Background(), "Account-acc-1")
	if err != nil {
		t.Fatalf("load stream: %v", err)
	}
	envelopes, err := iter.All(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(envelopes) != 2 {
		t.Fatalf("got %d envelopes, want 2", len(envelopes))
	}
}

func TestTelemetryStoreLoadPropagatesErrors(t *testing.T) {
	boom := errors.New("disk gone")
	spy := fixtures.NewStoreSpy().FailOnLoad(boom)
	store := otel.WithEventStoreTelemetry(spy)

	_, err := store.LoadStream(context.Background(), "Account-acc-1")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestCommandTelemetryPassesResultsAndErrors(t *testing.T) {
	handler := otel.WithCommandTelemetry(
		chronicle.CommandHandler[fixtures.DepositMoney](func(ctx context.Context, cmd fixtures.DepositMoney) (chronicle.AppendResult, error) {
			return chronicle.AppendResult{Successful: true, StreamID: "Account-acc-1", NextExpectedVersion: 3}, nil
		}))

	result, err := handler(context.Background(), fixtures.DepositMoney{ID: "acc-1", Amount: 10})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.NextExpectedVersion != 3 {
		t.Fatalf("unexpected result: %+v", result)
	}

	violation := chronicle.NewBusinessRuleError("insufficient-funds", "broke")
	failing := otel.WithCommandTelemetry(
		chronicle.CommandHandler[fixtures.WithdrawMoney](func(ctx context.Context, cmd fixtures.WithdrawMoney) (chronicle.AppendResult, error) {
			return chronicle.AppendResult{}, violation
		}))

	_, err = failing(context.Background(), fixtures.WithdrawMoney{ID: "acc-1", Amount: 10})
	if !chronicle.IsBusinessRuleViolation(err) {
		t.Fatalf("err = %v, want the business rule violation unchanged", err)
	}
}

func TestTelemetryEventBusDelivers(t *testing.T) {
	bus := otel.WithEventBusTelemetry(busmemory.NewEventBus(8))
	defer bus.Close()

	received := make(chan chronicle.Event, 1)
	err := bus.Subscribe(context.Background(), "observed",
		func(chronicle.Event) bool { return true },
		chronicle.NewEventHandlerFunc(func(ctx context.Context, event chronicle.Event) error {
			received <- event
			return nil
		}))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.Dispatch(context.Background(), fixtures.NewEnvelope(fixtures.MoneyDeposited{ID: "acc-1", Amount: 10})); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	event := <-received
	if event.EventType() != "MoneyDeposited" {
		t.Fatalf("received %s", event.EventType())
	}
}
