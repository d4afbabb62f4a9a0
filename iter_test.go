package chronicle_test

import (
	"context"
	"errors"
	"io"
	"testing"

	chronicle "github.com/chronicle-io/chronicle"
)

func TestIteratorBasic(t *testing.T) {
	items := []int{1, 2, 3}
	i := 0

	iter := chronicle.NewIteratorFunc(func(ctx context.Context) (int, error) {
		if i >= len(items) {
			return 0, io.EOF
		}
		val := items[i]
		i++
		return val, nil
	})

	var got []int
	for iter.Next(context.Background()) {
		got = append(got, iter.Value())
	}

	if iter.Err() != nil {
		t.Fatalf("unexpected error: %v", iter.Err())
	}
	if len(got) != len(items) {
		t.Fatalf("expected %v items, got %v", len(items), len(got))
	}
	for i := range items {
		if got[i] != items[i] {
			t.Errorf("index %d: expected %v got %v", i, items[i], got[i])
		}
	}
}

func TestIteratorEOF(t *testing.T) {
	iter := chronicle.NewIteratorFunc(func(ctx context.Context) (int, error) {
		return 0, io.EOF
	})

	if iter.Next(context.Background()) {
		t.Fatal("expected Next() to return false on EOF")
	}
	if iter.Err() != nil {
		t.Fatalf("expected Err() to be nil on EOF, got %v", iter.Err())
	}
}

func TestIteratorError(t *testing.T) {
	expectedErr := errors.New("boom")

	iter := chronicle.NewIteratorFunc(func(ctx context.Context) (int, error) {
		return 0, expectedErr
	})

	if iter.Next(context.Background()) {
		t.Fatal("expected Next() to return false on error")
	}
	if !errors.Is(iter.Err(), expectedErr) {
		t.Fatalf("expected Err() to be %v, got %v", expectedErr, iter.Err())
	}
}

func TestIteratorAll(t *testing.T) {
	iter := chronicle.NewSliceIterator([]string{"a", "b", "c"})

	got, err := iter.All(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v items, got %v", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: expected %v got %v", i, want[i], got[i])
		}
	}
}

func TestIteratorStopsAfterEOF(t *testing.T) {
	callCount := 0
	iter := chronicle.NewIteratorFunc(func(ctx context.Context) (int, error) {
		callCount++
		if callCount == 1 {
			return 1, nil
		}
		return 0, io.EOF
	})

	ctx := context.Background()
	if !iter.Next(ctx) {
		t.Fatal("expected first Next() to return true")
	}
	if iter.Value() != 1 {
		t.Fatalf("Value() = %d, want 1", iter.Value())
	}
	if iter.Next(ctx) {
		t.Fatal("expected second Next() to return false")
	}
	if iter.Next(ctx) {
		t.Fatal("Next() after exhaustion must keep returning false")
	}
	if callCount != 2 {
		t.Fatalf("producer called %d times, want 2", callCount)
	}
}

func TestSliceIteratorHonorsContext(t *testing.T) {
	iter := chronicle.NewSliceIterator([]int{1, 2, 3})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if iter.Next(ctx) {
		t.Fatal("expected Next() to return false on cancelled context")
	}
	if !errors.Is(iter.Err(), context.Canceled) {
		t.Fatalf("Err() = %v, want %v", iter.Err(), context.Canceled)
	}
}
