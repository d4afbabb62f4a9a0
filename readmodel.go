package chronicle

import (
	"context"
	"fmt"
)

// ReadModel represents a query-side data model. It provides an interface
// for retrieving read-optimized projections of the event streams.
type ReadModel interface {
}

// Query is the interface that must be implemented by any type to be
// considered a query.
type Query interface {
	ID() []byte
}

// QueryHandler handles a specific query type T and produces a result of
// type R.
type QueryHandler[T Query, R any] interface {
	HandleQuery(ctx context.Context, qry T) (R, error)
}

type queryHandlerFunc[T Query, R any] func(ctx context.Context, qry T) (R, error)

func (f queryHandlerFunc[T, R]) HandleQuery(ctx context.Context, qry T) (R, error) {
	return f(ctx, qry)
}

// NewQueryHandlerFunc creates a QueryHandler from a function.
func NewQueryHandlerFunc[T Query, R any](fn func(ctx context.Context, qry T) (R, error)) QueryHandler[T, R] {
	return queryHandlerFunc[T, R](fn)
}

// QueryBus is a registry of query handlers keyed by their query and result
// types. Typed execution goes through a GenericQueryGateway.
type QueryBus struct {
	handlers map[string]any
}

// NewQueryBus creates a new, empty query bus.
func NewQueryBus() *QueryBus {
	return &QueryBus{
		handlers: make(map[string]any),
	}
}

// RegisterQueryHandler registers handler for query type T and result type R.
// A duplicate registration panics.
func RegisterQueryHandler[T Query, R any](bus *QueryBus, handler QueryHandler[T, R]) {
	key := fmt.Sprintf("%T|%T", *new(T), *new(R))

	if _, exists := bus.handlers[key]; exists {
		panic(fmt.Sprintf("chronicle: query handler already registered: %s", key))
	}
	bus.handlers[key] = handler
}

// GenericQueryGateway provides a typed view on a QueryBus. It implements
// QueryHandler[T,R] itself, so it can be used wherever a handler is
// expected.
type GenericQueryGateway[T Query, R any] struct {
	bus *QueryBus
}

// NewQueryGateway creates a typed gateway for a specific query type backed
// by a QueryBus.
func NewQueryGateway[T Query, R any](bus *QueryBus) GenericQueryGateway[T, R] {
	return GenericQueryGateway[T, R]{bus: bus}
}

// HandleQuery executes the registered handler for the given query.
func (g GenericQueryGateway[T, R]) HandleQuery(ctx context.Context, qry T) (R, error) {
	key := fmt.Sprintf("%T|%T", qry, *new(R))

	h, ok := g.bus.handlers[key]
	if !ok {
		var zero R
		return zero, fmt.Errorf("no handler registered for query %T -> %T: %w", qry, *new(R), ErrHandlerNotFound)
	}

	handler, ok := h.(QueryHandler[T, R])
	if !ok {
		var zero R
		return zero, fmt.Errorf("handler type mismatch for query %T -> %T", qry, *new(R))
	}

	return handler.HandleQuery(ctx, qry)
}
