package chronicle

import (
	"context"
	"fmt"

	"github.com/io-da/query"
)

// GenericQueryHandler resolves a query.Query into a ReadModel. Implementations
// are registered on a QueryProvider which adapts them to the io-da/query bus.
type GenericQueryHandler interface {
	HandleQuery(ctx context.Context, qry query.Query) (ReadModel, error)
}

// QueryProvider adapts registered handlers to the io-da/query Handler
// interface, producing single-result responses.
type QueryProvider interface {
	query.Handler
	RegisterHandler(prototype query.Query, handler GenericQueryHandler)
}

// QueryIteratorProvider adapts registered handlers to the io-da/query
// IteratorHandler interface, yielding streamed results.
type QueryIteratorProvider interface {
	query.IteratorHandler
	RegisterHandler(prototype query.Query, handler GenericQueryHandler)
}

type queryProvider struct {
	handlers map[string]GenericQueryHandler
}

// NewQueryProvider creates an empty single-result query provider.
func NewQueryProvider() QueryProvider {
	return &queryProvider{
		handlers: make(map[string]GenericQueryHandler),
	}
}

func (p *queryProvider) RegisterHandler(prototype query.Query, handler GenericQueryHandler) {
	queryType := TypeName(prototype)
	if _, ok := p.handlers[queryType]; ok {
		panic("chronicle: duplicate query handler: " + queryType)
	}
	p.handlers[queryType] = handler
}

func (p *queryProvider) Handle(ctx context.Context, qry query.Query, res *query.Result) error {
	handler, exists := p.handlers[TypeName(qry)]
	if !exists {
		return fmt.Errorf("unknown query type %s: %w", TypeName(qry), ErrHandlerNotFound)
	}

	result, err := handler.HandleQuery(ctx, qry)
	if err != nil {
		return err
	}

	res.Add(result)
	res.Done()
	return nil
}

type queryIteratorProvider struct {
	handlers map[string]GenericQueryHandler
}

// NewQueryIteratorProvider creates an empty streaming query provider.
func NewQueryIteratorProvider() QueryIteratorProvider {
	return &queryIteratorProvider{
		handlers: make(map[string]GenericQueryHandler),
	}
}

func (p *queryIteratorProvider) RegisterHandler(prototype query.Query, handler GenericQueryHandler) {
	queryType := TypeName(prototype)
	if _, ok := p.handlers[queryType]; ok {
		panic("chronicle: duplicate query handler: " + queryType)
	}
	p.handlers[queryType] = handler
}

func (p *queryIteratorProvider) Handle(ctx context.Context, qry query.Query, res *query.IteratorResult) error {
	handler, exists := p.handlers[TypeName(qry)]
	if !exists {
		return fmt.Errorf("unknown query type %s: %w", TypeName(qry), ErrHandlerNotFound)
	}

	result, err := handler.HandleQuery(ctx, qry)
	if err != nil {
		return err
	}

	res.Yield(result)
	res.Done()
	return nil
}
