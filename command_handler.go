package chronicle

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// StreamNamer produces the stream name for a command, with access to context.
type StreamNamer func(ctx context.Context, cmd Command) string

// DefaultStreamNamer maps a command to the stream named after its aggregate
// ID. Override per handler with WithStreamNamer for prefixing or
// multi-tenancy schemes.
var DefaultStreamNamer StreamNamer = func(ctx context.Context, cmd Command) string {
	return cmd.AggregateID()
}

// CommandHandler handles commands of one concrete type. Implementations
// express state changes as events; they never mutate state directly and
// never panic.
type CommandHandler[C Command] func(ctx context.Context, command C) (AppendResult, error)

// Evolver folds one historical envelope into the aggregate state.
// It must be deterministic and must not mutate the envelope.
type Evolver[T any] func(currentState T, envelope *Envelope) T

// Decider produces the events a command should cause given the current
// state, or a business rule violation. Returning no events means the command
// had no effect; nothing is persisted.
type Decider[T any, C Command] func(state T, cmd C) ([]Event, error)

// CommandHandlerOption customizes NewCommandHandler.
type CommandHandlerOption func(configuration *handlerOptions)

// NewCommandHandler builds a command handler over an event store using the
// evolve/decide split:
//
//  1. Load the stream and evolve the current state from its history.
//  2. Decide which events the command causes, or reject it.
//  3. Wrap the events in envelopes and save with the configured revision
//     precondition.
//
// Concurrency conflicts are retried under the configured backoff strategy
// with a fresh load each attempt; the default is no retries, so the bound on
// the retry storm is always the caller's explicit choice. Business rule
// violations and storage failures are never retried.
func NewCommandHandler[T any, C Command](
	store EventStore,
	initialState T,
	evolve Evolver[T],
	decide Decider[T, C],
	opts ...CommandHandlerOption,
) CommandHandler[C] {
	return func(ctx context.Context, command C) (AppendResult, error) {
		cfg := &handlerOptions{
			Revision:      Revision(0),
			RetryStrategy: &backoff.StopBackOff{},
			MetadataFuncs: []func(ctx context.Context) map[string]any{},
			StreamNamer:   DefaultStreamNamer,
		}
		for _, o := range opts {
			o(cfg)
		}

		stream := cfg.StreamNamer(ctx, command)

		result, err := backoff.RetryWithData(func() (AppendResult, error) {
			state := initialState
			var revision uint64

			iter, err := store.LoadStream(ctx, stream)
			if err != nil {
				return AppendResult{},
					backoff.Permanent(fmt.Errorf("handle %T for stream %q: load: %w", command, stream, err))
			}
			for iter.Next(ctx) {
				envelope := iter.Value()
				revision = envelope.Version
				state = evolve(state, envelope)
			}
			if err := iter.Err(); err != nil {
				return AppendResult{},
					backoff.Permanent(fmt.Errorf("handle %T for stream %q: replay: %w", command, stream, err))
			}

			// With an exact-revision precondition the expected version is
			// whatever the replay just observed.
			if _, ok := cfg.Revision.(Revision); ok {
				cfg.Revision = Revision(revision)
			}

			events, err := decide(state, command)
			if err != nil {
				return AppendResult{},
					backoff.Permanent(fmt.Errorf("handle %T for stream %q: %w", command, stream, err))
			}
			if len(events) == 0 {
				return AppendResult{Successful: true, StreamID: stream, NextExpectedVersion: revision}, nil
			}

			baseMetadata := make(map[string]any)
			for _, fn := range cfg.MetadataFuncs {
				for k, v := range fn(ctx) {
					baseMetadata[k] = v
				}
			}

			envelopes := make([]Envelope, len(events))
			for i, event := range events {
				envelopes[i] = Envelope{
					EventID:       uuid.New(),
					StreamID:      stream,
					CorrelationID: CorrelationFromContext(ctx),
					CausationID:   CausationFromContext(ctx),
					Metadata:      baseMetadata,
					Event:         event,
					OccurredAt:    now().UTC(),
				}
			}

			result, err := store.Save(ctx, envelopes, cfg.Revision)
			if err != nil {
				var conflict *StreamRevisionConflictError
				if errors.As(err, &conflict) {
					// Retryable: the next attempt reloads and re-decides.
					return AppendResult{StreamID: stream}, conflict
				}
				return result,
					backoff.Permanent(fmt.Errorf("handle %T for stream %q: save: %w", command, stream, err))
			}
			return result, nil
		}, cfg.RetryStrategy)

		return result, err
	}
}

// handlerOptions is the configuration for one command handler.
type handlerOptions struct {
	// Revision is the precondition applied when saving. The Revision kind
	// is refreshed to the observed stream version each attempt; the other
	// kinds pass through unchanged.
	Revision StreamState

	// RetryStrategy bounds retries on concurrency conflicts. The default
	// performs none.
	RetryStrategy backoff.BackOff

	// MetadataFuncs enrich every produced envelope from the context.
	MetadataFuncs []func(ctx context.Context) map[string]any

	// StreamNamer produces the stream name for a command.
	StreamNamer StreamNamer
}

// WithRevision sets the stream precondition used when persisting events.
func WithRevision(rev StreamState) CommandHandlerOption {
	return func(cfg *handlerOptions) { cfg.Revision = rev }
}

// WithRetryStrategy bounds the conflict retry loop. Pair a max-retries
// wrapper with an exponential backoff to survive contention storms:
//
//	WithRetryStrategy(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5))
func WithRetryStrategy(strategy backoff.BackOff) CommandHandlerOption {
	return func(cfg *handlerOptions) { cfg.RetryStrategy = strategy }
}

// WithMetadataExtractor adds a metadata function applied to every envelope
// the handler produces. Extractors run in registration order.
func WithMetadataExtractor(fn func(ctx context.Context) map[string]any) CommandHandlerOption {
	return func(h *handlerOptions) {
		h.MetadataFuncs = append(h.MetadataFuncs, fn)
	}
}

// WithStreamNamer overrides how the handler derives the stream name.
func WithStreamNamer(namer StreamNamer) CommandHandlerOption {
	return func(h *handlerOptions) {
		h.StreamNamer = namer
	}
}
