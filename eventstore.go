package chronicle

import (
	"context"
)

// EventStore is the contract for a durable, append-only, per-stream event
// log with optimistic concurrency control.
//
// Implementations must guarantee:
//   - Events for a stream are stored and yielded in strictly increasing
//     version order with no gaps (versions 1, 2, 3, ...).
//   - The revision check and the append are a single atomic operation: for
//     concurrent appends with the same expected revision exactly one
//     succeeds and the rest fail with *StreamRevisionConflictError, having
//     written nothing.
//   - A batch is committed all-or-nothing. Once Save returns successfully
//     the batch is visible to readers, in version order.
//
// The returned iterators are lazy; each Load* call opens a fresh cursor.
type EventStore interface {
	// Save atomically appends a batch of envelopes to a single stream,
	// subject to the revision precondition. The store assigns Version
	// (expected+1 .. expected+len) and GlobalSeq to each envelope and
	// returns the stream's new high-water version.
	//
	// Errors:
	//   - *StreamRevisionConflictError when a Revision precondition fails.
	//   - ErrStreamExists / ErrStreamNotFound for NoStream / StreamExists.
	//   - ErrInvalidEventBatch for an empty or mixed-stream batch.
	//   - *EventStoreError for storage-level failures.
	Save(ctx context.Context, events []Envelope, revision StreamState) (AppendResult, error)

	// LoadStream yields all events of a stream from the beginning. An
	// unknown stream yields an empty sequence, not an error.
	LoadStream(ctx context.Context, id string) (*Iterator[*Envelope], error)

	// LoadStreamFrom yields the events of a stream with version strictly
	// greater than version. A stream with nothing beyond that point yields
	// an empty sequence.
	LoadStreamFrom(ctx context.Context, id string, version uint64) (*Iterator[*Envelope], error)

	// LoadByEventType scans all streams for events of one logical type.
	// Ordering is only guaranteed within each stream. This is a rebuild and
	// audit path, not a hot command path.
	LoadByEventType(ctx context.Context, eventType string) (*Iterator[*Envelope], error)

	// LoadFromAll yields events from all streams starting after the given
	// global sequence number, in commit order.
	LoadFromAll(ctx context.Context, seq uint64) (*Iterator[*Envelope], error)

	// Events exposes the committed-event feed consumed by a Dispatcher.
	// Envelopes arrive in per-stream version order. The feed is push-based
	// and best-effort; the Load* methods are the replayable source of truth.
	Events() <-chan *Envelope

	// Close releases resources held by the store. Implementations make
	// Close idempotent.
	Close() error
}

// AppendResult describes the outcome of an append operation.
type AppendResult struct {
	Successful          bool
	StreamID            string
	NextExpectedVersion uint64
}
