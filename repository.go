package chronicle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Repository loads aggregates from snapshot and event history and persists
// their uncommitted events with optimistic concurrency control.
//
// The snapshot store is optional: without one every load replays the full
// stream. With one, loads read at most the latest snapshot plus the events
// after its version, and Save writes a new snapshot each time the stream
// version crosses a multiple of the configured cadence.
type Repository[T Aggregate] struct {
	store         EventStore
	snapshots     SnapshotStore
	newAggregate  func(id string) T
	snapshotEvery uint64
	log           *slog.Logger
}

// RepositoryOption configures a Repository.
type RepositoryOption[T Aggregate] func(*Repository[T])

// WithSnapshotStore enables snapshotting with the given cadence: a snapshot
// is written whenever a save moves the stream version across a multiple of
// every.
func WithSnapshotStore[T Aggregate](snapshots SnapshotStore, every uint64) RepositoryOption[T] {
	return func(r *Repository[T]) {
		r.snapshots = snapshots
		r.snapshotEvery = every
	}
}

// WithRepositoryLogger sets the repository's logger.
func WithRepositoryLogger[T Aggregate](log *slog.Logger) RepositoryOption[T] {
	return func(r *Repository[T]) { r.log = log }
}

// NewRepository creates a repository for one aggregate type. newAggregate
// must return an empty aggregate at version 0 for the given ID.
func NewRepository[T Aggregate](store EventStore, newAggregate func(id string) T, opts ...RepositoryOption[T]) *Repository[T] {
	r := &Repository[T]{
		store:        store,
		newAggregate: newAggregate,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetByID reconstructs the aggregate: latest snapshot, then the events after
// the snapshot version, replayed in order. Returns ErrAggregateNotFound when
// neither a snapshot nor any events exist.
func (r *Repository[T]) GetByID(ctx context.Context, id string) (T, error) {
	var zero T

	agg := r.newAggregate(id)
	stream := StreamName(agg.AggregateType(), id)

	var from uint64
	seeded := false
	if r.snapshots != nil {
		snapshot, err := r.snapshots.Latest(ctx, stream)
		switch {
		case err == nil:
			if err := RestoreSnapshot(agg, snapshot); err != nil {
				return zero, err
			}
			from = snapshot.Version
			seeded = true
			if IsInitialized() {
				SnapshotsRestored.Add(ctx, 1)
			}
		case errors.Is(err, ErrSnapshotNotFound):
			// Full replay from version 0.
		default:
			return zero, fmt.Errorf("load snapshot for %q: %w", stream, err)
		}
	}

	iter, err := r.store.LoadStreamFrom(ctx, stream, from)
	if err != nil {
		return zero, fmt.Errorf("load stream %q: %w", stream, err)
	}
	if err := LoadFromHistory(ctx, agg, iter); err != nil {
		return zero, fmt.Errorf("replay stream %q: %w", stream, err)
	}

	if !seeded && agg.AggregateVersion() == 0 {
		return zero, fmt.Errorf("stream %q: %w", stream, ErrAggregateNotFound)
	}
	return agg, nil
}

// Save appends the aggregate's uncommitted events with a Revision
// precondition equal to the version before this unit of work began. An
// aggregate with no uncommitted events saves as a no-op with zero store
// writes. A *StreamRevisionConflictError propagates untouched so the caller
// can reload and retry.
func (r *Repository[T]) Save(ctx context.Context, agg T) error {
	events := agg.UncommittedEvents()
	if len(events) == 0 {
		return nil
	}

	expected := agg.AggregateVersion() - uint64(len(events))
	result, err := r.store.Save(ctx, events, Revision(expected))
	if err != nil {
		return err
	}
	agg.ClearUncommittedEvents()

	if r.snapshots != nil && r.snapshotEvery > 0 &&
		result.NextExpectedVersion/r.snapshotEvery > expected/r.snapshotEvery {
		r.snapshot(ctx, agg)
	}
	return nil
}

// snapshot writes a cadence snapshot. Failures are logged, not returned: the
// events are already durable and the next cadence crossing retries.
func (r *Repository[T]) snapshot(ctx context.Context, agg T) {
	snapshot, err := CreateSnapshot(agg)
	if err != nil {
		r.log.WarnContext(ctx, "snapshot capture failed",
			"aggregate_id", agg.EntityID(), "version", agg.AggregateVersion(), "error", err)
		return
	}
	if err := r.snapshots.Save(ctx, snapshot); err != nil {
		r.log.WarnContext(ctx, "snapshot save failed",
			"stream_id", snapshot.StreamID, "version", snapshot.Version, "error", err)
		return
	}
	if IsInitialized() {
		SnapshotsTaken.Add(ctx, 1)
	}
	r.log.DebugContext(ctx, "snapshot saved",
		"stream_id", snapshot.StreamID, "version", snapshot.Version)
}
