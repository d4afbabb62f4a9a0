// Package postgres provides a durable event store and snapshot store backed
// by PostgreSQL. Optimistic concurrency is enforced twice: a row lock on the
// stream head serializes writers, and the UNIQUE(stream_id, version)
// constraint backs it up against writers racing on an empty stream.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chronicle-io/chronicle"
)

var _ chronicle.EventStore = (*Store)(nil)

const uniqueViolation = "23505"

type Store struct {
	pool  *pgxpool.Pool
	codec *chronicle.Codec
	feed  *chronicle.EventFeed
	once  sync.Once
}

// NewStore creates a store on an existing connection pool. The schema must
// exist; call CreateSchema for a fresh database.
func NewStore(pool *pgxpool.Pool, codec *chronicle.Codec) *Store {
	return &Store{
		pool:  pool,
		codec: codec,
		feed:  chronicle.NewEventFeed(100),
	}
}

// CreateSchema creates the events and snapshots tables if they do not exist.
func (s *Store) CreateSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS events (
    global_seq     BIGSERIAL PRIMARY KEY,
    event_id       UUID        NOT NULL,
    stream_id      TEXT        NOT NULL,
    event_type     TEXT        NOT NULL,
    schema_version INT         NOT NULL DEFAULT 1,
    version        BIGINT      NOT NULL,
    data           JSONB       NOT NULL,
    metadata       JSONB,
    correlation_id UUID,
    causation_id   UUID,
    occurred_at    TIMESTAMPTZ NOT NULL,
    UNIQUE (stream_id, version)
);
CREATE INDEX IF NOT EXISTS events_event_type_idx ON events (event_type);

CREATE TABLE IF NOT EXISTS snapshots (
    stream_id      TEXT        NOT NULL,
    version        BIGINT      NOT NULL,
    schema_version INT         NOT NULL DEFAULT 1,
    data           BYTEA       NOT NULL,
    taken_at       TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (stream_id, version)
);`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return chronicle.WrapEventStoreError(fmt.Errorf("create schema: %w", err))
	}
	return nil
}

func (s *Store) Save(ctx context.Context, events []chronicle.Envelope, revision chronicle.StreamState) (chronicle.AppendResult, error) {
	if len(events) == 0 {
		return chronicle.AppendResult{}, fmt.Errorf("save: empty batch: %w", chronicle.ErrInvalidEventBatch)
	}

	streamID := events[0].StreamID
	for i, env := range events {
		if env.StreamID != streamID {
			return chronicle.AppendResult{}, fmt.Errorf(
				"save events to stream %q: %w: event %d has different stream ID %q",
				streamID, chronicle.ErrInvalidEventBatch, i, env.StreamID,
			)
		}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return chronicle.AppendResult{}, chronicle.WrapEventStoreError(err)
	}
	defer tx.Rollback(ctx)

	// Lock the stream head so concurrent writers on a non-empty stream
	// serialize here instead of racing to the unique constraint.
	var currentVersion uint64
	err = tx.QueryRow(ctx,
		`SELECT version FROM events WHERE stream_id = $1 ORDER BY version DESC LIMIT 1 FOR UPDATE`,
		streamID,
	).Scan(&currentVersion)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return chronicle.AppendResult{}, chronicle.WrapEventStoreError(err)
	}

	switch rev := revision.(type) {
	case chronicle.Any:
		// No concurrency check
	case chronicle.NoStream:
		if currentVersion != 0 {
			return chronicle.AppendResult{}, fmt.Errorf("stream %q: already exists: %w", streamID, chronicle.ErrStreamExists)
		}
	case chronicle.StreamExists:
		if currentVersion == 0 {
			return chronicle.AppendResult{}, fmt.Errorf("stream %q: should exist: %w", streamID, chronicle.ErrStreamNotFound)
		}
	case chronicle.Revision:
		if currentVersion != uint64(rev) {
			return chronicle.AppendResult{}, &chronicle.StreamRevisionConflictError{
				Stream:           streamID,
				ExpectedRevision: rev,
				ActualRevision:   chronicle.Revision(currentVersion),
			}
		}
	default:
		return chronicle.AppendResult{}, fmt.Errorf("unsupported revision type for stream %q: %w", streamID, chronicle.ErrInvalidRevision)
	}

	saved := make([]*chronicle.Envelope, 0, len(events))
	for i := range events {
		env := events[i]
		currentVersion++
		env.Version = currentVersion

		record, err := s.codec.Encode(&env)
		if err != nil {
			return chronicle.AppendResult{}, err
		}

		err = tx.QueryRow(ctx, `
INSERT INTO events (event_id, stream_id, event_type, schema_version, version, data, metadata, correlation_id, causation_id, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING global_seq`,
			record.EventID, record.StreamID, record.EventType, record.SchemaVersion,
			record.Version, record.Data, record.Metadata,
			record.CorrelationID, record.CausationID, record.OccurredAt,
		).Scan(&env.GlobalSeq)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				actual, expected := s.conflictRevisions(ctx, streamID, revision)
				return chronicle.AppendResult{}, &chronicle.StreamRevisionConflictError{
					Stream:           streamID,
					ExpectedRevision: expected,
					ActualRevision:   actual,
				}
			}
			return chronicle.AppendResult{}, chronicle.WrapEventStoreError(err)
		}

		saved = append(saved, &env)
	}

	if err := tx.Commit(ctx); err != nil {
		return chronicle.AppendResult{}, chronicle.WrapEventStoreError(err)
	}

	s.feed.Publish(saved...)

	return chronicle.AppendResult{
		Successful:          true,
		StreamID:            streamID,
		NextExpectedVersion: currentVersion,
	}, nil
}

// conflictRevisions reads the stream head outside the failed transaction to
// report accurate positions in the conflict error.
func (s *Store) conflictRevisions(ctx context.Context, streamID string, revision chronicle.StreamState) (actual, expected chronicle.Revision) {
	if rev, ok := revision.(chronicle.Revision); ok {
		expected = rev
	}
	var head uint64
	if err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE stream_id = $1`,
		streamID,
	).Scan(&head); err == nil {
		actual = chronicle.Revision(head)
	}
	return actual, expected
}

func (s *Store) LoadStream(ctx context.Context, id string) (*chronicle.Iterator[*chronicle.Envelope], error) {
	return s.LoadStreamFrom(ctx, id, 0)
}

func (s *Store) LoadStreamFrom(ctx context.Context, id string, version uint64) (*chronicle.Iterator[*chronicle.Envelope], error) {
	return s.queryIter(ctx, `
SELECT event_id, stream_id, event_type, schema_version, version, global_seq, data, metadata, correlation_id, causation_id, occurred_at
FROM events
WHERE stream_id = $1 AND version > $2
ORDER BY version ASC`, id, version)
}

func (s *Store) LoadByEventType(ctx context.Context, eventType string) (*chronicle.Iterator[*chronicle.Envelope], error) {
	return s.queryIter(ctx, `
SELECT event_id, stream_id, event_type, schema_version, version, global_seq, data, metadata, correlation_id, causation_id, occurred_at
FROM events
WHERE event_type = $1
ORDER BY stream_id, version ASC`, eventType)
}

func (s *Store) LoadFromAll(ctx context.Context, seq uint64) (*chronicle.Iterator[*chronicle.Envelope], error) {
	return s.queryIter(ctx, `
SELECT event_id, stream_id, event_type, schema_version, version, global_seq, data, metadata, correlation_id, causation_id, occurred_at
FROM events
WHERE global_seq > $1
ORDER BY global_seq ASC`, seq)
}

// queryIter opens a cursor and yields decoded envelopes lazily. The rows are
// closed when the iterator is exhausted or fails.
func (s *Store) queryIter(ctx context.Context, sql string, args ...any) (*chronicle.Iterator[*chronicle.Envelope], error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, chronicle.WrapEventStoreError(err)
	}

	registry := s.codec.Registry()
	return chronicle.NewIteratorFunc(func(ctx context.Context) (*chronicle.Envelope, error) {
		for rows.Next() {
			var record chronicle.StoredEvent
			err := rows.Scan(
				&record.EventID, &record.StreamID, &record.EventType, &record.SchemaVersion,
				&record.Version, &record.GlobalSeq, &record.Data, &record.Metadata,
				&record.CorrelationID, &record.CausationID, &record.OccurredAt,
			)
			if err != nil {
				rows.Close()
				return nil, chronicle.WrapEventStoreError(err)
			}

			envelope, err := s.codec.Decode(&record)
			if err != nil {
				var unknown *chronicle.UnknownEventTypeError
				if errors.As(err, &unknown) && registry.Mode() == chronicle.SkipUnknown {
					registry.Logger().Warn("skipping unknown event type",
						"event_type", unknown.EventType,
						"stream_id", unknown.Stream,
					)
					continue
				}
				rows.Close()
				return nil, err
			}

			return envelope, nil
		}

		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, chronicle.WrapEventStoreError(err)
		}
		return nil, io.EOF
	}), nil
}

func (s *Store) Events() <-chan *chronicle.Envelope {
	return s.feed.Events()
}

func (s *Store) Close() error {
	s.once.Do(func() {
		s.feed.Close()
	})
	return nil
}

// SnapshotStore persists snapshots in the snapshots table, usually sharing
// the event store's pool.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

var _ chronicle.SnapshotStore = (*SnapshotStore)(nil)

func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Latest returns the highest-version snapshot for the stream, or
// ErrSnapshotNotFound.
func (s *SnapshotStore) Latest(ctx context.Context, streamID string) (*chronicle.Snapshot, error) {
	snapshot := &chronicle.Snapshot{StreamID: streamID}
	err := s.pool.QueryRow(ctx, `
SELECT version, schema_version, data, taken_at
FROM snapshots
WHERE stream_id = $1
ORDER BY version DESC
LIMIT 1`, streamID,
	).Scan(&snapshot.Version, &snapshot.SchemaVersion, &snapshot.Data, &snapshot.TakenAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, chronicle.ErrSnapshotNotFound
		}
		return nil, chronicle.WrapEventStoreError(err)
	}
	return snapshot, nil
}

// Save persists a snapshot row. Writing the same (stream, version) twice
// overwrites rather than duplicates.
func (s *SnapshotStore) Save(ctx context.Context, snapshot *chronicle.Snapshot) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO snapshots (stream_id, version, schema_version, data, taken_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (stream_id, version) DO UPDATE SET data = EXCLUDED.data, taken_at = EXCLUDED.taken_at`,
		snapshot.StreamID, snapshot.Version, snapshot.SchemaVersion, snapshot.Data, snapshot.TakenAt,
	)
	if err != nil {
		return chronicle.WrapEventStoreError(err)
	}
	return nil
}
