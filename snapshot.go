package chronicle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Snapshot is a materialized aggregate state at a given stream version.
// State at version V plus the events after V fully determine current state.
type Snapshot struct {
	StreamID      string    `json:"stream_id"`
	Version       uint64    `json:"version"`
	SchemaVersion int       `json:"schema_version"`
	Data          []byte    `json:"data"`
	TakenAt       time.Time `json:"taken_at"`
}

// SnapshotStore persists sparse snapshots keyed by stream. The store has no
// opinion on cadence; the repository decides when to snapshot.
type SnapshotStore interface {
	// Latest returns the highest-version snapshot for the stream, or
	// ErrSnapshotNotFound.
	Latest(ctx context.Context, streamID string) (*Snapshot, error)

	// Save persists a snapshot. Saving the same (stream, version) twice is
	// safe and overwrites rather than duplicates.
	Save(ctx context.Context, snapshot *Snapshot) error
}

// Snapshotter lets an aggregate control its own snapshot encoding. Aggregates
// that do not implement it are snapshotted as their JSON representation.
type Snapshotter interface {
	SnapshotData() ([]byte, error)
	RestoreSnapshot(data []byte) error
}

// CreateSnapshot captures the aggregate's current state.
func CreateSnapshot(agg Aggregate) (*Snapshot, error) {
	var (
		data []byte
		err  error
	)
	if s, ok := agg.(Snapshotter); ok {
		data, err = s.SnapshotData()
	} else {
		data, err = json.Marshal(agg)
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot aggregate %s: %w", agg.EntityID(), err)
	}

	return &Snapshot{
		StreamID:      StreamName(agg.AggregateType(), agg.EntityID()),
		Version:       agg.AggregateVersion(),
		SchemaVersion: 1,
		Data:          data,
		TakenAt:       now().UTC(),
	}, nil
}

// RestoreSnapshot seeds the aggregate from a snapshot, leaving it at the
// snapshot's version so only later events need replaying.
func RestoreSnapshot(agg Aggregate, snapshot *Snapshot) error {
	var err error
	if s, ok := agg.(Snapshotter); ok {
		err = s.RestoreSnapshot(snapshot.Data)
	} else {
		err = json.Unmarshal(snapshot.Data, agg)
	}
	if err != nil {
		return fmt.Errorf("restore snapshot for stream %s at version %d: %w",
			snapshot.StreamID, snapshot.Version, err)
	}
	agg.SetAggregateVersion(snapshot.Version)
	return nil
}

// MemorySnapshotStore keeps the latest snapshot per stream in memory. Safe
// for concurrent use.
type MemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

// NewMemorySnapshotStore creates an empty in-memory snapshot store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{
		snapshots: make(map[string]*Snapshot),
	}
}

func (m *MemorySnapshotStore) Latest(ctx context.Context, streamID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot, ok := m.snapshots[streamID]
	if !ok {
		return nil, fmt.Errorf("stream %q: %w", streamID, ErrSnapshotNotFound)
	}
	return snapshot, nil
}

func (m *MemorySnapshotStore) Save(ctx context.Context, snapshot *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.snapshots[snapshot.StreamID]
	if ok && current.Version > snapshot.Version {
		// An older snapshot never replaces a newer one.
		return nil
	}
	m.snapshots[snapshot.StreamID] = snapshot
	return nil
}

var _ SnapshotStore = (*MemorySnapshotStore)(nil)
