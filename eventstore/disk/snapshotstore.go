package disk

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/chronicle-io/chronicle"
)

var _ chronicle.SnapshotStore = (*SnapshotStore)(nil)

// SnapshotStore keeps one snapshot file per stream, always holding the
// latest version. Writes go through a temp file and rename so a crash never
// leaves a torn snapshot behind.
type SnapshotStore struct {
	dir string
	mu  sync.Mutex
}

// NewSnapshotStore opens (or creates) a snapshot directory.
func NewSnapshotStore(dir string) (*SnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, chronicle.WrapEventStoreError(err)
	}
	return &SnapshotStore{dir: dir}, nil
}

func (s *SnapshotStore) path(streamID string) string {
	return filepath.Join(s.dir, streamID+".json")
}

// Latest returns the stream's snapshot, or ErrSnapshotNotFound.
func (s *SnapshotStore) Latest(ctx context.Context, streamID string) (*chronicle.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	data, err := os.ReadFile(s.path(streamID))
	s.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("stream %q: %w", streamID, chronicle.ErrSnapshotNotFound)
		}
		return nil, chronicle.WrapEventStoreError(err)
	}

	snapshot := &chronicle.Snapshot{}
	if err := json.Unmarshal(data, snapshot); err != nil {
		return nil, chronicle.WrapEventStoreError(fmt.Errorf("corrupt snapshot for %q: %w", streamID, err))
	}
	return snapshot, nil
}

// Save writes the snapshot unless the file already holds a newer version.
// Writing the same version twice overwrites.
func (s *SnapshotStore) Save(ctx context.Context, snapshot *chronicle.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(snapshot.StreamID)
	if data, err := os.ReadFile(path); err == nil {
		var current chronicle.Snapshot
		if err := json.Unmarshal(data, &current); err == nil && current.Version > snapshot.Version {
			// An older snapshot never replaces a newer one.
			return nil
		}
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return chronicle.WrapEventStoreError(err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return chronicle.WrapEventStoreError(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return chronicle.WrapEventStoreError(err)
	}
	return nil
}
