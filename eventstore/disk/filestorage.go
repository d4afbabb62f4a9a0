// Package disk provides a file-per-event store. Each stream is a directory
// of JSON records named by version; the all/ directory holds symlinks named
// by global sequence, giving a commit-ordered view over every stream.
package disk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/chronicle-io/chronicle"
)

var _ chronicle.EventStore = (*FilesStore)(nil)

type FilesStore struct {
	baseDir   string
	codec     *chronicle.Codec
	mu        sync.Mutex
	feed      *chronicle.EventFeed
	globalSeq uint64
	closed    bool
}

// NewFileStore opens (or creates) a store rooted at dir. The global
// sequence continues from the highest sequence found in all/, so restarts
// never reuse a position.
func NewFileStore(dir string, codec *chronicle.Codec) (*FilesStore, error) {
	allDir := filepath.Join(dir, "all")
	if err := os.MkdirAll(allDir, 0o755); err != nil {
		return nil, chronicle.WrapEventStoreError(err)
	}

	store := &FilesStore{
		baseDir: dir,
		codec:   codec,
		feed:    chronicle.NewEventFeed(100),
	}

	entries, err := os.ReadDir(allDir)
	if err != nil {
		return nil, chronicle.WrapEventStoreError(err)
	}
	for _, entry := range entries {
		if seq, _, ok := parseName(entry.Name()); ok && seq > store.globalSeq {
			store.globalSeq = seq
		}
	}

	return store, nil
}

func (f *FilesStore) streamDir(id string) string {
	return filepath.Join(f.baseDir, id)
}

func (f *FilesStore) Save(ctx context.Context, events []chronicle.Envelope, revision chronicle.StreamState) (chronicle.AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return chronicle.AppendResult{}, err
	}

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

	sdir := f.streamDir(streamID)

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(sdir, 0o755); err != nil {
		return chronicle.AppendResult{}, chronicle.WrapEventStoreError(err)
	}

	files, err := os.ReadDir(sdir)
	if err != nil {
		return chronicle.AppendResult{}, chronicle.WrapEventStoreError(err)
	}
	currentVersion := uint64(len(files))

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

	// Assign positions and encode the whole batch before touching disk, so a
	// codec failure cannot leave a half-written batch.
	baseSeq := f.globalSeq
	allDir := filepath.Join(f.baseDir, "all")
	saved := make([]*chronicle.Envelope, 0, len(events))
	records := make([][]byte, 0, len(events))
	for i := range events {
		env := events[i]
		currentVersion++
		env.Version = currentVersion
		env.GlobalSeq = baseSeq + uint64(i) + 1

		record, err := f.codec.Encode(&env)
		if err != nil {
			return chronicle.AppendResult{}, err
		}
		data, err := json.Marshal(record)
		if err != nil {
			return chronicle.AppendResult{}, chronicle.WrapEventStoreError(err)
		}

		saved = append(saved, &env)
		records = append(records, data)
	}

	// The batch commits all-or-nothing: any write failure removes everything
	// this batch already put on disk and leaves the global sequence untouched.
	created := make([]string, 0, 2*len(saved))
	rollback := func(err error) (chronicle.AppendResult, error) {
		for i := len(created) - 1; i >= 0; i-- {
			os.Remove(created[i])
		}
		return chronicle.AppendResult{}, chronicle.WrapEventStoreError(err)
	}

	for i, env := range saved {
		path := filepath.Join(sdir, fmt.Sprintf("%010d-%s.json", env.Version, env.Event.EventType()))
		if err := os.WriteFile(path, records[i], 0o644); err != nil {
			return rollback(err)
		}
		created = append(created, path)
	}
	for _, env := range saved {
		path := filepath.Join(sdir, fmt.Sprintf("%010d-%s.json", env.Version, env.Event.EventType()))
		rel, err := filepath.Rel(allDir, path)
		if err != nil {
			return rollback(err)
		}
		all := filepath.Join(allDir, fmt.Sprintf("%010d-%s.json", env.GlobalSeq, env.Event.EventType()))
		if err := os.Symlink(rel, all); err != nil {
			return rollback(err)
		}
		created = append(created, all)
	}

	f.globalSeq = baseSeq + uint64(len(saved))
	f.feed.Publish(saved...)

	return chronicle.AppendResult{
		Successful:          true,
		StreamID:            streamID,
		NextExpectedVersion: currentVersion,
	}, nil
}

func (f *FilesStore) LoadStream(ctx context.Context, id string) (*chronicle.Iterator[*chronicle.Envelope], error) {
	return f.loadFromDir(f.streamDir(id), 0, "")
}

func (f *FilesStore) LoadStreamFrom(ctx context.Context, id string, version uint64) (*chronicle.Iterator[*chronicle.Envelope], error) {
	return f.loadFromDir(f.streamDir(id), version, "")
}

func (f *FilesStore) LoadByEventType(ctx context.Context, eventType string) (*chronicle.Iterator[*chronicle.Envelope], error) {
	return f.loadFromDir(filepath.Join(f.baseDir, "all"), 0, eventType)
}

func (f *FilesStore) LoadFromAll(ctx context.Context, seq uint64) (*chronicle.Iterator[*chronicle.Envelope], error) {
	return f.loadFromDir(filepath.Join(f.baseDir, "all"), seq, "")
}

// loadFromDir iterates a directory's records in filename order, skipping
// entries with a numeric prefix at or below from. The zero-padded naming
// makes lexical order equal numeric order.
func (f *FilesStore) loadFromDir(dir string, from uint64, eventType string) (*chronicle.Iterator[*chronicle.Envelope], error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return chronicle.NewIteratorFunc(func(ctx context.Context) (*chronicle.Envelope, error) {
				return nil, io.EOF
			}), nil
		}
		return nil, chronicle.WrapEventStoreError(err)
	}

	registry := f.codec.Registry()
	idx := 0
	nextFunc := func(ctx context.Context) (*chronicle.Envelope, error) {
		for idx < len(files) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			fi := files[idx]
			idx++
			if fi.IsDir() {
				continue
			}

			pos, typ, ok := parseName(fi.Name())
			if !ok || pos <= from {
				continue
			}
			if eventType != "" && typ != eventType {
				continue
			}

			data, err := os.ReadFile(filepath.Join(dir, fi.Name()))
			if err != nil {
				return nil, chronicle.WrapEventStoreError(err)
			}

			var record chronicle.StoredEvent
			if err := json.Unmarshal(data, &record); err != nil {
				return nil, chronicle.WrapEventStoreError(fmt.Errorf("corrupt record %q: %w", fi.Name(), err))
			}

			envelope, err := f.codec.Decode(&record)
			if err != nil {
				var unknown *chronicle.UnknownEventTypeError
				if errors.As(err, &unknown) && registry.Mode() == chronicle.SkipUnknown {
					registry.Logger().Warn("skipping unknown event type",
						"event_type", unknown.EventType,
						"stream_id", unknown.Stream,
					)
					continue
				}
				return nil, err
			}

			return envelope, nil
		}
		return nil, io.EOF
	}

	return chronicle.NewIteratorFunc(nextFunc), nil
}

func (f *FilesStore) Events() <-chan *chronicle.Envelope {
	return f.feed.Events()
}

func (f *FilesStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.feed.Close()
	return nil
}

// parseName splits "0000000042-SomethingHappened.json" into its numeric
// prefix and event type.
func parseName(name string) (uint64, string, bool) {
	base, found := strings.CutSuffix(name, ".json")
	if !found {
		return 0, "", false
	}
	prefix, typ, found := strings.Cut(base, "-")
	if !found {
		return 0, "", false
	}
	pos, err := strconv.ParseUint(prefix, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return pos, typ, true
}
