// Package memory provides an in-process event store for tests and
// single-node deployments. All guarantees of the EventStore contract hold;
// durability does not.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/chronicle-io/chronicle"
)

var _ chronicle.EventStore = (*MemoryStore)(nil)

type MemoryStore struct {
	mu     sync.RWMutex
	feed   *chronicle.EventFeed
	global []*chronicle.Envelope
	events map[string][]*chronicle.Envelope
	closed bool
}

// NewMemoryStore creates an empty store. buffer sizes the committed-event
// feed channel; a full channel queues further envelopes in memory until the
// consumer catches up, nothing is dropped.
func NewMemoryStore(buffer int64) *MemoryStore {
	return &MemoryStore{
		events: make(map[string][]*chronicle.Envelope),
		global: make([]*chronicle.Envelope, 0),
		feed:   chronicle.NewEventFeed(int(buffer)),
	}
}

func (m *MemoryStore) Save(ctx context.Context, events []chronicle.Envelope, revision chronicle.StreamState) (chronicle.AppendResult, error) {
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

	m.mu.Lock()
	defer m.mu.Unlock()

	currentVersion := uint64(len(m.events[streamID]))

	switch rev := revision.(type) {
	case chronicle.Any:
		// No concurrency check
	case chronicle.NoStream:
		if currentVersion != 0 {
			err := fmt.Errorf("stream %q: already exists: %w", streamID, chronicle.ErrStreamExists)
			return chronicle.AppendResult{}, err
		}
	case chronicle.StreamExists:
		if currentVersion == 0 {
			err := fmt.Errorf("stream %q: should exist: %w", streamID, chronicle.ErrStreamNotFound)
			return chronicle.AppendResult{}, err
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
		err := fmt.Errorf("unsupported revision type for stream %q: %w", streamID, chronicle.ErrInvalidRevision)
		return chronicle.AppendResult{}, err
	}

	saved := make([]*chronicle.Envelope, 0, len(events))
	for i := range events {
		env := events[i]
		currentVersion++
		env.Version = currentVersion
		env.GlobalSeq = uint64(len(m.global)) + 1

		stored := env
		m.events[streamID] = append(m.events[streamID], &stored)
		m.global = append(m.global, &stored)
		saved = append(saved, &stored)
	}
	m.feed.Publish(saved...)

	return chronicle.AppendResult{
		Successful:          true,
		StreamID:            streamID,
		NextExpectedVersion: currentVersion,
	}, nil
}

func (m *MemoryStore) LoadStream(ctx context.Context, id string) (*chronicle.Iterator[*chronicle.Envelope], error) {
	return m.LoadStreamFrom(ctx, id, 0)
}

func (m *MemoryStore) LoadStreamFrom(ctx context.Context, id string, version uint64) (*chronicle.Iterator[*chronicle.Envelope], error) {
	m.mu.RLock()
	stream := m.events[id]
	events := make([]*chronicle.Envelope, 0, len(stream))
	for _, env := range stream {
		if env.Version > version {
			events = append(events, env)
		}
	}
	m.mu.RUnlock()

	return sliceIterator(events), nil
}

func (m *MemoryStore) LoadByEventType(ctx context.Context, eventType string) (*chronicle.Iterator[*chronicle.Envelope], error) {
	m.mu.RLock()
	events := make([]*chronicle.Envelope, 0)
	for _, env := range m.global {
		if env.Event.EventType() == eventType {
			events = append(events, env)
		}
	}
	m.mu.RUnlock()

	return sliceIterator(events), nil
}

func (m *MemoryStore) LoadFromAll(ctx context.Context, seq uint64) (*chronicle.Iterator[*chronicle.Envelope], error) {
	m.mu.RLock()
	events := make([]*chronicle.Envelope, 0, len(m.global))
	for _, env := range m.global {
		if env.GlobalSeq > seq {
			events = append(events, env)
		}
	}
	m.mu.RUnlock()

	return sliceIterator(events), nil
}

func (m *MemoryStore) Events() <-chan *chronicle.Envelope {
	return m.feed.Events()
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.feed.Close()
	return nil
}

// sliceIterator wraps a snapshot of envelopes so the iterator stays valid
// while writers keep appending.
func sliceIterator(events []*chronicle.Envelope) *chronicle.Iterator[*chronicle.Envelope] {
	index := 0
	return chronicle.NewIteratorFunc(func(ctx context.Context) (*chronicle.Envelope, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if index >= len(events) {
			return nil, io.EOF
		}
		env := events[index]
		index++
		return env, nil
	})
}
