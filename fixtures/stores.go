package fixtures

import (
	"context"
	"sync"

	"github.com/chronicle-io/chronicle"
)

// StoreSpy is a configurable mock EventStore for testing. It tracks calls
// and allows injecting custom behavior or failures. Loads serve the
// pre-populated envelopes; saves are captured but not stored.
type StoreSpy struct {
	mu sync.Mutex

	// Function overrides for custom behavior
	SaveFn           func(ctx context.Context, events []chronicle.Envelope, revision chronicle.StreamState) (chronicle.AppendResult, error)
	LoadStreamFn     func(ctx context.Context, id string) (*chronicle.Iterator[*chronicle.Envelope], error)
	LoadStreamFromFn func(ctx context.Context, id string, version uint64) (*chronicle.Iterator[*chronicle.Envelope], error)

	// Call tracking
	SaveCalls           int
	LoadStreamCalls     int
	LoadStreamFromCalls int
	CloseCalls          int

	// Captured arguments from last Save
	LastSaveEvents   []chronicle.Envelope
	LastSaveRevision chronicle.StreamState
	LastLoadStreamID string

	events map[string][]*chronicle.Envelope
	feed   chan *chronicle.Envelope

	loadErr error
	saveErr error
}

var _ chronicle.EventStore = (*StoreSpy)(nil)

// NewStoreSpy creates a new StoreSpy with default behavior.
func NewStoreSpy() *StoreSpy {
	return &StoreSpy{
		events: make(map[string][]*chronicle.Envelope),
		feed:   make(chan *chronicle.Envelope, 64),
	}
}

// WithEvents pre-populates the store with events for a stream.
func (s *StoreSpy) WithEvents(streamID string, events ...*chronicle.Envelope) *StoreSpy {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[streamID] = events
	return s
}

// WithEventsFromSlice pre-populates the store wrapping plain events.
func (s *StoreSpy) WithEventsFromSlice(streamID string, events ...chronicle.Event) *StoreSpy {
	envelopes := EnvelopesFromEvents(events...)
	for _, env := range envelopes {
		env.StreamID = streamID
	}
	return s.WithEvents(streamID, envelopes...)
}

// FailOnLoad configures the store to return an error on load operations.
func (s *StoreSpy) FailOnLoad(err error) *StoreSpy {
	s.loadErr = err
	return s
}

// FailOnSave configures the store to return an error on save operations.
func (s *StoreSpy) FailOnSave(err error) *StoreSpy {
	s.saveErr = err
	return s
}

func (s *StoreSpy) Save(ctx context.Context, events []chronicle.Envelope, revision chronicle.StreamState) (chronicle.AppendResult, error) {
	s.mu.Lock()
	s.SaveCalls++
	s.LastSaveEvents = events
	s.LastSaveRevision = revision
	s.mu.Unlock()

	if s.SaveFn != nil {
		return s.SaveFn(ctx, events, revision)
	}
	if s.saveErr != nil {
		return chronicle.AppendResult{}, s.saveErr
	}

	var streamID string
	var next uint64
	if len(events) > 0 {
		streamID = events[0].StreamID
		next = events[len(events)-1].Version
	}
	return chronicle.AppendResult{Successful: true, StreamID: streamID, NextExpectedVersion: next}, nil
}

func (s *StoreSpy) LoadStream(ctx context.Context, id string) (*chronicle.Iterator[*chronicle.Envelope], error) {
	s.mu.Lock()
	s.LoadStreamCalls++
	s.LastLoadStreamID = id
	stream := s.events[id]
	s.mu.Unlock()

	if s.LoadStreamFn != nil {
		return s.LoadStreamFn(ctx, id)
	}
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return chronicle.NewSliceIterator(stream), nil
}

func (s *StoreSpy) LoadStreamFrom(ctx context.Context, id string, version uint64) (*chronicle.Iterator[*chronicle.Envelope], error) {
	s.mu.Lock()
	s.LoadStreamFromCalls++
	s.LastLoadStreamID = id
	stream := s.events[id]
	s.mu.Unlock()

	if s.LoadStreamFromFn != nil {
		return s.LoadStreamFromFn(ctx, id, version)
	}
	if s.loadErr != nil {
		return nil, s.loadErr
	}

	var filtered []*chronicle.Envelope
	for _, env := range stream {
		if env.Version > version {
			filtered = append(filtered, env)
		}
	}
	return chronicle.NewSliceIterator(filtered), nil
}

func (s *StoreSpy) LoadByEventType(ctx context.Context, eventType string) (*chronicle.Iterator[*chronicle.Envelope], error) {
	s.mu.Lock()
	var matched []*chronicle.Envelope
	for _, stream := range s.events {
		for _, env := range stream {
			if env.Event.EventType() == eventType {
				matched = append(matched, env)
			}
		}
	}
	s.mu.Unlock()

	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return chronicle.NewSliceIterator(matched), nil
}

func (s *StoreSpy) LoadFromAll(ctx context.Context, seq uint64) (*chronicle.Iterator[*chronicle.Envelope], error) {
	s.mu.Lock()
	var all []*chronicle.Envelope
	for _, stream := range s.events {
		for _, env := range stream {
			if env.GlobalSeq > seq {
				all = append(all, env)
			}
		}
	}
	s.mu.Unlock()

	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return chronicle.NewSliceIterator(all), nil
}

func (s *StoreSpy) Events() <-chan *chronicle.Envelope {
	return s.feed
}

// Emit pushes an envelope onto the feed for dispatcher tests.
func (s *StoreSpy) Emit(env *chronicle.Envelope) {
	s.feed <- env
}

func (s *StoreSpy) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	if s.CloseCalls == 1 {
		close(s.feed)
	}
	return nil
}

// Reset clears all call counts and captured arguments.
func (s *StoreSpy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SaveCalls = 0
	s.LoadStreamCalls = 0
	s.LoadStreamFromCalls = 0
	s.CloseCalls = 0
	s.LastSaveEvents = nil
	s.LastSaveRevision = nil
	s.LastLoadStreamID = ""
}
