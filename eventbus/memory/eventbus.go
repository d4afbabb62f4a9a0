// Package memory provides an in-process event bus. Delivery to a subscriber
// blocks when its buffer is full, so a committed event is never dropped;
// per-subscriber ordering follows dispatch order.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chronicle-io/chronicle"
)

type subscriber struct {
	name    string
	filter  func(chronicle.Event) bool
	handler chronicle.EventHandler
	events  chan *chronicle.Envelope
	cancel  context.CancelFunc
}

type eventBus struct {
	mu         sync.RWMutex
	subs       map[string]*subscriber
	closed     bool
	done       chan struct{}
	errs       chan error
	wg         sync.WaitGroup
	bufferSize int
}

// NewEventBus constructs a new bus with a given subscriber buffer size.
func NewEventBus(bufferSize int) chronicle.EventBus {
	return &eventBus{
		subs:       make(map[string]*subscriber),
		done:       make(chan struct{}),
		errs:       make(chan error, 64),
		bufferSize: bufferSize,
	}
}

func (b *eventBus) Subscribe(
	ctx context.Context,
	name string,
	filter func(chronicle.Event) bool,
	handler chronicle.EventHandler,
	opts ...chronicle.SubscriberOption,
) error {
	if filter == nil || handler == nil {
		return errors.New("filter and handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New("eventbus is closed")
	}

	if _, exists := b.subs[name]; exists {
		return fmt.Errorf("handler with name %q already registered: %w", name, chronicle.ErrDuplicateHandler)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	s := &subscriber{
		name:    name,
		filter:  filter,
		handler: handler,
		events:  make(chan *chronicle.Envelope, b.bufferSize),
		cancel:  cancel,
	}

	b.subs[name] = s

	b.wg.Add(1)
	go b.runSubscriber(workerCtx, s)

	// Remove the subscription when the caller's ctx finishes. The watcher
	// also ends on bus close so a background ctx cannot pin it forever.
	go func() {
		select {
		case <-ctx.Done():
			b.removeSubscriber(name)
		case <-b.done:
		}
	}()

	return nil
}

// Dispatch delivers one envelope to every matching subscriber. It blocks
// while subscriber buffers are full rather than drop a committed event.
func (b *eventBus) Dispatch(ctx context.Context, envelope *chronicle.Envelope) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errors.New("eventbus is closed")
	}
	matched := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if s.filter(envelope.Event) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range matched {
		select {
		case s.events <- envelope:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *eventBus) Errors() <-chan error {
	return b.errs
}

// Close shuts down the bus and waits for all workers.
func (b *eventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)

	for name, s := range b.subs {
		s.cancel()
		delete(b.subs, name)
	}
	b.mu.Unlock()

	b.wg.Wait()
	close(b.errs)

	return nil
}

// runSubscriber processes events for a single handler. Handler errors go to
// the bus error channel; a skipped event is not an error.
func (b *eventBus) runSubscriber(ctx context.Context, s *subscriber) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case env := <-s.events:
			handlerCtx := chronicle.WithEnvelope(ctx, env)
			if err := s.handler.Handle(handlerCtx, env.Event); err != nil {
				var skipped *chronicle.ErrSkippedEvent
				if errors.As(err, &skipped) {
					continue
				}
				select {
				case b.errs <- fmt.Errorf("handler %q: %w", s.name, err):
				default:
					// Drop error if channel full
				}
			}
		}
	}
}

func (b *eventBus) removeSubscriber(name string) {
	b.mu.Lock()
	s, ok := b.subs[name]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.subs, name)
	b.mu.Unlock()

	s.cancel()
}
