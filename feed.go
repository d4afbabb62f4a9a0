package chronicle

import "sync"

// EventFeed carries committed envelopes from a store to its Events() channel
// without dropping any. Publish never blocks the writer: envelopes queue in
// memory and a pump goroutine drains them into the outbound channel in commit
// order, so a slow consumer delays delivery instead of losing events.
//
// The channel must be consumed. Close stops accepting new envelopes, flushes
// what was already published and then closes the channel.
type EventFeed struct {
	mu      sync.Mutex
	pending []*Envelope
	closed  bool

	signal chan struct{}
	done   chan struct{}
	out    chan *Envelope
}

// NewEventFeed creates a feed whose outbound channel holds buffer envelopes
// before the pump has to wait on the consumer.
func NewEventFeed(buffer int) *EventFeed {
	if buffer < 0 {
		buffer = 0
	}
	f := &EventFeed{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan *Envelope, buffer),
	}
	go f.pump()
	return f
}

// Publish queues committed envelopes for delivery. Safe to call while holding
// store locks; it never blocks. Publishing after Close is a no-op.
func (f *EventFeed) Publish(envelopes ...*Envelope) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.pending = append(f.pending, envelopes...)
	f.mu.Unlock()

	select {
	case f.signal <- struct{}{}:
	default:
	}
}

// Events returns the delivery channel. It closes after Close once every
// published envelope has been delivered.
func (f *EventFeed) Events() <-chan *Envelope {
	return f.out
}

// Close stops the feed. Already-published envelopes are still delivered
// before the channel closes. Idempotent.
func (f *EventFeed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()
	close(f.done)
}

func (f *EventFeed) pump() {
	for {
		f.mu.Lock()
		batch := f.pending
		f.pending = nil
		f.mu.Unlock()

		for _, env := range batch {
			f.out <- env
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-f.signal:
		case <-f.done:
			// Flush anything that raced ahead of Close, then end the stream.
			f.mu.Lock()
			rest := f.pending
			f.pending = nil
			f.mu.Unlock()
			for _, env := range rest {
				f.out <- env
			}
			close(f.out)
			return
		}
	}
}
