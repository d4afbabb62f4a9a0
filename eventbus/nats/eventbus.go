// Package nats provides an EventBus backed by NATS JetStream. Envelopes are
// published as stored records on a per-stream subject; subscribers are
// durable pull consumers, so delivery is at least once and survives
// restarts.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/chronicle-io/chronicle"
)

var _ chronicle.EventBus = (*EventBus)(nil)

type EventBus struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	codec  *chronicle.Codec
	stream string
	errs   chan error
	done   chan struct{}
	mu     sync.Mutex
	subs   map[string]context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewEventBus connects to NATS and ensures the JetStream stream exists. All
// envelopes dispatched through this bus land on subjects under
// "{stream}.>", partitioned by event stream ID.
func NewEventBus(url, stream string, codec *chronicle.Codec) (*EventBus, error) {
	conn, err := nats.Connect(
		url,
		nats.Timeout(10*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if _, err := js.StreamInfo(stream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			conn.Close()
			return nil, fmt.Errorf("failed to get stream info for %s: %w", stream, err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     stream,
			Subjects: []string{fmt.Sprintf("%s.>", stream)},
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create stream %s: %w", stream, err)
		}
	}

	return &EventBus{
		conn:   conn,
		js:     js,
		codec:  codec,
		stream: stream,
		errs:   make(chan error, 64),
		done:   make(chan struct{}),
		subs:   make(map[string]context.CancelFunc),
	}, nil
}

// Dispatch publishes one committed envelope. JetStream acknowledges the
// write before Dispatch returns, so a successful return means the event is
// persisted on the broker.
func (b *EventBus) Dispatch(ctx context.Context, envelope *chronicle.Envelope) error {
	record, err := b.codec.Encode(envelope)
	if err != nil {
		return err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal event record: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", b.stream, envelope.StreamID)
	if _, err := b.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish event to NATS: %w", err)
	}
	return nil
}

// Subscribe creates a durable pull consumer named after the subscription.
// Handler failures Nak the message for redelivery; skipped events Ack.
func (b *EventBus) Subscribe(
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

	sub, err := b.js.PullSubscribe(
		fmt.Sprintf("%s.>", b.stream),
		fmt.Sprintf("%s-%s", b.stream, name),
		nats.PullMaxWaiting(128),
	)
	if err != nil {
		return fmt.Errorf("failed to create pull subscription: %w", err)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	b.subs[name] = cancel

	b.wg.Add(1)
	go b.consume(workerCtx, name, sub, filter, handler)

	// The watcher also ends on bus close so a background ctx cannot pin it
	// forever.
	go func() {
		select {
		case <-ctx.Done():
			b.removeSubscriber(name)
		case <-b.done:
		}
	}()

	return nil
}

func (b *EventBus) consume(
	ctx context.Context,
	name string,
	sub *nats.Subscription,
	filter func(chronicle.Event) bool,
	handler chronicle.EventHandler,
) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := sub.Fetch(10, nats.MaxWait(5*time.Second))
		if err != nil {
			if !errors.Is(err, nats.ErrTimeout) && ctx.Err() == nil {
				b.reportError(fmt.Errorf("subscriber %q: fetch: %w", name, err))
			}
			continue
		}

		for _, msg := range msgs {
			var record chronicle.StoredEvent
			if err := json.Unmarshal(msg.Data, &record); err != nil {
				b.reportError(fmt.Errorf("subscriber %q: corrupt message: %w", name, err))
				msg.Nak()
				continue
			}

			envelope, err := b.codec.Decode(&record)
			if err != nil {
				var unknown *chronicle.UnknownEventTypeError
				if errors.As(err, &unknown) && b.codec.Registry().Mode() == chronicle.SkipUnknown {
					msg.Ack()
					continue
				}
				b.reportError(fmt.Errorf("subscriber %q: decode: %w", name, err))
				msg.Nak()
				continue
			}

			if !filter(envelope.Event) {
				msg.Ack()
				continue
			}

			handlerCtx := chronicle.WithEnvelope(ctx, envelope)
			if err := handler.Handle(handlerCtx, envelope.Event); err != nil {
				var skipped *chronicle.ErrSkippedEvent
				if errors.As(err, &skipped) {
					msg.Ack()
					continue
				}
				b.reportError(fmt.Errorf("handler %q: %w", name, err))
				msg.Nak()
				continue
			}
			msg.Ack()
		}
	}
}

func (b *EventBus) reportError(err error) {
	select {
	case b.errs <- err:
	default:
		// Drop error if channel full
	}
}

func (b *EventBus) Errors() <-chan error {
	return b.errs
}

func (b *EventBus) removeSubscriber(name string) {
	b.mu.Lock()
	cancel, ok := b.subs[name]
	if ok {
		delete(b.subs, name)
	}
	b.mu.Unlock()
	if ok {
		cancel()
	}
}

// Close stops all subscribers, waits for them, and closes the connection.
func (b *EventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	for name, cancel := range b.subs {
		cancel()
		delete(b.subs, name)
	}
	b.mu.Unlock()

	b.wg.Wait()
	close(b.errs)
	b.conn.Close()
	return nil
}
