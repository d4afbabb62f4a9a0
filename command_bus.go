package chronicle

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
)

// queuedCommand is one enqueued command together with its caller's context,
// resolved handler and response channel.
type queuedCommand struct {
	Ctx        context.Context
	Command    Command
	Handler    func(ctx context.Context, command Command) (AppendResult, error)
	ResponseCh chan<- commandResult
}

type commandResult struct {
	Result AppendResult
	Err    error
}

// CommandBus is an in-memory, sharded command dispatcher. Commands for the
// same aggregate always land on the same shard, so per-aggregate processing
// is serialized without a global lock while different aggregates proceed in
// parallel.
type CommandBus struct {
	// mu guards handlers and the closed flag. Dispatch enqueues while
	// holding the read lock, so Close cannot close a queue mid-send.
	mu         sync.RWMutex
	handlers   map[string]func(ctx context.Context, command Command) (AppendResult, error)
	queues     []chan queuedCommand
	closed     bool
	wg         sync.WaitGroup
	shardCount int
}

// NewCommandBus creates a command bus with the given per-shard queue size
// and shard count. Workers start immediately.
func NewCommandBus(bufferSize int, shardCount int) *CommandBus {
	if shardCount <= 0 {
		shardCount = 1
	}

	bus := &CommandBus{
		handlers:   make(map[string]func(ctx context.Context, command Command) (AppendResult, error)),
		queues:     make([]chan queuedCommand, shardCount),
		shardCount: shardCount,
	}

	for i := 0; i < shardCount; i++ {
		bus.queues[i] = make(chan queuedCommand, bufferSize)
		bus.wg.Add(1)
		go bus.worker(bus.queues[i])
	}

	return bus
}

// RegisterHandler registers the handler for command type C. Registration
// happens at startup; a duplicate registration panics.
func RegisterHandler[C Command](bus *CommandBus, handler CommandHandler[C]) {
	var zero C
	name := TypeName(zero)

	bus.mu.Lock()
	defer bus.mu.Unlock()

	if _, exists := bus.handlers[name]; exists {
		panic(fmt.Sprintf("chronicle: command handler already registered: %s", name))
	}
	bus.handlers[name] = func(ctx context.Context, command Command) (AppendResult, error) {
		cmd, ok := command.(C)
		if !ok {
			return AppendResult{}, fmt.Errorf("command %T is not %s", command, name)
		}
		return handler(ctx, cmd)
	}
}

// Dispatch enqueues a command on its aggregate's shard and waits for the
// result. Safe for concurrent use.
func (b *CommandBus) Dispatch(ctx context.Context, command Command) (AppendResult, error) {
	responseCh := make(chan commandResult, 1)

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return AppendResult{}, errors.New("command bus is closed")
	}
	handler, known := b.handlers[TypeName(command)]
	if !known {
		b.mu.RUnlock()
		return AppendResult{}, fmt.Errorf("no handler registered for command %T", command)
	}

	queued := queuedCommand{Ctx: ctx, Command: command, Handler: handler, ResponseCh: responseCh}
	select {
	case b.queues[b.shardFor(command)] <- queued:
		b.mu.RUnlock()
	case <-ctx.Done():
		b.mu.RUnlock()
		return AppendResult{}, ctx.Err()
	}

	select {
	case result := <-responseCh:
		return result.Result, result.Err
	case <-ctx.Done():
		return AppendResult{}, ctx.Err()
	}
}

// Close stops accepting commands, lets the workers drain what was already
// enqueued, and waits for them.
func (b *CommandBus) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		for _, q := range b.queues {
			close(q)
		}
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *CommandBus) shardFor(command Command) int {
	h := fnv.New32a()
	h.Write([]byte(command.AggregateID()))
	return int(h.Sum32() % uint32(b.shardCount))
}

func (b *CommandBus) worker(queue <-chan queuedCommand) {
	defer b.wg.Done()

	for queued := range queue {
		process(queued)
	}
}

// process runs one command with panic recovery so a broken handler cannot
// take the shard's worker down.
func process(queued queuedCommand) {
	defer func() {
		if r := recover(); r != nil {
			queued.ResponseCh <- commandResult{
				Err: fmt.Errorf("command handler panicked: %v", r),
			}
		}
	}()

	result, err := queued.Handler(queued.Ctx, queued.Command)
	queued.ResponseCh <- commandResult{Result: result, Err: err}
}
