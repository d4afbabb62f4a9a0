package chronicle

import (
	"errors"
	"fmt"
)

var (
	// ErrStreamExists is returned when a NoStream precondition fails.
	ErrStreamExists = errors.New("stream already exists")

	// ErrStreamNotFound is returned when a StreamExists precondition fails.
	ErrStreamNotFound = errors.New("stream does not exist")

	// ErrInvalidEventBatch is returned when a batch passed to Save is empty
	// or mixes stream IDs.
	ErrInvalidEventBatch = errors.New("invalid event batch")

	// ErrInvalidRevision is returned when a revision value cannot be applied
	// to the stream.
	ErrInvalidRevision = errors.New("invalid stream revision")

	// ErrAggregateNotFound is returned by the repository when neither a
	// snapshot nor any events exist for the aggregate.
	ErrAggregateNotFound = errors.New("aggregate not found")

	// ErrSnapshotNotFound is returned by snapshot stores when a stream has
	// no snapshot yet.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrDuplicateHandler is returned when two handlers are registered for
	// the same event type.
	ErrDuplicateHandler = errors.New("duplicate handler")

	// ErrHandlerNotFound is returned when no handler is registered for a
	// query or command type.
	ErrHandlerNotFound = errors.New("handler not found")
)

// StreamRevisionConflictError reports an optimistic concurrency conflict: the
// stream moved past the expected revision between load and save. Callers are
// expected to reload the aggregate and retry the command.
type StreamRevisionConflictError struct {
	Stream           string
	ExpectedRevision Revision
	ActualRevision   Revision
}

func (e *StreamRevisionConflictError) Error() string {
	return fmt.Sprintf("stream %q revision conflict: expected %d, actual %d",
		e.Stream, e.ExpectedRevision, e.ActualRevision)
}

// BusinessRuleError reports a domain invariant violation raised by an
// aggregate business method. It is never retried automatically.
type BusinessRuleError struct {
	Rule   string
	Detail string
}

func (e *BusinessRuleError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("business rule violated: %s", e.Rule)
	}
	return fmt.Sprintf("business rule violated: %s: %s", e.Rule, e.Detail)
}

// NewBusinessRuleError builds a BusinessRuleError with a formatted detail.
func NewBusinessRuleError(rule, format string, args ...any) *BusinessRuleError {
	return &BusinessRuleError{Rule: rule, Detail: fmt.Sprintf(format, args...)}
}

// IsBusinessRuleViolation reports whether err is (or wraps) a business rule
// violation.
func IsBusinessRuleViolation(err error) bool {
	var bre *BusinessRuleError
	return errors.As(err, &bre)
}

// UnknownEventTypeError is reported during replay when a stored event type is
// not present in the registry.
type UnknownEventTypeError struct {
	EventType string
	Stream    string
}

func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("unknown event type %q in stream %q", e.EventType, e.Stream)
}

// ErrSkippedEvent is returned when a handler cannot handle the event type.
type ErrSkippedEvent struct {
	Event Event
}

func (e *ErrSkippedEvent) Error() string {
	return fmt.Sprintf("skipped event of type %T", e.Event)
}

// EventStoreError wraps an I/O-level storage failure. It is fatal for the
// current operation; retry policy belongs to the caller.
type EventStoreError struct {
	Err error
}

func (e *EventStoreError) Error() string {
	return fmt.Sprintf("eventstore error: %v", e.Err)
}

func (e *EventStoreError) Unwrap() error {
	return e.Err
}

// WrapEventStoreError wraps err as an EventStoreError, passing nil through.
func WrapEventStoreError(err error) error {
	if err == nil {
		return nil
	}
	return &EventStoreError{Err: err}
}
