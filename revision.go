package chronicle

// StreamState expresses the precondition a caller attaches to an append.
// The concrete values form a closed set: Any, NoStream, StreamExists and
// Revision.
type StreamState interface {
	streamState()
}

// Any means append without checking the current revision.
type Any struct{}

func (Any) streamState() {}

// NoStream means the stream must not exist yet.
type NoStream struct{}

func (NoStream) streamState() {}

// StreamExists means the stream must already exist.
type StreamExists struct{}

func (StreamExists) streamState() {}

// Revision matches exactly a numeric stream revision. Appending with
// Revision(n) succeeds only while the stream's highest version is n, which
// makes the version check and the append a single conditional write.
type Revision uint64

func (Revision) streamState() {}
