package chronicle

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// UnknownEventMode controls what happens when replay encounters a stored
// event type that is not registered.
type UnknownEventMode int

const (
	// FailOnUnknown aborts the replay with *UnknownEventTypeError.
	FailOnUnknown UnknownEventMode = iota

	// SkipUnknown drops the event from the replay with a warning log.
	SkipUnknown
)

// Upcaster rewrites a payload from one schema version to the next.
type Upcaster func(data json.RawMessage) (json.RawMessage, error)

// Registry is the explicit table mapping stable event type names to payload
// shapes and upcasters. It is constructed at startup and passed by reference
// into the stores' deserialization path; there is no ambient global registry.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func() Event
	schemas   map[string]int
	upcasters map[string]map[int]Upcaster
	mode      UnknownEventMode
	log       *slog.Logger
}

// RegistryOption configures a Registry at construction.
type RegistryOption func(*Registry)

// WithUnknownEventMode sets the replay strictness for unregistered event
// types. The default is FailOnUnknown.
func WithUnknownEventMode(mode UnknownEventMode) RegistryOption {
	return func(r *Registry) { r.mode = mode }
}

// WithRegistryLogger sets the logger used for skip warnings.
func WithRegistryLogger(log *slog.Logger) RegistryOption {
	return func(r *Registry) { r.log = log }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		factories: make(map[string]func() Event),
		schemas:   make(map[string]int),
		upcasters: make(map[string]map[int]Upcaster),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterOption configures a single event registration.
type RegisterOption func(*registration)

type registration struct {
	schemaVersion int
}

// AtSchemaVersion declares the latest payload schema version for the event
// type being registered. Unregistered types default to schema version 1.
func AtSchemaVersion(v int) RegisterOption {
	return func(reg *registration) { reg.schemaVersion = v }
}

// Register registers an event type under its default EventType() name.
//
// The factory must return a fresh instance each call; the instance's dynamic
// type is used to allocate payloads during deserialization. Register panics
// on a nil or nil-returning factory and on duplicate names, since both are
// startup wiring mistakes.
//
//	registry.Register(func() chronicle.Event { return AccountOpened{} })
func (r *Registry) Register(fn func() Event, opts ...RegisterOption) {
	if fn == nil {
		panic("chronicle: cannot register nil event factory")
	}
	ev := fn()
	if ev == nil {
		panic("chronicle: event factory returned nil")
	}
	r.RegisterNamed(ev.EventType(), fn, opts...)
}

// RegisterNamed registers an event type under an explicit name, independent
// of EventType(). Panics under the same conditions as Register.
func (r *Registry) RegisterNamed(name string, fn func() Event, opts ...RegisterOption) {
	if fn == nil {
		panic("chronicle: cannot register nil event factory")
	}
	reg := registration{schemaVersion: 1}
	for _, opt := range opts {
		opt(&reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		panic(fmt.Sprintf("chronicle: event already registered: %s", name))
	}
	if fn() == nil {
		panic(fmt.Sprintf("chronicle: event factory returned nil for %s", name))
	}

	r.factories[name] = fn
	r.schemas[name] = reg.schemaVersion
}

// RegisterUpcaster installs the function that lifts payloads of the given
// event type from schema version fromSchema to fromSchema+1. Decoding
// applies upcasters in sequence until the payload reaches the latest
// registered schema version.
func (r *Registry) RegisterUpcaster(eventType string, fromSchema int, up Upcaster) {
	if up == nil {
		panic("chronicle: cannot register nil upcaster")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	chain, ok := r.upcasters[eventType]
	if !ok {
		chain = make(map[int]Upcaster)
		r.upcasters[eventType] = chain
	}
	if _, exists := chain[fromSchema]; exists {
		panic(fmt.Sprintf("chronicle: upcaster already registered for %s schema %d", eventType, fromSchema))
	}
	chain[fromSchema] = up
}

// New creates a fresh instance of a registered event type. It returns
// *UnknownEventTypeError when the name is not registered.
func (r *Registry) New(name string) (Event, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &UnknownEventTypeError{EventType: name}
	}
	ev := factory()
	if ev == nil {
		return nil, fmt.Errorf("event factory returned nil for %s", name)
	}
	return ev, nil
}

// SchemaVersion returns the latest known schema version for the event type,
// defaulting to 1 for unregistered names.
func (r *Registry) SchemaVersion(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if v, ok := r.schemas[name]; ok {
		return v
	}
	return 1
}

// Upcast lifts data recorded at the given schema version to the latest
// registered version, returning the rewritten payload and the version it
// now carries. A payload already at the latest version passes through
// untouched. A gap in the upcaster chain is an error: the payload cannot
// reach the shape the aggregate expects.
func (r *Registry) Upcast(eventType string, schemaVersion int, data json.RawMessage) (json.RawMessage, int, error) {
	latest := r.SchemaVersion(eventType)
	if schemaVersion <= 0 {
		schemaVersion = 1
	}

	r.mu.RLock()
	chain := r.upcasters[eventType]
	r.mu.RUnlock()

	for schemaVersion < latest {
		up, ok := chain[schemaVersion]
		if !ok {
			return nil, schemaVersion, fmt.Errorf(
				"no upcaster from schema %d to %d for event type %q",
				schemaVersion, schemaVersion+1, eventType)
		}
		next, err := up(data)
		if err != nil {
			return nil, schemaVersion, fmt.Errorf(
				"upcast %q from schema %d: %w", eventType, schemaVersion, err)
		}
		data = next
		schemaVersion++
	}
	return data, schemaVersion, nil
}

// Mode returns the configured unknown-event strictness.
func (r *Registry) Mode() UnknownEventMode {
	return r.mode
}

// Logger returns the registry's logger for skip warnings.
func (r *Registry) Logger() *slog.Logger {
	return r.log
}
