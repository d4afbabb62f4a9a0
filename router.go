package chronicle

// ApplyRouter routes events to typed apply functions so concrete aggregates
// can register one function per event type instead of maintaining a type
// switch in ApplyEvent. Routes are registered once at construction; Apply
// itself does plain type assertions.
type ApplyRouter struct {
	routes []func(Event) bool
}

// NewApplyRouter creates an empty router.
func NewApplyRouter() *ApplyRouter {
	return &ApplyRouter{}
}

// OnAggregateEvent registers the apply function for one concrete event type.
func OnAggregateEvent[E Event](r *ApplyRouter, apply func(E)) {
	r.routes = append(r.routes, func(event Event) bool {
		e, ok := event.(E)
		if !ok {
			return false
		}
		apply(e)
		return true
	})
}

// Apply dispatches the event to its registered function and reports whether
// a route matched. An unmatched event leaves all state untouched.
func (r *ApplyRouter) Apply(event Event) bool {
	for _, route := range r.routes {
		if route(event) {
			return true
		}
	}
	return false
}
