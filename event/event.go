package event

// Event is one structured record produced by decoding a raw message body.
//
// The ingestor imposes no schema on events; field names map to arbitrary
// values and downstream sinks decide how to serialize them.
type Event map[string]any

// Clone returns a shallow copy of the event.
func (e Event) Clone() Event {
	cp := make(Event, len(e))
	for k, v := range e {
		cp[k] = v
	}
	return cp
}

// Decorator applies cross-cutting metadata to every event before emission.
//
// Decorators run after provenance injection and must not retain the event.
type Decorator interface {
	Decorate(Event)
}

// Fields is a Decorator that sets a fixed set of fields on every event.
// Fields already present on the event win over the decorator's values.
type Fields map[string]any

func (f Fields) Decorate(e Event) {
	for k, v := range f {
		if _, ok := e[k]; !ok {
			e[k] = v
		}
	}
}
