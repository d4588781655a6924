package codec

import (
	"fmt"

	"github.com/baldanca/sqs-ingestor/event"
)

// Codec turns one raw message body into zero or more events.
//
// Decode calls emit once per event, in the order events are produced. The
// sequence is finite and not restartable. Implementations must either emit
// nothing and return an error, or emit every event and return nil; callers
// treat an error as "this body produced no events".
type Codec interface {
	Name() string
	Decode(data []byte, emit func(event.Event)) error
}

// New returns the codec registered under name. The empty name selects the
// default JSON codec.
func New(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "json_lines":
		return JSONLines{}, nil
	case "plain":
		return Plain{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}
