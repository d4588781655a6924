package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/baldanca/sqs-ingestor/event"
)

// JSON decodes one JSON document per message body.
//
// A top-level object yields one event; a top-level array of objects yields one
// event per element, in array order (an empty array yields none). Anything
// else fails without emitting.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Decode(data []byte, emit func(event.Event)) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty body")
	}

	switch trimmed[0] {
	case '{':
		var ev event.Event
		if err := json.Unmarshal(trimmed, &ev); err != nil {
			return fmt.Errorf("decode json object: %w", err)
		}
		emit(ev)
		return nil
	case '[':
		var evs []event.Event
		if err := json.Unmarshal(trimmed, &evs); err != nil {
			return fmt.Errorf("decode json array: %w", err)
		}
		for _, ev := range evs {
			emit(ev)
		}
		return nil
	default:
		return fmt.Errorf("body is not a json object or array")
	}
}
