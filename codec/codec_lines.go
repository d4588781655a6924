package codec

import (
	"bufio"
	"bytes"
	"encoding/json"

	"github.com/baldanca/sqs-ingestor/event"
)

// MessageField is the field raw text is stored under when a body (or line)
// carries no structure of its own.
const MessageField = "message"

// JSONLines decodes newline-delimited JSON, one event per non-empty line.
//
// A line that is not a JSON object degrades to a plain event carrying the
// line under MessageField, so a single malformed line never discards the
// rest of the body.
type JSONLines struct{}

func (JSONLines) Name() string { return "json_lines" }

func (JSONLines) Decode(data []byte, emit func(event.Event)) error {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(nil, len(data)+1)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		var ev event.Event
		if line[0] == '{' && json.Unmarshal(line, &ev) == nil {
			emit(ev)
			continue
		}
		emit(event.Event{MessageField: string(line)})
	}
	return sc.Err()
}

// Plain wraps the whole body into a single event under MessageField.
type Plain struct{}

func (Plain) Name() string { return "plain" }

func (Plain) Decode(data []byte, emit func(event.Event)) error {
	emit(event.Event{MessageField: string(data)})
	return nil
}
