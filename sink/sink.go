package sink

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/baldanca/sqs-ingestor/event"
)

// Sink receives structured events from the polling engine, one at a time and
// in batch order. Implementations define their own concurrency contract; the
// engine itself emits from a single goroutine.
type Sink interface {
	Emit(ctx context.Context, ev event.Event) error
}

// WriterSink emits events as newline-delimited JSON to an io.Writer.
type WriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriterSink wraps w. The zero writer is not usable; pass os.Stdout for a
// console sink.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{enc: json.NewEncoder(w)}
}

func (s *WriterSink) Emit(_ context.Context, ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(ev)
}
