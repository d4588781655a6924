package source

import (
	"context"
	"time"
)

// RawMessage is one message as fetched from the queue. Immutable once fetched.
//
// ReceiptHandle is an opaque backend handle needed only to acknowledge the
// message; the polling engine never interprets it.
type RawMessage struct {
	ID            string
	Body          []byte
	BodyMD5       string
	Attributes    map[string]string
	ReceiptHandle string
}

// FetchStats are cumulative statistics for the client that produced a batch.
type FetchStats struct {
	Requests     int64
	Received     int64
	LastReceived time.Time
}

// Batch is the result of one fetch: up to ten messages in backend order plus
// a snapshot of the client's fetch statistics. Batches are not retained after
// processing.
type Batch struct {
	Messages []RawMessage
	Stats    FetchStats
}

// FetchOptions control a single fetch call.
type FetchOptions struct {
	// MaxMessages bounds the batch size, 1..10.
	MaxMessages int32
	// AttributeNames lists the backend message attributes to request.
	AttributeNames []string
	// WaitTimeSeconds is the long-poll duration. A fetch never blocks past
	// this plus a small grace margin.
	WaitTimeSeconds int32
}

// Client is the queue backend adapter driven by the polling engine.
//
// Fetch returns a batch or a classified *BackendError. Ack acknowledges
// messages whose events were all emitted; unacked messages become visible
// again after the backend's visibility timeout, which is what gives the
// engine its at-least-once semantics.
type Client interface {
	Fetch(ctx context.Context, opts FetchOptions) (*Batch, error)
	Ack(ctx context.Context, msgs []RawMessage) error
}
