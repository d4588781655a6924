// Package poller implements the resilient polling engine: a long-running
// loop that drains a queue into a downstream sink, backing off on transient
// backend failures and stopping cooperatively when its context is canceled.
package poller

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/baldanca/sqs-ingestor/backoff"
	"github.com/baldanca/sqs-ingestor/codec"
	"github.com/baldanca/sqs-ingestor/event"
	"github.com/baldanca/sqs-ingestor/sink"
	"github.com/baldanca/sqs-ingestor/source"
)

// SentTimestampAttribute is the backend attribute carrying the message's
// send time as epoch milliseconds.
const SentTimestampAttribute = "SentTimestamp"

// Config tunes one engine instance.
//
// The provenance fields are each independently enabled by being non-empty:
// when set, every event decoded from a message gets the message id, the
// backend's MD5 body checksum, or the sent timestamp under that field name.
type Config struct {
	IDField            string
	ChecksumField      string
	SentTimestampField string

	// WaitTimeSeconds is the long-poll duration per fetch. Defaults to 20.
	WaitTimeSeconds int32
	// MaxMessages bounds the batch size, 1..10. Defaults to 10.
	MaxMessages int32

	// BackoffBase and BackoffCeiling tune the failure backoff policy.
	// Zero values take the backoff package defaults (1s base, 60s ceiling).
	BackoffBase    time.Duration
	BackoffCeiling time.Duration
}

func (c *Config) withDefaults() {
	if c.WaitTimeSeconds <= 0 {
		c.WaitTimeSeconds = 20
	}
	if c.MaxMessages < 1 || c.MaxMessages > 10 {
		c.MaxMessages = 10
	}
}

// Stats is a snapshot of the engine's cumulative poll statistics.
type Stats struct {
	Requests     int64
	Received     int64
	Emitted      int64
	LastReceived time.Time
}

// Poller drives the fetch, enrich, emit cycle against one queue.
//
// All mutable state is owned by the goroutine running Run; Stats is the only
// accessor meant for other goroutines.
type Poller struct {
	cfg       Config
	client    source.Client
	codec     codec.Codec
	sink      sink.Sink
	backoff   *backoff.Policy
	logger    *zap.Logger
	decorator event.Decorator
	metrics   *Metrics

	mu    sync.Mutex
	stats Stats
}

// New wires an engine. Client, codec and sink are required; logger, decorator
// and metrics are optional and set afterwards.
func New(cfg Config, client source.Client, c codec.Codec, s sink.Sink) (*Poller, error) {
	if client == nil {
		return nil, fmt.Errorf("client is nil")
	}
	if c == nil {
		return nil, fmt.Errorf("codec is nil")
	}
	if s == nil {
		return nil, fmt.Errorf("sink is nil")
	}
	cfg.withDefaults()

	return &Poller{
		cfg:     cfg,
		client:  client,
		codec:   c,
		sink:    s,
		backoff: backoff.New(cfg.BackoffBase, 0, cfg.BackoffCeiling),
		logger:  zap.NewNop(),
	}, nil
}

// SetLogger replaces the default no-op logger. Not safe to call after Run.
func (p *Poller) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p.logger = logger
}

// SetDecorator installs cross-cutting event decoration, applied after
// provenance injection. Not safe to call after Run.
func (p *Poller) SetDecorator(d event.Decorator) {
	p.decorator = d
}

// SetMetrics installs prometheus instrumentation. Not safe to call after Run.
func (p *Poller) SetMetrics(m *Metrics) {
	p.metrics = m
}

// Stats returns a snapshot of the engine's cumulative statistics.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Run polls until ctx is canceled, which is the engine's only stop signal
// and always yields a nil return. The stop is observed cooperatively: before
// each fetch and between messages of a batch, never mid-decode.
//
// Transient backend failures are retried after a backoff delay; only fatal
// configuration failures propagate out.
func (p *Poller) Run(ctx context.Context) error {
	opts := source.FetchOptions{
		MaxMessages:     p.cfg.MaxMessages,
		WaitTimeSeconds: p.cfg.WaitTimeSeconds,
	}
	if p.cfg.SentTimestampField != "" {
		opts.AttributeNames = []string{SentTimestampAttribute}
	}

	for {
		if ctx.Err() != nil {
			p.logger.Info("stop requested, shutting down")
			return nil
		}

		batch, err := p.client.Fetch(ctx, opts)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("stop requested, shutting down")
				return nil
			}
			if !p.handleFetchError(ctx, err) {
				if isFatal(err) {
					return err
				}
				return nil
			}
			continue
		}

		p.backoff.OnSuccess()
		p.recordCycle(batch)

		if p.processBatch(ctx, batch) {
			p.logger.Info("stop requested, shutting down")
			return nil
		}
	}
}

// handleFetchError classifies a fetch failure. It returns true when the
// engine should retry after having slept the backoff delay, false when the
// loop must end (fatal error or stop during the sleep).
func (p *Poller) handleFetchError(ctx context.Context, err error) bool {
	if isFatal(err) {
		p.logger.Error("fatal backend error, engine stopping", zap.Error(err))
		p.metrics.recordCycle("fatal", 0)
		return false
	}

	delay := p.backoff.OnFailure()

	fields := []zap.Field{
		zap.Error(err),
		zap.Duration("sleep", delay),
	}
	var be *source.BackendError
	if errors.As(err, &be) {
		fields = append(fields, zap.String("kind", be.Kind.String()))
		if be.Code != "" {
			fields = append(fields, zap.String("code", be.Code))
		}
		if cause := be.Unwrap(); cause != nil {
			fields = append(fields, zap.NamedError("cause", cause))
		}
	}
	p.logger.Warn("transient backend error, backing off", fields...)

	p.metrics.recordCycle("error", 0)
	p.metrics.recordBackoff(delay)

	return sleep(ctx, delay)
}

// processBatch enriches and emits every message in order, checking for a
// stop request between messages, then acknowledges the processed prefix.
// It reports whether a stop was observed.
func (p *Poller) processBatch(ctx context.Context, batch *source.Batch) (stopped bool) {
	if len(batch.Messages) == 0 {
		return false
	}

	processed := make([]source.RawMessage, 0, len(batch.Messages))
	for i := range batch.Messages {
		if ctx.Err() != nil {
			stopped = true
			break
		}
		if p.processMessage(ctx, &batch.Messages[i]) {
			processed = append(processed, batch.Messages[i])
		}
	}

	p.ack(ctx, processed, stopped)
	return stopped
}

// processMessage runs one message through decode, provenance injection,
// decoration and emission. It reports whether the message was fully
// processed and may be acknowledged; a decode or emit failure leaves the
// message unacked so the backend redelivers it.
func (p *Poller) processMessage(ctx context.Context, msg *source.RawMessage) bool {
	var emitted int64
	var emitErr error

	decodeErr := p.codec.Decode(msg.Body, func(ev event.Event) {
		if emitErr != nil {
			return
		}
		p.injectProvenance(ev, msg)
		if p.decorator != nil {
			p.decorator.Decorate(ev)
		}
		if err := p.sink.Emit(ctx, ev); err != nil {
			emitErr = err
			return
		}
		emitted++
	})

	if decodeErr != nil {
		p.logger.Warn("message body failed to decode, skipping",
			zap.String("messageId", msg.ID),
			zap.String("codec", p.codec.Name()),
			zap.Error(decodeErr))
		p.metrics.recordDecodeFailure()
		return false
	}
	if emitErr != nil {
		p.logger.Error("sink rejected event, message left for redelivery",
			zap.String("messageId", msg.ID),
			zap.Error(emitErr))
		return false
	}

	p.mu.Lock()
	p.stats.Emitted += emitted
	p.mu.Unlock()
	p.metrics.recordEvents(emitted)
	return true
}

// injectProvenance sets the configured provenance fields on an event.
// Fields whose names are unset in the config are omitted entirely.
func (p *Poller) injectProvenance(ev event.Event, msg *source.RawMessage) {
	if p.cfg.IDField != "" {
		ev[p.cfg.IDField] = msg.ID
	}
	if p.cfg.ChecksumField != "" {
		ev[p.cfg.ChecksumField] = msg.BodyMD5
	}
	if p.cfg.SentTimestampField != "" {
		if raw, ok := msg.Attributes[SentTimestampAttribute]; ok {
			if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
				// The backend reports milliseconds; its own granularity is
				// seconds, so the remainder is dropped.
				ev[p.cfg.SentTimestampField] = time.Unix(ms/1000, 0).UTC()
			}
		}
	}
}

// ack acknowledges the fully processed prefix of a batch. When a stop
// arrived mid-batch the delete still runs, detached from the canceled
// context but bounded so shutdown cannot hang.
func (p *Poller) ack(ctx context.Context, processed []source.RawMessage, stopped bool) {
	if len(processed) == 0 {
		return
	}

	ackCtx := ctx
	if stopped || ctx.Err() != nil {
		var cancel context.CancelFunc
		ackCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
	}

	if err := p.client.Ack(ackCtx, processed); err != nil {
		// Not a loop failure: the messages become visible again and are
		// reprocessed, which at-least-once delivery permits.
		p.logger.Warn("failed to acknowledge processed messages",
			zap.Int("count", len(processed)),
			zap.Error(err))
	}
}

func (p *Poller) recordCycle(batch *source.Batch) {
	p.mu.Lock()
	p.stats.Requests = batch.Stats.Requests
	p.stats.Received = batch.Stats.Received
	if !batch.Stats.LastReceived.IsZero() {
		p.stats.LastReceived = batch.Stats.LastReceived
	}
	p.mu.Unlock()

	p.metrics.recordCycle("ok", len(batch.Messages))

	p.logger.Debug("fetch cycle complete",
		zap.Int("messages", len(batch.Messages)),
		zap.Int64("totalRequests", batch.Stats.Requests),
		zap.Int64("totalReceived", batch.Stats.Received),
		zap.Time("lastReceived", batch.Stats.LastReceived))
}

func isFatal(err error) bool {
	var be *source.BackendError
	return errors.As(err, &be) && be.Kind == source.KindFatal
}

// sleep waits for d or a stop request, whichever comes first, and reports
// whether the full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return false
	case <-timer.C:
		return true
	}
}
