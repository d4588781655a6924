package sink

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"

	"github.com/baldanca/sqs-ingestor/event"
)

// Parquet compression codecs accepted by S3ArchiveConfig.
const (
	ParquetCompressionNone   = ""
	ParquetCompressionSnappy = "snappy"
	ParquetCompressionGzip   = "gzip"
	ParquetCompressionZstd   = "zstd"
)

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3ArchiveConfig bounds the buffered batch of an S3ArchiveSink.
type S3ArchiveConfig struct {
	Bucket string
	Prefix string

	// MaxEvents and MaxBytes trigger a flush when either bound is reached;
	// FlushInterval triggers one on the next Emit after the interval passes.
	MaxEvents     int
	MaxBytes      int64
	FlushInterval time.Duration

	// Compression is one of the ParquetCompression constants.
	Compression string

	// IDField and ChecksumField name event fields to lift into dedicated
	// columns, typically the same names configured for provenance injection.
	IDField       string
	ChecksumField string
}

func (c *S3ArchiveConfig) withDefaults() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return fmt.Errorf("bucket is required")
	}
	c.Prefix = strings.Trim(c.Prefix, "/")
	if c.MaxEvents <= 0 {
		c.MaxEvents = 1000
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 5 * 1024 * 1024
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Minute
	}
	switch c.Compression {
	case ParquetCompressionNone, ParquetCompressionSnappy, ParquetCompressionGzip, ParquetCompressionZstd:
	default:
		return fmt.Errorf("unsupported parquet compression: %q", c.Compression)
	}
	return nil
}

// archiveRow is the fixed parquet shape events are archived in. Events are
// schema-free, so the full record travels as a JSON payload column next to
// the lifted provenance columns.
type archiveRow struct {
	ReceivedAt int64  `parquet:"received_at"`
	MessageID  string `parquet:"message_id"`
	Checksum   string `parquet:"checksum"`
	Payload    string `parquet:"payload"`
}

// S3ArchiveSink batches events and writes them as parquet objects under
// time-partitioned keys. Emit is safe for concurrent use; flushing happens
// inline on the emitting goroutine.
//
// Close must be called on shutdown to flush the tail batch.
type S3ArchiveSink struct {
	cfg       S3ArchiveConfig
	client    s3API
	bucketPtr *string
	logger    *zap.Logger

	mu       sync.Mutex
	rows     []archiveRow
	bytes    int64
	deadline time.Time
}

func NewS3ArchiveSink(client s3API, cfg S3ArchiveConfig, logger *zap.Logger) (*S3ArchiveSink, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	if err := cfg.withDefaults(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &S3ArchiveSink{cfg: cfg, client: client, logger: logger}
	s.bucketPtr = &s.cfg.Bucket
	return s, nil
}

func (s *S3ArchiveSink) Emit(ctx context.Context, ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	row := archiveRow{
		ReceivedAt: time.Now().Unix(),
		Payload:    string(payload),
	}
	if s.cfg.IDField != "" {
		if id, ok := ev[s.cfg.IDField].(string); ok {
			row.MessageID = id
		}
	}
	if s.cfg.ChecksumField != "" {
		if sum, ok := ev[s.cfg.ChecksumField].(string); ok {
			row.Checksum = sum
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.rows) == 0 {
		s.deadline = time.Now().Add(s.cfg.FlushInterval)
	}
	s.rows = append(s.rows, row)
	s.bytes += int64(len(row.Payload))

	if len(s.rows) >= s.cfg.MaxEvents || s.bytes >= s.cfg.MaxBytes || time.Now().After(s.deadline) {
		return s.flushLocked(ctx)
	}
	return nil
}

// Close flushes whatever is buffered. The sink stays usable afterwards, so a
// final Close during shutdown is all tear-down it needs.
func (s *S3ArchiveSink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

func (s *S3ArchiveSink) flushLocked(ctx context.Context) error {
	if len(s.rows) == 0 {
		return nil
	}

	data, err := encodeParquet(s.rows, s.cfg.Compression)
	if err != nil {
		return err
	}

	key, err := archiveKey(s.cfg.Prefix)
	if err != nil {
		return err
	}

	keyVar := key
	cl := int64(len(data))
	ct := "application/vnd.apache.parquet"

	var body bytes.Reader
	body.Reset(data)

	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        s.bucketPtr,
		Key:           &keyVar,
		Body:          &body,
		ContentLength: &cl,
		ContentType:   &ct,
	}); err != nil {
		return fmt.Errorf("put s3 object key=%q: %w", key, err)
	}

	s.logger.Debug("flushed archive object",
		zap.String("key", key),
		zap.Int("events", len(s.rows)),
		zap.Int64("bytes", cl))

	s.rows = s.rows[:0]
	s.bytes = 0
	return nil
}

func encodeParquet(rows []archiveRow, compression string) ([]byte, error) {
	output := &bytes.Buffer{}
	options := make([]parquet.WriterOption, 0, 1)

	switch compression {
	case ParquetCompressionNone:
		// no compression
	case ParquetCompressionSnappy:
		options = append(options, parquet.Compression(&parquet.Snappy))
	case ParquetCompressionGzip:
		options = append(options, parquet.Compression(&parquet.Gzip))
	case ParquetCompressionZstd:
		options = append(options, parquet.Compression(&parquet.Zstd))
	default:
		return nil, fmt.Errorf("unsupported parquet compression: %q", compression)
	}

	w := parquet.NewGenericWriter[archiveRow](output, options...)
	if _, err := w.Write(rows); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return output.Bytes(), nil
}

// archiveKey partitions objects by time and appends a random suffix so
// concurrent engines never collide on a key.
func archiveKey(prefix string) (string, error) {
	now := time.Now().UTC()
	suffix, err := randomHex(8)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("%04d/%02d/%02d/%02d/%d-%s.parquet",
		now.Year(), int(now.Month()), now.Day(), now.Hour(), now.UnixNano(), suffix)
	if prefix != "" {
		key = prefix + "/" + key
	}
	return key, nil
}

func randomHex(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

var _ Sink = (*S3ArchiveSink)(nil)
