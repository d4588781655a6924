package source

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
)

// fetchGrace bounds how long past the long-poll wait a request may block.
const fetchGrace = 5 * time.Second

type sqsAPI interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

// SQSConfig identifies the queue an SQSClient drains.
type SQSConfig struct {
	// QueueName is resolved to a URL at construction. Ignored when QueueURL
	// is set directly.
	QueueName string
	// OwnerAccountID optionally scopes the name lookup to another account's
	// queue.
	OwnerAccountID string
	// QueueURL skips name resolution entirely.
	QueueURL string
}

// SQSClient adapts one SQS queue to the Client interface.
type SQSClient struct {
	client      sqsAPI
	queueURL    string
	queueURLPtr *string
	logger      *zap.Logger

	// stats are only mutated by Fetch, which the engine calls from a single
	// goroutine.
	stats FetchStats
}

// NewSQS resolves the configured queue and returns a client bound to it.
//
// A queue that cannot be resolved is a configuration problem: the returned
// error is a *BackendError with KindFatal and the engine never starts.
func NewSQS(ctx context.Context, client sqsAPI, cfg SQSConfig, logger *zap.Logger) (*SQSClient, error) {
	if client == nil {
		return nil, fmt.Errorf("sqs client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &SQSClient{client: client, logger: logger}

	switch {
	case cfg.QueueURL != "":
		s.queueURL = cfg.QueueURL
	case cfg.QueueName != "":
		in := &sqs.GetQueueUrlInput{QueueName: &cfg.QueueName}
		if cfg.OwnerAccountID != "" {
			in.QueueOwnerAWSAccountId = &cfg.OwnerAccountID
		}
		out, err := s.client.GetQueueUrl(ctx, in)
		if err != nil {
			be := classify("get queue url", err)
			be.Kind = KindFatal
			return nil, be
		}
		s.queueURL = aws.ToString(out.QueueUrl)
	default:
		return nil, fmt.Errorf("queue name or url is required")
	}

	s.queueURLPtr = &s.queueURL
	logger.Debug("resolved queue", zap.String("queueUrl", s.queueURL))
	return s, nil
}

// QueueURL returns the resolved queue URL.
func (s *SQSClient) QueueURL() string { return s.queueURL }

// Fetch performs one long-poll receive and maps the result into a Batch.
// The request carries a deadline of the wait time plus a small grace margin
// so a hung backend cannot stall the engine past its long-poll window.
func (s *SQSClient) Fetch(ctx context.Context, opts FetchOptions) (*Batch, error) {
	maxMessages := opts.MaxMessages
	if maxMessages < 1 || maxMessages > 10 {
		maxMessages = 10
	}

	in := &sqs.ReceiveMessageInput{
		QueueUrl:            s.queueURLPtr,
		MaxNumberOfMessages: maxMessages,
		WaitTimeSeconds:     opts.WaitTimeSeconds,
	}
	for _, name := range opts.AttributeNames {
		in.MessageSystemAttributeNames = append(in.MessageSystemAttributeNames,
			sqstypes.MessageSystemAttributeName(name))
	}

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(opts.WaitTimeSeconds)*time.Second+fetchGrace)
	out, err := s.client.ReceiveMessage(reqCtx, in)
	cancel()
	if err != nil {
		return nil, classify("receive message", err)
	}

	s.stats.Requests++
	s.stats.Received += int64(len(out.Messages))
	if len(out.Messages) > 0 {
		s.stats.LastReceived = time.Now()
	}

	batch := &Batch{
		Messages: make([]RawMessage, 0, len(out.Messages)),
		Stats:    s.stats,
	}
	for i := range out.Messages {
		m := &out.Messages[i]
		batch.Messages = append(batch.Messages, RawMessage{
			ID:            aws.ToString(m.MessageId),
			Body:          []byte(aws.ToString(m.Body)),
			BodyMD5:       aws.ToString(m.MD5OfBody),
			Attributes:    m.Attributes,
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		})
	}
	return batch, nil
}

// Ack deletes fully processed messages, chunked to the backend's batch limit.
// A partially failed delete returns an error; the affected messages simply
// become visible again and are reprocessed.
func (s *SQSClient) Ack(ctx context.Context, msgs []RawMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	const max = 10
	entries := make([]sqstypes.DeleteMessageBatchRequestEntry, 0, max)
	in := sqs.DeleteMessageBatchInput{QueueUrl: s.queueURLPtr}

	for i := 0; i < len(msgs); i += max {
		end := i + max
		if end > len(msgs) {
			end = len(msgs)
		}

		entries = entries[:0]
		for j := i; j < end; j++ {
			entries = append(entries, sqstypes.DeleteMessageBatchRequestEntry{
				Id:            &msgs[j].ID,
				ReceiptHandle: &msgs[j].ReceiptHandle,
			})
		}

		in.Entries = entries
		out, err := s.client.DeleteMessageBatch(ctx, &in)
		if err != nil {
			return classify("delete message batch", err)
		}
		if len(out.Failed) > 0 {
			f := out.Failed[0]
			return fmt.Errorf("sqs delete failed id=%s code=%s message=%s",
				aws.ToString(f.Id), aws.ToString(f.Code), aws.ToString(f.Message))
		}
	}
	return nil
}

var _ Client = (*SQSClient)(nil)
