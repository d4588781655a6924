package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

//
// Fakes
//

type fakeSQSAPI struct {
	mu sync.Mutex

	queueURL    string
	getURLErr   error
	lastget     *sqs.GetQueueUrlInput
	recvOutputs []*sqs.ReceiveMessageOutput
	recvErr     error
	lastRecv    *sqs.ReceiveMessageInput

	delErr        error
	delFail       bool
	delCalls      int
	delBatchSizes []int
	delIDs        []string
}

func (f *fakeSQSAPI) GetQueueUrl(ctx context.Context, in *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastget = in
	if f.getURLErr != nil {
		return nil, f.getURLErr
	}
	return &sqs.GetQueueUrlOutput{QueueUrl: &f.queueURL}, nil
}

func (f *fakeSQSAPI) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRecv = in
	if f.recvErr != nil {
		return nil, f.recvErr
	}
	if len(f.recvOutputs) == 0 {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	out := f.recvOutputs[0]
	f.recvOutputs = f.recvOutputs[1:]
	return out, nil
}

func (f *fakeSQSAPI) DeleteMessageBatch(ctx context.Context, in *sqs.DeleteMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delCalls++
	f.delBatchSizes = append(f.delBatchSizes, len(in.Entries))
	for _, e := range in.Entries {
		f.delIDs = append(f.delIDs, aws.ToString(e.Id))
	}
	if f.delErr != nil {
		return nil, f.delErr
	}
	if f.delFail {
		return &sqs.DeleteMessageBatchOutput{
			Failed: []sqstypes.BatchResultErrorEntry{{
				Id:      aws.String("x"),
				Code:    aws.String("InternalError"),
				Message: aws.String("boom"),
			}},
		}, nil
	}
	return &sqs.DeleteMessageBatchOutput{}, nil
}

func newTestClient(t *testing.T, api *fakeSQSAPI) *SQSClient {
	t.Helper()
	s, err := NewSQS(context.Background(), api, SQSConfig{QueueURL: "https://sqs.test/123/events"}, zap.NewNop())
	require.NoError(t, err)
	return s
}

//
// Tests
//

func TestNewSQSResolvesQueueName(t *testing.T) {
	api := &fakeSQSAPI{queueURL: "https://sqs.test/123/events"}

	s, err := NewSQS(context.Background(), api, SQSConfig{
		QueueName:      "events",
		OwnerAccountID: "123456789012",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "https://sqs.test/123/events", s.QueueURL())
	require.Equal(t, "events", aws.ToString(api.lastget.QueueName))
	require.Equal(t, "123456789012", aws.ToString(api.lastget.QueueOwnerAWSAccountId))
}

func TestNewSQSResolveFailureIsFatal(t *testing.T) {
	api := &fakeSQSAPI{
		getURLErr: &smithy.GenericAPIError{Code: "AWS.SimpleQueueService.NonExistentQueue", Message: "no such queue"},
	}

	_, err := NewSQS(context.Background(), api, SQSConfig{QueueName: "missing"}, nil)
	require.Error(t, err)

	var be *BackendError
	require.ErrorAs(t, err, &be)
	require.Equal(t, KindFatal, be.Kind)
}

func TestNewSQSRequiresQueue(t *testing.T) {
	_, err := NewSQS(context.Background(), &fakeSQSAPI{}, SQSConfig{}, nil)
	require.Error(t, err)
}

func TestFetchMapsMessages(t *testing.T) {
	api := &fakeSQSAPI{
		queueURL: "https://sqs.test/123/events",
		recvOutputs: []*sqs.ReceiveMessageOutput{{
			Messages: []sqstypes.Message{
				{
					MessageId:     aws.String("m-1"),
					Body:          aws.String(`{"a":1}`),
					MD5OfBody:     aws.String("abc123"),
					ReceiptHandle: aws.String("rh-1"),
					Attributes:    map[string]string{"SentTimestamp": "1609459200000"},
				},
				{
					MessageId:     aws.String("m-2"),
					Body:          aws.String(`{"b":2}`),
					ReceiptHandle: aws.String("rh-2"),
				},
			},
		}},
	}
	s := newTestClient(t, api)

	batch, err := s.Fetch(context.Background(), FetchOptions{
		MaxMessages:     10,
		WaitTimeSeconds: 1,
		AttributeNames:  []string{"SentTimestamp"},
	})
	require.NoError(t, err)
	require.Len(t, batch.Messages, 2)

	m := batch.Messages[0]
	require.Equal(t, "m-1", m.ID)
	require.Equal(t, []byte(`{"a":1}`), m.Body)
	require.Equal(t, "abc123", m.BodyMD5)
	require.Equal(t, "rh-1", m.ReceiptHandle)
	require.Equal(t, "1609459200000", m.Attributes["SentTimestamp"])

	require.Equal(t, int64(1), batch.Stats.Requests)
	require.Equal(t, int64(2), batch.Stats.Received)
	require.False(t, batch.Stats.LastReceived.IsZero())

	require.Equal(t,
		[]sqstypes.MessageSystemAttributeName{"SentTimestamp"},
		api.lastRecv.MessageSystemAttributeNames)
	require.Equal(t, int32(10), api.lastRecv.MaxNumberOfMessages)
	require.Equal(t, int32(1), api.lastRecv.WaitTimeSeconds)
}

func TestFetchStatsAccumulate(t *testing.T) {
	api := &fakeSQSAPI{queueURL: "https://sqs.test/123/events"}
	s := newTestClient(t, api)

	for i := 0; i < 3; i++ {
		batch, err := s.Fetch(context.Background(), FetchOptions{MaxMessages: 10})
		require.NoError(t, err)
		require.Empty(t, batch.Messages)
	}

	batch, err := s.Fetch(context.Background(), FetchOptions{MaxMessages: 10})
	require.NoError(t, err)
	require.Equal(t, int64(4), batch.Stats.Requests)
	require.Equal(t, int64(0), batch.Stats.Received)
	require.True(t, batch.Stats.LastReceived.IsZero())
}

func TestFetchClassifiesErrors(t *testing.T) {
	api := &fakeSQSAPI{
		queueURL: "https://sqs.test/123/events",
		recvErr:  &smithy.GenericAPIError{Code: "ServiceUnavailable", Message: "try later"},
	}
	s := newTestClient(t, api)

	_, err := s.Fetch(context.Background(), FetchOptions{MaxMessages: 10})
	var be *BackendError
	require.ErrorAs(t, err, &be)
	require.Equal(t, KindTransient, be.Kind)
	require.Equal(t, "ServiceUnavailable", be.Code)

	api.recvErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	_, err = s.Fetch(context.Background(), FetchOptions{MaxMessages: 10})
	require.ErrorAs(t, err, &be)
	require.Equal(t, KindFatal, be.Kind)
}

func TestAckChunksDeletes(t *testing.T) {
	api := &fakeSQSAPI{queueURL: "https://sqs.test/123/events"}
	s := newTestClient(t, api)

	msgs := make([]RawMessage, 0, 12)
	for i := 0; i < 12; i++ {
		msgs = append(msgs, RawMessage{
			ID:            fmt.Sprintf("m-%d", i),
			ReceiptHandle: fmt.Sprintf("rh-%d", i),
		})
	}

	require.NoError(t, s.Ack(context.Background(), msgs))
	require.Equal(t, 2, api.delCalls)
	require.Equal(t, []int{10, 2}, api.delBatchSizes)
	require.Equal(t, "m-0", api.delIDs[0])
	require.Equal(t, "m-11", api.delIDs[11])
}

func TestAckEmptyIsNoop(t *testing.T) {
	api := &fakeSQSAPI{queueURL: "https://sqs.test/123/events"}
	s := newTestClient(t, api)

	require.NoError(t, s.Ack(context.Background(), nil))
	require.Zero(t, api.delCalls)
}

func TestAckSurfacesPartialFailure(t *testing.T) {
	api := &fakeSQSAPI{queueURL: "https://sqs.test/123/events", delFail: true}
	s := newTestClient(t, api)

	err := s.Ack(context.Background(), []RawMessage{{ID: "m-0", ReceiptHandle: "rh-0"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "InternalError")
}

func TestAckSurfacesRequestError(t *testing.T) {
	api := &fakeSQSAPI{
		queueURL: "https://sqs.test/123/events",
		delErr:   errors.New("connection reset"),
	}
	s := newTestClient(t, api)

	err := s.Ack(context.Background(), []RawMessage{{ID: "m-0", ReceiptHandle: "rh-0"}})
	var be *BackendError
	require.ErrorAs(t, err, &be)
	require.Equal(t, KindTransient, be.Kind)
}
