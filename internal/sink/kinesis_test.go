package sink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"

	"github.com/nplex/streamenrich/internal/log"
	"github.com/nplex/streamenrich/internal/model"
)

type fakeKinesisAPI struct {
	mu         sync.Mutex
	calls      int
	received   []types.PutRecordsRequestEntry
	failFirstN int
	hardErr    error
}

func (f *fakeKinesisAPI) PutRecords(_ context.Context, in *kinesis.PutRecordsInput, _ ...func(*kinesis.Options)) (*kinesis.PutRecordsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if f.hardErr != nil {
		return nil, f.hardErr
	}

	out := &kinesis.PutRecordsOutput{Records: make([]types.PutRecordsResultEntry, len(in.Records))}
	var failed int32
	for i, rec := range in.Records {
		if f.failFirstN > 0 {
			f.failFirstN--
			failed++
			out.Records[i] = types.PutRecordsResultEntry{ErrorCode: aws.String("ProvisionedThroughputExceededException")}
			continue
		}
		f.received = append(f.received, rec)
	}
	out.FailedRecordCount = aws.Int32(failed)
	return out, nil
}

func fastRetryConfig() RetryConfig {
	return RetryConfig{MinBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestKinesisPublishFlushesOnBatchSizeThreshold(t *testing.T) {
	api := &fakeKinesisAPI{}
	cfg := KinesisConfig{
		Stream: "events",
		Batch:  BatchConfig{MaxBatchSize: 2, MaxBatchBytes: 1 << 20, DelayThreshold: time.Hour},
		Retry:  fastRetryConfig(),
	}
	k := newKinesis(api, cfg, log.Noop{})
	defer k.Close(context.Background())

	ctx := context.Background()
	_ = k.Publish(ctx, model.WithPartitionKey([]byte("a"), "k1"))
	_ = k.Publish(ctx, model.WithPartitionKey([]byte("b"), "k2"))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		api.mu.Lock()
		n := len(api.received)
		api.mu.Unlock()
		if n == 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected 2 records flushed, got %d", len(api.received))
}

func TestKinesisPublishRejectsOversizeRecord(t *testing.T) {
	api := &fakeKinesisAPI{}
	k := newKinesis(api, KinesisConfig{Stream: "events", Retry: fastRetryConfig()}, log.Noop{})
	defer k.Close(context.Background())

	huge := make([]byte, kinesisMaxRecordBytes+1)
	err := k.Publish(context.Background(), model.AttributedData{Bytes: huge})
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("err = %v, want ErrMessageTooLarge", err)
	}
}

func TestKinesisCloseFlushesBufferedRecords(t *testing.T) {
	api := &fakeKinesisAPI{}
	k := newKinesis(api, KinesisConfig{Stream: "events", Batch: BatchConfig{DelayThreshold: time.Hour}, Retry: fastRetryConfig()}, log.Noop{})

	_ = k.Publish(context.Background(), model.WithPartitionKey([]byte("only"), "k1"))
	if err := k.Close(context.Background()); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	if len(api.received) != 1 {
		t.Fatalf("expected 1 record flushed at close, got %d", len(api.received))
	}
}

func TestKinesisPublishBlocksWhileBufferIsFull(t *testing.T) {
	api := &fakeKinesisAPI{}
	k := newKinesis(api, KinesisConfig{
		Stream: "events",
		Batch:  BatchConfig{MaxBatchSize: 1, MaxBatchBytes: 1 << 20, DelayThreshold: time.Hour},
		Retry:  fastRetryConfig(),
	}, log.Noop{})
	defer k.Close(context.Background())

	ctx := context.Background()
	if err := k.Publish(ctx, model.WithPartitionKey([]byte("a"), "k1")); err != nil {
		t.Fatalf("first Publish: %v", err)
	}

	blocked := make(chan error, 1)
	go func() { blocked <- k.Publish(ctx, model.WithPartitionKey([]byte("b"), "k2")) }()

	select {
	case err := <-blocked:
		t.Fatalf("second Publish returned early (err=%v) instead of blocking on a full buffer", err)
	case <-time.After(50 * time.Millisecond):
	}

	select {
	case k.flushReq <- struct{}{}:
	default:
	}

	select {
	case err := <-blocked:
		if err != nil {
			t.Fatalf("second Publish: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("second Publish never unblocked after the buffer drained")
	}
}

func TestKinesisPublishUnblocksOnContextCancellation(t *testing.T) {
	api := &fakeKinesisAPI{}
	k := newKinesis(api, KinesisConfig{
		Stream: "events",
		Batch:  BatchConfig{MaxBatchSize: 1, MaxBatchBytes: 1 << 20, DelayThreshold: time.Hour},
		Retry:  fastRetryConfig(),
	}, log.Noop{})
	defer k.Close(context.Background())

	if err := k.Publish(context.Background(), model.WithPartitionKey([]byte("a"), "k1")); err != nil {
		t.Fatalf("first Publish: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	blocked := make(chan error, 1)
	go func() { blocked <- k.Publish(ctx, model.WithPartitionKey([]byte("b"), "k2")) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-blocked:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("second Publish never unblocked after ctx was cancelled")
	}
}

func TestKinesisPutRecordsRetriesThrottledEntries(t *testing.T) {
	api := &fakeKinesisAPI{failFirstN: 1}
	k := newKinesis(api, KinesisConfig{Stream: "events", Batch: BatchConfig{DelayThreshold: time.Hour}, Retry: fastRetryConfig()}, log.Noop{})

	err := k.putRecords(context.Background(), []model.AttributedData{
		model.WithPartitionKey([]byte("x"), "k1"),
	})
	if err != nil {
		t.Fatalf("putRecords returned error: %v", err)
	}
	if len(api.received) != 1 {
		t.Fatalf("expected the retried record to land, got %d", len(api.received))
	}
	if api.calls < 2 {
		t.Fatalf("expected at least 2 PutRecords calls (1 throttled + 1 retry), got %d", api.calls)
	}
	_ = k.Close(context.Background())
}
