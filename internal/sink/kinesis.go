package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/cenkalti/backoff/v4"

	"github.com/nplex/streamenrich/internal/awsutil"
	"github.com/nplex/streamenrich/internal/log"
	"github.com/nplex/streamenrich/internal/model"
)

// kinesisMaxRecordsCount is the PutRecords API's per-call record limit.
const kinesisMaxRecordsCount = 500

// kinesisMaxRecordBytes is Kinesis's per-record payload limit (10 MiB).
const kinesisMaxRecordBytes = 10 * 1024 * 1024

// ErrMessageTooLarge is returned when a record exceeds the broker's
// per-record payload limit. It is a programmer/config error, not a
// transient fault, and is raised immediately rather than retried.
var ErrMessageTooLarge = errors.New("sink: message exceeds broker payload limit")

// KinesisConfig configures the Kinesis Sink.
type KinesisConfig struct {
	Stream  string                `yaml:"stream_name"`
	Session awsutil.SessionConfig `yaml:",inline"`
	Batch   BatchConfig           `yaml:",inline"`
	Retry   RetryConfig           `yaml:"backoff_policy"`
}

// kinesisAPI is the subset of *kinesis.Client this sink calls, narrowed so
// tests can inject a fake rather than talk to a real stream. Mirrors the
// teacher's use of kinesisiface.KinesisAPI for the same reason.
type kinesisAPI interface {
	PutRecords(ctx context.Context, in *kinesis.PutRecordsInput, opts ...func(*kinesis.Options)) (*kinesis.PutRecordsOutput, error)
}

// Kinesis batches, partitions, retries, and publishes records to a
// Kinesis stream, bounded by BatchConfig and the PutRecords record-count
// ceiling, whichever is smaller.
type Kinesis struct {
	client      kinesisAPI
	streamName  *string
	batchCfg    BatchConfig
	backoffCtor func() backoff.BackOff
	log         log.Modular

	buf       *buffer
	flushReq  chan struct{}
	stopCh    chan struct{}
	flushDone chan struct{}
}

// NewKinesis dials a Kinesis client and starts the sink's background
// flush loop. It blocks until the target stream is active, mirroring the
// teacher's WaitUntilStreamExists connect step.
func NewKinesis(ctx context.Context, cfg KinesisConfig, logger log.Modular) (*Kinesis, error) {
	awsConf, err := awsutil.GetConfig(ctx, cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve aws config: %w", err)
	}

	client := kinesis.NewFromConfig(awsConf)

	waiter := kinesis.NewStreamExistsWaiter(client)
	if err := waiter.Wait(ctx, &kinesis.DescribeStreamInput{StreamName: aws.String(cfg.Stream)}, 2*time.Minute); err != nil {
		return nil, fmt.Errorf("stream %q did not become active: %w", cfg.Stream, err)
	}

	k := newKinesis(client, cfg, logger)
	logger.Infof("sending records to kinesis stream: %s", cfg.Stream)
	return k, nil
}

func newKinesis(client kinesisAPI, cfg KinesisConfig, logger log.Modular) *Kinesis {
	batchCfg := cfg.Batch.withDefaults()
	k := &Kinesis{
		client:      client,
		streamName:  aws.String(cfg.Stream),
		batchCfg:    batchCfg,
		backoffCtor: cfg.Retry.Ctor(),
		log:         logger,
		buf:         newBuffer(batchCfg.MaxBatchSize, batchCfg.MaxBatchBytes),
		flushReq:    make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		flushDone:   make(chan struct{}),
	}
	go k.flushLoop(context.Background())
	return k
}

// Publish enqueues data into the buffer and returns once it has been
// accepted; the actual PutRecords call happens asynchronously on the
// flush loop. If the buffer is already at its configured size or byte
// ceiling, Publish blocks until the flush loop drains room for it — this
// is the pipeline's back-pressure channel, per §4.1. A record exceeding
// the broker payload limit is rejected immediately, without blocking.
func (k *Kinesis) Publish(ctx context.Context, data model.AttributedData) error {
	if len(data.Bytes) > kinesisMaxRecordBytes {
		return ErrMessageTooLarge
	}
	if err := k.buf.add(ctx, data); err != nil {
		return fmt.Errorf("enqueue record: %w", err)
	}

	count, bytes, _ := k.buf.size()
	if count >= k.batchCfg.MaxBatchSize || bytes >= k.batchCfg.MaxBatchBytes {
		select {
		case k.flushReq <- struct{}{}:
		default:
		}
	}
	return nil
}

func (k *Kinesis) flushLoop(ctx context.Context) {
	defer close(k.flushDone)
	ticker := time.NewTicker(k.batchCfg.DelayThreshold)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = k.flush(ctx)
		case <-k.flushReq:
			_ = k.flush(ctx)
		case <-k.stopCh:
			_ = k.flush(ctx)
			return
		}
	}
}

func (k *Kinesis) flush(ctx context.Context) error {
	records, n := k.buf.snapshotAndReset()
	if n == 0 {
		return nil
	}
	return k.putRecords(ctx, records)
}

func (k *Kinesis) putRecords(ctx context.Context, records []model.AttributedData) error {
	entries := make([]types.PutRecordsRequestEntry, len(records))
	for i, r := range records {
		partKey, ok := r.PartitionKey()
		if !ok {
			partKey = PartitionKeyFor("", &model.EnrichedEvent{})
		}
		entries[i] = types.PutRecordsRequestEntry{
			Data:         r.Bytes,
			PartitionKey: aws.String(partKey),
		}
	}

	boff := k.backoffCtor()
	boff.Reset()

	for len(entries) > 0 {
		batchSize := len(entries)
		if batchSize > kinesisMaxRecordsCount {
			batchSize = kinesisMaxRecordsCount
		}
		batch := entries[:batchSize]

		out, err := k.client.PutRecords(ctx, &kinesis.PutRecordsInput{
			Records:    batch,
			StreamName: k.streamName,
		})
		if err != nil {
			wait := boff.NextBackOff()
			if wait == backoff.Stop {
				return err
			}
			k.log.Warnf("kinesis putrecords error: %v", err)
			time.Sleep(wait)
			continue
		}

		var failed []types.PutRecordsRequestEntry
		if out.FailedRecordCount != nil && *out.FailedRecordCount > 0 {
			for i, rec := range out.Records {
				if rec.ErrorCode != nil {
					failed = append(failed, batch[i])
				}
			}
		}

		entries = append(failed, entries[batchSize:]...)
		if len(failed) > 0 {
			wait := boff.NextBackOff()
			if wait == backoff.Stop {
				return fmt.Errorf("kinesis: %d records exhausted retries", len(failed))
			}
			k.log.Warnf("retrying %d throttled kinesis records", len(failed))
			time.Sleep(wait)
		}
	}
	return nil
}

// Close flushes any buffered records synchronously before returning. Any
// Publish call still blocked on a full buffer is released with
// errBufferClosed once the flush loop stops draining it.
func (k *Kinesis) Close(ctx context.Context) error {
	close(k.stopCh)
	<-k.flushDone
	err := k.flush(ctx)
	k.buf.close()
	return err
}
