package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/uuid/v5"

	"github.com/nplex/streamenrich/internal/awsutil"
	"github.com/nplex/streamenrich/internal/checkpoint"
	"github.com/nplex/streamenrich/internal/log"
	"github.com/nplex/streamenrich/internal/model"
)

// kinesisGetRecordsLimit is the per-call record limit this source requests;
// matches the teacher's awsKinesisDefaultLimit.
const kinesisGetRecordsLimit int32 = 10000

// KinesisConfig configures the Kinesis Source.
type KinesisConfig struct {
	Streams         []string              `yaml:"streams"`
	Session         awsutil.SessionConfig `yaml:",inline"`
	InitialPosition InitialPosition       `yaml:"initial_position"`
	// PollInterval is how long a shard consumer sleeps after an empty
	// GetRecords response before polling again.
	PollInterval time.Duration `yaml:"poll_interval"`
}

func (c KinesisConfig) withDefaults() KinesisConfig {
	if c.InitialPosition == "" {
		c.InitialPosition = InitialPositionTrimHorizon
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return c
}

// kinesisAPI is the subset of *kinesis.Client this source calls.
type kinesisAPI interface {
	ListShards(ctx context.Context, in *kinesis.ListShardsInput, opts ...func(*kinesis.Options)) (*kinesis.ListShardsOutput, error)
	GetShardIterator(ctx context.Context, in *kinesis.GetShardIteratorInput, opts ...func(*kinesis.Options)) (*kinesis.GetShardIteratorOutput, error)
	GetRecords(ctx context.Context, in *kinesis.GetRecordsInput, opts ...func(*kinesis.Options)) (*kinesis.GetRecordsOutput, error)
}

// Kinesis consumes one or more Kinesis streams by spawning a poll loop per
// shard. Checkpoint state is held in memory only: there is no distributed
// lease coordination across consumer instances, a deliberate simplification
// of the teacher's DynamoDB-backed shard balancer (see DESIGN.md).
type Kinesis struct {
	client   kinesisAPI
	cfg      KinesisConfig
	clientID string
	log      log.Modular

	// emitMu serializes sequence assignment with the channel send for every
	// shard consumer goroutine, so the order records reach msgChan always
	// matches the order their Sequence numbers were assigned in — a
	// prerequisite reorderBuffer's admit/release protocol relies on.
	emitMu sync.Mutex
	seq    uint64

	msgChan chan model.RawRecord

	shardCheckpoints sync.Map // shardID -> *checkpoint.Uncapped[string]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewKinesis builds a Kinesis source. Connect must be called before Read.
func NewKinesis(cfg KinesisConfig, logger log.Modular) (*Kinesis, error) {
	if len(cfg.Streams) == 0 {
		return nil, errors.New("source: at least one kinesis stream is required")
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("failed to generate client id: %w", err)
	}
	return &Kinesis{
		cfg:      cfg.withDefaults(),
		clientID: id.String(),
		log:      logger,
		msgChan:  make(chan model.RawRecord, 256),
	}, nil
}

// Connect resolves credentials, discovers shards for every configured
// stream, and starts one consumer goroutine per shard.
func (k *Kinesis) Connect(ctx context.Context) error {
	awsConf, err := awsutil.GetConfig(ctx, k.cfg.Session)
	if err != nil {
		return fmt.Errorf("failed to resolve aws config: %w", err)
	}
	k.client = kinesis.NewFromConfig(awsConf)
	k.ctx, k.cancel = context.WithCancel(context.Background())

	for _, stream := range k.cfg.Streams {
		shards, err := k.listShards(ctx, stream)
		if err != nil {
			k.cancel()
			return fmt.Errorf("failed to list shards for stream %q: %w", stream, err)
		}
		for _, shardID := range shards {
			k.wg.Add(1)
			go k.consumeShard(stream, shardID)
		}
	}

	k.log.Infof("kinesis source %s consuming %d stream(s)", k.clientID, len(k.cfg.Streams))
	return nil
}

func (k *Kinesis) listShards(ctx context.Context, stream string) ([]string, error) {
	out, err := k.client.ListShards(ctx, &kinesis.ListShardsInput{StreamName: aws.String(stream)})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(out.Shards))
	for _, s := range out.Shards {
		if s.ShardId != nil {
			ids = append(ids, *s.ShardId)
		}
	}
	return ids, nil
}

func (k *Kinesis) consumeShard(stream, shardID string) {
	defer k.wg.Done()

	tracker := checkpoint.NewUncapped[string]()
	k.shardCheckpoints.Store(shardID, tracker)

	iter, err := k.shardIterator(stream, shardID, "")
	if err != nil {
		k.log.Errorf("failed to obtain shard iterator for %s/%s: %v", stream, shardID, err)
		return
	}

	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = 300 * time.Millisecond
	boff.MaxInterval = 5 * time.Second
	boff.MaxElapsedTime = 0

	for {
		select {
		case <-k.ctx.Done():
			return
		default:
		}

		out, err := k.client.GetRecords(k.ctx, &kinesis.GetRecordsInput{
			ShardIterator: &iter,
			Limit:         aws.Int32(kinesisGetRecordsLimit),
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			wait := boff.NextBackOff()
			k.log.Warnf("kinesis getrecords error on shard %s: %v", shardID, err)
			time.Sleep(wait)
			continue
		}
		boff.Reset()

		if out.NextShardIterator == nil {
			k.log.Infof("shard %s closed", shardID)
			return
		}
		iter = *out.NextShardIterator

		if len(out.Records) == 0 {
			time.Sleep(k.cfg.PollInterval)
			continue
		}

		for _, rec := range out.Records {
			k.emit(tracker, shardID, rec)
		}
	}
}

func (k *Kinesis) emit(tracker *checkpoint.Uncapped[string], shardID string, rec types.Record) {
	seqNum := ""
	if rec.SequenceNumber != nil {
		seqNum = *rec.SequenceNumber
	}
	resolve := tracker.Track(seqNum, 1)

	k.emitMu.Lock()
	defer k.emitMu.Unlock()

	k.seq++
	raw := model.RawRecord{
		Bytes:    rec.Data,
		Sequence: k.seq,
		Ack: func(_ context.Context, _ error) error {
			resolve()
			return nil
		},
	}

	select {
	case k.msgChan <- raw:
	case <-k.ctx.Done():
	}
}

func (k *Kinesis) shardIterator(stream, shardID, afterSequence string) (string, error) {
	iterType := types.ShardIteratorTypeTrimHorizon
	if k.cfg.InitialPosition == InitialPositionLatest {
		iterType = types.ShardIteratorTypeLatest
	}

	in := &kinesis.GetShardIteratorInput{
		StreamName:        aws.String(stream),
		ShardId:           aws.String(shardID),
		ShardIteratorType: iterType,
	}
	if afterSequence != "" {
		in.ShardIteratorType = types.ShardIteratorTypeAfterSequenceNumber
		in.StartingSequenceNumber = aws.String(afterSequence)
	}

	out, err := k.client.GetShardIterator(k.ctx, in)
	if err != nil {
		return "", err
	}
	if out.ShardIterator == nil {
		return "", errors.New("failed to obtain shard iterator")
	}
	return *out.ShardIterator, nil
}

// Read blocks for the next available record across all shards.
func (k *Kinesis) Read(ctx context.Context) (model.RawRecord, error) {
	select {
	case rec, ok := <-k.msgChan:
		if !ok {
			return model.RawRecord{}, ErrClosed
		}
		return rec, nil
	case <-ctx.Done():
		return model.RawRecord{}, ctx.Err()
	}
}

// Close stops all shard consumers and releases resources.
func (k *Kinesis) Close(context.Context) error {
	if k.cancel != nil {
		k.cancel()
	}
	k.wg.Wait()
	close(k.msgChan)
	return nil
}
