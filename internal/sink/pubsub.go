package sink

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/sourcegraph/conc/pool"
	"google.golang.org/api/option"

	"github.com/nplex/streamenrich/internal/log"
	"github.com/nplex/streamenrich/internal/model"
)

// PubSubConfig configures the PubSub Sink.
type PubSubConfig struct {
	Project     string      `yaml:"project"`
	Topic       string      `yaml:"topic"`
	Endpoint    string      `yaml:"endpoint"`
	OrderingKey bool        `yaml:"ordering_key_enabled"`
	Batch       BatchConfig `yaml:",inline"`
}

// PubSub publishes records to a single GCP Cloud Pub/Sub topic, deferring
// buffering to the client library's own publish settings and collecting
// per-message publish results concurrently.
type PubSub struct {
	client   *pubsub.Client
	topic    *pubsub.Topic
	ordering bool
	log      log.Modular
	cancel   context.CancelFunc
}

// NewPubSub dials a Pub/Sub client, validates the target topic exists,
// and configures its publish batching from cfg.Batch.
func NewPubSub(ctx context.Context, cfg PubSubConfig, logger log.Modular) (*PubSub, error) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	clientCtx, cancel := context.WithCancel(context.Background())
	client, err := pubsub.NewClient(clientCtx, cfg.Project, opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	batch := cfg.Batch.withDefaults()
	topic := client.Topic(cfg.Topic)
	topic.PublishSettings.CountThreshold = batch.MaxBatchSize
	topic.PublishSettings.ByteThreshold = batch.MaxBatchBytes
	topic.PublishSettings.DelayThreshold = batch.DelayThreshold
	if cfg.OrderingKey {
		topic.EnableMessageOrdering = true
	}

	exists, err := topic.Exists(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to validate topic %q: %w", cfg.Topic, err)
	}
	if !exists {
		cancel()
		return nil, fmt.Errorf("topic %q does not exist", cfg.Topic)
	}

	logger.Infof("sending records to pubsub topic: %s", cfg.Topic)
	return &PubSub{client: client, topic: topic, ordering: cfg.OrderingKey, log: logger, cancel: cancel}, nil
}

// Publish hands the record to the client library's own buffering and
// waits for the per-message publish result, so a single bad message
// cannot be silently dropped by the shared background flush.
func (p *PubSub) Publish(ctx context.Context, data model.AttributedData) error {
	msg := &pubsub.Message{Data: data.Bytes}
	if key, ok := data.PartitionKey(); ok && p.ordering {
		msg.OrderingKey = key
	}
	res := p.topic.Publish(ctx, msg)
	_, err := res.Get(ctx)
	return err
}

// PublishBatch publishes a slice of records concurrently, collecting all
// publish results before returning, mirroring the teacher's WriteBatch
// result-collection pattern.
func (p *PubSub) PublishBatch(ctx context.Context, records []model.AttributedData) error {
	type failure struct {
		index int
		err   error
	}

	results := make([]*pubsub.PublishResult, len(records))
	for i, r := range records {
		msg := &pubsub.Message{Data: r.Bytes}
		if key, ok := r.PartitionKey(); ok {
			msg.OrderingKey = key
		}
		results[i] = p.topic.Publish(ctx, msg)
	}

	wp := pool.NewWithResults[*failure]().WithContext(ctx)
	for i, res := range results {
		i, res := i, res
		wp.Go(func(ctx context.Context) (*failure, error) {
			if _, err := res.Get(ctx); err != nil {
				return &failure{index: i, err: err}, nil
			}
			return nil, nil
		})
	}

	failures, err := wp.Wait()
	if err != nil {
		return fmt.Errorf("failed to collect pubsub publish results: %w", err)
	}

	var firstErr error
	for _, f := range failures {
		if f == nil {
			continue
		}
		p.log.Warnf("pubsub publish failed for record %d: %v", f.index, f.err)
		if firstErr == nil {
			firstErr = f.err
		}
	}
	return firstErr
}

// Close stops the topic's publish loop, flushing any buffered messages,
// then releases the client.
func (p *PubSub) Close(_ context.Context) error {
	p.topic.Stop()
	p.cancel()
	return p.client.Close()
}
