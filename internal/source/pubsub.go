package source

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/nplex/streamenrich/internal/log"
	"github.com/nplex/streamenrich/internal/model"
)

// PubSubConfig configures the PubSub Source.
type PubSubConfig struct {
	Project                string `yaml:"project"`
	Subscription           string `yaml:"subscription"`
	Endpoint               string `yaml:"endpoint"`
	MaxOutstandingMessages int    `yaml:"max_outstanding_messages"`
	MaxOutstandingBytes    int    `yaml:"max_outstanding_bytes"`
}

func (c PubSubConfig) withDefaults() PubSubConfig {
	if c.MaxOutstandingMessages <= 0 {
		c.MaxOutstandingMessages = pubsub.DefaultReceiveSettings.MaxOutstandingMessages
	}
	if c.MaxOutstandingBytes <= 0 {
		c.MaxOutstandingBytes = pubsub.DefaultReceiveSettings.MaxOutstandingBytes
	}
	return c
}

// PubSub reads from a single GCP Cloud Pub/Sub subscription. Receive runs
// on a background goroutine feeding a channel; Read drains that channel so
// callers see the same blocking Read/ack shape as every other Source.
type PubSub struct {
	cfg    PubSubConfig
	client *pubsub.Client
	log    log.Modular

	// emitMu serializes sequence assignment with the channel send across
	// sub.Receive's concurrent callback invocations (up to
	// MaxOutstandingMessages at once), so the order messages reach msgChan
	// always matches the order their Sequence numbers were assigned in — a
	// prerequisite reorderBuffer's admit/release protocol relies on.
	emitMu sync.Mutex
	seq    uint64

	msgChan  chan model.RawRecord
	cancel   context.CancelFunc
	done     chan struct{}
	closeMut sync.Mutex
}

// NewPubSub dials a Pub/Sub client. Connect starts the receive loop.
func NewPubSub(ctx context.Context, cfg PubSubConfig, logger log.Modular) (*PubSub, error) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	client, err := pubsub.NewClient(ctx, cfg.Project, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return &PubSub{
		cfg:     cfg.withDefaults(),
		client:  client,
		log:     logger,
		msgChan: make(chan model.RawRecord, 256),
		done:    make(chan struct{}),
	}, nil
}

// Connect starts the subscription receive loop on a background goroutine.
func (p *PubSub) Connect(context.Context) error {
	sub := p.client.Subscription(p.cfg.Subscription)
	sub.ReceiveSettings.MaxOutstandingMessages = p.cfg.MaxOutstandingMessages
	sub.ReceiveSettings.MaxOutstandingBytes = p.cfg.MaxOutstandingBytes

	subCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	go func() {
		defer close(p.done)
		err := sub.Receive(subCtx, func(ctx context.Context, m *pubsub.Message) {
			p.emitMu.Lock()
			defer p.emitMu.Unlock()

			p.seq++
			raw := model.RawRecord{
				Bytes:    m.Data,
				Sequence: p.seq,
				Ack: func(_ context.Context, ackErr error) error {
					if ackErr != nil {
						m.Nack()
					} else {
						m.Ack()
					}
					return nil
				},
			}
			select {
			case p.msgChan <- raw:
			case <-ctx.Done():
				m.Nack()
			}
		})
		if err != nil && err != context.Canceled {
			p.log.Errorf("pubsub subscription error: %v", err)
		}
		close(p.msgChan)
	}()

	p.log.Infof("receiving pubsub messages from subscription: %s", p.cfg.Subscription)
	return nil
}

// Read blocks for the next message.
func (p *PubSub) Read(ctx context.Context) (model.RawRecord, error) {
	select {
	case rec, ok := <-p.msgChan:
		if !ok {
			return model.RawRecord{}, ErrClosed
		}
		return rec, nil
	case <-ctx.Done():
		return model.RawRecord{}, ctx.Err()
	}
}

// Close stops the receive loop and waits for it to exit before releasing
// the client.
func (p *PubSub) Close(context.Context) error {
	p.closeMut.Lock()
	defer p.closeMut.Unlock()
	if p.cancel != nil {
		p.cancel()
		<-p.done
		p.cancel = nil
	}
	return p.client.Close()
}
