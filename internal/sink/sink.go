// Package sink holds the batched, retrying, partition-keyed publisher
// every output (good, pii, bad) is built from. A Sink buffers records
// bounded by count, byte size, and time, flushing whichever limit fires
// first, and back-pressures its caller by blocking Publish until the
// record has been accepted into that buffer.
package sink

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/uuid/v5"

	"github.com/nplex/streamenrich/internal/model"
	"github.com/nplex/streamenrich/internal/retries"
)

// errBufferClosed is returned by buffer.add once the buffer has been
// closed, so a producer blocked on a full buffer during shutdown
// unblocks with an error instead of hanging forever.
var errBufferClosed = errors.New("sink: buffer closed")

// Sink publishes AttributedData records to a downstream broker.
type Sink interface {
	// Publish blocks until the record is accepted into the sink's
	// internal buffer, which is itself flushed asynchronously.
	Publish(ctx context.Context, data model.AttributedData) error
	// Close flushes any buffered records synchronously, then releases
	// broker resources. Records queued at close time are delivered
	// before Close returns.
	Close(ctx context.Context) error
}

// BatchConfig bounds a Sink's internal buffer.
type BatchConfig struct {
	MaxBatchSize   int           `yaml:"max_batch_size"`
	MaxBatchBytes  int           `yaml:"max_batch_bytes"`
	DelayThreshold time.Duration `yaml:"delay_threshold"`
}

// DefaultBatchConfig returns the spec's defaults: 500 records, 5 MB, 200ms.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		MaxBatchSize:   500,
		MaxBatchBytes:  5 * 1024 * 1024,
		DelayThreshold: 200 * time.Millisecond,
	}
}

func (c BatchConfig) withDefaults() BatchConfig {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 500
	}
	if c.MaxBatchBytes <= 0 {
		c.MaxBatchBytes = 5 * 1024 * 1024
	}
	if c.DelayThreshold <= 0 {
		c.DelayThreshold = 200 * time.Millisecond
	}
	return c
}

// PartitionKeyField names the canonical field a sink config may select as
// the partition key source. Any other value falls back to a random UUID.
type PartitionKeyField string

// Recognised partition key fields, per §6.
const (
	PartitionKeyEventID          PartitionKeyField = "event_id"
	PartitionKeyEventFingerprint PartitionKeyField = "event_fingerprint"
	PartitionKeyDomainUserID     PartitionKeyField = "domain_userid"
	PartitionKeyNetworkUserID    PartitionKeyField = "network_userid"
	PartitionKeyUserIPAddress    PartitionKeyField = "user_ipaddress"
	PartitionKeyDomainSessionID  PartitionKeyField = "domain_sessionid"
	PartitionKeyUserFingerprint  PartitionKeyField = "user_fingerprint"
)

// PartitionKeyFor extracts the configured partition key field from e, or
// a freshly generated random 128-bit identifier if the field is unset or
// unrecognised. The key is a routing hint only; it never deduplicates.
func PartitionKeyFor(field PartitionKeyField, e *model.EnrichedEvent) string {
	var v string
	switch field {
	case PartitionKeyEventID:
		v = e.EventID
	case PartitionKeyEventFingerprint:
		v = e.EventFingerprint
	case PartitionKeyDomainUserID:
		v = e.DomainUserID
	case PartitionKeyNetworkUserID:
		v = e.NetworkUserID
	case PartitionKeyUserIPAddress:
		v = e.UserIPAddress
	case PartitionKeyDomainSessionID:
		v = e.DomainSessionID
	case PartitionKeyUserFingerprint:
		v = e.UserFingerprint
	}
	if v != "" {
		return v
	}
	id, err := uuid.NewV4()
	if err != nil {
		// NewV4 only fails if the system RNG is unreadable; fall back to
		// the nil UUID rather than panicking a caller that is already on
		// the data path.
		return uuid.Nil.String()
	}
	return id.String()
}

// RetryConfig selects the sink's capped exponential backoff window.
type RetryConfig struct {
	MinBackoff time.Duration `yaml:"min_backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// DefaultRetryConfig returns the spec's defaults: 100ms, 10s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MinBackoff: 100 * time.Millisecond, MaxBackoff: 10 * time.Second}
}

// Ctor builds a backoff.BackOff constructor from this retry window: the
// delay starts at MinBackoff and doubles per attempt, without jitter, up
// to MaxBackoff. The sink retries transient broker failures indefinitely,
// so no max-elapsed or max-retry bound is set.
func (c RetryConfig) Ctor() func() backoff.BackOff {
	base := retries.DefaultConfig(0, c.MinBackoff, c.MaxBackoff, 0).Ctor()
	return func() backoff.BackOff {
		boff := base()
		if eb, ok := boff.(*backoff.ExponentialBackOff); ok {
			eb.Multiplier = 2
			eb.RandomizationFactor = 0
		}
		return boff
	}
}

// buffer accumulates records for one in-flight batch, gated by a
// sync.Cond so add blocks once the batch reaches its configured
// count/byte ceiling — the back-pressure channel §4.1 requires ("the
// buffer is bounded, so fast producers block"). snapshotAndReset
// broadcasts on every drain to wake producers waiting for room.
type buffer struct {
	cond     *sync.Cond
	records  []model.AttributedData
	bytes    int
	oldest   time.Time
	maxSize  int
	maxBytes int
	closed   bool
}

func newBuffer(maxSize, maxBytes int) *buffer {
	return &buffer{
		cond:     sync.NewCond(&sync.Mutex{}),
		maxSize:  maxSize,
		maxBytes: maxBytes,
	}
}

func (b *buffer) full() bool {
	return len(b.records) >= b.maxSize || b.bytes >= b.maxBytes
}

// add blocks until data fits under the configured ceiling, the buffer is
// closed, or ctx is cancelled.
func (b *buffer) add(ctx context.Context, data model.AttributedData) error {
	b.cond.L.Lock()
	defer b.cond.L.Unlock()

	if !b.closed && ctx.Err() == nil && b.full() {
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				b.cond.L.Lock()
				b.cond.Broadcast()
				b.cond.L.Unlock()
			case <-done:
			}
		}()
		for !b.closed && ctx.Err() == nil && b.full() {
			b.cond.Wait()
		}
		close(done)
	}

	if b.closed {
		return errBufferClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(b.records) == 0 {
		b.oldest = time.Now()
	}
	b.records = append(b.records, data)
	b.bytes += len(data.Bytes)
	return nil
}

func (b *buffer) snapshotAndReset() ([]model.AttributedData, int) {
	b.cond.L.Lock()
	defer b.cond.L.Unlock()
	out := b.records
	n := len(out)
	b.records = nil
	b.bytes = 0
	b.cond.Broadcast()
	return out, n
}

func (b *buffer) size() (count, bytes int, age time.Duration) {
	b.cond.L.Lock()
	defer b.cond.L.Unlock()
	count = len(b.records)
	bytes = b.bytes
	if count > 0 {
		age = time.Since(b.oldest)
	}
	return
}

// close unblocks any producer waiting on a full buffer, e.g. during
// shutdown once the flush loop has stopped draining it.
func (b *buffer) close() {
	b.cond.L.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.cond.L.Unlock()
}
