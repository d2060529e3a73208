package pipeline

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"

	"github.com/nplex/streamenrich/internal/model"
	"github.com/nplex/streamenrich/internal/sink"
)

// Sinks bundles the three output sinks a fan-out publishes a Result's
// rows across. PII is optional; a nil PII sink means the pipeline was
// configured without PII splitting and any PII row is dropped.
type Sinks struct {
	Good sink.Sink
	PII  sink.Sink
	Bad  sink.Sink

	GoodPartitionKey sink.PartitionKeyField
	PIIPartitionKey  sink.PartitionKeyField
}

// fanOut publishes every row of res in parallel across the good/pii/bad
// sinks and returns once all publishes have completed, with every publish
// error joined into one. The caller acks the originating raw record only
// once fanOut returns, per the ack-barrier invariant in §4.5.
func fanOut(ctx context.Context, sinks Sinks, res model.Result) error {
	if len(res) == 0 {
		return nil
	}

	p := pool.New().WithErrors()
	for _, row := range res {
		row := row
		p.Go(func() error { return publishRow(ctx, sinks, row) })
	}

	if err := p.Wait(); err != nil {
		return fmt.Errorf("sink fan-out: %w", err)
	}
	return nil
}

func publishRow(ctx context.Context, sinks Sinks, row model.Row) error {
	switch {
	case row.Bad != nil:
		if sinks.Bad == nil {
			return nil
		}
		b, err := row.Bad.Serialize()
		if err != nil {
			return fmt.Errorf("serialize bad row: %w", err)
		}
		return sinks.Bad.Publish(ctx, model.AttributedData{Bytes: b})
	case row.Good != nil:
		key := sink.PartitionKeyFor(sinks.GoodPartitionKey, row.Good)
		if err := sinks.Good.Publish(ctx, model.WithPartitionKey(row.Good.Serialize(), key)); err != nil {
			return fmt.Errorf("publish good row: %w", err)
		}
		if row.PII != nil && sinks.PII != nil {
			piiKey := sink.PartitionKeyFor(sinks.PIIPartitionKey, row.PII)
			if err := sinks.PII.Publish(ctx, model.WithPartitionKey(row.PII.Serialize(), piiKey)); err != nil {
				return fmt.Errorf("publish pii row: %w", err)
			}
		}
		return nil
	default:
		return nil
	}
}
