package enrich

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nplex/streamenrich/internal/decoder"
	"github.com/nplex/streamenrich/internal/log"
	"github.com/nplex/streamenrich/internal/metrics"
	"github.com/nplex/streamenrich/internal/model"
)

// SizeCeilingBytes is the per-record payload ceiling, sized to stay under
// Kinesis's 10 MiB record limit after allowing for base64 transport
// expansion. Sinks
// targeting a broker with a different limit pass their own ceiling into
// NewDispatcher.
const SizeCeilingBytes = 6_900_000

// truncationDivisor sets how much of an oversized serialized event a
// size-violation bad row keeps: ceiling/10 characters.
const truncationDivisor = 10

// Config configures a Dispatcher.
type Config struct {
	Ordered     bool
	Concurrency int
	SizeCeiling int
	PIIEnabled  bool
}

// DefaultConfig returns the spec's defaults: unordered, 64-way
// concurrency, the Kinesis-sized ceiling.
func DefaultConfig() Config {
	return Config{Concurrency: 64, SizeCeiling: SizeCeilingBytes}
}

// Dispatcher drives one raw payload through decode → validate → enrich →
// split. It never returns an error to its caller: every failure mode is
// captured into a bad row, and unexpected panics are recovered into a
// generic-error bad row.
type Dispatcher struct {
	decode    decoder.Decoder
	schema    decoder.SchemaClient // nil disables schema validation
	registry  *Holder
	exception decoder.ExceptionSink
	metrics   *metrics.Pipeline
	log       log.Modular
	processor model.Processor
	cfg       Config
}

// NewDispatcher builds a Dispatcher. schema may be nil.
func NewDispatcher(
	decode decoder.Decoder,
	schema decoder.SchemaClient,
	registry *Holder,
	exception decoder.ExceptionSink,
	m *metrics.Pipeline,
	logger log.Modular,
	processor model.Processor,
	cfg Config,
) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 64
	}
	if cfg.SizeCeiling <= 0 {
		cfg.SizeCeiling = SizeCeilingBytes
	}
	return &Dispatcher{
		decode:    decode,
		schema:    schema,
		registry:  registry,
		exception: exception,
		metrics:   m,
		log:       logger,
		processor: processor,
		cfg:       cfg,
	}
}

// Dispatch processes one raw record and returns its Result. It never
// panics out to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) (res model.Result) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic during enrichment: %v", r)
			d.log.Errorf("%s", err)
			if d.exception != nil {
				d.exception.Report(ctx, err)
			}
			res = model.Result{model.BadRowResult(model.NewBadRow(
				model.KindGenericError, raw, d.processor, err.Error(),
			))}
		}
	}()

	payload, err := d.decode.Decode(ctx, raw)
	if err != nil {
		if d.metrics != nil {
			d.metrics.BadCount.Incr(1)
		}
		return model.Result{model.BadRowResult(model.NewBadRow(
			model.KindCPFormatViolation, raw, d.processor, err.Error(),
		))}
	}

	etlTstamp := time.Now().UTC()
	reg := d.registry.Load()

	result := make(model.Result, 0, len(payload.Events))
	for _, eventBytes := range payload.Events {
		result = append(result, d.processEvent(ctx, reg, payload, eventBytes, etlTstamp))
	}
	return result
}

func (d *Dispatcher) processEvent(
	ctx context.Context,
	reg decoder.Registry,
	payload *model.CollectorPayload,
	eventBytes []byte,
	etlTstamp time.Time,
) model.Row {
	if d.schema != nil {
		if err := d.schema.Validate(ctx, eventBytes, ""); err != nil {
			if d.metrics != nil {
				d.metrics.BadCount.Incr(1)
			}
			return model.BadRowResult(model.NewBadRow(
				model.KindSchemaViolation, eventBytes, d.processor, err.Error(),
			))
		}
	}

	event := &model.EnrichedEvent{
		ETLTstamp:       etlTstamp.Format(time.RFC3339Nano),
		CollectorTstamp: payload.CollectorTimestamp.Format(time.RFC3339Nano),
		UserIPAddress:   payload.SourceIP,
	}

	var failures []string
	for _, enrichment := range reg.Enrichments() {
		_, enrichFailures, err := enrichment.Apply(ctx, reg, event)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", enrichment.Name(), err))
			continue
		}
		failures = append(failures, enrichFailures...)
	}

	if len(failures) > 0 {
		if d.metrics != nil {
			d.metrics.BadCount.Incr(1)
		}
		return model.BadRowResult(model.NewBadRow(
			model.KindEnrichmentFailure, eventBytes, d.processor, failures...,
		))
	}

	if d.metrics != nil && !payload.CollectorTimestamp.IsZero() {
		d.metrics.EnrichLatency.Timing(time.Since(payload.CollectorTimestamp).Nanoseconds())
	}

	serialized := event.Serialize()
	if len(serialized) > d.cfg.SizeCeiling {
		if d.metrics != nil {
			d.metrics.BadCount.Incr(1)
		}
		return model.BadRowResult(model.NewTruncatedBadRow(
			model.KindSizeViolation,
			string(serialized),
			d.cfg.SizeCeiling/truncationDivisor,
			d.processor,
			"serialized event exceeds size ceiling of "+strconv.Itoa(d.cfg.SizeCeiling)+" bytes",
		))
	}

	if d.metrics != nil {
		d.metrics.GoodCount.Incr(1)
	}

	var pii *model.EnrichedEvent
	if d.cfg.PIIEnabled {
		if p, ok := event.ExtractPII(); ok {
			pii = p
			if d.metrics != nil {
				d.metrics.PIICount.Incr(1)
			}
		}
	}

	return model.GoodRow(event, pii)
}
