// Package pipeline wires the runtime described in §4.5: a source, a
// bounded-concurrency enrich stage, a sink fan-out, and the checkpointer
// that acks the originating raw record once every derived row has been
// durably published, plus the two side streams (asset refresh, metric
// reporting) that run alongside it for the runtime's lifetime.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nplex/streamenrich/internal/assetmgr"
	"github.com/nplex/streamenrich/internal/enrich"
	"github.com/nplex/streamenrich/internal/errorreporter"
	"github.com/nplex/streamenrich/internal/log"
	"github.com/nplex/streamenrich/internal/metrics"
	"github.com/nplex/streamenrich/internal/model"
	"github.com/nplex/streamenrich/internal/source"
)

// Config configures the Runtime.
type Config struct {
	Ordered      bool
	Concurrency  int
	MetricPeriod time.Duration
	ShutdownStep time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 64
	}
	if c.MetricPeriod <= 0 {
		c.MetricPeriod = 10 * time.Second
	}
	if c.ShutdownStep <= 0 {
		c.ShutdownStep = 10 * time.Second
	}
	return c
}

// MetricsFlusher drains a reporter backend's accumulated deltas on a
// timer, matching §4.6's "each reporter drains on period" contract.
// StatsD and CloudWatch run their own internal flush loop and don't
// implement this; only backends with no background goroutine of their
// own (Stdout) are driven by the reporting stream below.
type MetricsFlusher interface {
	Flush() error
}

// Runtime owns the three concurrent streams described in §4.5 and their
// shared shutdown choreography.
type Runtime struct {
	cfg        Config
	src        source.Source
	gate       *Gate
	dispatcher *enrich.Dispatcher
	sinks      Sinks
	assets     *assetmgr.Manager
	flushers   []MetricsFlusher
	exceptions errorreporter.Reporter
	m          *metrics.Pipeline
	log        log.Modular

	reorder *reorderBuffer

	cancel context.CancelFunc
	wg     sync.WaitGroup

	fatal chan error
	once  sync.Once
}

// New builds a Runtime. InitialLoad must already have been called on
// assets, and src.Connect must already have succeeded, before Run starts
// — construction failures in either are an Environment (C7) concern.
func New(
	cfg Config,
	src source.Source,
	gate *Gate,
	dispatcher *enrich.Dispatcher,
	sinks Sinks,
	assets *assetmgr.Manager,
	flushers []MetricsFlusher,
	exceptions errorreporter.Reporter,
	m *metrics.Pipeline,
	logger log.Modular,
) *Runtime {
	return &Runtime{
		cfg:        cfg.withDefaults(),
		src:        src,
		gate:       gate,
		dispatcher: dispatcher,
		sinks:      sinks,
		assets:     assets,
		flushers:   flushers,
		exceptions: exceptions,
		m:          m,
		log:        logger,
		reorder:    newReorderBuffer(),
		fatal:      make(chan error, 1),
	}
}

// Run starts the enrich stream, the asset update stream, and the
// reporting stream, and blocks until ctx is cancelled, Stop is called, or
// a fatal error occurs. It returns the fatal error, if any.
func (r *Runtime) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	defer cancel()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.assets.Run(ctx)
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.reportingLoop(ctx)
	}()

	enrichDone := make(chan struct{})
	go func() {
		defer close(enrichDone)
		r.enrichStream(ctx)
	}()

	select {
	case err := <-r.fatal:
		r.log.Errorf("fatal pipeline error, shutting down: %v", err)
		r.exceptions.Report(ctx, errorreporter.Exception{
			Component: "pipeline",
			Message:   "fatal runtime error",
			Err:       err,
		})
		cancel()
		<-enrichDone
		r.shutdown(context.Background())
		return err
	case <-enrichDone:
		// enrichStream may have raised a fatal error and returned in the
		// same instant; prefer it over a clean nil result.
		select {
		case err := <-r.fatal:
			cancel()
			r.shutdown(context.Background())
			return err
		default:
		}
		cancel()
		r.shutdown(context.Background())
		return nil
	}
}

// Stop requests an orderly shutdown; Run returns once it completes.
func (r *Runtime) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// raiseFatal reports an unrecoverable error exactly once, per §4.5's
// fatal error handling: the enrich stream, asset init, or an
// unrecoverable sink failure terminates the pipeline with a non-zero
// exit status after forwarding the error to the exception sink.
func (r *Runtime) raiseFatal(err error) {
	r.once.Do(func() {
		select {
		case r.fatal <- err:
		default:
		}
	})
}

// enrichStream implements source → pauseGate → parallelEnrich(N) →
// sinkFanOut → checkpointer. It reads the source on the calling
// goroutine (admission order defines sequence order for reorder mode)
// and dispatches each record to a bounded worker pool.
func (r *Runtime) enrichStream(ctx context.Context) {
	sem := make(chan struct{}, r.cfg.Concurrency)
	var inFlight sync.WaitGroup
	defer inFlight.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		leave := r.gate.Enter()
		raw, err := r.src.Read(ctx)
		if err != nil {
			leave()
			if errors.Is(err, source.ErrClosed) || errors.Is(err, context.Canceled) {
				return
			}
			r.raiseFatal(fmt.Errorf("source read: %w", err))
			return
		}

		if r.m != nil {
			r.m.RawCount.Incr(1)
		}
		if r.cfg.Ordered {
			r.reorder.admit(raw.Sequence)
		}

		sem <- struct{}{}
		inFlight.Add(1)
		go func(raw model.RawRecord) {
			defer func() { <-sem; inFlight.Done(); leave() }()
			r.process(ctx, raw)
		}(raw)
	}
}

// process runs one raw record through enrich → fan-out → ack, applying
// the ordered-mode reorder buffer when configured.
func (r *Runtime) process(ctx context.Context, raw model.RawRecord) {
	res := r.dispatcher.Dispatch(ctx, raw.Bytes)

	commit := func() {
		if ackErr := fanOut(ctx, r.sinks, res); ackErr != nil {
			r.log.Errorf("sink fan-out failed for record: %v", ackErr)
			r.raiseFatal(fmt.Errorf("sink fan-out: %w", ackErr))
			return
		}
		if err := raw.Ack(ctx, nil); err != nil {
			r.log.Errorf("ack failed: %v", err)
		}
	}

	if r.cfg.Ordered {
		r.reorder.release(raw.Sequence, commit)
		return
	}
	commit()
}

// reportingLoop flushes every metrics backend that implements
// MetricsFlusher on pipeline.metric_period (default 10s), per §4.5/§4.6.
func (r *Runtime) reportingLoop(ctx context.Context) {
	if len(r.flushers) == 0 {
		return
	}
	ticker := time.NewTicker(r.cfg.MetricPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, f := range r.flushers {
				if err := f.Flush(); err != nil {
					r.log.Warnf("metrics flush failed: %v", err)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// shutdown runs the five-step choreography from §4.5. Each step has a
// bounded timeout; a timeout is logged but does not block progression to
// the next step.
func (r *Runtime) shutdown(ctx context.Context) {
	r.step("close source", func(ctx context.Context) error { return r.src.Close(ctx) }, ctx)
	r.step("flush good sink", r.closeSink(r.sinks.Good), ctx)
	r.step("flush pii sink", r.closeSink(r.sinks.PII), ctx)
	r.step("flush bad sink", r.closeSink(r.sinks.Bad), ctx)
	r.assets.Stop()
	r.wg.Wait()
	for _, f := range r.flushers {
		if err := f.Flush(); err != nil {
			r.log.Warnf("final metrics flush failed: %v", err)
		}
	}
	if err := r.exceptions.Close(ctx); err != nil {
		r.log.Warnf("exception reporter close failed: %v", err)
	}
}

func (r *Runtime) closeSink(s interface{ Close(context.Context) error }) func(context.Context) error {
	if s == nil {
		return func(context.Context) error { return nil }
	}
	return s.Close
}

func (r *Runtime) step(name string, fn func(ctx context.Context) error, parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, r.cfg.ShutdownStep)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			r.log.Warnf("shutdown step %q failed: %v", name, err)
		}
	case <-ctx.Done():
		r.log.Warnf("shutdown step %q timed out after %s", name, r.cfg.ShutdownStep)
	}
}
