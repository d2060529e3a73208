package pipeline

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nplex/streamenrich/internal/assetmgr"
	"github.com/nplex/streamenrich/internal/decoder"
	"github.com/nplex/streamenrich/internal/enrich"
	"github.com/nplex/streamenrich/internal/errorreporter"
	"github.com/nplex/streamenrich/internal/log"
	"github.com/nplex/streamenrich/internal/metrics"
	"github.com/nplex/streamenrich/internal/model"
	"github.com/nplex/streamenrich/internal/source"
)

// passthroughDecoder turns raw bytes into a single logical event whose
// body is the raw bytes themselves, optionally sleeping first so tests
// can force out-of-order completion.
type passthroughDecoder struct {
	delay func(raw []byte) time.Duration
}

func (d passthroughDecoder) Decode(ctx context.Context, raw []byte) (*model.CollectorPayload, error) {
	if d.delay != nil {
		select {
		case <-time.After(d.delay(raw)):
		case <-ctx.Done():
		}
	}
	// SourceIP rides through the dispatcher unchanged into
	// EnrichedEvent.UserIPAddress, giving tests a way to recover which
	// raw record a serialized good row came from.
	return &model.CollectorPayload{SourceIP: string(raw), Events: [][]byte{raw}}, nil
}

// identityEnrichment is a no-op enrichment registered purely so the
// registry isn't empty; it exercises the Enrichments() iteration path.
type identityEnrichment struct{}

func (identityEnrichment) Name() string        { return "identity" }
func (identityEnrichment) AssetURIs() []string { return nil }
func (identityEnrichment) Apply(_ context.Context, _ decoder.Registry, e *model.EnrichedEvent) ([]decoder.EnrichmentContext, []string, error) {
	return nil, nil, nil
}

type fakeSource struct {
	mu      sync.Mutex
	records []model.RawRecord
	idx     int
	closed  bool
}

func (s *fakeSource) Connect(context.Context) error { return nil }

func (s *fakeSource) Read(ctx context.Context) (model.RawRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx >= len(s.records) {
		return model.RawRecord{}, source.ErrClosed
	}
	rec := s.records[s.idx]
	s.idx++
	return rec, nil
}

func (s *fakeSource) Close(context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type recordingSink struct {
	mu        sync.Mutex
	published [][]byte
	closed    bool
}

func (s *recordingSink) Publish(_ context.Context, data model.AttributedData) error {
	s.mu.Lock()
	s.published = append(s.published, data.Bytes)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) snapshot() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.published))
	copy(out, s.published)
	return out
}

func rawRecordWithAck(body string, seq uint64) (model.RawRecord, *int32) {
	var acked int32
	return model.RawRecord{
		Bytes:    []byte(body),
		Sequence: seq,
		Ack: func(context.Context, error) error {
			acked++
			return nil
		},
	}, &acked
}

func newTestRuntime(t *testing.T, cfg Config, src source.Source, decode decoder.Decoder, good, bad *recordingSink) *Runtime {
	t.Helper()
	holder := enrich.NewHolder(enrich.NewRegistry([]decoder.Enrichment{identityEnrichment{}}, nil))
	gate := NewGate()
	dispatcher := enrich.NewDispatcher(
		decode, nil, holder, noopExceptionSink{},
		metrics.NewPipeline(metrics.NewLocal()), log.Noop{},
		model.Processor{Name: "test", Version: "0"}, enrich.DefaultConfig(),
	)
	assets := assetmgr.New(
		assetmgr.Config{UpdatePeriod: time.Hour}, nil, nil, gate, holder,
		log.Noop{}, metrics.NewPipeline(metrics.NewLocal()), errorreporter.Noop{},
	)
	return New(
		cfg, src, gate, dispatcher,
		Sinks{Good: good, Bad: bad},
		assets, nil, errorreporter.Noop{},
		metrics.NewPipeline(metrics.NewLocal()), log.Noop{},
	)
}

type noopExceptionSink struct{}

func (noopExceptionSink) Report(context.Context, error) {}

func TestRuntimeDeliversEveryRecordAndAcksExactlyOnce(t *testing.T) {
	const n = 20
	records := make([]model.RawRecord, 0, n)
	acks := make([]*int32, 0, n)
	for i := 0; i < n; i++ {
		rec, ack := rawRecordWithAck("event-"+strconv.Itoa(i), uint64(i+1))
		records = append(records, rec)
		acks = append(acks, ack)
	}
	src := &fakeSource{records: records}
	good := &recordingSink{}
	bad := &recordingSink{}

	rt := newTestRuntime(t, Config{Concurrency: 4, ShutdownStep: time.Second}, src, passthroughDecoder{}, good, bad)

	done := make(chan error, 1)
	go func() { done <- rt.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not complete after source exhausted")
	}

	if got := len(good.snapshot()); got != n {
		t.Fatalf("good sink received %d records, want %d", got, n)
	}
	for i, ack := range acks {
		if *ack != 1 {
			t.Fatalf("record %d acked %d times, want 1", i, *ack)
		}
	}
	if !src.closed {
		t.Fatalf("expected source to be closed during shutdown")
	}
}

func TestRuntimeOrderedModeReleasesResultsInSequenceOrder(t *testing.T) {
	const n = 10
	records := make([]model.RawRecord, 0, n)
	for i := 0; i < n; i++ {
		rec, _ := rawRecordWithAck("event-"+strconv.Itoa(i), uint64(i+1))
		records = append(records, rec)
	}
	src := &fakeSource{records: records}
	good := &recordingSink{}
	bad := &recordingSink{}

	// Delay earlier-sequenced records more, forcing enrich completion
	// order to differ from ingestion order so the reorder buffer has
	// something to undo.
	decode := passthroughDecoder{delay: func(raw []byte) time.Duration {
		suffix := strings.TrimPrefix(string(raw), "event-")
		idx, _ := strconv.Atoi(suffix)
		return time.Duration(n-idx) * 2 * time.Millisecond
	}}

	rt := newTestRuntime(t, Config{Ordered: true, Concurrency: n, ShutdownStep: time.Second}, src, decode, good, bad)

	done := make(chan error, 1)
	go func() { done <- rt.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not complete")
	}

	published := good.snapshot()
	if len(published) != n {
		t.Fatalf("good sink received %d records, want %d", len(published), n)
	}
	for i, b := range published {
		want := "event-" + strconv.Itoa(i)
		if !strings.Contains(string(b), want) {
			t.Fatalf("published[%d] = %q, want it to contain %q (ordered mode must preserve ingestion order)", i, b, want)
		}
	}
}

func TestRuntimeFatalSourceErrorStopsRun(t *testing.T) {
	src := &erroringSource{err: errors.New("broker unreachable")}
	good := &recordingSink{}
	bad := &recordingSink{}

	rt := newTestRuntime(t, Config{ShutdownStep: time.Second}, src, passthroughDecoder{}, good, bad)

	done := make(chan error, 1)
	go func() { done <- rt.Run(context.Background()) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected Run to return the fatal source error")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after fatal source error")
	}
}

type erroringSource struct {
	err error
}

func (s *erroringSource) Connect(context.Context) error { return nil }
func (s *erroringSource) Read(context.Context) (model.RawRecord, error) {
	return model.RawRecord{}, s.err
}
func (s *erroringSource) Close(context.Context) error { return nil }
