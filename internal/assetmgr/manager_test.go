package assetmgr

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nplex/streamenrich/internal/decoder"
	"github.com/nplex/streamenrich/internal/enrich"
	"github.com/nplex/streamenrich/internal/errorreporter"
	"github.com/nplex/streamenrich/internal/log"
	"github.com/nplex/streamenrich/internal/metrics"
	"github.com/nplex/streamenrich/internal/model"
)

// fakeGate is a minimal PauseSignal double; the refresh tests only need
// to observe that a swap cycle brackets itself with Pause/Resume, not
// the real drain semantics pipeline.Gate provides.
type fakeGate struct {
	mu     sync.Mutex
	paused int
}

func (g *fakeGate) Pause() {
	g.mu.Lock()
	g.paused++
	g.mu.Unlock()
}

func (g *fakeGate) Resume() {}

type fakeEnrichment struct {
	name string
	uris []string
}

func (f fakeEnrichment) Name() string        { return f.name }
func (f fakeEnrichment) AssetURIs() []string { return f.uris }
func (f fakeEnrichment) Apply(context.Context, decoder.Registry, *model.EnrichedEvent) ([]decoder.EnrichmentContext, []string, error) {
	return nil, nil, nil
}

type fakeFetcher struct {
	mu      sync.Mutex
	hash    string
	failing bool
	calls   int
}

func (f *fakeFetcher) Fetch(context.Context, string, string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failing {
		return "", "", errors.New("fetch failed")
	}
	return "/tmp/asset-" + f.hash, f.hash, nil
}

func newTestManager(t *testing.T, enrichments []decoder.Enrichment, fetcher Fetcher) (*Manager, *enrich.Holder) {
	t.Helper()
	holder := enrich.NewHolder(enrich.NewRegistry(nil, nil))
	gate := &fakeGate{}
	m := New(
		Config{UpdatePeriod: time.Hour},
		enrichments,
		map[string]Fetcher{"s3": fetcher},
		gate,
		holder,
		log.Noop{},
		metrics.NewPipeline(metrics.NewLocal()),
		errorreporter.Noop{},
	)
	return m, holder
}

func TestInitialLoadInstallsRegistry(t *testing.T) {
	fetcher := &fakeFetcher{hash: "v1"}
	geo := fakeEnrichment{name: "geoip", uris: []string{"s3://bucket/geo.mmdb"}}
	m, holder := newTestManager(t, []decoder.Enrichment{geo}, fetcher)

	if err := m.InitialLoad(context.Background()); err != nil {
		t.Fatalf("InitialLoad: %v", err)
	}

	path, ok := holder.Load().AssetPath("geoip", "s3://bucket/geo.mmdb")
	if !ok || path != "/tmp/asset-v1" {
		t.Fatalf("AssetPath = (%q,%v), want (/tmp/asset-v1,true)", path, ok)
	}
}

func TestInitialLoadFailurePropagatesError(t *testing.T) {
	fetcher := &fakeFetcher{failing: true}
	geo := fakeEnrichment{name: "geoip", uris: []string{"s3://bucket/geo.mmdb"}}
	m, _ := newTestManager(t, []decoder.Enrichment{geo}, fetcher)

	if err := m.InitialLoad(context.Background()); err == nil {
		t.Fatalf("expected InitialLoad to fail")
	}
}

func TestRefreshSkipsSwapWhenHashUnchanged(t *testing.T) {
	fetcher := &fakeFetcher{hash: "same"}
	geo := fakeEnrichment{name: "geoip", uris: []string{"s3://bucket/geo.mmdb"}}
	m, holder := newTestManager(t, []decoder.Enrichment{geo}, fetcher)

	if err := m.InitialLoad(context.Background()); err != nil {
		t.Fatalf("InitialLoad: %v", err)
	}
	before := holder.Load()

	m.refresh(context.Background())

	if holder.Load() != before {
		t.Fatalf("expected registry reference to be unchanged when asset hash is identical")
	}
}

func TestRefreshAbandonsCycleOnFetchFailureAndKeepsPreviousRegistry(t *testing.T) {
	fetcher := &fakeFetcher{hash: "v1"}
	geo := fakeEnrichment{name: "geoip", uris: []string{"s3://bucket/geo.mmdb"}}
	m, holder := newTestManager(t, []decoder.Enrichment{geo}, fetcher)

	if err := m.InitialLoad(context.Background()); err != nil {
		t.Fatalf("InitialLoad: %v", err)
	}
	before := holder.Load()

	fetcher.mu.Lock()
	fetcher.failing = true
	fetcher.mu.Unlock()

	m.refresh(context.Background())

	if holder.Load() != before {
		t.Fatalf("expected registry to remain unchanged after an abandoned refresh")
	}
}

func TestRefreshSwapsRegistryWhenHashChanges(t *testing.T) {
	fetcher := &fakeFetcher{hash: "v1"}
	geo := fakeEnrichment{name: "geoip", uris: []string{"s3://bucket/geo.mmdb"}}
	m, holder := newTestManager(t, []decoder.Enrichment{geo}, fetcher)

	if err := m.InitialLoad(context.Background()); err != nil {
		t.Fatalf("InitialLoad: %v", err)
	}

	fetcher.mu.Lock()
	fetcher.hash = "v2"
	fetcher.mu.Unlock()

	m.refresh(context.Background())

	path, ok := holder.Load().AssetPath("geoip", "s3://bucket/geo.mmdb")
	if !ok || path != "/tmp/asset-v2" {
		t.Fatalf("AssetPath after refresh = (%q,%v), want (/tmp/asset-v2,true)", path, ok)
	}
}
