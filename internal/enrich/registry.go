// Package enrich holds the enrichment registry and the dispatcher that
// drives one raw payload through decode → validate → enrich → split
// (§4.4). The registry itself is a flat, immutable snapshot; atomicity
// across swaps is provided by Holder, the only mutable point in this
// package.
package enrich

import (
	"sync/atomic"

	"github.com/nplex/streamenrich/internal/decoder"
)

// staticRegistry is an immutable snapshot of configured enrichments and
// their currently-installed asset paths.
type staticRegistry struct {
	enrichments []decoder.Enrichment
	assetPaths  map[string]string // "enrichmentName\x00assetURI" -> local path
}

// NewRegistry builds an immutable registry snapshot. assetPaths keys are
// produced by AssetPathKey.
func NewRegistry(enrichments []decoder.Enrichment, assetPaths map[string]string) decoder.Registry {
	cp := make(map[string]string, len(assetPaths))
	for k, v := range assetPaths {
		cp[k] = v
	}
	list := make([]decoder.Enrichment, len(enrichments))
	copy(list, enrichments)
	return &staticRegistry{enrichments: list, assetPaths: cp}
}

func (r *staticRegistry) Enrichments() []decoder.Enrichment { return r.enrichments }

func (r *staticRegistry) AssetPath(enrichmentName, assetURI string) (string, bool) {
	p, ok := r.assetPaths[AssetPathKey(enrichmentName, assetURI)]
	return p, ok
}

// AssetPathKey builds the map key a registry snapshot's asset path table
// is keyed by.
func AssetPathKey(enrichmentName, assetURI string) string {
	return enrichmentName + "\x00" + assetURI
}

// Holder is the single shared mutable point between the enrich stage
// (many concurrent readers) and the Asset Manager (the sole writer).
// Reads are lock-free; a write replaces the pointer wholesale so any
// in-flight Load always observes one complete, coherent snapshot — never
// a torn mix of old and new enrichments.
type Holder struct {
	ref atomic.Pointer[decoder.Registry]
}

// NewHolder creates a Holder seeded with an initial snapshot.
func NewHolder(initial decoder.Registry) *Holder {
	h := &Holder{}
	h.ref.Store(&initial)
	return h
}

// Load returns the current registry snapshot.
func (h *Holder) Load() decoder.Registry {
	return *h.ref.Load()
}

// Swap atomically replaces the snapshot.
func (h *Holder) Swap(next decoder.Registry) {
	h.ref.Store(&next)
}
