// Package decoder declares the narrow interfaces the enrichment
// dispatcher consumes from external collaborators that this repo treats
// as out of scope: the collector payload binary decoder, the schema
// registry validator, the enrichment chain itself, and the exception
// sink. This module carries only minimal implementations (JSONLines here,
// schemaregistry.Validator); the dispatcher is built and tested entirely
// against these interfaces.
package decoder

import (
	"context"

	"github.com/nplex/streamenrich/internal/model"
)

// Decoder turns raw collector bytes into a CollectorPayload. A decode
// failure returns a non-nil error with no payload; the dispatcher turns
// that into a cpformat-violation bad row.
type Decoder interface {
	Decode(ctx context.Context, raw []byte) (*model.CollectorPayload, error)
}

// SchemaClient validates a decoded logical event's JSON body against its
// declared schema. A validation failure returns a non-nil error; the
// dispatcher turns that into a schema-violation bad row.
type SchemaClient interface {
	Validate(ctx context.Context, json []byte, schemaKey string) error
}

// EnrichmentContext is a self-describing JSON blob an Enrichment attaches
// to an event in addition to (or instead of) mutating named columns.
type EnrichmentContext struct {
	Schema string
	Data   []byte
}

// Enrichment is the capability set every enrichment kind implements —
// geo lookup, user-agent parsing, JS scriptlets, and so on. The registry
// holds a flat collection of these, keyed by name.
type Enrichment interface {
	Name() string
	AssetURIs() []string
	Apply(ctx context.Context, registry Registry, event *model.EnrichedEvent) ([]EnrichmentContext, []string, error)
}

// Registry is the immutable snapshot of configured enrichments and their
// currently-installed asset files, read by the dispatcher once per
// invocation and handed unchanged to every Enrichment.Apply call within
// that invocation.
type Registry interface {
	Enrichments() []Enrichment
	AssetPath(enrichmentName, assetURI string) (string, bool)
}

// ExceptionSink receives non-fatal runtime exceptions on a best-effort
// basis. Implementations must never block the caller indefinitely.
type ExceptionSink interface {
	Report(ctx context.Context, err error)
}
