package schemaregistry

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/sr"
)

// Validator adapts a dialed Client to decoder.SchemaClient. It confirms
// the schema named by schemaKey is a registered subject before the
// dispatcher lets an event through. It does not check json against the
// schema's structural definition — that would require a JSON
// Schema/Avro/Protobuf validation engine keyed off the schema's declared
// type, which this module treats as out of scope; it only catches drift
// between a collector payload's declared schema and what the registry
// currently knows about.
type Validator struct {
	client *sr.Client
}

// NewValidator wraps client. A nil client (schema registry not
// configured) makes every Validate call a no-op, matching the
// dispatcher's "nil SchemaClient disables validation" contract.
func NewValidator(client *sr.Client) *Validator {
	return &Validator{client: client}
}

// Validate looks up schemaKey as a subject at its latest registered
// version. _json is unused; see the type doc for why.
func (v *Validator) Validate(ctx context.Context, _ []byte, schemaKey string) error {
	if v.client == nil || schemaKey == "" {
		return nil
	}
	// version -1 requests the latest registered version, matching the
	// registry's own REST convention.
	if _, err := v.client.SchemaByVersion(ctx, schemaKey, -1); err != nil {
		return fmt.Errorf("schema %q not found in registry: %w", schemaKey, err)
	}
	return nil
}
