// Package schemaregistry builds the franz-go Schema Registry client the
// enrichment dispatcher uses to validate decoded payloads against the
// collector payload's declared schema before enrichment runs.
package schemaregistry

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/twmb/franz-go/pkg/sr"
)

// Config describes how to reach a Schema Registry instance.
type Config struct {
	URL       string        `yaml:"url"`
	Timeout   time.Duration `yaml:"timeout"`
	TLSConfig *tls.Config   `yaml:"-"`
}

// NewClient dials a Schema Registry client per cfg.
func NewClient(cfg Config) (*sr.Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("schema registry url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	opts := []sr.ClientOpt{
		sr.HTTPClient(&http.Client{Timeout: timeout}),
		sr.UserAgent("streamenrich"),
		sr.URLs(cfg.URL),
	}
	if cfg.TLSConfig != nil {
		opts = append(opts, sr.DialTLSConfig(cfg.TLSConfig))
	}

	client, err := sr.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema registry client: %w", err)
	}
	return client, nil
}

// NewClientOptional builds a Schema Registry client only when a URL is
// configured, returning nil otherwise. The dispatcher treats a nil client
// as "schema validation disabled".
func NewClientOptional(cfg *Config) (*sr.Client, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, nil
	}
	return NewClient(*cfg)
}
