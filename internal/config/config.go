// Package config unmarshals the YAML document described in §6 into the
// typed config structs each component constructor already accepts,
// applying the same layout the teacher uses for its own pipeline
// documents: one top-level struct per concern, embedded inline where a
// component's own config is reused verbatim.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nplex/streamenrich/internal/assetmgr"
	"github.com/nplex/streamenrich/internal/enrich"
	"github.com/nplex/streamenrich/internal/errorreporter"
	"github.com/nplex/streamenrich/internal/metrics"
	"github.com/nplex/streamenrich/internal/pipeline"
	"github.com/nplex/streamenrich/internal/schemaregistry"
	"github.com/nplex/streamenrich/internal/sink"
	"github.com/nplex/streamenrich/internal/source"
)

// Config is the root document loaded from the --config file.
type Config struct {
	Input      InputConfig      `yaml:"input"`
	Output     OutputConfig     `yaml:"output"`
	Assets     assetmgr.Config  `yaml:"assets"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// InputConfig selects and configures the one upstream source this
// process consumes from.
type InputConfig struct {
	Type    string               `yaml:"type"` // "kinesis" | "pubsub"
	Kinesis *source.KinesisConfig `yaml:"kinesis"`
	PubSub  *source.PubSubConfig  `yaml:"pubsub"`
}

// OutputConfig holds the three fan-out destinations described in §4.4:
// good is required, pii and bad are each optional (with no pii sink the
// fan-out drops PII rows; a nil bad sink means the deployment accepts
// silently dropping bad rows, which environment.Build warns about at
// startup).
type OutputConfig struct {
	Good SinkConfig  `yaml:"good"`
	PII  *SinkConfig `yaml:"pii"`
	Bad  *SinkConfig `yaml:"bad"`
}

// SinkConfig selects and configures one output sink, plus the partition
// key field it reads off each EnrichedEvent before publishing.
type SinkConfig struct {
	Type          string               `yaml:"type"` // "kinesis" | "pubsub"
	Kinesis       *sink.KinesisConfig  `yaml:"kinesis"`
	PubSub        *sink.PubSubConfig   `yaml:"pubsub"`
	PartitionKey  sink.PartitionKeyField `yaml:"partition_key"`
}

// EnrichmentConfig configures the dispatcher and optional schema
// registry validation.
type EnrichmentConfig struct {
	Ordered        bool                    `yaml:"ordered"`
	Concurrency    int                     `yaml:"concurrency"`
	SizeCeiling    int                     `yaml:"size_ceiling_bytes"`
	PIIEnabled     bool                    `yaml:"pii_enabled"`
	SchemaRegistry *schemaregistry.Config  `yaml:"schema_registry"`
}

func (c EnrichmentConfig) DispatcherConfig() enrich.Config {
	return enrich.Config{
		Ordered:     c.Ordered,
		Concurrency: c.Concurrency,
		SizeCeiling: c.SizeCeiling,
		PIIEnabled:  c.PIIEnabled,
	}
}

// PipelineConfig configures the runtime loop itself: worker concurrency
// independent of the dispatcher's own (the runtime bounds how many
// records are in flight across the enrich+fanout+ack path at once, the
// dispatcher config above only shapes individual Dispatch calls).
// RuntimeConfig takes the ordered-mode flag from EnrichmentConfig, so the
// single enrichment.ordered key switches the runtime's reorder buffer on;
// the dispatcher itself does not read that flag.
type PipelineConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	MetricPeriod time.Duration `yaml:"metric_period"`
	ShutdownStep time.Duration `yaml:"shutdown_step_timeout"`
}

func (c PipelineConfig) RuntimeConfig(ordered bool) pipeline.Config {
	return pipeline.Config{
		Ordered:      ordered,
		Concurrency:  c.Concurrency,
		MetricPeriod: c.MetricPeriod,
		ShutdownStep: c.ShutdownStep,
	}
}

// MonitoringConfig configures the exception reporter and the metrics
// backends. Every field is optional; an absent block disables that
// backend entirely rather than falling back to a default endpoint, except
// for CloudWatch, which MetricsConfig enables by default for a Kinesis
// sink.
type MonitoringConfig struct {
	Sentry  *errorreporter.SentryConfig `yaml:"sentry"`
	Metrics MetricsConfig               `yaml:"metrics"`
}

// MetricsConfig selects zero or more metrics backends. Stdout and
// StatsD/CloudWatch are not mutually exclusive; the environment wires a
// fan-out registry when more than one is configured (see
// internal/environment). CloudWatch is special-cased: it is enabled by
// default whenever a Kinesis sink is configured, even with no cloudwatch
// block present, matching the monitoring defaults of a Kinesis-backed
// deployment; CloudWatchDisabled opts back out.
type MetricsConfig struct {
	Stdout             *StdoutConfig             `yaml:"stdout"`
	StatsD             *metrics.StatsDConfig     `yaml:"statsd"`
	CloudWatch         *metrics.CloudWatchConfig `yaml:"cloudwatch"`
	CloudWatchDisabled bool                      `yaml:"cloudwatch_disabled"`
}

// StdoutConfig enables the in-process Stdout registry. It carries no
// fields of its own today; its presence in the document is the switch.
type StdoutConfig struct{}

// Load reads and parses the YAML document at path. A missing or
// unparsable file is reported with the path in the error so a bad
// --config flag value is diagnosable straight from the CLI's output.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the structural invariants Load can't express through
// YAML shape alone: exactly one input backend selected, matching config
// block present, and the same for every configured sink.
func (c *Config) Validate() error {
	switch c.Input.Type {
	case "kinesis":
		if c.Input.Kinesis == nil {
			return fmt.Errorf("input.type is kinesis but input.kinesis is not set")
		}
	case "pubsub":
		if c.Input.PubSub == nil {
			return fmt.Errorf("input.type is pubsub but input.pubsub is not set")
		}
	case "":
		return fmt.Errorf("input.type is required")
	default:
		return fmt.Errorf("input.type %q is not recognised", c.Input.Type)
	}

	if err := c.Output.Good.validate("output.good"); err != nil {
		return err
	}
	if c.Output.PII != nil {
		if err := c.Output.PII.validate("output.pii"); err != nil {
			return err
		}
	}
	if c.Output.Bad != nil {
		if err := c.Output.Bad.validate("output.bad"); err != nil {
			return err
		}
	}
	return nil
}

func (s SinkConfig) validate(path string) error {
	switch s.Type {
	case "kinesis":
		if s.Kinesis == nil {
			return fmt.Errorf("%s.type is kinesis but %s.kinesis is not set", path, path)
		}
	case "pubsub":
		if s.PubSub == nil {
			return fmt.Errorf("%s.type is pubsub but %s.pubsub is not set", path, path)
		}
	case "":
		return fmt.Errorf("%s.type is required", path)
	default:
		return fmt.Errorf("%s.type %q is not recognised", path, s.Type)
	}
	return nil
}
