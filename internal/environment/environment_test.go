package environment

import (
	"context"
	"errors"
	"testing"

	"github.com/nplex/streamenrich/internal/config"
	"github.com/nplex/streamenrich/internal/errorreporter"
	"github.com/nplex/streamenrich/internal/metrics"
	"github.com/nplex/streamenrich/internal/model"
	"github.com/nplex/streamenrich/internal/sink"
)

func TestBuildExceptionReporterDefaultsToNoopWhenSentryUnconfigured(t *testing.T) {
	r, err := buildExceptionReporter(nil, model.Processor{Name: "test", Version: "0"})
	if err != nil {
		t.Fatalf("buildExceptionReporter: %v", err)
	}
	if _, ok := r.(errorreporter.Noop); !ok {
		t.Fatalf("reporter = %T, want errorreporter.Noop", r)
	}
}

func TestBuildMetricsRegistryDefaultsToLocalWhenNoBackendConfigured(t *testing.T) {
	registry, flushers, err := buildMetricsRegistry(config.MetricsConfig{}, false)
	if err != nil {
		t.Fatalf("buildMetricsRegistry: %v", err)
	}
	if _, ok := registry.(*metrics.Local); !ok {
		t.Fatalf("registry = %T, want *metrics.Local", registry)
	}
	if len(flushers) != 0 {
		t.Fatalf("expected no flushers when no backend is configured")
	}
}

func TestBuildMetricsRegistryWiresStdoutAsItsOwnFlusher(t *testing.T) {
	registry, flushers, err := buildMetricsRegistry(config.MetricsConfig{Stdout: &config.StdoutConfig{}}, false)
	if err != nil {
		t.Fatalf("buildMetricsRegistry: %v", err)
	}
	if _, ok := registry.(*metrics.Stdout); !ok {
		t.Fatalf("registry = %T, want *metrics.Stdout", registry)
	}
	if len(flushers) != 1 {
		t.Fatalf("expected exactly one flusher for a stdout-only config, got %d", len(flushers))
	}
}

func TestBuildMetricsRegistryEnablesCloudWatchByDefaultForAKinesisSink(t *testing.T) {
	registry, _, err := buildMetricsRegistry(config.MetricsConfig{}, true)
	if err != nil {
		t.Fatalf("buildMetricsRegistry: %v", err)
	}
	if _, ok := registry.(*metrics.CloudWatch); !ok {
		t.Fatalf("registry = %T, want *metrics.CloudWatch", registry)
	}
}

func TestBuildMetricsRegistryRespectsCloudWatchDisabled(t *testing.T) {
	registry, _, err := buildMetricsRegistry(config.MetricsConfig{CloudWatchDisabled: true}, true)
	if err != nil {
		t.Fatalf("buildMetricsRegistry: %v", err)
	}
	if _, ok := registry.(*metrics.Local); !ok {
		t.Fatalf("registry = %T, want *metrics.Local", registry)
	}
}

func TestUsesKinesisSinkChecksEveryOutput(t *testing.T) {
	if usesKinesisSink(config.OutputConfig{Good: config.SinkConfig{Type: "pubsub"}}) {
		t.Fatalf("expected false when no output is kinesis")
	}
	if !usesKinesisSink(config.OutputConfig{
		Good: config.SinkConfig{Type: "pubsub"},
		Bad:  &config.SinkConfig{Type: "kinesis"},
	}) {
		t.Fatalf("expected true when the bad sink is kinesis")
	}
}

func TestPiiPartitionKeyIsEmptyWhenPiiSinkUnconfigured(t *testing.T) {
	if got := piiPartitionKey(nil); got != "" {
		t.Fatalf("piiPartitionKey(nil) = %q, want empty", got)
	}
	cfg := &config.SinkConfig{PartitionKey: sink.PartitionKeyDomainUserID}
	if got := piiPartitionKey(cfg); got != sink.PartitionKeyDomainUserID {
		t.Fatalf("piiPartitionKey = %q, want %q", got, sink.PartitionKeyDomainUserID)
	}
}

type capturingReporter struct {
	exc errorreporter.Exception
}

func (c *capturingReporter) Report(_ context.Context, exc errorreporter.Exception) { c.exc = exc }
func (c *capturingReporter) Close(context.Context) error                           { return nil }

func TestExceptionAdapterForwardsWithFixedComponentTag(t *testing.T) {
	reporter := &capturingReporter{}
	adapter := exceptionAdapter{reporter: reporter}

	cause := errors.New("boom")
	adapter.Report(context.Background(), cause)

	if reporter.exc.Component != "enrich" {
		t.Fatalf("Component = %q, want %q", reporter.exc.Component, "enrich")
	}
	if !errors.Is(reporter.exc.Err, cause) {
		t.Fatalf("Err = %v, want wrapping %v", reporter.exc.Err, cause)
	}
}
