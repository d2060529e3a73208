// Package environment builds the full dependency graph a pipeline
// runtime needs from a parsed config.Config: the source, the fan-out
// sinks, the metrics and exception-reporting backends, the asset
// manager and its registry holder, and finally the dispatcher and
// Runtime that tie them together. Construction proceeds in dependency
// order and aborts on the first failure with a descriptive error, per
// §4.7 — there is no partial-environment fallback.
package environment

import (
	"context"
	"fmt"
	"os"

	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"github.com/nplex/streamenrich/internal/assetmgr"
	"github.com/nplex/streamenrich/internal/awsutil"
	"github.com/nplex/streamenrich/internal/config"
	"github.com/nplex/streamenrich/internal/decoder"
	"github.com/nplex/streamenrich/internal/enrich"
	"github.com/nplex/streamenrich/internal/errorreporter"
	"github.com/nplex/streamenrich/internal/log"
	"github.com/nplex/streamenrich/internal/metrics"
	"github.com/nplex/streamenrich/internal/model"
	"github.com/nplex/streamenrich/internal/pipeline"
	"github.com/nplex/streamenrich/internal/schemaregistry"
	"github.com/nplex/streamenrich/internal/sink"
	"github.com/nplex/streamenrich/internal/source"
)

// Collaborators bundles the components §1 treats as external: the
// collector payload decoder and the enrichment chain itself. A caller
// embedding this module as a library supplies its own; cmd/streamenrich
// wires decoder.NewJSONLines and an empty chain, which is enough to run
// the pipeline end to end against already-decoded JSON input and no
// enrichments, and is the configuration the dry-run subcommand exercises.
type Collaborators struct {
	Decoder     decoder.Decoder
	Enrichments []decoder.Enrichment
}

// Environment holds every constructed resource a Runtime needs, plus the
// handles main needs to close them if startup fails partway through.
type Environment struct {
	Runtime *pipeline.Runtime

	logger     log.Modular
	assets     *assetmgr.Manager
	src        source.Source
	sinks      pipeline.Sinks
	exceptions errorreporter.Reporter
}

// Logger returns the environment's root logger, for main to log startup
// and shutdown messages through the same sink the pipeline itself uses.
func (e *Environment) Logger() log.Modular { return e.logger }

// Close releases every resource Build connected without running the
// pipeline loop's own shutdown choreography. Used by the dry-run
// subcommand, which never calls Runtime.Run and so never reaches
// Runtime's own shutdown step.
func (e *Environment) Close(ctx context.Context) error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(e.src.Close(ctx))
	if e.sinks.Good != nil {
		record(e.sinks.Good.Close(ctx))
	}
	if e.sinks.PII != nil {
		record(e.sinks.PII.Close(ctx))
	}
	if e.sinks.Bad != nil {
		record(e.sinks.Bad.Close(ctx))
	}
	record(e.exceptions.Close(ctx))
	return firstErr
}

// Build constructs every resource named in cfg and wires them into a
// Runtime. ctx bounds construction itself (dialing clients, the initial
// asset load); it is not retained past Build returning.
func Build(ctx context.Context, cfg *config.Config, collab Collaborators, processor model.Processor) (*Environment, error) {
	logger := log.NewSlogAdapter(slog.New(slog.NewJSONHandler(os.Stderr, nil))).
		WithFields(map[string]string{"processor": processor.Name, "version": processor.Version})

	registry, flushers, err := buildMetricsRegistry(cfg.Monitoring.Metrics, usesKinesisSink(cfg.Output))
	if err != nil {
		return nil, fmt.Errorf("build metrics registry: %w", err)
	}
	m := metrics.NewPipeline(registry)

	exceptions, err := buildExceptionReporter(cfg.Monitoring.Sentry, processor)
	if err != nil {
		return nil, fmt.Errorf("build exception reporter: %w", err)
	}

	src, err := buildSource(ctx, cfg.Input, logger)
	if err != nil {
		return nil, fmt.Errorf("build source: %w", err)
	}
	if err := src.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect source: %w", err)
	}

	sinks, err := buildSinks(ctx, cfg.Output, logger)
	if err != nil {
		return nil, fmt.Errorf("build sinks: %w", err)
	}

	schemaClient, err := schemaregistry.NewClientOptional(cfg.Enrichment.SchemaRegistry)
	if err != nil {
		return nil, fmt.Errorf("build schema registry client: %w", err)
	}
	var schema decoder.SchemaClient
	if schemaClient != nil {
		schema = schemaregistry.NewValidator(schemaClient)
	}

	gate := pipeline.NewGate()
	holder := enrich.NewHolder(enrich.NewRegistry(collab.Enrichments, nil))

	fetchers, err := buildFetchers(ctx, cfg.Input)
	if err != nil {
		return nil, fmt.Errorf("build asset fetchers: %w", err)
	}
	assets := assetmgr.New(cfg.Assets, collab.Enrichments, fetchers, gate, holder, logger, m, exceptions)
	if err := assets.InitialLoad(ctx); err != nil {
		return nil, fmt.Errorf("initial asset load: %w", err)
	}

	dispatcher := enrich.NewDispatcher(
		collab.Decoder, schema, holder, exceptionAdapter{exceptions}, m, logger, processor,
		cfg.Enrichment.DispatcherConfig(),
	)

	runtime := pipeline.New(
		cfg.Pipeline.RuntimeConfig(cfg.Enrichment.Ordered),
		src, gate, dispatcher, sinks, assets, flushers, exceptions, m, logger,
	)

	return &Environment{
		Runtime:    runtime,
		logger:     logger,
		assets:     assets,
		src:        src,
		sinks:      sinks,
		exceptions: exceptions,
	}, nil
}

// exceptionAdapter satisfies decoder.ExceptionSink by forwarding to a
// full errorreporter.Reporter with a fixed component tag, since the
// dispatcher only ever reports from within its own Dispatch call.
type exceptionAdapter struct {
	reporter errorreporter.Reporter
}

func (a exceptionAdapter) Report(ctx context.Context, err error) {
	a.reporter.Report(ctx, errorreporter.Exception{Component: "enrich", Message: "dispatch exception", Err: err})
}

func buildSource(ctx context.Context, cfg config.InputConfig, logger log.Modular) (source.Source, error) {
	switch cfg.Type {
	case "kinesis":
		return source.NewKinesis(*cfg.Kinesis, logger.WithFields(map[string]string{"source": "kinesis"}))
	case "pubsub":
		return source.NewPubSub(ctx, *cfg.PubSub, logger.WithFields(map[string]string{"source": "pubsub"}))
	default:
		return nil, fmt.Errorf("input.type %q is not recognised", cfg.Type)
	}
}

func buildSinks(ctx context.Context, cfg config.OutputConfig, logger log.Modular) (pipeline.Sinks, error) {
	good, err := buildSink(ctx, cfg.Good, logger.WithFields(map[string]string{"sink": "good"}))
	if err != nil {
		return pipeline.Sinks{}, fmt.Errorf("output.good: %w", err)
	}

	var pii sink.Sink
	if cfg.PII != nil {
		pii, err = buildSink(ctx, *cfg.PII, logger.WithFields(map[string]string{"sink": "pii"}))
		if err != nil {
			return pipeline.Sinks{}, fmt.Errorf("output.pii: %w", err)
		}
	}

	var bad sink.Sink
	if cfg.Bad != nil {
		bad, err = buildSink(ctx, *cfg.Bad, logger.WithFields(map[string]string{"sink": "bad"}))
		if err != nil {
			return pipeline.Sinks{}, fmt.Errorf("output.bad: %w", err)
		}
	} else {
		logger.Warnln("output.bad is not configured; bad rows will be dropped rather than published")
	}

	return pipeline.Sinks{
		Good:             good,
		PII:              pii,
		Bad:              bad,
		GoodPartitionKey: cfg.Good.PartitionKey,
		PIIPartitionKey:  piiPartitionKey(cfg.PII),
	}, nil
}

func piiPartitionKey(cfg *config.SinkConfig) sink.PartitionKeyField {
	if cfg == nil {
		return ""
	}
	return cfg.PartitionKey
}

func buildSink(ctx context.Context, cfg config.SinkConfig, logger log.Modular) (sink.Sink, error) {
	switch cfg.Type {
	case "kinesis":
		return sink.NewKinesis(ctx, *cfg.Kinesis, logger)
	case "pubsub":
		return sink.NewPubSub(ctx, *cfg.PubSub, logger)
	default:
		return nil, fmt.Errorf("type %q is not recognised", cfg.Type)
	}
}

// usesKinesisSink reports whether any of the good/pii/bad outputs is a
// Kinesis sink, the trigger for CloudWatch's enabled-by-default behavior.
func usesKinesisSink(cfg config.OutputConfig) bool {
	if cfg.Good.Type == "kinesis" {
		return true
	}
	if cfg.PII != nil && cfg.PII.Type == "kinesis" {
		return true
	}
	if cfg.Bad != nil && cfg.Bad.Type == "kinesis" {
		return true
	}
	return false
}

func buildMetricsRegistry(cfg config.MetricsConfig, kinesisSinkConfigured bool) (metrics.Registry, []pipeline.MetricsFlusher, error) {
	var registries []metrics.Registry
	var flushers []pipeline.MetricsFlusher

	if cfg.Stdout != nil {
		s := metrics.NewStdout(os.Stdout)
		registries = append(registries, s)
		flushers = append(flushers, s)
	}
	if cfg.StatsD != nil {
		logger := log.NewSlogAdapter(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
		s, err := metrics.NewStatsD(*cfg.StatsD, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("statsd: %w", err)
		}
		registries = append(registries, s)
	}

	// CloudWatch is enabled by default once a Kinesis sink is configured,
	// even with no monitoring.metrics.cloudwatch block present; an
	// explicit block always enables it regardless of sink type, and
	// cloudwatch_disabled always opts out.
	wantsCloudWatch := cfg.CloudWatch != nil || (kinesisSinkConfigured && !cfg.CloudWatchDisabled)
	if wantsCloudWatch {
		var cwCfg metrics.CloudWatchConfig
		if cfg.CloudWatch != nil {
			cwCfg = *cfg.CloudWatch
		}
		logger := log.NewSlogAdapter(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
		awsConf, err := awsutil.GetConfig(context.Background(), awsutil.SessionConfig{})
		if err != nil {
			return nil, nil, fmt.Errorf("cloudwatch: resolve aws config: %w", err)
		}
		registries = append(registries, metrics.NewCloudWatch(cwCfg, cloudwatch.NewFromConfig(awsConf), logger))
	}

	switch len(registries) {
	case 0:
		return metrics.NewLocal(), flushers, nil
	case 1:
		return registries[0], flushers, nil
	default:
		return metrics.NewMulti(registries...), flushers, nil
	}
}

func buildExceptionReporter(cfg *errorreporter.SentryConfig, processor model.Processor) (errorreporter.Reporter, error) {
	if cfg == nil {
		return errorreporter.Noop{}, nil
	}
	return errorreporter.NewSentry(*cfg, processor.Version)
}

func buildFetchers(ctx context.Context, cfg config.InputConfig) (map[string]assetmgr.Fetcher, error) {
	fetchers := make(map[string]assetmgr.Fetcher, 2)

	var sess awsutil.SessionConfig
	if cfg.Kinesis != nil {
		sess = cfg.Kinesis.Session
	}
	s3f, err := assetmgr.NewS3Fetcher(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("s3 fetcher: %w", err)
	}
	fetchers["s3"] = s3f

	gcsf, err := assetmgr.NewGCSFetcher(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs fetcher: %w", err)
	}
	fetchers["gs"] = gcsf

	return fetchers, nil
}
