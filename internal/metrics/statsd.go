package metrics

import (
	"fmt"
	"net/http"
	"time"

	statsd "github.com/smira/go-statsd"

	"github.com/nplex/streamenrich/internal/log"
)

// TagFormat selects how label values are encoded onto the wire.
type TagFormat string

// Tag formats supported by the statsd registry.
const (
	TagFormatNone     TagFormat = "none"
	TagFormatDatadog  TagFormat = "datadog"
	TagFormatInfluxDB TagFormat = "influxdb"
)

// StatsDConfig configures the statsd Registry.
type StatsDConfig struct {
	Address     string        `yaml:"address"`
	FlushPeriod time.Duration `yaml:"flush_period"`
	TagFormat   TagFormat     `yaml:"tag_format"`
}

type wrappedLogger struct {
	log log.Modular
}

func (w wrappedLogger) Printf(msg string, args ...any) {
	w.log.Warnf(fmt.Sprintf(msg, args...))
}

type statsdStat struct {
	path string
	c    *statsd.Client
	tags []statsd.Tag
}

func (s *statsdStat) Incr(count int64)   { s.c.Incr(s.path, count, s.tags...) }
func (s *statsdStat) Set(value int64)    { s.c.Gauge(s.path, value, s.tags...) }
func (s *statsdStat) Timing(delta int64) { s.c.Timing(s.path, delta, s.tags...) }

// StatsD reports counters, gauges and timers to a statsd listener.
type StatsD struct {
	client *statsd.Client
}

// NewStatsD dials a statsd listener per cfg. The dial is non-blocking;
// metrics are dropped silently if the listener is unreachable, matching
// the underlying client's fire-and-forget UDP semantics.
func NewStatsD(cfg StatsDConfig, logger log.Modular) (*StatsD, error) {
	opts := []statsd.Option{
		statsd.FlushInterval(cfg.FlushPeriod),
		statsd.Logger(wrappedLogger{log: logger}),
	}

	switch cfg.TagFormat {
	case TagFormatInfluxDB:
		opts = append(opts, statsd.TagStyle(statsd.TagFormatInfluxDB))
	case TagFormatDatadog:
		opts = append(opts, statsd.TagStyle(statsd.TagFormatDatadog))
	case TagFormatNone, "":
	default:
		return nil, fmt.Errorf("tag format %q was not recognised", cfg.TagFormat)
	}

	return &StatsD{client: statsd.NewClient(cfg.Address, opts...)}, nil
}

func tags(labels, values []string) []statsd.Tag {
	if len(labels) != len(values) {
		return nil
	}
	out := make([]statsd.Tag, len(labels))
	for i := range labels {
		out[i] = statsd.StringTag(labels[i], values[i])
	}
	return out
}

func (s *StatsD) GetCounter(path string) Counter { return s.GetCounterVec(path).With() }

func (s *StatsD) GetCounterVec(path string, n ...string) CounterVec {
	return FakeCounterVec(func(v ...string) Counter {
		return &statsdStat{path: path, c: s.client, tags: tags(n, v)}
	})
}

func (s *StatsD) GetGauge(path string) Gauge { return s.GetGaugeVec(path).With() }

func (s *StatsD) GetGaugeVec(path string, n ...string) GaugeVec {
	return FakeGaugeVec(func(v ...string) Gauge {
		return &statsdStat{path: path, c: s.client, tags: tags(n, v)}
	})
}

func (s *StatsD) GetTimer(path string) Timer { return s.GetTimerVec(path).With() }

func (s *StatsD) GetTimerVec(path string, n ...string) TimerVec {
	return FakeTimerVec(func(v ...string) Timer {
		return &statsdStat{path: path, c: s.client, tags: tags(n, v)}
	})
}

func (s *StatsD) HandlerFunc() http.HandlerFunc { return nil }

func (s *StatsD) Close() error {
	s.client.Close()
	return nil
}
