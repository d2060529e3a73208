package errorreporter

import (
	"context"
	"errors"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryConfig configures the Sentry-backed Reporter.
type SentryConfig struct {
	DSN          string        `yaml:"dsn"`
	Environment  string        `yaml:"environment"`
	Release      string        `yaml:"release"`
	SamplingRate float64       `yaml:"sampling_rate"`
	Sync         bool          `yaml:"sync"`
	FlushTimeout time.Duration `yaml:"flush_timeout"`
}

// Sentry reports Exceptions to sentry.io. A sampling rate of 0 disables
// capturing entirely; the underlying client otherwise treats 0 and 1
// identically, so that case is special-cased here.
type Sentry struct {
	hub          *sentry.Hub
	samplingRate float64
	flushTimeout time.Duration
}

// ClientOptionsFunc mutates the sentry.ClientOptions before the client is
// built, letting tests substitute a mock transport.
type ClientOptionsFunc func(*sentry.ClientOptions) *sentry.ClientOptions

// NewSentry dials a Sentry client and returns a Reporter bound to it.
// Each call to Report clones the hub, since a hub must not be shared
// across goroutines.
func NewSentry(cfg SentryConfig, processorVersion string, opts ...ClientOptionsFunc) (*Sentry, error) {
	var transport sentry.Transport
	if cfg.Sync {
		transport = sentry.NewHTTPSyncTransport()
	}

	clientOptions := &sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		SampleRate:  cfg.SamplingRate,
		Transport:   transport,
	}
	for _, opt := range opts {
		clientOptions = opt(clientOptions)
	}

	client, err := sentry.NewClient(*clientOptions)
	if err != nil {
		return nil, err
	}

	scope := sentry.NewScope()
	scope.SetTag("streamenrich", processorVersion)

	flushTimeout := cfg.FlushTimeout
	if flushTimeout <= 0 {
		flushTimeout = 5 * time.Second
	}

	return &Sentry{
		hub:          sentry.NewHub(client, scope),
		samplingRate: cfg.SamplingRate,
		flushTimeout: flushTimeout,
	}, nil
}

// Report sends exc to Sentry on a cloned hub.
func (s *Sentry) Report(_ context.Context, exc Exception) {
	if s.samplingRate <= 0 {
		return
	}

	hub := s.hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", exc.Component)
		scope.SetTags(exc.Tags)
		if exc.Err != nil {
			scope.SetExtra("error", exc.Err.Error())
		}
		hub.CaptureMessage(exc.Message)
	})
}

// Close flushes any buffered events before the client shuts down.
func (s *Sentry) Close(_ context.Context) error {
	if flushed := s.hub.Flush(s.flushTimeout); !flushed {
		return errors.New("failed to flush sentry events before timeout")
	}
	if client := s.hub.Client(); client != nil {
		client.Close()
	}
	return nil
}
