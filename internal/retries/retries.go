// Package retries holds a retry-with-backoff policy constructor. Its one
// caller in this module is the Kinesis sink, through sink.RetryConfig.
// Each caller builds its own backoff.BackOff from a Config rather than
// sharing a single global policy.
package retries

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config describes a bounded exponential backoff policy.
type Config struct {
	MaxRetries int `yaml:"max_retries"`
	Backoff    struct {
		InitialInterval time.Duration `yaml:"initial_interval"`
		MaxInterval     time.Duration `yaml:"max_interval"`
		MaxElapsedTime  time.Duration `yaml:"max_elapsed_time"`
	} `yaml:"backoff"`
}

// DefaultConfig returns a Config with the given defaults. Callers override
// individual fields after unmarshalling their own YAML document over it.
func DefaultConfig(maxRetries int, initInterval, maxInterval, maxElapsed time.Duration) Config {
	c := Config{MaxRetries: maxRetries}
	c.Backoff.InitialInterval = initInterval
	c.Backoff.MaxInterval = maxInterval
	c.Backoff.MaxElapsedTime = maxElapsed
	return c
}

// Ctor returns a constructor for a fresh backoff.BackOff matching this
// config. A fresh BackOff must be constructed per retry loop invocation;
// backoff.BackOff instances are not safe to reuse across calls.
func (c Config) Ctor() func() backoff.BackOff {
	return func() backoff.BackOff {
		boff := backoff.NewExponentialBackOff()

		if c.Backoff.InitialInterval > 0 {
			boff.InitialInterval = c.Backoff.InitialInterval
		}
		if c.Backoff.MaxInterval > 0 {
			boff.MaxInterval = c.Backoff.MaxInterval
		}
		boff.MaxElapsedTime = c.Backoff.MaxElapsedTime

		if c.MaxRetries > 0 {
			return backoff.WithMaxRetries(boff, uint64(c.MaxRetries))
		}
		return boff
	}
}
