// Package metrics holds the counters and timers the metrics & error
// reporter (C6) exposes to the pipeline runtime. Every component that
// moves a record through the pipeline reports through a Registry rather
// than a concrete backend, so swapping statsd for stdout or CloudWatch
// never touches pipeline code.
package metrics

import "net/http"

// Counter is a single thread-safe counter stat.
type Counter interface {
	Incr(count int64)
}

// Gauge is a single thread-safe gauge stat.
type Gauge interface {
	Set(value int64)
}

// Timer is a single thread-safe timing stat, recorded in nanoseconds.
type Timer interface {
	Timing(delta int64)
}

// CounterVec creates Counters carrying a fixed set of label values.
type CounterVec interface {
	With(labelValues ...string) Counter
}

// GaugeVec creates Gauges carrying a fixed set of label values.
type GaugeVec interface {
	With(labelValues ...string) Gauge
}

// TimerVec creates Timers carrying a fixed set of label values.
type TimerVec interface {
	With(labelValues ...string) Timer
}

// Registry is the aggregation backend the pipeline reports through. Each
// path is a dot-separated metric name; vec variants attach the same label
// names to every series registered under that path.
type Registry interface {
	GetCounter(path string) Counter
	GetCounterVec(path string, labelNames ...string) CounterVec

	GetGauge(path string) Gauge
	GetGaugeVec(path string, labelNames ...string) GaugeVec

	GetTimer(path string) Timer
	GetTimerVec(path string, labelNames ...string) TimerVec

	Close() error
}

// WithHandlerFunc is implemented by registries that can expose a scrape
// endpoint. Registries that push rather than get scraped return nil from
// HandlerFunc.
type WithHandlerFunc interface {
	HandlerFunc() http.HandlerFunc
}

type fakeCounterVec func(labelValues ...string) Counter

func (f fakeCounterVec) With(labelValues ...string) Counter { return f(labelValues...) }

// FakeCounterVec adapts a closure into a CounterVec.
func FakeCounterVec(f func(labelValues ...string) Counter) CounterVec { return fakeCounterVec(f) }

type fakeGaugeVec func(labelValues ...string) Gauge

func (f fakeGaugeVec) With(labelValues ...string) Gauge { return f(labelValues...) }

// FakeGaugeVec adapts a closure into a GaugeVec.
func FakeGaugeVec(f func(labelValues ...string) Gauge) GaugeVec { return fakeGaugeVec(f) }

type fakeTimerVec func(labelValues ...string) Timer

func (f fakeTimerVec) With(labelValues ...string) Timer { return f(labelValues...) }

// FakeTimerVec adapts a closure into a TimerVec.
func FakeTimerVec(f func(labelValues ...string) Timer) TimerVec { return fakeTimerVec(f) }
