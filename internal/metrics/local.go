package metrics

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

const tagEncodingSeparator = ","

type localStat struct {
	value *int64
}

func (l *localStat) Incr(count int64) { atomic.AddInt64(l.value, count) }
func (l *localStat) Set(value int64)  { atomic.StoreInt64(l.value, value) }

type localTiming struct {
	t    gometrics.Timer
	lock sync.Mutex
}

func (l *localTiming) Timing(delta int64) {
	l.lock.Lock()
	l.t.Update(time.Duration(delta))
	l.lock.Unlock()
}

// Local aggregates counters, gauges and timers in process memory. The
// environment falls back to it when no metrics backend is configured, and
// tests use it, so a statsd or CloudWatch endpoint is not a prerequisite
// for exercising the pipeline.
type Local struct {
	flatCounters map[string]*localStat
	flatTimings  map[string]*localTiming

	mut sync.Mutex
}

// NewLocal creates an empty in-memory Registry.
func NewLocal() *Local {
	return &Local{
		flatCounters: make(map[string]*localStat),
		flatTimings:  make(map[string]*localTiming),
	}
}

// FlushCounters returns the current counter values and resets them to 0.
func (l *Local) FlushCounters() map[string]int64 {
	l.mut.Lock()
	defer l.mut.Unlock()
	out := make(map[string]int64, len(l.flatCounters))
	for k, v := range l.flatCounters {
		out[k] = atomic.LoadInt64(v.value)
		atomic.StoreInt64(v.value, 0)
	}
	return out
}

// GetCounters returns a snapshot of the current counter values.
func (l *Local) GetCounters() map[string]int64 {
	l.mut.Lock()
	defer l.mut.Unlock()
	out := make(map[string]int64, len(l.flatCounters))
	for k, v := range l.flatCounters {
		out[k] = atomic.LoadInt64(v.value)
	}
	return out
}

func createLabelledPath(name string, tagNames, tagValues []string) string {
	if len(tagNames) == 0 {
		return name
	}

	b := &strings.Builder{}
	b.WriteString(name)

	if len(tagNames) == len(tagValues) {
		tags := make(map[string]string, len(tagNames))
		for i, n := range tagNames {
			tags[n] = tagValues[i]
		}

		sortedTagNames := make([]string, len(tagNames))
		copy(sortedTagNames, tagNames)
		sort.Strings(sortedTagNames)

		b.WriteByte('{')
		for i, n := range sortedTagNames {
			if i > 0 {
				b.WriteString(tagEncodingSeparator)
			}
			b.WriteString(n)
			b.WriteString("=")
			b.WriteString(strconv.QuoteToASCII(tags[n]))
		}
		b.WriteByte('}')
	}
	return b.String()
}

func (l *Local) GetCounter(path string) Counter {
	return l.GetCounterVec(path).With()
}

func (l *Local) GetCounterVec(path string, k ...string) CounterVec {
	return FakeCounterVec(func(v ...string) Counter {
		newPath := createLabelledPath(path, k, v)
		l.mut.Lock()
		defer l.mut.Unlock()
		st, exists := l.flatCounters[newPath]
		if !exists {
			var i int64
			st = &localStat{value: &i}
			l.flatCounters[newPath] = st
		}
		return st
	})
}

func (l *Local) GetGauge(path string) Gauge {
	return l.GetGaugeVec(path).With()
}

func (l *Local) GetGaugeVec(path string, k ...string) GaugeVec {
	return FakeGaugeVec(func(v ...string) Gauge {
		newPath := createLabelledPath(path, k, v)
		l.mut.Lock()
		defer l.mut.Unlock()
		st, exists := l.flatCounters[newPath]
		if !exists {
			var i int64
			st = &localStat{value: &i}
			l.flatCounters[newPath] = st
		}
		return st
	})
}

func (l *Local) GetTimer(path string) Timer {
	return l.GetTimerVec(path).With()
}

func (l *Local) GetTimerVec(path string, k ...string) TimerVec {
	return FakeTimerVec(func(v ...string) Timer {
		newPath := createLabelledPath(path, k, v)
		l.mut.Lock()
		defer l.mut.Unlock()
		st, exists := l.flatTimings[newPath]
		if !exists {
			st = &localTiming{t: gometrics.NewTimer()}
			l.flatTimings[newPath] = st
		}
		return st
	})
}

func (l *Local) HandlerFunc() http.HandlerFunc { return nil }

func (l *Local) Close() error { return nil }
