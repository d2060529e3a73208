package metrics

import "net/http"

// Multi fans a single pipeline metric series out to every configured
// backend registry, so a deployment can report to, say, statsd and
// stdout at once without the pipeline ever knowing how many backends
// are wired behind the one *Pipeline it was handed.
type Multi struct {
	registries []Registry
}

// NewMulti wraps one or more registries as a single Registry.
func NewMulti(registries ...Registry) *Multi {
	return &Multi{registries: registries}
}

type multiCounter []Counter

func (m multiCounter) Incr(count int64) {
	for _, c := range m {
		c.Incr(count)
	}
}

type multiGauge []Gauge

func (m multiGauge) Set(value int64) {
	for _, g := range m {
		g.Set(value)
	}
}

type multiTimer []Timer

func (m multiTimer) Timing(delta int64) {
	for _, t := range m {
		t.Timing(delta)
	}
}

func (m *Multi) GetCounter(path string) Counter {
	out := make(multiCounter, 0, len(m.registries))
	for _, r := range m.registries {
		out = append(out, r.GetCounter(path))
	}
	return out
}

func (m *Multi) GetCounterVec(path string, labelNames ...string) CounterVec {
	vecs := make([]CounterVec, 0, len(m.registries))
	for _, r := range m.registries {
		vecs = append(vecs, r.GetCounterVec(path, labelNames...))
	}
	return FakeCounterVec(func(values ...string) Counter {
		out := make(multiCounter, 0, len(vecs))
		for _, v := range vecs {
			out = append(out, v.With(values...))
		}
		return out
	})
}

func (m *Multi) GetGauge(path string) Gauge {
	out := make(multiGauge, 0, len(m.registries))
	for _, r := range m.registries {
		out = append(out, r.GetGauge(path))
	}
	return out
}

func (m *Multi) GetGaugeVec(path string, labelNames ...string) GaugeVec {
	vecs := make([]GaugeVec, 0, len(m.registries))
	for _, r := range m.registries {
		vecs = append(vecs, r.GetGaugeVec(path, labelNames...))
	}
	return FakeGaugeVec(func(values ...string) Gauge {
		out := make(multiGauge, 0, len(vecs))
		for _, v := range vecs {
			out = append(out, v.With(values...))
		}
		return out
	})
}

func (m *Multi) GetTimer(path string) Timer {
	out := make(multiTimer, 0, len(m.registries))
	for _, r := range m.registries {
		out = append(out, r.GetTimer(path))
	}
	return out
}

func (m *Multi) GetTimerVec(path string, labelNames ...string) TimerVec {
	vecs := make([]TimerVec, 0, len(m.registries))
	for _, r := range m.registries {
		vecs = append(vecs, r.GetTimerVec(path, labelNames...))
	}
	return FakeTimerVec(func(values ...string) Timer {
		out := make(multiTimer, 0, len(vecs))
		for _, v := range vecs {
			out = append(out, v.With(values...))
		}
		return out
	})
}

// HandlerFunc always returns nil: a Multi fans out to push-style and
// pull-style backends alike, and has no single scrape endpoint of its
// own to expose.
func (m *Multi) HandlerFunc() http.HandlerFunc { return nil }

func (m *Multi) Close() error {
	var firstErr error
	for _, r := range m.registries {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
