package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
)

// Stdout is a Registry that writes a flushed snapshot of every counter to
// a writer on demand. It carries no background goroutine; Flush must be
// called by something that owns a schedule (the pipeline runtime calls it
// every metric period and once more at shutdown).
type Stdout struct {
	local *Local
	out   io.Writer
}

// NewStdout wraps a Local aggregator with a human-readable Flush.
func NewStdout(out io.Writer) *Stdout {
	return &Stdout{local: NewLocal(), out: out}
}

func (s *Stdout) GetCounter(path string) Counter                    { return s.local.GetCounter(path) }
func (s *Stdout) GetCounterVec(path string, n ...string) CounterVec { return s.local.GetCounterVec(path, n...) }
func (s *Stdout) GetGauge(path string) Gauge                        { return s.local.GetGauge(path) }
func (s *Stdout) GetGaugeVec(path string, n ...string) GaugeVec     { return s.local.GetGaugeVec(path, n...) }
func (s *Stdout) GetTimer(path string) Timer                        { return s.local.GetTimer(path) }
func (s *Stdout) GetTimerVec(path string, n ...string) TimerVec     { return s.local.GetTimerVec(path, n...) }
func (s *Stdout) HandlerFunc() http.HandlerFunc                      { return nil }
func (s *Stdout) Close() error                                       { return s.local.Close() }

// Flush writes the current counters to the configured writer, one path
// per line in sorted order, and resets them.
func (s *Stdout) Flush() error {
	counters := s.local.FlushCounters()
	paths := make([]string, 0, len(counters))
	for p := range counters {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if _, err := fmt.Fprintf(s.out, "%s %d\n", p, counters[p]); err != nil {
			return err
		}
	}
	return nil
}
