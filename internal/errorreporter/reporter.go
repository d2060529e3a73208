// Package errorreporter holds the Metrics & Error Reporter's (C6)
// exception sink: dispatcher panics, asset fetch failures and fatal
// runtime errors are reported through a Reporter rather than logged ad hoc
// (bad rows go to the bad sink, not here), so the pipeline
// runtime can swap a no-op reporter in for tests without touching any
// other component.
package errorreporter

import "context"

// Exception describes a single processing fault worth surfacing to an
// error-tracking service. Component identifies the stage that raised it
// (source, enrich, sink, assetmgr); Tags carries low-cardinality context
// (shard id, sink name) safe to index.
type Exception struct {
	Component string
	Message   string
	Err       error
	Tags      map[string]string
}

// Reporter captures Exceptions and forwards them to an error-tracking
// backend.
type Reporter interface {
	Report(ctx context.Context, exc Exception)
	Close(ctx context.Context) error
}

// Noop discards every exception. Used by tests and by deployments that
// opt out of exception tracking in their config.
type Noop struct{}

func (Noop) Report(context.Context, Exception) {}
func (Noop) Close(context.Context) error        { return nil }
