// Package model holds the data types that flow through the pipeline:
// raw records pulled from the source, the decoded collector payload, the
// canonical enriched event, bad rows, and the result list a single raw
// record expands into.
package model

import "context"

// AckFunc commits progress past the record it was issued for. It must be
// idempotent: calling it more than once has the same effect as calling it
// once, and callers must tolerate being called from any goroutine.
type AckFunc func(ctx context.Context, err error) error

// RawRecord is an opaque byte payload pulled from the source, paired with
// the ack handle that commits the source's read cursor past it. The
// runtime assigns no identity to a RawRecord beyond this pairing; ordering,
// if any, is the source implementation's concern.
type RawRecord struct {
	Bytes []byte
	Ack   AckFunc

	// Sequence is a monotonic number the source assigns on admission, used
	// only by the pipeline's ordered-mode reorder buffer. Sources that
	// don't support ordered mode may leave it zero.
	Sequence uint64
}
