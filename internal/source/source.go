// Package source pulls raw records from an upstream broker and hands
// them out one model.RawRecord per Read call, each paired with an idempotent ack
// handle. Implementations own their own checkpoint coordination; the
// pipeline runtime treats ack as fire-and-forget.
package source

import (
	"context"
	"errors"

	"github.com/nplex/streamenrich/internal/model"
)

// InitialPosition selects where a Source with no prior checkpoint starts
// consuming from.
type InitialPosition string

// Recognised initial positions, per §6.
const (
	InitialPositionTrimHorizon InitialPosition = "TRIM_HORIZON"
	InitialPositionLatest      InitialPosition = "LATEST"
)

// ErrClosed is returned by Read once the source has been closed, either by
// the caller or because the upstream cursor itself was closed.
var ErrClosed = errors.New("source: closed")

// Source produces a lazy, finite-or-infinite sequence of raw records. Read
// blocks until a record is available, the source is closed, or ctx is
// cancelled.
type Source interface {
	// Connect establishes the upstream connection. Called once before the
	// first Read.
	Connect(ctx context.Context) error
	// Read blocks for the next record. Returns ErrClosed once the source
	// has no more records to produce.
	Read(ctx context.Context) (model.RawRecord, error)
	// Close releases broker resources. Any buffered records are
	// discarded; their acks will never fire.
	Close(ctx context.Context) error
}
