package model

import "time"

// CollectorPayload is the decoded structured form of a raw record: zero
// or more logical events plus the context the collector attached at
// ingestion time. It is produced by the external Decoder and is opaque to
// the dispatcher beyond this shape.
type CollectorPayload struct {
	CollectorTimestamp time.Time
	SourceIP           string
	Headers            []string
	UserAgent          string

	// Events carries one JSON-encoded logical event per collector hit. A
	// batched payload (e.g. multiple tracked events posted in one HTTP
	// request) expands to more than one entry.
	Events [][]byte
}
