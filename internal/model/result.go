package model

// Row is either a good enriched event, optionally paired with its derived
// PII event, or a bad row. Either Bad is non-nil, or Good is non-nil and
// PII may be set alongside it.
type Row struct {
	Good *EnrichedEvent
	PII  *EnrichedEvent
	Bad  *BadRow
}

// GoodRow wraps a successfully enriched event, optionally paired with its
// derived PII event.
func GoodRow(good *EnrichedEvent, pii *EnrichedEvent) Row {
	return Row{Good: good, PII: pii}
}

// BadRowResult wraps a failed row.
func BadRowResult(b BadRow) Row {
	return Row{Bad: &b}
}

// Result is the ordered list of rows one raw record expands into. A
// batched collector payload yields one row per logical event (good or
// bad); a single decode failure yields exactly one bad row.
type Result []Row

// Counts tallies how many rows in the result are good, pii-bearing, and
// bad, for metrics reporting.
func (r Result) Counts() (good, pii, bad int) {
	for _, row := range r {
		switch {
		case row.Good != nil:
			good++
			if row.PII != nil {
				pii++
			}
		case row.Bad != nil:
			bad++
		}
	}
	return
}
