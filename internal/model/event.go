package model

import "strings"

// EnrichedEvent is the canonical flat event record. Every field is an
// optional string; a later enrichment is free to overwrite a field an
// earlier one already set. fieldOrder fixes the column order used by
// Serialize and must never be reordered without a corresponding change to
// any downstream consumer of the tab-separated output.
//
// The canonical model a full deployment of this pipeline carries has on
// the order of a hundred columns (event/app identifiers, collector
// context, page/referer/marketing fields, geo lookup results, user-agent
// parse results, and a handful of derived-context slots). This struct
// carries a representative subset spanning every category; adding a
// column is a matter of appending a field and a fieldOrder entry, not a
// structural change.
type EnrichedEvent struct {
	// Event/app identity
	EventID          string
	EventFingerprint string
	AppID            string
	Platform         string
	ETLTstamp        string
	CollectorTstamp  string
	DVCECreatedTstamp string
	EventName        string
	TrueTstamp       string

	// Tracker/collector context
	TrackerVersion   string
	CollectorVersion string
	NameTracker      string
	DomainUserID     string
	DomainSessionID  string
	NetworkUserID    string
	UserID           string
	UserIPAddress    string
	UserFingerprint  string
	VisitCount       string

	// Page/referer
	PageURL       string
	PageTitle     string
	PageReferrer  string
	RefrDomainUserID string
	MktMedium     string
	MktSource     string
	MktTerm       string
	MktContent    string
	MktCampaign   string

	// Geo (populated by a geo-lookup enrichment)
	GeoCountry  string
	GeoRegion   string
	GeoCity     string
	GeoZipcode  string
	GeoLatitude string
	GeoLongitude string
	GeoTimezone string

	// User agent (populated by a user-agent-parse enrichment)
	UseragentFamily  string
	UseragentMajor   string
	UseragentMinor   string
	OSFamily         string
	OSManufacturer   string
	DeviceFamily     string

	// Derived/self-describing contexts attached by enrichments that don't
	// map onto a named canonical column. Serialized as a single JSON-array
	// column, matching the canonical model's "contexts" column.
	DerivedContexts string
}

// fieldOrder fixes the TSV column order. Every exported string field on
// EnrichedEvent must appear here exactly once.
var fieldOrder = []func(*EnrichedEvent) *string{
	func(e *EnrichedEvent) *string { return &e.EventID },
	func(e *EnrichedEvent) *string { return &e.EventFingerprint },
	func(e *EnrichedEvent) *string { return &e.AppID },
	func(e *EnrichedEvent) *string { return &e.Platform },
	func(e *EnrichedEvent) *string { return &e.ETLTstamp },
	func(e *EnrichedEvent) *string { return &e.CollectorTstamp },
	func(e *EnrichedEvent) *string { return &e.DVCECreatedTstamp },
	func(e *EnrichedEvent) *string { return &e.EventName },
	func(e *EnrichedEvent) *string { return &e.TrueTstamp },
	func(e *EnrichedEvent) *string { return &e.TrackerVersion },
	func(e *EnrichedEvent) *string { return &e.CollectorVersion },
	func(e *EnrichedEvent) *string { return &e.NameTracker },
	func(e *EnrichedEvent) *string { return &e.DomainUserID },
	func(e *EnrichedEvent) *string { return &e.DomainSessionID },
	func(e *EnrichedEvent) *string { return &e.NetworkUserID },
	func(e *EnrichedEvent) *string { return &e.UserID },
	func(e *EnrichedEvent) *string { return &e.UserIPAddress },
	func(e *EnrichedEvent) *string { return &e.UserFingerprint },
	func(e *EnrichedEvent) *string { return &e.VisitCount },
	func(e *EnrichedEvent) *string { return &e.PageURL },
	func(e *EnrichedEvent) *string { return &e.PageTitle },
	func(e *EnrichedEvent) *string { return &e.PageReferrer },
	func(e *EnrichedEvent) *string { return &e.RefrDomainUserID },
	func(e *EnrichedEvent) *string { return &e.MktMedium },
	func(e *EnrichedEvent) *string { return &e.MktSource },
	func(e *EnrichedEvent) *string { return &e.MktTerm },
	func(e *EnrichedEvent) *string { return &e.MktContent },
	func(e *EnrichedEvent) *string { return &e.MktCampaign },
	func(e *EnrichedEvent) *string { return &e.GeoCountry },
	func(e *EnrichedEvent) *string { return &e.GeoRegion },
	func(e *EnrichedEvent) *string { return &e.GeoCity },
	func(e *EnrichedEvent) *string { return &e.GeoZipcode },
	func(e *EnrichedEvent) *string { return &e.GeoLatitude },
	func(e *EnrichedEvent) *string { return &e.GeoLongitude },
	func(e *EnrichedEvent) *string { return &e.GeoTimezone },
	func(e *EnrichedEvent) *string { return &e.UseragentFamily },
	func(e *EnrichedEvent) *string { return &e.UseragentMajor },
	func(e *EnrichedEvent) *string { return &e.UseragentMinor },
	func(e *EnrichedEvent) *string { return &e.OSFamily },
	func(e *EnrichedEvent) *string { return &e.OSManufacturer },
	func(e *EnrichedEvent) *string { return &e.DeviceFamily },
	func(e *EnrichedEvent) *string { return &e.DerivedContexts },
}

// Serialize renders the event as a single tab-separated UTF-8 line, with
// columns in fieldOrder. Tab and newline bytes embedded in a field value
// are replaced with a space, since they would otherwise corrupt the
// column boundary.
func (e *EnrichedEvent) Serialize() []byte {
	cols := make([]string, len(fieldOrder))
	for i, f := range fieldOrder {
		cols[i] = sanitizeColumn(*f(e))
	}
	return []byte(strings.Join(cols, "\t"))
}

func sanitizeColumn(v string) string {
	if !strings.ContainsAny(v, "\t\n\r") {
		return v
	}
	v = strings.ReplaceAll(v, "\t", " ")
	v = strings.ReplaceAll(v, "\n", " ")
	v = strings.ReplaceAll(v, "\r", " ")
	return v
}

// piiFields names the subset of columns the PII-extraction enrichment is
// permitted to mark as personally identifying for the derived PII event.
// The real field-by-field decision is the PII enrichment's contract
// (§9 open question); this registry exists so the dispatcher can ask
// "did this event carry anything worth splitting out" without depending
// on the enrichment's internal logic.
var piiFields = map[string]func(*EnrichedEvent) string{
	"user_ipaddress":    func(e *EnrichedEvent) string { return e.UserIPAddress },
	"domain_userid":     func(e *EnrichedEvent) string { return e.DomainUserID },
	"network_userid":    func(e *EnrichedEvent) string { return e.NetworkUserID },
	"user_fingerprint":  func(e *EnrichedEvent) string { return e.UserFingerprint },
	"user_id":           func(e *EnrichedEvent) string { return e.UserID },
	"page_url":          func(e *EnrichedEvent) string { return e.PageURL },
	"page_referrer":     func(e *EnrichedEvent) string { return e.PageReferrer },
}

// ExtractPII builds a PII event from e's currently-populated PII fields.
// It returns false if none of the marked fields carry a value, per the
// contract "produce zero-or-one derived event".
func (e *EnrichedEvent) ExtractPII() (*EnrichedEvent, bool) {
	pii := &EnrichedEvent{
		EventID:         e.EventID,
		EventFingerprint: e.EventFingerprint,
		CollectorTstamp: e.CollectorTstamp,
	}

	var any bool
	for name, get := range piiFields {
		if v := get(e); v != "" {
			any = true
			setPIIField(pii, name, v)
		}
	}
	if !any {
		return nil, false
	}
	return pii, true
}

func setPIIField(e *EnrichedEvent, name, value string) {
	switch name {
	case "user_ipaddress":
		e.UserIPAddress = value
	case "domain_userid":
		e.DomainUserID = value
	case "network_userid":
		e.NetworkUserID = value
	case "user_fingerprint":
		e.UserFingerprint = value
	case "user_id":
		e.UserID = value
	case "page_url":
		e.PageURL = value
	case "page_referrer":
		e.PageReferrer = value
	}
}
