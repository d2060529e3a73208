package decoder

import (
	"bytes"
	"context"

	"github.com/nplex/streamenrich/internal/model"
)

// JSONLines is a minimal reference Decoder: it treats each raw record as
// one or more newline-separated, already-JSON-encoded logical events and
// wraps them in a CollectorPayload with no collector-attached context.
// It exists so this module is runnable end to end (the dry-run
// subcommand, local smoke tests) without a real upstream collector wire
// format to decode; a deployment with an actual binary collector payload
// format implements Decoder itself and passes it to environment.Build in
// place of this one.
type JSONLines struct{}

// NewJSONLines builds a JSONLines Decoder. It never fails to construct.
func NewJSONLines() JSONLines { return JSONLines{} }

func (JSONLines) Decode(_ context.Context, raw []byte) (*model.CollectorPayload, error) {
	lines := bytes.Split(bytes.TrimSpace(raw), []byte("\n"))
	events := make([][]byte, 0, len(lines))
	for _, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		events = append(events, line)
	}
	return &model.CollectorPayload{Events: events}, nil
}
