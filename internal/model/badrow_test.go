package model

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestNewBadRowBase64EncodesPayload(t *testing.T) {
	raw := []byte{0x00, 0x01, 0x02}
	b := NewBadRow(KindCPFormatViolation, raw, Processor{Name: "streamenrich", Version: "1.0.0"}, "unexpected EOF")

	want := base64.StdEncoding.EncodeToString(raw)
	if b.Payload != want {
		t.Fatalf("payload = %q, want %q", b.Payload, want)
	}
	if b.Kind != KindCPFormatViolation {
		t.Fatalf("kind = %q, want %q", b.Kind, KindCPFormatViolation)
	}
}

func TestBadRowSerializeIsSingleLineJSON(t *testing.T) {
	b := NewBadRow(KindGenericError, []byte("x"), Processor{Name: "streamenrich", Version: "1.0.0"}, "boom")
	line, err := b.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	var round BadRow
	if err := json.Unmarshal(line, &round); err != nil {
		t.Fatalf("round-trip unmarshal: %v", err)
	}
	if round.Kind != KindGenericError {
		t.Fatalf("round-tripped kind = %q, want %q", round.Kind, KindGenericError)
	}
}

func TestNewTruncatedBadRowBoundsPayloadLength(t *testing.T) {
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'a'
	}
	b := NewTruncatedBadRow(KindSizeViolation, string(long), 10, Processor{Name: "streamenrich", Version: "1.0.0"})
	if len(b.Payload) != 10 {
		t.Fatalf("payload len = %d, want 10", len(b.Payload))
	}
}
