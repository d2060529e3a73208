package schemaregistry

import "testing"

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestNewClientOptionalReturnsNilWithoutConfig(t *testing.T) {
	client, err := NewClientOptional(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client != nil {
		t.Fatalf("expected nil client")
	}

	client, err = NewClientOptional(&Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client != nil {
		t.Fatalf("expected nil client for empty url")
	}
}

func TestNewClientOptionalBuildsClientWhenURLSet(t *testing.T) {
	client, err := NewClientOptional(&Config{URL: "http://localhost:8081"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client == nil {
		t.Fatalf("expected non-nil client")
	}
}
