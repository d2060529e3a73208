package checkpoint

import "testing"

func TestUncappedResolvesInOrder(t *testing.T) {
	seq := NewUncapped[int]()

	resolveA := seq.Track(1, 1)
	resolveB := seq.Track(2, 1)
	resolveC := seq.Track(3, 1)

	if got := seq.Pending(); got != 3 {
		t.Fatalf("pending = %d, want 3", got)
	}

	// Resolving out of admission order must not advance the checkpoint
	// until the earliest-admitted entry resolves too.
	if got := resolveC(); got != nil {
		t.Fatalf("resolving C early should not yield a checkpoint, got %v", *got)
	}
	if got := resolveB(); got != nil {
		t.Fatalf("resolving B before A should not yield a checkpoint, got %v", *got)
	}

	got := resolveA()
	if got == nil || *got != 3 {
		t.Fatalf("resolving A should unblock the full run, got %v", got)
	}
	if got := seq.Pending(); got != 0 {
		t.Fatalf("pending = %d, want 0", got)
	}
}

func TestUncappedHighestTracksLatestContiguous(t *testing.T) {
	seq := NewUncapped[string]()

	resolveA := seq.Track("a", 1)
	resolveB := seq.Track("b", 1)

	resolveA()
	if got := seq.Highest(); got == nil || *got != "a" {
		t.Fatalf("highest = %v, want a", got)
	}

	resolveB()
	if got := seq.Highest(); got == nil || *got != "b" {
		t.Fatalf("highest = %v, want b", got)
	}
}
