package asyncroutine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestBatcherSerializesConcurrentFetches(t *testing.T) {
	var mu sync.Mutex
	var concurrent, maxConcurrent int

	b, err := NewBatcher[string, string](8, func(_ context.Context, uris []string) ([]string, error) {
		mu.Lock()
		concurrent++
		if concurrent > maxConcurrent {
			maxConcurrent = concurrent
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		out := make([]string, len(uris))
		for i, u := range uris {
			out[i] = strings.ToUpper(u)
		}

		mu.Lock()
		concurrent--
		mu.Unlock()
		return out, nil
	})
	if err != nil {
		t.Fatalf("NewBatcher: %v", err)
	}
	defer b.Close()

	var wg sync.WaitGroup
	results := make([]string, 4)
	for i, uri := range []string{"geo.mmdb", "ua.yaml", "geo.mmdb", "iab.yaml"} {
		wg.Add(1)
		go func(i int, uri string) {
			defer wg.Done()
			resp, err := b.Submit(context.Background(), uri)
			if err != nil {
				t.Errorf("Submit: %v", err)
				return
			}
			results[i] = resp
		}(i, uri)
	}
	wg.Wait()

	if results[0] != "GEO.MMDB" || results[3] != "IAB.YAML" {
		t.Fatalf("unexpected results: %v", results)
	}

	mu.Lock()
	defer mu.Unlock()
	if maxConcurrent > 1 {
		t.Fatalf("fetches ran concurrently (max=%d), want serialized", maxConcurrent)
	}
}

func TestBatcherRejectsInvalidBatchSize(t *testing.T) {
	if _, err := NewBatcher[int, int](0, nil); err == nil {
		t.Fatalf("expected error for zero batch size")
	}
}
