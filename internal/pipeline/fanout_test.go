package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nplex/streamenrich/internal/model"
)

type capturingSink struct {
	mu        sync.Mutex
	published []model.AttributedData
	failWith  error
}

func (s *capturingSink) Publish(_ context.Context, data model.AttributedData) error {
	if s.failWith != nil {
		return s.failWith
	}
	s.mu.Lock()
	s.published = append(s.published, data)
	s.mu.Unlock()
	return nil
}

func (s *capturingSink) Close(context.Context) error { return nil }

func (s *capturingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.published)
}

func TestFanOutPublishesGoodAndPIIRowsToTheirOwnSinks(t *testing.T) {
	good := &capturingSink{}
	pii := &capturingSink{}
	bad := &capturingSink{}
	sinks := Sinks{Good: good, PII: pii, Bad: bad}

	goodEvent := &model.EnrichedEvent{EventID: "e1", DomainUserID: "u1"}
	piiEvent := &model.EnrichedEvent{EventID: "e1", DomainUserID: "u1"}
	res := model.Result{model.GoodRow(goodEvent, piiEvent)}

	if err := fanOut(context.Background(), sinks, res); err != nil {
		t.Fatalf("fanOut: %v", err)
	}
	if good.count() != 1 {
		t.Fatalf("good sink got %d publishes, want 1", good.count())
	}
	if pii.count() != 1 {
		t.Fatalf("pii sink got %d publishes, want 1", pii.count())
	}
	if bad.count() != 0 {
		t.Fatalf("bad sink got %d publishes, want 0", bad.count())
	}
}

func TestFanOutRoutesBadRowsToBadSinkOnly(t *testing.T) {
	good := &capturingSink{}
	bad := &capturingSink{}
	sinks := Sinks{Good: good, Bad: bad}

	badRow := model.NewBadRow(model.KindGenericError, []byte("raw"), model.Processor{Name: "t"}, "boom")
	res := model.Result{model.BadRowResult(badRow)}

	if err := fanOut(context.Background(), sinks, res); err != nil {
		t.Fatalf("fanOut: %v", err)
	}
	if bad.count() != 1 {
		t.Fatalf("bad sink got %d publishes, want 1", bad.count())
	}
	if good.count() != 0 {
		t.Fatalf("good sink got %d publishes, want 0", good.count())
	}
}

func TestFanOutReturnsErrorWhenAnySinkFails(t *testing.T) {
	failErr := errors.New("sink unavailable")
	good := &capturingSink{failWith: failErr}
	bad := &capturingSink{}
	sinks := Sinks{Good: good, Bad: bad}

	res := model.Result{model.GoodRow(&model.EnrichedEvent{EventID: "e1"}, nil)}

	err := fanOut(context.Background(), sinks, res)
	if err == nil {
		t.Fatalf("expected fanOut to return an error")
	}
	if !errors.Is(err, failErr) {
		t.Fatalf("error = %v, want wrapping %v", err, failErr)
	}
}
