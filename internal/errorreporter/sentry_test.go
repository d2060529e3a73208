package errorreporter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/mock"
)

var argEvent = mock.AnythingOfType("*sentry.Event")

type mockTransport struct {
	mock.Mock
}

func (t *mockTransport) Flush(timeout time.Duration) bool {
	args := t.Called(timeout)
	return args.Bool(0)
}

func (t *mockTransport) Configure(options sentry.ClientOptions) {
	t.Called(options)
}

func (t *mockTransport) SendEvent(event *sentry.Event) {
	t.Called(event)
}

func (t *mockTransport) Close() {
	t.Called()
}

func withTransport(tr sentry.Transport) ClientOptionsFunc {
	return func(o *sentry.ClientOptions) *sentry.ClientOptions {
		o.Transport = tr
		return o
	}
}

func TestSentryReportSendsEventWhenSamplingRatePositive(t *testing.T) {
	tr := &mockTransport{}
	tr.On("Configure", mock.Anything).Return()
	tr.On("SendEvent", argEvent).Return()
	tr.On("Flush", mock.Anything).Return(true)
	tr.On("Close").Return()

	r, err := NewSentry(SentryConfig{DSN: "https://public@example.com/1", SamplingRate: 1}, "1.0.0", withTransport(tr))
	if err != nil {
		t.Fatalf("NewSentry: %v", err)
	}

	r.Report(context.Background(), Exception{
		Component: "sink",
		Message:   "publish failed",
		Err:       errors.New("throughput exceeded"),
		Tags:      map[string]string{"shard": "0001"},
	})

	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	tr.AssertExpectations(t)
}

func TestSentryReportSkipsWhenSamplingRateZero(t *testing.T) {
	tr := &mockTransport{}
	tr.On("Configure", mock.Anything).Return()
	tr.On("Flush", mock.Anything).Return(true)
	tr.On("Close").Return()

	r, err := NewSentry(SentryConfig{DSN: "https://public@example.com/1", SamplingRate: 0}, "1.0.0", withTransport(tr))
	if err != nil {
		t.Fatalf("NewSentry: %v", err)
	}

	r.Report(context.Background(), Exception{Component: "sink", Message: "should not send"})
	_ = r.Close(context.Background())

	tr.AssertNotCalled(t, "SendEvent", mock.Anything)
}
