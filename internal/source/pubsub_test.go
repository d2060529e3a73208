package source

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"

	"github.com/nplex/streamenrich/internal/log"
	"github.com/nplex/streamenrich/internal/model"
)

func TestPubSubSourceDeliversPublishedMessage(t *testing.T) {
	srv := pstest.NewServer()
	t.Cleanup(func() { srv.Close() })

	dial := func(t *testing.T) *grpc.ClientConn {
		t.Helper()
		conn, err := grpc.Dial(srv.Addr, grpc.WithInsecure())
		if err != nil {
			t.Fatalf("failed to dial pstest server: %v", err)
		}
		t.Cleanup(func() { conn.Close() })
		return conn
	}

	ctx := context.Background()
	setupClient, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(dial(t)))
	if err != nil {
		t.Fatalf("failed to build setup client: %v", err)
	}
	topic, err := setupClient.CreateTopic(ctx, "events")
	if err != nil {
		t.Fatalf("failed to create topic: %v", err)
	}
	if _, err := setupClient.CreateSubscription(ctx, "sub", pubsub.SubscriptionConfig{Topic: topic}); err != nil {
		t.Fatalf("failed to create subscription: %v", err)
	}
	res := topic.Publish(ctx, &pubsub.Message{Data: []byte("hello")})
	if _, err := res.Get(ctx); err != nil {
		t.Fatalf("failed to publish seed message: %v", err)
	}
	setupClient.Close()

	srcClient, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(dial(t)))
	if err != nil {
		t.Fatalf("failed to build source client: %v", err)
	}

	src := &PubSub{
		cfg:     PubSubConfig{Subscription: "sub"}.withDefaults(),
		client:  srcClient,
		log:     log.Noop{},
		msgChan: make(chan model.RawRecord, 8),
		done:    make(chan struct{}),
	}
	if err := src.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rec, err := src.Read(readCtx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(rec.Bytes) != "hello" {
		t.Fatalf("Bytes = %q, want hello", rec.Bytes)
	}
	if err := rec.Ack(ctx, nil); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	_ = src.Close(ctx)
}
