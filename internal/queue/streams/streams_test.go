package streams

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newStreamsClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newRegistry(t *testing.T) *SchemaRegistry {
	t.Helper()
	reg := NewSchemaRegistry()
	if err := RegisterBaseSchemas(reg); err != nil {
		t.Fatalf("register schemas: %v", err)
	}
	return reg
}

func TestPublishAndRead(t *testing.T) {
	ctx := context.Background()
	client := newStreamsClient(t)
	reg := newRegistry(t)

	if err := EnsureGroup(ctx, client, "articles", "index"); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	if err := EnsureGroup(ctx, client, "articles", "index"); err != nil {
		t.Fatalf("ensure group twice: %v", err)
	}

	pub := NewPublisher(client, reg)
	payload := map[string]interface{}{"article_id": 21, "title": "Go", "content": "body"}
	if _, err := pub.PublishRaw(ctx, "articles", EventArticleUpdated, PayloadV1, payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	consumer := NewConsumer(client, reg, "index", "worker-1")
	msgs, err := consumer.Read(ctx, "articles", WithCount(10))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	env := msgs[0].Envelope
	if env.EventType != EventArticleUpdated || env.EventID == "" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	var decoded struct {
		ArticleID int64 `json:"article_id"`
	}
	if err := env.DecodeData(&decoded); err != nil || decoded.ArticleID != 21 {
		t.Fatalf("decode data: %v %+v", err, decoded)
	}
	if err := consumer.Ack(ctx, "articles", msgs[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
}

func TestPublishRejectsInvalidPayload(t *testing.T) {
	client := newStreamsClient(t)
	pub := NewPublisher(client, newRegistry(t))
	_, err := pub.PublishRaw(context.Background(), "articles", EventArticleDeleted, PayloadV1, map[string]string{"id": "x"})
	if err == nil {
		t.Fatalf("expected schema rejection")
	}
}

func TestReadDropsMalformedEntries(t *testing.T) {
	ctx := context.Background()
	client := newStreamsClient(t)
	reg := newRegistry(t)
	if err := EnsureGroup(ctx, client, "articles", "index"); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	if err := client.XAdd(ctx, &redis.XAddArgs{Stream: "articles", Values: map[string]interface{}{"envelope": "not json"}}).Err(); err != nil {
		t.Fatalf("xadd: %v", err)
	}
	if err := client.XAdd(ctx, &redis.XAddArgs{Stream: "articles", Values: map[string]interface{}{"other": "field"}}).Err(); err != nil {
		t.Fatalf("xadd: %v", err)
	}

	consumer := NewConsumer(client, reg, "index", "worker-1")
	var dropped []error
	consumer.OnDrop(func(stream, id string, err error) {
		dropped = append(dropped, err)
	})
	msgs, err := consumer.Read(ctx, "articles", WithCount(10))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected malformed entries to be dropped, got %d", len(msgs))
	}
	if len(dropped) != 2 {
		t.Fatalf("expected 2 drop callbacks, got %d", len(dropped))
	}
	for _, err := range dropped {
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("expected ErrMalformed, got %v", err)
		}
	}
	pending, err := client.XPending(ctx, "articles", "index").Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected dropped entries to be acked, %d pending", pending.Count)
	}
}

func TestAutoClaimRedelivers(t *testing.T) {
	ctx := context.Background()
	client := newStreamsClient(t)
	reg := newRegistry(t)
	if err := EnsureGroup(ctx, client, "articles", "index"); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	pub := NewPublisher(client, reg)
	if _, err := pub.PublishRaw(ctx, "articles", EventArticleDeleted, PayloadV1, map[string]int{"article_id": 3}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	first := NewConsumer(client, reg, "index", "worker-1")
	if msgs, err := first.Read(ctx, "articles"); err != nil || len(msgs) != 1 {
		t.Fatalf("first read: %v (%d)", err, len(msgs))
	}

	second := NewConsumer(client, reg, "index", "worker-2")
	msgs, _, err := second.AutoClaim(ctx, "articles", 0, "0-0", 10)
	if err != nil {
		t.Fatalf("autoclaim: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Envelope.EventType != EventArticleDeleted {
		t.Fatalf("expected unacked message to be reclaimed, got %+v", msgs)
	}
}

func TestEnvelopeValidateBasic(t *testing.T) {
	env := Envelope{EventID: "e", EventType: EventArticleDeleted, PayloadVersion: PayloadV1}
	if err := env.ValidateBasic(); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected missing data to be malformed, got %v", err)
	}
	env.Data = []byte(`{"article_id": 1}`)
	if err := env.ValidateBasic(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.OccurredAt.IsZero() || time.Since(env.OccurredAt) > time.Minute {
		t.Fatalf("expected occurred_at to be defaulted")
	}
}
