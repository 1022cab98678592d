package streams

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

var (
	streamMetricsOnce sync.Once
	consumedMessages  otelmetric.Int64Counter
	droppedMessages   otelmetric.Int64Counter
	publishedMessages otelmetric.Int64Counter
)

func initStreamMetrics() {
	meter := otel.Meter("ragchat/queue/streams")
	var err error
	consumedMessages, err = meter.Int64Counter(
		"stream_messages_consumed_total",
		otelmetric.WithDescription("Envelopes decoded from Redis Streams"),
	)
	if err != nil {
		zap.L().Warn("queue streams metrics init", zap.String("instrument", "stream_messages_consumed_total"), zap.Error(err))
	}
	droppedMessages, err = meter.Int64Counter(
		"stream_messages_dropped_total",
		otelmetric.WithDescription("Stream entries acknowledged and dropped as malformed"),
	)
	if err != nil {
		zap.L().Warn("queue streams metrics init", zap.String("instrument", "stream_messages_dropped_total"), zap.Error(err))
	}
	publishedMessages, err = meter.Int64Counter(
		"stream_messages_published_total",
		otelmetric.WithDescription("Envelopes appended to Redis Streams"),
	)
	if err != nil {
		zap.L().Warn("queue streams metrics init", zap.String("instrument", "stream_messages_published_total"), zap.Error(err))
	}
}

func recordCounter(ctx context.Context, counter func() otelmetric.Int64Counter, stream, eventType string) {
	streamMetricsOnce.Do(initStreamMetrics)
	c := counter()
	if c == nil {
		return
	}
	c.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("stream", stream),
		attribute.String("event_type", eventType),
	))
}

func recordConsumed(ctx context.Context, stream, eventType string) {
	recordCounter(ctx, func() otelmetric.Int64Counter { return consumedMessages }, stream, eventType)
}

func recordDropped(ctx context.Context, stream string) {
	recordCounter(ctx, func() otelmetric.Int64Counter { return droppedMessages }, stream, "")
}

func recordPublished(ctx context.Context, stream, eventType string) {
	recordCounter(ctx, func() otelmetric.Int64Counter { return publishedMessages }, stream, eventType)
}
