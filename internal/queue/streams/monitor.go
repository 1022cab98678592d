package streams

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LagMetrics captures backlog and pending state for a consumer group.
type LagMetrics struct {
	Pending    int64
	Lag        int64
	Consumers  int64
	OldestIdle time.Duration
}

// GroupLag returns lag metrics for stream/group. Lag is -1 when the group is unknown.
func GroupLag(ctx context.Context, client *redis.Client, stream, group string) (LagMetrics, error) {
	if client == nil {
		return LagMetrics{}, fmt.Errorf("redis client is nil")
	}
	if stream == "" || group == "" {
		return LagMetrics{}, fmt.Errorf("stream and group are required")
	}

	groups, err := client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		return LagMetrics{}, fmt.Errorf("xinfo groups: %w", err)
	}
	metrics := LagMetrics{Lag: -1}
	for _, info := range groups {
		if info.Name != group {
			continue
		}
		metrics.Pending = info.Pending
		metrics.Lag = info.Lag
		metrics.Consumers = int64(info.Consumers)
		break
	}

	if metrics.Pending > 0 {
		entries, err := client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  group,
			Start:  "-",
			End:    "+",
			Count:  1,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return LagMetrics{}, fmt.Errorf("xpendingext: %w", err)
		}
		if len(entries) > 0 {
			metrics.OldestIdle = entries[0].Idle
		}
	}
	return metrics, nil
}

// WatchLag logs the group's lag every interval until ctx is done.
func (c *Consumer) WatchLag(ctx context.Context, stream string, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m, err := c.LagMetrics(ctx, stream)
			if err != nil {
				logger.Warn("stream lag", zap.String("stream", stream), zap.String("group", c.group), zap.Error(err))
				continue
			}
			logger.Info("stream lag",
				zap.String("stream", stream),
				zap.String("group", c.group),
				zap.Int64("pending", m.Pending),
				zap.Int64("lag", m.Lag),
				zap.Duration("oldest_idle", m.OldestIdle),
			)
		}
	}
}
