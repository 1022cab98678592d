package reindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/ragchat/config"
	"github.com/mohammad-safakhou/ragchat/internal/queue/streams"
	"github.com/mohammad-safakhou/ragchat/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Route binds one stream to one consumer group.
type Route struct {
	Stream string
	Group  string
}

type routeState struct {
	Route
	consumer    *streams.Consumer
	reclaimFrom string
	lastReclaim time.Time
}

// Runner drives the pipeline from Redis Streams. Index routes are
// at-least-once: failed events stay pending and are reclaimed after
// ReclaimIdle. Summary routes ack every event.
type Runner struct {
	pipeline *Pipeline
	client   *redis.Client
	registry *streams.SchemaRegistry
	cfg      config.ReindexConfig
	logger   *zap.Logger
	routes   []*routeState
}

func NewRunner(p *Pipeline, client *redis.Client, registry *streams.SchemaRegistry, cfg config.ReindexConfig, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{pipeline: p, client: client, registry: registry, cfg: cfg, logger: logger}
	routes := []Route{
		{Stream: cfg.UpdatedStream, Group: cfg.IndexGroup},
		{Stream: cfg.DeletedStream, Group: cfg.IndexGroup},
	}
	if p.SummariesEnabled() {
		routes = append(routes, Route{Stream: cfg.UpdatedStream, Group: cfg.SummaryGroup})
	}
	for _, rt := range routes {
		cons := streams.NewConsumer(client, registry, rt.Group, cfg.ConsumerName)
		stream := rt.Stream
		cons.OnDrop(func(_ string, id string, err error) {
			telemetry.ReindexEvents.WithLabelValues(stream, "dropped").Inc()
			logger.Warn("dropping malformed event", zap.String("stream", stream), zap.String("id", id), zap.Error(err))
		})
		r.routes = append(r.routes, &routeState{Route: rt, consumer: cons, reclaimFrom: "0-0"})
	}
	return r
}

// Routes lists the stream/group pairs the runner consumes.
func (r *Runner) Routes() []Route {
	out := make([]Route, len(r.routes))
	for i, rs := range r.routes {
		out[i] = rs.Route
	}
	return out
}

// EnsureGroups creates every consumer group the runner reads from.
func (r *Runner) EnsureGroups(ctx context.Context) error {
	for _, rs := range r.routes {
		if err := streams.EnsureGroup(ctx, r.client, rs.Stream, rs.Group); err != nil {
			return fmt.Errorf("ensure group %s on %s: %w", rs.Group, rs.Stream, err)
		}
	}
	return nil
}

// Start blocks, consuming every route until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.EnsureGroups(ctx); err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, rs := range r.routes {
		rs := rs
		r.logger.Info("consuming stream", zap.String("stream", rs.Stream), zap.String("group", rs.Group))
		g.Go(func() error {
			go rs.consumer.WatchLag(ctx, rs.Stream, 5*time.Minute, r.logger)
			for {
				select {
				case <-ctx.Done():
					return nil
				default:
				}
				if _, err := r.poll(ctx, rs); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					r.logger.Error("read stream", zap.String("stream", rs.Stream), zap.String("group", rs.Group), zap.Error(err))
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(time.Second):
					}
				}
			}
		})
	}
	err := g.Wait()
	r.logger.Info("reindex runner stopped")
	return err
}

// Poll runs a single reclaim-and-read cycle on every route and returns the
// number of events handled.
func (r *Runner) Poll(ctx context.Context) (int, error) {
	total := 0
	for _, rs := range r.routes {
		n, err := r.poll(ctx, rs)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (r *Runner) poll(ctx context.Context, rs *routeState) (int, error) {
	handled := 0
	if r.cfg.ReclaimIdle > 0 && time.Since(rs.lastReclaim) >= r.cfg.ReclaimIdle {
		msgs, next, err := rs.consumer.AutoClaim(ctx, rs.Stream, r.cfg.ReclaimIdle, rs.reclaimFrom, r.cfg.Batch)
		if err != nil {
			return 0, err
		}
		rs.lastReclaim = time.Now()
		if next == "" || next == "0-0" {
			rs.reclaimFrom = "0-0"
		} else {
			rs.reclaimFrom = next
		}
		for _, msg := range msgs {
			r.handle(ctx, rs, msg)
		}
		handled += len(msgs)
	}

	msgs, err := rs.consumer.Read(ctx, rs.Stream, streams.WithBlock(r.cfg.Block), streams.WithCount(r.cfg.Batch))
	if err != nil {
		return handled, err
	}
	for _, msg := range msgs {
		r.handle(ctx, rs, msg)
	}
	return handled + len(msgs), nil
}

func (r *Runner) handle(ctx context.Context, rs *routeState, msg streams.Message) {
	err := r.dispatch(ctx, rs.Group, msg)
	switch {
	case err == nil:
	case errors.Is(err, ErrEventParse):
		telemetry.ReindexEvents.WithLabelValues(msg.Envelope.EventType, "dropped").Inc()
		r.logger.Warn("dropping event", zap.String("stream", rs.Stream), zap.String("id", msg.ID), zap.Error(err))
	default:
		r.logger.Error("handle event; left pending for retry",
			zap.String("stream", rs.Stream),
			zap.String("group", rs.Group),
			zap.String("id", msg.ID),
			zap.Error(err),
		)
		return
	}
	if err := rs.consumer.Ack(ctx, rs.Stream, msg.ID); err != nil {
		r.logger.Warn("ack event", zap.String("id", msg.ID), zap.Error(err))
	}
}

func (r *Runner) dispatch(ctx context.Context, group string, msg streams.Message) error {
	env := msg.Envelope
	switch {
	case env.EventType == streams.EventArticleUpdated && group == r.cfg.SummaryGroup:
		var ev ArticleUpdated
		if err := env.DecodeData(&ev); err != nil {
			return fmt.Errorf("%w: %v", ErrEventParse, err)
		}
		r.pipeline.HandleArticleSummary(ctx, ev)
		return nil
	case env.EventType == streams.EventArticleUpdated:
		var ev ArticleUpdated
		if err := env.DecodeData(&ev); err != nil {
			return fmt.Errorf("%w: %v", ErrEventParse, err)
		}
		return r.pipeline.HandleArticleUpdated(ctx, ev)
	case env.EventType == streams.EventArticleDeleted && group == r.cfg.IndexGroup:
		var ev ArticleDeleted
		if err := env.DecodeData(&ev); err != nil {
			return fmt.Errorf("%w: %v", ErrEventParse, err)
		}
		return r.pipeline.HandleArticleDeleted(ctx, ev)
	default:
		return fmt.Errorf("%w: unexpected event %q for group %s", ErrEventParse, env.EventType, group)
	}
}
