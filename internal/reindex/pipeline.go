// Package reindex keeps the vector index in step with article lifecycle events
// and produces article summaries.
package reindex

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/ragchat/internal/queue/streams"
	"github.com/mohammad-safakhou/ragchat/internal/segment"
	"github.com/mohammad-safakhou/ragchat/internal/telemetry"
	"github.com/mohammad-safakhou/ragchat/provider"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrEventParse marks events whose payload cannot be decoded. Such events are
// dropped, never retried.
var ErrEventParse = errors.New("event parse error")

// ArticleUpdated is the payload of an article.updated event.
type ArticleUpdated struct {
	ArticleID int64  `json:"article_id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
}

// ArticleDeleted is the payload of an article.deleted event.
type ArticleDeleted struct {
	ArticleID int64 `json:"article_id"`
}

// Indexer is the subset of the vector index the pipeline writes through.
type Indexer interface {
	IndexArticle(ctx context.Context, articleID int64, title string, segments []string) (int, error)
	DeleteArticle(ctx context.Context, articleID int64) (int64, error)
}

// ChatModel generates a single completion.
type ChatModel interface {
	Chat(ctx context.Context, messages []provider.Message) (string, error)
}

// ArticleService receives generated summaries.
type ArticleService interface {
	UpdateSummary(ctx context.Context, articleID int64, summary string) error
}

type Options struct {
	RatePerSecond float64
	Burst         int
	SummaryPrompt string
}

// Pipeline applies article events to the index. All handlers share one
// blocking token bucket.
type Pipeline struct {
	index     Indexer
	segmenter segment.Segmenter
	limiter   *rate.Limiter
	llm       ChatModel
	articles  ArticleService
	prompt    string
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewPipeline builds a Pipeline. llm and articles may be nil, in which case
// summary events are ignored.
func NewPipeline(index Indexer, seg segment.Segmenter, llm ChatModel, articles ArticleService, opts Options, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = int(opts.RatePerSecond)
		if opts.Burst < 1 {
			opts.Burst = 1
		}
	}
	return &Pipeline{
		index:     index,
		segmenter: seg,
		limiter:   rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		llm:       llm,
		articles:  articles,
		prompt:    opts.SummaryPrompt,
		logger:    logger,
		tracer:    otel.Tracer("ragchat/reindex"),
	}
}

// SummariesEnabled reports whether summary events have somewhere to go.
func (p *Pipeline) SummariesEnabled() bool {
	return p.llm != nil && p.articles != nil
}

// HandleArticleDeleted removes every segment of the article. Deleting an
// unknown article succeeds.
func (p *Pipeline) HandleArticleDeleted(ctx context.Context, ev ArticleDeleted) error {
	ctx, span := p.tracer.Start(ctx, "reindex.article_deleted", trace.WithAttributes(attribute.Int64("article.id", ev.ArticleID)))
	defer span.End()

	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	n, err := p.index.DeleteArticle(ctx, ev.ArticleID)
	if err != nil {
		telemetry.ReindexEvents.WithLabelValues(streams.EventArticleDeleted, "error").Inc()
		span.RecordError(err)
		return err
	}
	telemetry.ReindexEvents.WithLabelValues(streams.EventArticleDeleted, "ok").Inc()
	p.logger.Info("article removed from index", zap.Int64("article_id", ev.ArticleID), zap.Int64("segments", n))
	return nil
}

// HandleArticleUpdated replaces the article's segments with a fresh
// segmentation of its content. Applying the same event twice leaves one set.
func (p *Pipeline) HandleArticleUpdated(ctx context.Context, ev ArticleUpdated) error {
	ctx, span := p.tracer.Start(ctx, "reindex.article_updated", trace.WithAttributes(attribute.Int64("article.id", ev.ArticleID)))
	defer span.End()

	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	n, err := p.Reindex(ctx, ev)
	if err != nil {
		telemetry.ReindexEvents.WithLabelValues(streams.EventArticleUpdated, "error").Inc()
		span.RecordError(err)
		return err
	}
	telemetry.ReindexEvents.WithLabelValues(streams.EventArticleUpdated, "ok").Inc()
	p.logger.Info("article reindexed", zap.Int64("article_id", ev.ArticleID), zap.Int("segments", n))
	return nil
}

// Reindex deletes and rewrites the article's segments without throttling.
// It backs synchronous uploads as well as HandleArticleUpdated.
func (p *Pipeline) Reindex(ctx context.Context, ev ArticleUpdated) (int, error) {
	if _, err := p.index.DeleteArticle(ctx, ev.ArticleID); err != nil {
		return 0, err
	}
	segments := p.segmenter.Split(ev.Content)
	n, err := p.index.IndexArticle(ctx, ev.ArticleID, ev.Title, segments)
	if err != nil {
		return 0, fmt.Errorf("index article %d: %w", ev.ArticleID, err)
	}
	return n, nil
}

// Remove deletes the article's segments without throttling.
func (p *Pipeline) Remove(ctx context.Context, articleID int64) (int64, error) {
	return p.index.DeleteArticle(ctx, articleID)
}
