package reindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/ragchat/internal/telemetry"
	"github.com/mohammad-safakhou/ragchat/provider"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const summaryEvent = "article.summary"

// HandleArticleSummary asks the model for a summary and writes it back.
// Failures are logged and swallowed; the event is never retried.
func (p *Pipeline) HandleArticleSummary(ctx context.Context, ev ArticleUpdated) {
	if !p.SummariesEnabled() {
		return
	}
	ctx, span := p.tracer.Start(ctx, "reindex.article_summary", trace.WithAttributes(attribute.Int64("article.id", ev.ArticleID)))
	defer span.End()

	if err := p.limiter.Wait(ctx); err != nil {
		p.logger.Warn("summary skipped", zap.Int64("article_id", ev.ArticleID), zap.Error(err))
		return
	}
	summary, err := p.llm.Chat(ctx, []provider.Message{
		{Role: provider.RoleSystem, Content: p.prompt},
		{Role: provider.RoleUser, Content: fmt.Sprintf("Article title: %s, content: %s", ev.Title, ev.Content)},
	})
	if err != nil {
		telemetry.ReindexEvents.WithLabelValues(summaryEvent, "error").Inc()
		p.logger.Error("generate summary", zap.Int64("article_id", ev.ArticleID), zap.Error(err))
		return
	}
	if err := p.articles.UpdateSummary(ctx, ev.ArticleID, strings.TrimSpace(summary)); err != nil {
		telemetry.ReindexEvents.WithLabelValues(summaryEvent, "error").Inc()
		p.logger.Error("write back summary", zap.Int64("article_id", ev.ArticleID), zap.Error(err))
		return
	}
	telemetry.ReindexEvents.WithLabelValues(summaryEvent, "ok").Inc()
	p.logger.Info("article summary updated", zap.Int64("article_id", ev.ArticleID))
}

// HTTPArticleService posts summaries to the article service.
type HTTPArticleService struct {
	baseURL string
	client  *http.Client
}

func NewHTTPArticleService(baseURL string, timeout time.Duration) *HTTPArticleService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPArticleService{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type summaryUpdate struct {
	ID      int64  `json:"id"`
	Summary string `json:"summary"`
}

func (s *HTTPArticleService) UpdateSummary(ctx context.Context, articleID int64, summary string) error {
	body, err := json.Marshal(summaryUpdate{ID: articleID, Summary: summary})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/article/summary/update", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post summary: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post summary: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
