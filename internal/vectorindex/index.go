// Package vectorindex applies ragchat's retrieval policy on top of an
// embedding provider and a vector store.
package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/ragchat/internal/store"
	"github.com/mohammad-safakhou/ragchat/internal/telemetry"
)

var (
	// ErrRetrieval marks failures while embedding a query or searching.
	ErrRetrieval = errors.New("retrieval failed")
	// ErrIndex marks failures while writing or deleting segments.
	ErrIndex = errors.New("index update failed")
)

// Embedder turns texts into vectors, one per text, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore is the storage contract behind the index.
type VectorStore interface {
	UpsertSegments(ctx context.Context, records []store.SegmentRecord) error
	SearchSegments(ctx context.Context, vector []float32, topK int, minScore float64) ([]store.SegmentMatch, error)
	DeleteSegmentsByArticle(ctx context.Context, articleID int64) (int64, error)
}

// Metadata keys written with every segment.
const (
	MetaArticleID    = "articleId"
	MetaSegmentIndex = "segmentIndex"
	MetaTitle        = "title"
)

// Segment is one indexed piece of an article.
type Segment struct {
	Text         string `json:"text"`
	ArticleID    int64  `json:"articleId"`
	SegmentIndex int    `json:"segmentIndex"`
	Title        string `json:"title"`
}

// Match is a retrieved segment with its similarity score.
type Match struct {
	Segment
	Score float64 `json:"score"`
}

// Options tunes retrieval.
type Options struct {
	TopK           int
	ScopedTopK     int
	MinScore       float64
	EmbedBatchSize int
}

func DefaultOptions() Options {
	return Options{TopK: 3, ScopedTopK: 10, MinScore: 0.6, EmbedBatchSize: 32}
}

// Index is the vector index adapter.
type Index struct {
	embedder Embedder
	store    VectorStore
	opts     Options
	logger   *zap.Logger
}

// New builds an Index. Non-positive sizes take their defaults; MinScore is
// used as given, so zero disables the threshold.
func New(embedder Embedder, vs VectorStore, opts Options, logger *zap.Logger) *Index {
	def := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.ScopedTopK < opts.TopK {
		opts.ScopedTopK = def.ScopedTopK
	}
	if opts.EmbedBatchSize <= 0 {
		opts.EmbedBatchSize = def.EmbedBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{embedder: embedder, store: vs, opts: opts, logger: logger.Named("vectorindex")}
}

var segmentNamespace = uuid.MustParse("6f1d3c2e-8a4b-4d7e-9c1f-2b5a7e9d0c31")

// SegmentID is stable for an (article, position) pair so replays overwrite rows.
func SegmentID(articleID int64, segmentIndex int) uuid.UUID {
	return uuid.NewSHA1(segmentNamespace, []byte(fmt.Sprintf("%d:%d", articleID, segmentIndex)))
}

// FormatSegment prefixes a segment with its article title before embedding.
func FormatSegment(title, text string) string {
	return fmt.Sprintf("Article title: %s, segment: %s", title, text)
}

// IndexArticle embeds and upserts segments, returning how many were written.
func (ix *Index) IndexArticle(ctx context.Context, articleID int64, title string, segments []string) (int, error) {
	if len(segments) == 0 {
		return 0, nil
	}
	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = FormatSegment(title, seg)
	}

	records := make([]store.SegmentRecord, 0, len(texts))
	for start := 0; start < len(texts); start += ix.opts.EmbedBatchSize {
		end := start + ix.opts.EmbedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := ix.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return 0, fmt.Errorf("%w: embed article %d: %v", ErrIndex, articleID, err)
		}
		if len(vecs) != end-start {
			return 0, fmt.Errorf("%w: embed article %d: got %d vectors for %d segments", ErrIndex, articleID, len(vecs), end-start)
		}
		for i, vec := range vecs {
			idx := start + i
			records = append(records, store.SegmentRecord{
				ID:      SegmentID(articleID, idx),
				Content: texts[idx],
				Metadata: map[string]interface{}{
					MetaArticleID:    articleID,
					MetaSegmentIndex: idx,
					MetaTitle:        title,
				},
				Embedding: vec,
			})
		}
	}
	if err := ix.store.UpsertSegments(ctx, records); err != nil {
		return 0, fmt.Errorf("%w: upsert article %d: %v", ErrIndex, articleID, err)
	}
	telemetry.IndexedSegments.Add(float64(len(records)))
	ix.logger.Debug("indexed article", zap.Int64("article_id", articleID), zap.Int("segments", len(records)))
	return len(records), nil
}

// Search retrieves segments relevant to query. A nil articleID searches the
// whole corpus; otherwise a wider candidate set is filtered to that article
// and truncated in rank order.
func (ix *Index) Search(ctx context.Context, articleID *int64, query string) ([]Match, error) {
	vecs, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrRetrieval, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: embed query: got %d vectors", ErrRetrieval, len(vecs))
	}

	topK, scope := ix.opts.TopK, "open"
	if articleID != nil {
		topK, scope = ix.opts.ScopedTopK, "article"
	}
	hits, err := ix.store.SearchSegments(ctx, vecs[0], topK, ix.opts.MinScore)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", ErrRetrieval, err)
	}

	out := make([]Match, 0, ix.opts.TopK)
	for _, hit := range hits {
		m := toMatch(hit)
		if articleID != nil {
			id, ok := ArticleIDOf(hit.Metadata)
			if !ok || id != *articleID {
				continue
			}
		}
		out = append(out, m)
		if articleID != nil && len(out) == ix.opts.TopK {
			break
		}
	}
	telemetry.RetrievalMatches.WithLabelValues(scope).Observe(float64(len(out)))
	return out, nil
}

// DeleteArticle removes every segment of an article. Deleting an article with
// no segments is not an error.
func (ix *Index) DeleteArticle(ctx context.Context, articleID int64) (int64, error) {
	n, err := ix.store.DeleteSegmentsByArticle(ctx, articleID)
	if err != nil {
		return 0, fmt.Errorf("%w: delete article %d: %v", ErrIndex, articleID, err)
	}
	ix.logger.Debug("deleted article segments", zap.Int64("article_id", articleID), zap.Int64("segments", n))
	return n, nil
}

// ArticleIDOf reads the articleId metadata value. Numbers and numeric strings
// are parsed as floats and truncated, so "21.0" and 21 both yield 21.
func ArticleIDOf(meta map[string]interface{}) (int64, bool) {
	raw, ok := meta[MetaArticleID]
	if !ok || raw == nil {
		return 0, false
	}
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case json.Number:
		s = v.String()
	default:
		s = fmt.Sprint(v)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return int64(f), true
}

func toMatch(hit store.SegmentMatch) Match {
	m := Match{Segment: Segment{Text: hit.Content}, Score: hit.Score}
	if id, ok := ArticleIDOf(hit.Metadata); ok {
		m.ArticleID = id
	}
	if title, ok := hit.Metadata[MetaTitle].(string); ok {
		m.Title = title
	}
	switch v := hit.Metadata[MetaSegmentIndex].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			m.SegmentIndex = int(n)
		}
	case float64:
		m.SegmentIndex = int(v)
	case int:
		m.SegmentIndex = v
	}
	return m
}
