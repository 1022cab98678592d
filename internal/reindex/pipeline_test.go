package reindex

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/ragchat/internal/segment"
	"github.com/mohammad-safakhou/ragchat/internal/vectorindex"
	"github.com/mohammad-safakhou/ragchat/provider"
)

// lengthEmbedder derives a small vector from text length; good enough to
// exercise writes without a model.
type lengthEmbedder struct{}

func (lengthEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{1, float32(len(t)%7) + 1}
	}
	return out, nil
}

type fakeChat struct {
	reply string
	err   error
	got   []provider.Message
}

func (f *fakeChat) Chat(_ context.Context, msgs []provider.Message) (string, error) {
	f.got = msgs
	return f.reply, f.err
}

type fakeArticles struct {
	mu        sync.Mutex
	summaries map[int64]string
	err       error
}

func (f *fakeArticles) UpdateSummary(_ context.Context, id int64, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.summaries == nil {
		f.summaries = map[int64]string{}
	}
	f.summaries[id] = summary
	return nil
}

func newTestPipeline(t *testing.T, llm ChatModel, articles ArticleService) (*Pipeline, *vectorindex.MemoryStore) {
	t.Helper()
	mem := vectorindex.NewMemoryStore()
	ix := vectorindex.New(lengthEmbedder{}, mem, vectorindex.DefaultOptions(), nil)
	seg, err := segment.New("sliding_window", segment.DefaultOptions())
	if err != nil {
		t.Fatalf("segmenter: %v", err)
	}
	opts := Options{RatePerSecond: 1000, Burst: 1000, SummaryPrompt: "Summarize."}
	return NewPipeline(ix, seg, llm, articles, opts, nil), mem
}

func TestHandleArticleUpdatedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p, mem := newTestPipeline(t, nil, nil)
	ev := ArticleUpdated{ArticleID: 21, Title: "Go", Content: strings.Repeat("a", 1000)}

	if err := p.HandleArticleUpdated(ctx, ev); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if mem.Len() != 3 {
		t.Fatalf("expected 3 segments, got %d", mem.Len())
	}
	if err := p.HandleArticleUpdated(ctx, ev); err != nil {
		t.Fatalf("replayed update: %v", err)
	}
	if mem.Len() != 3 {
		t.Fatalf("replay duplicated segments: %d", mem.Len())
	}
}

func TestHandleArticleUpdatedReplacesStaleSegments(t *testing.T) {
	ctx := context.Background()
	p, mem := newTestPipeline(t, nil, nil)
	if err := p.HandleArticleUpdated(ctx, ArticleUpdated{ArticleID: 1, Title: "t", Content: strings.Repeat("b", 1000)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := p.HandleArticleUpdated(ctx, ArticleUpdated{ArticleID: 2, Title: "u", Content: "other"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := p.HandleArticleUpdated(ctx, ArticleUpdated{ArticleID: 1, Title: "t", Content: "short now"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if mem.Len() != 2 {
		t.Fatalf("expected one segment per article, got %d", mem.Len())
	}
}

func TestHandleArticleUpdatedEmptyContent(t *testing.T) {
	p, mem := newTestPipeline(t, nil, nil)
	if err := p.HandleArticleUpdated(context.Background(), ArticleUpdated{ArticleID: 5, Title: "empty"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if mem.Len() != 0 {
		t.Fatalf("expected no segments for empty content, got %d", mem.Len())
	}
}

func TestHandleArticleDeleted(t *testing.T) {
	ctx := context.Background()
	p, mem := newTestPipeline(t, nil, nil)
	if err := p.HandleArticleUpdated(ctx, ArticleUpdated{ArticleID: 9, Title: "t", Content: "body"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := p.HandleArticleDeleted(ctx, ArticleDeleted{ArticleID: 9}); err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
	}
	if mem.Len() != 0 {
		t.Fatalf("expected segments removed, got %d", mem.Len())
	}
}

func TestThrottleHonoursCancellation(t *testing.T) {
	mem := vectorindex.NewMemoryStore()
	ix := vectorindex.New(lengthEmbedder{}, mem, vectorindex.DefaultOptions(), nil)
	seg, _ := segment.New("line", segment.DefaultOptions())
	p := NewPipeline(ix, seg, nil, nil, Options{RatePerSecond: 0.001, Burst: 1}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.HandleArticleDeleted(ctx, ArticleDeleted{ArticleID: 1}); err != nil {
		t.Fatalf("first event should use the burst: %v", err)
	}
	if err := p.HandleArticleDeleted(ctx, ArticleDeleted{ArticleID: 1}); err == nil {
		t.Fatalf("expected second event to wait past the deadline")
	}
}

func TestHandleArticleSummary(t *testing.T) {
	llm := &fakeChat{reply: "  A short summary. "}
	articles := &fakeArticles{}
	p, _ := newTestPipeline(t, llm, articles)

	p.HandleArticleSummary(context.Background(), ArticleUpdated{ArticleID: 4, Title: "Go", Content: "Goroutines."})
	if got := articles.summaries[4]; got != "A short summary." {
		t.Fatalf("unexpected summary %q", got)
	}
	if len(llm.got) != 2 || llm.got[0].Content != "Summarize." {
		t.Fatalf("unexpected prompt: %+v", llm.got)
	}
	if llm.got[1].Content != "Article title: Go, content: Goroutines." {
		t.Fatalf("unexpected user message %q", llm.got[1].Content)
	}
}

func TestHandleArticleSummarySwallowsFailures(t *testing.T) {
	articles := &fakeArticles{}
	p, _ := newTestPipeline(t, &fakeChat{err: errors.New("model down")}, articles)
	p.HandleArticleSummary(context.Background(), ArticleUpdated{ArticleID: 4})
	if len(articles.summaries) != 0 {
		t.Fatalf("expected no write-back on model failure")
	}

	p, _ = newTestPipeline(t, &fakeChat{reply: "s"}, &fakeArticles{err: errors.New("503")})
	p.HandleArticleSummary(context.Background(), ArticleUpdated{ArticleID: 4})
}

func TestHTTPArticleService(t *testing.T) {
	var got summaryUpdate
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/article/summary/update" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc := NewHTTPArticleService(srv.URL+"/", time.Second)
	if err := svc.UpdateSummary(context.Background(), 12, "sum"); err != nil {
		t.Fatalf("update summary: %v", err)
	}
	if got.ID != 12 || got.Summary != "sum" {
		t.Fatalf("unexpected body: %+v", got)
	}

	bad := NewHTTPArticleService(srv.URL+"/missing", time.Second)
	if err := bad.UpdateSummary(context.Background(), 12, "sum"); err == nil {
		t.Fatalf("expected non-2xx to fail")
	}
}
