package vectorindex

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/ragchat/internal/store"
)

// keywordEmbedder maps text onto fixed axes by keyword so similarity is predictable.
type keywordEmbedder struct {
	err   error
	calls int
}

func (e *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := []float32{0.01, 0.01, 0.01}
		if strings.Contains(t, "go") {
			v[0] = 1
		}
		if strings.Contains(t, "redis") {
			v[1] = 1
		}
		if strings.Contains(t, "postgres") {
			v[2] = 1
		}
		out[i] = v
	}
	return out, nil
}

type stubStore struct {
	hits      []store.SegmentMatch
	gotTopK   int
	gotMin    float64
	searchErr error
	deleteErr error
	upserted  []store.SegmentRecord
}

func (s *stubStore) UpsertSegments(_ context.Context, recs []store.SegmentRecord) error {
	s.upserted = append(s.upserted, recs...)
	return nil
}

func (s *stubStore) SearchSegments(_ context.Context, _ []float32, topK int, minScore float64) ([]store.SegmentMatch, error) {
	s.gotTopK = topK
	s.gotMin = minScore
	return s.hits, s.searchErr
}

func (s *stubStore) DeleteSegmentsByArticle(_ context.Context, _ int64) (int64, error) {
	return 0, s.deleteErr
}

func hit(articleID interface{}, text string, score float64) store.SegmentMatch {
	return store.SegmentMatch{
		ID:       uuid.New(),
		Content:  text,
		Metadata: map[string]interface{}{MetaArticleID: articleID, MetaSegmentIndex: 0, MetaTitle: "t"},
		Score:    score,
	}
}

func TestSearchScopedFiltersAndKeepsRankOrder(t *testing.T) {
	st := &stubStore{hits: []store.SegmentMatch{
		hit(float64(21), "a", 0.95),
		hit(float64(22), "b", 0.94),
		hit("21.0", "c", 0.90),
		hit("21", "d", 0.85),
		hit(float64(21), "e", 0.80),
		hit("abc", "f", 0.79),
	}}
	ix := New(&keywordEmbedder{}, st, DefaultOptions(), nil)

	id := int64(21)
	got, err := ix.Search(context.Background(), &id, "question")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if st.gotTopK != 10 {
		t.Fatalf("expected scoped search to request 10 candidates, got %d", st.gotTopK)
	}
	var texts []string
	for _, m := range got {
		texts = append(texts, m.Text)
		if m.ArticleID != 21 {
			t.Fatalf("unexpected article id %d", m.ArticleID)
		}
	}
	if strings.Join(texts, ",") != "a,c,d" {
		t.Fatalf("unexpected scoped results %v", texts)
	}
}

func TestSearchOpenDomainReturnsAsIs(t *testing.T) {
	st := &stubStore{hits: []store.SegmentMatch{hit(float64(1), "x", 0.9), hit(float64(2), "y", 0.8)}}
	ix := New(&keywordEmbedder{}, st, DefaultOptions(), nil)

	got, err := ix.Search(context.Background(), nil, "question")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if st.gotTopK != 3 || len(got) != 2 || got[0].Text != "x" {
		t.Fatalf("unexpected open-domain search: topK=%d results=%+v", st.gotTopK, got)
	}
}

func TestSearchPassesMinScoreThrough(t *testing.T) {
	st := &stubStore{}
	if _, err := New(&keywordEmbedder{}, st, DefaultOptions(), nil).Search(context.Background(), nil, "q"); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if st.gotMin != 0.6 {
		t.Fatalf("expected default min score 0.6, got %v", st.gotMin)
	}

	opts := DefaultOptions()
	opts.MinScore = 0
	if _, err := New(&keywordEmbedder{}, st, opts, nil).Search(context.Background(), nil, "q"); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if st.gotMin != 0 {
		t.Fatalf("explicit zero min score must not be replaced, got %v", st.gotMin)
	}
}

func TestSearchErrorsAreRetrievalErrors(t *testing.T) {
	ix := New(&keywordEmbedder{err: errors.New("boom")}, &stubStore{}, DefaultOptions(), nil)
	if _, err := ix.Search(context.Background(), nil, "q"); !errors.Is(err, ErrRetrieval) {
		t.Fatalf("expected ErrRetrieval from embed failure, got %v", err)
	}

	ix = New(&keywordEmbedder{}, &stubStore{searchErr: errors.New("down")}, DefaultOptions(), nil)
	if _, err := ix.Search(context.Background(), nil, "q"); !errors.Is(err, ErrRetrieval) {
		t.Fatalf("expected ErrRetrieval from search failure, got %v", err)
	}
}

func TestDeleteErrorIsIndexError(t *testing.T) {
	ix := New(&keywordEmbedder{}, &stubStore{deleteErr: errors.New("down")}, DefaultOptions(), nil)
	if _, err := ix.DeleteArticle(context.Background(), 1); !errors.Is(err, ErrIndex) {
		t.Fatalf("expected ErrIndex, got %v", err)
	}
}

func TestIndexArticleFormatsAndBatches(t *testing.T) {
	st := &stubStore{}
	emb := &keywordEmbedder{}
	ix := New(emb, st, Options{EmbedBatchSize: 2}, nil)

	n, err := ix.IndexArticle(context.Background(), 5, "Title", []string{"one", "two", "three"})
	if err != nil {
		t.Fatalf("IndexArticle: %v", err)
	}
	if n != 3 || len(st.upserted) != 3 {
		t.Fatalf("expected 3 records, got %d/%d", n, len(st.upserted))
	}
	if emb.calls != 2 {
		t.Fatalf("expected 2 embed batches, got %d", emb.calls)
	}
	rec := st.upserted[2]
	if rec.Content != "Article title: Title, segment: three" {
		t.Fatalf("unexpected content %q", rec.Content)
	}
	if rec.ID != SegmentID(5, 2) || rec.Metadata[MetaSegmentIndex] != 2 || rec.Metadata[MetaArticleID] != int64(5) {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestIndexArticleEmbedFailureIsIndexError(t *testing.T) {
	ix := New(&keywordEmbedder{err: errors.New("quota")}, &stubStore{}, DefaultOptions(), nil)
	if _, err := ix.IndexArticle(context.Background(), 1, "t", []string{"x"}); !errors.Is(err, ErrIndex) {
		t.Fatalf("expected ErrIndex, got %v", err)
	}
}

func TestMemoryStoreEndToEnd(t *testing.T) {
	ms := NewMemoryStore()
	ix := New(&keywordEmbedder{}, ms, DefaultOptions(), nil)
	ctx := context.Background()

	if _, err := ix.IndexArticle(ctx, 1, "langs", []string{"go channels", "redis lists"}); err != nil {
		t.Fatalf("index 1: %v", err)
	}
	if _, err := ix.IndexArticle(ctx, 2, "dbs", []string{"postgres vacuum", "go drivers"}); err != nil {
		t.Fatalf("index 2: %v", err)
	}

	id := int64(2)
	got, err := ix.Search(ctx, &id, "go")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].ArticleID != 2 || !strings.Contains(got[0].Text, "go drivers") {
		t.Fatalf("unexpected scoped results %+v", got)
	}

	if n, err := ix.DeleteArticle(ctx, 1); err != nil || n != 2 {
		t.Fatalf("DeleteArticle = %d, %v", n, err)
	}
	if n, err := ix.DeleteArticle(ctx, 1); err != nil || n != 0 {
		t.Fatalf("second DeleteArticle = %d, %v", n, err)
	}
	if ms.Len() != 2 {
		t.Fatalf("expected 2 remaining segments, got %d", ms.Len())
	}
}

func TestArticleIDOf(t *testing.T) {
	cases := []struct {
		in   interface{}
		want int64
		ok   bool
	}{
		{float64(21), 21, true},
		{"21.0", 21, true},
		{int64(7), 7, true},
		{"x", 0, false},
		{nil, 0, false},
	}
	for _, tc := range cases {
		got, ok := ArticleIDOf(map[string]interface{}{MetaArticleID: tc.in})
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ArticleIDOf(%v) = %d,%v want %d,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
