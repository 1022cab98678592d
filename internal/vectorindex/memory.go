package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/ragchat/internal/store"
)

// MemoryStore is an in-process VectorStore using brute-force cosine similarity.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]store.SegmentRecord
}

var _ VectorStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]store.SegmentRecord)}
}

func (m *MemoryStore) UpsertSegments(_ context.Context, records []store.SegmentRecord) error {
	for _, rec := range records {
		if len(rec.Embedding) == 0 {
			return fmt.Errorf("segment %s: vector must not be empty", rec.ID)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		m.records[rec.ID] = rec
	}
	return nil
}

func (m *MemoryStore) SearchSegments(_ context.Context, vector []float32, topK int, minScore float64) ([]store.SegmentMatch, error) {
	if topK <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var hits []store.SegmentMatch
	for _, rec := range m.records {
		score := cosine(rec.Embedding, vector)
		if score < minScore {
			continue
		}
		hits = append(hits, store.SegmentMatch{ID: rec.ID, Content: rec.Content, Metadata: rec.Metadata, Score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID.String() < hits[j].ID.String()
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *MemoryStore) DeleteSegmentsByArticle(_ context.Context, articleID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rec := range m.records {
		if got, ok := ArticleIDOf(rec.Metadata); ok && got == articleID {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

// Len reports how many segments are stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
