package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// SegmentRecord is one embedded article segment.
type SegmentRecord struct {
	ID        uuid.UUID
	Content   string
	Metadata  map[string]interface{}
	Embedding []float32
}

// SegmentMatch is a search hit; Score is cosine similarity in [-1, 1].
type SegmentMatch struct {
	ID       uuid.UUID
	Content  string
	Metadata map[string]interface{}
	Score    float64
}

const upsertSegmentSQL = `
INSERT INTO article_segments (id, content, metadata, embedding, updated_at)
VALUES ($1,$2,$3,$4::vector,NOW())
ON CONFLICT (id) DO UPDATE SET
  content = EXCLUDED.content,
  metadata = EXCLUDED.metadata,
  embedding = EXCLUDED.embedding,
  updated_at = NOW();
`

// UpsertSegments writes records in one transaction.
func (s *Store) UpsertSegments(ctx context.Context, records []SegmentRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertSegmentSQL)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, rec := range records {
			vectorLiteral, err := encodeVectorLiteral(rec.Embedding)
			if err != nil {
				return fmt.Errorf("segment %s: %w", rec.ID, err)
			}
			meta := rec.Metadata
			if meta == nil {
				meta = map[string]interface{}{}
			}
			metaBytes, err := json.Marshal(meta)
			if err != nil {
				return fmt.Errorf("marshal metadata: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, rec.ID.String(), rec.Content, metaBytes, vectorLiteral); err != nil {
				return err
			}
		}
		return nil
	})
}

// articleIDPattern accepts the numeric forms strconv.ParseFloat does for an
// article id, including exponents ("2.1E7"). Digit counts are bounded so the
// float8 cast cannot overflow.
const articleIDPattern = `^[+-]?([0-9]{1,18}(\.[0-9]*)?|\.[0-9]+)([eE][+-]?[0-9]{1,2})?$`

// articleId may be a JSON number or a numeric string. Like the search-side
// filter it is parsed as a float and truncated, so "21.0" and "21.5" both
// match 21. Non-numeric values never match.
const deleteSegmentsByArticleSQL = `
DELETE FROM article_segments
WHERE CASE WHEN metadata->>'articleId' ~ '` + articleIDPattern + `'
           THEN trunc((metadata->>'articleId')::float8) = $1
           ELSE false END
`

// DeleteSegmentsByArticle removes every segment of an article and reports how many were removed.
func (s *Store) DeleteSegmentsByArticle(ctx context.Context, articleID int64) (int64, error) {
	res, err := s.DB.ExecContext(ctx, deleteSegmentsByArticleSQL, articleID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const searchSegmentsSQL = `
SELECT id, content, metadata, 1 - (embedding <=> $1::vector) AS score
FROM article_segments
WHERE 1 - (embedding <=> $1::vector) >= $2
ORDER BY embedding <=> $1::vector
LIMIT $3
`

// SearchSegments returns up to topK segments with similarity >= minScore, most similar first.
func (s *Store) SearchSegments(ctx context.Context, vector []float32, topK int, minScore float64) ([]SegmentMatch, error) {
	if topK <= 0 {
		return nil, nil
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, searchSegmentsSQL, vecLiteral, minScore, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SegmentMatch
	for rows.Next() {
		var (
			m         SegmentMatch
			id        string
			metaBytes []byte
		)
		if err := rows.Scan(&id, &m.Content, &metaBytes, &m.Score); err != nil {
			return nil, err
		}
		if m.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("segment id %q: %w", id, err)
		}
		if m.Metadata, err = decodeMetadata(metaBytes); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
