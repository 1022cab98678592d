package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

// Turn is one persisted utterance in a conversation.
type Turn struct {
	ID              int64     `json:"id"`
	AccountID       int64     `json:"accountId"`
	ConversationKey string    `json:"conversationKey"`
	Role            Role      `json:"role"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"createdAt"`
}

const turnColumns = `id, account_id, conversation_key, role, content, created_at`

// CountTurns returns the number of persisted turns in a conversation.
func (s *Store) CountTurns(ctx context.Context, accountID int64, conversationKey string) (int64, error) {
	var n int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_turns WHERE account_id=$1 AND conversation_key=$2`,
		accountID, conversationKey).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count turns: %w", err)
	}
	return n, nil
}

// RecentTurns returns up to limit turns, newest first.
func (s *Store) RecentTurns(ctx context.Context, accountID int64, conversationKey string, limit int) ([]Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+turnColumns+` FROM chat_turns WHERE account_id=$1 AND conversation_key=$2 ORDER BY id DESC LIMIT $3`,
		accountID, conversationKey, limit)
	if err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	return scanTurns(rows)
}

// PageTurns returns one page of turns, newest first, and the total count.
func (s *Store) PageTurns(ctx context.Context, accountID int64, conversationKey string, offset, limit int) ([]Turn, int64, error) {
	total, err := s.CountTurns(ctx, accountID, conversationKey)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 || int64(offset) >= total {
		return nil, total, nil
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+turnColumns+` FROM chat_turns WHERE account_id=$1 AND conversation_key=$2 ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4`,
		accountID, conversationKey, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("page turns: %w", err)
	}
	turns, err := scanTurns(rows)
	return turns, total, err
}

// AppendTurns inserts turns in order inside one transaction; either all are
// persisted or none. The returned turns carry their assigned ids and timestamps.
func (s *Store) AppendTurns(ctx context.Context, turns ...Turn) ([]Turn, error) {
	if len(turns) == 0 {
		return nil, nil
	}
	out := make([]Turn, len(turns))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO chat_turns (account_id, conversation_key, role, content) VALUES ($1,$2,$3,$4) RETURNING id, created_at`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, t := range turns {
			if t.Role != RoleUser && t.Role != RoleAI {
				return fmt.Errorf("invalid turn role %q", t.Role)
			}
			if err := stmt.QueryRowContext(ctx, t.AccountID, t.ConversationKey, string(t.Role), t.Content).Scan(&t.ID, &t.CreatedAt); err != nil {
				return err
			}
			out[i] = t
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("append turns: %w", err)
	}
	return out, nil
}

func scanTurns(rows *sql.Rows) ([]Turn, error) {
	defer rows.Close()
	var out []Turn
	for rows.Next() {
		var (
			t    Turn
			role string
		)
		if err := rows.Scan(&t.ID, &t.AccountID, &t.ConversationKey, &role, &t.Content, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Role = Role(role)
		out = append(out, t)
	}
	return out, rows.Err()
}
