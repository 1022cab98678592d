package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/ragchat/internal/store"
)

const maxPageSize = 100

// HistoryPage lists a conversation newest first. An empty conversation yields
// a single synthesized opening remark from the assistant.
func (o *Orchestrator) HistoryPage(ctx context.Context, accountID int64, q HistoryQuery) (HistoryPage, error) {
	if strings.TrimSpace(q.ConversationKey) == "" {
		return HistoryPage{}, fmt.Errorf("%w: conversationKey is required", ErrValidation)
	}
	if q.Current <= 0 {
		q.Current = 1
	}
	if q.Size <= 0 {
		q.Size = 10
	}
	if q.Size > maxPageSize {
		q.Size = maxPageSize
	}

	turns, total, err := o.history.Page(ctx, accountID, q.ConversationKey, q.Current, q.Size)
	if err != nil {
		return HistoryPage{}, err
	}
	page := HistoryPage{Total: total, Current: q.Current, Size: q.Size}
	if total == 0 {
		page.Records = []HistoryItem{{Role: store.RoleAI, Content: o.opts.OpeningRemark, CreatedAt: time.Now().UTC()}}
		return page, nil
	}
	page.Records = make([]HistoryItem, 0, len(turns))
	for _, t := range turns {
		page.Records = append(page.Records, HistoryItem{Role: t.Role, Content: turnText(t), CreatedAt: t.CreatedAt})
	}
	return page, nil
}
