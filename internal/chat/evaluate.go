package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/ragchat/provider"
)

// Evaluate answers one query synchronously over the whole corpus and returns
// the contexts used, for offline quality measurement. Nothing is persisted.
func (o *Orchestrator) Evaluate(ctx context.Context, req EvalRequest) (EvalResult, error) {
	ctx, span := o.tracer.Start(ctx, "chat.Evaluate")
	defer span.End()

	if strings.TrimSpace(req.Query) == "" {
		return EvalResult{}, fmt.Errorf("%w: query is required", ErrValidation)
	}
	query := req.Query
	if req.Hyde {
		var err error
		if query, err = o.draft(ctx, req.Query); err != nil {
			return EvalResult{}, err
		}
	}
	matches, err := o.retriever.Search(ctx, nil, query)
	if err != nil {
		return EvalResult{}, err
	}

	answer, err := o.llm.Chat(ctx, []provider.Message{
		{Role: provider.RoleUser, Content: questionPrefix + req.Query},
		{Role: provider.RoleSystem, Content: o.systemPrompt(matches)},
	})
	if err != nil {
		return EvalResult{}, fmt.Errorf("%w: %v", ErrUpstreamGeneration, err)
	}
	return EvalResult{Answer: answer, Contexts: contextTexts(matches)}, nil
}
