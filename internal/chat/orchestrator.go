// Package chat runs retrieval-augmented conversations: admission, context
// assembly, streamed generation and the write-back of completed exchanges.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/ragchat/internal/store"
	"github.com/mohammad-safakhou/ragchat/internal/telemetry"
	"github.com/mohammad-safakhou/ragchat/internal/vectorindex"
	"github.com/mohammad-safakhou/ragchat/provider"
)

// HistoryStore is the conversation history the orchestrator reads and extends.
type HistoryStore interface {
	Round(ctx context.Context, accountID int64, conversationKey string) (int64, error)
	History(ctx context.Context, accountID int64, conversationKey string, limit int) ([]store.Turn, error)
	Page(ctx context.Context, accountID int64, conversationKey string, current, size int) ([]store.Turn, int64, error)
	Append(ctx context.Context, userTurn, aiTurn store.Turn) ([]store.Turn, error)
	RefreshCacheAsync(accountID int64, conversationKey string, window []store.Turn) bool
}

// Retriever finds segments relevant to a query, optionally within one article.
type Retriever interface {
	Search(ctx context.Context, articleID *int64, query string) ([]vectorindex.Match, error)
}

type Options struct {
	MaxRound      int64
	HistoryRound  int
	SystemPrompt  string
	OpeningRemark string
}

// Orchestrator coordinates one exchange at a time per call; it holds no
// per-conversation state and is safe for concurrent use.
type Orchestrator struct {
	history   HistoryStore
	retriever Retriever
	llm       provider.Provider
	opts      Options
	logger    *zap.Logger
	tracer    trace.Tracer
}

func New(h HistoryStore, r Retriever, llm provider.Provider, opts Options, logger *zap.Logger) *Orchestrator {
	if opts.MaxRound <= 0 {
		opts.MaxRound = 10
	}
	if opts.HistoryRound <= 0 {
		opts.HistoryRound = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		history:   h,
		retriever: r,
		llm:       llm,
		opts:      opts,
		logger:    logger.Named("chat"),
		tracer:    otel.Tracer("ragchat/chat"),
	}
}

// StreamChat admits the request, assembles its context and starts generation.
// Validation, admission and assembly failures are returned directly and
// nothing is persisted. After a Stream is returned, failures arrive as an
// EventError. Cancelling ctx aborts generation.
func (o *Orchestrator) StreamChat(ctx context.Context, accountID int64, req Request) (*Stream, error) {
	ctx, span := o.tracer.Start(ctx, "chat.StreamChat", trace.WithAttributes(
		attribute.Int64("account_id", accountID),
		attribute.String("conversation_key", req.ConversationKey),
		attribute.Bool("hyde", req.Hyde),
	))
	st := &Stream{}
	fail := func(err error, outcome string, state State) (*Stream, error) {
		st.setState(state)
		telemetry.ChatExchanges.WithLabelValues(outcome).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}

	if err := req.Validate(); err != nil {
		return fail(err, "invalid", StateFailed)
	}

	round, err := o.history.Round(ctx, accountID, req.ConversationKey)
	if err != nil {
		return fail(err, "failed", StateFailed)
	}
	if round > o.opts.MaxRound {
		return fail(fmt.Errorf("%w: %d turns recorded, limit %d", ErrQuotaExceeded, round, o.opts.MaxRound), "rejected", StateRejected)
	}
	st.setState(StateAdmitted)

	prior, err := o.history.History(ctx, accountID, req.ConversationKey, o.opts.HistoryRound)
	if err != nil {
		return fail(err, "failed", StateFailed)
	}
	query := req.Message
	if req.Hyde {
		if query, err = o.draft(ctx, req.Message); err != nil {
			return fail(err, "failed", StateFailed)
		}
	}
	matches, err := o.retriever.Search(ctx, req.ArticleID, query)
	if err != nil {
		return fail(err, "failed", StateFailed)
	}
	messages := o.buildMessages(prior, req.Message, matches)
	st.setState(StateContextAssembled)

	upstream, err := o.llm.StreamChat(ctx, messages)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrUpstreamGeneration, err), "failed", StateFailed)
	}

	out := make(chan Event)
	st.events = out
	st.setState(StateStreaming)
	go o.pump(ctx, span, st, out, upstream, accountID, req, prior)
	return st, nil
}

func (o *Orchestrator) pump(ctx context.Context, span trace.Span, st *Stream, out chan<- Event, upstream <-chan provider.StreamResponse, accountID int64, req Request, prior []store.Turn) {
	defer close(out)
	defer span.End()

	send := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	failWith := func(err error) {
		st.setState(StateFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			telemetry.ChatExchanges.WithLabelValues("cancelled").Inc()
			return
		}
		telemetry.ChatExchanges.WithLabelValues("failed").Inc()
		o.logger.Warn("chat exchange failed",
			zap.Int64("account_id", accountID),
			zap.String("conversation_key", req.ConversationKey),
			zap.Error(err))
		send(Event{Kind: EventError, Err: err})
	}

	var answer strings.Builder
	for {
		// select picks at random among ready cases, so a queued token or
		// completion could otherwise win over cancellation.
		if err := ctx.Err(); err != nil {
			failWith(err)
			return
		}
		select {
		case <-ctx.Done():
			failWith(ctx.Err())
			return
		case resp, ok := <-upstream:
			if !ok {
				failWith(fmt.Errorf("%w: stream closed before completion", ErrUpstreamGeneration))
				return
			}
			if resp.Error != nil {
				failWith(fmt.Errorf("%w: %v", ErrUpstreamGeneration, resp.Error))
				return
			}
			if resp.Done {
				if err := ctx.Err(); err != nil {
					failWith(err)
					return
				}
				o.complete(ctx, st, send, failWith, accountID, req, prior, answer.String())
				return
			}
			if resp.Content == "" {
				continue
			}
			answer.WriteString(resp.Content)
			if !send(Event{Kind: EventToken, Token: resp.Content}) {
				failWith(ctx.Err())
				return
			}
			telemetry.StreamedTokens.Inc()
		}
	}
}

// complete persists the exchange before announcing it, so a caller never sees
// a finished answer that is not durably recorded.
func (o *Orchestrator) complete(ctx context.Context, st *Stream, send func(Event) bool, failWith func(error), accountID int64, req Request, prior []store.Turn, answer string) {
	raw, err := json.Marshal(req)
	if err != nil {
		failWith(fmt.Errorf("%w: encode request: %v", ErrPersistence, err))
		return
	}
	if err := ctx.Err(); err != nil {
		failWith(err)
		return
	}
	saved, err := o.history.Append(ctx,
		store.Turn{AccountID: accountID, ConversationKey: req.ConversationKey, Role: store.RoleUser, Content: string(raw)},
		store.Turn{AccountID: accountID, ConversationKey: req.ConversationKey, Role: store.RoleAI, Content: answer},
	)
	if err != nil {
		failWith(err)
		return
	}
	o.history.RefreshCacheAsync(accountID, req.ConversationKey, refreshWindow(saved, prior, o.opts.HistoryRound))

	st.setState(StateCompleted)
	telemetry.ChatExchanges.WithLabelValues("completed").Inc()
	send(Event{Kind: EventDone, Answer: answer})
}

// refreshWindow is the new snapshot, newest first: the saved turns (ai then
// user) followed by the prior window, capped at max(limit, 2).
func refreshWindow(saved, prior []store.Turn, limit int) []store.Turn {
	if limit < 2 {
		limit = 2
	}
	window := make([]store.Turn, 0, len(saved)+len(prior))
	for i := len(saved) - 1; i >= 0; i-- {
		window = append(window, saved[i])
	}
	window = append(window, prior...)
	if len(window) > limit {
		window = window[:limit]
	}
	return window
}

// draft asks the model for a hypothetical answer to use as the retrieval query.
func (o *Orchestrator) draft(ctx context.Context, question string) (string, error) {
	ctx, span := o.tracer.Start(ctx, "chat.hyde")
	defer span.End()
	text, err := o.llm.Chat(ctx, []provider.Message{{Role: provider.RoleUser, Content: questionPrefix + question}})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("%w: hyde draft: %v", ErrUpstreamGeneration, err)
	}
	if strings.TrimSpace(text) == "" {
		return question, nil
	}
	return text, nil
}
