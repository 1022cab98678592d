package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/ragchat/config"
	"github.com/mohammad-safakhou/ragchat/internal/cache"
	"github.com/mohammad-safakhou/ragchat/internal/chat"
	"github.com/mohammad-safakhou/ragchat/internal/history"
	"github.com/mohammad-safakhou/ragchat/internal/queue/streams"
	"github.com/mohammad-safakhou/ragchat/internal/reindex"
	"github.com/mohammad-safakhou/ragchat/internal/segment"
	"github.com/mohammad-safakhou/ragchat/internal/store"
	"github.com/mohammad-safakhou/ragchat/internal/telemetry"
	"github.com/mohammad-safakhou/ragchat/internal/vectorindex"
	"github.com/mohammad-safakhou/ragchat/provider"
	"github.com/mohammad-safakhou/ragchat/provider/openai"
)

// app holds the process-wide dependencies shared by the serve and worker commands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	tracing  *telemetry.Tracing
	store    *store.Store
	redis    *redis.Client
	registry *streams.SchemaRegistry
	index    *vectorindex.Index
	history  *history.Store
	pipeline *reindex.Pipeline
	chat     *chat.Orchestrator
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := telemetry.NewLogger(cfg.General.LogLevel, cfg.General.Debug)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	a := &app{cfg: cfg, logger: logger}

	if a.tracing, err = telemetry.SetupTracing(ctx, cfg.Telemetry); err != nil {
		return nil, err
	}

	if a.store, err = store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN()); err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("postgres: %w", err)
	}

	a.redis = redis.NewClient(&redis.Options{
		Addr:        cfg.Storage.Redis.Addr(),
		Password:    cfg.Storage.Redis.Password,
		DB:          cfg.Storage.Redis.DB,
		DialTimeout: cfg.Storage.Redis.Timeout,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Storage.Redis.Addr(), err)
	}

	a.registry = streams.NewSchemaRegistry()
	if err := streams.RegisterBaseSchemas(a.registry); err != nil {
		a.close(ctx)
		return nil, err
	}

	llm, err := newLLM(cfg.LLM)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("llm: %w", err)
	}

	var vs vectorindex.VectorStore = a.store
	if cfg.Retrieval.Backend == "memory" {
		logger.Warn("using in-memory vector store; segments are lost on restart")
		vs = vectorindex.NewMemoryStore()
	}
	a.index = vectorindex.New(llm, vs, vectorindex.Options{
		TopK:           cfg.Retrieval.TopK,
		ScopedTopK:     cfg.Retrieval.ScopedTopK,
		MinScore:       cfg.Retrieval.MinScore,
		EmbedBatchSize: cfg.Retrieval.EmbedBatchSize,
	}, logger)

	a.history = history.New(a.store, cache.NewRedisList(a.redis), history.Options{
		CacheTTL:       cfg.Chat.CacheTTL,
		RefreshWorkers: cfg.History.RefreshWorkers,
		RefreshTimeout: cfg.History.RefreshTimeout,
	}, logger)

	a.chat = chat.New(a.history, a.index, llm, chat.Options{
		MaxRound:      cfg.Chat.MaxRound,
		HistoryRound:  cfg.Chat.HistoryRound,
		SystemPrompt:  cfg.Chat.SystemPrompt,
		OpeningRemark: cfg.Chat.OpeningRemark,
	}, logger)

	mode, err := segment.ParseLineMode(cfg.Segmenter.LineMode)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	seg, err := segment.New(cfg.Segmenter.Strategy, segment.Options{
		WindowSize: cfg.Segmenter.WindowSize,
		StepSize:   cfg.Segmenter.StepSize,
		LineMode:   mode,
	})
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	var (
		summarizer reindex.ChatModel
		articles   reindex.ArticleService
	)
	if cfg.Summary.Enabled {
		summarizer = llm
		articles = reindex.NewHTTPArticleService(cfg.Summary.ArticleServiceURL, cfg.Summary.Timeout)
	}
	a.pipeline = reindex.NewPipeline(a.index, seg, summarizer, articles, reindex.Options{
		RatePerSecond: cfg.Reindex.RatePerSecond,
		Burst:         cfg.Reindex.Burst,
		SummaryPrompt: cfg.Summary.SystemPrompt,
	}, logger)
	return a, nil
}

func newLLM(cfg config.LLMConfig) (provider.Provider, error) {
	client, err := provider.ParseClient(cfg.Provider)
	if err != nil {
		return nil, err
	}
	switch client {
	case provider.OpenAI:
		c, err := openai.NewClient(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("provider %q has no client", client)
	}
}

func (a *app) runner() *reindex.Runner {
	return reindex.NewRunner(a.pipeline, a.redis, a.registry, a.cfg.Reindex, a.logger.Named("reindex"))
}

// close releases everything newApp opened, in reverse order.
func (a *app) close(ctx context.Context) {
	if a.history != nil {
		if err := a.history.Close(ctx); err != nil {
			a.logger.Warn("history close", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if err := a.tracing.Shutdown(ctx); err != nil {
		a.logger.Warn("tracing shutdown", zap.Error(err))
	}
	_ = a.logger.Sync()
}
