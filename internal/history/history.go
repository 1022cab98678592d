// Package history manages conversation turns: the durable log in Postgres and
// a disposable, eventually consistent snapshot of the recent window in Redis.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/mohammad-safakhou/ragchat/internal/cache"
	"github.com/mohammad-safakhou/ragchat/internal/store"
	"github.com/mohammad-safakhou/ragchat/internal/telemetry"
)

// ErrPersistence marks failures of the durable turn log.
var ErrPersistence = errors.New("persistence failed")

// TurnStore is the durable turn log.
type TurnStore interface {
	CountTurns(ctx context.Context, accountID int64, conversationKey string) (int64, error)
	RecentTurns(ctx context.Context, accountID int64, conversationKey string, limit int) ([]store.Turn, error)
	PageTurns(ctx context.Context, accountID int64, conversationKey string, offset, limit int) ([]store.Turn, int64, error)
	AppendTurns(ctx context.Context, turns ...store.Turn) ([]store.Turn, error)
}

// Cache holds serialized turns per conversation, newest first.
type Cache interface {
	Range(ctx context.Context, key string, limit int) ([]string, error)
	Replace(ctx context.Context, key string, items []string, ttl time.Duration) error
}

type Options struct {
	CacheTTL       time.Duration
	RefreshWorkers int64
	RefreshTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{CacheTTL: 12 * time.Hour, RefreshWorkers: 16, RefreshTimeout: 5 * time.Second}
}

// Store is the cache-aside history layer.
type Store struct {
	turns  TurnStore
	cache  Cache
	opts   Options
	logger *zap.Logger

	sem    *semaphore.Weighted
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

func New(turns TurnStore, cache Cache, opts Options, logger *zap.Logger) *Store {
	def := DefaultOptions()
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = def.CacheTTL
	}
	if opts.RefreshWorkers <= 0 {
		opts.RefreshWorkers = def.RefreshWorkers
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = def.RefreshTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		turns:  turns,
		cache:  cache,
		opts:   opts,
		logger: logger.Named("history"),
		sem:    semaphore.NewWeighted(opts.RefreshWorkers),
	}
}

// CacheKey is the Redis key of a conversation snapshot.
func CacheKey(accountID int64, conversationKey string) string {
	return fmt.Sprintf("chat:conversation:key:%d_%s", accountID, conversationKey)
}

// Round counts persisted turns. It always reads the durable log.
func (s *Store) Round(ctx context.Context, accountID int64, conversationKey string) (int64, error) {
	n, err := s.turns.CountTurns(ctx, accountID, conversationKey)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return n, nil
}

// History returns up to limit recent turns, newest first. The cache is tried
// first; any miss, error or undecodable entry falls back to the durable log.
func (s *Store) History(ctx context.Context, accountID int64, conversationKey string, limit int) ([]store.Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	key := CacheKey(accountID, conversationKey)
	if s.cache != nil {
		items, err := s.cache.Range(ctx, key, limit)
		if err == nil {
			if turns, ok := decodeTurns(items); ok {
				telemetry.HistoryReads.WithLabelValues("cache").Inc()
				return turns, nil
			}
			s.logger.Warn("discarding undecodable cache snapshot", zap.String("key", key))
		} else if !isMiss(err) {
			telemetry.HistoryReads.WithLabelValues("cache_error").Inc()
			s.logger.Warn("history cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	turns, err := s.turns.RecentTurns(ctx, accountID, conversationKey, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	telemetry.HistoryReads.WithLabelValues("store").Inc()
	return turns, nil
}

// Page returns a page of turns (1-based) newest first with the total count.
func (s *Store) Page(ctx context.Context, accountID int64, conversationKey string, current, size int) ([]store.Turn, int64, error) {
	turns, total, err := s.turns.PageTurns(ctx, accountID, conversationKey, (current-1)*size, size)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return turns, total, nil
}

// Append persists the user turn and the ai turn together.
func (s *Store) Append(ctx context.Context, userTurn, aiTurn store.Turn) ([]store.Turn, error) {
	userTurn.Role, aiTurn.Role = store.RoleUser, store.RoleAI
	out, err := s.turns.AppendTurns(ctx, userTurn, aiTurn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return out, nil
}

// RefreshCacheAsync replaces the conversation snapshot with window (newest
// first) in the background. It never blocks: when every refresh worker is busy
// or the store is closed the refresh is dropped and false is returned.
func (s *Store) RefreshCacheAsync(accountID int64, conversationKey string, window []store.Turn) bool {
	if s.cache == nil {
		return false
	}
	key := CacheKey(accountID, conversationKey)

	s.mu.Lock()
	if s.closed || !s.sem.TryAcquire(1) {
		s.mu.Unlock()
		telemetry.CacheRefreshes.WithLabelValues("dropped").Inc()
		s.logger.Warn("cache refresh dropped", zap.String("key", key))
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	items, err := encodeTurns(window)
	if err != nil {
		s.sem.Release(1)
		s.wg.Done()
		telemetry.CacheRefreshes.WithLabelValues("error").Inc()
		s.logger.Error("encode cache snapshot", zap.String("key", key), zap.Error(err))
		return false
	}

	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.RefreshTimeout)
		defer cancel()
		if err := s.cache.Replace(ctx, key, items, s.opts.CacheTTL); err != nil {
			telemetry.CacheRefreshes.WithLabelValues("error").Inc()
			s.logger.Warn("cache refresh failed", zap.String("key", key), zap.Error(err))
			return
		}
		telemetry.CacheRefreshes.WithLabelValues("ok").Inc()
	}()
	return true
}

// Close stops accepting refreshes and waits for in-flight ones or ctx.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isMiss(err error) bool {
	return errors.Is(err, cache.ErrMiss)
}

func encodeTurns(turns []store.Turn) ([]string, error) {
	out := make([]string, len(turns))
	for i, t := range turns {
		b, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		out[i] = string(b)
	}
	return out, nil
}

func decodeTurns(items []string) ([]store.Turn, bool) {
	out := make([]store.Turn, 0, len(items))
	for _, it := range items {
		var t store.Turn
		if err := json.Unmarshal([]byte(it), &t); err != nil {
			return nil, false
		}
		if t.Role != store.RoleUser && t.Role != store.RoleAI {
			return nil, false
		}
		out = append(out, t)
	}
	return out, true
}
