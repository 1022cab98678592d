// Package telemetry holds the logger, Prometheus collectors and trace setup.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChatExchanges counts chat exchanges by terminal outcome:
	// completed, rejected, invalid, failed, cancelled.
	ChatExchanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ragchat",
		Name:      "chat_exchanges_total",
		Help:      "Chat exchanges by terminal outcome.",
	}, []string{"outcome"})

	StreamedTokens = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ragchat",
		Name:      "chat_streamed_tokens_total",
		Help:      "Tokens forwarded to chat callers.",
	})

	// HistoryReads counts history lookups by source: cache, store, cache_error.
	HistoryReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ragchat",
		Name:      "history_reads_total",
		Help:      "Conversation history reads by serving source.",
	}, []string{"source"})

	// CacheRefreshes counts background cache refreshes: ok, error, dropped.
	CacheRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ragchat",
		Name:      "history_cache_refreshes_total",
		Help:      "Background conversation cache refreshes by result.",
	}, []string{"result"})

	RetrievalMatches = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ragchat",
		Name:      "retrieval_matches",
		Help:      "Segments returned per retrieval.",
		Buckets:   []float64{0, 1, 2, 3, 5, 10},
	}, []string{"scope"})

	// ReindexEvents counts article events by type and result: ok, error, dropped.
	ReindexEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ragchat",
		Name:      "reindex_events_total",
		Help:      "Article lifecycle events handled by the reindex pipeline.",
	}, []string{"event", "result"})

	IndexedSegments = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ragchat",
		Name:      "indexed_segments_total",
		Help:      "Segments written to the vector index.",
	})
)
